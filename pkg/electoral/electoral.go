// Package electoral derives contest statistics from vote-count results, where
// each category of an AggregateResult is a party and its amount the votes
// polled in the constituency.
package electoral

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/politicai/apportion/pkg/models"
)

// Competitiveness buckets a seat by its winning margin
type Competitiveness string

const (
	Safe     Competitiveness = "SAFE"
	Marginal Competitiveness = "MARGINAL"
	Swing    Competitiveness = "SWING"
)

// Margin thresholds in percent of valid votes
const (
	SafeMargin     = 10.0
	MarginalMargin = 5.0
)

// DefaultNOTA lists the categories that never win and never count as valid votes
var DefaultNOTA = []string{"NOTA"}

// Classify buckets a margin percentage
func Classify(marginPct float64) Competitiveness {
	switch {
	case marginPct >= SafeMargin:
		return Safe
	case marginPct >= MarginalMargin:
		return Marginal
	default:
		return Swing
	}
}

// Options configures the statistics. A nil NOTA list selects DefaultNOTA.
type Options struct {
	NOTA []string
}

func (o Options) isNOTA(category string) bool {
	nota := o.NOTA
	if nota == nil {
		nota = DefaultNOTA
	}
	for _, n := range nota {
		if strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(n)) {
			return true
		}
	}
	return false
}

// Margin is the contest outcome of one constituency and year. Competitiveness
// is empty when no valid votes were cast.
type Margin struct {
	Constituency    string          `json:"constituency_name"`
	Year            int             `json:"year"`
	Winner          string          `json:"winner"`
	WinnerVotes     float64         `json:"winner_votes"`
	RunnerUp        string          `json:"runner_up"`
	RunnerUpVotes   float64         `json:"runner_up_votes"`
	MarginVotes     float64         `json:"margin_votes"`
	TotalValid      float64         `json:"total_valid"`
	MarginPct       float64         `json:"margin_pct"`
	Competitiveness Competitiveness `json:"competitiveness,omitempty"`
}

// PartyVote is one party's valid-vote share in a constituency. NOTA rows keep
// their votes with a zero share.
type PartyVote struct {
	Constituency string  `json:"constituency_name"`
	Year         int     `json:"year"`
	Party        string  `json:"party"`
	Votes        float64 `json:"votes"`
	Share        float64 `json:"share"`
}

// PartySeats counts the seats a party won in one year
type PartySeats struct {
	Year      int     `json:"year"`
	Party     string  `json:"party"`
	Seats     int     `json:"seats"`
	SeatShare float64 `json:"seat_share"`
}

type contest struct {
	constituency string
	year         int
}

type tally struct {
	party string
	votes float64
}

// tallies sums votes per party within each contest, skipping negative counts,
// and returns the contests in (year, constituency) order
func tallies(results []models.AggregateResult) ([]contest, map[contest][]tally) {
	byContest := make(map[contest]map[string]float64)
	for _, r := range results {
		if r.Amount < 0 || math.IsNaN(r.Amount) {
			continue
		}
		c := contest{constituency: r.Constituency, year: r.Year}
		if byContest[c] == nil {
			byContest[c] = make(map[string]float64)
		}
		byContest[c][r.Category] += r.Amount
	}

	order := make([]contest, 0, len(byContest))
	out := make(map[contest][]tally, len(byContest))
	for c, parties := range byContest {
		order = append(order, c)
		ts := make([]tally, 0, len(parties))
		for p, v := range parties {
			ts = append(ts, tally{party: p, votes: v})
		}
		// most votes first, ties by party name
		sort.Slice(ts, func(i, j int) bool {
			if ts[i].votes != ts[j].votes {
				return ts[i].votes > ts[j].votes
			}
			return ts[i].party < ts[j].party
		})
		out[c] = ts
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].year != order[j].year {
			return order[i].year < order[j].year
		}
		return order[i].constituency < order[j].constituency
	})
	return order, out
}

func (o Options) valid(ts []tally) ([]tally, float64) {
	kept := make([]tally, 0, len(ts))
	votes := make([]float64, 0, len(ts))
	for _, t := range ts {
		if o.isNOTA(t.party) {
			continue
		}
		kept = append(kept, t)
		votes = append(votes, t.votes)
	}
	return kept, floats.Sum(votes)
}

// Margins computes the winner, runner-up and margin of every contest with at
// least two parties besides NOTA. Other contests are skipped.
func Margins(results []models.AggregateResult, opts Options) []Margin {
	order, byContest := tallies(results)
	margins := make([]Margin, 0, len(order))
	for _, c := range order {
		parties, total := opts.valid(byContest[c])
		if len(parties) < 2 {
			continue
		}
		winner, runnerUp := parties[0], parties[1]
		m := Margin{
			Constituency:  c.constituency,
			Year:          c.year,
			Winner:        winner.party,
			WinnerVotes:   winner.votes,
			RunnerUp:      runnerUp.party,
			RunnerUpVotes: runnerUp.votes,
			MarginVotes:   winner.votes - runnerUp.votes,
			TotalValid:    total,
		}
		if total > 0 {
			m.MarginPct = m.MarginVotes / total * 100
			m.Competitiveness = Classify(m.MarginPct)
		}
		margins = append(margins, m)
	}
	return margins
}

// VoteShares computes each party's share of the valid votes of its contest,
// rounded to two decimals. Contests with no valid votes are skipped.
func VoteShares(results []models.AggregateResult, opts Options) []PartyVote {
	order, byContest := tallies(results)
	var shares []PartyVote
	for _, c := range order {
		ts := byContest[c]
		_, total := opts.valid(ts)
		if total <= 0 {
			continue
		}
		for _, t := range ts {
			pv := PartyVote{Constituency: c.constituency, Year: c.year, Party: t.party, Votes: t.votes}
			if !opts.isNOTA(t.party) {
				pv.Share = round2(t.votes / total * 100)
			}
			shares = append(shares, pv)
		}
	}
	return shares
}

// SeatSummary counts seats won per party and year. Seat shares are percent
// of the contests decided that year, rounded to two decimals.
func SeatSummary(margins []Margin) []PartySeats {
	type key struct {
		year  int
		party string
	}
	seats := make(map[key]int)
	contests := make(map[int]int)
	for _, m := range margins {
		seats[key{m.Year, m.Winner}]++
		contests[m.Year]++
	}

	summary := make([]PartySeats, 0, len(seats))
	for k, n := range seats {
		summary = append(summary, PartySeats{
			Year:      k.year,
			Party:     k.party,
			Seats:     n,
			SeatShare: round2(float64(n) / float64(contests[k.year]) * 100),
		})
	}
	sort.Slice(summary, func(i, j int) bool {
		a, b := summary[i], summary[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Seats != b.Seats {
			return a.Seats > b.Seats
		}
		return a.Party < b.Party
	})
	return summary
}

// CountByCompetitiveness tallies margins per bucket; unclassified margins are
// not counted
func CountByCompetitiveness(margins []Margin) map[Competitiveness]int {
	counts := make(map[Competitiveness]int, 3)
	for _, m := range margins {
		if m.Competitiveness != "" {
			counts[m.Competitiveness]++
		}
	}
	return counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
