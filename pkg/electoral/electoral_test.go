package electoral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/politicai/apportion/pkg/models"
)

func votes(constituency string, year int, pairs ...interface{}) []models.AggregateResult {
	rows := make([]models.AggregateResult, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		rows = append(rows, models.AggregateResult{
			Constituency: constituency,
			Year:         year,
			Category:     pairs[i].(string),
			Amount:       pairs[i+1].(float64),
		})
	}
	return rows
}

func sampleVotes() []models.AggregateResult {
	var rows []models.AggregateResult
	rows = append(rows, votes("Raibag", 2018, "BJP", 67502.0, "INC", 50000.0, "NOTA", 90000.0, "JD(S)", 2498.0)...)
	rows = append(rows, votes("Athni", 2018, "INC", 48000.0, "BJP", 52000.0)...)
	rows = append(rows, votes("Kagwad", 2018, "BJP", 100.0, "NOTA", 5.0)...)
	rows = append(rows, votes("Gokak", 2013, "INC", 40000.0, "BJP", 36000.0, "KJP", 4000.0)...)
	rows = append(rows, votes("Nippani", 2018, "BJP", 0.0, "INC", 0.0)...)
	return rows
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Safe, Classify(10))
	assert.Equal(t, Safe, Classify(42.5))
	assert.Equal(t, Marginal, Classify(9.99))
	assert.Equal(t, Marginal, Classify(5))
	assert.Equal(t, Swing, Classify(4.99))
	assert.Equal(t, Swing, Classify(0))
}

func TestMargins(t *testing.T) {
	margins := Margins(sampleVotes(), Options{})
	require.Len(t, margins, 4, "Kagwad has a single party besides NOTA")

	gokak := margins[0]
	assert.Equal(t, 2013, gokak.Year)
	assert.Equal(t, "Gokak", gokak.Constituency)
	assert.Equal(t, "INC", gokak.Winner)
	assert.Equal(t, "BJP", gokak.RunnerUp)
	assert.Equal(t, 4000.0, gokak.MarginVotes)
	assert.Equal(t, 80000.0, gokak.TotalValid)
	assert.InDelta(t, 5, gokak.MarginPct, 1e-9)
	assert.Equal(t, Marginal, gokak.Competitiveness)

	athni := margins[1]
	assert.Equal(t, "Athni", athni.Constituency)
	assert.Equal(t, "BJP", athni.Winner)
	assert.InDelta(t, 4, athni.MarginPct, 1e-9)
	assert.Equal(t, Swing, athni.Competitiveness)

	nippani := margins[2]
	assert.Equal(t, "Nippani", nippani.Constituency)
	assert.Equal(t, "BJP", nippani.Winner, "ties break by party name")
	assert.Zero(t, nippani.MarginPct)
	assert.Empty(t, nippani.Competitiveness, "no valid votes cast")

	raibag := margins[3]
	assert.Equal(t, "BJP", raibag.Winner, "NOTA never wins")
	assert.Equal(t, "INC", raibag.RunnerUp)
	assert.Equal(t, 17502.0, raibag.MarginVotes)
	assert.Equal(t, 120000.0, raibag.TotalValid)
	assert.InDelta(t, 14.585, raibag.MarginPct, 1e-9)
	assert.Equal(t, Safe, raibag.Competitiveness)
}

func TestMarginsCustomNOTA(t *testing.T) {
	rows := votes("Raibag", 2018, "BJP", 10.0, "None of the Above", 50.0, "INC", 5.0)
	margins := Margins(rows, Options{NOTA: []string{"none of the above"}})
	require.Len(t, margins, 1)
	assert.Equal(t, "BJP", margins[0].Winner)
	assert.Equal(t, 15.0, margins[0].TotalValid)
}

func TestMarginsSkipsNegativeVotes(t *testing.T) {
	rows := votes("Raibag", 2018, "BJP", 10.0, "INC", -5.0, "JD(S)", 4.0)
	margins := Margins(rows, Options{})
	require.Len(t, margins, 1)
	assert.Equal(t, "JD(S)", margins[0].RunnerUp)
	assert.Equal(t, 14.0, margins[0].TotalValid)
}

func TestVoteShares(t *testing.T) {
	shares := VoteShares(votes("Raibag", 2018, "BJP", 2.0, "INC", 1.0, "NOTA", 7.0), Options{})
	require.Len(t, shares, 3)
	assert.Equal(t, PartyVote{Constituency: "Raibag", Year: 2018, Party: "NOTA", Votes: 7, Share: 0}, shares[0])
	assert.Equal(t, 66.67, shares[1].Share)
	assert.Equal(t, "INC", shares[2].Party)
	assert.Equal(t, 33.33, shares[2].Share)

	assert.Empty(t, VoteShares(votes("Nippani", 2018, "BJP", 0.0, "NOTA", 3.0), Options{}), "no valid votes")
}

func TestSeatSummary(t *testing.T) {
	margins := Margins(sampleVotes(), Options{})
	summary := SeatSummary(margins)
	assert.Equal(t, []PartySeats{
		{Year: 2013, Party: "INC", Seats: 1, SeatShare: 100},
		{Year: 2018, Party: "BJP", Seats: 3, SeatShare: 100},
	}, summary)

	counts := CountByCompetitiveness(margins)
	assert.Equal(t, map[Competitiveness]int{Safe: 1, Marginal: 1, Swing: 1}, counts)
}
