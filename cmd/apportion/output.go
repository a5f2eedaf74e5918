package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/politicai/apportion/pkg/apportion"
	"github.com/politicai/apportion/pkg/electoral"
	"github.com/politicai/apportion/pkg/geounit"
	"github.com/politicai/apportion/pkg/models"
	"github.com/politicai/apportion/pkg/sink"
)

func printSummary(w io.Writer, report *apportion.Report, dryRun bool) {
	s := report.Summary
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][2]string{
		{"Run", report.RunID},
		{"Status", string(report.Status())},
		{"Mapping rows", strconv.Itoa(s.MappingRows)},
		{"Reference units", strconv.Itoa(s.ReferenceUnits)},
		{"Matched (exact/override/fuzzy)", fmt.Sprintf("%d (%d/%d/%d)", s.MatchedUnits, s.ExactMatches, s.OverrideMatches, s.FuzzyMatches)},
		{"Unmatched", strconv.Itoa(s.UnmatchedUnits)},
		{"Parse failures", strconv.Itoa(s.ParseFailures)},
		{"Invalid shares", strconv.Itoa(s.InvalidShares)},
		{"Share overflows", strconv.Itoa(s.ShareOverflows)},
		{"Zero totals", strconv.Itoa(s.ZeroTotals)},
		{"Constituencies", strconv.Itoa(s.Constituencies)},
		{"Result rows", strconv.Itoa(len(report.Results))},
	}
	if !dryRun {
		rows = append(rows,
			[2]string{"Rows written", strconv.Itoa(s.RowsWritten)},
			[2]string{"Failed batches", strconv.Itoa(s.FailedBatches)},
			[2]string{"Failed rows", strconv.Itoa(s.FailedRows)},
			[2]string{"Rows without geo unit", strconv.Itoa(s.UnlinkedRows)},
		)
	}
	for _, r := range rows {
		table.Append([]string{r[0], r[1]})
	}
	table.Render()
}

// printSinkFailures lists every key of every rolled-back batch
func printSinkFailures(w io.Writer, failures []*sink.SinkWriteError) {
	if len(failures) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Batch", "Constituency", "Year", "Category", "Error"})
	table.SetAutoWrapText(false)
	for _, f := range failures {
		for _, k := range f.Keys {
			table.Append([]string{strconv.Itoa(f.Batch), k.Constituency, strconv.Itoa(k.Year), k.Category, f.Err.Error()})
		}
	}
	table.Render()
}

func printUnlinked(w io.Writer, keys []models.ResultKey) {
	if len(keys) == 0 {
		return
	}
	names, groups := sink.UnlinkedByConstituency(keys)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Constituency without geo unit", "Skipped rows"})
	for _, name := range names {
		table.Append([]string{name, strconv.Itoa(len(groups[name]))})
	}
	table.Render()
}

func printMargins(w io.Writer, report *apportion.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Year", "Constituency", "Winner", "Runner-up", "Margin", "Margin %", "Seat"})
	for _, m := range report.Margins {
		table.Append([]string{
			strconv.Itoa(m.Year),
			m.Constituency,
			m.Winner,
			m.RunnerUp,
			strconv.FormatFloat(m.MarginVotes, 'f', 0, 64),
			strconv.FormatFloat(m.MarginPct, 'f', 2, 64),
			string(m.Competitiveness),
		})
	}
	table.Render()

	counts := electoral.CountByCompetitiveness(report.Margins)
	seats := tablewriter.NewWriter(w)
	seats.SetHeader([]string{"Year", "Party", "Seats", "Seat share %"})
	for _, s := range report.Seats {
		seats.Append([]string{strconv.Itoa(s.Year), s.Party, strconv.Itoa(s.Seats), strconv.FormatFloat(s.SeatShare, 'f', 2, 64)})
	}
	seats.SetFooter([]string{"", "", "",
		fmt.Sprintf("safe %d / marginal %d / swing %d", counts[electoral.Safe], counts[electoral.Marginal], counts[electoral.Swing])})
	seats.Render()
}

func printUnmatched(w io.Writer, names []string) {
	if len(names) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Unmatched sub-district"})
	for _, n := range names {
		table.Append([]string{n})
	}
	table.Render()
}

func printHierarchy(w io.Writer, h *geounit.Hierarchy) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Level", "Code", "Name", "Parent"})
	for _, u := range h.Units() {
		table.Append([]string{string(u.Level), u.Code, u.Name, u.ParentCode()})
	}
	table.Render()
	if len(h.Years) > 0 {
		fmt.Fprintf(w, "Elections: %v\n", h.Years)
	}
}

func printRuns(w io.Writer, runs []*models.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Status", "Started", "Rows", "Unmatched", "Error"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Name,
			string(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.Summary.RowsWritten),
			strconv.Itoa(r.Summary.UnmatchedUnits),
			r.Error,
		})
	}
	table.Render()
}
