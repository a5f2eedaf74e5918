package models

import "fmt"

// AggregateResult is one output row: a constituency, year and category with the
// summed allocated amount and its share of the constituency total for the year.
type AggregateResult struct {
	Constituency string  `json:"constituency_name" bson:"constituency_name"`
	Year         int     `json:"year" bson:"year"`
	Source       string  `json:"source" bson:"source"`
	Category     string  `json:"category" bson:"category"`
	Amount       float64 `json:"amount" bson:"amount"`
	Percent      float64 `json:"percent" bson:"percent"`
}

// ResultKey is the composite upsert key of an AggregateResult
type ResultKey struct {
	Constituency string
	Year         int
	Category     string
}

// Key returns the composite key of the row
func (r AggregateResult) Key() ResultKey {
	return ResultKey{Constituency: r.Constituency, Year: r.Year, Category: r.Category}
}

func (k ResultKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Constituency, k.Year, k.Category)
}

// ResultColumns is the column order of the tabular output artifact
var ResultColumns = []string{"constituency_name", "year", "source", "category", "amount", "percent"}
