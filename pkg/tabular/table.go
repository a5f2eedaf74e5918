// Package tabular materializes spreadsheet-like inputs as in-memory tables.
package tabular

import (
	"fmt"
	"strings"

	"github.com/politicai/apportion/pkg/models"
)

// Table is a loaded input with positional rows. Rows may be shorter than
// Columns; missing trailing cells read as "".
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Selector picks a column by exact header, by header tokens, or by position.
// Exactly one form should be set; Index wins, then Name, then Tokens.
type Selector struct {
	Name   string   `yaml:"name,omitempty"`
	Tokens []string `yaml:"tokens,omitempty"`
	Index  *int     `yaml:"index,omitempty"`
}

// ByName selects the column whose trimmed header equals name
func ByName(name string) Selector { return Selector{Name: name} }

// ByTokens selects the first column whose header contains every token, ignoring case
func ByTokens(tokens ...string) Selector { return Selector{Tokens: tokens} }

// ByIndex selects a zero-based column position
func ByIndex(i int) Selector { return Selector{Index: &i} }

// IsZero reports whether no form is set
func (s Selector) IsZero() bool {
	return s.Index == nil && s.Name == "" && len(s.Tokens) == 0
}

func (s Selector) String() string {
	switch {
	case s.Index != nil:
		return fmt.Sprintf("#%d", *s.Index)
	case s.Name != "":
		return fmt.Sprintf("%q", s.Name)
	case len(s.Tokens) > 0:
		return fmt.Sprintf("tokens%q", s.Tokens)
	default:
		return "<unset>"
	}
}

// Resolve returns the column position for sel or a *models.SchemaError
func (t *Table) Resolve(sel Selector) (int, error) {
	switch {
	case sel.Index != nil:
		i := *sel.Index
		if i < 0 || i >= t.width() {
			return -1, &models.SchemaError{Table: t.Name, Column: sel.String(), Reason: fmt.Sprintf("index out of range (table has %d columns)", t.width())}
		}
		return i, nil
	case sel.Name != "":
		want := strings.TrimSpace(sel.Name)
		for i, col := range t.Columns {
			if strings.TrimSpace(col) == want {
				return i, nil
			}
		}
	case len(sel.Tokens) > 0:
		for i, col := range t.Columns {
			if containsAll(strings.ToLower(col), sel.Tokens) {
				return i, nil
			}
		}
	default:
		return -1, &models.SchemaError{Table: t.Name, Reason: "empty column selector"}
	}
	return -1, &models.SchemaError{Table: t.Name, Column: sel.String(), Reason: "column not found"}
}

// ResolveAll resolves a named set of selectors, failing on the first missing one
func (t *Table) ResolveAll(sels map[string]Selector) (map[string]int, error) {
	out := make(map[string]int, len(sels))
	for name, sel := range sels {
		i, err := t.Resolve(sel)
		if err != nil {
			return nil, err
		}
		out[name] = i
	}
	return out, nil
}

// Cell returns the trimmed value at row r, column c
func (t *Table) Cell(r, c int) string {
	if r < 0 || r >= len(t.Rows) || c < 0 {
		return ""
	}
	row := t.Rows[r]
	if c >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[c])
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// width is the widest of the header and any row, so headerless sheets still
// resolve positional selectors.
func (t *Table) width() int {
	w := len(t.Columns)
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

func containsAll(header string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(header, strings.ToLower(tok)) {
			return false
		}
	}
	return true
}
