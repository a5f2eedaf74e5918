package models

import (
	"fmt"
	"strings"
)

// SchemaError reports a missing input table or column. It aborts a run before
// anything is written.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema error in table %q: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("schema error in table %q, column %s: %s", e.Table, e.Column, e.Reason)
}

// IntegrityError reports a key that should be unique resolving to more than one
// record. It aborts a run.
type IntegrityError struct {
	Table     string
	Key       string
	Reason    string
	Conflicts []string
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity error in table %q, key %q: %s", e.Table, e.Key, e.Reason)
	if len(e.Conflicts) > 0 {
		msg += " (" + strings.Join(e.Conflicts, ", ") + ")"
	}
	return msg
}
