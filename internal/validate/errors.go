package validate

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/expense-intake/internal/common"
)

// Issue is a single field failure. Index is the array position for array elements and
// -1 otherwise; Property names the nested property inside an object element.
type Issue struct {
	Field    string
	Index    int
	Property string
	Message  string
}

// Path renders the issue location, e.g. "items[1].rate".
func (i Issue) Path() string {
	var b strings.Builder
	b.WriteString(i.Field)
	if i.Index >= 0 {
		fmt.Fprintf(&b, "[%d]", i.Index)
	}
	if i.Property != "" {
		b.WriteString(".")
		b.WriteString(i.Property)
	}
	return b.String()
}

// Error aggregates every issue found in one record. Issues are in schema order.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	first := e.Issues[0]
	msg := fmt.Sprintf("validation failed: %s %s", first.Path(), first.Message)
	if n := len(e.Issues) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

func (e *Error) Unwrap() error { return common.ErrValidation }

// Field is the first offending top-level field.
func (e *Error) Field() string {
	if len(e.Issues) == 0 {
		return ""
	}
	return e.Issues[0].Field
}

// Index is the item index of the first issue, or -1.
func (e *Error) Index() int {
	if len(e.Issues) == 0 {
		return -1
	}
	return e.Issues[0].Index
}
