package constants

import (
	"fmt"
	"strings"
)

// StagingStatus is the canonical status for rows in staged_documents.
type StagingStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    StagingStatus = "pending"     // waiting for a processing pass
	StatusInProgress StagingStatus = "in_progress" // claimed by a processor
	StatusCompleted  StagingStatus = "completed"   // terminal success
	StatusFailed     StagingStatus = "failed"      // terminal failure, attempts exhausted
)

var allStatuses = []StagingStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

// StatusValues returns the stored status strings, used for enum columns.
func StatusValues() []string {
	out := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		out[i] = string(s)
	}
	return out
}

// ParseStatus accepts any casing and surrounding whitespace and returns the stored form.
func ParseStatus(s string) (StagingStatus, error) {
	normalized := StagingStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == normalized {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown staging status %q", s)
}

// Terminal reports whether no natural transition leaves this status.
func (s StagingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s StagingStatus) String() string { return string(s) }
