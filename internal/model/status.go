package model

import (
	"database/sql/driver"
	"fmt"
)

// ProcessingStatus is the derivation state of a File.
//
//	pending ──► processing ──► completed
//	                      └──► failed ──► completed (manual re-derivation only)
//
// The zero value is not a valid status; values only come from the constants
// below or from ParseProcessingStatus.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// transitions lists the allowed target states per source state.
var transitions = map[ProcessingStatus]map[ProcessingStatus]bool{
	StatusPending:    {StatusProcessing: true, StatusCompleted: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {},
	StatusFailed:     {StatusCompleted: true},
}

func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	st := ProcessingStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown processing status %q", s)
	}
	return st, nil
}

func (s ProcessingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no automatic transition leaves s.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	default:
		panic(fmt.Sprintf("model: invalid processing status %q", string(s)))
	}
}

// CanTransition reports whether s may move to next.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	return transitions[s][next]
}

// SourcesFor returns every status allowed to move to next.
func SourcesFor(next ProcessingStatus) []ProcessingStatus {
	var from []ProcessingStatus
	for _, src := range []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if src.CanTransition(next) {
			from = append(from, src)
		}
	}
	return from
}

func (s ProcessingStatus) String() string {
	return string(s)
}

// Scan implements sql.Scanner and rejects values outside the closed set.
func (s *ProcessingStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ProcessingStatus", src)
	}
	st, err := ParseProcessingStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s ProcessingStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid processing status %q", string(s))
	}
	return string(s), nil
}
