package models

import "time"

// ClientFailure records why a client could not be snapshotted
type ClientFailure struct {
	ClientID string `json:"clientId"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// RunReport is the outcome of one snapshot capture run
type RunReport struct {
	Date       time.Time       `json:"date"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Succeeded  []string        `json:"succeeded"`
	Skipped    []string        `json:"skipped"`
	Partial    []string        `json:"partial"`
	Failed     []ClientFailure `json:"failed"`
}

// NewRunReport creates an empty report for the given snapshot date
func NewRunReport(date time.Time, startedAt time.Time) *RunReport {
	return &RunReport{
		Date:      date,
		StartedAt: startedAt,
		Succeeded: []string{},
		Skipped:   []string{},
		Partial:   []string{},
		Failed:    []ClientFailure{},
	}
}

// Total returns the number of clients accounted for in the report
func (r *RunReport) Total() int {
	return len(r.Succeeded) + len(r.Skipped) + len(r.Failed)
}

// RetentionReport is the outcome of one retention sweep
type RetentionReport struct {
	RetentionDays int       `json:"retentionDays"`
	Cutoff        time.Time `json:"cutoff,omitempty"`
	Deleted       int64     `json:"deleted"`
	Skipped       bool      `json:"skipped"`
}
