package pipeline

import (
	"fmt"
	"time"
)

// Status is the result of one stage execution.
type Status string

const (
	// StatusSuccess marks a stage that completed.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed marks a stage that returned an error.
	StatusFailed Status = "FAILED"
	// StatusSkipped marks a stage that did not run (disabled, not selected, condition false).
	StatusSkipped Status = "SKIPPED"
)

// Policy is the per-stage reaction to a failure.
type Policy string

const (
	// PolicyFail aborts the run.
	PolicyFail Policy = "fail"
	// PolicyContinue records the failure and proceeds.
	PolicyContinue Policy = "continue"
	// PolicyRetry re-runs the stage before falling back to fail or continue.
	PolicyRetry Policy = "retry"
)

// ParsePolicy parses a configured policy name; empty means fail.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyFail, nil
	case PolicyFail, PolicyContinue, PolicyRetry:
		return p, nil
	default:
		return "", fmt.Errorf("unknown error policy %q (expected fail, continue or retry)", s)
	}
}

// StageOutcome records one stage execution.
type StageOutcome struct {
	StageID  string        `json:"stage_id"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Trace is the ordered list of outcomes of a run.
type Trace []StageOutcome

// Find returns the outcome of stageID, if recorded.
func (t Trace) Find(stageID string) (StageOutcome, bool) {
	for _, o := range t {
		if o.StageID == stageID {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// Failed returns the outcomes with status FAILED.
func (t Trace) Failed() []StageOutcome {
	var out []StageOutcome
	for _, o := range t {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}
