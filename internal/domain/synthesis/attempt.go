package synthesis

import "github.com/kailas-cloud/askdb/internal/domain/validation"

// Attempt records one round of the generate/validate loop.
type Attempt struct {
	Number     int                `json:"attempt_number"`
	PromptUsed string             `json:"prompt_used"`
	RawOutput  string             `json:"raw_output"`
	Query      string             `json:"query"`
	Verdict    validation.Verdict `json:"verdict"`
}

// Result is an accepted candidate query with the attempts that produced it.
type Result struct {
	Query    string
	Attempts []Attempt
	Mode     validation.Mode
}

// Verdict returns the verdict of the accepted attempt.
func (r Result) Verdict() validation.Verdict {
	if len(r.Attempts) == 0 {
		return validation.Accept(r.Mode)
	}
	return r.Attempts[len(r.Attempts)-1].Verdict
}
