package synthesis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/askdb/internal/domain/synthesis"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
)

type state int

const (
	stateDrafting state = iota
	stateValidating
	stateCorrecting
	stateAccepted
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateDrafting:
		return "DRAFTING"
	case stateValidating:
		return "VALIDATING"
	case stateCorrecting:
		return "CORRECTING"
	case stateAccepted:
		return "ACCEPTED"
	case stateExhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errIllegalTransition = errors.New("illegal synthesis transition")

// machine is the generate/validate/correct loop as explicit states.
// It performs no I/O: the caller feeds it model output and verdicts.
type machine struct {
	state       state
	original    string
	prompt      string
	maxAttempts int
	attempts    []synthesis.Attempt
	pending     synthesis.Attempt
}

func newMachine(prompt string, maxRetries int) *machine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &machine{state: stateDrafting, original: prompt, prompt: prompt, maxAttempts: maxRetries + 1}
}

func (m *machine) expect(s state) error {
	if m.state != s {
		return fmt.Errorf("%w: in %s, expected %s", errIllegalTransition, m.state, s)
	}
	return nil
}

// drafted records model output: DRAFTING -> VALIDATING.
func (m *machine) drafted(raw string) error {
	if err := m.expect(stateDrafting); err != nil {
		return err
	}
	m.pending = synthesis.Attempt{
		Number:     len(m.attempts) + 1,
		PromptUsed: m.prompt,
		RawOutput:  raw,
		Query:      Clean(raw),
	}
	m.state = stateValidating
	return nil
}

// validated records the verdict: VALIDATING -> ACCEPTED | CORRECTING | EXHAUSTED.
func (m *machine) validated(v validation.Verdict) error {
	if err := m.expect(stateValidating); err != nil {
		return err
	}
	m.pending.Verdict = v
	m.attempts = append(m.attempts, m.pending)
	m.pending = synthesis.Attempt{}
	switch {
	case v.Valid:
		m.state = stateAccepted
	case len(m.attempts) < m.maxAttempts:
		m.state = stateCorrecting
	default:
		m.state = stateExhausted
	}
	return nil
}

// correct builds the corrective prompt: CORRECTING -> DRAFTING.
func (m *machine) correct() error {
	if err := m.expect(stateCorrecting); err != nil {
		return err
	}
	m.prompt = Corrective(m.original, m.attempts[len(m.attempts)-1])
	m.state = stateDrafting
	return nil
}

func (m *machine) last() synthesis.Attempt {
	return m.attempts[len(m.attempts)-1]
}

// Corrective extends the original prompt with the rejected output and every
// violation detail exactly as reported.
func Corrective(original string, last synthesis.Attempt) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(original, "\n"))
	b.WriteString("\n\n### Previous answer (rejected)\n")
	b.WriteString(strings.TrimSpace(last.RawOutput))
	b.WriteString("\n\n### Problems\n")
	for _, v := range last.Verdict.Violations {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	b.WriteString("\nFix every problem listed above. Answer with the corrected query only.\n")
	return b.String()
}
