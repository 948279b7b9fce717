package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/domain/validation"
	querycheck "github.com/kailas-cloud/askdb/internal/usecase/validation"
)

// --- Mocks ---

type scriptedLLM struct {
	outputs []string
	err     error
	prompts []string
	onCall  func(n int)
}

func (m *scriptedLLM) Complete(_ context.Context, prompt string, _ domain.CompletionOptions) (domain.Completion, error) {
	m.prompts = append(m.prompts, prompt)
	if m.onCall != nil {
		m.onCall(len(m.prompts))
	}
	if m.err != nil {
		return domain.Completion{}, m.err
	}
	i := len(m.prompts) - 1
	if i >= len(m.outputs) {
		i = len(m.outputs) - 1
	}
	return domain.Completion{Text: m.outputs[i]}, nil
}

type countingValidator struct {
	calls int
}

func (v *countingValidator) Validate(string, schema.Subset, validation.Mode) validation.Verdict {
	v.calls++
	return validation.Reject(validation.ModeFull, validation.Violation{Kind: validation.SyntaxError, Detail: "always"})
}

func shopSubset() schema.Subset {
	return schema.NewSubset(
		schema.New(schema.KindTable, "customers", "", "registered customers"),
		schema.NewColumn(schema.KindColumn, "customers", "id", "integer", ""),
		schema.NewColumn(schema.KindColumn, "customers", "name", "text", ""),
	)
}

func newService(t *testing.T, llm Completer) *Service {
	t.Helper()
	v, err := querycheck.New(querycheck.DialectSQL)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return New(llm, v, nil)
}

// --- Tests ---

func TestSynthesize_FirstAttemptAccepted(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"```sql\nSELECT COUNT(*) FROM customers;\n```"}}
	svc := newService(t, llm)

	res, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeFull, MaxRetries: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Query != "SELECT COUNT(*) FROM customers" {
		t.Errorf("unexpected query %q", res.Query)
	}
	if len(res.Attempts) != 1 || len(llm.prompts) != 1 {
		t.Fatalf("expected one attempt, got %d (calls %d)", len(res.Attempts), len(llm.prompts))
	}
	if res.Attempts[0].PromptUsed != "PROMPT" {
		t.Errorf("first attempt must use the original prompt, got %q", res.Attempts[0].PromptUsed)
	}
	if !res.Verdict().Valid {
		t.Errorf("expected valid verdict, got %+v", res.Verdict())
	}
}

func TestSynthesize_CorrectsTypo(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{
		"SELECT COUNT(*) FORM customers",
		"SELECT COUNT(*) FROM customers",
	}}
	svc := newService(t, llm)

	res, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeFull, MaxRetries: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}

	first := res.Attempts[0]
	wantFirst := validation.Reject(validation.ModeFull, validation.Violation{
		Kind: validation.SyntaxError, Detail: `near "FORM customers": expected end of statement`,
	})
	if diff := cmp.Diff(wantFirst, first.Verdict); diff != "" {
		t.Errorf("first verdict mismatch (-want +got):\n%s", diff)
	}

	second := llm.prompts[1]
	if !strings.HasPrefix(second, "PROMPT") {
		t.Errorf("corrective prompt must extend the original:\n%s", second)
	}
	if !strings.Contains(second, "SELECT COUNT(*) FORM customers") {
		t.Errorf("corrective prompt must quote the rejected output:\n%s", second)
	}
	if !strings.Contains(second, `SYNTAX_ERROR: near "FORM customers": expected end of statement`) {
		t.Errorf("corrective prompt must carry the violation verbatim:\n%s", second)
	}
	if res.Attempts[1].PromptUsed != second {
		t.Error("attempt must record the prompt it was generated from")
	}
}

func TestSynthesize_Exhausted(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT email FROM customers"}}
	svc := newService(t, llm)

	_, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeFull, MaxRetries: 2})
	var failed *domain.QueryGenerationFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected QueryGenerationFailed, got %v", err)
	}
	if len(failed.Attempts) != 3 || len(llm.prompts) != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", len(failed.Attempts), len(llm.prompts))
	}
	for i, a := range failed.Attempts {
		if a.Number != i+1 {
			t.Errorf("attempt %d numbered %d", i, a.Number)
		}
	}
	if failed.LastQuery() != "SELECT email FROM customers" {
		t.Errorf("unexpected last query %q", failed.LastQuery())
	}
	want := []validation.Violation{{Kind: validation.UnknownColumn, Detail: `unknown column "email" in table "customers"`}}
	if diff := cmp.Diff(want, failed.LastAttempt().Verdict.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_ZeroRetries(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT * FROM suppliers", "SELECT * FROM customers"}}
	svc := newService(t, llm)

	_, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeFull})
	var failed *domain.QueryGenerationFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected QueryGenerationFailed, got %v", err)
	}
	if len(llm.prompts) != 1 {
		t.Errorf("max_retries 0 must call the model once, got %d", len(llm.prompts))
	}
}

func TestSynthesize_ModeNoneAcceptsAnything(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT nonsense FROM nowhere"}}
	svc := newService(t, llm)

	res, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeNone, MaxRetries: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llm.prompts) != 1 || res.Query != "SELECT nonsense FROM nowhere" {
		t.Errorf("unexpected result %+v after %d calls", res, len(llm.prompts))
	}
}

func TestSynthesize_ModeNoneSkipsValidator(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"SELECT 1"}}
	v := &countingValidator{}
	svc := New(llm, v, nil)

	res, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeNone, MaxRetries: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.calls != 0 {
		t.Errorf("validator called %d times in mode none", v.calls)
	}
	if len(res.Attempts) != 1 || !res.Verdict().Valid || res.Verdict().Mode != validation.ModeNone {
		t.Errorf("unexpected attempts %+v", res.Attempts)
	}
}

func TestSynthesize_EmptyOutputRejectedInModeNone(t *testing.T) {
	llm := &scriptedLLM{outputs: []string{"```sql\n```"}}
	svc := newService(t, llm)

	_, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeNone, MaxRetries: 1})
	var failed *domain.QueryGenerationFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected QueryGenerationFailed, got %v", err)
	}
	if len(failed.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(failed.Attempts))
	}
	want := []validation.Violation{{Kind: validation.SyntaxError, Detail: emptyQueryDetail}}
	if diff := cmp.Diff(want, failed.Attempts[0].Verdict.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_LLMErrorAborts(t *testing.T) {
	boom := errors.New("provider down")
	llm := &scriptedLLM{err: boom}
	svc := newService(t, llm)

	_, err := svc.Synthesize(context.Background(), "PROMPT", shopSubset(), Options{Mode: validation.ModeFull, MaxRetries: 3})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(llm.prompts) != 1 {
		t.Errorf("model errors must not be retried here, got %d calls", len(llm.prompts))
	}
}

func TestSynthesize_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	llm := &scriptedLLM{
		outputs: []string{"SELECT email FROM customers"},
		onCall:  func(int) { cancel() },
	}
	svc := newService(t, llm)

	_, err := svc.Synthesize(ctx, "PROMPT", shopSubset(), Options{Mode: validation.ModeFull, MaxRetries: 3})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(llm.prompts) != 1 {
		t.Errorf("no call may start after cancellation, got %d calls", len(llm.prompts))
	}
}

func TestMachine_IllegalTransitions(t *testing.T) {
	m := newMachine("p", 0)
	if err := m.validated(validation.Accept(validation.ModeFull)); !errors.Is(err, errIllegalTransition) {
		t.Errorf("validated in DRAFTING: got %v", err)
	}
	if err := m.correct(); !errors.Is(err, errIllegalTransition) {
		t.Errorf("correct in DRAFTING: got %v", err)
	}
	if err := m.drafted("SELECT 1"); err != nil {
		t.Fatalf("drafted: %v", err)
	}
	if err := m.drafted("SELECT 2"); !errors.Is(err, errIllegalTransition) {
		t.Errorf("drafted in VALIDATING: got %v", err)
	}
	if err := m.validated(validation.Reject(validation.ModeFull)); err != nil {
		t.Fatalf("validated: %v", err)
	}
	if m.state != stateExhausted {
		t.Errorf("expected EXHAUSTED with no retries, got %s", m.state)
	}
}

func TestMachine_States(t *testing.T) {
	m := newMachine("p", 1)
	steps := []struct {
		do   func() error
		want state
	}{
		{func() error { return m.drafted("bad") }, stateValidating},
		{func() error { return m.validated(validation.Reject(validation.ModeFull)) }, stateCorrecting},
		{m.correct, stateDrafting},
		{func() error { return m.drafted("good") }, stateValidating},
		{func() error { return m.validated(validation.Accept(validation.ModeFull)) }, stateAccepted},
	}
	for i, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if m.state != s.want {
			t.Fatalf("step %d: state %s, want %s", i, m.state, s.want)
		}
	}
	if m.last().Query != "good" || len(m.attempts) != 2 {
		t.Errorf("unexpected attempts %+v", m.attempts)
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"fenced with tag", "Here you go:\n```sql\nSELECT *\nFROM t;\n```\nEnjoy", "SELECT *\nFROM t"},
		{"fenced without tag", "```\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		{"leading prose", "The query is:\nselect name from customers", "select name from customers"},
		{"second statement dropped", "SELECT 1; DROP TABLE t", "SELECT 1"},
		{"semicolon in string kept", "SELECT ';' AS s; SELECT 2", "SELECT ';' AS s"},
		{"prose only", "I do not know.", "I do not know."},
		{"selection is not select", "Selection below:\nWITH x AS (SELECT 1) SELECT * FROM x", "WITH x AS (SELECT 1) SELECT * FROM x"},
		{"empty", "  \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.raw); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
