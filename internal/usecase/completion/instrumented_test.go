package completion

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/usecase/budget"
)

// --- Mocks ---

type mockCompleter struct {
	res   domain.Completion
	err   error
	calls int
}

func (m *mockCompleter) Complete(_ context.Context, _ string, _ domain.CompletionOptions) (domain.Completion, error) {
	m.calls++
	return m.res, m.err
}

func newBudget(daily int64) *budget.Tracker {
	return budget.NewTracker("llm", "test", "askdb:",
		budget.Limits{Daily: daily, Action: budget.ActionReject},
		domain.ErrLLMQuotaExceeded, zap.NewNop())
}

// --- Tests ---

func TestComplete_RecordsUsage(t *testing.T) {
	inner := &mockCompleter{res: domain.Completion{Text: "SELECT 1", PromptTokens: 8, CompletionTokens: 2}}
	bt := newBudget(1000)
	c := NewInstrumentedCompleter(inner, "test", bt, zap.NewNop())

	ctx, usage := domain.NewContextWithUsage(context.Background())
	res, err := c.Complete(ctx, "q", domain.CompletionOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "SELECT 1" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if usage.CompletionTokens() != 10 {
		t.Errorf("expected 10 completion tokens in run usage, got %d", usage.CompletionTokens())
	}
	if bt.DailyUsed() != 10 {
		t.Errorf("expected budget to record 10, got %d", bt.DailyUsed())
	}
}

func TestComplete_BudgetRejects(t *testing.T) {
	inner := &mockCompleter{}
	bt := newBudget(5)
	bt.Record(5)
	c := NewInstrumentedCompleter(inner, "test", bt, zap.NewNop())

	_, err := c.Complete(context.Background(), "q", domain.CompletionOptions{})
	if !errors.Is(err, domain.ErrLLMQuotaExceeded) {
		t.Fatalf("expected ErrLLMQuotaExceeded, got %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("provider must not be called over budget, got %d calls", inner.calls)
	}
}

func TestComplete_InnerError(t *testing.T) {
	inner := &mockCompleter{err: domain.ErrLLMProviderError}
	c := NewInstrumentedCompleter(inner, "test", nil, zap.NewNop())

	if _, err := c.Complete(context.Background(), "q", domain.CompletionOptions{}); !errors.Is(err, domain.ErrLLMProviderError) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}
