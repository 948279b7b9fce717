package usage

import budgetuc "github.com/kailas-cloud/askdb/internal/usecase/budget"

// BudgetReader exposes one token budget. Implemented by *budget.Tracker.
type BudgetReader interface {
	Scope() string
	Provider() string
	Action() budgetuc.Action
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
	RemainingDaily() int64
	RemainingMonthly() int64
}
