// Package usage reports token consumption against the configured budgets.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/askdb/internal/domain"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod maps a query parameter to a Period. Empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: period must be day or month, got %q", domain.ErrInvalidRequest, s)
	}
}

// Budget is the state of one provider budget within a period.
type Budget struct {
	Scope           string `json:"scope"`
	Provider        string `json:"provider"`
	Action          string `json:"action"`
	TokensLimit     int64  `json:"tokens_limit"`     // 0 = unlimited
	TokensUsed      int64  `json:"tokens_used"`
	TokensRemaining int64  `json:"tokens_remaining"` // -1 = unlimited
	Exhausted       bool   `json:"exhausted"`
}

// Report is a usage report for a time period. Timestamps are unix millis.
type Report struct {
	Period      Period   `json:"period"`
	PeriodStart int64    `json:"period_start"`
	PeriodEnd   int64    `json:"period_end"`
	Budgets     []Budget `json:"budgets"`
}

// Service handles usage reporting.
type Service struct {
	readers []BudgetReader
	now     func() time.Time
}

// New creates a Service. Without readers every report is empty (unlimited mode).
func New(readers ...BudgetReader) *Service {
	s := &Service{now: func() time.Time { return time.Now().UTC() }}
	for _, r := range readers {
		if r != nil {
			s.readers = append(s.readers, r)
		}
	}
	sort.SliceStable(s.readers, func(i, j int) bool {
		if s.readers[i].Scope() != s.readers[j].Scope() {
			return s.readers[i].Scope() < s.readers[j].Scope()
		}
		return s.readers[i].Provider() < s.readers[j].Provider()
	})
	return s
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now()
	var start, end time.Time
	switch period {
	case PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		period = PeriodDay
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
	}

	budgets := make([]Budget, 0, len(s.readers))
	for _, r := range s.readers {
		b := Budget{Scope: r.Scope(), Provider: r.Provider(), Action: string(r.Action())}
		if period == PeriodMonth {
			b.TokensLimit, b.TokensUsed, b.TokensRemaining = r.MonthlyLimit(), r.MonthlyUsed(), r.RemainingMonthly()
		} else {
			b.TokensLimit, b.TokensUsed, b.TokensRemaining = r.DailyLimit(), r.DailyUsed(), r.RemainingDaily()
		}
		b.Exhausted = b.TokensLimit > 0 && b.TokensRemaining == 0
		budgets = append(budgets, b)
	}

	return Report{
		Period:      period,
		PeriodStart: start.UnixMilli(),
		PeriodEnd:   end.UnixMilli(),
		Budgets:     budgets,
	}
}
