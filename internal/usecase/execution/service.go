package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/resultset"
	"github.com/kailas-cloud/askdb/internal/metrics"
)

// Options bound one execution.
type Options struct {
	ReadOnly         bool
	Timeout          time.Duration // per attempt; 0 disables
	MaxRows          int
	TransientRetries int
	RetryDelay       time.Duration
}

// Service runs validated queries against a store.
type Service struct {
	store  Store
	logger *zap.Logger
}

// New creates an execution service.
func New(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Execute runs query. Read-only violations are refused before anything is
// sent. Transient store errors are retried TransientRetries times with a
// fixed delay; every failure comes back as *domain.ExecutionError.
func (s *Service) Execute(ctx context.Context, query string, opts Options) (resultset.ResultSet, error) {
	driver := s.store.Driver()

	if opts.ReadOnly {
		if kw := forbiddenKeyword(driver, query); kw != "" {
			metrics.ExecutorQueriesTotal.WithLabelValues(driver, "rejected").Inc()
			return resultset.ResultSet{}, &domain.ExecutionError{
				Kind:  domain.ExecutionPermanent,
				Query: query,
				Err:   fmt.Errorf("%w: %s is not allowed", domain.ErrReadOnlyViolation, kw),
			}
		}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return resultset.ResultSet{}, &domain.ExecutionError{
				Kind: domain.ExecutionPermanent, Query: query, Attempts: attempt - 1, Err: err,
			}
		}

		rs, err := s.run(ctx, query, opts)
		if err == nil {
			metrics.ExecutorQueriesTotal.WithLabelValues(driver, "ok").Inc()
			metrics.ExecutorRowsReturned.WithLabelValues(driver).Observe(float64(rs.Len()))
			return rs, nil
		}

		transient := s.store.IsTransient(err)
		if !transient || attempt > opts.TransientRetries {
			kind := domain.ExecutionPermanent
			status := "permanent"
			if transient {
				kind, status = domain.ExecutionTransient, "transient"
			}
			metrics.ExecutorQueriesTotal.WithLabelValues(driver, status).Inc()
			return resultset.ResultSet{}, &domain.ExecutionError{Kind: kind, Query: query, Attempts: attempt, Err: err}
		}

		s.logger.Warn("transient store error, retrying",
			zap.String("driver", driver),
			zap.Int("attempt", attempt),
			zap.Duration("delay", opts.RetryDelay),
			zap.Error(err),
		)
		if err := sleep(ctx, opts.RetryDelay); err != nil {
			return resultset.ResultSet{}, &domain.ExecutionError{
				Kind: domain.ExecutionTransient, Query: query, Attempts: attempt, Err: err,
			}
		}
	}
}

func (s *Service) run(ctx context.Context, query string, opts Options) (resultset.ResultSet, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	rs, err := s.store.Run(ctx, query, resultset.RunOptions{MaxRows: opts.MaxRows, ReadOnly: opts.ReadOnly})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return resultset.ResultSet{}, fmt.Errorf("query timed out after %s: %w", opts.Timeout, err)
	}
	return rs, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
