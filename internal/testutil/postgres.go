//go:build integration

// Package testutil starts throwaway containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Terminate stops a container started by this package.
type Terminate func(ctx context.Context, opts ...testcontainers.TerminateOption) error

// StartPostgres runs a pgvector-enabled PostgreSQL and returns its DSN.
func StartPostgres(ctx context.Context) (string, Terminate, error) {
	pgContainer, err := postgres.Run(
		ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("askdb"),
		postgres.WithUsername("askdb"),
		postgres.WithPassword("askdb"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", nil, fmt.Errorf("error starting postgres container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return "", nil, fmt.Errorf("error getting connection string: %w", err)
	}
	return dsn, pgContainer.Terminate, nil
}
