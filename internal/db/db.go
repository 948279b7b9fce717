// Package db holds the storage primitives shared by the backend drivers.
package db

import "context"

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
