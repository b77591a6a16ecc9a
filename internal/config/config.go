// Package config holds the service configuration, populated from flags in
// cmd/api.
package config

import "time"

type Config struct {
	Port int
	Env  string

	DB struct {
		DSN          string
		MaxOpenConns int
		MaxIdleTime  time.Duration
	}

	Redis struct {
		URL          string
		MaxOpenConns int
		MaxIdleConns int
		MaxIdleTime  time.Duration
	}

	Hold struct {
		// Backend selects the ledger implementation: "memory" for a single
		// instance, "redis" for a horizontally scaled deployment.
		Backend string

		// Lease is how long a seat stays held without renewal.
		Lease time.Duration

		// ReapInterval bounds how long an expired hold can outlive its
		// lease before the scheduler frees it.
		ReapInterval time.Duration

		// QueueDepth is the per-subscriber outbound event buffer; a
		// subscriber that falls further behind is dropped.
		QueueDepth int
	}

	// FinalizerKey authenticates the booking finalizer on the internal
	// commit/release endpoints.
	FinalizerKey string

	OtelCollectorUrl string
}
