package testutil

import "time"

// Test timeout constants by test type.
// Use these with context.WithTimeout for consistent, explicit timeouts.
const (
	// TimeoutUnit is for unit tests (no I/O, no external dependencies)
	TimeoutUnit = 30 * time.Second

	// TimeoutIntegration is for integration tests against real loop
	// devices (partitioning, formatting, mounting)
	TimeoutIntegration = 2 * time.Minute

	// TimeoutOperation is the default timeout for an individual tool
	// invocation inside an integration test
	TimeoutOperation = 60 * time.Second
)
