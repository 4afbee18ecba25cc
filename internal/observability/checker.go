package observability

import "context"

// Checker is implemented by every component the readiness probe verifies.
// Implementations must be safe for concurrent use and must respect the
// context deadline; a checker that blocks past it delays the whole probe.
type Checker interface {
	// Name returns the unique identifier of the component (e.g., "postgres", "redis").
	Name() string
	// Check performs the health verification. Returns nil if healthy, or an error if it fails.
	Check(ctx context.Context) error
}

// CheckFunc adapts a bare function into a named Checker. Useful for
// components whose health is a single call, like a platform reachability
// probe.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return &funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c *funcChecker) Name() string { return c.name }

func (c *funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }
