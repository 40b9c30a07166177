package probe

import (
	"context"
	"time"
)

// Prober issues a single lightweight request against a normalized target.
// Implementations never fail: transport problems are reported as an Outcome
// with a zero status code.
type Prober interface {
	Probe(ctx context.Context, target Target) Outcome
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Politeness gates a probe before it is sent, e.g. by pacing requests to the
// same host. Wait returns an error only when ctx ends first.
type Politeness interface {
	Wait(ctx context.Context, rawURL string) error
}
