// Package simple includes tests for the permissive policy implementation.
package simple

import (
	"context"
	"errors"
	"testing"
)

// TestPolicyWait ensures the permissive policy never blocks.
func TestPolicyWait(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, "https://example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
