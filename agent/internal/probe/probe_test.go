package probe

import (
	"context"
	"testing"
	"time"
)

func TestCollectReturnsWithinTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	snap := Collect(ctx)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Collect took too long: %v", elapsed)
	}
	if snap.IdleSeconds < 0 {
		t.Errorf("expected non-negative idle seconds, got %d", snap.IdleSeconds)
	}
}
