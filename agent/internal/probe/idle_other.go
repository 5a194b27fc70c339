//go:build !linux && !windows && !darwin

package probe

import "context"

// idleSeconds has no implementation on unsupported platforms. Reporting 0
// ("not idle") is the safe default — it can never trigger an unwanted
// shutdown, only suppress one that should have fired.
func idleSeconds(ctx context.Context) int64 {
	return 0
}
