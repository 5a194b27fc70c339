//go:build linux

package probe

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// idleSeconds shells out to xprintidle, which reports milliseconds since
// the last X11 input event. Headless hosts (no X server, no xprintidle
// binary) fall back to reporting 0 — treated as "not idle" rather than
// guessed, since overstating idle time risks an unwanted shutdown.
func idleSeconds(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "xprintidle")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(out.String()), 10, 64)
	if err != nil {
		return 0
	}
	return ms / 1000
}
