// SPDX-License-Identifier: LGPL-3.0-or-later

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextBackoff_GrowsAndCaps(t *testing.T) {
	// Jitter is ±20%, so assert against the jittered bounds rather than
	// exact values.
	within := func(t *testing.T, d, nominal time.Duration) {
		t.Helper()
		lo := time.Duration(float64(nominal) * (1 - sendBackoffJitter))
		hi := time.Duration(float64(nominal) * (1 + sendBackoffJitter))
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}

	within(t, nextBackoff(0), time.Second)
	within(t, nextBackoff(1), 2*time.Second)
	within(t, nextBackoff(3), 8*time.Second)

	// Far past the cap: stays at the 60s ceiling (jittered).
	within(t, nextBackoff(20), sendBackoffMax)
}

func TestNextBackoff_Jitters(t *testing.T) {
	// With ±20% jitter, 64 samples collapsing to a single value would
	// mean the jitter term is dead.
	seen := make(map[time.Duration]bool)
	for i := 0; i < 64; i++ {
		seen[nextBackoff(2)] = true
	}
	require.Greater(t, len(seen), 1)
}
