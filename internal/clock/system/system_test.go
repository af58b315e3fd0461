// Package system exercises the clock adapters.
package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowWithinWallTime(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	require.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
}

// TestClockNowKeepsMonotonicReading guards elapsed-time math in the writer.
func TestClockNowKeepsMonotonicReading(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.Contains(t, first.String(), "m=")
	require.False(t, second.Before(first))
	require.GreaterOrEqual(t, second.Sub(first), time.Duration(0))
}
