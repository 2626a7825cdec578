package ofi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerBelowActivationGatesReturnsZero(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.Record(true, 1000)
	}
	require.Equal(t, 0.0, tr.Fraction())
}

func TestTrackerBelowNotionalGateReturnsZero(t *testing.T) {
	tr := New()
	for i := 0; i < 25; i++ {
		tr.Record(true, 10)
	}
	require.Equal(t, 0.0, tr.Fraction())
}

func TestTrackerFractionOnceActivated(t *testing.T) {
	tr := New()
	for i := 0; i < 15; i++ {
		tr.Record(true, 500) // 7500 buy
	}
	for i := 0; i < 10; i++ {
		tr.Record(false, 250) // 2500 sell
	}
	// total = 10000, imbalance = (7500-2500)/10000 = 0.5
	require.InDelta(t, 0.5, tr.Fraction(), 1e-9)
	require.True(t, tr.ShouldCancelAsks(0.4))
	require.False(t, tr.ShouldCancelBids(0.4))
}

func TestTrackerWindowEvictsOldestBeyondCap(t *testing.T) {
	tr := New()
	for i := 0; i < windowCap; i++ {
		tr.Record(false, 100) // fills window with sells
	}
	require.True(t, tr.ShouldCancelBids(defaultThreshold))

	for i := 0; i < windowCap; i++ {
		tr.Record(true, 100) // evicts every sell, replaces with buys
	}
	require.True(t, tr.ShouldCancelAsks(defaultThreshold))
}
