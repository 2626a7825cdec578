package ingestor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
	"market_maker/internal/marketdata"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	dir := t.TempDir()
	buf := marketdata.NewBuffer()
	var stall marketdata.StallFlag
	ing := New(Config{
		WSURL:       "ws://unused.invalid",
		RestBaseURL: "http://unused.invalid",
		HarvestTicks: true,
		TickDataDir:  dir,
	}, buf, &stall)
	return ing
}

func TestHandleL2BookObjectShape(t *testing.T) {
	ing := newTestIngestor(t)
	msg := []byte(`{"channel":"l2Book","data":{"coin":"BTC","levels":{"bids":[{"Price":99.5,"Size":1}],"asks":[{"Price":100.5,"Size":1}]}}}`)
	ing.onMessage(msg)

	snap, ok := ing.buffer.L2("BTC")
	require.True(t, ok)
	require.InDelta(t, 100.0, snap.Mid(), 1e-9)
}

func TestHandleL2BookArrayShape(t *testing.T) {
	ing := newTestIngestor(t)
	msg := []byte(`{"channel":"l2Book","data":{"coin":"ETH","levels":[[{"Price":10,"Size":1}],[{"Price":11,"Size":1}]]}}`)
	ing.onMessage(msg)

	snap, ok := ing.buffer.L2("ETH")
	require.True(t, ok)
	require.InDelta(t, 10.5, snap.Mid(), 1e-9)
}

func TestHandleTradesAppendsToBuffer(t *testing.T) {
	ing := newTestIngestor(t)
	msg := []byte(`{"channel":"trades","data":[{"Coin":"BTC","IsBuy":true,"Price":100,"Size":1,"Ts":1}]}`)
	ing.onMessage(msg)

	trade, ok := ing.buffer.LatestTrade("BTC")
	require.True(t, ok)
	require.Equal(t, 100.0, trade.Price)
}

func TestHandleUserFillsSkipsSnapshot(t *testing.T) {
	ing := newTestIngestor(t)
	snapMsg := []byte(`{"channel":"userFills","data":{"isSnapshot":true,"fills":[{"Coin":"BTC","Ts":1}]}}`)
	ing.onMessage(snapMsg)
	require.Empty(t, ing.buffer.DrainUserFills())

	liveMsg := []byte(`{"channel":"userFills","data":{"isSnapshot":false,"fills":[{"Coin":"BTC","Ts":2}]}}`)
	ing.onMessage(liveMsg)
	fills := ing.buffer.DrainUserFills()
	require.Len(t, fills, 1)
}

func TestAppendTickRowWritesCSVLine(t *testing.T) {
	ing := newTestIngestor(t)
	snap := core.L2Snapshot{
		Coin:         "BTC",
		Bids:         []core.L2Level{{Price: 99}},
		Asks:         []core.L2Level{{Price: 101}},
		ReceivedAtMs: 123,
	}
	ing.appendTickRow(snap)

	entries, err := os.ReadDir(filepath.Join(ing.cfg.TickDataDir, "BTC"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	contents, err := os.ReadFile(filepath.Join(ing.cfg.TickDataDir, "BTC", entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "BTC")
}

func TestTopUniverseSortsByVolumeAndTruncates(t *testing.T) {
	contexts := []assetContextResp{
		{Coin: "A", DayNtlVlm: 10},
		{Coin: "B", DayNtlVlm: 30},
		{Coin: "C", DayNtlVlm: 20},
	}
	out, universe := topUniverse(contexts, 2)
	require.Equal(t, []string{"B", "C"}, universe)
	require.Len(t, out, 2)
	require.Contains(t, out, "B")
}
