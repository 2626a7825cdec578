package screener

import (
	"testing"

	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
)

func TestNoopConfigSourceChannelClosedEmpty(t *testing.T) {
	s := NewNoopConfigSource()
	cfg, ok := <-s.Configs()
	require.False(t, ok)
	require.Nil(t, cfg)
}

func TestNoopStatusSinkDiscardsSilently(t *testing.T) {
	var sink StatusSink = NoopStatusSink{}
	require.NotPanics(t, func() {
		sink.PublishShadowFill(core.ShadowFill{Coin: "BTC"})
		sink.PublishStatus(EngineStatus{Halted: true})
	})
}
