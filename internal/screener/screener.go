// Package screener declares the boundary to the external asset
// selector and status/shadow-fill publisher. Both are represented as
// interfaces only: the real transport (Redis pub/sub) is out of
// scope; only an in-memory no-op default ships here, the same way the
// exchange package separates Client from any one venue's REST client.
package screener

import "market_maker/internal/core"

// EngineStatus is one point-in-time status snapshot published for
// external observers.
type EngineStatus struct {
	Halted        bool
	ActiveCoins   []string
	DailyPnLUSD   float64
	TotalCancels  int64
	TotalFills    int64
}

// ConfigSource streams asset-config sets as the external selector
// republishes them. Each receive atomically replaces the prior whitelist.
type ConfigSource interface {
	Configs() <-chan []core.AssetConfig
}

// StatusSink receives shadow fills and periodic status snapshots for
// external observability.
type StatusSink interface {
	PublishShadowFill(core.ShadowFill)
	PublishStatus(EngineStatus)
}

// NoopConfigSource is a ConfigSource backed by a closed channel: the
// engine quotes nothing, matching the safe default for an absent
// screener feed.
type NoopConfigSource struct {
	ch chan []core.AssetConfig
}

// NewNoopConfigSource constructs a NoopConfigSource with its channel
// already closed.
func NewNoopConfigSource() *NoopConfigSource {
	ch := make(chan []core.AssetConfig)
	close(ch)
	return &NoopConfigSource{ch: ch}
}

// Configs implements ConfigSource.
func (n *NoopConfigSource) Configs() <-chan []core.AssetConfig { return n.ch }

// NoopStatusSink discards every publish. Useful as the default sink
// before a real transport is wired in.
type NoopStatusSink struct{}

// PublishShadowFill implements StatusSink.
func (NoopStatusSink) PublishShadowFill(core.ShadowFill) {}

// PublishStatus implements StatusSink.
func (NoopStatusSink) PublishStatus(EngineStatus) {}

var (
	_ ConfigSource = (*NoopConfigSource)(nil)
	_ StatusSink   = NoopStatusSink{}
)
