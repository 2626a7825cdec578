package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"market_maker/internal/core"
	sig "market_maker/internal/signer"
)

const liveTestPrivKeyHex = "0101010101010101010101010101010101010101010101010101010101010101"

// capturingLogger records Warn calls so clamp-on-leverage behavior can
// be asserted without a real logging backend.
type capturingLogger struct {
	warnMsgs []string
}

func (c *capturingLogger) Debug(msg string, fields ...interface{}) {}
func (c *capturingLogger) Info(msg string, fields ...interface{})  {}
func (c *capturingLogger) Warn(msg string, fields ...interface{}) {
	c.warnMsgs = append(c.warnMsgs, msg)
}
func (c *capturingLogger) Error(msg string, fields ...interface{}) {}
func (c *capturingLogger) Fatal(msg string, fields ...interface{}) {}
func (c *capturingLogger) WithField(key string, value interface{}) core.ILogger  { return c }
func (c *capturingLogger) WithFields(fields map[string]interface{}) core.ILogger { return c }

func newTestLiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			var req map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["type"] == "meta" {
				_, _ = w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":3,"maxLeverage":10}]}`))
				return
			}
			_, _ = w.Write([]byte(`{}`))
		case "/exchange":
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":1}}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOpenOrderClampsAndLogsLeverageAboveVenueMax(t *testing.T) {
	server := newTestLiveServer(t)
	defer server.Close()

	signer, err := sig.NewSigner(liveTestPrivKeyHex, true)
	require.NoError(t, err)

	logger := &capturingLogger{}
	live := NewLive(LiveConfig{BaseURL: server.URL, Signer: signer, Logger: logger})
	require.NoError(t, live.Init(context.Background()))

	_, err = live.OpenOrder(context.Background(), OpenOrderRequest{
		Coin:         "BTC",
		Direction:    core.DirectionLong,
		SizeCoins:    0.01,
		Price:        50000,
		LeverageHint: 50, // venue max is 10
		PostOnly:     true,
	})
	require.NoError(t, err)

	require.Len(t, logger.warnMsgs, 1)
	require.Contains(t, logger.warnMsgs[0], "leverage")
}

func TestOpenOrderDoesNotLogWhenLeverageWithinMax(t *testing.T) {
	server := newTestLiveServer(t)
	defer server.Close()

	signer, err := sig.NewSigner(liveTestPrivKeyHex, true)
	require.NoError(t, err)

	logger := &capturingLogger{}
	live := NewLive(LiveConfig{BaseURL: server.URL, Signer: signer, Logger: logger})
	require.NoError(t, live.Init(context.Background()))

	_, err = live.OpenOrder(context.Background(), OpenOrderRequest{
		Coin:         "BTC",
		Direction:    core.DirectionLong,
		SizeCoins:    0.01,
		Price:        50000,
		LeverageHint: 5, // within venue max of 10
		PostOnly:     true,
	})
	require.NoError(t, err)
	require.Empty(t, logger.warnMsgs)
}
