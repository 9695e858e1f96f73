package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTrade(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveTrade("DAI", "sell", "uniswap", 150, 250)
	m.ObserveTrade("DAI", "sell", "uniswap", 150, 100)
	m.ObserveTrade("USDC", "buy", "splitter", 20, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.trades.WithLabelValues("DAI", "sell", "uniswap")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.notional))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.delta.WithLabelValues("DAI")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("USDC", "buy", "splitter")))
}

func TestObserveRejectAndRound(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveReject("market")
	m.ObserveReject("market")
	m.ObserveReject("rate_limit")
	m.ObserveRound()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejects.WithLabelValues("market")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejects.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds))
}

func TestObserveScan(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveScan(0.01, 3)
	m.ObserveScan(0.02, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readyTrades))

	m.FeedClientConnected()
	m.FeedClientConnected()
	m.FeedClientDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedClients))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.ObserveScan(0.01, 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rebalance_keeper_scans_total 1"))
}
