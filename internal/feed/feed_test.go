package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"index-rebalancer/rebalance"
	"index-rebalancer/units"
)

type countingObserver struct {
	mu      sync.Mutex
	current int
}

func (o *countingObserver) FeedClientConnected() {
	o.mu.Lock()
	o.current++
	o.mu.Unlock()
}

func (o *countingObserver) FeedClientDisconnected() {
	o.mu.Lock()
	o.current--
	o.mu.Unlock()
}

func (o *countingObserver) value() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsTrades(t *testing.T) {
	obs := &countingObserver{}
	hub := NewHub(nil, obs)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()
	waitClients(t, hub, 2)
	assert.Equal(t, 2, obs.value())

	receipt := rebalance.TradeReceipt{
		ID:             "r-1",
		Index:          common.HexToAddress("0xa1"),
		Component:      common.HexToAddress("0xd1"),
		IsSell:         true,
		SentToken:      common.HexToAddress("0xd1"),
		SentAmount:     units.MustParse("150"),
		ReceivedToken:  common.HexToAddress("0xe1"),
		ReceivedAmount: units.MustParse("0.5"),
		Exchange:       "uniswap",
		Remaining:      units.MustParse("25"),
		Timestamp:      time.UnixMilli(1_700_000_000_000),
	}
	require.NoError(t, hub.OnTrade(context.Background(), receipt))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg TradeMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "trade", msg.Type)
		assert.Equal(t, "r-1", msg.ID)
		assert.Equal(t, "sell", msg.Side)
		assert.Equal(t, units.Format(units.MustParse("0.5")), msg.ReceivedAmount)
		assert.Equal(t, int64(1_700_000_000_000), msg.Timestamp)
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	obs := &countingObserver{}
	hub := NewHub(nil, obs)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, hub, 1)
	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
	assert.Equal(t, 0, obs.value())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
