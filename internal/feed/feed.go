// Package feed 通过 WebSocket 向订阅者推送成交回执。
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"index-rebalancer/rebalance"
	"index-rebalancer/units"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// TradeMessage 是推送给前端的成交消息，数量为十进制字符串。
type TradeMessage struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	Index          string `json:"index"`
	Component      string `json:"component"`
	Side           string `json:"side"`
	SentToken      string `json:"sentToken"`
	SentAmount     string `json:"sentAmount"`
	ReceivedToken  string `json:"receivedToken"`
	ReceivedAmount string `json:"receivedAmount"`
	Exchange       string `json:"exchange"`
	Remaining      string `json:"remaining"`
	Timestamp      int64  `json:"timestamp"` // 毫秒
}

func newTradeMessage(r rebalance.TradeReceipt) TradeMessage {
	return TradeMessage{
		Type:           "trade",
		ID:             r.ID,
		Index:          r.Index.Hex(),
		Component:      r.Component.Hex(),
		Side:           r.Side(),
		SentToken:      r.SentToken.Hex(),
		SentAmount:     units.Format(r.SentAmount),
		ReceivedToken:  r.ReceivedToken.Hex(),
		ReceivedAmount: units.Format(r.ReceivedAmount),
		Exchange:       r.Exchange,
		Remaining:      units.Format(r.Remaining),
		Timestamp:      r.Timestamp.UnixMilli(),
	}
}

// ClientObserver 接收订阅数变化。
type ClientObserver interface {
	FeedClientConnected()
	FeedClientDisconnected()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 实现 rebalance.ReceiptSink 与 http.Handler。
// 发送缓冲写满的订阅者会被断开，不阻塞交易路径。
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	observer ClientObserver

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(logger *zap.Logger, observer ClientObserver) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:   logger.Named("feed"),
		observer: observer,
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP 升级连接并登记订阅者。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.FeedClientConnected()
	}
	h.logger.Debug("feed client connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

// OnTrade 把回执广播给所有订阅者。
func (h *Hub) OnTrade(_ context.Context, r rebalance.TradeReceipt) error {
	payload, err := json.Marshal(newTradeMessage(r))
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("feed client too slow, dropping", zap.String("remote", c.conn.RemoteAddr().String()))
			h.dropLocked(c)
		}
	}
	return nil
}

// Clients 返回当前订阅数。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有订阅者，之后的连接会被直接关闭。
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	return nil
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.observer != nil {
		h.observer.FeedClientDisconnected()
	}
}

// readPump 只处理 pong 与关闭；订阅者不需要发送任何消息。
func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
