package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WSOptions configures the WebSocket endpoint.
type WSOptions struct {
	MessagesPerSecond float64       // client messages, default 5
	Burst             int           // default 10
	WriteTimeout      time.Duration // default 10s
	ReadLimit         int64         // bytes per message, default 4096
	CheckOrigin       func(r *http.Request) bool
}

func (o WSOptions) withDefaults() WSOptions {
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// clientMessage is a message sent by a client.
type clientMessage struct {
	Type   string `json:"type"`
	Wallet string `json:"wallet,omitempty"`
}

type wsHandler struct {
	hub      *Hub
	opts     WSOptions
	upgrader websocket.Upgrader
}

// Handler returns an http.Handler that upgrades requests to WebSocket
// connections served by h.
func (h *Hub) Handler(opts WSOptions) http.Handler {
	opts = opts.withDefaults()
	return &wsHandler{
		hub:  h,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// ServeHTTP runs the read loop of one connection.
func (s *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.ReadLimit)

	id, err := s.hub.Register(&wsConn{conn: ws, writeTimeout: s.opts.WriteTimeout})
	if err != nil {
		_ = ws.Close()
		return
	}
	defer s.hub.Disconnect(id, ReasonClosed)

	ws.SetPongHandler(func(string) error {
		s.hub.Pong(id)
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("read failed", zap.String("conn_id", id), zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			_ = s.hub.send(id, controlMessage{Type: "error", Error: "rate limited"})
			continue
		}
		s.handle(r.Context(), id, data)
	}
}

func (s *wsHandler) handle(ctx context.Context, id string, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.hub.send(id, controlMessage{Type: "error", Error: "invalid message"})
		return
	}

	switch msg.Type {
	case "subscribe", "unsubscribe":
		if !validWallet(msg.Wallet) {
			_ = s.hub.send(id, controlMessage{Type: "error", Wallet: msg.Wallet, Error: "invalid wallet address"})
			return
		}
		var err error
		if msg.Type == "subscribe" {
			err = s.hub.Subscribe(ctx, id, msg.Wallet)
		} else {
			err = s.hub.Unsubscribe(ctx, id, msg.Wallet)
		}
		if err != nil {
			return
		}
		_ = s.hub.send(id, controlMessage{Type: msg.Type + "d", Wallet: msg.Wallet})
	case "ping":
		s.hub.Pong(id)
		_ = s.hub.send(id, controlMessage{Type: "pong"})
	default:
		_ = s.hub.send(id, controlMessage{Type: "error", Error: "unknown message type"})
	}
}

func validWallet(addr string) bool {
	b, err := base58.Decode(addr)
	return err == nil && len(b) == 32
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteText(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) WritePing() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
