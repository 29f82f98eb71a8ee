package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/matchgate/pkg/app/core"
	"github.com/uhyunpark/matchgate/pkg/marketdata"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
	maxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Client is one WebSocket connection and its market data subscription.
//
// Three goroutines serve it: readPump handles client ops, streamPump drains
// the subscription, and writePump is the only writer on the connection. When
// the socket cannot keep up, streamPump blocks on send, the subscription
// falls behind the hub's window and is closed with SlowConsumer.
type Client struct {
	server *Server
	conn   *websocket.Conn
	sub    *marketdata.Subscription
	send   chan []byte // nil entry asks writePump to close the socket
	id     string

	done      chan struct{}
	closeOnce sync.Once
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debugw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	id := uuid.NewString()
	client := &Client{
		server: s,
		conn:   conn,
		sub:    s.app.NewSubscription(id),
		send:   make(chan []byte, sendBuffer),
		id:     id,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.Logger.Infow("ws_client_connected", "client", id, "remote", conn.RemoteAddr().String(), "total", total)

	// Start pumps in separate goroutines
	go client.writePump()
	go client.streamPump()
	go client.readPump()
}

// closeClients disconnects every client; used on shutdown.
func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close(nil)
	}
}

// close tears the connection down once. reason is passed to the hub; nil is a
// normal disconnect.
func (c *Client) close(reason error) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.server.app.CloseSubscription(c.sub, reason)
		c.conn.Close()

		c.server.mu.Lock()
		delete(c.server.clients, c)
		total := len(c.server.clients)
		c.server.mu.Unlock()
		c.server.Logger.Infow("ws_client_disconnected", "client", c.id, "total", total)
	})
}

// enqueue hands a frame to writePump. It blocks while the buffer is full.
func (c *Client) enqueue(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.server.Logger.Errorw("ws_marshal_failed", "client", c.id, "err", err)
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendError(symbol string, err error) bool {
	return c.enqueue(WSMessage{Type: "error", Symbol: symbol, Error: string(core.ReasonOf(err)), Message: err.Error()})
}

// readPump handles subscribe, unsubscribe and ping requests from the client.
func (c *Client) readPump() {
	defer c.close(nil)

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.Logger.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if !c.sendError("", core.Reject(core.ErrInvalidRequest, "invalid message: %v", err)) {
				return
			}
			continue
		}

		ok := true
		switch req.Op {
		case "subscribe":
			if len(req.Symbols) == 0 {
				ok = c.sendError("", core.Reject(core.ErrInvalidRequest, "symbols are required"))
				break
			}
			// snapshots arrive through the stream, ahead of their deltas
			if _, err := c.server.app.Subscribe(c.sub, req.Symbols, req.FromSeq); err != nil {
				if errors.Is(err, marketdata.ErrClosed) {
					return
				}
				ok = c.sendError("", err)
			}
		case "unsubscribe":
			c.server.app.Unsubscribe(c.sub, req.Symbols)
		case "ping":
			ok = c.enqueue(WSMessage{Type: "pong"})
		default:
			ok = c.sendError("", core.Reject(core.ErrInvalidRequest, "unknown op %q", req.Op))
		}
		if !ok {
			return
		}
	}
}

// streamPump forwards market data events in sequence order.
func (c *Client) streamPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		evs, err := c.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, core.ErrSlowConsumer) {
				// tell the client why, then let writePump close the socket
				c.sendError("", err)
				select {
				case c.send <- nil:
				case <-c.done:
				}
			}
			return
		}
		for _, ev := range evs {
			m, err := c.server.app.GetMarket(ev.Symbol)
			if err != nil {
				continue
			}
			if !c.enqueue(wsEvent(m, ev)) {
				return
			}
		}
	}
}

// writePump pumps queued frames to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close(nil)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if message == nil {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(core.ReasonSlowConsumer)))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
