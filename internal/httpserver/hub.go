package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"posecall/internal/domain"
	"posecall/internal/presenter"
	"posecall/internal/providers/webspeech"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	errClientClosed = errors.New("client connection is closed")
	errClientSlow   = errors.New("client send buffer is full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Renderer turns controller snapshots into views.
type Renderer interface {
	Render(snapshot domain.Snapshot) presenter.View
	Card(pose domain.PoseEntry) presenter.PoseCard
}

// RecognitionHost accepts pages that run the browser speech engine.
type RecognitionHost interface {
	Attach(p webspeech.Peer)
	Detach(p webspeech.Peer)
	Deliver(p webspeech.Peer, msg webspeech.Message)
}

type viewFrame struct {
	Type string         `json:"type"`
	View presenter.View `json:"view"`
}

// Hub pushes views to every connected page and relays speech events from
// pages to the recognition host.
type Hub struct {
	renderer Renderer
	host     RecognitionHost
	logger   *zap.Logger

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  []byte
}

// NewHub creates a hub. host may be nil when recognition runs server-side.
func NewHub(renderer Renderer, host RecognitionHost, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		renderer:   renderer,
		host:       host,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Run tracks client membership until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			client.close()
			delete(h.clients, client)
		}
		h.mu.Unlock()
		close(h.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			latest := h.latest
			h.mu.Unlock()
			if latest != nil {
				_ = client.enqueue(latest)
			}
			h.logger.Info("client registered", zap.String("remote", client.remote))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("client unregistered", zap.String("remote", client.remote))
		}
	}
}

// SnapshotChanged implements ports.EventSink. It never blocks: a client
// that cannot keep up misses frames until it drains its buffer.
func (h *Hub) SnapshotChanged(snapshot domain.Snapshot) {
	payload, err := json.Marshal(viewFrame{Type: "view", View: h.renderer.Render(snapshot)})
	if err != nil {
		h.logger.Error("failed to encode view", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.latest = payload
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.enqueue(payload); err != nil {
			h.logger.Debug("dropping view frame", zap.String("remote", client.remote), zap.Error(err))
		}
	}
}

// ClientCount returns the number of registered pages.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		remote: c.RealIP(),
		logger: h.logger,
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return conn.Close()
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// Client is one connected page.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Send implements webspeech.Peer.
func (c *Client) Send(cmd webspeech.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errClientSlow
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.hub.host != nil {
			c.hub.host.Detach(c)
		}
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("type", messageType))
			continue
		}
		c.processMessage(payload)
	}
}

func (c *Client) processMessage(payload []byte) {
	var msg webspeech.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("failed to parse page message", zap.Error(err))
		return
	}
	if c.hub.host == nil {
		return
	}

	if msg.Type == webspeech.MessageHello {
		if msg.Speech {
			c.hub.host.Attach(c)
		} else {
			c.logger.Info("page cannot host speech recognition", zap.String("remote", c.remote))
		}
		return
	}
	c.hub.host.Deliver(c, msg)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("failed to write message", zap.Error(err))
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

func isUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}
