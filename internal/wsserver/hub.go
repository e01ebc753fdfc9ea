package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"keyflow/internal/events"
	"keyflow/internal/workerutil"
)

const (
	// writeDeadline bounds a single frame write. A localhost client that
	// stalls longer than this is treated as dead.
	writeDeadline = 5 * time.Second
	// readDeadline allows ~3 missed pings before the connection is dropped.
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second
	// maxReadMessageSize limits incoming subscription requests.
	maxReadMessageSize = 32 * 1024
	// sendQueueSize frames may wait for the write pump. A client that falls
	// further behind is disconnected and has to reconnect.
	sendQueueSize = 256
)

var wsUpgrader = websocket.Upgrader{
	// The server binds to 127.0.0.1 only; origin checks add nothing for a
	// local UI process.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 8 * 1024,
}

// HubOptions configures the WebSocket server.
type HubOptions struct {
	// Addr is the listen address. Use "127.0.0.1:0" for an OS-assigned port.
	Addr string
}

// Hub serves a single WebSocket client with the event stream. A new
// connection replaces the existing one so a reloading UI reconnects cleanly.
//
// Broadcast runs on the event bus goroutine and never writes to the socket
// itself: frames are queued for the client's write pump, which is the only
// writer of its connection.
type Hub struct {
	opts HubOptions

	mu      sync.RWMutex
	current *client

	server *http.Server
	url    string

	stopOnce sync.Once
}

const (
	subscribeAction   = "subscribe"
	unsubscribeAction = "unsubscribe"
)

type subscribeMsg struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewHub creates a Hub. It does not listen until Start is called.
func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{opts: opts}
}

// Start listens on the configured address and serves connections in the
// background. ctx becomes the base context of request handlers; the server
// itself is stopped with Stop. Start must be called once.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsserver: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsserver: listen: %w", err)
	}
	h.url = fmt.Sprintf("ws://127.0.0.1:%d/ws", ln.Addr().(*net.TCPAddr).Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[DEBUG-WS] server error", "error", serveErr)
		}
	}()

	slog.Info("[DEBUG-WS] event stream listening", "url", h.url)
	return nil
}

// Stop shuts down the server and drops the client. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.stopOnce.Do(func() {
		h.mu.Lock()
		c := h.current
		h.current = nil
		h.mu.Unlock()
		if c != nil {
			c.close("hub stopped")
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsserver: shutdown: %w", err)
			}
		}
		slog.Info("[DEBUG-WS] event stream stopped")
	})
	return stopErr
}

// URL returns the stream URL (e.g. "ws://127.0.0.1:54321/ws"), or "" before Start.
func (h *Hub) URL() string {
	return h.url
}

// HasActiveConnection reports whether a client is connected.
func (h *Hub) HasActiveConnection() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current != nil
}

func (h *Hub) client() *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// drop forgets c if it is still the current client, then closes it.
func (h *Hub) drop(c *client, reason string) {
	h.mu.Lock()
	if h.current == c {
		h.current = nil
	}
	h.mu.Unlock()
	c.close(reason)
}

// Broadcast queues ev for the client if it wants ev's type. Without a
// client it is a no-op.
func (h *Hub) Broadcast(ev events.Event) {
	if ev == nil {
		return
	}
	c := h.client()
	if c == nil || !c.wants(ev.Type()) {
		return
	}
	frame, err := EncodeEvent(ev)
	if err != nil {
		slog.Warn("[DEBUG-WS] failed to encode event", "type", ev.Type(), "error", err)
		return
	}
	if !c.enqueue(frame) {
		slog.Warn("[DEBUG-WS] client is not keeping up, disconnecting", "queued", sendQueueSize)
		h.drop(c, "send queue full")
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DEBUG-WS] upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[DEBUG-WS] SetReadDeadline failed on new connection", "error", err)
		_ = conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := newClient(conn)
	h.mu.Lock()
	previous := h.current
	h.current = c
	h.mu.Unlock()
	if previous != nil {
		previous.close("replaced by new connection")
	}
	slog.Info("[DEBUG-WS] client connected", "remoteAddr", conn.RemoteAddr())

	go h.writePump(c)
	h.readPump(c)
}

// readPump applies subscription requests until the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		if rec := recover(); rec != nil {
			workerutil.LogPanic("wsserver-read-pump", rec)
		}
		h.drop(c, "read pump exit")
		slog.Info("[DEBUG-WS] client disconnected")
	}()

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[DEBUG-WS] read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req subscribeMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			slog.Debug("[DEBUG-WS] invalid JSON from client", "error", err)
			h.sendError(c, fmt.Sprintf("invalid JSON: %s", err))
			continue
		}
		if !c.applySubscription(req) {
			h.sendError(c, fmt.Sprintf("unknown action %q", req.Action))
			continue
		}
		slog.Debug("[DEBUG-WS] subscription updated", "action", req.Action, "types", req.Types)
	}
}

// writePump is the only writer of c.conn: queued frames and pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if rec := recover(); rec != nil {
			workerutil.LogPanic("wsserver-write-pump", rec)
		}
		h.drop(c, "write pump exit")
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				slog.Warn("[DEBUG-WS] write failed, closing connection", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				slog.Debug("[DEBUG-WS] ping failed, closing connection", "error", err)
				return
			}
		}
	}
}

func (h *Hub) sendError(c *client, message string) {
	payload, err := json.Marshal(errorMsg{Type: "error", Message: message})
	if err != nil {
		slog.Debug("[DEBUG-WS] failed to marshal error message", "error", err)
		return
	}
	if !c.enqueue(payload) {
		h.drop(c, "send queue full")
	}
}

var eventTypes = []string{
	events.TypeCompletion,
	events.TypeRegistration,
	events.TypeChord,
	events.TypeConflict,
	events.TypeConfig,
	events.TypeLog,
}

// client is one accepted connection and its subscription set.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu sync.Mutex
	// types is nil until the first subscription request; nil means all.
	types map[string]bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *client) wants(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.types == nil || c.types[typ]
}

// applySubscription updates the type set. It returns false for unknown actions.
func (c *client) applySubscription(req subscribeMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Action {
	case subscribeAction:
		if c.types == nil {
			c.types = make(map[string]bool)
		}
		for _, typ := range req.Types {
			if typ != "" {
				c.types[typ] = true
			}
		}
	case unsubscribeAction:
		if c.types == nil {
			// Unsubscribing from "everything" narrows to every known type but these.
			c.types = make(map[string]bool, len(eventTypes))
			for _, typ := range eventTypes {
				c.types[typ] = true
			}
		}
		for _, typ := range req.Types {
			delete(c.types, typ)
		}
	default:
		return false
	}
	return true
}

// enqueue hands frame to the write pump without blocking. It reports false
// when the queue is full. Frames for a closed client are discarded.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil {
			slog.Debug("[DEBUG-WS] connection close", "reason", reason, "error", err)
		}
	})
}
