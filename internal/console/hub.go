// Package console streams role-tagged log lines to WebSocket clients and
// accepts world console commands from them.
package console

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loykin/acoremgr/internal/role"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	DefaultQueueSize = 256
	DefaultBacklog   = 200
)

// Message types.
const (
	TypeLine    = "line"
	TypeCommand = "command"
	TypeError   = "error"
)

// Message is the JSON frame exchanged with clients. Servers send lines and
// errors; clients send commands.
type Message struct {
	Type string    `json:"type"`
	Role string    `json:"role,omitempty"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// CommandFunc executes a console command sent by a client.
type CommandFunc func(r role.Role, text string) error

type Options struct {
	QueueSize      int // per client; lines are dropped when full
	Backlog        int // lines replayed to new clients
	OnCommand      CommandFunc
	AllowedOrigins []string // empty allows any origin
	Logger         *slog.Logger
}

// Hub fans lines out to connected clients. It implements logsink.Sink and
// never blocks the caller.
type Hub struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
	dropped  atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*client
	backlog []Message
	next    int
	closed  bool
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan Message
	filter *role.Role
}

func (c *client) wants(r string) bool {
	return c.filter == nil || r == role.Manager.String() || r == c.filter.String()
}

func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Backlog < 0 {
		opts.Backlog = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Hub{
		opts:    opts,
		log:     opts.Logger.With("component", "console"),
		clients: map[string]*client{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o = strings.TrimSpace(o); o == "*" || o == origin {
			return true
		}
	}
	return false
}

// OnLine broadcasts one line.
func (h *Hub) OnLine(r role.Role, text string) {
	m := Message{Type: TypeLine, Role: r.String(), Text: text, Time: time.Now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.remember(m)
	for _, c := range h.clients {
		if !c.wants(m.Role) {
			continue
		}
		select {
		case c.send <- m:
		default:
			h.dropped.Add(1)
		}
	}
}

// remember appends m to the backlog ring. Caller holds mu.
func (h *Hub) remember(m Message) {
	n := h.opts.Backlog
	if n == 0 {
		return
	}
	if len(h.backlog) < n {
		h.backlog = append(h.backlog, m)
		return
	}
	h.backlog[h.next] = m
	h.next = (h.next + 1) % n
}

// recent returns the backlog oldest first. Caller holds mu.
func (h *Hub) recent() []Message {
	out := make([]Message, 0, len(h.backlog))
	out = append(out, h.backlog[h.next:]...)
	return append(out, h.backlog[:h.next]...)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many lines were dropped on full client queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request. An optional ?role=world|auth limits the
// stream to that role plus manager lines.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter *role.Role
	if q := r.URL.Query().Get("role"); q != "" {
		ro, err := role.Parse(q)
		if err != nil || !ro.IsServer() {
			http.Error(w, "unknown role", http.StatusBadRequest)
			return
		}
		filter = &ro
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan Message, h.opts.QueueSize), filter: filter}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, m := range h.recent() {
		if !c.wants(m.Role) {
			continue
		}
		select {
		case c.send <- m:
		default:
		}
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("console client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.log.Debug("console client disconnected", "client", c.id)
	}()
	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("console read failed", "client", c.id, "error", err)
			}
			return
		}
		if err := h.handle(m); err != nil {
			h.reply(c, Message{Type: TypeError, Role: m.Role, Text: err.Error(), Time: time.Now()})
		}
	}
}

func (h *Hub) handle(m Message) error {
	if m.Type != TypeCommand {
		return errors.New("unsupported message type " + m.Type)
	}
	if h.opts.OnCommand == nil {
		return errors.New("console is read-only")
	}
	r := role.World
	if m.Role != "" {
		var err error
		if r, err = role.Parse(m.Role); err != nil {
			return err
		}
	}
	h.log.Info("console command", "role", r.String(), "command", m.Text)
	return h.opts.OnCommand(r, m.Text)
}

func (h *Hub) reply(c *client, m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- m:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
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

// Close disconnects every client. Later lines are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
