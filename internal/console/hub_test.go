package console

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/role"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestBroadcastLines(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)

	h.OnLine(role.World, "World initialized")
	h.OnLine(role.Manager, "Worldserver started (PID 42).")

	m := read(t, conn)
	assert.Equal(t, TypeLine, m.Type)
	assert.Equal(t, "world", m.Role)
	assert.Equal(t, "World initialized", m.Text)
	m = read(t, conn)
	assert.Equal(t, "manager", m.Role)
}

func TestRoleFilter(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "?role=auth")
	waitClients(t, h, 1)

	h.OnLine(role.World, "world line")
	h.OnLine(role.Auth, "auth line")
	h.OnLine(role.Manager, "manager line")

	assert.Equal(t, "auth line", read(t, conn).Text)
	assert.Equal(t, "manager line", read(t, conn).Text)
}

func TestUnknownRoleFilter(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?role=realm")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBacklogReplayedOnConnect(t *testing.T) {
	h := NewHub(Options{Backlog: 2})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	h.OnLine(role.World, "one")
	h.OnLine(role.World, "two")
	h.OnLine(role.World, "three")

	conn := dial(t, srv, "")
	assert.Equal(t, "two", read(t, conn).Text)
	assert.Equal(t, "three", read(t, conn).Text)
}

func TestSlowClientDropsLines(t *testing.T) {
	h := NewHub(Options{QueueSize: 1})
	h.mu.Lock()
	h.clients["slow"] = &client{id: "slow", send: make(chan Message, 1)}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.OnLine(role.World, "line")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLine blocked on a full client queue")
	}
	assert.Equal(t, uint64(9), h.Dropped())
}

func TestCommandsReachHandler(t *testing.T) {
	var mu sync.Mutex
	var got []string
	h := NewHub(Options{OnCommand: func(r role.Role, text string) error {
		mu.Lock()
		got = append(got, r.String()+":"+text)
		mu.Unlock()
		return nil
	}})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(Message{Type: TypeCommand, Text: ".server info"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "world:.server info"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	m := read(t, conn)
	assert.Equal(t, TypeError, m.Type)
	assert.Contains(t, m.Text, "unsupported message type")
}

func TestReadOnlyConsole(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(Message{Type: TypeCommand, Text: "server info"}))
	m := read(t, conn)
	assert.Equal(t, TypeError, m.Type)
	assert.Equal(t, "console is read-only", m.Text)
}

func TestCloseDisconnects(t *testing.T) {
	h := NewHub(Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	h.Close()
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	h.OnLine(role.World, "after close")
}
