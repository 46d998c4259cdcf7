package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/acoremgr/internal/config"
	"github.com/loykin/acoremgr/internal/logsink"
	"github.com/loykin/acoremgr/internal/role"
)

var realmSchema = []string{
	`CREATE TABLE characters (guid INTEGER PRIMARY KEY, account INTEGER NOT NULL, race INTEGER NOT NULL, online INTEGER NOT NULL)`,
	`CREATE TABLE account_access (id INTEGER NOT NULL, gmlevel INTEGER NOT NULL)`,
	`CREATE TABLE gm_ticket (id INTEGER PRIMARY KEY, type INTEGER NOT NULL)`,
}

var realmRows = []string{
	// alliance: human, dwarf, draenei(11); horde: orc, troll(8); one offline
	`INSERT INTO characters VALUES (1, 100, 1, 1), (2, 101, 3, 1), (3, 102, 11, 1), (4, 103, 2, 1), (5, 104, 8, 1), (6, 105, 4, 0)`,
	`INSERT INTO account_access VALUES (100, 3), (104, 1), (105, 3), (103, 0)`,
	`INSERT INTO gm_ticket VALUES (1, 0), (2, 0), (3, 1)`,
}

func seed(t *testing.T, db *sql.DB, stmts ...[]string) {
	t.Helper()
	for _, group := range stmts {
		for _, q := range group {
			_, err := db.Exec(q)
			require.NoError(t, err, q)
		}
	}
}

func openSQLite(t *testing.T) *Source {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:     "sqlite",
		DSN:        filepath.Join(t.TempDir(), "realm.db"),
		Characters: "main",
		Auth:       "main",
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seed(t, s.db, realmSchema, realmRows)
	return s
}

func TestSourceQueries(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	n, err := s.OnlinePlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	gms, err := s.OnlineGMs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gms)

	tickets, err := s.OpenTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tickets)

	a, h, err := s.FactionBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, a)
	assert.Equal(t, 2, h)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, st.Live)
	assert.Equal(t, Stats{OnlinePlayers: 5, OnlineGMs: 2, OpenTickets: 2, Alliance: 3, Horde: 2, Live: true, UpdatedAt: st.UpdatedAt}, st)
}

func TestStatsMissingTable(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "empty.db"), Characters: "main", Auth: "main"}
	s, err := Open(cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "online players")
}

func TestOpenRejectsBadNames(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: "x.db", Characters: "chars; DROP TABLE x", Auth: "main"})
	assert.Error(t, err)
	_, err = Open(config.DatabaseConfig{Driver: "oracle", Characters: "a", Auth: "b"})
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, User: "acore", Password: "pw", Characters: "acore_characters"}
	drv, dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mysql", drv)
	assert.True(t, strings.HasPrefix(dsn, "acore:pw@tcp(127.0.0.1:3306)/acore_characters"), dsn)

	cfg.Driver = "postgres"
	drv, dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "pgx", drv)
	assert.Equal(t, "postgres://acore:pw@127.0.0.1:3306/acore_characters?sslmode=disable", dsn)

	cfg.DSN = "postgres://other/db"
	_, dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://other/db", dsn)

	_, _, err = DSN(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
	drv, dsn, err = DSN(config.DatabaseConfig{Driver: "sqlite", DSN: "sqlite:///tmp/realm.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", drv)
	assert.Equal(t, "/tmp/realm.db", dsn)
}

type fakeQuerier struct {
	st  Stats
	err error
	n   int
}

func (f *fakeQuerier) Stats(context.Context) (Stats, error) {
	f.n++
	return f.st, f.err
}

func TestPollerSkipsWhenWorldStopped(t *testing.T) {
	q := &fakeQuerier{st: Stats{OnlinePlayers: 9, Live: true}}
	running := false
	p := NewPoller(q, func() bool { return running }, nil, nil)

	st := p.Poll(context.Background())
	assert.False(t, st.Live)
	assert.Equal(t, 0, st.OnlinePlayers)
	assert.Equal(t, 0, q.n)

	running = true
	st = p.Poll(context.Background())
	assert.True(t, st.Live)
	assert.Equal(t, 9, p.Latest().OnlinePlayers)
	assert.Equal(t, 1, q.n)
}

func TestPollerKeepsFiguresOnError(t *testing.T) {
	q := &fakeQuerier{st: Stats{OnlinePlayers: 4, Live: true}}
	rec := &logsink.Recorder{}
	p := NewPoller(q, nil, rec, nil)
	p.Poll(context.Background())

	q.err = errors.New("connection refused")
	st := p.Poll(context.Background())
	assert.Equal(t, 4, st.OnlinePlayers)
	assert.Equal(t, "connection refused", st.Error)
	assert.True(t, rec.Contains(role.Manager, "Dashboard query failed: connection refused"))
}

func TestPollerWithSQLite(t *testing.T) {
	s := openSQLite(t)
	p := NewPoller(s, func() bool { return true }, nil, nil)
	st := p.Poll(context.Background())
	assert.Empty(t, st.Error)
	assert.Equal(t, 5, st.OnlinePlayers)
	assert.Equal(t, 2, p.Latest().Horde)
}
