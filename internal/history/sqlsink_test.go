package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteSink(t *testing.T) *SQLSink {
	t.Helper()
	s, err := NewSQLSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLSinkSendAndRecent(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Send(ctx, Event{Type: EventStart, Role: "world", PID: 100, OccurredAt: base}))
	require.NoError(t, s.Send(ctx, Event{Type: EventCrash, Role: "world", PID: 100, OccurredAt: base.Add(time.Minute), Message: "Worldserver crashed"}.WithExitCode(1)))
	require.NoError(t, s.Send(ctx, Event{Type: EventStart, Role: "auth", PID: 200, OccurredAt: base.Add(2 * time.Minute)}))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "auth", all[0].Role)

	world, err := s.Recent(ctx, "world", 10)
	require.NoError(t, err)
	require.Len(t, world, 2)
	assert.Equal(t, EventCrash, world[0].Type)
	require.NotNil(t, world[0].ExitCode)
	assert.Equal(t, 1, *world[0].ExitCode)
	assert.Equal(t, "Worldserver crashed", world[0].Message)
	assert.True(t, world[0].OccurredAt.Equal(base.Add(time.Minute)))
	assert.Nil(t, world[1].ExitCode)

	one, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLSinkPlainPath(t *testing.T) {
	s, err := NewSQLSinkFromDSN(filepath.Join(t.TempDir(), "plain.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, "sqlite", s.dialect)
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLSink{dialect: "postgres"}
	assert.Equal(t, "VALUES($1, $2, $3)", pg.rebind("VALUES(?, ?, ?)"))
	lite := &SQLSink{dialect: "sqlite"}
	assert.Equal(t, "VALUES(?, ?)", lite.rebind("VALUES(?, ?)"))
}

type countSink struct{ n int }

func (c *countSink) Send(context.Context, Event) error { c.n++; return nil }

func TestFanout(t *testing.T) {
	a, b := &countSink{}, &countSink{}
	f := Fanout{a, nil, b}
	require.NoError(t, f.Send(context.Background(), Event{Type: EventKill}))
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
