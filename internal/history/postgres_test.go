package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSinkPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pg, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("acoremgr"),
		postgres.WithUsername("acore"),
		postgres.WithPassword("acore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("terminate postgres: %v", err)
		}
	}()

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewSQLSinkFromDSN(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, "postgres", s.dialect)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Send(ctx, Event{Type: EventRestart, Role: "world", PID: 7, OccurredAt: now}.WithExitCode(2)))
	got, err := s.Recent(ctx, "world", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventRestart, got[0].Type)
	assert.Equal(t, 2, *got[0].ExitCode)
}
