package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/loykin/acoremgr/internal/config"
)

func TestSourceMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("acore_characters"),
		mysql.WithUsername("root"),
		mysql.WithPassword("acore"),
	)
	require.NoError(t, err)
	defer func() {
		if err := c.Terminate(ctx); err != nil {
			t.Errorf("terminate mysql: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	s, err := Open(config.DatabaseConfig{
		Driver:     "mysql",
		Host:       host,
		Port:       port.Int(),
		User:       "root",
		Password:   "acore",
		Characters: "acore_characters",
		Auth:       "acore_auth",
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Ping(ctx))

	_, err = s.db.ExecContext(ctx, "CREATE DATABASE acore_auth")
	require.NoError(t, err)
	seed(t, s.db, []string{
		realmSchema[0],
		`CREATE TABLE acore_auth.account_access (id INTEGER NOT NULL, gmlevel INTEGER NOT NULL)`,
		realmSchema[2],
		realmRows[0],
		`INSERT INTO acore_auth.account_access VALUES (100, 3), (104, 1), (105, 3), (103, 0)`,
		realmRows[2],
	})

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.OnlinePlayers)
	assert.Equal(t, 2, st.OnlineGMs)
	assert.Equal(t, 2, st.OpenTickets)
	assert.Equal(t, 3, st.Alliance)
	assert.Equal(t, 2, st.Horde)
}
