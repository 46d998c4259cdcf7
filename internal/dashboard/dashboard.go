// Package dashboard reads realm statistics (online players, GMs, tickets,
// faction balance) from the AzerothCore databases.
package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/loykin/acoremgr/internal/config"
)

// Race ids per faction, as stored in characters.race.
var (
	AllianceRaces = []int{1, 3, 4, 7, 11, 22}
	HordeRaces    = []int{2, 5, 6, 8, 9, 10}
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source queries one realm. The connection opens the characters database;
// the auth database is reached by qualifying its tables. On Postgres the
// auth name is used as a schema.
type Source struct {
	db         *sql.DB
	driver     string
	characters string
	auth       string
}

// DSN returns the database/sql driver name and DSN for cfg.
func DSN(cfg config.DatabaseConfig) (driver, dsn string, err error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "mysql":
		if cfg.DSN != "" {
			return "mysql", cfg.DSN, nil
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Characters
		mc.Timeout = 5 * time.Second
		mc.ReadTimeout = 10 * time.Second
		return "mysql", mc.FormatDSN(), nil
	case "postgres":
		if cfg.DSN != "" {
			return "pgx", cfg.DSN, nil
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:     "/" + cfg.Characters,
			RawQuery: "sslmode=disable",
		}
		return "pgx", u.String(), nil
	case "sqlite":
		if cfg.DSN == "" {
			return "", "", errors.New("sqlite requires database.dsn")
		}
		return "sqlite", strings.TrimPrefix(cfg.DSN, "sqlite://"), nil
	}
	return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Open prepares a Source for cfg. It does not connect; see Ping.
func Open(cfg config.DatabaseConfig) (*Source, error) {
	for _, n := range []string{cfg.Characters, cfg.Auth} {
		if !identRe.MatchString(n) {
			return nil, fmt.Errorf("invalid database name %q", n)
		}
	}
	driver, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	return &Source{db: db, driver: driver, characters: cfg.Characters, auth: cfg.Auth}, nil
}

func (s *Source) Close() error { return s.db.Close() }

// Ping tests the connection.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Source) count(ctx context.Context, q string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// OnlinePlayers counts online characters.
func (s *Source) OnlinePlayers(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM characters WHERE online = 1")
}

// OnlineGMs counts online characters whose account has gmlevel > 0.
func (s *Source) OnlineGMs(ctx context.Context) (int, error) {
	chars := s.characters + ".characters"
	if s.driver == "pgx" {
		chars = "characters"
	}
	q := "SELECT COUNT(*) FROM " + chars + " c JOIN " + s.auth +
		".account_access a ON c.account = a.id WHERE c.online = 1 AND a.gmlevel > 0"
	return s.count(ctx, q)
}

// OpenTickets counts open GM tickets.
func (s *Source) OpenTickets(ctx context.Context) (int, error) {
	return s.count(ctx, "SELECT COUNT(*) FROM gm_ticket WHERE type = 0")
}

// FactionBalance counts online characters per faction. Races outside both
// lists are ignored.
func (s *Source) FactionBalance(ctx context.Context) (alliance, horde int, err error) {
	rows, err := s.db.QueryContext(ctx, "SELECT race, COUNT(*) FROM characters WHERE online = 1 GROUP BY race")
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var race, n int
		if err := rows.Scan(&race, &n); err != nil {
			return 0, 0, err
		}
		switch {
		case contains(AllianceRaces, race):
			alliance += n
		case contains(HordeRaces, race):
			horde += n
		}
	}
	return alliance, horde, rows.Err()
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Stats runs every query. The first failure aborts.
func (s *Source) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.OnlinePlayers, err = s.OnlinePlayers(ctx); err != nil {
		return Stats{}, fmt.Errorf("online players: %w", err)
	}
	if st.OnlineGMs, err = s.OnlineGMs(ctx); err != nil {
		return Stats{}, fmt.Errorf("online gms: %w", err)
	}
	if st.OpenTickets, err = s.OpenTickets(ctx); err != nil {
		return Stats{}, fmt.Errorf("open tickets: %w", err)
	}
	if st.Alliance, st.Horde, err = s.FactionBalance(ctx); err != nil {
		return Stats{}, fmt.Errorf("faction balance: %w", err)
	}
	st.Live = true
	st.UpdatedAt = time.Now()
	return st, nil
}
