package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dbbridge/internal/discovery"
	"dbbridge/internal/store"
)

// Client wraps one driver handle dialed against a tunnel's local port. SQL
// types share database/sql; redis keeps its own client. Opening is lazy in
// all drivers, so construction never touches the network; Ping does.
type Client struct {
	ConnectionID uint
	Type         discovery.MiddlewareType
	LocalPort    int

	db  *sql.DB
	rdb *redis.Client
}

func newClient(conn *store.Connection) (*Client, error) {
	client := &Client{
		ConnectionID: conn.ID,
		Type:         discovery.MiddlewareType(conn.Type),
		LocalPort:    conn.ForwardLocalPort,
	}

	switch client.Type {
	case discovery.TypeMySQL:
		cfg := mysql.NewConfig()
		cfg.User = conn.Username
		cfg.Passwd = conn.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("localhost:%d", conn.ForwardLocalPort)
		cfg.DBName = conn.Database
		cfg.ParseTime = true
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("opening mysql client for connection %d: %w", conn.ID, err)
		}
		configurePool(db)
		client.db = db

	case discovery.TypePostgreSQL:
		dsn := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(conn.Username, conn.Password),
			Host:     fmt.Sprintf("localhost:%d", conn.ForwardLocalPort),
			Path:     "/" + conn.Database,
			RawQuery: "sslmode=disable",
		}
		db, err := sql.Open("pgx", dsn.String())
		if err != nil {
			return nil, fmt.Errorf("opening postgres client for connection %d: %w", conn.ID, err)
		}
		configurePool(db)
		client.db = db

	case discovery.TypeRedis:
		client.rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("localhost:%d", conn.ForwardLocalPort),
			Password: conn.Password,
		})

	default:
		return nil, fmt.Errorf("connection %d type %q: %w", conn.ID, conn.Type, ErrUnsupportedType)
	}

	return client, nil
}

// Tunnelled traffic is latency-bound; keep the pool small so an idle tunnel
// does not hold many cluster-side streams open.
func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

// DB returns the database/sql handle for mysql and postgresql clients,
// nil otherwise.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Redis returns the redis client, nil for SQL types.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping verifies the client can reach the database through the tunnel.
func (c *Client) Ping(ctx context.Context) error {
	if c.db != nil {
		return c.db.PingContext(ctx)
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases all driver resources.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return c.rdb.Close()
}
