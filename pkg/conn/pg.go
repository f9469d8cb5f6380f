package conn

import (
	"cmp"
	"context"
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option defines connection options for the candle database. ConnString
// wins over the individual fields when set.
type Option struct {
	Host         string       `json:"host"`
	Port         int          `json:"port"`
	User         string       `json:"user"`
	Password     string       `json:"password"`
	Database     string       `json:"database"`
	SSLMode      string       `json:"sslMode"`
	ConnString   string       `json:"connString"`
	MaxOpenConns int          `json:"maxOpenConns"`
	Verbose      bool         `json:"verbose"`
	Config       *gorm.Config `json:"-"`
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a PostgreSQL client from the provided options.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
		if option.Verbose {
			config.Logger = logger.Default.LogMode(logger.Info)
		}
	}

	db, err := gorm.Open(postgres.Open(option.DSN()), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres").With("database", option.Database)
	}
	if option.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "get sql db")
		}
		sqlDB.SetMaxOpenConns(option.MaxOpenConns)
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Ping checks the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New("postgres client is not open")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping postgres")
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DSN builds a keyword/value connection string, filling defaults.
func (opt Option) DSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	kv := []string{
		"host=" + quote(cmp.Or(opt.Host, defaultPostgresHost)),
		"port=" + strconv.Itoa(cmp.Or(opt.Port, defaultPostgresPort)),
		"sslmode=" + quote(cmp.Or(opt.SSLMode, defaultPostgresSSLMode)),
	}
	if opt.User != "" {
		kv = append(kv, "user="+quote(opt.User))
	}
	if opt.Password != "" {
		kv = append(kv, "password="+quote(opt.Password))
	}
	if opt.Database != "" {
		kv = append(kv, "dbname="+quote(opt.Database))
	}
	return strings.Join(kv, " ")
}

// quote wraps values holding spaces or quotes the way libpq expects.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
