// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// SQLConfig configures the SQL backend.
type SQLConfig struct {
	// Dialect is "postgres" or "mysql".
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Migrate creates the register table on open.
	Migrate bool `mapstructure:"migrate"`
}

// DefaultSQLConfig returns the connection pool defaults.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Dialect:         "postgres",
		Table:           "hll",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		Migrate:         true,
	}
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	Register(TypeSQL, func(cfg Config) (hll.Backend, error) {
		return NewSQL(cfg.SQL, cfg.MaxValueBytes)
	})
}

// SQL stores register blobs in a table keyed by the signed 64-bit key hash.
type SQL struct {
	db       *sql.DB
	dialect  Dialect
	table    string
	maxBytes int
}

// OpenSQLDB opens a *sql.DB for the dialect, parsing the DSN with the
// driver's own parser.
func OpenSQLDB(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect.(type) {
	case PostgresDialect:
		connCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return stdlib.OpenDB(*connCfg), nil
	case MySQLDialect:
		mcfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		return sql.OpenDB(connector), nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect.Name())
	}
}

// NewSQL opens the database, pings it and optionally runs Migrate.
func NewSQL(cfg SQLConfig, maxBytes int) (*SQL, error) {
	cfg = withSQLDefaults(cfg)
	if cfg.DSN == "" {
		return nil, errors.New("sql: dsn is required")
	}

	dialect, err := DialectByName(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	db, err := OpenSQLDB(dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}

	s, err := NewSQLWithDB(db, dialect, cfg.Table, maxBytes)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewSQLWithDB wraps an open database.
func NewSQLWithDB(db *sql.DB, dialect Dialect, table string, maxBytes int) (*SQL, error) {
	if table == "" {
		table = DefaultSQLConfig().Table
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("sql: invalid table name %q", table)
	}
	return &SQL{db: db, dialect: dialect, table: table, maxBytes: maxBytes}, nil
}

func withSQLDefaults(cfg SQLConfig) SQLConfig {
	def := DefaultSQLConfig()
	if cfg.Dialect == "" {
		cfg.Dialect = def.Dialect
	}
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	return cfg
}

// Migrate creates the register table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateTable(s.table, s.maxBytes)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	logger.Debug().Str("dialect", s.dialect.Name()).Str("table", s.table).Msg("sql register table ready")
	return nil
}

// DB returns the underlying database.
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) selectQuery(forUpdate bool) string {
	q := fmt.Sprintf("SELECT registers FROM %s WHERE hash = %s", s.table, s.dialect.Placeholder(1))
	if forUpdate {
		q += " FOR UPDATE"
	}
	return q
}

func (s *SQL) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.selectQuery(false), int64(keyHash)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hll.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get: %w", err)
	}
	return data, nil
}

func (s *SQL) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	return s.Get(ctx, keyHash)
}

func (s *SQL) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(s.maxBytes, registers); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert(s.table), int64(keyHash), registers); err != nil {
		return fmt.Errorf("sql upsert: %w", err)
	}
	return nil
}

// Merge inserts the blob if the key is new; otherwise it locks the row,
// merges and writes back in the same transaction.
func (s *SQL) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(s.maxBytes, registers); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.InsertIgnore(s.table), int64(keyHash), registers)
		if err != nil {
			return fmt.Errorf("sql insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return nil
		}

		var stored []byte
		if err := tx.QueryRowContext(ctx, s.selectQuery(true), int64(keyHash)).Scan(&stored); err != nil {
			return fmt.Errorf("sql select for update: %w", err)
		}
		merged, err := hll.MergeBlobs(stored, registers)
		if err != nil {
			return err
		}

		update := fmt.Sprintf("UPDATE %s SET registers = %s WHERE hash = %s",
			s.table, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
		if _, err := tx.ExecContext(ctx, update, merged, int64(keyHash)); err != nil {
			return fmt.Errorf("sql update: %w", err)
		}
		return nil
	})
}

func (s *SQL) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, keyHash uint64) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE hash = %s", s.table, s.dialect.Placeholder(1))
	if _, err := s.db.ExecContext(ctx, q, int64(keyHash)); err != nil {
		return fmt.Errorf("sql delete: %w", err)
	}
	return nil
}

func (s *SQL) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT hash, registers FROM %s ORDER BY hash", s.table))
	if err != nil {
		return fmt.Errorf("sql scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hash int64
			data []byte
		)
		if err := rows.Scan(&hash, &data); err != nil {
			return fmt.Errorf("sql scan row: %w", err)
		}
		if err := fn(uint64(hash), data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQL) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("sql purge: %w", err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

var (
	_ hll.Backend = (*SQL)(nil)
	_ hll.Scanner = (*SQL)(nil)
)
