// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"strings"
)

// Dialect abstracts the SQL differences between PostgreSQL and MySQL for the
// register table.
type Dialect interface {
	// Name returns the dialect name ("postgres" or "mysql").
	Name() string

	// Placeholder returns the placeholder for the nth parameter (1-indexed).
	Placeholder(n int) string

	// CreateTable returns DDL for the register table. maxValueBytes > 0
	// bounds the blob column where the dialect supports it.
	CreateTable(table string, maxValueBytes int) string

	// InsertIgnore returns an insert of (hash, registers) that does nothing
	// when the hash already exists.
	InsertIgnore(table string) string

	// Upsert returns an insert of (hash, registers) that overwrites on conflict.
	Upsert(table string) string
}

// DialectByName returns the dialect for "postgres" or "mysql".
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return PostgresDialect{}, nil
	case "mysql", "vitess":
		return MySQLDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown sql dialect: %q", name)
	}
}

// PostgresDialect implements Dialect for PostgreSQL.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgresDialect) CreateTable(table string, maxValueBytes int) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (hash BIGINT PRIMARY KEY, registers BYTEA NOT NULL)", table)
}

func (PostgresDialect) InsertIgnore(table string) string {
	return fmt.Sprintf("INSERT INTO %s (hash, registers) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING", table)
}

func (PostgresDialect) Upsert(table string) string {
	return fmt.Sprintf("INSERT INTO %s (hash, registers) VALUES ($1, $2) ON CONFLICT (hash) DO UPDATE SET registers = EXCLUDED.registers", table)
}

// MySQLDialect implements Dialect for MySQL and Vitess.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Placeholder(n int) string { return "?" }

func (MySQLDialect) CreateTable(table string, maxValueBytes int) string {
	column := "BLOB"
	if maxValueBytes > 0 {
		column = fmt.Sprintf("VARBINARY(%d)", maxValueBytes)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (hash BIGINT PRIMARY KEY, registers %s NOT NULL)", table, column)
}

func (MySQLDialect) InsertIgnore(table string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (hash, registers) VALUES (?, ?)", table)
}

func (MySQLDialect) Upsert(table string) string {
	return fmt.Sprintf("INSERT INTO %s (hash, registers) VALUES (?, ?) ON DUPLICATE KEY UPDATE registers = VALUES(registers)", table)
}

var (
	_ Dialect = PostgresDialect{}
	_ Dialect = MySQLDialect{}
)
