// Package dbtest opens isolated in-memory sqlite databases carrying the
// production schema, for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE accounts (
		id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE transactions (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts (id),
		kind TEXT NOT NULL CHECK (kind IN ('credit', 'debit', 'adjustment')),
		amount BIGINT NOT NULL CHECK (amount >= 0),
		signed_amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_id TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_transactions_credit_reference
		ON transactions (account_id, reference_id)
		WHERE kind = 'credit' AND reference_id IS NOT NULL`,
	`CREATE TABLE usage_records (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		request_type TEXT NOT NULL CHECK (request_type IN ('chat', 'cronjob', 'api')),
		request_id TEXT,
		model TEXT,
		input_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		cost_tokens BIGINT NOT NULL DEFAULT 0,
		metadata JSON,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE gateway_configs (
		account_id BIGINT PRIMARY KEY,
		base_url TEXT NOT NULL,
		bearer_token TEXT NOT NULL,
		hooks_bearer_token TEXT,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE api_keys (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'account',
		scopes TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		expires_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database for t. A single open connection serializes
// transactions the way row locks do on postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
