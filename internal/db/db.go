// Package db is the user store, backed by SQLite or PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/xpp-chat/backend/internal/db/migrations"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("username or email already exists")
)

const defaultQueryTimeout = 5 * time.Second

// Migrate applies the embedded migrations for dialect ("sqlite" or "postgres").
func Migrate(ctx context.Context, conn *sql.DB, dialect string) error {
	var gooseDialect goose.Dialect
	switch dialect {
	case "sqlite":
		gooseDialect = goose.DialectSQLite3
	case "postgres":
		gooseDialect = goose.DialectPostgres
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, conn, fsys)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultQueryTimeout
	}
	return context.WithTimeout(ctx, d)
}
