package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xpp-chat/backend/internal/model"
)

// SQLite is the default single-file user store.
type SQLite struct {
	DB      *sql.DB
	timeout time.Duration
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, timeout time.Duration) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if err := Migrate(ctx, conn, "sqlite"); err != nil {
		conn.Close()
		return nil, err
	}
	// single writer once migrated; avoids SQLITE_BUSY between pooled connections
	conn.SetMaxOpenConns(1)

	return &SQLite{DB: conn, timeout: timeout}, nil
}

func (s *SQLite) Close() error {
	return s.DB.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLite) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findOne(ctx, `WHERE username = ?`, username)
}

func (s *SQLite) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, `WHERE email = ?`, email)
}

func (s *SQLite) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return s.findOne(ctx, `WHERE id = ?`, id)
}

// InsertUser stores a new active user. Unique collisions on username or
// email come back as ErrDuplicate.
func (s *SQLite) InsertUser(ctx context.Context, username, passwordHash, email string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().Unix()
	query := `
		INSERT INTO users (username, password_hash, email, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`
	res, err := s.DB.ExecContext(ctx, query, username, passwordHash, email, now, now)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, username)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		IsActive:     true,
		CreatedAt:    time.Unix(now, 0),
		UpdatedAt:    time.Unix(now, 0),
	}, nil
}

// UpdatePasswordHash replaces the stored hash, e.g. after upgrading a
// legacy digest.
func (s *SQLite) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) findOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, username, password_hash, email, avatar_url, is_active, created_at, updated_at
		FROM users
	` + where

	var (
		user      model.User
		avatar    sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := s.DB.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Email,
		&avatar,
		&user.IsActive,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if avatar.Valid {
		user.AvatarURL = &avatar.String
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
