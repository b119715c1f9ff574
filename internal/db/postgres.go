// PostgreSQL user store
//
// Connection settings come from config.PostgresConfig: either a full URL
// (database.postgres.url / DATABASE_URL) or the discrete host/port/user/
// password/database/sslmode fields.

package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/xpp-chat/backend/internal/config"
	"github.com/xpp-chat/backend/internal/model"
)

type Postgres struct {
	Pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresPool(ctx context.Context, pgCfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn, err := buildPostgresURL(pgCfg)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

// OpenPostgres connects, migrates and returns the store.
func OpenPostgres(ctx context.Context, pgCfg config.PostgresConfig, timeout time.Duration) (*Postgres, error) {
	pool, err := NewPostgresPool(ctx, pgCfg)
	if err != nil {
		return nil, err
	}

	// goose needs a database/sql handle; it shares the pool's connections.
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	if err := Migrate(ctx, sqlDB, "postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{Pool: pool, timeout: timeout}, nil
}

func (db *Postgres) Close() error {
	db.Pool.Close()
	return nil
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Postgres) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.findOne(ctx, `WHERE username = $1`, username)
}

func (db *Postgres) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.findOne(ctx, `WHERE email = $1`, email)
}

func (db *Postgres) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return db.findOne(ctx, `WHERE id = $1`, id)
}

func (db *Postgres) InsertUser(ctx context.Context, username, passwordHash, email string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, db.timeout)
	defer cancel()

	query := `
		INSERT INTO users (username, password_hash, email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING id, username, password_hash, email, avatar_url, is_active, created_at, updated_at
	`
	user, err := scanUser(db.Pool.QueryRow(ctx, query, username, passwordHash, email))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, username)
		}
		return nil, err
	}
	return user, nil
}

func (db *Postgres) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	ctx, cancel := withTimeout(ctx, db.timeout)
	defer cancel()

	tag, err := db.Pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *Postgres) findOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, db.timeout)
	defer cancel()

	query := `
		SELECT id, username, password_hash, email, avatar_url, is_active, created_at, updated_at
		FROM users
	` + where

	user, err := scanUser(db.Pool.QueryRow(ctx, query, arg))
	if IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Email,
		&user.AvatarURL,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func buildPostgresURL(cfg config.PostgresConfig) (string, error) {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}

	if cfg.User == "" || cfg.Database == "" {
		return "", fmt.Errorf("missing postgres settings: url or user/database")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   cfg.Database,
	}
	if cfg.Password == "" {
		u.User = url.User(cfg.User)
	} else {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
