package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xpp-chat/backend/internal/config"
)

func TestBuildPostgresURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.PostgresConfig
		want    string
		wantErr bool
	}{
		{
			name: "url wins",
			cfg:  config.PostgresConfig{DatabaseURL: "postgres://x@h/db", User: "ignored", Database: "ignored"},
			want: "postgres://x@h/db",
		},
		{
			name: "discrete fields",
			cfg:  config.PostgresConfig{Host: "db", Port: "6543", User: "u", Password: "p", Database: "xpp", SSLMode: "require"},
			want: "postgres://u:p@db:6543/xpp?sslmode=require",
		},
		{
			name: "defaults",
			cfg:  config.PostgresConfig{User: "u", Database: "xpp"},
			want: "postgres://u@localhost:5432/xpp?sslmode=disable",
		},
		{
			name:    "missing user",
			cfg:     config.PostgresConfig{Database: "xpp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPostgresURL(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildPostgresURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("buildPostgresURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("23503 is a foreign key violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatal("plain error is not a unique violation")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped ErrNoRows not detected")
	}
	if IsNoRows(nil) {
		t.Fatal("nil is not no-rows")
	}
}
