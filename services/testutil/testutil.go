package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SetupTestDB connects to AKS_DATABASE_URL, or to a DSN assembled from the
// POSTGRES_* variables.
func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := os.Getenv("AKS_DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			getEnv("POSTGRES_USER", "aks"),
			getEnv("POSTGRES_PASSWORD", "aks"),
			getEnv("POSTGRES_HOST", "localhost"),
			getEnv("POSTGRES_PORT", "5432"),
			getEnv("POSTGRES_DB", "aks_auth"),
			getEnv("POSTGRES_SSLMODE", "disable"),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// CleanupTestData drops every refresh token and every user cmd/seed did not
// create.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `DELETE FROM refresh_tokens`); err != nil {
		return fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM users WHERE email <> ALL($1)`, SeededEmails); err != nil {
		return fmt.Errorf("cleanup users: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
