package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aksharshruti/platform/services/auth/internal/security"
	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

type seedUser struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
	Role        string
	Status      string
}

var demoUsers = []seedUser{
	{Email: "demo@example.com", Username: "demo", DisplayName: "Demo Writer", Password: "Demo$ecret1", Role: storage.RoleUser, Status: storage.StatusActive},
	{Email: "moderator@example.com", Username: "moderator", DisplayName: "Moderator", Password: "Moder4tor$1", Role: "moderator", Status: storage.StatusActive},
}

func main() {
	env := getEnv("AKS_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: AKS_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := os.Getenv("AKS_DATABASE_URL")
	if connStr == "" {
		connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			getEnv("POSTGRES_USER", "aks"),
			getEnv("POSTGRES_PASSWORD", "aks"),
			getEnv("POSTGRES_HOST", "localhost"),
			getEnv("POSTGRES_PORT", "5432"),
			getEnv("POSTGRES_DB", "aks_auth"),
			getEnv("POSTGRES_SSLMODE", "disable"),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := storage.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Schema migrated")

	store := storage.New(pool)
	hasher := security.NewHasher(security.DefaultArgon2Params())

	if err := seedUsers(ctx, store, hasher, demoUsers); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedUsers(ctx, store, hasher, testUsers); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	for _, u := range demoUsers {
		fmt.Printf("  %s / %s\n", u.Email, u.Password)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// seedUsers creates missing users and resets the password and status of
// existing ones, so reruns are idempotent.
func seedUsers(ctx context.Context, store *storage.Store, hasher *security.Hasher, users []seedUser) error {
	for _, u := range users {
		hash, err := hasher.Hash(u.Password)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.Email, err)
		}

		existing, err := store.GetUserByEmail(ctx, u.Email)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			existing, err = store.CreateUser(ctx, storage.NewUser{
				Email:        u.Email,
				Username:     u.Username,
				DisplayName:  u.DisplayName,
				PasswordHash: hash,
				Role:         u.Role,
			})
			if err != nil {
				return fmt.Errorf("create %s: %w", u.Email, err)
			}
		case err != nil:
			return err
		default:
			if err := store.UpdatePasswordHash(ctx, existing.ID, hash); err != nil {
				return fmt.Errorf("reset password for %s: %w", u.Email, err)
			}
		}

		if existing.Status != u.Status {
			if err := store.SetUserStatus(ctx, existing.ID, u.Status); err != nil {
				return fmt.Errorf("set status for %s: %w", u.Email, err)
			}
		}
	}
	return nil
}
