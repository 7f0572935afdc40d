package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
	pkgauth "github.com/ewhitley/gatehouse/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and database handle
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs the embedded
// migrations, and returns a ready TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatehouse"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := database.NewFromPool(pool, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err := db.Migrate(); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"login_attempts",
		"username_login_attempts",
		"banned_ips",
		"invitation_codes",
		"sessions",
		"logs",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedUser inserts a test user with a hashed password
func SeedUser(ctx context.Context, pool *pgxpool.Pool, username, password, role string) (*models.User, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES (gen_random_uuid(), lower($1), $2, $3, $4, NOW())
		RETURNING id, username, email, password_hash, role, created_at
	`

	var user models.User
	err = pool.QueryRow(ctx, query, username, username+"@example.com", hashedPassword, role).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

// SeedInvite inserts an invitation code directly
func SeedInvite(ctx context.Context, pool *pgxpool.Pool, code string, expiresIn time.Duration, usageCount, maxUses int) error {
	query := `
		INSERT INTO invitation_codes (id, code, expiration_date, usage_count, max_uses, created_at)
		VALUES (gen_random_uuid(), $1, NOW() + $2::interval, $3, $4, NOW())
	`

	interval := fmt.Sprintf("%d seconds", int(expiresIn.Seconds()))
	if _, err := pool.Exec(ctx, query, code, interval, usageCount, maxUses); err != nil {
		return fmt.Errorf("failed to insert invite: %w", err)
	}
	return nil
}

// CountEvents returns the number of audit events of a given type
func CountEvents(ctx context.Context, pool *pgxpool.Pool, eventType string) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM logs WHERE event_type = $1`, eventType).Scan(&count)
	return count, err
}

// CountAttempts sums the IP-scope attempt buckets for one address
func CountAttempts(ctx context.Context, pool *pgxpool.Pool, ip string) (int, error) {
	var count int
	err := pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(attempt_count), 0) FROM login_attempts WHERE ip_address = $1`, ip).Scan(&count)
	return count, err
}
