package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email,
		&user.PasswordHash, &user.Role, &user.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

// GetByUsername matches case-insensitively; usernames are stored lowercase.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, role, created_at
		FROM users WHERE username = $1
	`

	return scanUserRow(r.db.Pool.QueryRow(ctx, query, strings.ToLower(username)))
}

// CreateTx inserts the user inside the registration transaction so the
// invite consumption and the account creation commit or roll back together.
func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	user.Username = strings.ToLower(user.Username)
	user.CreatedAt = time.Now().UTC()

	if user.Role == "" {
		user.Role = models.RoleUser
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, username, email, password_hash, role, created_at
	`

	return scanUserRow(tx.QueryRow(ctx, query,
		user.ID, user.Username, user.Email,
		user.PasswordHash, user.Role, user.CreatedAt,
	))
}
