package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(db *base.Repository) *UserRepository {
	return &UserRepository{Repository: db}
}

const userColumns = `id, email, full_name, role, telegram_id, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.Role,
		&user.TelegramID,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create создаёт нового пользователя
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (email, full_name, role, telegram_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.QueryRow(
		ctx, query,
		user.Email,
		user.FullName,
		user.Role,
		user.TelegramID,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("create user: %w", ErrDuplicate)
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil // Пользователь не найден
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return user, nil
}

// GetByTelegramID получает пользователя по Telegram ID
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.QueryRow(ctx, query, telegramID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by telegram id: %w", err)
	}

	return user, nil
}

// ListByRole возвращает пользователей с указанной ролью
func (r *UserRepository) ListByRole(ctx context.Context, role model.Role) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 ORDER BY full_name`

	rows, err := r.Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetTelegramID привязывает (или отвязывает при nil) Telegram-чат пользователя
func (r *UserRepository) SetTelegramID(ctx context.Context, userID int64, telegramID *int64) error {
	query := `UPDATE users SET telegram_id = $1 WHERE id = $2`

	affected, err := r.ExecAffected(ctx, query, telegramID, userID)
	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("set telegram id: %w", ErrDuplicate)
		}
		return fmt.Errorf("set telegram id: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("set telegram id: %w", ErrNoRows)
	}

	return nil
}

// CreateLinkCode сохраняет одноразовый код привязки Telegram-чата
func (r *UserRepository) CreateLinkCode(ctx context.Context, code string, telegramID int64, expiresAt time.Time) error {
	query := `
		INSERT INTO telegram_link_codes (code, telegram_id, expires_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.ExecAffected(ctx, query, code, telegramID, expiresAt); err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("create link code: %w", ErrDuplicate)
		}
		return fmt.Errorf("create link code: %w", err)
	}

	return nil
}

// ConsumeLinkCode удаляет действующий код и возвращает чат, для которого он выдан
func (r *UserRepository) ConsumeLinkCode(ctx context.Context, code string, now time.Time) (int64, bool, error) {
	query := `
		DELETE FROM telegram_link_codes
		WHERE code = $1 AND expires_at > $2
		RETURNING telegram_id
	`

	var telegramID int64
	err := r.QueryRow(ctx, query, code, now).Scan(&telegramID)
	if err != nil {
		if base.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("consume link code: %w", err)
	}

	return telegramID, true, nil
}

// DeleteExpiredLinkCodes удаляет просроченные коды
func (r *UserRepository) DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int64, error) {
	affected, err := r.ExecAffected(ctx, `DELETE FROM telegram_link_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired link codes: %w", err)
	}
	return affected, nil
}
