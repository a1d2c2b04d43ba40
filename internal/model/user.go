package model

import "time"

// Role роль пользователя, выдаётся провайдером идентификации
type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleProfessor Role = "PROFESSOR"
	RoleAdmin     Role = "ADMIN"
)

// IsValid checks that the role is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleProfessor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       Role      `json:"role"`
	TelegramID *int64    `json:"telegram_id"` // чат для доставки уведомлений, nil - только in-app
	CreatedAt  time.Time `json:"created_at"`
}

// Actor аутентифицированный инициатор действия
type Actor struct {
	UserID int64
	Role   Role
}

// IsAdmin checks if actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
