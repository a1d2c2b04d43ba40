package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	linkCodeLength   = 8
	linkCodeTTL      = 15 * time.Minute
	linkCodeAttempts = 3
)

type UserService struct {
	tx       Transactor
	userRepo UserRepository
	codes    LinkCodeRepository
	clock    Clock
	logger   *zap.Logger
}

func NewUserService(tx Transactor, userRepo UserRepository, codes LinkCodeRepository, clock Clock, logger *zap.Logger) *UserService {
	return &UserService{
		tx:       tx,
		userRepo: userRepo,
		codes:    codes,
		clock:    clock,
		logger:   logger,
	}
}

// RegisterUser регистрирует пользователя с ролью от провайдера идентификации
func (s *UserService) RegisterUser(ctx context.Context, email, fullName string, role model.Role) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateVar("email", email, "required,email,max=254"); err != nil {
		return nil, err
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, invalid("full_name", "is required")
	}
	if !role.IsValid() {
		return nil, invalid("role", "unknown role %q", role)
	}

	user := &model.User{
		Email:    email,
		FullName: fullName,
		Role:     role,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("email", "already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("New user registered",
		zap.Int64("user_id", user.ID),
		zap.String("role", string(role)),
	)

	return user, nil
}

// GetByID получает пользователя по ID
func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// GetByTelegramID получает пользователя по Telegram ID
func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.userRepo.GetByTelegramID(ctx, telegramID)
}

// IssueLinkCode выдаёт одноразовый код привязки для чата, из которого пришёл /start
func (s *UserService) IssueLinkCode(ctx context.Context, telegramID int64) (string, error) {
	if telegramID == 0 {
		return "", invalid("telegram_id", "must not be zero")
	}

	now := s.clock.Now()
	if _, err := s.codes.DeleteExpiredLinkCodes(ctx, now); err != nil {
		s.logger.Warn("Failed to purge expired link codes", zap.Error(err))
	}

	expiresAt := now.Add(linkCodeTTL)
	for range linkCodeAttempts {
		code := newLinkCode()
		err := s.codes.CreateLinkCode(ctx, code, telegramID, expiresAt)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create link code: %w", err)
		}

		s.logger.Info("Telegram link code issued", zap.Int64("chat_id", telegramID))
		return code, nil
	}
	return "", fmt.Errorf("create link code: %w", repository.ErrDuplicate)
}

func newLinkCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:linkCodeLength])
}

// LinkTelegram привязывает чат по коду, который бот прислал в этот чат
func (s *UserService) LinkTelegram(ctx context.Context, actor model.Actor, code string) (*model.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := validateVar("code", code, fmt.Sprintf("required,len=%d,hexadecimal", linkCodeLength)); err != nil {
		return nil, err
	}

	var chatID int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		id, ok, err := s.codes.ConsumeLinkCode(ctx, code, s.clock.Now())
		if err != nil {
			return fmt.Errorf("consume link code: %w", err)
		}
		if !ok {
			return invalid("code", "unknown or expired code")
		}
		chatID = id

		err = s.userRepo.SetTelegramID(ctx, actor.UserID, &chatID)
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return invalid("code", "chat is already linked to another user")
		case errors.Is(err, repository.ErrNoRows):
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Telegram chat linked",
		zap.Int64("user_id", actor.UserID),
		zap.Int64("chat_id", chatID),
	)

	return s.userRepo.GetByID(ctx, actor.UserID)
}

// UnlinkTelegram отвязывает чат, уведомления остаются только в приложении
func (s *UserService) UnlinkTelegram(ctx context.Context, actor model.Actor) (*model.User, error) {
	err := s.userRepo.SetTelegramID(ctx, actor.UserID, nil)
	if errors.Is(err, repository.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Telegram chat unlinked", zap.Int64("user_id", actor.UserID))
	return s.userRepo.GetByID(ctx, actor.UserID)
}
