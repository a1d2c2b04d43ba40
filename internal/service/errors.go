package service

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/prof_consult/internal/model"
)

var (
	// ErrForbidden actor lacks the role or ownership required for the action
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound запрошенная сущность не существует
	ErrNotFound = errors.New("not found")
)

// ValidationError некорректные входные данные
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictReason причина, по которой слот нельзя забронировать
type ConflictReason string

const (
	ReasonOutsideAvailability ConflictReason = "OUTSIDE_AVAILABILITY"
	ReasonSlotTaken           ConflictReason = "SLOT_TAKEN"
	ReasonPastSlot            ConflictReason = "PAST_SLOT"
)

// ConflictError слот не прошёл проверку конфликтов
type ConflictError struct {
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	return "conflict: " + string(e.Reason)
}

// InvalidTransitionError действие недопустимо в текущем статусе или guard не выполнен
type InvalidTransitionError struct {
	From   model.BookingStatus
	Action model.Action
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: %s from %s", e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// DependencyError сбой внешней зависимости (доставка уведомления, календарь).
// Обрабатывается воркерами и не возвращается из операций над бронированием.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a ConflictError with the given reason
func IsConflict(err error, reason ConflictReason) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Reason == reason
}

// IsInvalidTransition reports whether err is an InvalidTransitionError
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
