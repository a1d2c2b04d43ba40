package service

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/prof_consult/internal/model"
)

// ConflictResult итог проверки слота
type ConflictResult struct {
	OK     bool
	Reason ConflictReason
}

// Err converts a failed result into a ConflictError
func (r ConflictResult) Err() error {
	if r.OK {
		return nil
	}
	return &ConflictError{Reason: r.Reason}
}

// CheckRequest слот, который нужно проверить
type CheckRequest struct {
	ProfessorID      int64
	Slot             model.Slot
	ExcludeBookingID int64 // бронирование, которое переносится, не конфликтует само с собой
	Override         bool  // пропустить проверку окон приёма
}

// ConflictResolver решает, можно ли занять слот
type ConflictResolver struct {
	availability *AvailabilityStore
	bookings     BookingRepository
	clock        Clock
}

func NewConflictResolver(availability *AvailabilityStore, bookings BookingRepository, clock Clock) *ConflictResolver {
	return &ConflictResolver{
		availability: availability,
		bookings:     bookings,
		clock:        clock,
	}
}

// Profile возвращает профиль преподавателя
func (r *ConflictResolver) Profile(ctx context.Context, professorID int64) (*model.ProfessorProfile, error) {
	return r.availability.Profile(ctx, professorID)
}

// Check runs the checks in order and reports the first failure:
// availability containment, overlap with occupying bookings (buffer included),
// then the past.
func (r *ConflictResolver) Check(ctx context.Context, req CheckRequest) (ConflictResult, error) {
	if !req.Override {
		ok, err := r.availability.IsAvailable(ctx, req.ProfessorID, req.Slot)
		if err != nil {
			return ConflictResult{}, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return ConflictResult{Reason: ReasonOutsideAvailability}, nil
		}
	}

	profile, err := r.availability.Profile(ctx, req.ProfessorID)
	if err != nil {
		return ConflictResult{}, err
	}
	// соседние консультации должны отстоять друг от друга на буфер преподавателя
	padded := profile.Padded(req.Slot.Interval())

	existing, err := r.bookings.ListOccupying(ctx, req.ProfessorID, padded)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("list occupying bookings: %w", err)
	}
	for _, b := range existing {
		if b.ID == req.ExcludeBookingID || !b.Status.Occupies() {
			continue
		}
		if b.Interval().Overlaps(padded) {
			return ConflictResult{Reason: ReasonSlotTaken}, nil
		}
	}

	if req.Slot.StartsAt.Before(r.clock.Now()) {
		return ConflictResult{Reason: ReasonPastSlot}, nil
	}

	return ConflictResult{OK: true}, nil
}
