package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository"
	"go.uber.org/zap"
)

// MaxFreeSlotsRange максимальная ширина диапазона поиска свободных слотов
const MaxFreeSlotsRange = 62 * 24 * time.Hour

// WindowInput параметры нового окна приёма
type WindowInput struct {
	ProfessorID int64   `json:"professor_id"`
	Weekday     *int    `json:"weekday" validate:"omitempty,min=0,max=6"`
	Date        *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Start       string  `json:"start" validate:"required"`
	End         string  `json:"end" validate:"required"`
	SlotMinutes int     `json:"slot_minutes" validate:"min=0,max=240"`
}

// AvailabilityStore хранит окна приёма и отвечает, свободен ли слот
type AvailabilityStore struct {
	tx       Transactor
	users    UserRepository
	windows  AvailabilityRepository
	bookings BookingRepository
	profiles ProfileRepository
	clock    Clock
	loc      *time.Location
	logger   *zap.Logger
}

func NewAvailabilityStore(
	tx Transactor,
	users UserRepository,
	windows AvailabilityRepository,
	bookings BookingRepository,
	profiles ProfileRepository,
	clock Clock,
	loc *time.Location,
	logger *zap.Logger,
) *AvailabilityStore {
	return &AvailabilityStore{
		tx:       tx,
		users:    users,
		windows:  windows,
		bookings: bookings,
		profiles: profiles,
		clock:    clock,
		loc:      loc,
		logger:   logger,
	}
}

// AddWindow добавляет окно приёма. Professors manage their own windows, admins any professor's.
func (s *AvailabilityStore) AddWindow(ctx context.Context, actor model.Actor, in WindowInput) (*model.AvailabilityWindow, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	professorID, err := s.resolveProfessor(ctx, actor, in.ProfessorID)
	if err != nil {
		return nil, err
	}

	w, err := s.buildWindow(professorID, in)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.windows.LockProfessor(ctx, professorID); err != nil {
			return err
		}

		existing, err := s.windows.ListByProfessor(ctx, professorID)
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		for _, other := range existing {
			if w.Overlaps(other) {
				return invalid("window", "overlaps window %d (%s-%s)",
					other.ID, model.FormatClock(other.StartMinute), model.FormatClock(other.EndMinute))
			}
		}

		return s.windows.Create(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Availability window added",
		zap.Int64("window_id", w.ID),
		zap.Int64("professor_id", professorID),
		zap.String("day", w.DayKey()),
		zap.String("start", model.FormatClock(w.StartMinute)),
		zap.String("end", model.FormatClock(w.EndMinute)),
	)

	return w, nil
}

func (s *AvailabilityStore) resolveProfessor(ctx context.Context, actor model.Actor, requested int64) (int64, error) {
	switch actor.Role {
	case model.RoleProfessor:
		if requested != 0 && requested != actor.UserID {
			return 0, ErrForbidden
		}
		return actor.UserID, nil
	case model.RoleAdmin:
		if requested == 0 {
			return 0, invalid("professor_id", "is required")
		}
		user, err := s.users.GetByID(ctx, requested)
		if err != nil {
			return 0, fmt.Errorf("get professor: %w", err)
		}
		if user == nil || user.Role != model.RoleProfessor {
			return 0, invalid("professor_id", "professor %d not found", requested)
		}
		return requested, nil
	default:
		return 0, ErrForbidden
	}
}

func (s *AvailabilityStore) buildWindow(professorID int64, in WindowInput) (*model.AvailabilityWindow, error) {
	start, err := model.ClockMinutes(in.Start)
	if err != nil {
		return nil, invalid("start", "must be HH:MM")
	}
	end, err := model.ClockMinutes(in.End)
	if err != nil {
		return nil, invalid("end", "must be HH:MM")
	}

	w := &model.AvailabilityWindow{
		ProfessorID: professorID,
		StartMinute: start,
		EndMinute:   end,
		SlotMinutes: in.SlotMinutes,
	}
	if in.Weekday != nil {
		wd := time.Weekday(*in.Weekday)
		w.Weekday = &wd
	}
	if in.Date != nil {
		d, err := time.ParseInLocation(time.DateOnly, *in.Date, s.loc)
		if err != nil {
			return nil, invalid("date", "must be YYYY-MM-DD")
		}
		w.Date = &d
	}

	if err := w.Validate(); err != nil {
		return nil, invalid("window", "%s", err.Error())
	}
	return w, nil
}

// ListWindows возвращает окна преподавателя
func (s *AvailabilityStore) ListWindows(ctx context.Context, professorID int64) ([]*model.AvailabilityWindow, error) {
	return s.windows.ListByProfessor(ctx, professorID)
}

// DeleteWindow удаляет окно. Existing bookings inside it are kept.
func (s *AvailabilityStore) DeleteWindow(ctx context.Context, actor model.Actor, id int64) error {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get window: %w", err)
	}
	if w == nil {
		return ErrNotFound
	}
	if !actor.IsAdmin() && w.ProfessorID != actor.UserID {
		return ErrForbidden
	}

	if err := s.windows.Delete(ctx, w.ProfessorID, id); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	s.logger.Info("Availability window deleted",
		zap.Int64("window_id", id),
		zap.Int64("professor_id", w.ProfessorID),
	)
	return nil
}

// IsAvailable checks that the slot lies entirely inside one availability window of the professor
func (s *AvailabilityStore) IsAvailable(ctx context.Context, professorID int64, slot model.Slot) (bool, error) {
	windows, err := s.windows.ListByProfessor(ctx, professorID)
	if err != nil {
		return false, fmt.Errorf("list windows: %w", err)
	}

	start := slot.StartsAt.In(s.loc)
	startMin := start.Hour()*60 + start.Minute()
	return newWindowIndex(windows).contains(model.DateOf(start), startMin, startMin+slot.DurationMinutes), nil
}

// Profile возвращает профиль преподавателя, для ненастроенного профиля значения по умолчанию
func (s *AvailabilityStore) Profile(ctx context.Context, professorID int64) (*model.ProfessorProfile, error) {
	p, err := s.profiles.Get(ctx, professorID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p == nil {
		return model.DefaultProfile(professorID), nil
	}
	return p, nil
}

// FreeSlots returns the free parts of the professor's windows within [from, to),
// cut into granularity-minute slots. Zero granularity falls back to each window's
// own slot size, and to whole free intervals when that is zero too.
//
// Slots are cut from the start of each free run, so they stay on the window grid
// no matter what time it is now. Slots starting before now are dropped. Bookings
// keep the professor's buffer free on both sides.
func (s *AvailabilityStore) FreeSlots(ctx context.Context, professorID int64, from, to time.Time, granularity int) (iter.Seq[model.Interval], error) {
	if !from.Before(to) {
		return nil, invalid("to", "must be after from")
	}
	if to.Sub(from) > MaxFreeSlotsRange {
		return nil, invalid("to", "range must not exceed %d days", int(MaxFreeSlotsRange.Hours()/24))
	}
	if granularity < 0 {
		return nil, invalid("granularity", "must not be negative")
	}

	notBefore := from
	if now := s.clock.Now(); notBefore.Before(now) {
		notBefore = now
	}
	if !notBefore.Before(to) {
		return func(func(model.Interval) bool) {}, nil
	}
	notBefore, to = notBefore.In(s.loc), to.In(s.loc)

	windows, err := s.windows.ListByProfessor(ctx, professorID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	profile, err := s.Profile(ctx, professorID)
	if err != nil {
		return nil, err
	}

	// окна текущего дня могли начаться раньше notBefore
	day0 := model.DateOf(notBefore)
	busy, err := s.bookings.ListOccupying(ctx, professorID, profile.Padded(model.Interval{Start: day0, End: to}))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	busyIntervals := make([]model.Interval, 0, len(busy))
	for _, b := range busy {
		busyIntervals = append(busyIntervals, profile.Padded(b.Interval()))
	}
	slices.SortFunc(busyIntervals, func(a, b model.Interval) int { return a.Start.Compare(b.Start) })

	ix := newWindowIndex(windows)

	return func(yield func(model.Interval) bool) {
		for day := day0; day.Before(to); day = day.AddDate(0, 0, 1) {
			// recurring and one-off windows of the same day may produce the same slot
			seen := make(map[[2]int64]struct{})
			emit := func(iv model.Interval) bool {
				key := [2]int64{iv.Start.UnixNano(), iv.End.UnixNano()}
				if _, dup := seen[key]; dup {
					return true
				}
				seen[key] = struct{}{}
				return yield(iv)
			}
			for _, sp := range ix.spans(day) {
				iv := sp.iv
				if iv.End.After(to) {
					iv.End = to
				}
				if !iv.End.After(notBefore) || !iv.Start.Before(iv.End) {
					continue
				}
				step := granularity
				if step == 0 {
					step = sp.step
				}
				for _, free := range subtract(iv, busyIntervals) {
					if !emitSlots(free, step, notBefore, emit) {
						return
					}
				}
			}
		}
	}, nil
}

// emitSlots режет free на слоты по stepMinutes от начала free и пропускает
// слоты, начинающиеся раньше notBefore
func emitSlots(free model.Interval, stepMinutes int, notBefore time.Time, yield func(model.Interval) bool) bool {
	if stepMinutes <= 0 {
		if free.Start.Before(notBefore) {
			free.Start = ceilMinute(notBefore)
		}
		if !free.Start.Before(free.End) {
			return true
		}
		return yield(free)
	}
	step := time.Duration(stepMinutes) * time.Minute
	for start := free.Start; !start.Add(step).After(free.End); start = start.Add(step) {
		if start.Before(notBefore) {
			continue
		}
		if !yield(model.Interval{Start: start, End: start.Add(step)}) {
			return false
		}
	}
	return true
}

// ceilMinute округляет t вверх до целой минуты
func ceilMinute(t time.Time) time.Time {
	m := t.Truncate(time.Minute)
	if m.Before(t) {
		m = m.Add(time.Minute)
	}
	return m
}

// subtract вычитает из iv отсортированные по началу занятые интервалы
func subtract(iv model.Interval, busy []model.Interval) []model.Interval {
	var out []model.Interval
	cur := iv.Start
	for _, b := range busy {
		if !b.End.After(cur) || !b.Start.Before(iv.End) {
			continue
		}
		if b.Start.After(cur) {
			out = append(out, model.Interval{Start: cur, End: b.Start})
		}
		if b.End.After(cur) {
			cur = b.End
		}
	}
	if cur.Before(iv.End) {
		out = append(out, model.Interval{Start: cur, End: iv.End})
	}
	return out
}

// windowIndex окна преподавателя, сгруппированные по ключу дня и отсортированные по началу
type windowIndex struct {
	byKey map[string][]*model.AvailabilityWindow
}

func newWindowIndex(windows []*model.AvailabilityWindow) *windowIndex {
	ix := &windowIndex{byKey: make(map[string][]*model.AvailabilityWindow)}
	for _, w := range windows {
		key := w.DayKey()
		ix.byKey[key] = append(ix.byKey[key], w)
	}
	for _, list := range ix.byKey {
		sort.Slice(list, func(i, j int) bool { return list[i].StartMinute < list[j].StartMinute })
	}
	return ix
}

// lists returns the recurring and the one-off windows effective on date
func (ix *windowIndex) lists(date time.Time) [2][]*model.AvailabilityWindow {
	return [2][]*model.AvailabilityWindow{
		ix.byKey[model.WeekdayKey(date.Weekday())],
		ix.byKey[model.DateKey(date)],
	}
}

// contains checks [startMin, endMin) against each list with a binary search.
// Windows under one key never overlap, so only the last window starting at or
// before startMin can contain the slot.
func (ix *windowIndex) contains(date time.Time, startMin, endMin int) bool {
	if startMin < 0 || endMin > 24*60 || startMin >= endMin {
		return false
	}
	for _, list := range ix.lists(date) {
		i := sort.Search(len(list), func(i int) bool { return list[i].StartMinute > startMin }) - 1
		if i >= 0 && list[i].EndMinute >= endMin {
			return true
		}
	}
	return false
}

type span struct {
	iv   model.Interval
	step int
}

// spans returns the windows effective on date as concrete intervals, ordered by start
func (ix *windowIndex) spans(date time.Time) []span {
	var out []span
	for _, list := range ix.lists(date) {
		for _, w := range list {
			out = append(out, span{iv: w.On(date), step: w.SlotMinutes})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].iv.Start.Before(out[j].iv.Start) })
	return out
}
