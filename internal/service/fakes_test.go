package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/lock"
	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var msk = time.FixedZone("MSK", 3*60*60)

// Суббота; ближайший понедельник 2025-03-03
var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, msk)

const (
	studentID      int64 = 1
	otherStudentID int64 = 2
	professorID    int64 = 10
	otherProfID    int64 = 11
	adminID        int64 = 100
)

var (
	student      = model.Actor{UserID: studentID, Role: model.RoleStudent}
	otherStudent = model.Actor{UserID: otherStudentID, Role: model.RoleStudent}
	professor    = model.Actor{UserID: professorID, Role: model.RoleProfessor}
	otherProf    = model.Actor{UserID: otherProfID, Role: model.RoleProfessor}
	admin        = model.Actor{UserID: adminID, Role: model.RoleAdmin}
)

func monday(hour, minute int) time.Time {
	return time.Date(2025, 3, 3, hour, minute, 0, 0, msk)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memTxKey struct{}

type linkCode struct {
	telegramID int64
	expiresAt  time.Time
}

// memStore хранилище в памяти с транзакциями через снимок состояния
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	// concurrentTx пускает транзакции параллельно и без отката, как READ COMMITTED без блокировок
	concurrentTx bool
	// noExclusion отключает аналог exclusion-ограничения bookings
	noExclusion bool
	// afterListOccupying вызывается после чтения занятых бронирований
	afterListOccupying func()

	seq           int64
	users         map[int64]*model.User
	windows       map[int64]*model.AvailabilityWindow
	bookings      map[int64]*model.Booking
	events        []*model.BookingEvent
	notifications map[int64]*model.Notification
	tasks         map[int64]*model.CalendarTask
	profiles      map[int64]*model.ProfessorProfile
	linkCodes     map[string]linkCode

	// failUpdates заставляет Update вернуть конфликт версий n раз
	failUpdates int
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[int64]*model.User),
		windows:       make(map[int64]*model.AvailabilityWindow),
		bookings:      make(map[int64]*model.Booking),
		notifications: make(map[int64]*model.Notification),
		tasks:         make(map[int64]*model.CalendarTask),
		profiles:      make(map[int64]*model.ProfessorProfile),
		linkCodes:     make(map[string]linkCode),
	}
}

type snapshot struct {
	seq           int64
	users         map[int64]*model.User
	windows       map[int64]*model.AvailabilityWindow
	bookings      map[int64]*model.Booking
	events        []*model.BookingEvent
	notifications map[int64]*model.Notification
	tasks         map[int64]*model.CalendarTask
	profiles      map[int64]*model.ProfessorProfile
	linkCodes     map[string]linkCode
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		seq:           s.seq,
		users:         maps.Clone(s.users),
		windows:       maps.Clone(s.windows),
		bookings:      make(map[int64]*model.Booking, len(s.bookings)),
		events:        slices.Clone(s.events),
		notifications: make(map[int64]*model.Notification, len(s.notifications)),
		tasks:         make(map[int64]*model.CalendarTask, len(s.tasks)),
		profiles:      make(map[int64]*model.ProfessorProfile, len(s.profiles)),
		linkCodes:     maps.Clone(s.linkCodes),
	}
	for id, b := range s.bookings {
		cp := *b
		snap.bookings[id] = &cp
	}
	for id, n := range s.notifications {
		cp := *n
		snap.notifications[id] = &cp
	}
	for id, t := range s.tasks {
		cp := *t
		snap.tasks[id] = &cp
	}
	for id, p := range s.profiles {
		cp := *p
		snap.profiles[id] = &cp
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq = snap.seq
	s.users = snap.users
	s.windows = snap.windows
	s.bookings = snap.bookings
	s.events = snap.events
	s.notifications = snap.notifications
	s.tasks = snap.tasks
	s.profiles = snap.profiles
	s.linkCodes = snap.linkCodes
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	if s.concurrentTx {
		return fn(context.WithValue(ctx, memTxKey{}, true))
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memStore) addUser(id int64, role model.Role, name string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &model.User{ID: id, Email: name + "@uni.test", FullName: name, Role: role, CreatedAt: testNow}
	s.users[id] = u
	return u
}

type fakeUsers struct{ s *memStore }

func (r fakeUsers) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.users {
		if other.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	u.ID = r.s.nextID() + 1000
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

func (r fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r fakeUsers) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r fakeUsers) ListByRole(_ context.Context, role model.Role) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.User
	for _, u := range r.s.users {
		if u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.User) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r fakeUsers) SetTelegramID(_ context.Context, userID int64, telegramID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrNoRows
	}
	if telegramID != nil {
		for _, other := range r.s.users {
			if other.ID != userID && other.TelegramID != nil && *other.TelegramID == *telegramID {
				return repository.ErrDuplicate
			}
		}
	}
	cp := *u
	cp.TelegramID = telegramID
	r.s.users[userID] = &cp
	return nil
}

type fakeWindows struct{ s *memStore }

func (r fakeWindows) Create(_ context.Context, w *model.AvailabilityWindow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w.ID = r.s.nextID()
	w.CreatedAt = testNow
	cp := *w
	r.s.windows[w.ID] = &cp
	return nil
}

func (r fakeWindows) GetByID(_ context.Context, id int64) (*model.AvailabilityWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.windows[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r fakeWindows) ListByProfessor(_ context.Context, professorID int64) ([]*model.AvailabilityWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.AvailabilityWindow
	for _, w := range r.s.windows {
		if w.ProfessorID == professorID {
			cp := *w
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.AvailabilityWindow) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r fakeWindows) Delete(_ context.Context, professorID, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.windows[id]
	if !ok || w.ProfessorID != professorID {
		return repository.ErrNoRows
	}
	delete(r.s.windows, id)
	return nil
}

func (r fakeWindows) LockProfessor(context.Context, int64) error {
	return nil
}

type fakeBookings struct{ s *memStore }

// overlapsLocked повторяет exclusion-ограничение таблицы bookings
func (r fakeBookings) overlapsLocked(b *model.Booking) bool {
	if r.s.noExclusion || !b.Status.Occupies() {
		return false
	}
	for _, other := range r.s.bookings {
		if other.ID == b.ID || other.ProfessorID != b.ProfessorID || !other.Status.Occupies() {
			continue
		}
		if other.Interval().Overlaps(b.Interval()) {
			return true
		}
	}
	return false
}

func (r fakeBookings) Create(_ context.Context, b *model.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.overlapsLocked(b) {
		return repository.ErrOverlap
	}
	b.ID = r.s.nextID()
	b.Version = 1
	b.CreatedAt = testNow
	b.UpdatedAt = testNow
	cp := *b
	r.s.bookings[b.ID] = &cp
	return nil
}

func (r fakeBookings) GetByID(_ context.Context, id int64) (*model.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r fakeBookings) Update(_ context.Context, b *model.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.bookings[b.ID]
	if !ok || stored.Version != b.Version {
		return repository.ErrVersionConflict
	}
	if r.s.failUpdates > 0 {
		r.s.failUpdates--
		stored.Version++
		return repository.ErrVersionConflict
	}
	if r.overlapsLocked(b) {
		return repository.ErrOverlap
	}

	b.Version++
	b.ExternalEventID = stored.ExternalEventID
	b.ReminderSentAt = stored.ReminderSentAt
	cp := *b
	r.s.bookings[b.ID] = &cp
	return nil
}

func (r fakeBookings) ListOccupying(_ context.Context, professorID int64, within model.Interval) ([]*model.Booking, error) {
	r.s.mu.Lock()
	var out []*model.Booking
	for _, b := range r.s.bookings {
		if b.ProfessorID == professorID && b.Status.Occupies() && b.Interval().Overlaps(within) {
			cp := *b
			out = append(out, &cp)
		}
	}
	hook := r.s.afterListOccupying
	r.s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (r fakeBookings) List(_ context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Booking
	for _, b := range r.s.bookings {
		switch {
		case f.StudentID != nil && b.StudentID != *f.StudentID:
		case f.ProfessorID != nil && b.ProfessorID != *f.ProfessorID:
		case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status):
		case f.From != nil && b.StartsAt.Before(*f.From):
		case f.To != nil && !b.StartsAt.Before(*f.To):
		default:
			cp := *b
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Booking) int { return a.StartsAt.Compare(b.StartsAt) })

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r fakeBookings) ListDueReminders(_ context.Context, from, to time.Time, limit int) ([]*model.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Booking
	for _, b := range r.s.bookings {
		if b.Status == model.BookingStatusConfirmed && b.ReminderSentAt == nil &&
			!b.StartsAt.Before(from) && b.StartsAt.Before(to) {
			cp := *b
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Booking) int { return a.StartsAt.Compare(b.StartsAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeBookings) MarkReminderSent(_ context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok || b.ReminderSentAt != nil {
		return false, nil
	}
	b.ReminderSentAt = &at
	return true, nil
}

func (r fakeBookings) SetExternalEventID(_ context.Context, id int64, eventID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[id]
	if !ok {
		return repository.ErrNoRows
	}
	b.ExternalEventID = eventID
	return nil
}

func (r fakeBookings) AddEvent(_ context.Context, e *model.BookingEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e.ID = r.s.nextID()
	cp := *e
	r.s.events = append(r.s.events, &cp)
	return nil
}

func (r fakeBookings) ListEvents(_ context.Context, bookingID int64) ([]*model.BookingEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.BookingEvent
	for _, e := range r.s.events {
		if e.BookingID == bookingID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeProfiles struct{ s *memStore }

func (r fakeProfiles) Get(_ context.Context, professorID int64) (*model.ProfessorProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[professorID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r fakeProfiles) Upsert(_ context.Context, p *model.ProfessorProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p.UpdatedAt = testNow
	cp := *p
	r.s.profiles[p.ProfessorID] = &cp
	return nil
}

type fakeLinkCodes struct{ s *memStore }

func (r fakeLinkCodes) CreateLinkCode(_ context.Context, code string, telegramID int64, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, dup := r.s.linkCodes[code]; dup {
		return repository.ErrDuplicate
	}
	r.s.linkCodes[code] = linkCode{telegramID: telegramID, expiresAt: expiresAt}
	return nil
}

func (r fakeLinkCodes) ConsumeLinkCode(_ context.Context, code string, now time.Time) (int64, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lc, ok := r.s.linkCodes[code]
	if !ok || !lc.expiresAt.After(now) {
		return 0, false, nil
	}
	delete(r.s.linkCodes, code)
	return lc.telegramID, true, nil
}

func (r fakeLinkCodes) DeleteExpiredLinkCodes(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for code, lc := range r.s.linkCodes {
		if !lc.expiresAt.After(now) {
			delete(r.s.linkCodes, code)
			n++
		}
	}
	return n, nil
}

func (r fakeLinkCodes) count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.linkCodes)
}

// barrier задерживает первых need участников, пока не соберутся все или не выйдет timeout
type barrier struct {
	mu      sync.Mutex
	arrived int
	need    int
	ready   chan struct{}
	timeout time.Duration
}

func newBarrier(need int, timeout time.Duration) *barrier {
	return &barrier{need: need, ready: make(chan struct{}), timeout: timeout}
}

func (b *barrier) wait() {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.need {
		close(b.ready)
	}
	b.mu.Unlock()

	select {
	case <-b.ready:
	case <-time.After(b.timeout):
	}
}

// noopLocker всегда выдаёт блокировку
type noopLocker struct{}

func (noopLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "noop", true, nil
}

func (noopLocker) Unlock(context.Context, string, string) error { return nil }

// busyLocker блокировка всегда занята кем-то другим
type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (busyLocker) Unlock(context.Context, string, string) error { return nil }

type fakeNotifications struct{ s *memStore }

func (r fakeNotifications) Enqueue(_ context.Context, n *model.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.notifications {
		if other.Key() == n.Key() && !other.Status.IsDone() {
			return false, nil
		}
	}
	n.ID = r.s.nextID()
	n.Status = model.DeliveryPending
	n.CreatedAt = n.NextAttempt
	n.UpdatedAt = n.NextAttempt
	cp := *n
	r.s.notifications[n.ID] = &cp
	return true, nil
}

func (r fakeNotifications) ClaimDue(_ context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*model.Notification
	for _, n := range r.s.notifications {
		pending := n.Status == model.DeliveryPending && !n.NextAttempt.After(now)
		stale := n.Status == model.DeliveryProcessing && n.UpdatedAt.Before(now.Add(-staleAfter))
		if pending || stale {
			due = append(due, n)
		}
	}
	slices.SortFunc(due, func(a, b *model.Notification) int {
		if c := a.NextAttempt.Compare(b.NextAttempt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.Notification, 0, len(due))
	for _, n := range due {
		n.Status = model.DeliveryProcessing
		n.Attempts++
		n.UpdatedAt = now
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (r fakeNotifications) update(id int64, fn func(n *model.Notification)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return repository.ErrNoRows
	}
	fn(n)
	return nil
}

func (r fakeNotifications) MarkSent(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(n *model.Notification) {
		n.Status = model.DeliverySent
		n.SentAt = &at
		n.LastError = ""
	})
}

func (r fakeNotifications) MarkRetry(_ context.Context, id int64, next time.Time, lastErr string) error {
	return r.update(id, func(n *model.Notification) {
		n.Status = model.DeliveryPending
		n.NextAttempt = next
		n.LastError = lastErr
	})
}

func (r fakeNotifications) MarkFailed(_ context.Context, id int64, lastErr string) error {
	return r.update(id, func(n *model.Notification) {
		n.Status = model.DeliveryFailed
		n.LastError = lastErr
	})
}

func (r fakeNotifications) MarkSkipped(_ context.Context, id int64) error {
	return r.update(id, func(n *model.Notification) {
		n.Status = model.DeliverySkipped
	})
}

func (r fakeNotifications) ListByRecipient(_ context.Context, recipientID int64, limit int) ([]*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Notification
	for _, n := range r.s.notifications {
		if n.RecipientID == recipientID {
			cp := *n
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Notification) int { return int(b.ID - a.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeNotifications) MarkRead(_ context.Context, id, recipientID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return false, nil
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return true, nil
}

// all возвращает уведомления по порядку постановки
func (r fakeNotifications) all() []*model.Notification {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := slices.Collect(maps.Values(r.s.notifications))
	slices.SortFunc(out, func(a, b *model.Notification) int { return int(a.ID - b.ID) })
	return out
}

type fakeTasks struct{ s *memStore }

func (r fakeTasks) Enqueue(_ context.Context, t *model.CalendarTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t.ID = r.s.nextID()
	t.Status = model.DeliveryPending
	cp := *t
	r.s.tasks[t.ID] = &cp
	return nil
}

func (r fakeTasks) ClaimDue(_ context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.CalendarTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*model.CalendarTask
	for _, t := range r.s.tasks {
		pending := t.Status == model.DeliveryPending && !t.NextAttempt.After(now)
		stale := t.Status == model.DeliveryProcessing && t.UpdatedAt.Before(now.Add(-staleAfter))
		if pending || stale {
			due = append(due, t)
		}
	}
	slices.SortFunc(due, func(a, b *model.CalendarTask) int { return int(a.ID - b.ID) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.CalendarTask, 0, len(due))
	for _, t := range due {
		t.Status = model.DeliveryProcessing
		t.Attempts++
		t.UpdatedAt = now
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r fakeTasks) Finish(_ context.Context, id int64, status model.DeliveryStatus, lastErr string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return repository.ErrNoRows
	}
	t.Status = status
	t.LastError = lastErr
	return nil
}

func (r fakeTasks) MarkRetry(_ context.Context, id int64, next time.Time, lastErr string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return repository.ErrNoRows
	}
	t.Status = model.DeliveryPending
	t.NextAttempt = next
	t.LastError = lastErr
	return nil
}

func (r fakeTasks) all() []*model.CalendarTask {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*model.CalendarTask, 0, len(r.s.tasks))
	for _, t := range r.s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.CalendarTask) int { return int(a.ID - b.ID) })
	return out
}

type sentMessage struct {
	recipientID int64
	event       model.EventType
	bookingID   int64
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	fails int // сколько следующих отправок завершатся ошибкой
}

func (s *fakeSender) Send(_ context.Context, recipient *model.User, n *model.Notification, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fails > 0 {
		s.fails--
		return errors.New("telegram: connection reset")
	}
	s.sent = append(s.sent, sentMessage{recipientID: recipient.ID, event: n.EventType, bookingID: b.ID})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

type fakeAdapter struct {
	mu      sync.Mutex
	events  map[string]model.BookingStatus
	created int
	updated int
	deleted int
	fails   int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(map[string]model.BookingStatus)}
}

func (a *fakeAdapter) fail() error {
	if a.fails > 0 {
		a.fails--
		return errors.New("calendar: 503 service unavailable")
	}
	return nil
}

func (a *fakeAdapter) CreateEvent(_ context.Context, b *model.Booking) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail(); err != nil {
		return "", err
	}
	a.created++
	uid := "evt-" + strconv.FormatInt(b.ID, 10)
	a.events[uid] = b.Status
	return uid, nil
}

func (a *fakeAdapter) UpdateEvent(_ context.Context, uid string, b *model.Booking) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail(); err != nil {
		return err
	}
	a.updated++
	a.events[uid] = b.Status
	return nil
}

func (a *fakeAdapter) DeleteEvent(_ context.Context, uid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.fail(); err != nil {
		return err
	}
	a.deleted++
	delete(a.events, uid)
	return nil
}

// testEnv собранные сервисы поверх хранилища в памяти
type testEnv struct {
	store         *memStore
	clock         *fakeClock
	users         fakeUsers
	windows       fakeWindows
	bookingRepo   fakeBookings
	profiles      fakeProfiles
	linkCodes     fakeLinkCodes
	notifications fakeNotifications
	tasks         fakeTasks
	sender        *fakeSender
	adapter       *fakeAdapter

	availability *AvailabilityStore
	resolver     *ConflictResolver
	bookings     *BookingService
	dispatcher   *NotificationDispatcher
	calendar     *CalendarSync
	professors   *ProfessorService
	userService  *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLocker(t, lock.NewMemoryLock())
}

func newTestEnvWithLocker(t *testing.T, locker lock.Locker) *testEnv {
	t.Helper()

	store := newMemStore()
	store.addUser(studentID, model.RoleStudent, "student")
	store.addUser(otherStudentID, model.RoleStudent, "student2")
	store.addUser(professorID, model.RoleProfessor, "professor")
	store.addUser(otherProfID, model.RoleProfessor, "professor2")
	store.addUser(adminID, model.RoleAdmin, "admin")
	store.seq = 0

	logger := zap.NewNop()
	e := &testEnv{
		store:         store,
		clock:         &fakeClock{now: testNow},
		users:         fakeUsers{store},
		windows:       fakeWindows{store},
		bookingRepo:   fakeBookings{store},
		profiles:      fakeProfiles{store},
		linkCodes:     fakeLinkCodes{store},
		notifications: fakeNotifications{store},
		tasks:         fakeTasks{store},
		sender:        &fakeSender{},
		adapter:       newFakeAdapter(),
	}

	workerCfg := WorkerConfig{BatchSize: 10, MaxAttempts: 3, RetryBaseDelay: time.Minute}

	e.availability = NewAvailabilityStore(store, e.users, e.windows, e.bookingRepo, e.profiles, e.clock, msk, logger)
	e.resolver = NewConflictResolver(e.availability, e.bookingRepo, e.clock)
	e.dispatcher = NewNotificationDispatcher(store, e.notifications, e.bookingRepo, e.users, e.sender, e.clock, workerCfg, logger)
	e.calendar = NewCalendarSync(e.tasks, e.bookingRepo, e.adapter, e.clock, workerCfg, logger)
	e.bookings = NewBookingService(
		store,
		e.users,
		e.bookingRepo,
		e.resolver,
		locker,
		e.dispatcher,
		e.calendar,
		e.clock,
		BookingConfig{
			MaxAdvance: 30 * 24 * time.Hour,
			Lock:       lock.Options{TTL: time.Second, Attempts: 100, Delay: time.Millisecond},
			Location:   msk,
		},
		logger,
	)
	e.professors = NewProfessorService(e.users, e.profiles, e.availability, logger)
	e.userService = NewUserService(store, e.users, e.linkCodes, e.clock, logger)

	return e
}

// addMondayWindow открывает приём professorID по понедельникам 09:00-12:00
func (e *testEnv) addMondayWindow(t *testing.T) *model.AvailabilityWindow {
	t.Helper()

	wd := int(time.Monday)
	w, err := e.availability.AddWindow(context.Background(), professor, WindowInput{
		Weekday:     &wd,
		Start:       "09:00",
		End:         "12:00",
		SlotMinutes: 30,
	})
	require.NoError(t, err)
	return w
}

// setProfile сохраняет профиль professorID
func (e *testEnv) setProfile(t *testing.T, p model.ProfessorProfile) {
	t.Helper()

	p.ProfessorID = professorID
	require.NoError(t, e.profiles.Upsert(context.Background(), &p))
}

func (e *testEnv) book(t *testing.T, actor model.Actor, start time.Time, minutes int) *model.Booking {
	t.Helper()

	b, err := e.bookings.Create(context.Background(), actor, CreateBookingInput{
		ProfessorID:     professorID,
		Title:           "Курсовая работа",
		StartsAt:        start,
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return b
}
