package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type BookingManager interface {
	Create(ctx context.Context, actor model.Actor, in service.CreateBookingInput) (*model.Booking, error)
	CreateUnchecked(ctx context.Context, actor model.Actor, in service.CreateBookingInput) (*model.Booking, error)
	Confirm(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	Cancel(ctx context.Context, actor model.Actor, id int64, reason string) (*model.Booking, error)
	RequestReschedule(ctx context.Context, actor model.Actor, id int64, in service.RescheduleInput) (*model.Booking, error)
	ConfirmReschedule(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	Complete(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	MarkNoShow(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	Rate(ctx context.Context, actor model.Actor, id int64, rating int, feedback string) (*model.Booking, error)
	AddNotes(ctx context.Context, actor model.Actor, id int64, notes string) (*model.Booking, error)
	Get(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error)
	List(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]*model.Booking, error)
	History(ctx context.Context, actor model.Actor, id int64) ([]*model.BookingEvent, error)
}

type AvailabilityManager interface {
	AddWindow(ctx context.Context, actor model.Actor, in service.WindowInput) (*model.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, actor model.Actor, id int64) error
}

type ProfessorDirectory interface {
	ListProfessors(ctx context.Context) ([]*model.User, error)
	Windows(ctx context.Context, professorID int64) ([]*model.AvailabilityWindow, error)
	FreeSlots(ctx context.Context, professorID int64, from, to time.Time, granularity int) ([]model.Interval, error)
	GetProfile(ctx context.Context, professorID int64) (*service.ProfessorCard, error)
	UpdateProfile(ctx context.Context, actor model.Actor, professorID int64, in service.ProfileInput) (*model.ProfessorProfile, error)
}

type NotificationInbox interface {
	ListForUser(ctx context.Context, actor model.Actor, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, actor model.Actor, id int64) error
}

type CalendarFeed interface {
	Feed(ctx context.Context, userID int64) (string, error)
}

// TelegramLinker привязка чата по одноразовому коду из /start
type TelegramLinker interface {
	LinkTelegram(ctx context.Context, actor model.Actor, code string) (*model.User, error)
	UnlinkTelegram(ctx context.Context, actor model.Actor) (*model.User, error)
}

// Deps зависимости HTTP-слоя
type Deps struct {
	Bookings      BookingManager
	Availability  AvailabilityManager
	Professors    ProfessorDirectory
	Notifications NotificationInbox
	Calendar      CalendarFeed
	Users         TelegramLinker
	Health        func(ctx context.Context) error
	Location      *time.Location
}

type Handler struct {
	deps Deps
	log  *zap.Logger
}

type windowResponse struct {
	ID          int64   `json:"id"`
	ProfessorID int64   `json:"professor_id"`
	Weekday     *int    `json:"weekday,omitempty"`
	Date        *string `json:"date,omitempty"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	SlotMinutes int     `json:"slot_minutes"`
}

func toWindowResponse(w *model.AvailabilityWindow) windowResponse {
	resp := windowResponse{
		ID:          w.ID,
		ProfessorID: w.ProfessorID,
		Start:       model.FormatClock(w.StartMinute),
		End:         model.FormatClock(w.EndMinute),
		SlotMinutes: w.SlotMinutes,
	}
	if w.Weekday != nil {
		wd := int(*w.Weekday)
		resp.Weekday = &wd
	}
	if w.Date != nil {
		d := w.Date.Format(time.DateOnly)
		resp.Date = &d
	}
	return resp
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			h.log.Warn("Health check failed", zap.Error(err))
			respond(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if !h.decode(w, r, &in) {
		return
	}

	b, err := h.deps.Bookings.Create(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusCreated, b)
}

func (h *Handler) createBookingUnchecked(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if !h.decode(w, r, &in) {
		return
	}

	b, err := h.deps.Bookings.CreateUnchecked(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusCreated, b)
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.BookingFilter

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := model.ParseBookingStatus(strings.TrimSpace(part))
			if err != nil {
				h.badRequest(w, r, "status", err.Error())
				return
			}
			f.Statuses = append(f.Statuses, status)
		}
	}

	var ok bool
	if f.From, ok = h.optionalTime(w, r, "from"); !ok {
		return
	}
	if f.To, ok = h.optionalTime(w, r, "to"); !ok {
		return
	}
	if f.Limit, ok = h.optionalInt(w, r, "limit"); !ok {
		return
	}
	if f.Offset, ok = h.optionalInt(w, r, "offset"); !ok {
		return
	}

	bookings, err := h.deps.Bookings.List(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	respond(w, r, http.StatusOK, bookings)
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.Get(r.Context(), ActorFrom(r.Context()), id)
	})
}

func (h *Handler) bookingHistory(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		events, err := h.deps.Bookings.History(r.Context(), ActorFrom(r.Context()), id)
		if events == nil && err == nil {
			events = []*model.BookingEvent{}
		}
		return events, err
	})
}

func (h *Handler) confirmBooking(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.Confirm(r.Context(), ActorFrom(r.Context()), id)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.Cancel(r.Context(), ActorFrom(r.Context()), id, req.Reason)
	})
}

func (h *Handler) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var in service.RescheduleInput
	if !h.decode(w, r, &in) {
		return
	}
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.RequestReschedule(r.Context(), ActorFrom(r.Context()), id, in)
	})
}

func (h *Handler) confirmReschedule(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.ConfirmReschedule(r.Context(), ActorFrom(r.Context()), id)
	})
}

func (h *Handler) completeBooking(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.Complete(r.Context(), ActorFrom(r.Context()), id)
	})
}

func (h *Handler) markNoShow(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.MarkNoShow(r.Context(), ActorFrom(r.Context()), id)
	})
}

type rateRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (h *Handler) rateBooking(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.Rate(r.Context(), ActorFrom(r.Context()), id, req.Rating, req.Feedback)
	})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) addNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Bookings.AddNotes(r.Context(), ActorFrom(r.Context()), id, req.Notes)
	})
}

func (h *Handler) listProfessors(w http.ResponseWriter, r *http.Request) {
	professors, err := h.deps.Professors.ListProfessors(r.Context())
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	if professors == nil {
		professors = []*model.User{}
	}
	respond(w, r, http.StatusOK, professors)
}

func (h *Handler) getProfessor(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.deps.Professors.GetProfile(r.Context(), id)
	})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var in service.ProfileInput
	if !h.decode(w, r, &in) {
		return
	}

	profile, err := h.deps.Professors.UpdateProfile(r.Context(), ActorFrom(r.Context()), id, in)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, profile)
}

func (h *Handler) professorWindows(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(id int64) (any, error) {
		return h.windows(r.Context(), id)
	})
}

func (h *Handler) windows(ctx context.Context, professorID int64) ([]windowResponse, error) {
	windows, err := h.deps.Professors.Windows(ctx, professorID)
	if err != nil {
		return nil, err
	}
	out := make([]windowResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, toWindowResponse(w))
	}
	return out, nil
}

func (h *Handler) freeSlots(w http.ResponseWriter, r *http.Request) {
	from, ok := h.requiredTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.requiredTime(w, r, "to")
	if !ok {
		return
	}
	granularity, ok := h.optionalInt(w, r, "granularity")
	if !ok {
		return
	}

	h.withID(w, r, func(id int64) (any, error) {
		slots, err := h.deps.Professors.FreeSlots(r.Context(), id, from, to, granularity)
		if slots == nil && err == nil {
			slots = []model.Interval{}
		}
		return slots, err
	})
}

func (h *Handler) addWindow(w http.ResponseWriter, r *http.Request) {
	var in service.WindowInput
	if !h.decode(w, r, &in) {
		return
	}

	window, err := h.deps.Availability.AddWindow(r.Context(), ActorFrom(r.Context()), in)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusCreated, toWindowResponse(window))
}

func (h *Handler) myWindows(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	professorID := actor.UserID
	if actor.IsAdmin() {
		id, ok := h.optionalInt(w, r, "professor_id")
		if !ok {
			return
		}
		if id == 0 {
			h.badRequest(w, r, "professor_id", "is required")
			return
		}
		professorID = int64(id)
	}

	windows, err := h.windows(r.Context(), professorID)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, windows)
}

func (h *Handler) deleteWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Availability.DeleteWindow(r.Context(), ActorFrom(r.Context()), id); err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.optionalInt(w, r, "limit")
	if !ok {
		return
	}

	notifications, err := h.deps.Notifications.ListForUser(r.Context(), ActorFrom(r.Context()), limit)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	if notifications == nil {
		notifications = []*model.Notification{}
	}
	respond(w, r, http.StatusOK, notifications)
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Notifications.MarkRead(r.Context(), ActorFrom(r.Context()), id); err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) calendarFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := h.deps.Calendar.Feed(r.Context(), ActorFrom(r.Context()).UserID)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="consultations.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, feed)
}

type telegramRequest struct {
	Code string `json:"code"`
}

func (h *Handler) linkTelegram(w http.ResponseWriter, r *http.Request) {
	var req telegramRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.deps.Users.LinkTelegram(r.Context(), ActorFrom(r.Context()), req.Code)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, user)
}

func (h *Handler) unlinkTelegram(w http.ResponseWriter, r *http.Request) {
	user, err := h.deps.Users.UnlinkTelegram(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, user)
}

// withID разбирает {id} из пути и отдаёт результат fn как JSON
func (h *Handler) withID(w http.ResponseWriter, r *http.Request, fn func(id int64) (any, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	result, err := fn(id)
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}
	respond(w, r, http.StatusOK, result)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, r, "id", "must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		h.log.Debug("Failed to decode request body", zap.Error(err))
		respondError(w, r, http.StatusBadRequest, ErrorBody{Code: CodeBadRequest, Message: "failed to decode request"})
		return false
	}
	return true
}

// decodeOptional допускает пустое тело запроса
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := render.DecodeJSON(r.Body, v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.log.Debug("Failed to decode request body", zap.Error(err))
	respondError(w, r, http.StatusBadRequest, ErrorBody{Code: CodeBadRequest, Message: "failed to decode request"})
	return false
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, field, msg string) {
	respondError(w, r, http.StatusBadRequest, ErrorBody{Code: CodeBadRequest, Message: msg, Field: field})
}

// parseTime принимает RFC 3339 или дату YYYY-MM-DD (полночь в часовом поясе сервиса)
func (h *Handler) parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	loc := h.deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

func (h *Handler) optionalTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := h.parseTime(raw)
	if err != nil {
		h.badRequest(w, r, name, "must be RFC 3339 time or YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}

func (h *Handler) requiredTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	t, ok := h.optionalTime(w, r, name)
	if !ok {
		return time.Time{}, false
	}
	if t == nil {
		h.badRequest(w, r, name, "is required")
		return time.Time{}, false
	}
	return *t, true
}

func (h *Handler) optionalInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		h.badRequest(w, r, name, "must be a non-negative integer")
		return 0, false
	}
	return v, true
}
