package rest

import (
	"errors"
	"net/http"

	"github.com/Freeeeeet/prof_consult/internal/service"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// Коды ошибок API
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_FAILED"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeDependency        = "DEPENDENCY_FAILED"
	CodeInternal          = "INTERNAL"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Status  string `json:"status,omitempty"`
	Action  string `json:"action,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	respond(w, r, status, ErrorResponse{Error: body})
}

// respondServiceError переводит ошибку сервиса в HTTP-ответ
func respondServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		ve  *service.ValidationError
		ce  *service.ConflictError
		ite *service.InvalidTransitionError
		de  *service.DependencyError
	)

	switch {
	case errors.As(err, &ve):
		respondError(w, r, http.StatusBadRequest, ErrorBody{Code: CodeValidation, Message: ve.Message, Field: ve.Field})
	case errors.As(err, &ce):
		respondError(w, r, http.StatusConflict, ErrorBody{Code: CodeConflict, Message: ce.Error(), Reason: string(ce.Reason)})
	case errors.As(err, &ite):
		respondError(w, r, http.StatusConflict, ErrorBody{
			Code:    CodeInvalidTransition,
			Message: ite.Error(),
			Status:  string(ite.From),
			Action:  string(ite.Action),
		})
	case errors.Is(err, service.ErrForbidden):
		respondError(w, r, http.StatusForbidden, ErrorBody{Code: CodeForbidden, Message: "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "resource not found"})
	case errors.As(err, &de):
		log.Error("Dependency failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		respondError(w, r, http.StatusBadGateway, ErrorBody{Code: CodeDependency, Message: de.Dependency + " unavailable"})
	default:
		log.Error("Request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, r, http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"})
	}
}
