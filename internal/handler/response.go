package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"appmarket/internal/domain"
	"appmarket/internal/logger"
)

// retryAfterSeconds - подсказка клиенту для повторной финализации
const retryAfterSeconds = "5"

type errorResponse struct {
	Error  string      `json:"error"`
	Result interface{} `json:"result,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// statusFor сопоставляет класс доменной ошибки с HTTP-статусом. Несогласованность
// и частичная отправка проверяются первыми: они оборачивают причину сбоя, а
// действие при этом уже зафиксировано.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInconsistency):
		return http.StatusAccepted
	case errors.Is(err, domain.ErrPartialSubmission):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет ошибку; result (если есть) уходит вместе с ней, например
// частично выполненная отправка или одобрение, ожидающее сверки
func respondError(w http.ResponseWriter, r *http.Request, err error, result interface{}) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	respondJSON(w, status, errorResponse{Error: msg, Result: result})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", domain.ErrValidation, name)
	}
	return id, nil
}
