package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into dst, rejecting malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parsePagination extracts page/page_size query parameters with defaults.
func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 50

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			pageSize = n
		}
	}
	return page, pageSize
}

// handleServiceError maps domain errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		notFound     *domain.ErrNotFound
		validation   *domain.ErrValidation
		conflict     *domain.ErrConflict
		mismatch     *domain.ErrTabMismatch
		noGroups     *domain.ErrNoBillingGroups
		exhausted    *domain.ErrDepositExhausted
		unauthorized *domain.ErrUnauthorized
		circuitOpen  *domain.ErrCircuitOpen
		external     *domain.ErrExternalService
	)

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, unauthorized.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &mismatch):
		writeError(w, http.StatusUnprocessableEntity, mismatch.Error())
	case errors.As(err, &noGroups):
		writeError(w, http.StatusConflict, noGroups.Error())
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":           exhausted.Error(),
			"remaining_cents": exhausted.RemainingCents,
			"requested_cents": exhausted.RequestedCents,
		})
	case errors.As(err, &circuitOpen):
		writeError(w, http.StatusServiceUnavailable, circuitOpen.Error())
	case errors.As(err, &external):
		writeError(w, http.StatusBadGateway, external.Error())
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
