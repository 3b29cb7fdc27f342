package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fjod/electronics-store/internal/domain"
	"go.uber.org/zap"
)

// maxRequestBodySize caps every JSON body at 1MB
const maxRequestBodySize = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError converts domain errors to HTTP status codes
func handleError(w http.ResponseWriter, err error) {
	var (
		httpStatus int
		code       string
		message    = err.Error()
	)

	switch {
	case domain.IsNotFound(err):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrAlreadyCheckedOut):
		httpStatus = http.StatusConflict
		code = "already_checked_out"
	case errors.Is(err, domain.ErrBasketConflict):
		httpStatus = http.StatusConflict
		code = "conflict"
	case errors.Is(err, domain.ErrInvalidDeal):
		httpStatus = http.StatusBadRequest
		code = "invalid_deal"
	case errors.Is(err, domain.ErrInvalidProduct):
		httpStatus = http.StatusBadRequest
		code = "invalid_product"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		httpStatus = http.StatusInternalServerError
		code = "internal_error"
		message = "internal server error"
	}

	respondJSON(w, httpStatus, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details(err, httpStatus),
	})
}

// details exposes the wrapped cause of client errors only
func details(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return ""
	}
	if cause := errors.Unwrap(err); cause != nil && cause.Error() != err.Error() {
		return cause.Error()
	}
	return ""
}

// decodeJSON reads a size-limited JSON body into dst and writes a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		}
		respondError(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}
