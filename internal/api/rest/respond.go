package rest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
)

// errorResponse is the envelope every non-2xx body uses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps an error onto the envelope. Application errors carry their
// own status and machine code; anything else is a 500 with the cause logged
// but not leaked.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *appErrors.AppError
	switch {
	case errors.As(err, &appErr):
		if appErr.StatusCode >= 500 && logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"code", appErr.Code,
				"error", err,
				"path", r.URL.Path,
			)
		}
		writeJSON(w, appErr.StatusCode, errorResponse{Error: errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}})
	case errors.Is(err, sql.ErrNoRows):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{
			Code:    "NOT_FOUND",
			Message: "resource not found",
		}})
	default:
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"error", err,
				"path", r.URL.Path,
			)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}})
	}
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a size-capped JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appErrors.NewValidationError("INVALID_INPUT", "request body is not valid JSON").WithCause(err)
	}
	return nil
}
