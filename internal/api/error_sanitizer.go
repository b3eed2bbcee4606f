package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/datanorm"
	"github.com/ignite/contact-import/internal/importer"
	"github.com/ignite/contact-import/internal/pkg/distlock"
	"github.com/ignite/contact-import/internal/pkg/httputil"
	"github.com/ignite/contact-import/internal/session"
	"github.com/ignite/contact-import/internal/spreadsheet"
)

// errorStatus maps the pipeline's sentinel errors onto HTTP status codes and
// stable client codes. Unknown errors are internal.
func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, spreadsheet.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, spreadsheet.ErrParse):
		return http.StatusUnprocessableEntity, "unreadable_file"
	case errors.Is(err, datanorm.ErrMissingTemplateHeaders):
		return http.StatusUnprocessableEntity, "missing_template_headers"
	case errors.Is(err, session.ErrNoAnchorMapped):
		return http.StatusUnprocessableEntity, "no_anchor_mapped"
	case errors.Is(err, session.ErrNothingSelected):
		return http.StatusUnprocessableEntity, "nothing_selected"
	case errors.Is(err, session.ErrUnknownHeader), errors.Is(err, session.ErrUnknownField):
		return http.StatusBadRequest, "invalid_mapping"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, importer.ErrRowNotFound):
		return http.StatusNotFound, "row_not_found"
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, session.ErrStale):
		return http.StatusConflict, "stale_session"
	case errors.Is(err, distlock.ErrHeld):
		return http.StatusConflict, "commit_in_progress"
	}
	return http.StatusInternalServerError, "internal"
}

// respondError writes err to the client. 4xx errors are about the request and
// carry their message; 5xx errors are logged in full and answered with a
// public-safe message.
func respondError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := errorStatus(err)
	if status < http.StatusInternalServerError {
		var details any
		var missing *datanorm.MissingHeadersError
		if errors.As(err, &missing) {
			details = map[string][]string{"missing": missing.Missing}
		}
		httputil.ErrorCode(w, status, code, err.Error(), details)
		return
	}
	log.Error("request failed", zap.Int("status", status), zap.Error(err))
	httputil.ErrorCode(w, status, code, safeErrorMessage(err), nil)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
func safeErrorMessage(internalErr error) string {
	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"

	case strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "access denied"):
		return "Access denied"

	default:
		return "An internal error occurred"
	}
}
