package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/auth"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/middleware"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/validate"
)

const maxBodyBytes = 1 << 20

var (
	errBadPathParam = apperr.New(apperr.KindValidation, "invalid_path_parameter", "invalid path parameter")
	errBadQuery     = apperr.New(apperr.KindValidation, "invalid_query", "invalid query parameter")
	errUnauthorized = apperr.New(apperr.KindForbidden, "unauthorized", "authentication required")
)

// RequestValidator checks a request body against the schema of an operation.
type RequestValidator interface {
	Validate(op string, body []byte) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK writes {"success":true} merged with fields.
func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		if errors.Is(err, validate.ErrValidation) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperr.KindConflict:
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return http.StatusPaymentRequired
		}
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		if errors.Is(err, errUnauthorized) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError maps err to a status and the failure envelope. Infrastructure
// errors are logged and never echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	kind := apperr.KindOf(err)
	message := apperr.MessageOf(err)
	switch kind {
	case apperr.KindValidation:
		message = err.Error()
	case apperr.KindTransient:
		w.Header().Set("Retry-After", "1")
		logger.WarnContext(r.Context(), "request lost a concurrency race", "path", r.URL.Path, "error", err)
	case apperr.KindUnavailable:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	default:
		logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": apperr.CodeOf(err), "message": message},
	})
}

// decode reads the body, validates it against the operation's schema and
// unmarshals it into dst.
func decode(r *http.Request, v RequestValidator, op string, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := v.Validate(op, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &validate.Error{Op: op, Problems: []string{err.Error()}}
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a uuid", errBadPathParam, name)
	}
	return id, nil
}

func pageFromQuery(r *http.Request) (models.Page, error) {
	var p models.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return models.Page{}, fmt.Errorf("%w: %s must be a non-negative integer", errBadQuery, name)
		}
		*dst = n
	}
	return p.Normalize(), nil
}

func identity(r *http.Request) (auth.Identity, error) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		return auth.Identity{}, errUnauthorized
	}
	return id, nil
}
