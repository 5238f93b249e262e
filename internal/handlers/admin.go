package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/admin"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/validate"
)

type Adjuster interface {
	Adjust(ctx context.Context, req admin.AdjustRequest) (*admin.AdjustResult, error)
}

type AuditLog interface {
	Query(ctx context.Context, f models.AuditFilter) ([]*models.AuditLogEntry, error)
}

type AdminHandler struct {
	Adjuster  Adjuster
	Audit     AuditLog
	Validator RequestValidator
	Logger    *slog.Logger
}

type adjustRequest struct {
	UserID uuid.UUID              `json:"user_id"`
	Amount int64                  `json:"amount"`
	Reason string                 `json:"reason"`
	Type   models.TransactionType `json:"type"`
}

// AdjustCredits handles POST /admin/credits/adjust.
func (h *AdminHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req adjustRequest
	if err := decode(r, h.Validator, validate.AdminAdjustCredits, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	res, err := h.Adjuster.Adjust(r.Context(), admin.AdjustRequest{
		AdminID: id.UserID,
		UserID:  req.UserID,
		Amount:  req.Amount,
		Reason:  req.Reason,
		Type:    req.Type,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"new_balance":    res.NewBalance,
		"transaction":    res.Transaction,
		"audit_entry_id": res.Audit.ID,
	})
}

// AuditLog handles GET /admin/audit-log. Supported filters are action_type,
// target_type, admin_id and a free-text q.
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	q := r.URL.Query()
	f := models.AuditFilter{
		ActionType: models.AuditAction(q.Get("action_type")),
		TargetType: models.AuditTarget(q.Get("target_type")),
		Search:     q.Get("q"),
		Page:       page,
	}
	if raw := q.Get("admin_id"); raw != "" {
		adminID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, h.Logger, fmt.Errorf("%w: admin_id must be a uuid", errBadQuery))
			return
		}
		f.AdminID = &adminID
	}

	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	writeOK(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}
