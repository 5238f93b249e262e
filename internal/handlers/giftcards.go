package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/giftcard"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/validate"
)

type GiftCards interface {
	Redeem(ctx context.Context, code string, userID uuid.UUID) (*giftcard.Redemption, error)
	Issue(ctx context.Context, req giftcard.IssueRequest) (*models.GiftCard, error)
	Void(ctx context.Context, code string, adminID uuid.UUID, reason string) (*models.GiftCard, error)
}

type GiftCardHandler struct {
	Cards     GiftCards
	Validator RequestValidator
	Logger    *slog.Logger
}

// Redeem handles POST /gift-cards/redeem.
func (h *GiftCardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, h.Validator, validate.RedeemGiftCard, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	res, err := h.Cards.Redeem(r.Context(), req.Code, id.UserID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"credits_value": res.CreditsValue,
		"new_balance":   res.NewBalance,
		"transaction":   res.Transaction,
	})
}

// Issue handles POST /admin/gift-cards.
func (h *GiftCardHandler) Issue(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req struct {
		CreditsValue int64  `json:"credits_value"`
		ExpiresAt    string `json:"expires_at"`
		Reason       string `json:"reason"`
	}
	if err := decode(r, h.Validator, validate.IssueGiftCard, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	issue := giftcard.IssueRequest{AdminID: id.UserID, CreditsValue: req.CreditsValue, Reason: req.Reason}
	if req.ExpiresAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, r, h.Logger, &validate.Error{
				Op:       validate.IssueGiftCard,
				Problems: []string{fmt.Sprintf("expires_at: %v", err)},
			})
			return
		}
		issue.ExpiresAt = &at
	}

	card, err := h.Cards.Issue(r.Context(), issue)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"gift_card": card})
}

// Void handles POST /admin/gift-cards/{code}/void.
func (h *GiftCardHandler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, h.Validator, validate.Reason, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	card, err := h.Cards.Void(r.Context(), chi.URLParam(r, "code"), id.UserID, req.Reason)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"gift_card": card})
}
