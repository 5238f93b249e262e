package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/validate"
)

// Ledger is the credit engine as the HTTP layer sees it.
type Ledger interface {
	Apply(ctx context.Context, req ledger.ApplyRequest) (*ledger.Result, error)
	Wallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	History(ctx context.Context, userID uuid.UUID, page models.Page) ([]*models.Transaction, error)
	Verify(ctx context.Context, userID uuid.UUID) (*ledger.Verification, error)
}

type LedgerHandler struct {
	Ledger    Ledger
	Validator RequestValidator
	Logger    *slog.Logger
}

type applyTransactionRequest struct {
	UserID      uuid.UUID              `json:"user_id"`
	Type        models.TransactionType `json:"type"`
	Amount      int64                  `json:"amount"`
	Description string                 `json:"description"`
	ReferenceID string                 `json:"reference_id"`
}

// ApplyTransaction handles POST /transactions for trusted services.
func (h *LedgerHandler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req applyTransactionRequest
	if err := decode(r, h.Validator, validate.ApplyTransaction, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	res, err := h.Ledger.Apply(r.Context(), ledger.ApplyRequest{
		UserID:      req.UserID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeOK(w, status, map[string]any{
		"new_balance": res.NewBalance,
		"transaction": res.Transaction,
		"replayed":    res.Replayed,
	})
}

// GetWallet handles GET /wallet for the caller.
func (h *LedgerHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.writeWallet(w, r, id.UserID)
}

// ListTransactions handles GET /wallet/transactions?limit=&offset=.
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	list, err := h.Ledger.History(r.Context(), id.UserID, page)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeOK(w, http.StatusOK, map[string]any{
		"transactions": list,
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}

// AdminGetWallet handles GET /admin/wallets/{userID}.
func (h *LedgerHandler) AdminGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	h.writeWallet(w, r, userID)
}

func (h *LedgerHandler) writeWallet(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	wallet, err := h.Ledger.Wallet(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"wallet": wallet})
}

// VerifyWallet handles GET /admin/wallets/{userID}/verify. A mismatch is
// answered with 500 and the verification so the operator sees both figures.
func (h *LedgerHandler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userID")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	v, err := h.Ledger.Verify(r.Context(), userID)
	if errors.Is(err, ledger.ErrInvariantViolation) && v != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":      false,
			"error":        map[string]string{"code": apperr.CodeOf(err), "message": apperr.MessageOf(err)},
			"verification": v,
		})
		return
	}
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"verification": v})
}
