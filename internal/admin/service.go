// Package admin applies privileged credit adjustments. Each adjustment and
// its audit entry commit together.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
)

var (
	ErrReasonRequired        = apperr.New(apperr.KindValidation, "reason_required", "a reason is required")
	ErrInvalidAdjustmentType = apperr.New(apperr.KindValidation, "invalid_adjustment_type", "adjustment type must be one of correction, adjustment, bonus, refund")
	ErrAdjustmentTooLarge    = apperr.New(apperr.KindValidation, "adjustment_too_large", "adjustment exceeds the configured ceiling")
)

var adjustmentTypes = map[models.TransactionType]bool{
	models.TransactionCorrection: true,
	models.TransactionAdjustment: true,
	models.TransactionBonus:      true,
	models.TransactionRefund:     true,
}

// Ledger is the part of the transaction engine adjustments use.
type Ledger interface {
	ApplyTx(ctx context.Context, tx pgx.Tx, req ledger.ApplyRequest) (*ledger.Result, error)
}

type Auditor interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) (*models.AuditLogEntry, error)
}

type Service struct {
	db            database.TxBeginner
	ledger        Ledger
	audit         Auditor
	retry         database.RetryPolicy
	maxAdjustment int64
	logger        *slog.Logger
}

// NewService returns an adjustment service. maxAdjustment bounds the absolute
// amount of a single call; 0 means no ceiling.
func NewService(db database.TxBeginner, l Ledger, a Auditor, retry database.RetryPolicy, maxAdjustment int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, ledger: l, audit: a, retry: retry, maxAdjustment: maxAdjustment, logger: logger}
}

type AdjustRequest struct {
	AdminID uuid.UUID
	UserID  uuid.UUID
	Amount  int64
	Reason  string
	Type    models.TransactionType
}

type AdjustResult struct {
	Transaction *models.Transaction
	NewBalance  int64
	Audit       *models.AuditLogEntry
}

func (s *Service) validate(req *AdjustRequest) error {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return ErrReasonRequired
	}
	if !adjustmentTypes[req.Type] {
		return ErrInvalidAdjustmentType
	}
	if req.Amount == 0 {
		return ledger.ErrInvalidAmount
	}
	if s.maxAdjustment > 0 && (req.Amount > s.maxAdjustment || -req.Amount > s.maxAdjustment) {
		return fmt.Errorf("%w: |%d| > %d", ErrAdjustmentTooLarge, req.Amount, s.maxAdjustment)
	}
	return nil
}

// Adjust changes the user's balance by req.Amount and records exactly one
// audit entry holding the wallet before and after.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (*AdjustResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	var out *AdjustResult
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		res, err := s.ledger.ApplyTx(ctx, tx, ledger.ApplyRequest{
			UserID:      req.UserID,
			Type:        req.Type,
			Amount:      req.Amount,
			Description: "admin adjustment: " + req.Reason,
		})
		if err != nil {
			return err
		}
		entry, err := s.audit.RecordTx(ctx, tx, audit.Entry{
			AdminID:    req.AdminID,
			Action:     models.AuditCreditAdjustment,
			TargetType: models.AuditTargetWallet,
			TargetID:   req.UserID.String(),
			Before:     res.Before.Snapshot(),
			After:      res.Wallet.Snapshot(),
			Reason:     req.Reason,
		})
		if err != nil {
			return err
		}
		out = &AdjustResult{Transaction: res.Transaction, NewBalance: res.NewBalance, Audit: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "credits adjusted",
		"admin_id", req.AdminID, "user_id", req.UserID, "amount", req.Amount, "type", req.Type, "new_balance", out.NewBalance)
	return out, nil
}
