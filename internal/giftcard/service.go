// Package giftcard issues and redeems single-use credit codes.
package giftcard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/apperr"
	"github.com/makerhub/backend/internal/audit"
	"github.com/makerhub/backend/internal/database"
	"github.com/makerhub/backend/internal/ledger"
	"github.com/makerhub/backend/internal/models"
	"github.com/makerhub/backend/internal/repository"
)

var (
	ErrInvalidCode     = apperr.New(apperr.KindValidation, "invalid_code", "gift card code must look like XXXX-XXXX-XXXX")
	ErrInvalidValue    = apperr.New(apperr.KindValidation, "invalid_credits_value", "credits value must be positive")
	ErrReasonRequired  = apperr.New(apperr.KindValidation, "reason_required", "a reason is required")
	ErrNotFound        = apperr.New(apperr.KindNotFound, "gift_card_not_found", "gift card not found")
	ErrAlreadyRedeemed = apperr.New(apperr.KindConflict, "already_redeemed", "gift card has already been redeemed")
	ErrExpired         = apperr.New(apperr.KindConflict, "gift_card_expired", "gift card has expired")
	ErrVoid            = apperr.New(apperr.KindConflict, "gift_card_void", "gift card has been voided")
)

const issueAttempts = 5

type Repo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.GiftCard) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, code string) (*models.GiftCard, error)
	MarkRedeemedTx(ctx context.Context, tx pgx.Tx, code string, userID uuid.UUID, at time.Time) (bool, error)
	MarkVoidTx(ctx context.Context, tx pgx.Tx, code string) (bool, error)
	ExpireIssuedBefore(ctx context.Context, now time.Time) (int64, error)
}

type Ledger interface {
	ApplyTx(ctx context.Context, tx pgx.Tx, req ledger.ApplyRequest) (*ledger.Result, error)
}

type Auditor interface {
	RecordTx(ctx context.Context, tx pgx.Tx, e audit.Entry) (*models.AuditLogEntry, error)
}

type Service struct {
	db     database.TxBeginner
	repo   Repo
	ledger Ledger
	audit  Auditor
	retry  database.RetryPolicy
	ttl    time.Duration
	logger *slog.Logger
}

// NewService returns a gift card service. Cards issued without an explicit
// expiry expire after ttl; a zero ttl issues cards that never expire.
func NewService(db database.TxBeginner, repo Repo, l Ledger, a Auditor, retry database.RetryPolicy, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, repo: repo, ledger: l, audit: a, retry: retry, ttl: ttl, logger: logger}
}

type Redemption struct {
	Code         string
	CreditsValue int64
	NewBalance   int64
	Transaction  *models.Transaction
}

// statusErr maps a card that cannot be redeemed or voided to its error.
func statusErr(card *models.GiftCard, now time.Time) error {
	switch card.Status {
	case models.GiftCardRedeemed:
		return ErrAlreadyRedeemed
	case models.GiftCardVoid:
		return ErrVoid
	case models.GiftCardExpired:
		return ErrExpired
	}
	if card.PastExpiry(now) {
		return ErrExpired
	}
	return nil
}

func (s *Service) lockCard(ctx context.Context, tx pgx.Tx, code string) (*models.GiftCard, error) {
	card, err := s.repo.GetForUpdateTx(ctx, tx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock gift card: %w", err)
	}
	return card, nil
}

// Redeem marks the card redeemed and credits its value to the user in one
// transaction. Of any number of concurrent attempts on one code, exactly one
// succeeds; the rest get ErrAlreadyRedeemed.
func (s *Service) Redeem(ctx context.Context, code string, userID uuid.UUID) (*Redemption, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	var out *Redemption
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		card, err := s.lockCard(ctx, tx, code)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := statusErr(card, now); err != nil {
			return err
		}
		ok, err := s.repo.MarkRedeemedTx(ctx, tx, code, userID, now)
		if err != nil {
			return fmt.Errorf("mark redeemed: %w", err)
		}
		if !ok {
			return ErrAlreadyRedeemed
		}
		res, err := s.ledger.ApplyTx(ctx, tx, ledger.ApplyRequest{
			UserID:      userID,
			Type:        models.TransactionGiftCard,
			Amount:      card.CreditsValue,
			Description: "gift card " + code,
			ReferenceID: code,
		})
		if err != nil {
			return err
		}
		if res.Replayed {
			return ErrAlreadyRedeemed
		}
		out = &Redemption{Code: code, CreditsValue: card.CreditsValue, NewBalance: res.NewBalance, Transaction: res.Transaction}
		return nil
	})
	if err != nil {
		s.logger.DebugContext(ctx, "gift card redemption rejected", "user_id", userID, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "gift card redeemed", "user_id", userID, "credits", out.CreditsValue)
	return out, nil
}

type IssueRequest struct {
	AdminID      uuid.UUID
	CreditsValue int64
	ExpiresAt    *time.Time
	Reason       string
}

// Issue creates a new card with a random code and audits it.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.GiftCard, error) {
	if req.CreditsValue <= 0 {
		return nil, ErrInvalidValue
	}
	expiresAt := req.ExpiresAt
	if expiresAt == nil && s.ttl > 0 {
		t := time.Now().UTC().Add(s.ttl)
		expiresAt = &t
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "gift card issued"
	}

	for attempt := 1; ; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		card := &models.GiftCard{
			Code:         code,
			CreditsValue: req.CreditsValue,
			Status:       models.GiftCardIssued,
			IssuedBy:     &req.AdminID,
			ExpiresAt:    expiresAt,
		}
		err = database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
			if err := s.repo.CreateTx(ctx, tx, card); err != nil {
				return err
			}
			_, err := s.audit.RecordTx(ctx, tx, audit.Entry{
				AdminID:    req.AdminID,
				Action:     models.AuditGiftCardIssue,
				TargetType: models.AuditTargetGiftCard,
				TargetID:   code,
				After:      card.Snapshot(),
				Reason:     reason,
			})
			return err
		})
		if database.IsUniqueViolation(err) && attempt < issueAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("issue gift card: %w", err)
		}
		s.logger.InfoContext(ctx, "gift card issued", "admin_id", req.AdminID, "credits", req.CreditsValue)
		return card, nil
	}
}

// Void retires an issued card so it can no longer be redeemed.
func (s *Service) Void(ctx context.Context, code string, adminID uuid.UUID, reason string) (*models.GiftCard, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	var out *models.GiftCard
	err := database.RunInTx(ctx, s.db, s.retry, func(tx pgx.Tx) error {
		card, err := s.lockCard(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := statusErr(card, time.Now().UTC()); err != nil {
			return err
		}
		ok, err := s.repo.MarkVoidTx(ctx, tx, code)
		if err != nil {
			return fmt.Errorf("mark void: %w", err)
		}
		if !ok {
			return ErrAlreadyRedeemed
		}
		before := card.Snapshot()
		card.Status = models.GiftCardVoid
		if _, err := s.audit.RecordTx(ctx, tx, audit.Entry{
			AdminID:    adminID,
			Action:     models.AuditGiftCardVoid,
			TargetType: models.AuditTargetGiftCard,
			TargetID:   code,
			Before:     before,
			After:      card.Snapshot(),
			Reason:     reason,
		}); err != nil {
			return err
		}
		out = card
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireStale moves every issued card past its expiry to expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.ExpireIssuedBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire gift cards: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "gift cards expired", "count", n)
	}
	return n, nil
}
