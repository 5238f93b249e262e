// Package audit records privileged mutations. Entries are written inside the
// mutation's own transaction and are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makerhub/backend/internal/models"
)

type Repo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.AuditLogEntry) error
	Query(ctx context.Context, f models.AuditFilter) ([]*models.AuditLogEntry, error)
}

type Service struct {
	repo   Repo
	logger *slog.Logger
}

func NewService(repo Repo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Entry is one privileged action. Before and After are typed snapshots
// serialized to JSON; either may be nil.
type Entry struct {
	AdminID    uuid.UUID
	Action     models.AuditAction
	TargetType models.AuditTarget
	TargetID   string
	Before     any
	After      any
	Reason     string
}

// RecordTx appends the entry in tx, so it commits or rolls back together
// with the mutation it describes.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, e Entry) (*models.AuditLogEntry, error) {
	before, err := marshalState(e.Before)
	if err != nil {
		return nil, fmt.Errorf("marshal before state: %w", err)
	}
	after, err := marshalState(e.After)
	if err != nil {
		return nil, fmt.Errorf("marshal after state: %w", err)
	}
	row := &models.AuditLogEntry{
		ID:          uuid.New(),
		AdminID:     e.AdminID,
		ActionType:  e.Action,
		TargetType:  e.TargetType,
		TargetID:    e.TargetID,
		BeforeState: before,
		AfterState:  after,
		Reason:      strings.TrimSpace(e.Reason),
	}
	if err := s.repo.CreateTx(ctx, tx, row); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	s.logger.InfoContext(ctx, "audit entry recorded",
		"admin_id", e.AdminID, "action", e.Action, "target_type", e.TargetType, "target_id", e.TargetID)
	return row, nil
}

// Query returns matching entries, newest first.
func (s *Service) Query(ctx context.Context, f models.AuditFilter) ([]*models.AuditLogEntry, error) {
	f.Page = f.Page.Normalize()
	list, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return list, nil
}

func marshalState(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
