package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makerhub/backend/internal/models"
)

// AuditRepo is append-only: there is no update or delete.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.AuditLogEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO admin_audit_log (id, admin_id, action_type, target_type, target_id, before_state, after_state, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.AdminID, e.ActionType, e.TargetType, e.TargetID, nullJSON(e.BeforeState), nullJSON(e.AfterState), e.Reason).Scan(&e.CreatedAt)
}

// Query returns entries matching the filter, newest first.
func (r *AuditRepo) Query(ctx context.Context, f models.AuditFilter) ([]*models.AuditLogEntry, error) {
	q, args := auditQuery(f)
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.AdminID, &e.ActionType, &e.TargetType, &e.TargetID, &before, &after, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BeforeState, e.AfterState = before, after
		list = append(list, &e)
	}
	return list, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches s literally anywhere in a LIKE operand.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func auditQuery(f models.AuditFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ActionType != "" {
		add("action_type = $%d", f.ActionType)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.AdminID != nil {
		add("admin_id = $%d", *f.AdminID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add(`(reason ILIKE $%[1]d ESCAPE '\' OR target_id ILIKE $%[1]d ESCAPE '\')`, containsPattern(s))
	}
	q := `SELECT id, admin_id, action_type, target_type, target_id, before_state, after_state, reason, created_at FROM admin_audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return q, args
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
