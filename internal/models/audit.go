package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditCreditAdjustment AuditAction = "credit_adjustment"
	AuditGiftCardIssue    AuditAction = "gift_card_issue"
	AuditGiftCardVoid     AuditAction = "gift_card_void"
	AuditOrderAssign      AuditAction = "order_assign"
	AuditOrderComplete    AuditAction = "order_complete"
	AuditOrderCancel      AuditAction = "order_cancel"
)

type AuditTarget string

const (
	AuditTargetWallet   AuditTarget = "wallet"
	AuditTargetGiftCard AuditTarget = "gift_card"
	AuditTargetOrder    AuditTarget = "order"
)

// AuditLogEntry records one privileged mutation. Rows are write-once.
type AuditLogEntry struct {
	ID          uuid.UUID       `json:"id"`
	AdminID     uuid.UUID       `json:"admin_id"`
	ActionType  AuditAction     `json:"action_type"`
	TargetType  AuditTarget     `json:"target_type"`
	TargetID    string          `json:"target_id"`
	BeforeState json.RawMessage `json:"before_state,omitempty"`
	AfterState  json.RawMessage `json:"after_state,omitempty"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditFilter narrows an audit log query. Zero values match everything.
type AuditFilter struct {
	ActionType AuditAction
	TargetType AuditTarget
	AdminID    *uuid.UUID
	Search     string
	Page       Page
}
