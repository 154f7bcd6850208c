package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry records who did what to which entity. Separate from the payment
// event ledger: the ledger tracks money facts, the audit log tracks actions.
type AuditEntry struct {
	ID          string         `json:"id"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	ActorRole   Role           `json:"actor_role"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewAuditEntry builds an audit record for the given actor
func NewAuditEntry(actor Actor, action, entityType, entityID string, now time.Time) *AuditEntry {
	role := RoleSystem
	if !actor.System && len(actor.Roles) > 0 {
		role = actor.Roles[0]
	}
	return &AuditEntry{
		ID:          uuid.New().String(),
		ActorUserID: actor.UserID,
		ActorRole:   role,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		CreatedAt:   now,
	}
}
