package activity

import (
	"context"
	"fmt"

	"designdesk/api/internal/events"
	"designdesk/api/internal/store"
)

type auditStore interface {
	InsertAudit(ctx context.Context, entry store.AuditEntry) error
}

// AuditTrail persists RequestAudited events.
type AuditTrail struct {
	store auditStore
}

func NewAuditTrail(st auditStore) *AuditTrail {
	return &AuditTrail{store: st}
}

func (a *AuditTrail) HandleEvent(ctx context.Context, ev events.Event) error {
	if ev.Type != events.RequestAudited || ev.Audit == nil {
		return nil
	}
	if err := a.store.InsertAudit(ctx, *ev.Audit); err != nil {
		return fmt.Errorf("audit %s %s: %w", ev.Audit.Method, ev.Audit.Path, err)
	}
	return nil
}
