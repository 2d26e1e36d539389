package audit

import (
	"context"

	"github.com/cod3vil/data-veil/internal/workflow"
)

// Nop is an Auditor that records nothing. Used when no audit database is
// configured.
type Nop struct{}

// Record discards the entry.
func (Nop) Record(ctx context.Context, entry workflow.AuditEntry) {}
