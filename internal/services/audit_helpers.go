package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/auditctx"
	"github.com/charlesng35/dbwarden/pkg/logger"
)

// recordAudit logs the supplied entry while tolerating audit failures.
// Missing actor fields are filled from the request context.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.Username == "" {
			entry.Username = actor.Username
		}
		if entry.ClientIP == "" {
			entry.ClientIP = actor.IPAddress
		}
		if actor.UserAgent != "" {
			if entry.Metadata == nil {
				entry.Metadata = map[string]any{}
			}
			entry.Metadata["user_agent"] = actor.UserAgent
		}
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func auditResult(err error) string {
	if err != nil {
		return AuditFailure
	}
	return AuditSuccess
}
