package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/futarchia/foresight/internal/storage"
)

// buildAuditEntry constructs a MutationAuditEntry from the current HTTP
// request and its authenticated claims.
func (h *Handlers) buildAuditEntry(
	r *http.Request,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) storage.MutationAuditEntry {
	actor := "unknown"
	actorRole := "unknown"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		actor = claims.Address
		actorRole = string(claims.Role)
	}

	return storage.MutationAuditEntry{
		RequestID:    RequestIDFromContext(r.Context()),
		Actor:        actor,
		ActorRole:    actorRole,
		HTTPMethod:   r.Method,
		Endpoint:     r.URL.Path,
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BeforeData:   beforeData,
		AfterData:    afterData,
		Metadata:     metadata,
	}
}

// recordMutationAuditBestEffort appends a mutation audit event with bounded
// retries. The mutation itself has already committed, so a persistent audit
// failure is logged rather than surfaced to the caller.
func (h *Handlers) recordMutationAuditBestEffort(
	r *http.Request,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) {
	entry := h.buildAuditEntry(r, operation, resourceType, resourceID, beforeData, afterData, metadata)

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := h.db.InsertMutationAudit(writeCtx, entry); err == nil {
			return
		} else {
			lastErr = err
		}

		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
			lastErr = fmt.Errorf("mutation audit write context expired: %w", lastErr)
			h.logger.Error("mutation audit write abandoned",
				"error", lastErr, "operation", operation,
				"request_id", RequestIDFromContext(r.Context()))
			return
		}
	}
	h.logger.Error("mutation audit write failed after retries",
		"error", lastErr, "operation", operation,
		"request_id", RequestIDFromContext(r.Context()))
}
