package core

import (
	"context"
	"strings"
	"time"
)

type transitionRequest struct {
	To        IntegrationStatus
	Reason    string
	Action    AuditAction
	Success   bool
	Cause     error
	StartedAt time.Time
	Metadata  map[string]any
	Mutate    func(*Integration)
}

// transition is the only writer of Integration.Status. The write is a
// compare-and-set on the status read by the caller and every successful
// write is mirrored into the audit trail.
func (s *Service) transition(ctx context.Context, current Integration, req transitionRequest) (Integration, error) {
	previous := current.Status
	next := current.Clone()
	if req.Mutate != nil {
		req.Mutate(&next)
	}
	now := s.now()
	if err := next.TransitionTo(req.To, req.Reason, now); err != nil {
		return Integration{}, err
	}
	saved, err := s.integrations.Update(ctx, next, previous)
	if err != nil {
		return Integration{}, err
	}

	metadata := copyAnyMap(req.Metadata)
	metadata["previous_status"] = string(previous)
	metadata["status"] = string(saved.Status)
	if saved.ErrorCount > 0 {
		metadata["error_count"] = saved.ErrorCount
	}
	event := AuditEvent{
		IntegrationID: saved.ID,
		UserID:        saved.UserID,
		ProviderID:    saved.ProviderID,
		Action:        req.Action,
		Scopes:        saved.GrantedScopes,
		Success:       req.Success,
		Metadata:      metadata,
		OccurredAt:    now,
	}
	if req.Cause != nil {
		event.Error = req.Cause.Error()
	}
	if !req.StartedAt.IsZero() {
		event.Duration = now.Sub(req.StartedAt)
	}
	s.recordAudit(ctx, event)

	if previous != saved.Status {
		s.logInfo(ctx, "integration status changed", map[string]any{
			"integration_id":  saved.ID,
			"provider_id":     saved.ProviderID,
			"previous_status": string(previous),
			"status":          string(saved.Status),
		})
	}
	return saved, nil
}

// recordFailure writes an error audit event for failures that happen outside
// a status transition.
func (s *Service) recordFailure(ctx context.Context, base AuditEvent, startedAt time.Time, cause error) {
	event := base
	event.Action = AuditActionError
	event.Success = false
	if cause != nil {
		event.Error = cause.Error()
		if converter, ok := cause.(ServiceErrorConverter); ok {
			if mapped := converter.ToServiceError(); mapped != nil {
				event.Metadata = copyAnyMap(event.Metadata)
				event.Metadata["text_code"] = mapped.TextCode
			}
		}
	}
	event.Duration = s.now().Sub(startedAt)
	s.recordAudit(ctx, event)
}

func (s *Service) recordAPICall(ctx context.Context, base AuditEvent, startedAt time.Time, cause error) {
	event := base
	event.Action = AuditActionAPICall
	event.Success = cause == nil
	if cause != nil {
		event.Error = cause.Error()
	}
	event.Duration = s.now().Sub(startedAt)
	s.recordAudit(ctx, event)
}

// recordAudit never masks the operation result: write failures are logged.
func (s *Service) recordAudit(ctx context.Context, event AuditEvent) {
	if s == nil || s.audit == nil {
		return
	}
	if strings.TrimSpace(string(event.Action)) == "" {
		event.Action = AuditActionError
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logError(ctx, "audit write failed", map[string]any{
			"integration_id": event.IntegrationID,
			"action":         string(event.Action),
			"error":          err.Error(),
		})
	}
}
