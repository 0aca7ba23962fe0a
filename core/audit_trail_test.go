package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAuditTrailRedactsSensitiveValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAuditStore()
	trail := NewAuditTrail(store)

	err := trail.Record(ctx, AuditEvent{
		IntegrationID: "int-1",
		UserID:        "u1",
		Action:        AuditActionRefresh,
		Error:         "upstream said: invalid header Bearer abc123",
		Metadata: map[string]any{
			"refresh_token":  "r-1",
			"integration_id": "int-1",
			"nested":         map[string]any{"access_token": "a-1", "attempts": 2},
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	events, _ := store.List(ctx, AuditFilter{})
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Metadata["refresh_token"] != RedactedValue || event.Metadata["integration_id"] != "int-1" {
		t.Fatalf("unexpected metadata %+v", event.Metadata)
	}
	nested := event.Metadata["nested"].(map[string]any)
	if nested["access_token"] != RedactedValue || nested["attempts"] != 2 {
		t.Fatalf("unexpected nested metadata %+v", nested)
	}
	if event.Error != "upstream said: invalid header Bearer "+RedactedValue {
		t.Fatalf("expected bearer value masked, got %q", event.Error)
	}
	if event.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be stamped")
	}
}

func TestAuditTrailRejectsUnknownAction(t *testing.T) {
	trail := NewAuditTrail(NewMemoryAuditStore())
	var validation *ValidationError
	if err := trail.Record(context.Background(), AuditEvent{Action: "sync"}); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuditTrailListFilters(t *testing.T) {
	ctx := context.Background()
	trail := NewAuditTrail(NewMemoryAuditStore())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, action := range []AuditAction{AuditActionConnect, AuditActionAPICall, AuditActionAPICall, AuditActionDisconnect} {
		_ = trail.Record(ctx, AuditEvent{
			UserID:     "u1",
			ProviderID: "notion",
			Action:     action,
			Success:    i != 2,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	_ = trail.Record(ctx, AuditEvent{UserID: "u2", Action: AuditActionConnect, OccurredAt: base})

	failed := false
	events, err := trail.List(ctx, AuditFilter{UserID: "u1", Success: &failed})
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one failed event, got %d (%v)", len(events), err)
	}

	events, _ = trail.List(ctx, AuditFilter{UserID: "u1", Action: AuditActionAPICall})
	if len(events) != 2 {
		t.Fatalf("expected two api calls, got %d", len(events))
	}

	events, _ = trail.List(ctx, AuditFilter{UserID: "u1", Since: base.Add(90 * time.Minute)})
	if len(events) != 2 || events[0].Action != AuditActionDisconnect {
		t.Fatalf("expected newest first after since, got %+v", events)
	}

	events, _ = trail.List(ctx, AuditFilter{UserID: "u1", Limit: 1, Offset: 1})
	if len(events) != 1 || events[0].Action != AuditActionAPICall {
		t.Fatalf("unexpected page %+v", events)
	}

	if _, err := trail.List(ctx, AuditFilter{Since: base, Until: base.Add(-time.Hour)}); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
}
