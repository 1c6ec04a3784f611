package bitrix

import (
	"context"
	"testing"
	"time"
)

func TestOptionIDResolvesAndCaches(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	enums := NewEnumCache(client, time.Hour)
	ctx := context.Background()

	id, err := enums.OptionID(ctx, "UF_CRM_STATE_LIVE", "sp")
	if err != nil {
		t.Fatalf("option lookup failed: %v", err)
	}
	if id != "601" {
		t.Fatalf("expected option 601, got %q", id)
	}

	if id, err = enums.OptionID(ctx, "UF_CRM_STATE_LIVE", "RJ"); err != nil || id != "603" {
		t.Fatalf("second lookup = (%q, %v), want (603, nil)", id, err)
	}
	if n := fake.callCount("crm.deal.fields"); n != 1 {
		t.Fatalf("expected one metadata fetch, got %d", n)
	}
}

func TestOptionIDMissReturnsEmpty(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	enums := NewEnumCache(client, time.Hour)
	ctx := context.Background()

	if id, err := enums.OptionID(ctx, "UF_CRM_STATE_LIVE", "XX"); err != nil || id != "" {
		t.Fatalf("unknown label = (%q, %v), want empty", id, err)
	}
	// Non-enumeration fields never resolve.
	if id, err := enums.OptionID(ctx, "TITLE", "anything"); err != nil || id != "" {
		t.Fatalf("string field = (%q, %v), want empty", id, err)
	}
	if id, err := enums.OptionID(ctx, "", "SP"); err != nil || id != "" {
		t.Fatalf("empty field id = (%q, %v), want empty without error", id, err)
	}
}
