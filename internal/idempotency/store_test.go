package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/imrishuroy/go-topup-payflow/internal/dynamotest"
)

func newTestStore() (*Store, *dynamotest.Fake) {
	db := dynamotest.New()
	db.CreateTable("deliveries", "delivery_key")
	s := NewStore(db, "deliveries", 48*time.Hour)
	s.nowFunc = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, db
}

func TestKey(t *testing.T) {
	if got := Key("plisio", "ORD-1", "tx9", "Completed"); got != "plisio:ORD-1:tx9:completed" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestBegin_Get_MarkDone(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("plisio", "ORD-1", "tx1", "completed")

	claimed, err := s.Begin(ctx, key, "ORD-1")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first Begin to claim")
	}

	// a concurrent retry sees IN_PROGRESS
	claimed, err = s.Begin(ctx, key, "ORD-1")
	if err != nil {
		t.Fatalf("second Begin error: %v", err)
	}
	if claimed {
		t.Fatalf("expected duplicate Begin not to claim")
	}

	if err := s.MarkDone(ctx, key, "done"); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.Status != StatusDone || rec.Outcome != "done" || rec.OrderID != "ORD-1" {
		t.Fatalf("unexpected record %+v", rec)
	}

	claimed, _ = s.Begin(ctx, key, "ORD-1")
	if claimed {
		t.Fatalf("expected DONE delivery not to be claimed again")
	}
}

func TestBegin_ReclaimsFailed(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("coinbase", "ORD-2", "tx2", "completed")

	if _, err := s.Begin(ctx, key, "ORD-2"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if err := s.MarkFailed(ctx, key, "ledger unavailable"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	claimed, err := s.Begin(ctx, key, "ORD-2")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected FAILED delivery to be re-claimed")
	}
}

func TestBegin_ReclaimsStaleInProgress(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	key := Key("plisio", "ORD-3", "tx3", "completed")

	if _, err := s.Begin(ctx, key, "ORD-3"); err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	later := s.nowFunc().Add(10 * time.Minute)
	s.nowFunc = func() time.Time { return later }

	claimed, err := s.Begin(ctx, key, "ORD-3")
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !claimed {
		t.Fatalf("expected stale IN_PROGRESS delivery to be re-claimed")
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestMarkDone_Missing(t *testing.T) {
	s, _ := newTestStore()
	if err := s.MarkDone(context.Background(), "nope", "done"); err == nil {
		t.Fatalf("expected error marking an unknown delivery")
	}
}
