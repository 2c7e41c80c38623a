package journal

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/sitepreview/dbopen"
)

func setup(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, opts...)
}

func TestRecordAndList(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	j := setup(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	j.Record(ctx, Event{SessionID: "s1", Generation: 1, Kind: KindStarted})
	j.Record(ctx, Event{SessionID: "s1", Generation: 1, Kind: KindPoll, Status: "pending", Message: "Website build in progress..."})
	j.Record(ctx, Event{SessionID: "s2", Generation: 2, Kind: KindStarted})
	j.Record(ctx, Event{SessionID: "s1", Generation: 1, Kind: KindInstalled, Status: "completed", Assets: 4})

	events, err := j.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Kind != KindInstalled || events[0].Assets != 4 || events[0].Generation != 1 {
		t.Fatalf("newest = %+v", events[0])
	}
	if events[2].Kind != KindStarted {
		t.Fatalf("oldest = %+v", events[2])
	}
	if events[1].Message != "Website build in progress..." {
		t.Fatalf("message = %q", events[1].Message)
	}
	if events[0].EventID == "" || events[0].EventID[:4] != "evt_" {
		t.Fatalf("event id = %q", events[0].EventID)
	}

	all, err := j.List(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("limit ignored: %d", len(all))
	}
}

func TestRecordSwallowsErrors(t *testing.T) {
	db := dbopen.OpenMemory(t)
	j := New(db)
	// No schema: the insert fails but Record must not panic or block.
	j.Record(context.Background(), Event{Kind: KindFailed})
	if _, err := j.List(context.Background(), "", 10); err == nil {
		t.Fatal("expected List error without schema")
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	j := setup(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	j.Record(ctx, Event{Kind: KindStarted, CreatedAt: now.Add(-72 * time.Hour)})
	j.Record(ctx, Event{Kind: KindStarted, CreatedAt: now.Add(-1 * time.Hour)})

	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	left, _ := j.List(ctx, "", 10)
	if len(left) != 1 {
		t.Fatalf("left %d", len(left))
	}
}

func TestInit(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}
