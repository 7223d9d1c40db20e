package reconcile

import "testing"

func TestTagLedgerPendingDrain(t *testing.T) {
	l := NewTagLedger()

	l.AddPending("tag-work", "stk-1")
	l.AddPending("tag-work", "stk-2")

	drained := l.DrainPending("tag-work")
	if len(drained) != 2 {
		t.Fatalf("expected 2 pending stacks, got %d", len(drained))
	}

	if more := l.DrainPending("tag-work"); len(more) != 0 {
		t.Fatalf("expected drain to be idempotent, got %v", more)
	}
}

func TestTagLedgerRemapResolution(t *testing.T) {
	l := NewTagLedger()

	l.Remap("tag-old", "tag-new")
	if got := l.Resolve("tag-old"); got != "tag-new" {
		t.Fatalf("expected tag-old to resolve to tag-new, got %s", got)
	}
	if got := l.Resolve("tag-new"); got != "tag-new" {
		t.Fatalf("expected tag-new to resolve to itself, got %s", got)
	}
}

func TestTagLedgerChainedRemap(t *testing.T) {
	l := NewTagLedger()

	l.Remap("tag-a", "tag-b")
	l.Remap("tag-b", "tag-c")

	if got := l.Resolve("tag-a"); got != "tag-c" {
		t.Fatalf("expected chained remap tag-a -> tag-c, got %s", got)
	}
}

func TestTagLedgerDrainUnknownTagIsEmpty(t *testing.T) {
	l := NewTagLedger()
	if drained := l.DrainPending("tag-never-seen"); drained != nil {
		t.Fatalf("expected nil for never-pending tag, got %v", drained)
	}
}
