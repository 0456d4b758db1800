package vring

import "testing"

func TestSlotWrapsAroundQueueSize(t *testing.T) {
	r := New(4)
	got := []uint16{r.Slot(), r.Slot(), r.Slot(), r.Slot(), r.Slot()}
	want := []uint16{0, 1, 2, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d: got %d want %d", i, got[i], want[i])
		}
	}
	if r.WriteIndex() != 5 {
		t.Errorf("write index should keep counting past the wrap, got %d", r.WriteIndex())
	}
}

func TestPendingAndAdvance(t *testing.T) {
	r := New(8)
	r.Slot()
	r.Slot()
	if r.Pending(2) != 2 {
		t.Errorf("expected 2 pending entries, got %d", r.Pending(2))
	}
	r.Advance()
	if r.Pending(2) != 1 {
		t.Errorf("expected 1 pending entry after advance, got %d", r.Pending(2))
	}
	if r.ReadCursor() != 1 {
		t.Errorf("expected read cursor 1, got %d", r.ReadCursor())
	}
}
