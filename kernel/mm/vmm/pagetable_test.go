package vmm

import (
	"vmmkernel/kernel/mm"
	"testing"
)

func TestTableMapUnmap(t *testing.T) {
	it := NewTable()

	var got Entry
	it.Edit(func(pt PageTable) {
		got = pt.MapTo(mm.Page(1), mm.Frame(2), MemoryAttr{})
	})

	if !got.Present() {
		t.Fatal("expected mapped entry to be present")
	}
	if got.Target() != mm.Frame(2) {
		t.Fatalf("expected target frame 2; got %v", got.Target())
	}

	it.Edit(func(pt PageTable) {
		e, ok := pt.EntryAt(mm.Page(1))
		if !ok {
			t.Fatal("expected EntryAt to find the mapped page")
		}
		if e.Target() != mm.Frame(2) {
			t.Fatalf("expected target frame 2; got %v", e.Target())
		}

		pt.Unmap(mm.Page(1))
		if _, ok := pt.EntryAt(mm.Page(1)); ok {
			t.Fatal("expected page to be unmapped")
		}
	})
}

func TestTableActivateAndEditRestorePrevious(t *testing.T) {
	outer := NewTable()
	inner := NewTable()

	outer.Activate()
	if got, want := ActiveToken(), outer.Token(); got != want {
		t.Fatalf("expected outer table to be active; got token %x want %x", got, want)
	}

	inner.Edit(func(pt PageTable) {
		if got, want := ActiveToken(), inner.Token(); got != want {
			t.Fatalf("expected inner table to be active during Edit; got %x want %x", got, want)
		}
	})

	if got, want := ActiveToken(), outer.Token(); got != want {
		t.Fatalf("expected outer table to be restored active after Edit; got %x want %x", got, want)
	}
}

func TestTableTokenDistinctPerInstance(t *testing.T) {
	a := NewTable()
	b := NewTable()

	if a.Token() == b.Token() {
		t.Fatal("expected distinct tables to have distinct tokens")
	}
}
