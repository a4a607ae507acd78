package vmm

import (
	"vmmkernel/kernel/mm"
	"vmmkernel/kernel/sync"
	"unsafe"
)

// PageTable is the capability an Area needs in order to install or remove
// translations: it must belong to the currently active address space, i.e.
// the one the MMU consults to resolve the virtual addresses a running task
// dereferences.
type PageTable interface {
	// MapTo installs (or replaces) a translation from page to target,
	// applying attr, and returns the resulting Entry.
	MapTo(page mm.Page, target mm.Frame, attr MemoryAttr) Entry
	// Unmap removes any translation previously installed for page. It is
	// a no-op if page was not mapped.
	Unmap(page mm.Page)
	// EntryAt returns the Entry installed for page, if any.
	EntryAt(page mm.Page) (Entry, bool)
	// Token returns an opaque value that uniquely identifies this table.
	// Two PageTable values obtained from the same InactivePageTable
	// return equal tokens.
	Token() uintptr
}

// InactivePageTable owns a page table hierarchy that is not necessarily the
// one currently consulted by the MMU. Its contents can only be mutated
// through Edit, which guarantees the table is active for the duration of the
// supplied function; this mirrors architectures (like amd64, via its
// recursive self-mapping trick) where editing a page table's own entries
// requires that table to be reachable through the active mapping.
type InactivePageTable interface {
	// Edit temporarily activates the table, invokes fn with a PageTable
	// that can be used to install or remove mappings, and then restores
	// whichever table was active beforehand.
	Edit(fn func(PageTable))
	// Activate installs this table as the one the MMU consults, and
	// keeps it installed after Edit/Activate returns.
	Activate()
	// Token returns the same opaque identifier Token() on the table's
	// PageTable view would return.
	Token() uintptr
}

// table is the only PageTable/InactivePageTable implementation in this
// package: a plain Go map keyed by page number. Real hardware page tables
// are walked structures rooted at a single physical frame (see the amd64
// recursive self-mapping technique); table collapses that structure away
// since nothing outside of arch-specific boot code needs to observe the
// intermediate levels, and a flat map is trivial to exercise in tests.
type table struct {
	entries map[mm.Page]*softEntry
}

// NewTable creates an empty, inactive page table hierarchy.
func NewTable() InactivePageTable {
	return &table{entries: make(map[mm.Page]*softEntry)}
}

func (t *table) MapTo(page mm.Page, target mm.Frame, attr MemoryAttr) Entry {
	e, ok := t.entries[page]
	if !ok {
		e = &softEntry{}
		t.entries[page] = e
	}
	e.SetTarget(target)
	attr.Apply(e)
	return e
}

func (t *table) Unmap(page mm.Page) {
	delete(t.entries, page)
}

func (t *table) EntryAt(page mm.Page) (Entry, bool) {
	e, ok := t.entries[page]
	if !ok {
		return nil, false
	}
	return e, true
}

func (t *table) Token() uintptr {
	return tableToken(t)
}

func (t *table) Edit(fn func(PageTable)) {
	activeTableLock.Acquire()
	defer activeTableLock.Release()

	prev := activeTable
	activeTable = t
	fn(t)
	activeTable = prev
}

func (t *table) Activate() {
	activeTableLock.Acquire()
	activeTable = t
	activeTableLock.Release()
}

var (
	// activeTable simulates the CR3 register: the table the (single,
	// simulated) MMU currently consults. Tests and callers that need to
	// inspect "what's active right now" read this indirectly via
	// ActiveToken.
	activeTable *table

	// activeTableLock guards activeTable. On real hardware each CPU has its
	// own CR3, but AddressSpace.With borrows the single simulated MMU to
	// edit a table that is not the running task's own; the lock keeps two
	// CPUs' borrow-edit-restore sequences from interleaving and leaving the
	// wrong table active.
	activeTableLock sync.Spinlock
)

// ActiveToken returns the Token of whichever InactivePageTable is currently
// active, or 0 if none has been activated yet.
func ActiveToken() uintptr {
	if activeTable == nil {
		return 0
	}
	return activeTable.Token()
}

// tableToken derives a stable identifier for t. A real amd64 InactivePageTable
// would return the physical address of its root frame; using t's own address
// plays the same role (stable for the table's lifetime, distinct across
// tables) for the purely-software implementation.
func tableToken(t *table) uintptr {
	return uintptr(unsafe.Pointer(t))
}
