package vmm

import "vmmkernel/kernel/mm"

// Entry describes a single page table entry. Implementations encode a
// physical frame target plus a set of access flags. Mutating methods only
// take effect, i.e. become visible to translations performed via the owning
// PageTable, once Commit is called; this mirrors the fact that a real MMU
// requires a TLB flush before it notices an updated entry.
type Entry interface {
	// Present reports whether the page is currently mapped.
	Present() bool
	// Writable reports whether the page can be written to.
	Writable() bool
	// User reports whether user-mode code may access the page.
	User() bool
	// Executable reports whether the page may contain executable code.
	Executable() bool
	// Accessed reports whether the page has been read or written since
	// the flag was last cleared.
	Accessed() bool
	// Dirty reports whether the page has been written to since the flag
	// was last cleared.
	Dirty() bool
	// Shared reports whether the entry is marked as backed by a frame
	// that another address space also references.
	Shared() bool
	// Swapped reports whether the backing frame has been evicted.
	Swapped() bool

	// Target returns the physical frame the entry currently points to.
	Target() mm.Frame
	// SetTarget updates the physical frame the entry points to.
	SetTarget(mm.Frame)

	SetPresent(bool)
	SetWritable(bool)
	SetUser(bool)
	SetExecutable(bool)
	SetShared(bool)
	SetSwapped(bool)
	ClearAccessed()
	ClearDirty()

	// Commit flushes any pending changes so that subsequent translations
	// observe them. Callers must invoke Commit after mutating an entry.
	Commit()
}

// softEntry is an Entry backed by plain Go fields rather than a real page
// table record. It is used by the software PageTable implementation and by
// tests; an arch-specific kernel build would instead implement Entry on top
// of the real MMU entry format.
type softEntry struct {
	target    mm.Frame
	flags     PageTableEntryFlag
	onCommit  func()
	committed PageTableEntryFlag
}

// Present and the other getters below consult the committed flag set, not
// the pending one: mutations made via the Set*/Clear* methods are not
// observable until Commit runs, mirroring a real MMU's need for a TLB flush
// before it notices an updated entry.
func (e *softEntry) Present() bool    { return e.committed.HasFlags(FlagPresent) }
func (e *softEntry) Writable() bool   { return e.committed.HasFlags(FlagRW) }
func (e *softEntry) User() bool       { return e.committed.HasFlags(FlagUserAccessible) }
func (e *softEntry) Executable() bool { return !e.committed.HasFlags(FlagNoExecute) }
func (e *softEntry) Accessed() bool   { return e.committed.HasFlags(FlagAccessed) }
func (e *softEntry) Dirty() bool      { return e.committed.HasFlags(FlagDirty) }
func (e *softEntry) Shared() bool     { return e.committed.HasFlags(FlagShared) }
func (e *softEntry) Swapped() bool    { return e.committed.HasFlags(FlagSwapped) }

func (e *softEntry) Target() mm.Frame { return e.target }

func (e *softEntry) SetTarget(f mm.Frame) { e.target = f }

func (e *softEntry) setFlag(flag PageTableEntryFlag, set bool) {
	if set {
		e.flags |= flag
	} else {
		e.flags &^= flag
	}
}

func (e *softEntry) SetPresent(v bool)    { e.setFlag(FlagPresent, v) }
func (e *softEntry) SetWritable(v bool)   { e.setFlag(FlagRW, v) }
func (e *softEntry) SetUser(v bool)       { e.setFlag(FlagUserAccessible, v) }
func (e *softEntry) SetExecutable(v bool) { e.setFlag(FlagNoExecute, !v) }
func (e *softEntry) SetShared(v bool)     { e.setFlag(FlagShared, v) }
func (e *softEntry) SetSwapped(v bool)    { e.setFlag(FlagSwapped, v) }
func (e *softEntry) ClearAccessed()       { e.flags &^= FlagAccessed }
func (e *softEntry) ClearDirty()          { e.flags &^= FlagDirty }

func (e *softEntry) Commit() {
	e.committed = e.flags
	if e.onCommit != nil {
		e.onCommit()
	}
}

// MemoryAttr is a fluent, additive-by-default builder that maps a small set
// of semantic properties (who can access a page and how) onto the flag bits
// of an Entry. Calling Apply sets the corresponding flags and commits the
// entry in one step.
type MemoryAttr struct {
	user     bool
	readonly bool
	execute  bool
	hide     bool
}

// User marks mapped pages as user-mode accessible.
func (a MemoryAttr) User() MemoryAttr { a.user = true; return a }

// Readonly marks mapped pages as not writable.
func (a MemoryAttr) Readonly() MemoryAttr { a.readonly = true; return a }

// Execute marks mapped pages as containing executable code.
func (a MemoryAttr) Execute() MemoryAttr { a.execute = true; return a }

// Hide marks the mapping as not present, reserving the virtual range
// without granting access to it.
func (a MemoryAttr) Hide() MemoryAttr { a.hide = true; return a }

// Apply sets the flags on e that correspond to this attribute set and
// commits the change.
func (a MemoryAttr) Apply(e Entry) {
	e.SetPresent(!a.hide)
	e.SetWritable(!a.readonly)
	e.SetUser(a.user)
	e.SetExecutable(a.execute)
	e.Commit()
}
