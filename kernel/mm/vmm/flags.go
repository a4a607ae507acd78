package vmm

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry. The bit layout mirrors the amd64 page table entry format so that
// values computed here can be reused verbatim by an arch-specific PageTable
// implementation.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set when this page is accessed.
	FlagAccessed

	// FlagDirty is set when this page is modified.
	FlagDirty

	// FlagHugePage is set when using a huge page mapping instead of a
	// standard sized page.
	FlagHugePage

	// FlagGlobal prevents the TLB from invalidating this entry's cached
	// translation when switching page tables.
	FlagGlobal

	// FlagShared marks an entry as backed by a frame that is also mapped
	// by at least one other address space. Nothing in this package sets
	// it, and unmapping an anonymous area frees its frames whether or not
	// the bit is set; it is reserved for higher layers (e.g. copy-on-write).
	FlagShared

	// FlagSwapped marks an entry whose backing frame has been evicted to
	// secondary storage. Swap eviction itself is out of scope; the bit is
	// reserved so higher layers can recognize the condition.
	FlagSwapped

	// FlagNoExecute indicates that the mapped page does not contain
	// executable code.
	FlagNoExecute = 1 << 63
)

// HasFlags returns true if all of the input flags are set.
func (f PageTableEntryFlag) HasFlags(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

// HasAnyFlag returns true if at least one of the input flags is set.
func (f PageTableEntryFlag) HasAnyFlag(flags PageTableEntryFlag) bool {
	return f&flags != 0
}
