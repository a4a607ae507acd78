package vmm

import (
	"vmmkernel/kernel"
	"vmmkernel/kernel/kfmt"
	"vmmkernel/kernel/mm"
)

var (
	errAreaOutOfRange = &kernel.Error{Module: "vmm", Message: "address is outside of area bounds"}
)

// backing describes how an Area's pages obtain their physical frame.
type backing uint8

const (
	// backingAnonymous allocates a fresh frame per page from the frame
	// allocator as the area is mapped. The area does not clear the frame,
	// so its initial contents are whatever the allocator hands back. This
	// is the backing used for heap and stack areas.
	backingAnonymous backing = iota
	// backingIdentity maps each virtual page to the physical frame with
	// the same number, i.e. virtAddr == physAddr.
	backingIdentity
	// backingPhysical maps each virtual page to a physical frame offset
	// by a fixed displacement from the area's start address.
	backingPhysical
)

// Area is a contiguous, half-open run of virtual addresses [Start, End)
// sharing the same backing policy and MemoryAttr. It is the unit an
// AddressSpace tracks and the unit at which map/unmap decisions are made.
type Area struct {
	Name string

	Start mm.VirtAddr
	End   mm.VirtAddr

	backing  backing
	physBase mm.PhysAddr
	attr     MemoryAttr
}

// NewAnonymousArea creates an area backed by frames allocated on demand from
// the active frame allocator as each page is mapped.
func NewAnonymousArea(name string, start, end mm.VirtAddr, attr MemoryAttr) *Area {
	return &Area{Name: name, Start: start, End: end, backing: backingAnonymous, attr: attr}
}

// NewIdentityArea creates an area whose virtual pages map 1:1 onto the
// physical frames with the same address, e.g. for kernel regions that must
// see device or low memory at the address the hardware already places it.
func NewIdentityArea(name string, start, end mm.VirtAddr, attr MemoryAttr) *Area {
	return &Area{Name: name, Start: start, End: end, backing: backingIdentity, attr: attr}
}

// NewPhysicalArea creates an area whose virtual pages map onto physical
// memory starting at physBase, preserving the offset of each page from
// Start. It maps physical memory the area does not own (e.g. a device
// region or memory placed by a bootloader) at a chosen virtual address.
func NewPhysicalArea(name string, start, end mm.VirtAddr, physBase mm.PhysAddr, attr MemoryAttr) *Area {
	return &Area{Name: name, Start: start, End: end, backing: backingPhysical, physBase: physBase, attr: attr}
}

// Len returns the size of the area in bytes.
func (a *Area) Len() uintptr { return a.End - a.Start }

// Contains reports whether addr lies within [Start, End).
func (a *Area) Contains(addr mm.VirtAddr) bool {
	return addr >= a.Start && addr < a.End
}

// Overlaps reports whether a and other share at least one page of virtual
// address space, i.e. whether their covering page ranges intersect. Two
// areas that merely share a page without sharing a byte — e.g. one ending
// mid-page and the next starting at that same page — still count as
// overlapping, since both would need a translation for that shared page and
// the page table holds only one entry per page.
func (a *Area) Overlaps(other *Area) bool {
	ar := mm.PageRangeCovering(a.Start, a.End)
	or := mm.PageRangeCovering(other.Start, other.End)
	return !(ar.End <= or.Begin || ar.Begin >= or.End)
}

// frameFor returns the physical frame backing the page at addr, allocating a
// fresh one from allocFn when the area is anonymous.
func (a *Area) frameFor(addr mm.VirtAddr, allocFn mm.FrameAllocatorFn) (mm.Frame, *kernel.Error) {
	switch a.backing {
	case backingIdentity:
		return mm.FrameFromAddress(addr), nil
	case backingPhysical:
		offset := addr - a.Start
		return mm.FrameFromAddress(a.physBase + offset), nil
	default:
		return allocFn()
	}
}

// mapInto installs translations for every page in the area using pt,
// allocating backing frames as required. It is invoked by AddressSpace.Push.
func (a *Area) mapInto(pt PageTable, allocFn mm.FrameAllocatorFn) *kernel.Error {
	pr := mm.PageRangeCovering(a.Start, a.End)
	for page := pr.Begin; page < pr.End; page++ {
		frame, err := a.frameFor(page.Address(), allocFn)
		if err != nil {
			return err
		}
		pt.MapTo(page, frame, a.attr)
	}
	return nil
}

// unmapFrom removes translations for every page in the area from pt. If the
// area owns its frames (anonymous backing), each frame is read off the
// entry before the translation is removed and handed back via freeFn;
// identity/physical areas merely lose their translation, since the
// physical memory they refer to is not theirs to release.
func (a *Area) unmapFrom(pt PageTable, freeFn mm.FrameFreerFn) {
	owns := a.ownsFrames()
	pr := mm.PageRangeCovering(a.Start, a.End)
	for page := pr.Begin; page < pr.End; page++ {
		if owns {
			if e, ok := pt.EntryAt(page); ok && freeFn != nil {
				freeFn(e.Target())
			}
		}
		pt.Unmap(page)
	}
}

// ForEachFrame invokes fn once per page in the area, passing the page's
// virtual address and a slice over the bytes of its backing frame as
// currently resolved in pt. It is the primitive used to copy an image's
// segment bytes into a freshly mapped area, and to snapshot an area's
// contents when forking an address space.
//
// Every page covered by an area is mapped by Push at the time it enters the
// address space, so finding one without a table entry here means the area's
// own bookkeeping is corrupt, not that a caller passed a bad address; that is
// not a condition callers can sensibly recover from, so it halts the kernel
// instead of returning an error, mirroring the original memory set's own
// assert! on equivalent "should never happen" invariants.
func (a *Area) ForEachFrame(pt PageTable, fn func(virtAddr mm.VirtAddr, frame []byte)) *kernel.Error {
	pr := mm.PageRangeCovering(a.Start, a.End)
	for page := pr.Begin; page < pr.End; page++ {
		e, ok := pt.EntryAt(page)
		if !ok {
			kfmt.Panic(errAreaOutOfRange)
			return errAreaOutOfRange
		}
		fn(page.Address(), mm.FrameBytes(e.Target()))
	}
	return nil
}

// WriteBytes copies data into the area's backing frames starting at addr,
// which must lie within the area, resolving frames through pt.
func (a *Area) WriteBytes(pt PageTable, addr mm.VirtAddr, data []byte) *kernel.Error {
	remaining := data
	return a.ForEachFrame(pt, func(pageAddr mm.VirtAddr, frame []byte) {
		if len(remaining) == 0 || pageAddr+mm.PageSize <= addr {
			return
		}

		var pageOff int
		if addr > pageAddr {
			pageOff = int(addr - pageAddr)
		}
		if pageOff >= len(frame) {
			return
		}

		n := copy(frame[pageOff:], remaining)
		remaining = remaining[n:]
	})
}

// ReadBytes returns a private copy of the area's entire contents, resolved
// through pt. It is the primitive Fork uses to snapshot a source area before
// switching into the target address space to write the snapshot back.
func (a *Area) ReadBytes(pt PageTable) ([]byte, *kernel.Error) {
	buf := make([]byte, a.Len())
	err := a.ForEachFrame(pt, func(pageAddr mm.VirtAddr, frame []byte) {
		lo, hi := pageAddr, pageAddr+mm.PageSize
		if lo < a.Start {
			lo = a.Start
		}
		if hi > a.End {
			hi = a.End
		}
		if lo >= hi {
			return
		}
		frameOff := lo - pageAddr
		bufOff := lo - a.Start
		copy(buf[bufOff:bufOff+(hi-lo)], frame[frameOff:frameOff+(hi-lo)])
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// ownsFrames reports whether this area's frames should be released back to
// the physical allocator when the area is dropped, i.e. whether it exclusively
// owns them rather than merely aliasing memory owned elsewhere.
func (a *Area) ownsFrames() bool {
	return a.backing == backingAnonymous
}

// OwnsFrames reports whether this area exclusively owns its backing frames
// (anonymous backing) as opposed to aliasing physical memory that belongs
// to something else (identity/physical backing). Callers outside this
// package use it to decide whether an area's contents are worth copying
// independently (e.g. Fork skips areas that already alias the same
// physical memory in both address spaces).
func (a *Area) OwnsFrames() bool { return a.ownsFrames() }
