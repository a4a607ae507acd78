package vmm

import (
	"vmmkernel/kernel"
	"vmmkernel/kernel/mm"
)

var (
	errAreaOverlap      = &kernel.Error{Module: "vmm", Message: "area overlaps an existing area in this address space"}
	errAreaNotFound     = &kernel.Error{Module: "vmm", Message: "no area covers the requested address"}
	errAreaInvalidRange = &kernel.Error{Module: "vmm", Message: "area end lies before its start"}
)

// AddressSpace aggregates every mapping visible to a single task: the list
// of Areas that make up its address map, the InactivePageTable hierarchy
// that realizes those mappings, and its kernel-mode Stack. It is the unit a
// task switch activates and the unit Fork duplicates.
type AddressSpace struct {
	table InactivePageTable
	areas []*Area
	stack *Stack

	allocFn mm.FrameAllocatorFn
	freeFn  mm.FrameFreerFn
}

// NewAddressSpace creates an empty address space backed by a fresh,
// newly-allocated page table hierarchy. allocFn supplies physical frames for
// anonymous areas pushed into it; freeFn returns them when an area owning
// them is removed or the space is cleared. Passing nil for either uses the
// globally registered mm.AllocFrame/mm.FreeFrame.
func NewAddressSpace(allocFn mm.FrameAllocatorFn, freeFn mm.FrameFreerFn) *AddressSpace {
	if allocFn == nil {
		allocFn = mm.AllocFrame
	}
	if freeFn == nil {
		freeFn = mm.FreeFrame
	}
	return &AddressSpace{
		table:   NewTable(),
		allocFn: allocFn,
		freeFn:  freeFn,
	}
}

// Push adds area to the address space, mapping its pages into the
// underlying page table. It fails with errAreaInvalidRange if area.End lies
// before area.Start, and with errAreaOverlap if area intersects any area
// already present.
func (as *AddressSpace) Push(area *Area) *kernel.Error {
	if area.End < area.Start {
		return errAreaInvalidRange
	}

	for _, existing := range as.areas {
		if area.Overlaps(existing) {
			return errAreaOverlap
		}
	}

	var mapErr *kernel.Error
	as.table.Edit(func(pt PageTable) {
		mapErr = area.mapInto(pt, as.allocFn)
	})
	if mapErr != nil {
		return mapErr
	}

	as.areas = append(as.areas, area)
	return nil
}

// FindArea returns the area covering addr, if any.
func (as *AddressSpace) FindArea(addr mm.VirtAddr) (*Area, *kernel.Error) {
	for _, area := range as.areas {
		if area.Contains(addr) {
			return area, nil
		}
	}
	return nil, errAreaNotFound
}

// Areas returns the list of areas currently mapped into this address space,
// in the order they were pushed. Callers must not mutate the returned slice.
func (as *AddressSpace) Areas() []*Area {
	return as.areas
}

// Remove unmaps and drops the area covering addr.
func (as *AddressSpace) Remove(addr mm.VirtAddr) *kernel.Error {
	for i, area := range as.areas {
		if !area.Contains(addr) {
			continue
		}

		as.table.Edit(func(pt PageTable) {
			area.unmapFrom(pt, as.freeFn)
		})
		as.areas = append(as.areas[:i], as.areas[i+1:]...)
		return nil
	}
	return errAreaNotFound
}

// Clear unmaps and drops every area in the address space, freeing any
// exclusively-owned frames.
func (as *AddressSpace) Clear() {
	as.table.Edit(func(pt PageTable) {
		for _, area := range as.areas {
			area.unmapFrom(pt, as.freeFn)
		}
	})
	as.areas = nil
}

// SetStack attaches the kernel stack used by the task owning this address
// space and maps its backing frames into the table. Unlike an ordinary
// area, the kernel stack is valid for the address space's whole lifetime
// and is never added to the area list: it does not show up in Areas() or
// FindArea, and Remove/Clear never unmap it, matching the spec invariant
// that kstack is not represented as an area. Callers drop their own
// reference to s.Area() after this call; AddressSpace owns its mapping.
func (as *AddressSpace) SetStack(s *Stack) *kernel.Error {
	var mapErr *kernel.Error
	as.table.Edit(func(pt PageTable) {
		mapErr = s.Area().mapInto(pt, as.allocFn)
	})
	if mapErr != nil {
		return mapErr
	}
	as.stack = s
	return nil
}

// KernelStackTop returns the initial kernel stack pointer for this address
// space, or 0 if no stack has been attached yet.
func (as *AddressSpace) KernelStackTop() mm.VirtAddr {
	if as.stack == nil {
		return 0
	}
	return as.stack.Top()
}

// Activate installs this address space's page table as the one the MMU
// consults. It remains active until another AddressSpace is activated.
func (as *AddressSpace) Activate() { as.table.Activate() }

// With temporarily activates this address space's page table for the
// duration of fn, restoring whichever table was active beforehand, and
// passes fn the PageTable view needed to resolve entries. It lets kernel
// code (e.g. the image loader and Fork) populate a not-yet-running task's
// memory without switching the currently running task off the CPU
// permanently.
func (as *AddressSpace) With(fn func(PageTable)) {
	as.table.Edit(fn)
}

// Token returns an opaque value identifying the underlying page table
// hierarchy, suitable for deciding whether a task switch needs to flush the
// TLB (no flush is needed when the incoming and outgoing token match).
func (as *AddressSpace) Token() uintptr { return as.table.Token() }

// Clone creates a new, independent AddressSpace with the same area layout as
// as: a structural copy only. Anonymous areas receive freshly allocated
// frames, whose contents are whatever the frame allocator hands back
// (uninitialized from the clone's point of view) rather than a copy of the
// source's data; identity and physical areas keep pointing at the same
// physical memory, since that memory is not owned exclusively by either
// address space. Callers that need the source's actual byte contents
// reproduced in the clone (i.e. Fork) must copy them explicitly as a second
// phase, using With and Area.ReadBytes/WriteBytes.
//
// If as has an attached kernel stack, the clone receives its own fresh
// kernel stack at the same virtual range, backed by newly allocated frames
// rather than a copy of the source stack's contents: the kernel stack is
// not an area (it is never in as.areas), so it is handled here rather than
// by the area-copy loop above, and Fork never sees it when it walks Areas().
func (as *AddressSpace) Clone() (*AddressSpace, *kernel.Error) {
	clone := NewAddressSpace(as.allocFn, as.freeFn)

	for _, area := range as.areas {
		cloned := &Area{
			Name:     area.Name,
			Start:    area.Start,
			End:      area.End,
			backing:  area.backing,
			physBase: area.physBase,
			attr:     area.attr,
		}

		if err := clone.Push(cloned); err != nil {
			return nil, err
		}
	}

	if as.stack != nil {
		freshStack := &Stack{area: &Area{
			Name:    as.stack.area.Name,
			Start:   as.stack.area.Start,
			End:     as.stack.area.End,
			backing: as.stack.area.backing,
			attr:    as.stack.area.attr,
		}}
		if err := clone.SetStack(freshStack); err != nil {
			return nil, err
		}
	}

	return clone, nil
}
