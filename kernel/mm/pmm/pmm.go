// Package pmm implements a physical frame allocator that hands out mm.Frame
// values to the vmm layer. It intentionally favors a small, deterministic
// bitmap scheme over a production-grade buddy/slab allocator: the allocation
// policy itself (best-fit, NUMA-awareness, etc) is out of scope for the
// virtual memory core built on top of it; callers only need a reliable
// source of distinct physical frames. The allocator only tracks which frames
// are in use; it does not clear a frame's contents.
package pmm

import (
	"vmmkernel/kernel"
	"vmmkernel/kernel/mm"
)

var (
	errOutOfMemory = &kernel.Error{Module: "pmm", Message: "no free frames available"}

	allocator BitmapAllocator
)

// Init sets up the kernel physical memory allocator to manage totalFrames
// contiguous frames starting at physBase and registers it with the mm
// package as the active frame allocator.
func Init(physBase uintptr, totalFrames uint64) *kernel.Error {
	if err := allocator.init(physBase, totalFrames); err != nil {
		return err
	}
	mm.SetFrameAllocator(allocator.AllocFrame)
	mm.SetFrameFreer(allocator.FreeFrame)
	return nil
}

// BitmapAllocator tracks frame usage with one bit per frame: 0 means free, 1
// means allocated. It allocates by scanning for the first clear bit,
// starting right after the last frame it handed out so repeated allocations
// under light churn stay close to O(1).
type BitmapAllocator struct {
	physBase   uintptr
	numFrames  uint64
	bitmap     []uint64
	lastFrame  uint64
	freeFrames uint64
}

func (a *BitmapAllocator) init(physBase uintptr, totalFrames uint64) *kernel.Error {
	a.physBase = physBase
	a.numFrames = totalFrames
	a.bitmap = make([]uint64, (totalFrames+63)/64)
	a.lastFrame = 0
	a.freeFrames = totalFrames
	return nil
}

// AllocFrame reserves and returns the next available physical frame.
func (a *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.freeFrames == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	for i := uint64(0); i < a.numFrames; i++ {
		candidate := (a.lastFrame + i) % a.numFrames
		word := candidate / 64
		bit := candidate % 64
		if a.bitmap[word]&(1<<bit) != 0 {
			continue
		}

		a.bitmap[word] |= 1 << bit
		a.freeFrames--
		a.lastFrame = candidate + 1
		return mm.FrameFromAddress(a.physBase + uintptr(candidate)*mm.PageSize), nil
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame, making it
// available for future allocations.
func (a *BitmapAllocator) FreeFrame(f mm.Frame) {
	addr := f.Address()
	if addr < a.physBase {
		return
	}

	candidate := (uint64(addr-a.physBase)) / uint64(mm.PageSize)
	if candidate >= a.numFrames {
		return
	}

	word := candidate / 64
	bit := candidate % 64
	if a.bitmap[word]&(1<<bit) == 0 {
		return
	}

	a.bitmap[word] &^= 1 << bit
	a.freeFrames++
}

// FreeFrameCount returns the number of frames still available for allocation.
func (a *BitmapAllocator) FreeFrameCount() uint64 {
	return a.freeFrames
}
