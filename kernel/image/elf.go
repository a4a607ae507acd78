// Package image loads an executable image's segments into a freshly created
// user address space, producing the entry point and initial stack pointer a
// new task needs in order to start executing it.
package image

import (
	"debug/elf"
	"vmmkernel/kernel"
	"vmmkernel/kernel/mm"
	"vmmkernel/kernel/mm/vmm"
	"io"
)

// No third-party ELF parser appears anywhere in the example corpus this
// kernel is grounded on, so the loader uses the standard library's debug/elf
// package rather than hand-rolling a program header parser.

var (
	errNoLoadSegments = &kernel.Error{Module: "image", Message: "ELF file contains no loadable segments"}
	errNotExecutable  = &kernel.Error{Module: "image", Message: "ELF file is not an executable (ET_EXEC) image"}
)

// UserStackSize is the size, in bytes, reserved for a new task's user-mode
// stack.
const UserStackSize = 8 * mm.PageSize

// UserStackOffset is the virtual address at which a 64-bit task's user stack
// area begins; the stack area spans [UserStackOffset, UserStackOffset+
// UserStackSize) and the task's initial stack grows down from the top of
// that range.
const UserStackOffset = 0x00007fffffffe000 - UserStackSize

// User32StackOffset is the equivalent of UserStackOffset for a 32-bit
// (ELFCLASS32) task, placed well below the 64-bit range so both kinds of
// task could coexist in principle.
const User32StackOffset = 0xb0000000 - UserStackSize

// Loaded describes the result of loading an image into a new address space.
type Loaded struct {
	Space   *vmm.AddressSpace
	Entry   mm.VirtAddr
	StackSP mm.VirtAddr
}

// LoadELF parses the ELF executable in data, maps one Area per loadable
// program header into a freshly created AddressSpace, copies each segment's
// file contents into place, and reserves a user stack seeded with argv/envp.
//
// Mapping a segment's bytes requires the destination frames to be
// dereferenceable while the loader is running but the destination address
// space is not yet the active one; LoadELF temporarily activates the new
// space's page table for exactly that purpose (mirroring the cross-address-
// space "with" pattern used when forking a task), then restores whichever
// table was active before returning.
func LoadELF(data []byte, allocFn mm.FrameAllocatorFn, argv, envp []string) (*Loaded, *kernel.Error) {
	f, err := elf.NewFile(byteReaderAt(data))
	if err != nil {
		return nil, &kernel.Error{Module: "image", Message: err.Error()}
	}
	if f.Type != elf.ET_EXEC {
		return nil, errNotExecutable
	}
	is32 := f.Class == elf.ELFCLASS32

	space := vmm.NewAddressSpace(allocFn, nil)

	var loadedAny bool
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loadedAny = true

		start := mm.VirtAddr(prog.Vaddr) &^ (mm.PageSize - 1)
		end := (mm.VirtAddr(prog.Vaddr+prog.Memsz) + mm.PageSize - 1) &^ (mm.PageSize - 1)

		attr := vmm.MemoryAttr{}
		if prog.Flags&elf.PF_W == 0 {
			attr = attr.Readonly()
		}
		if prog.Flags&elf.PF_X != 0 {
			attr = attr.Execute()
		}
		attr = attr.User()

		area := vmm.NewAnonymousArea("segment", start, end, attr)
		if segErr := space.Push(area); segErr != nil {
			return nil, segErr
		}

		if prog.Filesz == 0 {
			continue
		}

		segData := make([]byte, prog.Filesz)
		if _, rerr := prog.ReaderAt.ReadAt(segData, 0); rerr != nil {
			return nil, &kernel.Error{Module: "image", Message: rerr.Error()}
		}

		if werr := writeIntoArea(space, area, mm.VirtAddr(prog.Vaddr), segData); werr != nil {
			return nil, werr
		}
	}

	if !loadedAny {
		return nil, errNoLoadSegments
	}

	stackBottom := mm.VirtAddr(UserStackOffset)
	if is32 {
		stackBottom = User32StackOffset
	}
	stackTop := stackBottom + UserStackSize

	stackArea := vmm.NewAnonymousArea("stack", stackBottom, stackTop, vmm.MemoryAttr{}.User())
	if err := space.Push(stackArea); err != nil {
		return nil, err
	}

	sp, seedErr := seedStack(space, stackArea, is32, argv, envp)
	if seedErr != nil {
		return nil, seedErr
	}

	return &Loaded{
		Space:   space,
		Entry:   mm.VirtAddr(f.Entry),
		StackSP: sp,
	}, nil
}

// writeIntoArea copies segData into area starting at addr, whose backing
// frames belong to space rather than the currently active address space.
func writeIntoArea(space *vmm.AddressSpace, area *vmm.Area, addr mm.VirtAddr, segData []byte) *kernel.Error {
	var writeErr *kernel.Error
	space.With(func(pt vmm.PageTable) {
		writeErr = area.WriteBytes(pt, addr, segData)
	})
	return writeErr
}

// byteReaderAt adapts a byte slice to io.ReaderAt so debug/elf can parse it
// without requiring a backing file.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
