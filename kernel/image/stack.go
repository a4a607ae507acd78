package image

import (
	"encoding/binary"
	"vmmkernel/kernel"
	"vmmkernel/kernel/mm"
	"vmmkernel/kernel/mm/vmm"
)

// pointerSize32 and pointerSize64 are the widths, in bytes, of the argv/envp
// pointer slots and of argc itself once pushed onto a new task's stack, for
// a 32-bit (ELFCLASS32) and 64-bit task respectively.
const (
	pointerSize32 = 4
	pointerSize64 = 8
)

// seedStack prepares a newly started task's initial stack.
//
// For a 32-bit image, this mirrors the original kernel's own placeholder
// behavior exactly rather than inventing full 32-bit argv/envp support it
// never had: it writes two zero 32-bit words, argv then argc, at the very
// top of stackArea and returns a stack pointer of top-8, leaving argc/argv
// unpopulated.
//
// For a 64-bit image, it lays out argv and envp strings plus their 64-bit
// pointer arrays at the top of stackArea, followed by argc, so that a newly
// started task can find (argc, argv, envp) at its initial stack pointer
// exactly as a freshly exec'd process would on entry. The layout, from low
// to high address, is:
//
//	[argc][argv pointers...][NULL][envp pointers...][NULL][argv strings][envp strings]
//
// and the returned stack pointer points at argc.
func seedStack(space *vmm.AddressSpace, stackArea *vmm.Area, is32 bool, argv, envp []string) (mm.VirtAddr, *kernel.Error) {
	if is32 {
		return seedStack32Placeholder(space, stackArea)
	}
	return seedStack64(space, stackArea, argv, envp)
}

// seedStack32Placeholder implements scenario S8: a 32-bit task's stack top
// holds two zero 32-bit words (argv, then argc) at top-4 and top-8, and the
// returned SP is top-8.
func seedStack32Placeholder(space *vmm.AddressSpace, stackArea *vmm.Area) (mm.VirtAddr, *kernel.Error) {
	sp := stackArea.End - 2*pointerSize32

	var writeErr *kernel.Error
	space.With(func(pt vmm.PageTable) {
		writeErr = stackArea.WriteBytes(pt, sp, encodePtr32(0)) // argc
		if writeErr != nil {
			return
		}
		writeErr = stackArea.WriteBytes(pt, sp+pointerSize32, encodePtr32(0)) // argv
	})
	if writeErr != nil {
		return 0, writeErr
	}
	return sp, nil
}

func seedStack64(space *vmm.AddressSpace, stackArea *vmm.Area, argv, envp []string) (mm.VirtAddr, *kernel.Error) {
	sp := stackArea.End

	writeString := func(pt vmm.PageTable, s string) mm.VirtAddr {
		buf := append([]byte(s), 0)
		sp -= mm.VirtAddr(len(buf))
		_ = stackArea.WriteBytes(pt, sp, buf)
		return sp
	}

	var argvPtrs, envpPtrs []mm.VirtAddr

	var writeErr *kernel.Error
	space.With(func(pt vmm.PageTable) {
		for _, s := range envp {
			envpPtrs = append(envpPtrs, writeString(pt, s))
		}
		for _, s := range argv {
			argvPtrs = append(argvPtrs, writeString(pt, s))
		}

		// Align down to a pointer boundary before laying out the pointer
		// arrays.
		sp &^= mm.VirtAddr(pointerSize64 - 1)

		writePtrArray := func(ptrs []mm.VirtAddr) {
			sp -= pointerSize64 // NULL terminator
			writeErr = stackArea.WriteBytes(pt, sp, encodePtr64(0))
			for i := len(ptrs) - 1; i >= 0 && writeErr == nil; i-- {
				sp -= pointerSize64
				writeErr = stackArea.WriteBytes(pt, sp, encodePtr64(uint64(ptrs[i])))
			}
		}

		writePtrArray(envpPtrs)
		if writeErr != nil {
			return
		}
		writePtrArray(argvPtrs)
		if writeErr != nil {
			return
		}

		sp -= pointerSize64
		writeErr = stackArea.WriteBytes(pt, sp, encodePtr64(uint64(len(argv))))
	})

	if writeErr != nil {
		return 0, writeErr
	}
	return sp, nil
}

func encodePtr32(v uint32) []byte {
	buf := make([]byte, pointerSize32)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func encodePtr64(v uint64) []byte {
	buf := make([]byte, pointerSize64)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
