package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"vmmkernel/kernel"
	"vmmkernel/kernel/mm"
	"vmmkernel/kernel/mm/vmm"
	"testing"
)

// buildTestELF assembles a minimal, valid little-endian amd64 ELF executable
// with a single PT_LOAD segment containing payload at virtual address
// loadAddr, entry point set to entryAddr.
func buildTestELF(t *testing.T, loadAddr, entryAddr uint64, payload []byte) []byte {
	t.Helper()

	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer

	ehdr := make([]byte, ehdrSize)
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4] = 2 // ELFCLASS64
	ehdr[5] = 1 // little endian
	ehdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(ehdr[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(ehdr[18:], uint16(elf.EM_X86_64))
	binary.LittleEndian.PutUint32(ehdr[20:], 1) // e_version
	binary.LittleEndian.PutUint64(ehdr[24:], entryAddr)
	binary.LittleEndian.PutUint64(ehdr[32:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(ehdr[52:], ehdrSize)
	binary.LittleEndian.PutUint16(ehdr[54:], phdrSize)
	binary.LittleEndian.PutUint16(ehdr[56:], 1) // e_phnum
	buf.Write(ehdr)

	phdr := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(phdr[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(phdr[4:], uint32(elf.PF_R|elf.PF_X))
	binary.LittleEndian.PutUint64(phdr[8:], ehdrSize+phdrSize) // p_offset
	binary.LittleEndian.PutUint64(phdr[16:], loadAddr)         // p_vaddr
	binary.LittleEndian.PutUint64(phdr[24:], loadAddr)         // p_paddr
	binary.LittleEndian.PutUint64(phdr[32:], uint64(len(payload)))
	binary.LittleEndian.PutUint64(phdr[40:], uint64(len(payload)))
	binary.LittleEndian.PutUint64(phdr[48:], uint64(mm.PageSize))
	buf.Write(phdr)

	buf.Write(payload)

	return buf.Bytes()
}

func TestLoadELF(t *testing.T) {
	mm.InitMemory(256)

	payload := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	loadAddr := uint64(0x400000)
	data := buildTestELF(t, loadAddr, loadAddr, payload)

	var next mm.Frame
	allocFn := func() (mm.Frame, *kernel.Error) {
		next++
		return next, nil
	}

	loaded, err := LoadELF(data, allocFn, []string{"prog", "arg1"}, []string{"HOME=/"})
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Entry != mm.VirtAddr(loadAddr) {
		t.Fatalf("expected entry %x; got %x", loadAddr, loaded.Entry)
	}

	area, err := loaded.Space.FindArea(mm.VirtAddr(loadAddr))
	if err != nil {
		t.Fatal(err)
	}

	var got []byte
	loaded.Space.With(func(pt vmm.PageTable) {
		e, ok := pt.EntryAt(mm.PageFromAddress(mm.VirtAddr(loadAddr)))
		if !ok {
			t.Fatal("expected load segment's page to be mapped")
		}
		got = append(got, mm.FrameBytes(e.Target())[:len(payload)]...)
	})
	_ = area

	if !bytes.Equal(got, payload) {
		t.Fatalf("expected loaded segment bytes to equal payload; got %v want %v", got, payload)
	}

	if loaded.StackSP == 0 {
		t.Fatal("expected non-zero initial stack pointer")
	}
	if stackTop := mm.VirtAddr(UserStackOffset) + UserStackSize; loaded.StackSP >= stackTop {
		t.Fatal("expected stack pointer to be below the stack's top address")
	}
}

// buildTestELF32 assembles a minimal ELFCLASS32 executable with a single
// PT_LOAD segment, mirroring buildTestELF's 64-bit layout with 32-bit
// header/program-header field widths.
func buildTestELF32(t *testing.T, loadAddr, entryAddr uint32, payload []byte) []byte {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32

	var buf bytes.Buffer

	ehdr := make([]byte, ehdrSize)
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4] = 1 // ELFCLASS32
	ehdr[5] = 1 // little endian
	ehdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(ehdr[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(ehdr[18:], uint16(elf.EM_386))
	binary.LittleEndian.PutUint32(ehdr[20:], 1) // e_version
	binary.LittleEndian.PutUint32(ehdr[24:], entryAddr)
	binary.LittleEndian.PutUint32(ehdr[28:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(ehdr[40:], ehdrSize)
	binary.LittleEndian.PutUint16(ehdr[42:], phdrSize)
	binary.LittleEndian.PutUint16(ehdr[44:], 1) // e_phnum
	buf.Write(ehdr)

	phdr := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(phdr[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(phdr[4:], ehdrSize+phdrSize) // p_offset
	binary.LittleEndian.PutUint32(phdr[8:], loadAddr)          // p_vaddr
	binary.LittleEndian.PutUint32(phdr[12:], loadAddr)         // p_paddr
	binary.LittleEndian.PutUint32(phdr[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(phdr[20:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(phdr[24:], uint32(elf.PF_R|elf.PF_X))
	binary.LittleEndian.PutUint32(phdr[28:], uint32(mm.PageSize))
	buf.Write(phdr)

	buf.Write(payload)

	return buf.Bytes()
}

// TestLoadELF32UserStack exercises scenario S8: a 32-bit image with a single
// LOAD segment gets a stack whose top holds two zero 32-bit words at top-4
// and top-8, and whose returned SP equals top-8.
func TestLoadELF32UserStack(t *testing.T) {
	mm.InitMemory(256)

	payload := []byte{0x90, 0x90, 0xc3}
	loadAddr := uint32(0x400000)
	data := buildTestELF32(t, loadAddr, loadAddr, payload)

	var next mm.Frame
	allocFn := func() (mm.Frame, *kernel.Error) {
		next++
		return next, nil
	}

	loaded, err := LoadELF(data, allocFn, []string{"prog"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	stackTop := User32StackOffset + UserStackSize
	if loaded.StackSP != stackTop-8 {
		t.Fatalf("expected SP to be top-8 (%x); got %x", stackTop-8, loaded.StackSP)
	}

	loaded.Space.With(func(pt vmm.PageTable) {
		stackArea, aerr := loaded.Space.FindArea(stackTop - 1)
		if aerr != nil {
			t.Fatal(aerr)
		}
		got, rerr := stackArea.ReadBytes(pt)
		if rerr != nil {
			t.Fatal(rerr)
		}
		argc := got[len(got)-8 : len(got)-4]
		argv := got[len(got)-4:]
		for _, b := range argc {
			if b != 0 {
				t.Fatalf("expected argc placeholder word to be zero; got %v", argc)
			}
		}
		for _, b := range argv {
			if b != 0 {
				t.Fatalf("expected argv placeholder word to be zero; got %v", argv)
			}
		}
	})
}

func TestLoadELFRejectsNonExecutable(t *testing.T) {
	mm.InitMemory(256)

	payload := []byte{0x90, 0x90, 0xc3}
	loadAddr := uint64(0x400000)
	data := buildTestELF(t, loadAddr, loadAddr, payload)
	// Flip e_type from ET_EXEC to ET_DYN.
	binary.LittleEndian.PutUint16(data[16:], uint16(elf.ET_DYN))

	var next mm.Frame
	allocFn := func() (mm.Frame, *kernel.Error) {
		next++
		return next, nil
	}

	if _, err := LoadELF(data, allocFn, nil, nil); err != errNotExecutable {
		t.Fatalf("expected errNotExecutable; got %v", err)
	}
}
