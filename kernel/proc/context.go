// Package proc glues an AddressSpace to the register state a task needs
// saved and restored across a context switch, and implements the
// operations (fork, new kernel thread, new user thread) that create tasks.
package proc

import (
	"vmmkernel/kernel"
	"vmmkernel/kernel/image"
	"vmmkernel/kernel/mm"
	"vmmkernel/kernel/mm/vmm"
)

// Registers holds the callee-saved general purpose registers plus the
// instruction and stack pointers that must be restored when a task is
// switched back onto the CPU. The layout intentionally mirrors only the
// subset of amd64 state a cooperative switch needs to save; the full
// interrupt frame used for preemption/trap entry is out of scope here.
type Registers struct {
	RSP uintptr
	RBP uintptr
	RBX uintptr
	R12 uintptr
	R13 uintptr
	R14 uintptr
	R15 uintptr
	RIP uintptr
}

// Context pairs a task's AddressSpace with the register state needed to
// resume it. It is the unit the scheduler switches between.
type Context struct {
	Space *vmm.AddressSpace
	Regs  Registers
}

// NewKernelThread creates a Context for a new kernel-mode task that starts
// executing entry on its own kernel stack. Kernel threads all share the
// kernel's address space; they get distinct kernel stacks so each can make
// independent progress.
func NewKernelThread(kernelSpace *vmm.AddressSpace, entry uintptr, stackBase mm.VirtAddr) (*Context, *kernel.Error) {
	stack := vmm.NewStack(stackBase)

	if err := kernelSpace.SetStack(stack); err != nil {
		return nil, err
	}

	return &Context{
		Space: kernelSpace,
		Regs: Registers{
			RSP: stack.Top(),
			RIP: entry,
		},
	}, nil
}

// NewUserThread creates a Context for a new user-mode task by loading an
// ELF executable image into a fresh AddressSpace and seeding its stack with
// argv/envp. The task additionally receives a kernel-mode stack, used while
// it is executing system calls or being serviced by an interrupt handler.
func NewUserThread(elfData []byte, allocFn mm.FrameAllocatorFn, argv, envp []string, kernelStackBase mm.VirtAddr) (*Context, *kernel.Error) {
	loaded, err := image.LoadELF(elfData, allocFn, argv, envp)
	if err != nil {
		return nil, err
	}

	stack := vmm.NewStack(kernelStackBase)

	if err := loaded.Space.SetStack(stack); err != nil {
		return nil, err
	}

	return &Context{
		Space: loaded.Space,
		Regs: Registers{
			RSP: loaded.StackSP,
			RIP: loaded.Entry,
		},
	}, nil
}

// Fork creates a new Context whose AddressSpace is an independent copy of
// parent's. Clone alone only reproduces parent's area layout structurally
// (fresh, uninitialized frames for anonymous areas); Fork performs the
// second phase spec'd for process duplication, snapshotting every anonymous
// area's actual bytes out of the (currently active) parent space and writing them
// back into the matching area of the child, pairing areas by index since
// Clone preserves insertion order. Iterating Areas() never touches either
// space's kernel stack, since the kernel stack is not represented as an
// area; Clone already gave the child its own freshly allocated kernel stack,
// uncopied, which is what the child actually needs. Identity and physical
// areas are not copied, since both spaces already map the same frames. The
// child's register state is identical to parent's except for RBX, which is
// set to childReturnValue so the child observes a different result than the
// parent from the call that forked it.
func Fork(parent *Context, childReturnValue uintptr) (*Context, *kernel.Error) {
	childSpace, err := parent.Space.Clone()
	if err != nil {
		return nil, err
	}

	parentAreas := parent.Space.Areas()
	childAreas := childSpace.Areas()

	snapshots := make([][]byte, len(parentAreas))
	var readErr *kernel.Error
	parent.Space.With(func(pt vmm.PageTable) {
		for i, area := range parentAreas {
			if !area.OwnsFrames() {
				// Identity/physical areas already alias the same physical
				// frames in both spaces after Clone; nothing to snapshot.
				continue
			}
			buf, aerr := area.ReadBytes(pt)
			if aerr != nil {
				readErr = aerr
				return
			}
			snapshots[i] = buf
		}
	})
	if readErr != nil {
		return nil, readErr
	}

	var writeErr *kernel.Error
	childSpace.With(func(pt vmm.PageTable) {
		for i, area := range childAreas {
			if snapshots[i] == nil {
				continue
			}
			if aerr := area.WriteBytes(pt, area.Start, snapshots[i]); aerr != nil {
				writeErr = aerr
				return
			}
		}
	})
	if writeErr != nil {
		return nil, writeErr
	}

	child := &Context{
		Space: childSpace,
		Regs:  parent.Regs,
	}
	child.Regs.RBX = childReturnValue
	return child, nil
}
