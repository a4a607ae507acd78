package vmm

import "vmmkernel/kernel/mm"

// KernelStackSize is the size, in bytes, reserved for a task's kernel-mode
// stack. It matches the STACK_SIZE constant used to size kernel stacks for
// every task the scheduler can run.
const KernelStackSize = 0x8000

// Stack describes a task's kernel-mode stack. Top is the address a newly
// switched-to task should install in its stack pointer register; it starts
// at the high end of the range since the stack grows downwards. A Stack is
// not mapped until it is attached to an AddressSpace with SetStack; it is
// never pushed as an ordinary area.
type Stack struct {
	area *Area
}

// NewStack describes a kernel stack of KernelStackSize bytes starting at
// start. The caller attaches it to the owning AddressSpace with SetStack,
// which performs the actual mapping.
func NewStack(start mm.VirtAddr) *Stack {
	area := NewAnonymousArea("kstack", start, start+KernelStackSize, MemoryAttr{})
	return &Stack{area: area}
}

// Top returns the initial stack pointer value for this stack.
func (s *Stack) Top() mm.VirtAddr { return s.area.End }

// Area returns the underlying region that SetStack maps into the owning
// AddressSpace.
func (s *Stack) Area() *Area { return s.area }
