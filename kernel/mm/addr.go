package mm

// VirtAddr names a byte offset into a process (or the kernel's) virtual
// address space. It is a plain uintptr so it can be used interchangeably
// with pointer arithmetic performed elsewhere in the kernel.
type VirtAddr = uintptr

// PhysAddr names a byte offset into physical memory.
type PhysAddr = uintptr
