package mm

// memory models physical RAM as a flat byte arena indexed by frame number.
// On real hardware, kernel code reaches frame contents through a temporary
// or identity mapping; since this kernel does not run with paging enabled
// against real memory, InitMemory/FrameBytes give vmm and its callers
// (image loading, fork) an addressable stand-in with identical semantics:
// two holders of the same Frame observe each other's writes.
var memory []byte

// InitMemory reserves a memory arena large enough to back numFrames frames,
// indexed starting at frame 0. It must be called before any Frame obtained
// from an allocator is dereferenced through FrameBytes.
func InitMemory(numFrames uint64) {
	memory = make([]byte, numFrames*uint64(PageSize))
}

// FrameBytes returns a slice over the PageSize bytes backing f. The slice
// aliases the underlying arena, so writes through it are visible to every
// other holder of the same Frame.
func FrameBytes(f Frame) []byte {
	off := uintptr(f) * PageSize
	return memory[off : off+PageSize]
}
