package descriptor

// Kind identifies the type of descriptor a heap holds. Each kind lives in its own heap.
type Kind int

const (
	// KindBufferView heaps hold constant buffer, shader resource and unordered access views
	KindBufferView Kind = iota
	// KindSampler heaps hold samplers
	KindSampler
	// KindRenderTarget heaps hold render target views
	KindRenderTarget
	// KindDepthStencil heaps hold depth stencil views
	KindDepthStencil

	KindCount = iota
)

var kindNames = map[Kind]string{
	KindBufferView:   "BufferView",
	KindSampler:      "Sampler",
	KindRenderTarget: "RenderTarget",
	KindDepthStencil: "DepthStencil",
}

func (k Kind) String() string {
	return kindNames[k]
}

// CPUHandle addresses a single descriptor within a heap
type CPUHandle struct {
	Ptr uint64
}

// Offset returns the handle count descriptors after h, for a heap with the provided increment
func (h CPUHandle) Offset(count int, increment uint) CPUHandle {
	return CPUHandle{Ptr: h.Ptr + uint64(count)*uint64(increment)}
}
