package soft

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
)

// SPIRVMagic is the first word of every SPIR-V module
const SPIRVMagic uint32 = 0x07230203

// IsSPIRV returns true if code is a non-empty stream of words beginning with the SPIR-V magic
// number
func IsSPIRV(code []byte) bool {
	return len(code) >= 4 && len(code)%4 == 0 && binary.LittleEndian.Uint32(code) == SPIRVMagic
}

// Buffer is a simulated GPU buffer backed by a byte slice
type Buffer struct {
	device *Device
	id     uint64
	heap   backend.HeapType
	data   []byte

	mapped    bool
	destroyed bool
}

var _ backend.Buffer = &Buffer{}

func (b *Buffer) ResourceID() uint64     { return b.id }
func (b *Buffer) Size() int              { return len(b.data) }
func (b *Buffer) Heap() backend.HeapType { return b.heap }
func (b *Buffer) GPUAddress() uint64     { return b.id << 32 }

// Map exposes the buffer contents to the CPU. Only upload heap buffers can be mapped.
func (b *Buffer) Map() ([]byte, common.VkResult, error) {
	if b.heap != backend.HeapTypeUpload {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("buffer %d in the %s heap cannot be mapped", b.id, b.heap)
	}
	if b.destroyed {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("buffer %d has been destroyed", b.id)
	}

	b.mapped = true
	return b.data, core1_0.VKSuccess, nil
}

func (b *Buffer) Unmap() {
	b.mapped = false
}

// Contents returns a copy of the buffer as last written by the GPU timeline or a mapping
func (b *Buffer) Contents() []byte {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	return append([]byte(nil), b.data...)
}

func (b *Buffer) Destroy() {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	if b.destroyed {
		b.device.reportLocked("buffer %d destroyed twice", b.id)
		return
	}
	if b.mapped {
		b.device.reportLocked("buffer %d destroyed while mapped", b.id)
	}

	b.destroyed = true
	b.device.gpuStates.Delete(b.id)
	b.device.stats.LiveBuffers--
	b.device.stats.LiveBufferBytes -= len(b.data)
}

// Texture is a simulated back buffer. The simulator does not rasterize, so a texture only
// remembers the last color it was cleared to.
type Texture struct {
	device *Device
	id     uint64
	width  int
	height int
	format gputypes.TextureFormat
	clear  gputypes.Color
}

var _ backend.Texture = &Texture{}

func (t *Texture) ResourceID() uint64             { return t.id }
func (t *Texture) Width() int                     { return t.width }
func (t *Texture) Height() int                    { return t.height }
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Pixel returns the color at x, y. Out of range coordinates return the zero color.
func (t *Texture) Pixel(x, y int) gputypes.Color {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return gputypes.Color{}
	}

	t.device.lock.Lock()
	defer t.device.lock.Unlock()

	return t.clear
}

// DescriptorHeap is a range of simulated descriptor handles. Descriptor contents live in the
// device so handles can be resolved when commands execute.
type DescriptorHeap struct {
	device        *Device
	id            uint64
	kind          descriptor.Kind
	capacity      int
	shaderVisible bool
	// generation advances every time the heap is bound to a command list. Guarded by the
	// device lock.
	generation uint64
}

var _ backend.DescriptorHeap = &DescriptorHeap{}

func (h *DescriptorHeap) Kind() descriptor.Kind { return h.kind }
func (h *DescriptorHeap) Capacity() int         { return h.capacity }
func (h *DescriptorHeap) ShaderVisible() bool   { return h.shaderVisible }

func (h *DescriptorHeap) CPUStart() descriptor.CPUHandle {
	return descriptor.CPUHandle{Ptr: h.id << 32}
}

func (h *DescriptorHeap) Destroy() {
	h.device.lock.Lock()
	defer h.device.lock.Unlock()

	h.device.heaps.Delete(h.id)
}

type RootSignature struct {
	desc backend.RootSignatureDesc
}

var _ backend.RootSignature = &RootSignature{}

func (s *RootSignature) Desc() backend.RootSignatureDesc { return s.desc }
func (s *RootSignature) Destroy()                        {}

type PipelineState struct {
	desc backend.PipelineStateDesc
}

var _ backend.PipelineState = &PipelineState{}

func (p *PipelineState) Desc() backend.PipelineStateDesc { return p.desc }
func (p *PipelineState) Destroy()                        {}
