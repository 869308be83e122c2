package driver

import (
	"unsafe"

	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
)

// Bytes reinterprets a slice of plain values (vertex structs, float32s, indices) as the bytes
// that back it. The result aliases values.
func Bytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}

	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*int(unsafe.Sizeof(zero)))
}

// Buffer is a device-local buffer owned by the caller
type Buffer struct {
	driver *Driver
	id     uint64
	native backend.Buffer
	steady state.State
}

func (b *Buffer) Native() backend.Buffer { return b.native }
func (b *Buffer) Size() int              { return b.native.Size() }

// SteadyState is the state the buffer rests in after its initial upload
func (b *Buffer) SteadyState() state.State { return b.steady }

// Destroy releases the buffer. The caller must ensure the GPU no longer uses it.
func (b *Buffer) Destroy() {
	if b.native == nil {
		return
	}
	b.driver.buffers.Delete(b.id)
	b.release()
}

func (b *Buffer) release() {
	b.driver.tracker.Forget(b.native)
	b.native.Destroy()
	b.native = nil
}

// VertexBuffer is a Buffer read by the input assembler as vertex data
type VertexBuffer struct {
	*Buffer
	view backend.VertexBufferView
}

func (b *VertexBuffer) View() backend.VertexBufferView { return b.view }

// IndexBuffer is a Buffer of 32-bit indices
type IndexBuffer struct {
	*Buffer
	view backend.IndexBufferView
}

func (b *IndexBuffer) View() backend.IndexBufferView { return b.view }

// View is a descriptor for a buffer allocated from the driver's buffer view heap. Destroying a
// view releases its descriptor index but leaves the buffer alone.
type View struct {
	driver *Driver
	id     uint64
	buffer *Buffer
	handle descriptor.CPUHandle
	index  int
}

func (v *View) Buffer() *Buffer              { return v.buffer }
func (v *View) Handle() descriptor.CPUHandle { return v.handle }
func (v *View) DescriptorIndex() int         { return v.index }

func (v *View) Destroy() {
	if v.index < 0 {
		return
	}
	v.driver.views.Delete(v.id)
	v.release()
}

func (v *View) release() {
	v.driver.allocators.ForKind(descriptor.KindBufferView).Release(v.index)
	v.index = -1
}

// ConstantBuffer is a constant buffer view bound to a table slot with BindConstantBuffers
type ConstantBuffer struct {
	*View
}

// ShaderResourceView is a shader resource view bound to a table slot with
// BindShaderResourceViews
type ShaderResourceView struct {
	*View
}

// ViewOptions describes how shaders read a buffer through a ShaderResourceView
type ViewOptions struct {
	IndexBuffer         bool
	NumElements         int
	StructureByteStride int
}

// Shader is compiled bytecode
type Shader struct {
	code []byte
}

// NewShader wraps precompiled bytecode
func NewShader(code []byte) *Shader {
	return &Shader{code: code}
}

func (s *Shader) Bytecode() []byte { return s.code }
func (s *Shader) Destroy()         { s.code = nil }

// PipelineState is a compiled graphics pipeline
type PipelineState struct {
	driver *Driver
	id     uint64
	native backend.PipelineState
}

func (p *PipelineState) Native() backend.PipelineState { return p.native }

func (p *PipelineState) Destroy() {
	if p.native == nil {
		return
	}
	p.driver.pipelines.Delete(p.id)
	p.release()
}

func (p *PipelineState) release() {
	p.native.Destroy()
	p.native = nil
}
