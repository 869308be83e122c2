// Package backend describes the native graphics capabilities the driver consumes. Exactly one
// implementation is active in a process; it is chosen by the caller when the driver is created.
//
// Every fallible native call returns the Vulkan-style result code it produced alongside an
// error, so callers can tell device loss apart from other failures.
package backend

//go:generate mockgen -destination mocks/mock_backend.go -package mocks github.com/vkngwrapper/viddriver/backend Fence,Queue

import (
	"context"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
)

// HeapType selects the memory a buffer lives in
type HeapType int

const (
	// HeapTypeDefault is device-local memory that the CPU cannot map
	HeapTypeDefault HeapType = iota
	// HeapTypeUpload is CPU-writable, GPU-readable memory
	HeapTypeUpload
)

func (t HeapType) String() string {
	switch t {
	case HeapTypeDefault:
		return "Default"
	case HeapTypeUpload:
		return "Upload"
	}
	return "Unknown"
}

// Buffer is a linear GPU allocation
type Buffer interface {
	state.Resource
	Size() int
	Heap() HeapType
	GPUAddress() uint64

	// Map returns a CPU view of an upload heap buffer. The slice is only valid until Unmap.
	Map() ([]byte, common.VkResult, error)
	Unmap()
	Destroy()
}

// Texture is a two-dimensional image. The only textures the driver deals with are swapchain
// back buffers.
type Texture interface {
	state.Resource
	Width() int
	Height() int
	Format() gputypes.TextureFormat
}

// Fence is a monotonically increasing counter signaled by a queue once submitted work up to
// a value has completed
type Fence interface {
	CompletedValue() uint64
	// Wait blocks until CompletedValue is at least value, the context is done, or the device is
	// lost
	Wait(ctx context.Context, value uint64) (common.VkResult, error)
	Destroy()
}

// CommandAllocator backs the memory of recorded command lists. It may only be reset once the
// GPU has finished executing every list recorded into it.
type CommandAllocator interface {
	Reset() (common.VkResult, error)
	Destroy()
}

// Viewport maps normalized device coordinates to the render target
type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

// Rect is a scissor rectangle in pixels
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// VertexBufferView describes how the input assembler reads a vertex buffer
type VertexBufferView struct {
	Buffer        Buffer
	SizeInBytes   int
	StrideInBytes int
}

// IndexBufferView describes how the input assembler reads an index buffer
type IndexBufferView struct {
	Buffer      Buffer
	SizeInBytes int
	Format      gputypes.IndexFormat
}

// DrawArgs holds the parameters of a non-indexed, instanced draw
type DrawArgs struct {
	VertexCountPerInstance int
	InstanceCount          int
	StartVertexLocation    int
	StartInstanceLocation  int
}

// DrawIndexedArgs holds the parameters of an indexed, instanced draw
type DrawIndexedArgs struct {
	IndexCountPerInstance int
	InstanceCount         int
	StartIndexLocation    int
	BaseVertexLocation    int
	StartInstanceLocation int
}

// CommandList records GPU commands. It is reset against a CommandAllocator, recorded on a
// single thread, closed and then executed by a Queue.
type CommandList interface {
	state.Recorder

	Reset(allocator CommandAllocator) (common.VkResult, error)
	Close() (common.VkResult, error)

	CopyBufferRegion(dst Buffer, dstOffset int, src Buffer, srcOffset int, size int)

	SetRootSignature(signature RootSignature)
	SetPipelineState(pipeline PipelineState)
	SetDescriptorHeap(heap DescriptorHeap)
	SetViewports(viewports ...Viewport)
	SetScissorRects(rects ...Rect)
	SetRenderTarget(view descriptor.CPUHandle)
	ClearRenderTarget(view descriptor.CPUHandle, color gputypes.Color)
	SetPrimitiveTopology(topology gputypes.PrimitiveTopology)
	SetVertexBuffers(views ...VertexBufferView)
	SetIndexBuffer(view IndexBufferView)
	DrawInstanced(args DrawArgs)
	DrawIndexedInstanced(args DrawIndexedArgs)

	Destroy()
}

// Queue executes closed command lists in submission order
type Queue interface {
	Execute(lists ...CommandList) (common.VkResult, error)
	// Signal sets fence to value once all work submitted before the call has completed
	Signal(fence Fence, value uint64) (common.VkResult, error)
	Destroy()
}

// DescriptorHeap is native storage for descriptors of a single kind
type DescriptorHeap interface {
	Kind() descriptor.Kind
	Capacity() int
	ShaderVisible() bool
	CPUStart() descriptor.CPUHandle
	Destroy()
}

// BufferViewOptions describes a shader resource view of a buffer
type BufferViewOptions struct {
	// IndexBuffer views the buffer as 32-bit unsigned indices. StructureByteStride is ignored.
	IndexBuffer         bool
	NumElements         int
	StructureByteStride int
}

// RootSignatureDesc sizes the descriptor tables shaders can address
type RootSignatureDesc struct {
	ConstantBuffers int
	ShaderResources int
	UnorderedAccess int
	Samplers        int
}

// RootSignature is the native object describing the descriptor tables of a pipeline
type RootSignature interface {
	Desc() RootSignatureDesc
	Destroy()
}

// PipelineStateDesc describes a graphics pipeline
type PipelineStateDesc struct {
	RootSignature      RootSignature
	VertexShader       []byte
	PixelShader        []byte
	InputLayout        []gputypes.VertexAttribute
	Topology           gputypes.PrimitiveTopology
	RenderTargetFormat gputypes.TextureFormat
}

// PipelineState is a compiled graphics pipeline
type PipelineState interface {
	Desc() PipelineStateDesc
	Destroy()
}

// SwapchainDesc describes the presentation surface of a drawable
type SwapchainDesc struct {
	Drawable    uintptr
	Width       int
	Height      int
	BufferCount int
	Format      gputypes.TextureFormat
}

// Swapchain owns the back buffers presented to a drawable
type Swapchain interface {
	BufferCount() int
	Buffer(index int) (Texture, common.VkResult, error)
	CurrentBackBufferIndex() int
	// Resize recreates the back buffers. Every outstanding reference to a back buffer must have
	// been released and the queue must be idle.
	Resize(bufferCount, width, height int) (common.VkResult, error)
	Present(syncInterval int) (common.VkResult, error)
	Destroy()
}

// Device creates every native object
type Device interface {
	CreateQueue() (Queue, common.VkResult, error)
	CreateCommandAllocator() (CommandAllocator, common.VkResult, error)
	CreateCommandList(allocator CommandAllocator) (CommandList, common.VkResult, error)
	CreateFence(initialValue uint64) (Fence, common.VkResult, error)
	CreateBuffer(size int, heap HeapType) (Buffer, common.VkResult, error)
	CreateDescriptorHeap(kind descriptor.Kind, capacity int, shaderVisible bool) (DescriptorHeap, common.VkResult, error)
	DescriptorIncrement(kind descriptor.Kind) uint
	CreateSwapchain(queue Queue, desc SwapchainDesc) (Swapchain, common.VkResult, error)
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, common.VkResult, error)
	CreatePipelineState(desc PipelineStateDesc) (PipelineState, common.VkResult, error)

	CreateRenderTargetView(texture Texture, dst descriptor.CPUHandle)
	CreateConstantBufferView(buffer Buffer, size int, dst descriptor.CPUHandle)
	CreateShaderResourceView(buffer Buffer, options BufferViewOptions, dst descriptor.CPUHandle)
	CopyDescriptors(dst descriptor.CPUHandle, src descriptor.CPUHandle, count int, kind descriptor.Kind)

	Destroy()
}
