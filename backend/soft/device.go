// Package soft implements the backend capability set as an asynchronous GPU simulator. Work
// executed on a Queue runs on a worker goroutine, so fences complete some time after
// submission, the way they do on real hardware. A validation layer compares every recorded
// barrier and access against the state the resource is actually in on the GPU timeline.
package soft

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
	"golang.org/x/exp/slog"
)

var descriptorIncrements = [descriptor.KindCount]uint{
	descriptor.KindBufferView:   32,
	descriptor.KindSampler:      16,
	descriptor.KindRenderTarget: 32,
	descriptor.KindDepthStencil: 32,
}

// Options configures a soft Device
type Options struct {
	// DisableValidation turns off the validation layer
	DisableValidation bool
	// MaxBufferBytes is the amount of buffer memory the device can hold. Buffer creation fails
	// with core1_0.VKErrorOutOfDeviceMemory beyond it. Zero means unlimited.
	MaxBufferBytes int
}

// Statistics counts the work the simulated GPU has performed
type Statistics struct {
	Submissions     int
	CommandLists    int
	Barriers        int
	Copies          int
	CopiedBytes     int
	Clears          int
	Draws           int
	Presents        int
	LiveBuffers     int
	LiveBufferBytes int
}

type descriptorEntry struct {
	kind   descriptor.Kind
	target any
	// access is what a shader does through a buffer view
	access core1_0.AccessFlags
	// generation is the generation of the shader-visible heap the entry was written under
	generation uint64
}

// Device is the simulated GPU. Everything the GPU timeline touches (resource contents, their
// GPU-side state and the descriptors written to heaps) is guarded by lock.
type Device struct {
	logger  *slog.Logger
	options Options

	nextID   atomic.Uint64
	lost     chan struct{}
	loseOnce sync.Once

	lock        sync.Mutex
	gpuStates   *swiss.Map[uint64, state.State]
	heaps       *swiss.Map[uint64, *DescriptorHeap]
	descriptors *swiss.Map[uint64, descriptorEntry]
	validation  []error
	stats       Statistics
	queues      []*Queue
}

var _ backend.Device = &Device{}

// New creates a soft Device
func New(logger *slog.Logger, options Options) *Device {
	return &Device{
		logger:      logger,
		options:     options,
		lost:        make(chan struct{}),
		gpuStates:   swiss.NewMap[uint64, state.State](64),
		heaps:       swiss.NewMap[uint64, *DescriptorHeap](8),
		descriptors: swiss.NewMap[uint64, descriptorEntry](256),
	}
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1)
}

// Lose simulates device removal. Pending work is discarded, fence waiters wake with
// core1_0.VKErrorDeviceLost and every later submission or present fails.
func (d *Device) Lose() {
	d.loseOnce.Do(func() {
		d.logger.Warn("Device::Lose")
		close(d.lost)
	})
}

// IsLost returns true once Lose has been called
func (d *Device) IsLost() bool {
	select {
	case <-d.lost:
		return true
	default:
		return false
	}
}

// ValidationErrors returns every problem the validation layer has reported
func (d *Device) ValidationErrors() []error {
	d.lock.Lock()
	defer d.lock.Unlock()

	return append([]error(nil), d.validation...)
}

// Statistics returns a snapshot of the work performed so far
func (d *Device) Statistics() Statistics {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.stats
}

// GPUState returns the state res is in on the GPU timeline, after every executed barrier
func (d *Device) GPUState(res state.Resource) (state.State, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.gpuStates.Get(res.ResourceID())
}

func (d *Device) lostResult(operation string) (common.VkResult, error) {
	return core1_0.VKErrorDeviceLost, errors.Newf("%s: device lost", operation)
}

func (d *Device) CreateQueue() (backend.Queue, common.VkResult, error) {
	if d.IsLost() {
		res, err := d.lostResult("create queue")
		return nil, res, err
	}

	queue := newQueue(d)

	d.lock.Lock()
	d.queues = append(d.queues, queue)
	d.lock.Unlock()

	return queue, core1_0.VKSuccess, nil
}

func (d *Device) CreateCommandAllocator() (backend.CommandAllocator, common.VkResult, error) {
	return &CommandAllocator{device: d, id: d.newID()}, core1_0.VKSuccess, nil
}

// CreateCommandList creates a command list that is open for recording against allocator
func (d *Device) CreateCommandList(allocator backend.CommandAllocator) (backend.CommandList, common.VkResult, error) {
	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("command allocator %T was not created by a soft device", allocator)
	}

	return &CommandList{
		device:    d,
		id:        d.newID(),
		allocator: softAllocator,
		open:      true,
	}, core1_0.VKSuccess, nil
}

func (d *Device) CreateFence(initialValue uint64) (backend.Fence, common.VkResult, error) {
	return &Fence{
		device:  d,
		id:      d.newID(),
		value:   initialValue,
		changed: make(chan struct{}),
	}, core1_0.VKSuccess, nil
}

// CreateBuffer creates a buffer in the Common state. Upload heap buffers are mappable.
func (d *Device) CreateBuffer(size int, heap backend.HeapType) (backend.Buffer, common.VkResult, error) {
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid buffer size %d", size)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.options.MaxBufferBytes > 0 && d.stats.LiveBufferBytes+size > d.options.MaxBufferBytes {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	buffer := &Buffer{
		device: d,
		id:     d.newID(),
		heap:   heap,
		data:   make([]byte, size),
	}
	d.gpuStates.Put(buffer.id, state.Common)
	d.stats.LiveBuffers++
	d.stats.LiveBufferBytes += size

	return buffer, core1_0.VKSuccess, nil
}

func (d *Device) DescriptorIncrement(kind descriptor.Kind) uint {
	return descriptorIncrements[kind]
}

// CreateDescriptorHeap creates a heap whose CPU handles start at its id shifted into the upper
// half of the pointer, so every handle identifies the heap it belongs to
func (d *Device) CreateDescriptorHeap(kind descriptor.Kind, capacity int, shaderVisible bool) (backend.DescriptorHeap, common.VkResult, error) {
	if capacity <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid descriptor heap capacity %d", capacity)
	}

	heap := &DescriptorHeap{
		device:        d,
		id:            d.newID(),
		kind:          kind,
		capacity:      capacity,
		shaderVisible: shaderVisible,
	}

	d.lock.Lock()
	d.heaps.Put(heap.id, heap)
	d.lock.Unlock()

	return heap, core1_0.VKSuccess, nil
}

func (d *Device) CreateSwapchain(queue backend.Queue, desc backend.SwapchainDesc) (backend.Swapchain, common.VkResult, error) {
	softQueue, ok := queue.(*Queue)
	if !ok {
		return nil, core1_0.VKErrorUnknown, errors.Newf("queue %T was not created by a soft device", queue)
	}
	if desc.Drawable == 0 {
		return nil, core1_0.VKErrorUnknown, errors.New("swapchain requires a drawable")
	}
	if desc.BufferCount < 2 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("swapchain requires at least 2 buffers, got %d", desc.BufferCount)
	}

	swapchain := &Swapchain{
		device: d,
		queue:  softQueue,
		desc:   desc,
	}
	swapchain.createBuffers()

	return swapchain, core1_0.VKSuccess, nil
}

func (d *Device) CreateRootSignature(desc backend.RootSignatureDesc) (backend.RootSignature, common.VkResult, error) {
	if desc.ConstantBuffers < 0 || desc.ShaderResources < 0 || desc.UnorderedAccess < 0 || desc.Samplers < 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("invalid root signature %+v", desc)
	}

	return &RootSignature{desc: desc}, core1_0.VKSuccess, nil
}

// CreatePipelineState accepts SPIR-V shader bytecode only
func (d *Device) CreatePipelineState(desc backend.PipelineStateDesc) (backend.PipelineState, common.VkResult, error) {
	if desc.RootSignature == nil {
		return nil, core1_0.VKErrorUnknown, errors.New("pipeline state requires a root signature")
	}
	if !IsSPIRV(desc.VertexShader) {
		return nil, core1_0.VKErrorUnknown, errors.New("vertex shader is not SPIR-V bytecode")
	}
	if !IsSPIRV(desc.PixelShader) {
		return nil, core1_0.VKErrorUnknown, errors.New("pixel shader is not SPIR-V bytecode")
	}

	return &PipelineState{desc: desc}, core1_0.VKSuccess, nil
}

func (d *Device) CreateRenderTargetView(texture backend.Texture, dst descriptor.CPUHandle) {
	d.writeDescriptor(dst, descriptorEntry{kind: descriptor.KindRenderTarget, target: texture})
}

func (d *Device) CreateConstantBufferView(buffer backend.Buffer, size int, dst descriptor.CPUHandle) {
	if size > buffer.Size() {
		d.report("constant buffer view of %d bytes exceeds buffer %d of %d bytes", size, buffer.ResourceID(), buffer.Size())
	}
	d.writeDescriptor(dst, descriptorEntry{kind: descriptor.KindBufferView, target: buffer, access: core1_0.AccessUniformRead})
}

func (d *Device) CreateShaderResourceView(buffer backend.Buffer, options backend.BufferViewOptions, dst descriptor.CPUHandle) {
	stride := options.StructureByteStride
	if options.IndexBuffer {
		stride = 4
	}
	if options.NumElements*stride > buffer.Size() {
		d.report("shader resource view of %d elements exceeds buffer %d of %d bytes", options.NumElements, buffer.ResourceID(), buffer.Size())
	}
	d.writeDescriptor(dst, descriptorEntry{kind: descriptor.KindBufferView, target: buffer, access: core1_0.AccessShaderRead})
}

// CopyDescriptors copies count descriptors of kind. Copying from an empty slot is reported.
func (d *Device) CopyDescriptors(dst descriptor.CPUHandle, src descriptor.CPUHandle, count int, kind descriptor.Kind) {
	increment := d.DescriptorIncrement(kind)

	d.lock.Lock()
	defer d.lock.Unlock()

	for i := 0; i < count; i++ {
		from := src.Offset(i, increment)
		to := dst.Offset(i, increment)

		if !d.checkHandleLocked(kind, from) || !d.checkHandleLocked(kind, to) {
			continue
		}

		entry, ok := d.descriptors.Get(from.Ptr)
		if !ok {
			d.reportLocked("copy from empty descriptor %#x", from.Ptr)
			continue
		}
		d.putDescriptorLocked(to, entry)
	}
}

func (d *Device) writeDescriptor(dst descriptor.CPUHandle, entry descriptorEntry) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.checkHandleLocked(entry.kind, dst) {
		return
	}
	d.putDescriptorLocked(dst, entry)
}

// putDescriptorLocked stores entry at a handle that has already been checked, stamping it with
// the current generation of its heap
func (d *Device) putDescriptorLocked(dst descriptor.CPUHandle, entry descriptorEntry) {
	entry.generation = 0
	if heap, ok := d.heaps.Get(dst.Ptr >> 32); ok {
		entry.generation = heap.generation
	}
	d.descriptors.Put(dst.Ptr, entry)
}

// beginTables starts a new generation of heap. Descriptors copied into the heap from now on
// are the tables read by draws recorded after the heap was bound.
func (d *Device) beginTables(heap *DescriptorHeap) uint64 {
	d.lock.Lock()
	defer d.lock.Unlock()

	heap.generation++
	return heap.generation
}

// tableRead is a buffer a draw reads through a descriptor table
type tableRead struct {
	resource state.Resource
	access   core1_0.AccessFlags
}

// boundTables returns the buffer views written into heap during generation
func (d *Device) boundTables(heap *DescriptorHeap, generation uint64) []tableRead {
	d.lock.Lock()
	defer d.lock.Unlock()

	var reads []tableRead
	increment := d.DescriptorIncrement(heap.kind)
	for i := 0; i < heap.capacity; i++ {
		entry, ok := d.descriptors.Get(heap.CPUStart().Offset(i, increment).Ptr)
		if !ok || entry.generation != generation || entry.access == 0 {
			continue
		}
		resource, ok := entry.target.(state.Resource)
		if !ok {
			continue
		}
		reads = append(reads, tableRead{resource: resource, access: entry.access})
	}
	return reads
}

func (d *Device) lookupDescriptor(handle descriptor.CPUHandle) (descriptorEntry, bool) {
	return d.descriptors.Get(handle.Ptr)
}

// Destroy stops every queue worker. Outstanding work is discarded.
func (d *Device) Destroy() {
	d.lock.Lock()
	queues := d.queues
	d.queues = nil
	d.lock.Unlock()

	for _, queue := range queues {
		queue.Destroy()
	}
}
