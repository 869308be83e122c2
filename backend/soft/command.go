package soft

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
)

// CommandAllocator counts the command lists recorded into it that are still executing
type CommandAllocator struct {
	device   *Device
	id       uint64
	inFlight atomic.Int32
}

var _ backend.CommandAllocator = &CommandAllocator{}

// Reset fails if any command list recorded into the allocator has not finished executing
func (a *CommandAllocator) Reset() (common.VkResult, error) {
	if count := a.inFlight.Load(); count > 0 {
		a.device.report("command allocator %d reset while %d of its command lists are executing", a.id, count)
		return core1_0.VKErrorUnknown, errors.Newf("command allocator %d is in use by the GPU", a.id)
	}

	return core1_0.VKSuccess, nil
}

func (a *CommandAllocator) Destroy() {}

// InFlight returns the number of command lists recorded into the allocator that have been
// submitted but not yet executed
func (a *CommandAllocator) InFlight() int {
	return int(a.inFlight.Load())
}

type command func(d *Device)

// CommandList records commands as closures replayed by the queue worker with the device lock
// held
type CommandList struct {
	device    *Device
	id        uint64
	allocator *CommandAllocator
	open      bool
	commands  []command

	pipeline        *PipelineState
	renderTarget    bool
	vertexBuffers   []backend.VertexBufferView
	indexBuffer     *backend.IndexBufferView
	heap            *DescriptorHeap
	tableGeneration uint64
}

var _ backend.CommandList = &CommandList{}

// Reset reopens a closed command list against allocator
func (l *CommandList) Reset(allocator backend.CommandAllocator) (common.VkResult, error) {
	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("command allocator %T was not created by a soft device", allocator)
	}
	if l.open {
		l.device.report("reset of open command list %d", l.id)
		return core1_0.VKErrorUnknown, errors.Newf("command list %d must be closed before it is reset", l.id)
	}

	l.allocator = softAllocator
	l.open = true
	l.commands = nil
	l.pipeline = nil
	l.renderTarget = false
	l.vertexBuffers = nil
	l.indexBuffer = nil
	l.heap = nil
	l.tableGeneration = 0
	return core1_0.VKSuccess, nil
}

func (l *CommandList) Close() (common.VkResult, error) {
	if !l.open {
		l.device.report("close of closed command list %d", l.id)
		return core1_0.VKErrorUnknown, errors.Newf("command list %d is already closed", l.id)
	}

	l.open = false
	return core1_0.VKSuccess, nil
}

// IsOpen returns true while the list accepts commands
func (l *CommandList) IsOpen() bool {
	return l.open
}

func (l *CommandList) record(operation string, cmd command) {
	if !l.open {
		l.device.report("%s recorded to closed command list %d", operation, l.id)
		return
	}
	l.commands = append(l.commands, cmd)
}

func (l *CommandList) ResourceBarrier(barriers ...state.Barrier) {
	recorded := append([]state.Barrier(nil), barriers...)
	l.record("barrier", func(d *Device) {
		for _, barrier := range recorded {
			d.applyBarrierLocked(barrier)
		}
	})
}

func (l *CommandList) CopyBufferRegion(dst backend.Buffer, dstOffset int, src backend.Buffer, srcOffset int, size int) {
	dstBuffer, dstOK := dst.(*Buffer)
	srcBuffer, srcOK := src.(*Buffer)
	if !dstOK || !srcOK {
		l.device.report("copy between buffers not created by a soft device")
		return
	}
	if srcOffset+size > len(srcBuffer.data) || dstOffset+size > len(dstBuffer.data) {
		l.device.report("copy of %d bytes is out of bounds of buffer %d or %d", size, srcBuffer.id, dstBuffer.id)
		return
	}

	l.record("copy", func(d *Device) {
		d.checkAccessLocked("copy source", srcBuffer, core1_0.AccessTransferRead)
		d.checkAccessLocked("copy destination", dstBuffer, core1_0.AccessTransferWrite)

		copy(dstBuffer.data[dstOffset:dstOffset+size], srcBuffer.data[srcOffset:srcOffset+size])
		d.stats.Copies++
		d.stats.CopiedBytes += size
	})
}

func (l *CommandList) SetRootSignature(signature backend.RootSignature) {
	l.record("set root signature", func(*Device) {})
}

func (l *CommandList) SetPipelineState(pipeline backend.PipelineState) {
	softPipeline, ok := pipeline.(*PipelineState)
	if !ok {
		l.device.report("pipeline state %T was not created by a soft device", pipeline)
		return
	}
	l.pipeline = softPipeline
	l.record("set pipeline state", func(*Device) {})
}

// SetDescriptorHeap binds the heap that descriptor tables are read from. Buffer views copied
// into it after this call are checked against their buffer's state by every later draw.
func (l *CommandList) SetDescriptorHeap(heap backend.DescriptorHeap) {
	softHeap, ok := heap.(*DescriptorHeap)
	if !ok {
		l.device.report("descriptor heap %T was not created by a soft device", heap)
		return
	}
	if !softHeap.shaderVisible {
		l.device.report("descriptor heap bound to command list %d is not shader visible", l.id)
	}

	l.heap = softHeap
	l.tableGeneration = l.device.beginTables(softHeap)
	l.record("set descriptor heap", func(*Device) {})
}

func (l *CommandList) tableReads() []tableRead {
	if l.heap == nil {
		return nil
	}
	return l.device.boundTables(l.heap, l.tableGeneration)
}

func (l *CommandList) SetViewports(viewports ...backend.Viewport) {
	l.record("set viewports", func(*Device) {})
}

func (l *CommandList) SetScissorRects(rects ...backend.Rect) {
	l.record("set scissor rects", func(*Device) {})
}

func (l *CommandList) SetRenderTarget(view descriptor.CPUHandle) {
	l.renderTarget = true
	l.record("set render target", func(d *Device) {
		if texture, ok := d.renderTargetLocked(view); ok {
			d.checkAccessLocked("set render target", texture, core1_0.AccessColorAttachmentWrite)
		}
	})
}

func (l *CommandList) ClearRenderTarget(view descriptor.CPUHandle, color gputypes.Color) {
	l.record("clear render target", func(d *Device) {
		texture, ok := d.renderTargetLocked(view)
		if !ok {
			return
		}

		d.checkAccessLocked("clear render target", texture, core1_0.AccessColorAttachmentWrite)
		texture.clear = color
		d.stats.Clears++
	})
}

func (l *CommandList) SetPrimitiveTopology(topology gputypes.PrimitiveTopology) {
	l.record("set primitive topology", func(*Device) {})
}

func (l *CommandList) SetVertexBuffers(views ...backend.VertexBufferView) {
	l.vertexBuffers = append([]backend.VertexBufferView(nil), views...)
	l.record("set vertex buffers", func(*Device) {})
}

func (l *CommandList) SetIndexBuffer(view backend.IndexBufferView) {
	l.indexBuffer = &view
	l.record("set index buffer", func(*Device) {})
}

func (l *CommandList) checkDrawable(operation string) bool {
	ok := true
	if l.pipeline == nil {
		l.device.report("%s on command list %d without a pipeline state", operation, l.id)
		ok = false
	}
	if !l.renderTarget {
		l.device.report("%s on command list %d without a render target", operation, l.id)
		ok = false
	}
	if len(l.vertexBuffers) == 0 {
		l.device.report("%s on command list %d without vertex buffers", operation, l.id)
		ok = false
	}
	return ok
}

func (l *CommandList) DrawInstanced(args backend.DrawArgs) {
	if !l.checkDrawable("draw") {
		return
	}

	vertexBuffers := l.vertexBuffers
	tables := l.tableReads()
	l.record("draw", func(d *Device) {
		for _, view := range vertexBuffers {
			d.checkAccessLocked("draw vertex buffer", view.Buffer, core1_0.AccessVertexAttributeRead)
		}
		d.checkTablesLocked("draw", tables)
		d.stats.Draws++
	})
}

func (l *CommandList) DrawIndexedInstanced(args backend.DrawIndexedArgs) {
	if !l.checkDrawable("indexed draw") {
		return
	}
	if l.indexBuffer == nil {
		l.device.report("indexed draw on command list %d without an index buffer", l.id)
		return
	}

	vertexBuffers := l.vertexBuffers
	indexBuffer := *l.indexBuffer
	tables := l.tableReads()
	l.record("indexed draw", func(d *Device) {
		for _, view := range vertexBuffers {
			d.checkAccessLocked("draw vertex buffer", view.Buffer, core1_0.AccessVertexAttributeRead)
		}
		d.checkAccessLocked("draw index buffer", indexBuffer.Buffer, core1_0.AccessIndexRead)
		d.checkTablesLocked("indexed draw", tables)
		d.stats.Draws++
	})
}

func (l *CommandList) Destroy() {}

func (d *Device) renderTargetLocked(view descriptor.CPUHandle) (*Texture, bool) {
	entry, ok := d.lookupDescriptor(view)
	if !ok || entry.kind != descriptor.KindRenderTarget {
		d.reportLocked("render target view %#x is empty", view.Ptr)
		return nil, false
	}

	texture, ok := entry.target.(*Texture)
	if !ok {
		d.reportLocked("render target view %#x does not hold a texture", view.Ptr)
		return nil, false
	}
	return texture, true
}
