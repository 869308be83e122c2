package soft

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
)

func (d *Device) report(format string, args ...any) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.reportLocked(format, args...)
}

func (d *Device) reportLocked(format string, args ...any) {
	if d.options.DisableValidation {
		return
	}

	err := errors.Newf(format, args...)
	d.logger.Warn("validation error", "error", err)
	d.validation = append(d.validation, err)
}

func (d *Device) checkHandleLocked(kind descriptor.Kind, handle descriptor.CPUHandle) bool {
	heap, ok := d.heaps.Get(handle.Ptr >> 32)
	if !ok {
		d.reportLocked("descriptor handle %#x does not belong to a live heap", handle.Ptr)
		return false
	}
	if heap.kind != kind {
		d.reportLocked("descriptor handle %#x is in a %s heap, expected %s", handle.Ptr, heap.kind, kind)
		return false
	}

	offset := handle.Ptr - heap.CPUStart().Ptr
	increment := uint64(d.DescriptorIncrement(kind))
	if offset%increment != 0 || offset/increment >= uint64(heap.capacity) {
		d.reportLocked("descriptor handle %#x is outside its heap of %d descriptors", handle.Ptr, heap.capacity)
		return false
	}

	return true
}

// applyBarrierLocked moves a resource to a new state on the GPU timeline. The barrier's before
// state must match the state the resource is actually in.
func (d *Device) applyBarrierLocked(barrier state.Barrier) {
	id := barrier.Resource.ResourceID()
	current, ok := d.gpuStates.Get(id)
	if !ok {
		d.reportLocked("barrier on destroyed resource %d", id)
		return
	}
	if barrier.Before == barrier.After {
		d.reportLocked("redundant barrier on resource %d: %s", id, barrier.Before)
	}
	if current != barrier.Before {
		d.reportLocked("barrier on resource %d expects %s but the resource is in %s", id, barrier.Before, current)
	}

	d.gpuStates.Put(id, barrier.After)
	d.stats.Barriers++
}

// checkAccessLocked verifies that the GPU-side state of res permits every access flag
func (d *Device) checkAccessLocked(operation string, res state.Resource, access core1_0.AccessFlags) {
	id := res.ResourceID()
	current, ok := d.gpuStates.Get(id)
	if !ok {
		d.reportLocked("%s: resource %d was destroyed", operation, id)
		return
	}
	if !state.Allows(current, access) {
		d.reportLocked("%s: resource %d in state %s does not allow access %s", operation, id, current, access)
	}
}

// checkTablesLocked verifies every buffer a draw reads through its descriptor tables
func (d *Device) checkTablesLocked(operation string, tables []tableRead) {
	for _, read := range tables {
		d.checkAccessLocked(operation+" descriptor table", read.resource, read.access)
	}
}

// checkPresentableLocked verifies that a back buffer is in the layout the presentation engine
// requires
func (d *Device) checkPresentableLocked(texture *Texture) {
	current, ok := d.gpuStates.Get(texture.id)
	if !ok {
		d.reportLocked("present of destroyed back buffer %d", texture.id)
		return
	}
	if layout := state.VulkanScope(current).Layout; layout != khr_swapchain.ImageLayoutPresentSrc {
		d.reportLocked("present of back buffer %d in layout %s (state %s)", texture.id, layout, current)
	}
}
