// Package driver is the renderer entry point. A Driver owns the device, queue, frame ring,
// descriptor heaps and swapchain, and sequences the per-frame command stream:
//
//	BeginFrame, SetPipelineState, Bind*, SetViewports, SetScissorRects, SetRenderTargets,
//	ClearRenderTarget, Draw*, Present, EndFrame
//
// Calls outside of a BeginFrame/EndFrame bracket other than setup calls are not supported. The
// driver is not synchronized: every call must be made from the same thread.
package driver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/display"
	"github.com/vkngwrapper/viddriver/frame"
	"github.com/vkngwrapper/viddriver/shader"
	"github.com/vkngwrapper/viddriver/staging"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
	"golang.org/x/exp/slog"
)

type backBuffer struct {
	texture backend.Texture
	rtv     descriptor.CPUHandle
	index   int
}

type Driver struct {
	logger   *slog.Logger
	device   backend.Device
	display  display.Display
	compiler shader.Compiler
	flags    CreateFlags

	frameCount int
	signature  backend.RootSignatureDesc
	format     gputypes.TextureFormat

	queue         backend.Queue
	tracker       *state.Tracker
	frames        *frame.Scheduler
	stager        *staging.Stager
	heaps         [descriptor.KindCount]backend.DescriptorHeap
	allocators    descriptor.Allocators
	rootSignature backend.RootSignature
	visibleHeaps  []backend.DescriptorHeap
	swapchain     backend.Swapchain
	backBuffers   []backBuffer

	nextHandle uint64
	buffers    *swiss.Map[uint64, *Buffer]
	views      *swiss.Map[uint64, *View]
	pipelines  *swiss.Map[uint64, *PipelineState]

	// Per-frame binding state, reset by BeginFrame
	pipeline     *PipelineState
	vertexBound  bool
	indexBound   bool
	renderTarget *backBuffer
}

var _ display.Resizable = &Driver{}

func (d *Driver) Device() backend.Device              { return d.device }
func (d *Driver) Queue() backend.Queue                { return d.queue }
func (d *Driver) Tracker() *state.Tracker             { return d.tracker }
func (d *Driver) Frames() *frame.Scheduler            { return d.frames }
func (d *Driver) Swapchain() backend.Swapchain        { return d.swapchain }
func (d *Driver) Flags() CreateFlags                  { return d.flags }
func (d *Driver) FrameNumber() uint64                 { return d.frames.FrameNumber() }
func (d *Driver) Descriptors() *descriptor.Allocators { return &d.allocators }

// BackBufferRTV returns the render target view descriptor index bound to back buffer i
func (d *Driver) BackBufferRTV(i int) int {
	return d.backBuffers[i].index
}

func (d *Driver) newHandleID() uint64 {
	d.nextHandle++
	return d.nextHandle
}

func (d *Driver) createBackBuffers() error {
	rtvHeap := d.allocators.ForKind(descriptor.KindRenderTarget)
	count := d.swapchain.BufferCount()
	d.backBuffers = make([]backBuffer, 0, count)

	for i := 0; i < count; i++ {
		texture, res, err := d.swapchain.Buffer(i)
		if err != nil {
			return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to get back buffer %d", i)
		}

		handle, index, err := rtvHeap.Allocate()
		if err != nil {
			return err
		}

		d.device.CreateRenderTargetView(texture, handle)
		d.tracker.Register(texture, state.Present)
		d.backBuffers = append(d.backBuffers, backBuffer{texture: texture, rtv: handle, index: index})
	}

	return nil
}

func (d *Driver) releaseBackBuffers() {
	rtvHeap := d.allocators.ForKind(descriptor.KindRenderTarget)
	for _, buffer := range d.backBuffers {
		d.tracker.Forget(buffer.texture)
		rtvHeap.Release(buffer.index)
	}
	d.backBuffers = nil
	d.renderTarget = nil
}

// FlushAndWait submits every recorded command and blocks until the GPU is idle. It drains the
// whole pipeline and is meant for setup, not for use every frame.
func (d *Driver) FlushAndWait(ctx context.Context) error {
	return d.frames.FlushAndWait(ctx)
}

// Resize rebuilds the swapchain for a drawable of the given size. It waits for the GPU to go
// idle, releases the render target views of the old back buffers and binds fresh ones to the
// new buffers. If the swapchain rejects the new size, views are bound again to whatever buffers
// it still holds and the driver keeps rendering at the old size. Resize must not be called
// between BeginFrame and EndFrame.
func (d *Driver) Resize(width, height int) error {
	if status := d.frames.Status(); status != frame.StatusIdle {
		return errors.Newf("cannot resize while a frame is %s", status)
	}

	err := d.frames.FlushAndWait(context.Background())
	if err != nil {
		return err
	}

	d.releaseBackBuffers()

	res, err := d.swapchain.Resize(d.frameCount, width, height)
	if err != nil {
		err = vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to resize swapchain to %dx%d", width, height)

		restoreErr := d.createBackBuffers()
		if restoreErr != nil {
			d.releaseBackBuffers()
			return errors.WithSecondaryError(err, restoreErr)
		}
		return err
	}

	d.logger.Debug("Driver::Resize", "width", width, "height", height)
	return d.createBackBuffers()
}

// Destroy waits for the GPU to finish, then releases everything the driver owns in dependency
// order: swapchain, views, buffers, frame resources, then the device. Handles that the caller
// has not destroyed are released as well.
func (d *Driver) Destroy(ctx context.Context) error {
	err := d.frames.FlushAndWait(ctx)
	if err != nil {
		d.logger.Warn("Driver::Destroy failed to drain the GPU", "error", err)
	}

	if d.flags&CreateFlagsNoResizeTarget == 0 {
		d.display.SetResizeTarget(nil)
	}

	d.release()
	d.device.Destroy()
	d.device = nil
	return err
}

// release destroys everything the driver created on the device
func (d *Driver) release() {
	if d.swapchain != nil {
		d.releaseBackBuffers()
		d.swapchain.Destroy()
		d.swapchain = nil
	}

	d.views.Iter(func(_ uint64, view *View) bool {
		view.release()
		return false
	})
	d.views.Clear()
	for _, heap := range d.visibleHeaps {
		if heap != nil {
			heap.Destroy()
		}
	}
	d.visibleHeaps = nil
	for kind, heap := range d.heaps {
		if heap != nil {
			heap.Destroy()
			d.heaps[kind] = nil
		}
	}

	d.buffers.Iter(func(_ uint64, buffer *Buffer) bool {
		buffer.release()
		return false
	})
	d.buffers.Clear()

	d.pipelines.Iter(func(_ uint64, pipeline *PipelineState) bool {
		pipeline.release()
		return false
	})
	d.pipelines.Clear()
	if d.rootSignature != nil {
		d.rootSignature.Destroy()
		d.rootSignature = nil
	}
	if d.frames != nil {
		d.frames.Destroy()
		d.frames = nil
	}
	if d.queue != nil {
		d.queue.Destroy()
		d.queue = nil
	}
}
