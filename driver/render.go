package driver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
)

// BeginFrame starts recording a frame. It blocks until the GPU has retired the frame that last
// used the current slot, then binds the root signature and the slot's shader-visible heap.
func (d *Driver) BeginFrame(ctx context.Context) error {
	err := d.frames.BeginFrame(ctx)
	if err != nil {
		return err
	}

	list, err := d.frames.CommandList(ctx)
	if err != nil {
		return err
	}

	list.SetRootSignature(d.rootSignature)
	list.SetDescriptorHeap(d.visibleHeaps[d.frames.SlotIndex()])

	d.pipeline = nil
	d.vertexBound = false
	d.indexBound = false
	d.renderTarget = nil
	return nil
}

// recording returns the open command list of the current frame
func (d *Driver) recording() backend.CommandList {
	list, err := d.frames.CommandList(context.Background())
	if err != nil {
		panic(errors.Wrap(err, "frame command list unavailable"))
	}
	return list
}

// requireRead makes res readable as required. A buffer already in a read state keeps it and
// gains required, so bindings recorded earlier in the frame stay valid and the buffer settles
// into one combined read state.
func (d *Driver) requireRead(list backend.CommandList, res state.Resource, required state.State) {
	current, ok := d.tracker.Current(res)
	if ok && current.Includes(required) {
		return
	}
	if ok && current != state.Common && state.GenericRead.Includes(current) {
		required |= current
	}
	d.tracker.Require(list, res, required)
}

func (d *Driver) SetPipelineState(pipeline *PipelineState) {
	d.recording().SetPipelineState(pipeline.native)
	d.pipeline = pipeline
}

// bindViews copies view descriptors into the current slot's shader-visible heap, starting at
// the table offset
func (d *Driver) bindViews(table string, offset, capacity int, required state.State, views []*View) error {
	if len(views) > capacity {
		return errors.Wrapf(vidutils.ErrCapacityExceeded, "%d %s bound, the root signature allows %d", len(views), table, capacity)
	}

	list := d.recording()
	increment := d.device.DescriptorIncrement(descriptor.KindBufferView)
	dst := d.visibleHeaps[d.frames.SlotIndex()].CPUStart().Offset(offset, increment)

	for i, view := range views {
		d.requireRead(list, view.buffer.native, required)
		d.device.CopyDescriptors(dst.Offset(i, increment), view.handle, 1, descriptor.KindBufferView)
	}

	return nil
}

// BindConstantBuffers places constant buffer views in the constant buffer table of the current
// frame's shader-visible heap
func (d *Driver) BindConstantBuffers(buffers ...*ConstantBuffer) error {
	views := make([]*View, 0, len(buffers))
	for _, buffer := range buffers {
		views = append(views, buffer.View)
	}

	return d.bindViews("constant buffers", 0, d.signature.ConstantBuffers, state.ConstantBuffer, views)
}

// BindShaderResourceViews places shader resource views in the shader resource table, which
// follows the constant buffer table
func (d *Driver) BindShaderResourceViews(srvs ...*ShaderResourceView) error {
	views := make([]*View, 0, len(srvs))
	for _, srv := range srvs {
		views = append(views, srv.View)
	}

	return d.bindViews("shader resource views", d.signature.ConstantBuffers, d.signature.ShaderResources, state.ShaderResource, views)
}

func (d *Driver) SetViewports(viewports ...backend.Viewport) {
	d.recording().SetViewports(viewports...)
}

func (d *Driver) SetScissorRects(rects ...backend.Rect) {
	d.recording().SetScissorRects(rects...)
}

func (d *Driver) currentBackBuffer() (*backBuffer, error) {
	index := d.swapchain.CurrentBackBufferIndex()
	if index < 0 || index >= len(d.backBuffers) {
		return nil, errors.Mark(errors.Newf("back buffer %d has no render target view", index), vidutils.ErrPresent)
	}
	return &d.backBuffers[index], nil
}

// SetRenderTargets moves the current back buffer from present to render target and binds it.
// It panics if the driver holds no back buffers, which only happens after a failed Resize.
func (d *Driver) SetRenderTargets() {
	list := d.recording()
	target, err := d.currentBackBuffer()
	if err != nil {
		panic(err)
	}

	d.tracker.Require(list, target.texture, state.RenderTarget)
	list.SetRenderTarget(target.rtv)
	d.renderTarget = target
}

func (d *Driver) ClearRenderTarget(color gputypes.Color) {
	if d.renderTarget == nil {
		panic("ClearRenderTarget called before SetRenderTargets")
	}
	d.recording().ClearRenderTarget(d.renderTarget.rtv, color)
}

func (d *Driver) SetPrimitiveTopology(topology gputypes.PrimitiveTopology) {
	d.recording().SetPrimitiveTopology(topology)
}

func (d *Driver) SetVertexBuffers(buffers ...*VertexBuffer) {
	list := d.recording()

	views := make([]backend.VertexBufferView, 0, len(buffers))
	for _, buffer := range buffers {
		d.requireRead(list, buffer.native, state.VertexBuffer)
		views = append(views, buffer.view)
	}

	list.SetVertexBuffers(views...)
	d.vertexBound = len(views) > 0
}

func (d *Driver) SetIndexBuffer(buffer *IndexBuffer) {
	list := d.recording()

	d.requireRead(list, buffer.native, state.IndexBuffer)
	list.SetIndexBuffer(buffer.view)
	d.indexBound = true
}

func (d *Driver) checkDraw() {
	if d.pipeline == nil {
		panic("draw called without a pipeline state")
	}
	if !d.vertexBound {
		panic("draw called without a vertex buffer")
	}
}

// DrawInstanced records a draw. A pipeline state and at least one vertex buffer must be bound.
func (d *Driver) DrawInstanced(args backend.DrawArgs) {
	d.checkDraw()
	d.recording().DrawInstanced(args)
}

// DrawIndexedInstanced records an indexed draw. A pipeline state, at least one vertex buffer and
// an index buffer must be bound.
func (d *Driver) DrawIndexedInstanced(args backend.DrawIndexedArgs) {
	d.checkDraw()
	if !d.indexBound {
		panic("indexed draw called without an index buffer")
	}
	d.recording().DrawIndexedInstanced(args)
}

// Present moves the back buffer back to the present state, submits the frame and presents it.
// Failures, including device loss, are marked with vidutils.ErrPresent.
func (d *Driver) Present() error {
	list := d.recording()
	target := d.renderTarget
	if target == nil {
		var err error
		target, err = d.currentBackBuffer()
		if err != nil {
			return err
		}
	}
	d.tracker.Require(list, target.texture, state.Present)

	err := d.frames.Submit()
	if err != nil {
		return errors.Mark(err, vidutils.ErrPresent)
	}

	syncInterval := 0
	if d.flags&CreateFlagsVSync != 0 {
		syncInterval = 1
	}

	res, err := d.swapchain.Present(syncInterval)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrPresent, res, err, "failed to present frame %d", d.frames.FrameNumber())
	}

	d.renderTarget = nil
	return d.frames.MarkPresented()
}

// EndFrame signals the frame fence and advances to the next frame
func (d *Driver) EndFrame() error {
	return d.frames.EndFrame()
}
