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

// DefaultInputLayout is a float3 position followed by a float3 color
var DefaultInputLayout = []gputypes.VertexAttribute{
	{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
	{Format: gputypes.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
}

// PipelineOptions are optional settings for CreatePipelineState
type PipelineOptions struct {
	// InputLayout describes the vertex attributes. Nil selects DefaultInputLayout.
	InputLayout []gputypes.VertexAttribute
}

// CreateBuffer creates a device-local buffer holding data. The upload is recorded on the current
// frame slot and executes with the next submission; data may be reused as soon as CreateBuffer
// returns. Once the copy completes the buffer rests in steady.
func (d *Driver) CreateBuffer(ctx context.Context, data []byte, steady state.State) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.Mark(errors.New("cannot create an empty buffer"), vidutils.ErrResourceCreation)
	}

	native, res, err := d.device.CreateBuffer(len(data), backend.HeapTypeDefault)
	if err != nil {
		return nil, vidutils.MarkResult(vidutils.ErrResourceCreation, res, err, "failed to create %d byte buffer", len(data))
	}
	d.tracker.Register(native, state.Common)

	buffer := &Buffer{
		driver: d,
		id:     d.newHandleID(),
		native: native,
		steady: steady,
	}

	list, err := d.frames.CommandList(ctx)
	if err != nil {
		buffer.release()
		return nil, err
	}

	err = d.stager.UploadBuffer(d.frames.CurrentSlot().Uploads(), list, data, native, steady)
	if err != nil {
		buffer.release()
		return nil, err
	}

	d.buffers.Put(buffer.id, buffer)
	return buffer, nil
}

// CreateVertexBuffer uploads vertex data with the given per-vertex stride
func (d *Driver) CreateVertexBuffer(ctx context.Context, vertices []byte, stride int) (*VertexBuffer, error) {
	if stride <= 0 || len(vertices)%stride != 0 {
		return nil, errors.Mark(errors.Newf("vertex data of %d bytes is not a multiple of stride %d", len(vertices), stride),
			vidutils.ErrResourceCreation)
	}

	buffer, err := d.CreateBuffer(ctx, vertices, state.VertexBuffer)
	if err != nil {
		return nil, err
	}

	return &VertexBuffer{
		Buffer: buffer,
		view: backend.VertexBufferView{
			Buffer:        buffer.native,
			SizeInBytes:   len(vertices),
			StrideInBytes: stride,
		},
	}, nil
}

// CreateIndexBuffer uploads 32-bit indices
func (d *Driver) CreateIndexBuffer(ctx context.Context, indices []uint32) (*IndexBuffer, error) {
	data := Bytes(indices)
	buffer, err := d.CreateBuffer(ctx, data, state.IndexBuffer)
	if err != nil {
		return nil, err
	}

	return &IndexBuffer{
		Buffer: buffer,
		view: backend.IndexBufferView{
			Buffer:      buffer.native,
			SizeInBytes: len(data),
			Format:      gputypes.IndexFormatUint32,
		},
	}, nil
}

func (d *Driver) allocateView(buffer *Buffer) (*View, error) {
	handle, index, err := d.allocators.ForKind(descriptor.KindBufferView).Allocate()
	if err != nil {
		return nil, err
	}

	view := &View{
		driver: d,
		id:     d.newHandleID(),
		buffer: buffer,
		handle: handle,
		index:  index,
	}
	d.views.Put(view.id, view)
	return view, nil
}

// CreateConstantBuffer creates a constant buffer view of the whole buffer. It fails with
// vidutils.ErrCapacityExceeded when the buffer view heap is full.
func (d *Driver) CreateConstantBuffer(buffer *Buffer) (*ConstantBuffer, error) {
	view, err := d.allocateView(buffer)
	if err != nil {
		return nil, err
	}

	d.device.CreateConstantBufferView(buffer.native, buffer.Size(), view.handle)
	return &ConstantBuffer{View: view}, nil
}

// CreateShaderResourceView creates a shader resource view of buffer. It fails with
// vidutils.ErrCapacityExceeded when the buffer view heap is full.
func (d *Driver) CreateShaderResourceView(buffer *Buffer, options ViewOptions) (*ShaderResourceView, error) {
	view, err := d.allocateView(buffer)
	if err != nil {
		return nil, err
	}

	d.device.CreateShaderResourceView(buffer.native, backend.BufferViewOptions{
		IndexBuffer:         options.IndexBuffer,
		NumElements:         options.NumElements,
		StructureByteStride: options.StructureByteStride,
	}, view.handle)
	return &ShaderResourceView{View: view}, nil
}

// CompileShader compiles source with the driver's compiler. Failures are marked with
// vidutils.ErrCompilation and carry the compiler's diagnostic.
func (d *Driver) CompileShader(source string, args ...string) (*Shader, error) {
	if d.compiler == nil {
		return nil, errors.Mark(errors.New("no shader compiler was provided"), vidutils.ErrCompilation)
	}

	code, err := d.compiler.Compile(source, args)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to compile shader"), vidutils.ErrCompilation)
	}

	return NewShader(code), nil
}

// CreatePipelineState creates a triangle pipeline writing to the back buffer format
func (d *Driver) CreatePipelineState(vs, ps *Shader, options PipelineOptions) (*PipelineState, error) {
	layout := options.InputLayout
	if layout == nil {
		layout = DefaultInputLayout
	}

	native, res, err := d.device.CreatePipelineState(backend.PipelineStateDesc{
		RootSignature:      d.rootSignature,
		VertexShader:       vs.code,
		PixelShader:        ps.code,
		InputLayout:        layout,
		Topology:           gputypes.PrimitiveTopologyTriangleList,
		RenderTargetFormat: d.format,
	})
	if err != nil {
		return nil, vidutils.MarkResult(vidutils.ErrResourceCreation, res, err, "failed to create pipeline state")
	}

	pipeline := &PipelineState{
		driver: d,
		id:     d.newHandleID(),
		native: native,
	}
	d.pipelines.Put(pipeline.id, pipeline)
	return pipeline, nil
}
