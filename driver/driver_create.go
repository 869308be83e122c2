package driver

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
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

// CreateFlags indicate specific driver behaviors to activate or deactivate
type CreateFlags int32

var driverCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	driverCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return driverCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateFlagsVSync presents with a sync interval of one, waiting for vertical blank. Without
	// it, frames are presented immediately.
	CreateFlagsVSync CreateFlags = 1 << iota
	// CreateFlagsNoResizeTarget prevents the driver from registering itself as the display's
	// resize target. The caller is then responsible for calling Resize.
	CreateFlagsNoResizeTarget
)

func init() {
	CreateFlagsVSync.Register("CreateFlagsVSync")
	CreateFlagsNoResizeTarget.Register("CreateFlagsNoResizeTarget")
}

// DefaultRootSignature is the descriptor table layout used when CreateOptions.RootSignature is
// left empty
var DefaultRootSignature = backend.RootSignatureDesc{
	ConstantBuffers: 14,
	ShaderResources: 128,
	UnorderedAccess: 8,
	Samplers:        16,
}

// DefaultBackBufferFormat is the swapchain format used when CreateOptions.BackBufferFormat is
// left empty
const DefaultBackBufferFormat = gputypes.TextureFormatRGBA8Unorm

// CreateOptions contains optional settings when creating a driver
type CreateOptions struct {
	// Flags indicates specific driver behaviors to activate or deactivate
	Flags CreateFlags
	// FrameCount is the number of frames the CPU may record ahead of the GPU, which is also the
	// number of swapchain back buffers. Zero selects frame.DefaultFrameCount.
	FrameCount int
	// HeapCapacities overrides the number of descriptors the driver can allocate per kind. Zero
	// entries use descriptor.DefaultCapacities.
	HeapCapacities [descriptor.KindCount]int
	// RootSignature sizes the descriptor tables. A zero value selects DefaultRootSignature.
	RootSignature backend.RootSignatureDesc
	// BackBufferFormat is the swapchain format and the render target format of every pipeline
	BackBufferFormat gputypes.TextureFormat
	// Staging configures the upload stager
	Staging staging.Options
}

// New creates a Driver presenting to disp through device. On success the driver owns device
// and will destroy it in Destroy. On failure every object created so far is released and the
// device is left to the caller.
//
// logger - Receives debug output from the driver and every component it creates
//
// compiler - Compiles shader source for CompileShader. It may be nil if the caller only ever
// creates pipelines from precompiled bytecode.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device backend.Device, disp display.Display, compiler shader.Compiler, options CreateOptions) (*Driver, error) {
	d := &Driver{
		logger:   logger,
		device:   device,
		display:  disp,
		compiler: compiler,
		flags:    options.Flags,

		frameCount: options.FrameCount,
		signature:  options.RootSignature,
		format:     options.BackBufferFormat,

		buffers:   swiss.NewMap[uint64, *Buffer](16),
		views:     swiss.NewMap[uint64, *View](16),
		pipelines: swiss.NewMap[uint64, *PipelineState](4),
	}

	if d.frameCount == 0 {
		d.frameCount = frame.DefaultFrameCount
	}
	if d.signature == (backend.RootSignatureDesc{}) {
		d.signature = DefaultRootSignature
	}
	if d.format == gputypes.TextureFormatUndefined {
		d.format = DefaultBackBufferFormat
	}

	err := d.init(options)
	if err != nil {
		d.release()
		return nil, errors.Mark(err, vidutils.ErrInitialization)
	}

	if d.flags&CreateFlagsNoResizeTarget == 0 {
		disp.SetResizeTarget(d)
	}

	logger.Debug("Driver::New", "frames", d.frameCount, "flags", d.flags.String())
	return d, nil
}

func (d *Driver) init(options CreateOptions) error {
	var res common.VkResult
	var err error

	d.queue, res, err = d.device.CreateQueue()
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create command queue")
	}

	d.tracker = state.NewTracker(d.logger)

	d.frames, err = frame.New(d.logger, d.device, d.queue, d.tracker, frame.CreateOptions{FrameCount: d.frameCount})
	if err != nil {
		return err
	}

	d.stager, err = staging.NewStager(d.logger, d.device, d.tracker, options.Staging)
	if err != nil {
		return errors.Mark(err, vidutils.ErrInitialization)
	}

	for kind := descriptor.Kind(0); kind < descriptor.KindCount; kind++ {
		capacity := options.HeapCapacities[kind]
		if capacity == 0 {
			capacity = descriptor.DefaultCapacities[kind]
		}

		heap, res, err := d.device.CreateDescriptorHeap(kind, capacity, false)
		if err != nil {
			return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create %s descriptor heap", kind)
		}
		d.heaps[kind] = heap
		d.allocators.Set(descriptor.NewHeap(kind, capacity, heap.CPUStart(), d.device.DescriptorIncrement(kind)))
	}

	d.rootSignature, res, err = d.device.CreateRootSignature(d.signature)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create root signature")
	}

	tableSize := d.signature.ConstantBuffers + d.signature.ShaderResources + d.signature.UnorderedAccess + d.signature.Samplers
	d.visibleHeaps = make([]backend.DescriptorHeap, d.frameCount)
	for i := range d.visibleHeaps {
		d.visibleHeaps[i], res, err = d.device.CreateDescriptorHeap(descriptor.KindBufferView, tableSize, true)
		if err != nil {
			return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create shader visible heap for slot %d", i)
		}
	}

	d.swapchain, res, err = d.device.CreateSwapchain(d.queue, backend.SwapchainDesc{
		Drawable:    d.display.Drawable(),
		Width:       d.display.Width(),
		Height:      d.display.Height(),
		BufferCount: d.frameCount,
		Format:      d.format,
	})
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create swapchain")
	}

	return d.createBackBuffers()
}
