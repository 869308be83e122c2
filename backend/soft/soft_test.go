package soft_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/backend/soft"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/state"
	"golang.org/x/exp/slog"
)

func newDevice(t *testing.T) (*soft.Device, *soft.Queue) {
	device := soft.New(slog.New(slog.NewTextHandler(os.Stdout)), soft.Options{})
	t.Cleanup(device.Destroy)

	queue, _, err := device.CreateQueue()
	require.NoError(t, err)

	return device, queue.(*soft.Queue)
}

// drain signals a fresh fence behind all submitted work and waits for it
func drain(t *testing.T, device *soft.Device, queue *soft.Queue) {
	fence, _, err := device.CreateFence(0)
	require.NoError(t, err)

	_, err = queue.Signal(fence, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = fence.Wait(ctx, 1)
	require.NoError(t, err)
}

func newList(t *testing.T, device *soft.Device) (backend.CommandAllocator, backend.CommandList) {
	allocator, _, err := device.CreateCommandAllocator()
	require.NoError(t, err)

	list, _, err := device.CreateCommandList(allocator)
	require.NoError(t, err)

	return allocator, list
}

func TestFenceWaitFollowsQueue(t *testing.T) {
	device, queue := newDevice(t)

	fence, _, err := device.CreateFence(0)
	require.NoError(t, err)

	queue.Pause()
	_, err = queue.Signal(fence, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(0), fence.CompletedValue())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	res, err := fence.Wait(ctx, 3)
	cancel()
	require.Error(t, err)
	require.Equal(t, core1_0.VKTimeout, res)

	queue.Resume()

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err = fence.Wait(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, uint64(3), fence.CompletedValue())

	// Lower values are already satisfied
	_, err = fence.Wait(ctx, 1)
	require.NoError(t, err)
}

func TestPrematureAllocatorResetRejected(t *testing.T) {
	device, queue := newDevice(t)
	allocator, list := newList(t, device)

	_, err := list.Close()
	require.NoError(t, err)

	queue.Pause()
	_, err = queue.Execute(list)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.(*soft.CommandAllocator).InFlight())

	_, err = allocator.Reset()
	require.Error(t, err)
	require.Len(t, device.ValidationErrors(), 1)

	queue.Resume()
	drain(t, device, queue)

	_, err = allocator.Reset()
	require.NoError(t, err)
	require.Len(t, device.ValidationErrors(), 1)
}

func TestExecuteOpenListRejected(t *testing.T) {
	device, queue := newDevice(t)
	_, list := newList(t, device)

	_, err := queue.Execute(list)
	require.Error(t, err)
	require.Len(t, device.ValidationErrors(), 1)
}

func TestCopyWithBarriers(t *testing.T) {
	device, queue := newDevice(t)
	_, list := newList(t, device)

	src, _, err := device.CreateBuffer(256, backend.HeapTypeUpload)
	require.NoError(t, err)
	dst, _, err := device.CreateBuffer(16, backend.HeapTypeDefault)
	require.NoError(t, err)

	_, _, err = dst.Map()
	require.Error(t, err)

	mapped, _, err := src.Map()
	require.NoError(t, err)
	copy(mapped, []byte("0123456789abcdef"))
	src.Unmap()

	list.ResourceBarrier(
		state.Barrier{Resource: src, Before: state.Common, After: state.CopySource},
		state.Barrier{Resource: dst, Before: state.Common, After: state.CopyDest},
	)
	list.CopyBufferRegion(dst, 0, src, 0, 16)
	list.ResourceBarrier(state.Barrier{Resource: dst, Before: state.CopyDest, After: state.VertexBuffer})
	_, err = list.Close()
	require.NoError(t, err)

	_, err = queue.Execute(list)
	require.NoError(t, err)
	drain(t, device, queue)

	require.Empty(t, device.ValidationErrors())
	require.Equal(t, []byte("0123456789abcdef"), dst.(*soft.Buffer).Contents())

	current, ok := device.GPUState(dst)
	require.True(t, ok)
	require.Equal(t, state.VertexBuffer, current)

	stats := device.Statistics()
	require.Equal(t, 1, stats.Copies)
	require.Equal(t, 16, stats.CopiedBytes)
	require.Equal(t, 3, stats.Barriers)
	require.Equal(t, 2, stats.LiveBuffers)
}

func TestCopyWithoutBarriersReported(t *testing.T) {
	device, queue := newDevice(t)
	_, list := newList(t, device)

	src, _, err := device.CreateBuffer(4, backend.HeapTypeUpload)
	require.NoError(t, err)
	dst, _, err := device.CreateBuffer(4, backend.HeapTypeDefault)
	require.NoError(t, err)

	list.CopyBufferRegion(dst, 0, src, 0, 4)
	list.ResourceBarrier(state.Barrier{Resource: dst, Before: state.CopyDest, After: state.VertexBuffer})
	_, err = list.Close()
	require.NoError(t, err)

	_, err = queue.Execute(list)
	require.NoError(t, err)
	drain(t, device, queue)

	// Two illegal accesses and one barrier whose before state does not match
	require.Len(t, device.ValidationErrors(), 3)
}

func TestBufferMemoryLimit(t *testing.T) {
	device := soft.New(slog.New(slog.NewTextHandler(os.Stdout)), soft.Options{MaxBufferBytes: 1024})
	defer device.Destroy()

	buffer, _, err := device.CreateBuffer(1000, backend.HeapTypeDefault)
	require.NoError(t, err)

	_, res, err := device.CreateBuffer(100, backend.HeapTypeUpload)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	buffer.Destroy()
	_, _, err = device.CreateBuffer(100, backend.HeapTypeUpload)
	require.NoError(t, err)
}

func newSwapchain(t *testing.T, device *soft.Device, queue *soft.Queue) *soft.Swapchain {
	swapchain, _, err := device.CreateSwapchain(queue, backend.SwapchainDesc{
		Drawable:    1,
		Width:       64,
		Height:      32,
		BufferCount: 3,
		Format:      gputypes.TextureFormatRGBA8Unorm,
	})
	require.NoError(t, err)
	return swapchain.(*soft.Swapchain)
}

func TestSwapchainClearAndPresent(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	heap, _, err := device.CreateDescriptorHeap(descriptor.KindRenderTarget, 4, false)
	require.NoError(t, err)

	require.Equal(t, 0, swapchain.CurrentBackBufferIndex())
	texture, _, err := swapchain.Buffer(0)
	require.NoError(t, err)
	require.Equal(t, 64, texture.Width())

	rtv := heap.CPUStart()
	device.CreateRenderTargetView(texture, rtv)

	red := gputypes.Color{R: 1, A: 1}
	_, list := newList(t, device)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.Present, After: state.RenderTarget})
	list.SetRenderTarget(rtv)
	list.ClearRenderTarget(rtv, red)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.RenderTarget, After: state.Present})
	_, err = list.Close()
	require.NoError(t, err)

	_, err = queue.Execute(list)
	require.NoError(t, err)
	_, err = swapchain.Present(1)
	require.NoError(t, err)
	drain(t, device, queue)

	require.Empty(t, device.ValidationErrors())
	require.Equal(t, red, texture.(*soft.Texture).Pixel(10, 10))
	require.Equal(t, gputypes.Color{}, texture.(*soft.Texture).Pixel(64, 0))
	require.Equal(t, 1, swapchain.CurrentBackBufferIndex())
	require.Equal(t, 1, device.Statistics().Presents)
	require.Equal(t, 1, device.Statistics().Clears)
}

func TestPresentInRenderTargetStateReported(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	texture, _, err := swapchain.Buffer(0)
	require.NoError(t, err)

	_, list := newList(t, device)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.Present, After: state.RenderTarget})
	_, err = list.Close()
	require.NoError(t, err)

	_, err = queue.Execute(list)
	require.NoError(t, err)
	_, err = swapchain.Present(0)
	require.NoError(t, err)
	drain(t, device, queue)

	require.Len(t, device.ValidationErrors(), 1)
}

func TestSwapchainResize(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	old, _, err := swapchain.Buffer(0)
	require.NoError(t, err)

	fence, _, err := device.CreateFence(0)
	require.NoError(t, err)

	queue.Pause()
	_, err = queue.Signal(fence, 1)
	require.NoError(t, err)

	_, err = swapchain.Resize(3, 128, 128)
	require.Error(t, err)
	require.Len(t, device.ValidationErrors(), 1)

	queue.Resume()
	drain(t, device, queue)

	_, err = swapchain.Resize(3, 128, 128)
	require.NoError(t, err)
	require.Equal(t, 128, swapchain.Width())

	// A zero sized drawable is rejected and the buffers stay
	_, err = swapchain.Resize(3, 0, 128)
	require.Error(t, err)
	require.Equal(t, 128, swapchain.Width())

	fresh, _, err := swapchain.Buffer(0)
	require.NoError(t, err)
	require.NotEqual(t, old.ResourceID(), fresh.ResourceID())

	_, ok := device.GPUState(old)
	require.False(t, ok)
	current, ok := device.GPUState(fresh)
	require.True(t, ok)
	require.Equal(t, state.Present, current)
}

func TestSwapchainOutOfDate(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	swapchain.MarkOutOfDate()
	res, err := swapchain.Present(0)
	require.Error(t, err)
	require.Equal(t, khr_swapchain.VKErrorOutOfDate, res)

	_, err = swapchain.Resize(3, 64, 32)
	require.NoError(t, err)
	_, err = swapchain.Present(0)
	require.NoError(t, err)
}

func TestDeviceLost(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	fence, _, err := device.CreateFence(0)
	require.NoError(t, err)

	queue.Pause()
	_, err = queue.Signal(fence, 1)
	require.NoError(t, err)

	done := make(chan common.VkResult, 1)
	go func() {
		res, _ := fence.Wait(context.Background(), 1)
		done <- res
	}()

	device.Lose()
	require.Equal(t, core1_0.VKErrorDeviceLost, <-done)
	require.True(t, device.IsLost())

	_, list := newList(t, device)
	_, err = list.Close()
	require.NoError(t, err)

	res, err := queue.Execute(list)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorDeviceLost, res)

	res, err = swapchain.Present(0)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorDeviceLost, res)
}

func TestDescriptorHandles(t *testing.T) {
	device, _ := newDevice(t)

	cpuHeap, _, err := device.CreateDescriptorHeap(descriptor.KindBufferView, 4, false)
	require.NoError(t, err)
	visible, _, err := device.CreateDescriptorHeap(descriptor.KindBufferView, 4, true)
	require.NoError(t, err)
	require.True(t, visible.ShaderVisible())
	require.NotEqual(t, cpuHeap.CPUStart(), visible.CPUStart())

	buffer, _, err := device.CreateBuffer(256, backend.HeapTypeDefault)
	require.NoError(t, err)

	increment := device.DescriptorIncrement(descriptor.KindBufferView)
	device.CreateConstantBufferView(buffer, 256, cpuHeap.CPUStart())
	device.CopyDescriptors(visible.CPUStart().Offset(2, increment), cpuHeap.CPUStart(), 1, descriptor.KindBufferView)
	require.Empty(t, device.ValidationErrors())

	// Empty source slot
	device.CopyDescriptors(visible.CPUStart(), cpuHeap.CPUStart().Offset(1, increment), 1, descriptor.KindBufferView)
	require.Len(t, device.ValidationErrors(), 1)

	// Past the end of the heap
	device.CreateConstantBufferView(buffer, 256, cpuHeap.CPUStart().Offset(4, increment))
	require.Len(t, device.ValidationErrors(), 2)

	// Wrong heap kind
	rtvHeap, _, err := device.CreateDescriptorHeap(descriptor.KindRenderTarget, 4, false)
	require.NoError(t, err)
	device.CreateConstantBufferView(buffer, 256, rtvHeap.CPUStart())
	require.Len(t, device.ValidationErrors(), 3)
}

func TestPipelineStateRequiresSPIRV(t *testing.T) {
	device, _ := newDevice(t)

	signature, _, err := device.CreateRootSignature(backend.RootSignatureDesc{ConstantBuffers: 1})
	require.NoError(t, err)

	spirv := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	require.True(t, soft.IsSPIRV(spirv))
	require.False(t, soft.IsSPIRV([]byte("DXBC")))

	_, _, err = device.CreatePipelineState(backend.PipelineStateDesc{
		RootSignature: signature,
		VertexShader:  spirv,
		PixelShader:   []byte("DXBC"),
	})
	require.Error(t, err)

	pipeline, _, err := device.CreatePipelineState(backend.PipelineStateDesc{
		RootSignature: signature,
		VertexShader:  spirv,
		PixelShader:   spirv,
		Topology:      gputypes.PrimitiveTopologyTriangleList,
	})
	require.NoError(t, err)
	require.Equal(t, gputypes.PrimitiveTopologyTriangleList, pipeline.Desc().Topology)
}

func TestExecuteCapturesRecordedCommands(t *testing.T) {
	device, queue := newDevice(t)

	first, _, err := device.CreateBuffer(16, backend.HeapTypeDefault)
	require.NoError(t, err)
	second, _, err := device.CreateBuffer(16, backend.HeapTypeDefault)
	require.NoError(t, err)

	queue.Pause()

	_, list := newList(t, device)
	list.ResourceBarrier(state.Barrier{Resource: first, Before: state.Common, After: state.CopyDest})
	_, err = list.Close()
	require.NoError(t, err)
	_, err = queue.Execute(list)
	require.NoError(t, err)

	// The list is reset and re-recorded before the GPU has run its first submission
	allocator, _, err := device.CreateCommandAllocator()
	require.NoError(t, err)
	_, err = list.Reset(allocator)
	require.NoError(t, err)
	list.ResourceBarrier(state.Barrier{Resource: second, Before: state.Common, After: state.VertexBuffer})
	_, err = list.Close()
	require.NoError(t, err)
	_, err = queue.Execute(list)
	require.NoError(t, err)
	require.Equal(t, 2, queue.Pending())

	queue.Resume()
	drain(t, device, queue)

	require.Empty(t, device.ValidationErrors())
	current, ok := device.GPUState(first)
	require.True(t, ok)
	require.Equal(t, state.CopyDest, current)
	current, ok = device.GPUState(second)
	require.True(t, ok)
	require.Equal(t, state.VertexBuffer, current)

	stats := device.Statistics()
	require.Equal(t, 2, stats.CommandLists)
	require.Equal(t, 2, stats.Barriers)
}

func TestDrawChecksDescriptorTables(t *testing.T) {
	device, queue := newDevice(t)
	swapchain := newSwapchain(t, device, queue)

	texture, _, err := swapchain.Buffer(0)
	require.NoError(t, err)
	rtvHeap, _, err := device.CreateDescriptorHeap(descriptor.KindRenderTarget, 1, false)
	require.NoError(t, err)
	rtv := rtvHeap.CPUStart()
	device.CreateRenderTargetView(texture, rtv)

	spirv := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}
	signature, _, err := device.CreateRootSignature(backend.RootSignatureDesc{ConstantBuffers: 1, ShaderResources: 1})
	require.NoError(t, err)
	pipeline, _, err := device.CreatePipelineState(backend.PipelineStateDesc{
		RootSignature: signature,
		VertexShader:  spirv,
		PixelShader:   spirv,
	})
	require.NoError(t, err)

	vertices, _, err := device.CreateBuffer(72, backend.HeapTypeDefault)
	require.NoError(t, err)
	table, _, err := device.CreateBuffer(64, backend.HeapTypeDefault)
	require.NoError(t, err)

	cpuHeap, _, err := device.CreateDescriptorHeap(descriptor.KindBufferView, 2, false)
	require.NoError(t, err)
	visible, _, err := device.CreateDescriptorHeap(descriptor.KindBufferView, 2, true)
	require.NoError(t, err)
	increment := device.DescriptorIncrement(descriptor.KindBufferView)
	device.CreateShaderResourceView(table, backend.BufferViewOptions{NumElements: 16, StructureByteStride: 4}, cpuHeap.CPUStart())

	vertexView := backend.VertexBufferView{Buffer: vertices, SizeInBytes: 72, StrideInBytes: 24}
	draw := backend.DrawArgs{VertexCountPerInstance: 3, InstanceCount: 1}

	allocator, list := newList(t, device)
	list.ResourceBarrier(
		state.Barrier{Resource: texture, Before: state.Present, After: state.RenderTarget},
		state.Barrier{Resource: vertices, Before: state.Common, After: state.VertexBuffer},
		state.Barrier{Resource: table, Before: state.Common, After: state.VertexBuffer},
	)
	list.SetPipelineState(pipeline)
	list.SetDescriptorHeap(visible)
	device.CopyDescriptors(visible.CPUStart().Offset(1, increment), cpuHeap.CPUStart(), 1, descriptor.KindBufferView)
	list.SetRenderTarget(rtv)
	list.SetVertexBuffers(vertexView)

	// The table buffer is not readable through a shader resource view yet
	list.DrawInstanced(draw)
	list.ResourceBarrier(state.Barrier{Resource: table, Before: state.VertexBuffer, After: state.VertexBuffer | state.ShaderResource})
	list.DrawInstanced(draw)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.RenderTarget, After: state.Present})
	_, err = list.Close()
	require.NoError(t, err)
	_, err = queue.Execute(list)
	require.NoError(t, err)
	drain(t, device, queue)

	require.Len(t, device.ValidationErrors(), 1)
	require.Equal(t, 2, device.Statistics().Draws)

	// Descriptors copied while the heap was bound to an earlier list are not read again
	table.Destroy()
	_, err = list.Reset(allocator)
	require.NoError(t, err)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.Present, After: state.RenderTarget})
	list.SetPipelineState(pipeline)
	list.SetDescriptorHeap(visible)
	list.SetRenderTarget(rtv)
	list.SetVertexBuffers(vertexView)
	list.DrawInstanced(draw)
	list.ResourceBarrier(state.Barrier{Resource: texture, Before: state.RenderTarget, After: state.Present})
	_, err = list.Close()
	require.NoError(t, err)
	_, err = queue.Execute(list)
	require.NoError(t, err)
	drain(t, device, queue)

	require.Len(t, device.ValidationErrors(), 1)
	require.Equal(t, 3, device.Statistics().Draws)
}
