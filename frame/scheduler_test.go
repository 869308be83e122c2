package frame_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/backend/mocks"
	"github.com/vkngwrapper/viddriver/backend/soft"
	"github.com/vkngwrapper/viddriver/frame"
	"github.com/vkngwrapper/viddriver/staging"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

// fenceDevice hands out preset fences in creation order
type fenceDevice struct {
	backend.Device
	fences []backend.Fence
}

func (d *fenceDevice) CreateFence(uint64) (backend.Fence, common.VkResult, error) {
	fence := d.fences[0]
	d.fences = d.fences[1:]
	return fence, core1_0.VKSuccess, nil
}

type mockEnv struct {
	scheduler    *frame.Scheduler
	queue        *mocks.MockQueue
	frameFence   *mocks.MockFence
	frameCounter *mocks.FenceCounter
	flushCounter *mocks.FenceCounter
	frameSignals []uint64
}

func newMockEnv(t *testing.T, frameCount int) *mockEnv {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	device := soft.New(logger, soft.Options{})
	t.Cleanup(device.Destroy)

	env := &mockEnv{queue: mocks.NewMockQueue(ctrl)}
	var flushFence *mocks.MockFence
	env.frameFence, env.frameCounter = mocks.EasyMockFence(ctrl)
	flushFence, env.flushCounter = mocks.EasyMockFence(ctrl)

	env.queue.EXPECT().Execute(gomock.Any()).AnyTimes().Return(core1_0.VKSuccess, nil)
	env.queue.EXPECT().Signal(env.frameFence, gomock.Any()).AnyTimes().DoAndReturn(
		func(_ backend.Fence, value uint64) (common.VkResult, error) {
			env.frameSignals = append(env.frameSignals, value)
			return core1_0.VKSuccess, nil
		})
	env.queue.EXPECT().Signal(flushFence, gomock.Any()).AnyTimes().DoAndReturn(
		func(_ backend.Fence, value uint64) (common.VkResult, error) {
			env.flushCounter.Complete(value)
			return core1_0.VKSuccess, nil
		})

	scheduler, err := frame.New(logger, &fenceDevice{
		Device: device,
		fences: []backend.Fence{env.frameFence, flushFence},
	}, env.queue, state.NewTracker(logger), frame.CreateOptions{FrameCount: frameCount})
	require.NoError(t, err)
	t.Cleanup(scheduler.Destroy)

	env.scheduler = scheduler
	return env
}

func (e *mockEnv) runFrame(t *testing.T) {
	require.NoError(t, e.scheduler.BeginFrame(context.Background()))
	require.NoError(t, e.scheduler.Submit())
	require.NoError(t, e.scheduler.MarkPresented())
	require.NoError(t, e.scheduler.EndFrame())
}

func TestDefaultFrameCount(t *testing.T) {
	env := newMockEnv(t, 0)
	require.Equal(t, frame.DefaultFrameCount, env.scheduler.Depth())
}

func TestInvalidFrameCount(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := soft.New(logger, soft.Options{})
	defer device.Destroy()

	queue, _, err := device.CreateQueue()
	require.NoError(t, err)

	_, err = frame.New(logger, device, queue, state.NewTracker(logger), frame.CreateOptions{FrameCount: -1})
	require.Error(t, err)
	require.True(t, errors.Is(err, vidutils.ErrInitialization))
}

func TestFirstFramesDoNotWait(t *testing.T) {
	env := newMockEnv(t, 3)

	for i := 0; i < 3; i++ {
		require.Equal(t, i, env.scheduler.SlotIndex())
		env.runFrame(t)
	}

	require.Empty(t, env.frameCounter.Waits())
	require.Equal(t, []uint64{1, 2, 3}, env.frameSignals)
	require.Equal(t, uint64(3), env.scheduler.FrameNumber())
	require.Equal(t, uint64(1), env.scheduler.Slot(0).FenceValue())
	require.Equal(t, uint64(3), env.scheduler.Slot(2).FenceValue())
}

func TestBeginFrameWaitsForSlotRetirement(t *testing.T) {
	env := newMockEnv(t, 3)

	for i := 0; i < 3; i++ {
		env.runFrame(t)
	}

	done := make(chan error, 1)
	go func() {
		done <- env.scheduler.BeginFrame(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("frame 3 began before frame 0 retired: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Frames 1 and 2 are still executing. Only frame 0 must have retired.
	env.frameCounter.Complete(1)
	require.NoError(t, <-done)

	require.Equal(t, []uint64{1}, env.frameCounter.Waits())
	require.Equal(t, frame.StatusRecording, env.scheduler.Status())
	require.Equal(t, 0, env.scheduler.SlotIndex())
}

func TestBeginFrameSkipsWaitWhenRetired(t *testing.T) {
	env := newMockEnv(t, 2)

	env.frameCounter.Complete(5)
	for i := 0; i < 5; i++ {
		env.runFrame(t)
	}

	require.Empty(t, env.frameCounter.Waits())
}

func TestBeginFrameWaitCancelled(t *testing.T) {
	env := newMockEnv(t, 2)

	env.runFrame(t)
	env.runFrame(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := env.scheduler.BeginFrame(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, vidutils.ErrSynchronization))
	require.Equal(t, frame.StatusIdle, env.scheduler.Status())
	require.False(t, env.scheduler.IsRecording())
}

func TestStatusTransitions(t *testing.T) {
	env := newMockEnv(t, 2)
	ctx := context.Background()

	require.Equal(t, frame.StatusIdle, env.scheduler.Status())
	require.Error(t, env.scheduler.Submit())
	require.Error(t, env.scheduler.MarkPresented())
	require.Error(t, env.scheduler.EndFrame())

	require.NoError(t, env.scheduler.BeginFrame(ctx))
	require.Equal(t, frame.StatusRecording, env.scheduler.Status())
	require.True(t, env.scheduler.IsRecording())
	require.Error(t, env.scheduler.BeginFrame(ctx))
	require.Error(t, env.scheduler.MarkPresented())

	require.NoError(t, env.scheduler.Submit())
	require.Equal(t, frame.StatusSubmitted, env.scheduler.Status())
	require.False(t, env.scheduler.IsRecording())

	require.NoError(t, env.scheduler.MarkPresented())
	require.Equal(t, frame.StatusPresented, env.scheduler.Status())

	require.NoError(t, env.scheduler.EndFrame())
	require.Equal(t, frame.StatusIdle, env.scheduler.Status())
	require.Equal(t, "Idle", env.scheduler.Status().String())

	// EndFrame submits a frame that is still recording
	require.NoError(t, env.scheduler.BeginFrame(ctx))
	require.NoError(t, env.scheduler.EndFrame())
	require.Equal(t, uint64(2), env.scheduler.FrameNumber())
}

func TestFlushAndWait(t *testing.T) {
	env := newMockEnv(t, 2)
	ctx := context.Background()

	env.runFrame(t)

	require.NoError(t, env.scheduler.FlushAndWait(ctx))
	require.Equal(t, uint64(1), env.scheduler.FlushValue())
	require.NoError(t, env.scheduler.FlushAndWait(ctx))
	require.Equal(t, uint64(2), env.scheduler.FlushValue())
	require.Equal(t, []uint64{1, 2}, env.flushCounter.Waits())
	require.Equal(t, uint64(1), env.scheduler.FrameNumber())

	// Setup work recorded outside a frame is submitted by the flush
	list, err := env.scheduler.CommandList(ctx)
	require.NoError(t, err)
	require.NotNil(t, list)
	require.True(t, env.scheduler.IsRecording())

	require.NoError(t, env.scheduler.FlushAndWait(ctx))
	require.False(t, env.scheduler.IsRecording())
	require.Equal(t, uint64(1), env.scheduler.FrameNumber())
	require.Equal(t, frame.StatusIdle, env.scheduler.Status())
}

func TestSignalFailureMarked(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := soft.New(logger, soft.Options{})
	defer device.Destroy()

	queue := mocks.NewMockQueue(ctrl)
	queue.EXPECT().Execute(gomock.Any()).AnyTimes().Return(core1_0.VKSuccess, nil)
	queue.EXPECT().Signal(gomock.Any(), gomock.Any()).Return(core1_0.VKErrorDeviceLost, core1_0.VKErrorDeviceLost.ToError())

	scheduler, err := frame.New(logger, device, queue, state.NewTracker(logger), frame.CreateOptions{FrameCount: 2})
	require.NoError(t, err)
	defer scheduler.Destroy()

	require.NoError(t, scheduler.BeginFrame(context.Background()))
	err = scheduler.EndFrame()
	require.Error(t, err)
	require.True(t, errors.Is(err, vidutils.ErrSynchronization))
	require.True(t, errors.Is(err, vidutils.ErrDeviceLost))
}

func TestFramesOnSoftDevice(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := soft.New(logger, soft.Options{})
	defer device.Destroy()

	queue, _, err := device.CreateQueue()
	require.NoError(t, err)

	tracker := state.NewTracker(logger)
	scheduler, err := frame.New(logger, device, queue, tracker, frame.CreateOptions{FrameCount: 2})
	require.NoError(t, err)
	defer scheduler.Destroy()

	stager, err := staging.NewStager(logger, device, tracker, staging.Options{})
	require.NoError(t, err)

	destination, _, err := device.CreateBuffer(64, backend.HeapTypeDefault)
	require.NoError(t, err)
	tracker.Register(destination, state.Common)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 8; i++ {
		require.NoError(t, scheduler.BeginFrame(ctx))

		list, err := scheduler.CommandList(ctx)
		require.NoError(t, err)
		data := []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
		require.NoError(t, stager.UploadBuffer(scheduler.CurrentSlot().Uploads(), list, data, destination, state.VertexBuffer))
		require.Equal(t, 1, scheduler.CurrentSlot().Uploads().Count())

		require.NoError(t, scheduler.EndFrame())
	}

	require.NoError(t, scheduler.FlushAndWait(ctx))
	require.Empty(t, device.ValidationErrors())
	require.Equal(t, []byte{7, 8, 9, 10}, destination.(*soft.Buffer).Contents()[:4])

	var stats vidutils.UploadStatistics
	scheduler.AddStatistics(&stats)
	require.Equal(t, 0, stats.UploadCount)
	require.Equal(t, 1, tracker.Count())
}

func TestSlotReuseBlocksOnSoftQueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := soft.New(logger, soft.Options{})
	defer device.Destroy()

	queue, _, err := device.CreateQueue()
	require.NoError(t, err)
	softQueue := queue.(*soft.Queue)

	scheduler, err := frame.New(logger, device, queue, state.NewTracker(logger), frame.CreateOptions{FrameCount: 2})
	require.NoError(t, err)
	defer scheduler.Destroy()

	softQueue.Pause()
	for i := 0; i < 2; i++ {
		require.NoError(t, scheduler.BeginFrame(context.Background()))
		require.NoError(t, scheduler.EndFrame())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err = scheduler.BeginFrame(ctx)
	cancel()
	require.True(t, errors.Is(err, vidutils.ErrSynchronization))

	softQueue.Resume()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.BeginFrame(ctx))
	require.NoError(t, scheduler.EndFrame())
	require.NoError(t, scheduler.FlushAndWait(ctx))

	// The allocator of a slot is never reset while its frame is still executing
	require.Empty(t, device.ValidationErrors())
}

func TestFailedSubmissionAbandonsFrame(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := soft.New(logger, soft.Options{})
	defer device.Destroy()

	outOfMemory := core1_0.VKErrorOutOfDeviceMemory
	var signals []uint64
	queue := mocks.NewMockQueue(ctrl)
	gomock.InOrder(
		queue.EXPECT().Execute(gomock.Any()).Return(outOfMemory, outOfMemory.ToError()),
		queue.EXPECT().Execute(gomock.Any()).Return(core1_0.VKSuccess, nil),
		queue.EXPECT().Execute(gomock.Any()).Return(outOfMemory, outOfMemory.ToError()),
		queue.EXPECT().Execute(gomock.Any()).Return(core1_0.VKSuccess, nil),
	)
	queue.EXPECT().Signal(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(
		func(_ backend.Fence, value uint64) (common.VkResult, error) {
			signals = append(signals, value)
			return core1_0.VKSuccess, nil
		})

	scheduler, err := frame.New(logger, device, queue, state.NewTracker(logger), frame.CreateOptions{FrameCount: 2})
	require.NoError(t, err)
	defer scheduler.Destroy()

	ctx := context.Background()

	require.NoError(t, scheduler.BeginFrame(ctx))
	err = scheduler.EndFrame()
	require.True(t, errors.Is(err, vidutils.ErrSynchronization))
	require.Equal(t, frame.StatusIdle, scheduler.Status())
	require.Equal(t, uint64(0), scheduler.FrameNumber())
	require.Empty(t, signals)

	// The abandoned frame is recorded again into the same slot
	require.NoError(t, scheduler.BeginFrame(ctx))
	require.Equal(t, 0, scheduler.SlotIndex())
	require.NoError(t, scheduler.EndFrame())
	require.Equal(t, []uint64{1}, signals)
	require.Equal(t, uint64(1), scheduler.FrameNumber())

	require.NoError(t, scheduler.BeginFrame(ctx))
	require.Error(t, scheduler.Submit())
	require.Equal(t, frame.StatusIdle, scheduler.Status())

	require.NoError(t, scheduler.BeginFrame(ctx))
	require.NoError(t, scheduler.Submit())
	require.NoError(t, scheduler.EndFrame())
	require.Equal(t, []uint64{1, 2}, signals)
	require.Empty(t, device.ValidationErrors())
}
