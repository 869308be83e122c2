// Package frame schedules CPU command recording against asynchronous GPU execution. A ring of
// N slots each owns a command allocator and an upload list; a slot is only reused once the
// frame fence proves the GPU finished the frame that last used it.
package frame

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/staging"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
	"golang.org/x/exp/slog"
)

// DefaultFrameCount is the number of frames in flight used when CreateOptions.FrameCount is zero
const DefaultFrameCount = 3

type CreateOptions struct {
	// FrameCount is the number of frames the CPU may record ahead of the GPU
	FrameCount int
}

// Slot is the per-frame state that can only be reused once the GPU has retired the frame
// recorded into it
type Slot struct {
	allocator backend.CommandAllocator
	uploads   staging.List
	// fenceValue is the frame fence value signaled at the end of the last frame recorded into
	// this slot. Zero if the slot has never been used.
	fenceValue uint64
}

func (s *Slot) Allocator() backend.CommandAllocator { return s.allocator }
func (s *Slot) Uploads() *staging.List              { return &s.uploads }
func (s *Slot) FenceValue() uint64                  { return s.fenceValue }

// Scheduler is the frame ring. Frame f is recorded into slot f mod N and, once submitted, the
// frame fence is signaled with f+1. Before slot f mod N is reused for frame f (f >= N) the
// scheduler waits until the frame fence reaches f-N+1, which proves frame f-N has retired.
//
// The scheduler is single-threaded: every method must be called from the recording thread.
type Scheduler struct {
	logger  *slog.Logger
	device  backend.Device
	queue   backend.Queue
	tracker *state.Tracker

	slots []Slot
	list  backend.CommandList
	// listOpen is true from the moment a slot is acquired until its commands are submitted
	listOpen bool

	frameFence  backend.Fence
	flushFence  backend.Fence
	flushValue  uint64
	frameNumber uint64
	status      Status
}

// New creates the command allocators, command list and fences of the frame ring. The command
// list is created closed; it is opened by the first BeginFrame or CommandList call.
func New(logger *slog.Logger, device backend.Device, queue backend.Queue, tracker *state.Tracker, options CreateOptions) (*Scheduler, error) {
	frameCount := options.FrameCount
	if frameCount == 0 {
		frameCount = DefaultFrameCount
	}
	if frameCount < 1 {
		return nil, errors.Mark(errors.Newf("invalid frame count %d", frameCount), vidutils.ErrInitialization)
	}

	s := &Scheduler{
		logger:  logger,
		device:  device,
		queue:   queue,
		tracker: tracker,
		slots:   make([]Slot, frameCount),
	}

	err := s.init()
	if err != nil {
		s.Destroy()
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) init() error {
	for i := range s.slots {
		allocator, res, err := s.device.CreateCommandAllocator()
		if err != nil {
			return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create command allocator %d", i)
		}
		s.slots[i].allocator = allocator
	}

	list, res, err := s.device.CreateCommandList(s.slots[0].allocator)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create command list")
	}
	s.list = list

	res, err = s.list.Close()
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to close new command list")
	}

	s.frameFence, res, err = s.device.CreateFence(0)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create frame fence")
	}

	s.flushFence, res, err = s.device.CreateFence(0)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrInitialization, res, err, "failed to create flush fence")
	}

	return nil
}

func (s *Scheduler) Depth() int          { return len(s.slots) }
func (s *Scheduler) FrameNumber() uint64 { return s.frameNumber }
func (s *Scheduler) Status() Status      { return s.status }
func (s *Scheduler) FlushValue() uint64  { return s.flushValue }

// SlotIndex returns the slot of the current frame number
func (s *Scheduler) SlotIndex() int {
	return int(s.frameNumber % uint64(len(s.slots)))
}

func (s *Scheduler) Slot(index int) *Slot {
	return &s.slots[index]
}

// CurrentSlot returns the slot of the current frame number
func (s *Scheduler) CurrentSlot() *Slot {
	return &s.slots[s.SlotIndex()]
}

// IsRecording returns true if the command list is open for the current slot
func (s *Scheduler) IsRecording() bool {
	return s.listOpen
}

// retireTarget returns the frame fence value that proves the previous user of the current slot
// has retired, or zero if the slot has not been used yet
func (s *Scheduler) retireTarget() uint64 {
	depth := uint64(len(s.slots))
	if s.frameNumber < depth {
		return 0
	}
	return s.frameNumber - depth + 1
}

// acquire waits for the current slot to be retired by the GPU, then resets its allocator,
// reopens the command list against it and releases the slot's staging buffers
func (s *Scheduler) acquire(ctx context.Context) error {
	index := s.SlotIndex()
	slot := &s.slots[index]

	if target := s.retireTarget(); target > 0 && s.frameFence.CompletedValue() < target {
		s.logger.Debug("Scheduler::acquire wait", "frame", s.frameNumber, "slot", index, "fence", target)

		res, err := s.frameFence.Wait(ctx, target)
		if err != nil {
			return vidutils.MarkResult(vidutils.ErrSynchronization, res, err,
				"failed waiting for frame fence to reach %d before frame %d", target, s.frameNumber)
		}
	}

	res, err := slot.allocator.Reset()
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to reset command allocator of slot %d", index)
	}

	res, err = s.list.Reset(slot.allocator)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to reset command list for slot %d", index)
	}

	slot.uploads.Clear(s.tracker)
	s.listOpen = true

	s.logger.Debug("Scheduler::acquire", "frame", s.frameNumber, "slot", index)
	return nil
}

// CommandList returns the command list, open for recording into the current slot. Setup work
// outside a frame uses it to record uploads that are later submitted by FlushAndWait or by the
// next frame.
func (s *Scheduler) CommandList(ctx context.Context) (backend.CommandList, error) {
	if !s.listOpen {
		err := s.acquire(ctx)
		if err != nil {
			return nil, err
		}
	}

	return s.list, nil
}

// BeginFrame starts recording the current frame, blocking until its slot can be reused
func (s *Scheduler) BeginFrame(ctx context.Context) error {
	if s.status != StatusIdle {
		return errors.Newf("cannot begin frame %d while the previous frame is %s", s.frameNumber, s.status)
	}

	if !s.listOpen {
		err := s.acquire(ctx)
		if err != nil {
			return err
		}
	}

	s.logger.Debug("Scheduler::BeginFrame", "frame", s.frameNumber, "slot", s.SlotIndex())
	s.status = StatusRecording
	return nil
}

func (s *Scheduler) submit() error {
	if !s.listOpen {
		return nil
	}
	s.listOpen = false

	res, err := s.list.Close()
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to close command list of frame %d", s.frameNumber)
	}

	res, err = s.queue.Execute(s.list)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to execute command list of frame %d", s.frameNumber)
	}

	return nil
}

// abandon discards the current frame after a failed submission, along with the uploads recorded
// into it. The frame number is kept, so the next BeginFrame records into the same slot again.
func (s *Scheduler) abandon(err error) error {
	s.logger.Warn("Scheduler::abandon", "frame", s.frameNumber, "error", err)
	s.status = StatusIdle
	return err
}

// Submit closes the command list of the current frame and executes it. If the submission fails
// the frame is abandoned and the scheduler returns to Idle.
func (s *Scheduler) Submit() error {
	if s.status != StatusRecording {
		return errors.Newf("cannot submit frame %d while it is %s", s.frameNumber, s.status)
	}

	err := s.submit()
	if err != nil {
		return s.abandon(err)
	}

	s.status = StatusSubmitted
	return nil
}

// MarkPresented records that the submitted frame has been handed to the presentation engine
func (s *Scheduler) MarkPresented() error {
	if s.status != StatusSubmitted {
		return errors.Newf("cannot present frame %d while it is %s", s.frameNumber, s.status)
	}

	s.status = StatusPresented
	return nil
}

// EndFrame submits the frame if it is still recording, signals the frame fence with the frame's
// fence value and advances to the next frame. The next slot is not touched until it is
// acquired. A failed submission abandons the frame like Submit does. A failed signal leaves
// the frame Submitted: the GPU may still be using the slot, so only FlushAndWait and Destroy
// remain meaningful.
func (s *Scheduler) EndFrame() error {
	if s.status == StatusIdle {
		return errors.Newf("cannot end frame %d before it has begun", s.frameNumber)
	}

	err := s.submit()
	if err != nil {
		return s.abandon(err)
	}
	s.status = StatusSubmitted

	value := s.frameNumber + 1
	res, err := s.queue.Signal(s.frameFence, value)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to signal frame fence with %d", value)
	}

	s.logger.Debug("Scheduler::EndFrame", "frame", s.frameNumber, "fence", value)

	s.slots[s.SlotIndex()].fenceValue = value
	s.frameNumber++
	s.status = StatusIdle
	return nil
}

// FlushAndWait submits any recorded work and blocks until the GPU has executed everything
// submitted so far. Every slot's staging buffers are released. The frame number is unchanged.
func (s *Scheduler) FlushAndWait(ctx context.Context) error {
	err := s.submit()
	if err != nil {
		if s.status == StatusRecording {
			return s.abandon(err)
		}
		return err
	}
	if s.status == StatusRecording {
		s.status = StatusSubmitted
	}

	s.flushValue++
	res, err := s.queue.Signal(s.flushFence, s.flushValue)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed to signal flush fence with %d", s.flushValue)
	}

	res, err = s.flushFence.Wait(ctx, s.flushValue)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrSynchronization, res, err, "failed waiting for flush fence to reach %d", s.flushValue)
	}

	for i := range s.slots {
		s.slots[i].uploads.Clear(s.tracker)
	}

	s.logger.Debug("Scheduler::FlushAndWait", "frame", s.frameNumber, "flush", s.flushValue)
	return nil
}

// AddStatistics adds the staging usage of every slot to stats
func (s *Scheduler) AddStatistics(stats *vidutils.UploadStatistics) {
	for i := range s.slots {
		s.slots[i].uploads.AddStatistics(stats)
	}
}

func (s *Scheduler) PrintJSON(json *jwriter.ObjectState) {
	json.Name("FrameNumber").Int(int(s.frameNumber))
	json.Name("Status").String(s.status.String())
	json.Name("FrameFence").Int(int(s.frameFence.CompletedValue()))
	json.Name("FlushValue").Int(int(s.flushValue))

	slots := json.Name("Slots").Array()
	defer slots.End()

	for i := range s.slots {
		obj := slots.Object()
		obj.Name("FenceValue").Int(int(s.slots[i].fenceValue))
		obj.Name("UploadCount").Int(s.slots[i].uploads.Count())
		obj.Name("UploadBytes").Int(s.slots[i].uploads.Bytes())

		uploads := obj.Name("Uploads").Array()
		s.slots[i].uploads.PrintJSON(&uploads)
		uploads.End()

		obj.End()
	}
}

// Destroy releases the staging buffers and native objects of the ring. The GPU must be idle.
func (s *Scheduler) Destroy() {
	for i := range s.slots {
		s.slots[i].uploads.Clear(s.tracker)
		if s.slots[i].allocator != nil {
			s.slots[i].allocator.Destroy()
			s.slots[i].allocator = nil
		}
	}

	if s.list != nil {
		s.list.Destroy()
		s.list = nil
	}
	if s.frameFence != nil {
		s.frameFence.Destroy()
		s.frameFence = nil
	}
	if s.flushFence != nil {
		s.flushFence.Destroy()
		s.flushFence = nil
	}
}
