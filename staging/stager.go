// Package staging copies CPU data into device-local buffers through transient upload heap
// buffers. Each staging buffer is owned by the List of the frame slot that recorded it and is
// destroyed when that slot is next acquired.
package staging

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
	"golang.org/x/exp/slog"
)

// DefaultAlignment is the staging buffer size granularity used when Options.Alignment is zero
const DefaultAlignment = 256

type Options struct {
	// Alignment is the granularity staging buffer sizes are rounded up to. It must be a power
	// of two. Zero selects DefaultAlignment.
	Alignment int
	// MaxBytesPerSlot bounds the staging memory a single frame slot can hold. Zero means
	// unbounded.
	MaxBytesPerSlot int
}

type Stager struct {
	logger  *slog.Logger
	device  backend.Device
	tracker *state.Tracker

	alignment       int
	maxBytesPerSlot int
}

func NewStager(logger *slog.Logger, device backend.Device, tracker *state.Tracker, options Options) (*Stager, error) {
	alignment := options.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	if err := vidutils.CheckPow2(alignment, "staging alignment"); err != nil {
		return nil, err
	}
	if options.MaxBytesPerSlot < 0 {
		return nil, errors.Newf("invalid MaxBytesPerSlot %d", options.MaxBytesPerSlot)
	}

	return &Stager{
		logger:          logger,
		device:          device,
		tracker:         tracker,
		alignment:       alignment,
		maxBytesPerSlot: options.MaxBytesPerSlot,
	}, nil
}

func (s *Stager) Alignment() int { return s.alignment }

// StagingSize returns the size of the staging buffer an upload of payload bytes uses
func (s *Stager) StagingSize(payload int) int {
	return vidutils.AlignUp(payload, s.alignment)
}

// UploadBuffer records a copy of data into destination on list, leaving destination in the
// steady state once the copy has executed. The staging buffer is registered in uploads so it
// outlives the GPU's use of it.
//
// The staging buffer and destination are moved into copy states by one barrier batch, and back
// out of them by a second batch after the copy. An empty payload records nothing.
func (s *Stager) UploadBuffer(uploads *List, list backend.CommandList, data []byte, destination backend.Buffer, steady state.State) error {
	if len(data) == 0 {
		return nil
	}
	if destination.Size() < len(data) {
		return errors.Mark(errors.Newf("upload of %d bytes does not fit in buffer %d of %d bytes",
			len(data), destination.ResourceID(), destination.Size()), vidutils.ErrResourceCreation)
	}

	size := s.StagingSize(len(data))
	if s.maxBytesPerSlot > 0 && uploads.Bytes()+size > s.maxBytesPerSlot {
		return errors.Wrapf(vidutils.ErrCapacityExceeded, "staging limit reached: %d of %d bytes in use, %d requested",
			uploads.Bytes(), s.maxBytesPerSlot, size)
	}

	staging, res, err := s.device.CreateBuffer(size, backend.HeapTypeUpload)
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrResourceCreation, res, err, "failed to create %d byte staging buffer", size)
	}
	s.tracker.Register(staging, state.Common)
	uploads.Register(&Upload{buffer: staging, payload: len(data)})

	mapped, res, err := staging.Map()
	if err != nil {
		return vidutils.MarkResult(vidutils.ErrResourceCreation, res, err, "failed to map staging buffer")
	}
	copy(mapped, data)
	staging.Unmap()

	s.logger.Debug("Stager::UploadBuffer", "destination", destination.ResourceID(), "payload", len(data), "staging", size)

	prior, _ := s.tracker.Current(staging)
	s.tracker.RequireAll(list,
		state.Requirement{Resource: staging, State: state.CopySource},
		state.Requirement{Resource: destination, State: state.CopyDest},
	)
	list.CopyBufferRegion(destination, 0, staging, 0, len(data))
	s.tracker.RequireAll(list,
		state.Requirement{Resource: staging, State: prior},
		state.Requirement{Resource: destination, State: steady},
	)

	return nil
}
