package vidutils

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// PowerOfTwoError is the error returned from CheckPow2 if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// The error kinds below classify every failure the driver can report. Failures returned from
// the driver are marked with exactly one of them (ErrDeviceLost may be added on top of
// ErrPresent or ErrSynchronization) and can be tested with errors.Is.
var (
	// ErrInitialization marks failures creating the device, queue, swapchain or any other
	// object during driver setup
	ErrInitialization = errors.New("initialization failure")
	// ErrCompilation marks shader compilation failures. The diagnostic text is carried by the
	// wrapped error.
	ErrCompilation = errors.New("shader compilation failure")
	// ErrResourceCreation marks failures creating buffers, views and pipeline objects
	ErrResourceCreation = errors.New("resource creation failure")
	// ErrCapacityExceeded marks descriptor heap or upload pool exhaustion. It is never
	// silently truncated.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrSynchronization marks failures waiting on or signaling a fence
	ErrSynchronization = errors.New("synchronization failure")
	// ErrPresent marks swapchain present failures, including device loss
	ErrPresent = errors.New("present failure")
	// ErrDeviceLost is added to any failure caused by device loss. The driver does not recover
	// from it: a new driver must be created.
	ErrDeviceLost = errors.New("device lost")
)

// MarkResult wraps err with the provided message and marks it with kind. If res indicates
// device loss, the result is marked with ErrDeviceLost as well. A nil err is replaced with the
// error form of res.
func MarkResult(kind error, res common.VkResult, err error, format string, args ...any) error {
	if err == nil {
		err = res.ToError()
	}
	if err == nil {
		err = errors.Newf("unexpected result %d", res)
	}

	marked := errors.Mark(errors.Wrapf(err, format, args...), kind)
	if res == core1_0.VKErrorDeviceLost {
		marked = errors.Mark(marked, ErrDeviceLost)
	}
	return marked
}

// Mark wraps err with the provided message and marks it with kind
func Mark(kind error, err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}
