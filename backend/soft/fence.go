package soft

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
)

// Fence is a counter raised by Queue.Signal on the GPU timeline
type Fence struct {
	device *Device
	id     uint64

	lock  sync.Mutex
	value uint64
	// changed is closed and replaced every time value is raised
	changed chan struct{}
}

var _ backend.Fence = &Fence{}

func (f *Fence) CompletedValue() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.value
}

func (f *Fence) Wait(ctx context.Context, value uint64) (common.VkResult, error) {
	for {
		f.lock.Lock()
		current := f.value
		changed := f.changed
		f.lock.Unlock()

		if current >= value {
			return core1_0.VKSuccess, nil
		}

		select {
		case <-changed:
		case <-f.device.lost:
			return core1_0.VKErrorDeviceLost, errors.Newf("device lost waiting for fence %d to reach %d", f.id, value)
		case <-ctx.Done():
			return core1_0.VKTimeout, errors.Wrapf(ctx.Err(), "waiting for fence %d to reach %d", f.id, value)
		}
	}
}

func (f *Fence) signal(value uint64) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if value > f.value {
		f.value = value
	}
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Fence) Destroy() {}
