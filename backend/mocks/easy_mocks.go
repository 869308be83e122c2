package mocks

import (
	"context"
	"sync"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
)

// EasyMockFence returns a MockFence whose completed value is driven by the returned
// FenceCounter. Wait succeeds immediately once the counter reaches the requested value and
// otherwise blocks until it does or the context is done.
func EasyMockFence(ctrl *gomock.Controller) (*MockFence, *FenceCounter) {
	fence := NewMockFence(ctrl)
	counter := &FenceCounter{}
	counter.cond = sync.NewCond(&counter.lock)

	fence.EXPECT().CompletedValue().AnyTimes().DoAndReturn(counter.Value)
	fence.EXPECT().Wait(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(
		func(ctx context.Context, value uint64) (common.VkResult, error) {
			return counter.wait(ctx, value)
		})
	fence.EXPECT().Destroy().AnyTimes()

	return fence, counter
}

// FenceCounter is the completed value behind an EasyMockFence
type FenceCounter struct {
	lock  sync.Mutex
	cond  *sync.Cond
	value uint64
	waits []uint64
}

func (c *FenceCounter) Value() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.value
}

// Complete raises the completed value to value and wakes waiters
func (c *FenceCounter) Complete(value uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if value > c.value {
		c.value = value
	}
	c.cond.Broadcast()
}

// Waits returns every value a caller has waited for, in order
func (c *FenceCounter) Waits() []uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]uint64(nil), c.waits...)
}

func (c *FenceCounter) wait(ctx context.Context, value uint64) (common.VkResult, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.waits = append(c.waits, value)

	stop := context.AfterFunc(ctx, func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	for c.value < value {
		if ctx.Err() != nil {
			return core1_0.VKTimeout, ctx.Err()
		}
		c.cond.Wait()
	}

	return core1_0.VKSuccess, nil
}
