package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/state"
)

// Swapchain is a simulated flip-model swapchain. Back buffers are created in the Present state
// and rotate in order on every Present.
type Swapchain struct {
	device *Device
	queue  *Queue

	lock      sync.Mutex
	desc      backend.SwapchainDesc
	buffers   []*Texture
	current   int
	outOfDate bool
	presents  int
	destroyed bool
}

var _ backend.Swapchain = &Swapchain{}

func (s *Swapchain) createBuffers() {
	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	for _, buffer := range s.buffers {
		s.device.gpuStates.Delete(buffer.id)
	}

	s.buffers = make([]*Texture, s.desc.BufferCount)
	for i := range s.buffers {
		s.buffers[i] = &Texture{
			device: s.device,
			id:     s.device.newID(),
			width:  s.desc.Width,
			height: s.desc.Height,
			format: s.desc.Format,
		}
		s.device.gpuStates.Put(s.buffers[i].id, state.Present)
	}
	s.current = 0
}

func (s *Swapchain) BufferCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.buffers)
}

func (s *Swapchain) Buffer(index int) (backend.Texture, common.VkResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if index < 0 || index >= len(s.buffers) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("back buffer index %d out of range [0, %d)", index, len(s.buffers))
	}
	return s.buffers[index], core1_0.VKSuccess, nil
}

func (s *Swapchain) CurrentBackBufferIndex() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.current
}

// Width and Height report the current back buffer size
func (s *Swapchain) Width() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.desc.Width
}

func (s *Swapchain) Height() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.desc.Height
}

// Presents returns the number of successful Present calls
func (s *Swapchain) Presents() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.presents
}

// MarkOutOfDate simulates a surface change. Present fails with khr_swapchain.VKErrorOutOfDate
// until the swapchain is resized.
func (s *Swapchain) MarkOutOfDate() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.outOfDate = true
}

// Resize recreates the back buffers. The queue must be idle: nothing may still reference the
// old buffers on the GPU timeline. A rejected resize leaves the old buffers in place.
func (s *Swapchain) Resize(bufferCount, width, height int) (common.VkResult, error) {
	if !s.queue.Idle() {
		s.device.report("swapchain resized while %d submissions are pending", s.queue.Pending())
		return core1_0.VKErrorUnknown, errors.New("swapchain resized while the queue is busy")
	}
	if bufferCount < 2 {
		return core1_0.VKErrorUnknown, errors.Newf("swapchain requires at least 2 buffers, got %d", bufferCount)
	}
	if width <= 0 || height <= 0 {
		return core1_0.VKErrorUnknown, errors.Newf("invalid swapchain size %dx%d", width, height)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.desc.BufferCount = bufferCount
	s.desc.Width = width
	s.desc.Height = height
	s.outOfDate = false
	s.createBuffers()

	return core1_0.VKSuccess, nil
}

// Present queues the current back buffer for presentation and advances to the next one
func (s *Swapchain) Present(syncInterval int) (common.VkResult, error) {
	if s.device.IsLost() {
		return s.device.lostResult("present")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.destroyed {
		return core1_0.VKErrorUnknown, errors.New("present on destroyed swapchain")
	}
	if s.outOfDate {
		return khr_swapchain.VKErrorOutOfDate, khr_swapchain.VKErrorOutOfDate.ToError()
	}

	res, err := s.queue.submit(submission{present: s.buffers[s.current]})
	if err != nil {
		return res, err
	}

	s.current = (s.current + 1) % len(s.buffers)
	s.presents++
	return core1_0.VKSuccess, nil
}

func (s *Swapchain) Destroy() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true

	s.device.lock.Lock()
	defer s.device.lock.Unlock()

	for _, buffer := range s.buffers {
		s.device.gpuStates.Delete(buffer.id)
	}
}
