package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/backend"
)

type submission struct {
	lists []*CommandList
	// batches holds the commands of each list as they were when the list was executed, so
	// the list can be reset and re-recorded before the worker reaches this submission
	batches [][]command

	fence *Fence
	value uint64

	present *Texture
}

// Queue executes submissions in order on a worker goroutine
type Queue struct {
	device *Device

	lock      sync.Mutex
	cond      *sync.Cond
	pending   []submission
	executing bool
	paused    bool
	closed    bool
	done      chan struct{}
}

var _ backend.Queue = &Queue{}

func newQueue(device *Device) *Queue {
	queue := &Queue{
		device: device,
		done:   make(chan struct{}),
	}
	queue.cond = sync.NewCond(&queue.lock)

	go queue.run()
	return queue
}

// Pause stops the worker from starting new submissions until Resume is called. Work that is
// already executing finishes.
func (q *Queue) Pause() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.paused = true
}

func (q *Queue) Resume() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.paused = false
	q.cond.Broadcast()
}

// Idle returns true if nothing is queued or executing
func (q *Queue) Idle() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.pending) == 0 && !q.executing
}

// Pending returns the number of submissions that have not started executing
func (q *Queue) Pending() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.pending)
}

// Execute queues closed command lists for execution
func (q *Queue) Execute(lists ...backend.CommandList) (common.VkResult, error) {
	if q.device.IsLost() {
		return q.device.lostResult("execute")
	}

	softLists := make([]*CommandList, 0, len(lists))
	for _, list := range lists {
		softList, ok := list.(*CommandList)
		if !ok {
			return core1_0.VKErrorUnknown, errors.Newf("command list %T was not created by a soft device", list)
		}
		if softList.open {
			q.device.report("execute of open command list %d", softList.id)
			return core1_0.VKErrorUnknown, errors.Newf("command list %d has not been closed", softList.id)
		}
		softLists = append(softLists, softList)
	}

	batches := make([][]command, 0, len(softLists))
	for _, list := range softLists {
		list.allocator.inFlight.Add(1)
		batches = append(batches, append([]command(nil), list.commands...))
	}

	res, err := q.submit(submission{lists: softLists, batches: batches})
	if err != nil {
		for _, list := range softLists {
			list.allocator.inFlight.Add(-1)
		}
	}
	return res, err
}

// Signal queues a fence update behind all previously submitted work
func (q *Queue) Signal(fence backend.Fence, value uint64) (common.VkResult, error) {
	if q.device.IsLost() {
		return q.device.lostResult("signal")
	}

	softFence, ok := fence.(*Fence)
	if !ok {
		return core1_0.VKErrorUnknown, errors.Newf("fence %T was not created by a soft device", fence)
	}

	return q.submit(submission{fence: softFence, value: value})
}

func (q *Queue) submit(sub submission) (common.VkResult, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return core1_0.VKErrorUnknown, errors.New("queue has been destroyed")
	}

	q.pending = append(q.pending, sub)
	q.cond.Broadcast()
	return core1_0.VKSuccess, nil
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.lock.Lock()
		for !q.closed && (q.paused || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.lock.Unlock()
			return
		}

		sub := q.pending[0]
		q.pending[0] = submission{}
		q.pending = q.pending[1:]
		// Fence signals do not count as executing work
		q.executing = sub.fence == nil
		q.lock.Unlock()

		q.device.execute(sub)

		q.lock.Lock()
		q.executing = false
		q.cond.Broadcast()
		q.lock.Unlock()
	}
}

// Destroy stops the worker. Submissions that have not started are discarded.
func (q *Queue) Destroy() {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.lock.Unlock()

	<-q.done
}

func (d *Device) execute(sub submission) {
	defer func() {
		for _, list := range sub.lists {
			list.allocator.inFlight.Add(-1)
		}
	}()

	if d.IsLost() {
		return
	}

	if sub.fence != nil {
		sub.fence.signal(sub.value)
		return
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if sub.present != nil {
		d.checkPresentableLocked(sub.present)
		d.stats.Presents++
		return
	}

	d.stats.Submissions++
	for _, batch := range sub.batches {
		d.stats.CommandLists++
		for _, cmd := range batch {
			cmd(d)
		}
	}
}
