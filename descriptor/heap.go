package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/viddriver/vidutils"
)

// Heap hands out indices into a fixed-capacity descriptor heap. Fresh indices come from a bump
// cursor; released indices are pushed onto a reclaim stack and handed out again in LIFO order.
// The heap is never defragmented.
//
// Heap is not synchronized.
type Heap struct {
	kind      Kind
	capacity  int
	base      CPUHandle
	increment uint

	cursor  int
	reclaim []int
}

// NewHeap creates a Heap for capacity descriptors of the provided kind. base is the handle of
// the first descriptor and increment the distance in bytes between two descriptors.
func NewHeap(kind Kind, capacity int, base CPUHandle, increment uint) *Heap {
	return &Heap{
		kind:      kind,
		capacity:  capacity,
		base:      base,
		increment: increment,
		reclaim:   make([]int, 0, capacity),
	}
}

func (h *Heap) Kind() Kind        { return h.kind }
func (h *Heap) Capacity() int     { return h.capacity }
func (h *Heap) Increment() uint   { return h.increment }
func (h *Heap) Base() CPUHandle   { return h.base }
func (h *Heap) LiveCount() int    { return h.cursor - len(h.reclaim) }
func (h *Heap) IsExhausted() bool { return h.cursor == h.capacity && len(h.reclaim) == 0 }

// Handle returns the CPU handle for the descriptor at index
func (h *Heap) Handle(index int) CPUHandle {
	return h.base.Offset(index, h.increment)
}

// Allocate returns the handle and index of a descriptor that is not held by any other live
// allocation. It fails with vidutils.ErrCapacityExceeded when every index is live.
func (h *Heap) Allocate() (CPUHandle, int, error) {
	if h.IsExhausted() {
		return CPUHandle{}, -1, errors.Wrapf(vidutils.ErrCapacityExceeded,
			"descriptor heap %s limit reached: %d", h.kind, h.capacity)
	}

	var index int
	if len(h.reclaim) == 0 {
		index = h.cursor
		h.cursor++
	} else {
		last := len(h.reclaim) - 1
		index = h.reclaim[last]
		h.reclaim = h.reclaim[:last]
	}

	return h.Handle(index), index, nil
}

// Release returns index to the heap. Each live index must be released at most once: double
// release is not detected outside of debug builds and would allow two allocations to share an
// index.
func (h *Heap) Release(index int) {
	h.reclaim = append(h.reclaim, index)
	vidutils.DebugValidate(h)
}

// Validate checks that every reclaimed index was handed out by the cursor and that no index was
// released twice
func (h *Heap) Validate() error {
	if h.cursor > h.capacity {
		return errors.Errorf("descriptor heap %s cursor (%d) is past its capacity (%d)", h.kind, h.cursor, h.capacity)
	}

	seen := make(map[int]struct{}, len(h.reclaim))
	for _, index := range h.reclaim {
		if index < 0 || index >= h.cursor {
			return errors.Errorf("descriptor heap %s reclaimed index %d was never allocated", h.kind, index)
		}
		if _, ok := seen[index]; ok {
			return errors.Errorf("descriptor heap %s index %d was released twice", h.kind, index)
		}
		seen[index] = struct{}{}
	}

	return nil
}

func (h *Heap) AddStatistics(stats *vidutils.HeapStatistics) {
	stats.HeapCount++
	stats.Capacity += h.capacity
	stats.HighWater += h.cursor
	stats.Reclaimed += len(h.reclaim)
	stats.Live += h.LiveCount()
}

// PrintJSON populates a json object with information about this heap
func (h *Heap) PrintJSON(json *jwriter.ObjectState) {
	json.Name("Kind").String(h.kind.String())
	json.Name("Capacity").Int(h.capacity)
	json.Name("HighWater").Int(h.cursor)
	json.Name("Reclaimed").Int(len(h.reclaim))
	json.Name("Live").Int(h.LiveCount())
}
