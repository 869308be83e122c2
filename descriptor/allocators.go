package descriptor

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/viddriver/vidutils"
)

// DefaultCapacities are the heap sizes used for kinds that are not given an explicit capacity
var DefaultCapacities = [KindCount]int{
	KindBufferView:   65536,
	KindSampler:      1024,
	KindRenderTarget: 1024,
	KindDepthStencil: 1024,
}

// Allocators holds one Heap per descriptor kind
type Allocators struct {
	heaps [KindCount]*Heap
}

// Set installs the heap for its kind, replacing any previous heap
func (a *Allocators) Set(heap *Heap) {
	a.heaps[heap.Kind()] = heap
}

// ForKind returns the heap for kind, or nil if none was set
func (a *Allocators) ForKind(kind Kind) *Heap {
	return a.heaps[kind]
}

func (a *Allocators) AddStatistics(stats *vidutils.HeapStatistics) {
	for _, heap := range a.heaps {
		if heap != nil {
			heap.AddStatistics(stats)
		}
	}
}

func (a *Allocators) PrintJSON(json *jwriter.ObjectState) {
	arr := json.Name("Heaps").Array()
	defer arr.End()

	for _, heap := range a.heaps {
		if heap == nil {
			continue
		}
		obj := arr.Object()
		heap.PrintJSON(&obj)
		obj.End()
	}
}
