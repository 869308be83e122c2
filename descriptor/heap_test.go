package descriptor_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/viddriver/descriptor"
	"github.com/vkngwrapper/viddriver/vidutils"
)

func TestHeapAllocateUnique(t *testing.T) {
	heap := descriptor.NewHeap(descriptor.KindBufferView, 64, descriptor.CPUHandle{Ptr: 0x1000}, 32)

	seen := make(map[int]struct{})
	for i := 0; i < 64; i++ {
		handle, index, err := heap.Allocate()
		require.NoError(t, err)
		require.Equal(t, uint64(0x1000+32*index), handle.Ptr)

		_, dup := seen[index]
		require.False(t, dup, "index %d handed out twice", index)
		seen[index] = struct{}{}
	}

	require.Equal(t, 64, heap.LiveCount())
	require.True(t, heap.IsExhausted())
}

func TestHeapCapacityExceeded(t *testing.T) {
	heap := descriptor.NewHeap(descriptor.KindRenderTarget, 3, descriptor.CPUHandle{}, 32)

	for i := 0; i < 3; i++ {
		_, _, err := heap.Allocate()
		require.NoError(t, err)
	}

	_, index, err := heap.Allocate()
	require.ErrorIs(t, err, vidutils.ErrCapacityExceeded)
	require.Equal(t, -1, index)
	require.Contains(t, err.Error(), "RenderTarget")
	require.Equal(t, 3, heap.LiveCount())
}

func TestHeapReclaimLIFO(t *testing.T) {
	heap := descriptor.NewHeap(descriptor.KindSampler, 8, descriptor.CPUHandle{}, 16)

	for i := 0; i < 5; i++ {
		_, index, err := heap.Allocate()
		require.NoError(t, err)
		require.Equal(t, i, index)
	}

	heap.Release(1)
	heap.Release(3)
	require.Equal(t, 3, heap.LiveCount())

	_, index, err := heap.Allocate()
	require.NoError(t, err)
	require.Equal(t, 3, index)

	_, index, err = heap.Allocate()
	require.NoError(t, err)
	require.Equal(t, 1, index)

	// Reclaim stack is empty, back to the bump cursor
	_, index, err = heap.Allocate()
	require.NoError(t, err)
	require.Equal(t, 5, index)
}

func TestHeapReleaseAfterExhaustion(t *testing.T) {
	heap := descriptor.NewHeap(descriptor.KindBufferView, 2, descriptor.CPUHandle{}, 32)

	_, first, err := heap.Allocate()
	require.NoError(t, err)
	_, _, err = heap.Allocate()
	require.NoError(t, err)
	_, _, err = heap.Allocate()
	require.ErrorIs(t, err, vidutils.ErrCapacityExceeded)

	heap.Release(first)
	require.False(t, heap.IsExhausted())

	_, index, err := heap.Allocate()
	require.NoError(t, err)
	require.Equal(t, first, index)
}

func TestHeapValidate(t *testing.T) {
	heap := descriptor.NewHeap(descriptor.KindBufferView, 4, descriptor.CPUHandle{}, 32)
	_, _, err := heap.Allocate()
	require.NoError(t, err)
	_, _, err = heap.Allocate()
	require.NoError(t, err)
	require.NoError(t, heap.Validate())

	if vidutils.DebugEnabled {
		heap.Release(0)
		require.Panics(t, func() { heap.Release(0) })
		return
	}

	heap.Release(0)
	heap.Release(0)
	require.ErrorContains(t, heap.Validate(), "released twice")
}

func TestAllocatorsStatistics(t *testing.T) {
	var allocators descriptor.Allocators
	allocators.Set(descriptor.NewHeap(descriptor.KindBufferView, 16, descriptor.CPUHandle{}, 32))
	allocators.Set(descriptor.NewHeap(descriptor.KindRenderTarget, 4, descriptor.CPUHandle{Ptr: 1 << 32}, 32))

	rtv := allocators.ForKind(descriptor.KindRenderTarget)
	for i := 0; i < 3; i++ {
		_, _, err := rtv.Allocate()
		require.NoError(t, err)
	}
	rtv.Release(2)

	require.Nil(t, allocators.ForKind(descriptor.KindSampler))

	var stats vidutils.HeapStatistics
	allocators.AddStatistics(&stats)
	require.Equal(t, vidutils.HeapStatistics{
		HeapCount: 2,
		Capacity:  20,
		HighWater: 3,
		Reclaimed: 1,
		Live:      2,
	}, stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	allocators.PrintJSON(&obj)
	obj.End()
	require.JSONEq(t, `{"Heaps":[
		{"Kind":"BufferView","Capacity":16,"HighWater":0,"Reclaimed":0,"Live":0},
		{"Kind":"RenderTarget","Capacity":4,"HighWater":3,"Reclaimed":1,"Live":2}
	]}`, string(writer.Bytes()))
}

func TestDefaultCapacities(t *testing.T) {
	require.Equal(t, 65536, descriptor.DefaultCapacities[descriptor.KindBufferView])
	require.Equal(t, 1024, descriptor.DefaultCapacities[descriptor.KindSampler])
	require.Equal(t, 1024, descriptor.DefaultCapacities[descriptor.KindRenderTarget])
	require.Equal(t, 1024, descriptor.DefaultCapacities[descriptor.KindDepthStencil])
}
