package estimator

import (
	"container/heap"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

type heapItem struct {
	s   imu.Sample
	seq uint64
}

type sampleHeap []heapItem

func (h sampleHeap) Len() int { return len(h) }
func (h sampleHeap) Less(i, j int) bool {
	if h[i].s.Timestamp != h[j].s.Timestamp {
		return h[i].s.Timestamp < h[j].s.Timestamp
	}
	return h[i].seq < h[j].seq
}
func (h sampleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sampleHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *sampleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = heapItem{}
	*h = old[:n-1]
	return it
}

// reorderBuffer restores timestamp order across sensor types. A sample is
// held until the newest timestamp seen is at least window past it; samples
// older than one already released are stale.
type reorderBuffer struct {
	h        sampleHeap
	window   int64
	newest   int64
	released int64
	seq      uint64
}

func newReorderBuffer(windowNs int64) *reorderBuffer {
	return &reorderBuffer{window: windowNs}
}

// push adds s. It returns false if s is stale.
func (b *reorderBuffer) push(s imu.Sample) bool {
	if s.Timestamp < b.released {
		return false
	}
	b.seq++
	heap.Push(&b.h, heapItem{s: s, seq: b.seq})
	if s.Timestamp > b.newest {
		b.newest = s.Timestamp
	}
	return true
}

// ready pops the samples that are outside the reorder window, in order.
func (b *reorderBuffer) ready() []imu.Sample {
	var out []imu.Sample
	for b.h.Len() > 0 && b.h[0].s.Timestamp <= b.newest-b.window {
		out = append(out, b.pop())
	}
	return out
}

// drain pops everything, in order.
func (b *reorderBuffer) drain() []imu.Sample {
	out := make([]imu.Sample, 0, b.h.Len())
	for b.h.Len() > 0 {
		out = append(out, b.pop())
	}
	return out
}

func (b *reorderBuffer) pop() imu.Sample {
	it := heap.Pop(&b.h).(heapItem)
	b.released = it.s.Timestamp
	return it.s
}

func (b *reorderBuffer) len() int { return b.h.Len() }
