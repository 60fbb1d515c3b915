package http2

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"

	"github.com/perbu/h2prio/pkg/priority"
)

// outboundItem is the concrete priority.OutboundItem this package feeds the
// dependency forest: a pending DATA frame plus the FIFO sequence number that
// breaks ties between streams the forest considers equally eligible.
type outboundItem struct {
	streamID  uint32
	data      []byte
	endStream bool
	seq       int64
	queued    bool
}

func (i *outboundItem) Queued() bool     { return i.queued }
func (i *outboundItem) SetQueued(q bool) { i.queued = q }

// txHeap is a container/heap min-heap ordered by seq, giving streams that
// became TOP-eligible earlier first crack at the wire once it's their turn.
type txHeap []*outboundItem

func (h txHeap) Len() int            { return len(h) }
func (h txHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h txHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *txHeap) Push(x interface{}) { *h = append(*h, x.(*outboundItem)) }
func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// txQueue is the transmit queue the priority core pushes newly-TOP streams
// into. It implements priority.Queue (Push only, per that package's
// contract) and additionally offers Pop for drainTxLoop, the goroutine that
// actually writes DATA frames to the wire.
type txQueue struct {
	mu     sync.Mutex
	heap   txHeap
	seq    int64
	notify chan struct{}
}

func newTxQueue() *txQueue {
	return &txQueue{notify: make(chan struct{}, 1)}
}

// Push implements priority.Queue. It assigns the next FIFO sequence number,
// heap-pushes the item, and wakes drainTxLoop if it's waiting.
func (q *txQueue) Push(item priority.OutboundItem) error {
	oi, ok := item.(*outboundItem)
	if !ok {
		return errors.Errorf("txQueue: unexpected item type %T", item)
	}

	q.mu.Lock()
	oi.seq = q.seq
	q.seq++
	heap.Push(&q.heap, oi)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the lowest-seq item, or (nil, false) if empty.
func (q *txQueue) Pop() (*outboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*outboundItem), true
}
