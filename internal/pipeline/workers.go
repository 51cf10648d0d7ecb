package pipeline

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/yourusername/line-drive/internal/metrics"
)

// partitionedPool fans work across a fixed set of workers by key hash, so
// every item sharing a key lands on the same worker in dispatch order. The
// queues are bounded; a full queue blocks the producer rather than dropping.
type partitionedPool[T any] struct {
	zone      string
	queues    []chan T
	capacity  int
	watermark float64
	wg        sync.WaitGroup
}

// newPartitionedPool starts the workers. handle runs for every item on its
// owning worker; finish runs once per worker after its queue drains, on the
// same goroutine.
func newPartitionedPool[T any](zone string, workers, capacity int, watermark float64,
	handle func(worker int, item T), finish func(worker int)) *partitionedPool[T] {

	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	p := &partitionedPool[T]{
		zone:      zone,
		queues:    make([]chan T, workers),
		capacity:  capacity,
		watermark: watermark,
	}
	for i := range p.queues {
		p.queues[i] = make(chan T, capacity)
		p.wg.Add(1)
		go func(w int) {
			defer p.wg.Done()
			for item := range p.queues[w] {
				handle(w, item)
			}
			if finish != nil {
				finish(w)
			}
		}(i)
	}
	return p
}

// dispatch routes one item by key. It blocks while the owning queue is full
// and fails only when the context ends first.
func (p *partitionedPool[T]) dispatch(ctx context.Context, key string, item T) error {
	h := fnv.New64a()
	h.Write([]byte(key))
	q := p.queues[h.Sum64()%uint64(len(p.queues))]

	if p.watermark > 0 {
		depth := p.depth()
		metrics.UpdateQueueDepth(p.zone, depth)
		metrics.UpdateBackpressure(p.zone, float64(depth) >= p.watermark*float64(p.capacity*len(p.queues)))
	}

	select {
	case q <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// depth is the total number of queued items across workers
func (p *partitionedPool[T]) depth() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}

// close stops intake and waits for every worker to drain and finish
func (p *partitionedPool[T]) close() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	metrics.UpdateQueueDepth(p.zone, 0)
	metrics.UpdateBackpressure(p.zone, false)
}
