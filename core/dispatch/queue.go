package dispatch

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type inbound struct {
	topic   string
	payload []byte
}

// shardedQueue fans messages out to a fixed set of workers. Messages with
// the same key always land on the same worker, so each drone's reports are
// handled in arrival order while different drones proceed in parallel.
type shardedQueue struct {
	shards []chan inbound
	handle func(context.Context, inbound)
	wg     sync.WaitGroup
}

func newShardedQueue(workers, size int, handle func(context.Context, inbound)) *shardedQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	q := &shardedQueue{shards: make([]chan inbound, workers), handle: handle}
	for i := range q.shards {
		q.shards[i] = make(chan inbound, size)
	}
	return q
}

func (q *shardedQueue) start(ctx context.Context) {
	for _, ch := range q.shards {
		q.wg.Add(1)
		go func(ch chan inbound) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-ch:
					q.handle(ctx, msg)
				}
			}
		}(ch)
	}
}

func (q *shardedQueue) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(q.shards)))
}

// enqueue blocks while the target shard is full, which pushes back on the
// transport. It gives up once ctx is done.
func (q *shardedQueue) enqueue(ctx context.Context, key string, msg inbound) bool {
	select {
	case q.shards[q.shard(key)] <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// wait blocks until every worker has returned.
func (q *shardedQueue) wait() { q.wg.Wait() }
