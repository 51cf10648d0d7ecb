package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionedPoolKeyAffinity(t *testing.T) {
	type item struct {
		key string
		seq int
	}
	var mu sync.Mutex
	processed := map[string][]int{}
	workersSeen := map[string]map[int]bool{}

	pool := newPartitionedPool("test", 4, 16, 0,
		func(worker int, it item) {
			mu.Lock()
			processed[it.key] = append(processed[it.key], it.seq)
			if workersSeen[it.key] == nil {
				workersSeen[it.key] = map[int]bool{}
			}
			workersSeen[it.key][worker] = true
			mu.Unlock()
		},
		nil,
	)

	const total = 200
	ctx := context.Background()
	for seq := 0; seq < total; seq++ {
		key := fmt.Sprintf("key-%d", seq%8)
		require.NoError(t, pool.dispatch(ctx, key, item{key: key, seq: seq}))
	}
	pool.close()

	got := 0
	for key, seqs := range processed {
		got += len(seqs)
		assert.True(t, sort.IntsAreSorted(seqs), "key %s processed out of dispatch order", key)
		assert.Len(t, workersSeen[key], 1, "key %s visited more than one worker", key)
	}
	assert.Equal(t, total, got)
}

func TestPartitionedPoolCancelledDispatch(t *testing.T) {
	release := make(chan struct{})
	pool := newPartitionedPool("test", 1, 1, 0,
		func(worker int, _ struct{}) { <-release },
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.dispatch(ctx, "k", struct{}{})) // worker picks this up and parks
	require.NoError(t, pool.dispatch(ctx, "k", struct{}{})) // fills the queue

	cancel()
	err := pool.dispatch(ctx, "k", struct{}{})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	pool.close()
}

func TestPartitionedPoolFinishRunsPerWorker(t *testing.T) {
	var mu sync.Mutex
	finished := map[int]int{}
	pool := newPartitionedPool("test", 3, 4, 0,
		func(worker int, _ int) {},
		func(worker int) {
			mu.Lock()
			finished[worker]++
			mu.Unlock()
		},
	)
	for i := 0; i < 12; i++ {
		require.NoError(t, pool.dispatch(context.Background(), fmt.Sprintf("k%d", i), i))
	}
	pool.close()

	require.Len(t, finished, 3)
	for worker, n := range finished {
		assert.Equal(t, 1, n, "worker %d finished more than once", worker)
	}
}
