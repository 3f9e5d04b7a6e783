/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package runqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunQueue_SerialExecution(t *testing.T) {
	q := New("test")

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		i := i
		wg.Add(1)
		q.Run(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Equal(t, 64, len(order))
	for i := 0; i < 64; i++ {
		require.Equal(t, i, order[i])
	}
}

func TestRunQueue_Stop(t *testing.T) {
	q := New("test")

	var count int32
	for i := 0; i < 8; i++ {
		q.Run(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
		})
	}
	doneCh := make(chan struct{})
	q.Stop(func() { close(doneCh) })

	select {
	case <-doneCh:
		break
	case <-time.After(time.Second):
		require.Fail(t, "run queue stop timeout")
	}
	require.Equal(t, int32(8), atomic.LoadInt32(&count))

	// operations pushed after stopping are discarded
	q.Run(func() { atomic.AddInt32(&count, 1) })
	time.Sleep(time.Millisecond * 50)
	require.Equal(t, int32(8), atomic.LoadInt32(&count))
}
