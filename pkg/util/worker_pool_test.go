package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPoolRunsTasks(t *testing.T) {
	// Queue capacity exceeds the submission count so every non-blocking
	// Submit must be accepted regardless of worker scheduling.
	pool := NewWorkerPool(4, 32, testLogger())
	defer pool.Shutdown(time.Second)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
		require.True(t, ok)
	}
	wg.Wait()
	assert.EqualValues(t, 20, atomic.LoadInt64(&counter))

	submitted, completed, dropped, _ := pool.Stats()
	assert.EqualValues(t, 20, submitted)
	assert.EqualValues(t, 20, completed)
	assert.Zero(t, dropped)
}

func TestPoolDropsWhenSaturated(t *testing.T) {
	pool := NewWorkerPool(1, 1, testLogger())
	defer pool.Shutdown(time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	// Queue holds one more; everything past that is refused.
	require.True(t, pool.Submit(func() {}))
	dropped := false
	for i := 0; i < 10; i++ {
		if !pool.Submit(func() {}) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
	close(block)
}

func TestPoolSurvivesPanic(t *testing.T) {
	pool := NewWorkerPool(1, 4, testLogger())
	defer pool.Shutdown(time.Second)

	require.True(t, pool.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.True(t, pool.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panicking task")
	}
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, 4, testLogger())
	pool.Shutdown(time.Second)

	// The empty queue stays ready to receive after shutdown, so a single
	// accept would mean the stop check lost to the send. Every attempt
	// must be refused.
	for i := 0; i < 50; i++ {
		assert.False(t, pool.Submit(func() {}))
	}
	_, _, _, queued := pool.Stats()
	assert.Zero(t, queued, "no task may be queued after shutdown")
}

func TestPoolRejectsNilTask(t *testing.T) {
	pool := NewWorkerPool(1, 4, testLogger())
	defer pool.Shutdown(time.Second)
	assert.False(t, pool.Submit(nil))
}
