package fetchkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue()
	var ran []int
	for i := range 5 {
		q.Dispatch(func() { ran = append(ran, i) })
	}
	assert.Equal(t, 5, q.Drain())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ran)
	assert.Equal(t, 0, q.Drain())
}

func TestQueueDrainRunsNestedDispatch(t *testing.T) {
	q := NewQueue()
	var ran []string
	q.Dispatch(func() {
		ran = append(ran, "outer")
		q.Dispatch(func() { ran = append(ran, "inner") })
	})
	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, []string{"outer", "inner"}, ran)
}

func TestQueueRun(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		q.Run(ctx)
	}()

	done := make(chan struct{})
	q.Dispatch(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out")
	}

	cancel()
	<-stopped
}

func TestSerialQueueCloseRunsPending(t *testing.T) {
	s := NewSerialQueue()
	results := make(chan int, 100)
	for i := range 100 {
		s.Dispatch(func() { results <- i })
	}
	s.Close()
	close(results)

	next := 0
	for i := range results {
		assert.Equal(t, next, i)
		next++
	}
	assert.Equal(t, 100, next)
}
