package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id, Type: "noop"}))
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Len(t, seen, 3)
}

func TestQueueRetriesFailures(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "r1"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueRecoversPanics(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("panic", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("bad payload")
		}
		close(done)
		return nil
	}, QueueConfig{RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "p1"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking job was not retried")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "x"})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestMuxDispatch(t *testing.T) {
	mux := NewMux()
	var got string
	mux.Handle("grades_finalized", func(ctx context.Context, job Job) error {
		got = job.ID
		return nil
	})

	require.NoError(t, mux.Dispatch(context.Background(), Job{ID: "j1", Type: "grades_finalized"}))
	assert.Equal(t, "j1", got)
	assert.Error(t, mux.Dispatch(context.Background(), Job{ID: "j2", Type: "unknown"}))
}
