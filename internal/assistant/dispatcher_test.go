package assistant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-assistant/internal/requestid"
)

func startDispatcher(t *testing.T, queueSize int, onFailure FailureFunc) *Dispatcher {
	t.Helper()
	d := NewDispatcher(queueSize, onFailure, nil, zerolog.Nop())
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcher_SerialPerConversation(t *testing.T) {
	d := startDispatcher(t, 100, nil)

	var mu sync.Mutex
	var order []int
	var running, overlap int32
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, d.Submit(context.Background(), "conv-a", "message", func(context.Context) error {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	d.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_ConversationsRunConcurrently(t *testing.T) {
	d := startDispatcher(t, 10, nil)

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, cid := range []string{"conv-a", "conv-b"} {
		cid := cid
		require.NoError(t, d.Submit(context.Background(), cid, "message", func(context.Context) error {
			started <- cid
			<-release
			return nil
		}))
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case cid := <-started:
			got[cid] = true
		case <-time.After(2 * time.Second):
			t.Fatal("conversations did not run concurrently")
		}
	}
	close(release)
	d.Wait()
	assert.Len(t, got, 2)
}

func TestDispatcher_ReportsErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	failures := map[string]error{}
	d := startDispatcher(t, 10, func(_ context.Context, cid string, err error) {
		mu.Lock()
		failures[cid] = err
		mu.Unlock()
	})

	boom := errors.New("boom")
	require.NoError(t, d.Submit(context.Background(), "conv-err", "message", func(context.Context) error { return boom }))
	require.NoError(t, d.Submit(context.Background(), "conv-panic", "file", func(context.Context) error { panic("kaboom") }))
	ran := false
	require.NoError(t, d.Submit(context.Background(), "conv-panic", "message", func(context.Context) error { ran = true; return nil }))
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, failures["conv-err"], boom)
	require.Error(t, failures["conv-panic"])
	assert.Contains(t, failures["conv-panic"].Error(), "kaboom")
	assert.True(t, ran, "a panic does not stop the conversation's lane")
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := startDispatcher(t, 1, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), "conv-a", "message", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, d.Submit(context.Background(), "conv-a", "message", func(context.Context) error { return nil }))
	assert.ErrorIs(t, d.Submit(context.Background(), "conv-a", "message", func(context.Context) error { return nil }), ErrQueueFull)

	close(release)
	d.Wait()
}

func TestDispatcher_Stopped(t *testing.T) {
	d := NewDispatcher(1, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, d.Submit(context.Background(), "c", "message", func(context.Context) error { return nil }), ErrStopped)

	d.Start(context.Background())
	d.Stop()
	assert.ErrorIs(t, d.Submit(context.Background(), "c", "message", func(context.Context) error { return nil }), ErrStopped)
}

func TestDispatcher_CarriesRequestID(t *testing.T) {
	d := startDispatcher(t, 4, nil)

	var got string
	ctx := requestid.WithRequestID(context.Background(), "req-42")
	require.NoError(t, d.Submit(ctx, "conv-a", "message", func(ctx context.Context) error {
		got = requestid.FromContext(ctx)
		return nil
	}))
	d.Wait()
	assert.Equal(t, "req-42", got)
}
