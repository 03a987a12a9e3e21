package looper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooper_RunsPostedWorkInOrder(t *testing.T) {
	l := New()
	var got []int

	for i := 0; i < 3; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Post(l.Quit)

	require.NoError(t, l.Loop(context.Background()))
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestLooper_IsCurrentThread(t *testing.T) {
	l := New()
	assert.False(t, l.IsCurrentThread())

	inside := make(chan bool, 1)
	l.Post(func() {
		inside <- l.IsCurrentThread()
		l.Quit()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Loop(context.Background())
	}()

	assert.True(t, <-inside)
	<-done
	assert.False(t, l.IsCurrentThread())
}

func TestLooper_PostAfterQuit(t *testing.T) {
	l := New()
	l.Quit()
	l.Quit()
	assert.False(t, l.Post(func() {}))
}

func TestLooper_ContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Loop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLooper_PostAfterCancelledLoop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Loop(ctx), context.Canceled)

	// nothing drains the queue any more; Post must refuse rather than block
	for i := 0; i < queueSize+1; i++ {
		require.False(t, l.Post(func() {}))
	}
}

func TestMainLooper(t *testing.T) {
	l := PrepareMainLooper()
	assert.Same(t, l, MainLooper())
	assert.False(t, OnMainThread())

	result := make(chan bool, 1)
	l.Post(func() {
		result <- OnMainThread()
		l.Quit()
	})
	require.NoError(t, l.Loop(context.Background()))
	assert.True(t, <-result)
}
