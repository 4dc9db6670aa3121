package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsTasksInPostOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromInsideTask(t *testing.T) {
	l := startLoop(t)

	done := make(chan struct{})
	require.NoError(t, l.Post(func() {
		_ = l.Post(func() { close(done) })
	}))

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("nested task did not run")
	}
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	l := startLoop(t)

	require.NoError(t, l.Post(func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopStopRejectsWork(t *testing.T) {
	l := startLoop(t)
	l.Stop()
	l.Stop()

	assert.ErrorIs(t, l.Post(func() {}), ErrLoopStopped)
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrLoopStopped)
}

func TestLoopDoHonoursContext(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Do(ctx, func() {}), context.Canceled)
}

func TestLoopAfterFuncRunsOnLoop(t *testing.T) {
	l := startLoop(t)
	clk := clock.NewMock()

	var fired atomic.Bool
	l.AfterFunc(clk, time.Second, func() { fired.Store(true) })

	clk.Add(999 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, fired.Load())

	clk.Add(time.Millisecond)
	assert.Eventually(t, fired.Load, waitFor, tick)
}

func TestLoopAfterFuncStopped(t *testing.T) {
	l := startLoop(t)
	clk := clock.NewMock()

	var fired atomic.Bool
	timer := l.AfterFunc(clk, time.Second, func() { fired.Store(true) })
	timer.Stop()

	clk.Add(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, fired.Load())
}
