package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRunsRepeatedly(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s.Every(ctx, "tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}

func TestEverySkipsWhileRunning(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var concurrent, peak atomic.Int32
	block := make(chan struct{})
	s.Every(ctx, "slow", 10*time.Millisecond, func(ctx context.Context) error {
		cur := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-block
		return nil
	})

	// Several ticks elapse while the first run blocks.
	time.Sleep(100 * time.Millisecond)
	close(block)
	cancel()
	s.Wait()

	assert.Equal(t, int32(1), peak.Load(), "overlapping runs of the same job")
}
