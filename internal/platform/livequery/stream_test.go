package livequery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan Snapshot[T]) (Snapshot[T], bool) {
	t.Helper()
	select {
	case snap, ok := <-ch:
		return snap, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot[T]{}, false
	}
}

func TestStreamStartsLoadingThenDelivers(t *testing.T) {
	release := make(chan struct{})
	stream := Start(context.Background(), func(ctx context.Context, emit func([]string)) error {
		<-release
		emit([]string{"a"})
		<-ctx.Done()
		return nil
	})
	defer stream.Stop()

	first, ok := receive(t, stream.Updates())
	require.True(t, ok)
	require.True(t, first.Loading)
	require.Nil(t, first.Data)

	close(release)
	next, ok := receive(t, stream.Updates())
	require.True(t, ok)
	require.False(t, next.Loading)
	require.Equal(t, []string{"a"}, next.Data)
}

func TestStreamKeepsOnlyLatestForSlowConsumer(t *testing.T) {
	emitted := make(chan struct{})
	stream := Start(context.Background(), func(ctx context.Context, emit func(int)) error {
		for i := 1; i <= 5; i++ {
			emit(i)
		}
		close(emitted)
		<-ctx.Done()
		return nil
	})
	defer stream.Stop()

	<-emitted
	snap, ok := receive(t, stream.Updates())
	require.True(t, ok)
	require.Equal(t, 5, snap.Data)
}

func TestStreamReportsSourceError(t *testing.T) {
	boom := errors.New("listen failed")
	stream := Start(context.Background(), func(ctx context.Context, emit func(int)) error {
		return boom
	})

	<-stream.Done()
	snap, ok := receive(t, stream.Updates())
	require.True(t, ok)
	require.ErrorIs(t, snap.Err, boom)

	_, ok = receive(t, stream.Updates())
	require.False(t, ok, "channel should be closed after the error snapshot")
}

func TestStopTearsDownSource(t *testing.T) {
	stopped := make(chan struct{})
	stream := Start(context.Background(), func(ctx context.Context, emit func(int)) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})

	stream.Stop()
	stream.Stop()

	select {
	case <-stopped:
	default:
		t.Fatal("source still running after Stop")
	}

	for snap := range stream.Updates() {
		require.NoError(t, snap.Err, "cancellation must not surface as an error")
	}
}

func TestParentCancellationEndsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := Start(ctx, func(ctx context.Context, emit func(int)) error {
		<-ctx.Done()
		return nil
	})
	cancel()

	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end with its parent context")
	}
}
