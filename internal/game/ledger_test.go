package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootout/pkg/utils"
)

func newTestLedger(t *testing.T, shards int) *Ledger {
	t.Helper()
	l := NewLedger(shards, 16, time.Second, utils.NewNopLogger())
	t.Cleanup(l.Close)
	return l
}

func TestLedger_PreservesOrderPerPlayer(t *testing.T) {
	l := newTestLedger(t, 4)

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 50; i++ {
		i := i
		l.Submit("alice", "op", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	// Do встает в ту же очередь после всех Submit
	require.NoError(t, l.Do(context.Background(), "alice", "read", func(ctx context.Context) error {
		return nil
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLedger_DoReturnsTaskError(t *testing.T) {
	l := newTestLedger(t, 2)

	want := errors.New("db down")
	err := l.Do(context.Background(), "bob", "write", func(ctx context.Context) error {
		return want
	})
	assert.ErrorIs(t, err, want)
}

func TestLedger_TaskHasTimeout(t *testing.T) {
	l := NewLedger(1, 4, 20*time.Millisecond, utils.NewNopLogger())
	defer l.Close()

	err := l.Do(context.Background(), "bob", "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLedger_RecoversPanic(t *testing.T) {
	l := newTestLedger(t, 1)

	err := l.Do(context.Background(), "bob", "boom", func(ctx context.Context) error {
		panic("unexpected")
	})
	assert.Error(t, err)

	// воркер продолжает работу
	assert.NoError(t, l.Do(context.Background(), "bob", "after", func(ctx context.Context) error {
		return nil
	}))
}

// Do, чей вызывающий уже ушел по таймауту, не выполняет запись
func TestLedger_AbandonedDoIsSkipped(t *testing.T) {
	l := newTestLedger(t, 1)

	release := make(chan struct{})
	l.Submit("alice", "block", func(ctx context.Context) error {
		<-release
		return nil
	})

	var ran atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, "alice", "lobby_entry", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	// следующая операция той же очереди выполняется после пропущенной
	require.NoError(t, l.Do(context.Background(), "alice", "read", func(ctx context.Context) error {
		return nil
	}))
	assert.False(t, ran.Load(), "abandoned task must not write")
}

func TestLedger_DoContextFollowsCaller(t *testing.T) {
	l := newTestLedger(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		result <- l.Do(ctx, "bob", "slow", func(taskCtx context.Context) error {
			close(started)
			<-taskCtx.Done()
			return taskCtx.Err()
		})
	}()

	<-started
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled with the caller")
	}
}

func TestLedger_CloseDrainsAndRejects(t *testing.T) {
	l := NewLedger(2, 16, time.Second, utils.NewNopLogger())

	var (
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 10; i++ {
		l.Submit("p", "op", func(ctx context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}
	l.Close()

	mu.Lock()
	assert.Equal(t, 10, count)
	mu.Unlock()

	err := l.Do(context.Background(), "p", "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLedgerClosed)

	// повторный Close безопасен
	l.Close()
}
