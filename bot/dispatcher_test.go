package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDispatcherKeepsPerUserOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu      sync.Mutex
		seen    = map[string][]string{}
		running atomic.Int32
		peak    atomic.Int32
		done    sync.WaitGroup
	)
	const users, perUser = 4, 5
	done.Add(users * perUser)

	d := NewDispatcher(func(_ context.Context, in Inbound) error {
		defer done.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		seen[in.UserID] = append(seen[in.UserID], in.MessageID)
		mu.Unlock()
		return nil
	}, DispatcherConfig{Workers: 2, QueueSize: users * perUser}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- d.Run(ctx) }()

	for i := range perUser {
		for u := range users {
			require.NoError(t, d.Submit(Inbound{
				UserID:    fmt.Sprintf("user-%d", u),
				MessageID: fmt.Sprintf("m%d", i),
			}))
		}
	}
	done.Wait()
	cancel()
	require.NoError(t, <-stopped)

	for u := range users {
		assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, seen[fmt.Sprintf("user-%d", u)])
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(func(context.Context, Inbound) error { return nil }, DispatcherConfig{QueueSize: 1}, nil)
	require.NoError(t, d.Submit(Inbound{UserID: "a"}))
	assert.ErrorIs(t, d.Submit(Inbound{UserID: "a"}), ErrQueueFull)
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls sync.WaitGroup
	calls.Add(3)
	d := NewDispatcher(func(_ context.Context, in Inbound) error {
		defer calls.Done()
		switch in.MessageID {
		case "panic":
			panic("boom")
		case "fail":
			return errors.New("failed")
		}
		return nil
	}, DispatcherConfig{Workers: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- d.Run(ctx) }()

	for _, id := range []string{"panic", "fail", "ok"} {
		require.NoError(t, d.Submit(Inbound{UserID: "a", MessageID: id}))
	}
	calls.Wait()
	cancel()
	require.NoError(t, <-stopped)
}

func TestDispatcherHandlerOutlivesShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr atomic.Value
	d := NewDispatcher(func(ctx context.Context, _ Inbound) error {
		close(started)
		<-release
		handlerErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	}, DispatcherConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- d.Run(ctx) }()

	require.NoError(t, d.Submit(Inbound{UserID: "a"}))
	<-started
	cancel()
	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, "<nil>", handlerErr.Load())
}
