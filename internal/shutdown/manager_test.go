package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDrainer struct {
	mu       sync.Mutex
	closed   bool
	drained  bool
	blockFor time.Duration
}

func (d *mockDrainer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *mockDrainer) Drain(ctx context.Context) error {
	select {
	case <-time.After(d.blockFor):
		d.mu.Lock()
		d.drained = true
		d.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestManager_NewManager(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())

	assert.Equal(t, StateRunning, m.GetState())
	assert.True(t, m.IsAccepting())

	status := m.GetStatus()
	assert.Nil(t, status.StartedAt)
	assert.Equal(t, "Server is running normally", status.Message)
}

func TestManager_NewManagerFixesDrainTimeout(t *testing.T) {
	m := NewManager(Config{Timeout: 9 * time.Second, DrainTimeout: time.Minute}, nil, zerolog.Nop())
	assert.Equal(t, 3*time.Second, m.config.DrainTimeout)
}

func TestManager_ShutdownSequence(t *testing.T) {
	drainer := &mockDrainer{}
	m := NewManager(DefaultConfig(), drainer, zerolog.Nop())

	var order []string
	m.OnStop("sweeper", func(context.Context) error {
		assert.True(t, drainer.drained, "hooks run after the drain")
		order = append(order, "sweeper")
		return nil
	})
	m.OnStop("hub", func(context.Context) error {
		order = append(order, "hub")
		return nil
	})
	m.OnStop("store", func(context.Context) error {
		order = append(order, "store")
		return nil
	})

	require.NoError(t, m.Shutdown(context.Background()))

	assert.True(t, drainer.closed)
	assert.False(t, m.IsAccepting())
	assert.Equal(t, []string{"sweeper", "hub", "store"}, order)
	assert.Equal(t, StateComplete, m.GetState())

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestManager_FailingHookDoesNotStopOthers(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	boom := errors.New("close failed")

	ran := false
	m.OnStop("broken", func(context.Context) error { return boom })
	m.OnStop("store", func(context.Context) error {
		ran = true
		return nil
	})

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestManager_DrainTimeout(t *testing.T) {
	drainer := &mockDrainer{blockFor: time.Hour}
	m := NewManager(Config{Timeout: time.Second, DrainTimeout: 50 * time.Millisecond}, drainer, zerolog.Nop())

	storeClosed := false
	m.OnStop("store", func(context.Context) error {
		storeClosed = true
		return nil
	})

	start := time.Now()
	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, storeClosed, "store is closed even when the drain times out")
}

func TestManager_ShutdownOnce(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())

	calls := 0
	m.OnStop("count", func(context.Context) error {
		calls++
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestManager_WaitForShutdown(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		m.WaitForShutdown()
		close(done)
	}()

	require.NoError(t, m.Shutdown(context.Background()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
}
