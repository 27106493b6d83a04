package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/hub"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fakePublisher) get(i int) published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[i]
}

func startRelay(t *testing.T, h *hub.Hub, pub Publisher) (*Relay, context.CancelFunc) {
	t.Helper()
	r := New(h, pub, "aktibguard.telemetry", zerolog.Nop())
	r.resubscribeDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, cancel
}

func TestRelay_ForwardsEvents(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), zerolog.Nop())
	pub := &fakePublisher{}
	startRelay(t, h, pub)

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate, AgentID: "a1", ThreatsCount: 2})
	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventAgentOffline, AgentID: "a1"})

	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	first := pub.get(0)
	assert.Equal(t, "aktibguard.telemetry.telemetry_update", first.subject)
	var ev pkgmodels.UpdateEvent
	require.NoError(t, json.Unmarshal(first.data, &ev))
	assert.Equal(t, "a1", ev.AgentID)
	assert.Equal(t, 2, ev.ThreatsCount)

	assert.Equal(t, "aktibguard.telemetry.agent_offline", pub.get(1).subject)
}

func TestRelay_PublishErrorDoesNotStop(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), zerolog.Nop())
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	startRelay(t, h, pub)

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate})

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	require.Eventually(t, func() bool {
		h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate})
		return pub.count() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestRelay_ResubscribesAfterDrop(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), zerolog.Nop())
	pub := &fakePublisher{}
	startRelay(t, h, pub)

	// Simulate the hub dropping every subscriber.
	h.Close()
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(&pkgmodels.UpdateEvent{Type: pkgmodels.EventTelemetryUpdate})
	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRelay_StopsOnCancel(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), zerolog.Nop())
	_, cancel := startRelay(t, h, &fakePublisher{})

	cancel()
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}
