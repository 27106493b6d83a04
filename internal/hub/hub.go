// Package hub fans derived update events out to live dashboard subscribers.
package hub

import (
	"errors"
	"sync"
	"time"

	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrPublishDropped is logged when a subscriber could not take an event and
// was disconnected. It never reaches the publisher.
var ErrPublishDropped = errors.New("publish dropped: subscriber not keeping up")

// Recorder receives hub metrics.
type Recorder interface {
	RecordBroadcastDropped()
	SetSubscribers(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordBroadcastDropped() {}
func (nopRecorder) SetSubscribers(int)      {}

// Config holds configuration for the Hub.
type Config struct {
	// BufferSize is the number of events queued per subscriber before it is dropped.
	BufferSize int
	// PingInterval is how often to send ping messages to websocket clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a websocket client.
	WriteTimeout time.Duration
	// ReadTimeout is the timeout for reading from a websocket client.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a websocket client.
	MaxMessageSize int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:     64,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Filter narrows the events a subscriber receives. The zero value matches everything.
type Filter struct {
	AgentIDs []string `json:"agent_ids,omitempty"`
	Types    []string `json:"types,omitempty"`
}

// Matches checks if an event passes the filter.
func (f *Filter) Matches(event *pkgmodels.UpdateEvent) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !contains(f.Types, event.Type) {
		return false
	}
	if len(f.AgentIDs) > 0 && event.AgentID != "" && !contains(f.AgentIDs, event.AgentID) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Subscription is one live consumer of update events.
type Subscription struct {
	id     uuid.UUID
	remote string
	send   chan *pkgmodels.UpdateEvent

	mu     sync.Mutex
	filter *Filter
	closed bool
}

// ID returns the subscription id.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Events returns the channel events are delivered on. It is closed when the
// subscription ends, either by Unsubscribe or because it fell behind.
func (s *Subscription) Events() <-chan *pkgmodels.UpdateEvent {
	return s.send
}

// SetFilter replaces the subscription's filter.
func (s *Subscription) SetFilter(f *Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

var errSubscriptionClosed = errors.New("subscription closed")

// offer delivers an event without blocking.
func (s *Subscription) offer(event *pkgmodels.UpdateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSubscriptionClosed
	}
	if !s.filter.Matches(event) {
		return nil
	}
	select {
	case s.send <- event:
		return nil
	default:
		return ErrPublishDropped
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

// Hub is a concurrency-safe set of subscribers. Publish never blocks on a
// subscriber; one that cannot keep up is removed.
type Hub struct {
	config   Config
	logger   zerolog.Logger
	recorder Recorder

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// New creates a new Hub with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Hub {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	return &Hub{
		config:   cfg,
		logger:   logger.With().Str("component", "hub").Logger(),
		recorder: nopRecorder{},
		subs:     make(map[uuid.UUID]*Subscription),
	}
}

// SetRecorder sets the metrics recorder.
func (h *Hub) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	h.recorder = r
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe(remote string) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		remote: remote,
		send:   make(chan *pkgmodels.UpdateEvent, h.config.BufferSize),
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.recorder.SetSubscribers(n)
	h.logger.Debug().
		Str("subscriber_id", sub.id.String()).
		Str("remote", remote).
		Msg("subscriber connected")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	n := len(h.subs)
	h.mu.Unlock()

	if sub.close() || ok {
		h.recorder.SetSubscribers(n)
		h.logger.Debug().
			Str("subscriber_id", sub.id.String()).
			Str("remote", sub.remote).
			Msg("subscriber disconnected")
	}
}

// Publish delivers an event to every current subscriber. Events published
// sequentially by one caller arrive in the same order at each subscriber.
func (h *Hub) Publish(event *pkgmodels.UpdateEvent) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		err := sub.offer(event)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrPublishDropped) {
			h.recorder.RecordBroadcastDropped()
			h.logger.Warn().
				Err(err).
				Str("subscriber_id", sub.id.String()).
				Str("event_type", event.Type).
				Msg("dropping subscriber")
		}
		h.Unsubscribe(sub)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uuid.UUID]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.recorder.SetSubscribers(0)
	h.logger.Info().Int("subscribers", len(subs)).Msg("hub closed")
}
