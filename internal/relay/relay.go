// Package relay forwards hub update events to NATS so that other services
// can follow fleet activity.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aktibguard/aktibguard/internal/hub"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the NATS publish call the relay uses. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is the event stream the relay follows.
type Source interface {
	Subscribe(remote string) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// Relay copies every event published on the hub to
// "<subject>.<event type>".
type Relay struct {
	source  Source
	pub     Publisher
	subject string
	logger  zerolog.Logger

	// resubscribeDelay is the pause after the hub dropped the relay.
	resubscribeDelay time.Duration
}

// New creates a relay.
func New(source Source, pub Publisher, subject string, logger zerolog.Logger) *Relay {
	return &Relay{
		source:           source,
		pub:              pub,
		subject:          subject,
		logger:           logger.With().Str("component", "nats_relay").Str("subject", subject).Logger(),
		resubscribeDelay: time.Second,
	}
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("aktibguard-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return nc, nil
}

// Subject returns the subject an event is published on.
func (r *Relay) Subject(event *pkgmodels.UpdateEvent) string {
	return r.subject + "." + event.Type
}

// Run relays events until ctx is done. When the hub drops the relay for
// falling behind, it subscribes again; events in between are lost.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Msg("relay started")
	defer r.logger.Info().Msg("relay stopped")

	for {
		sub := r.source.Subscribe("nats-relay")
		r.drain(ctx, sub)
		r.source.Unsubscribe(sub)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.resubscribeDelay):
			r.logger.Warn().Msg("relay subscription ended, resubscribing")
		}
	}
}

func (r *Relay) drain(ctx context.Context, sub *hub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			r.forward(event)
		}
	}
}

func (r *Relay) forward(event *pkgmodels.UpdateEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Str("event_type", event.Type).Msg("failed to encode event")
		return
	}
	if err := r.pub.Publish(r.Subject(event), data); err != nil {
		r.logger.Warn().Err(err).Str("event_type", event.Type).Msg("failed to relay event")
	}
}
