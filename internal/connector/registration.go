package connector

import (
	"context"

	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// Publisher is the outbound-message capability of broker-backed connectors
// (command/config pushes back to the device side).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Registration is the record the factory produces for one connector. The
// capability handles are filled in explicitly at construction time, so the
// manager never inspects runtime types to decide how to start, stop, or
// route diagnostics to a connector.
type Registration struct {
	// Config is the immutable configuration the connector was built from
	Config config.ConnectorConfig

	// Connector is the common lifecycle contract, always non-nil
	Connector domain.Connector

	// Poller drives the polling loop; nil for subscription connectors
	Poller *Poller

	// Subscriber is set for subscription connectors; nil otherwise
	Subscriber domain.SubscriptionConnector

	// Browser is set when the connector supports address-space browsing
	Browser domain.Browsable

	// Writer is set when the connector supports tag writes
	Writer domain.TagWriter

	// Publisher is set for broker-backed connectors that can push
	// messages back out
	Publisher Publisher
}

// Events returns the connector's batch channel: the poller's channel for
// polling connectors, the subscriber's own channel otherwise.
func (r *Registration) Events() <-chan domain.Batch {
	if r.Poller != nil {
		return r.Poller.Events()
	}
	if r.Subscriber != nil {
		return r.Subscriber.Events()
	}
	return nil
}

// Pollable reports whether this registration carries polling behavior.
func (r *Registration) Pollable() bool { return r.Poller != nil }

// Subscribable reports whether this registration carries subscription
// behavior.
func (r *Registration) Subscribable() bool { return r.Subscriber != nil }
