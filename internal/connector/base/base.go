// Package base provides the shared state every protocol connector embeds:
// identity, connection status, and the retained last error.
package base

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// Connector implements the identity and status portion of the connector
// contract. Protocol implementations embed it and drive the status through
// SetStatus/Fail.
type Connector struct {
	typ      domain.ConnectorType
	id       string
	name     string
	tenantID string
	logger   zerolog.Logger

	mu      sync.RWMutex
	status  domain.ConnectionStatus
	lastErr error
}

// New creates the embedded connector state. The initial status is
// disconnected.
func New(typ domain.ConnectorType, id, name, tenantID string, logger zerolog.Logger) Connector {
	return Connector{
		typ:      typ,
		id:       id,
		name:     name,
		tenantID: tenantID,
		logger: logger.With().
			Str("connector_id", id).
			Str("protocol", string(typ)).
			Logger(),
		status: domain.StatusDisconnected,
	}
}

func (c *Connector) Type() domain.ConnectorType { return c.typ }
func (c *Connector) ID() string                 { return c.id }
func (c *Connector) Name() string               { return c.name }
func (c *Connector) TenantID() string           { return c.tenantID }

// Status returns the current connection status.
func (c *Connector) Status() domain.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastError returns the most recent connection-level error, or nil.
func (c *Connector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// SetStatus transitions the connector status. A transition to connected
// clears the retained error.
func (c *Connector) SetStatus(s domain.ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	if s == domain.StatusConnected {
		c.lastErr = nil
	}
	c.mu.Unlock()
}

// Fail records a connection-level failure: status becomes error and the
// error is retained for the control surface.
func (c *Connector) Fail(err error) {
	c.mu.Lock()
	c.status = domain.StatusError
	c.lastErr = err
	c.mu.Unlock()
}

// Logger returns the connector-scoped logger.
func (c *Connector) Logger() zerolog.Logger { return c.logger }
