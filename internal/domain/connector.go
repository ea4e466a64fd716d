// Package domain contains the core business entities and interfaces.
// These are protocol-agnostic and represent the core concepts of the system.
package domain

import (
	"context"
)

// ConnectionStatus represents the current state of a connector's transport.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// ConnectorType represents the wire protocol a connector speaks.
type ConnectorType string

const (
	ConnectorTypeEtherNetIP ConnectorType = "ethernet-ip"
	ConnectorTypeMQTT       ConnectorType = "external-mqtt"
	ConnectorTypeModbusTCP  ConnectorType = "modbus-tcp"
	ConnectorTypeModbusRTU  ConnectorType = "modbus-rtu"
	ConnectorTypeBACnet     ConnectorType = "bacnet"
	ConnectorTypeOPCUA      ConnectorType = "opcua"
	ConnectorTypeS7         ConnectorType = "s7"
)

// Connector is the common contract every protocol connector implements.
// Connect and Disconnect are idempotent: calling Connect while already
// connected logs and no-ops. A failed Connect sets StatusError, retains the
// error, and returns it so the caller can decide whether to retry.
type Connector interface {
	Type() ConnectorType
	ID() string
	Name() string
	TenantID() string
	Status() ConnectionStatus
	LastError() error

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Close releases all resources. Disconnection is attempted even on
	// unexpected failure paths. Safe to call more than once.
	Close() error
}

// PollingConnector actively reads its configured tags.
// One PollData call returns exactly one DataPoint per configured tag for
// that cycle, regardless of individual read failures.
type PollingConnector interface {
	Connector
	PollData(ctx context.Context) ([]*DataPoint, error)
}

// SubscriptionConnector passively receives pushed messages and emits
// DataPoint batches on its event channel as they arrive. It owns its own
// reconnect policy and must restore its subscription table after an
// automatic reconnect.
type SubscriptionConnector interface {
	Connector

	// Subscribe activates the named subscription mappings. With no
	// arguments, all configured subscriptions are activated.
	Subscribe(ctx context.Context, ids ...string) error

	// Unsubscribe deactivates the named subscription mappings.
	Unsubscribe(ctx context.Context, ids ...string) error

	// Subscriptions returns the ids of the currently active subscriptions.
	Subscriptions() []string

	// Events is the channel the connector pushes batches on.
	Events() <-chan Batch
}

// BrowseNode is one entry in a connector's address space.
type BrowseNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NodeClass   string `json:"node_class,omitempty"`
	DataType    string `json:"data_type,omitempty"`
	HasChildren bool   `json:"has_children"`
}

// Browsable is an optional capability for exploring a controller's address
// space before configuring tags. It is advisory/UI-facing and never required
// for normal polling or subscription operation.
type Browsable interface {
	BrowseRoot(ctx context.Context) ([]BrowseNode, error)
	Browse(ctx context.Context, nodeID string) ([]BrowseNode, error)
	ReadValue(ctx context.Context, address string) (*DataPoint, error)
}

// TagWriter is an optional capability for connectors that can write values
// back to the device.
type TagWriter interface {
	WriteTag(ctx context.Context, tagID string, value interface{}) error
}
