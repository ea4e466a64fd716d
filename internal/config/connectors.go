// Package config provides connector configuration loading and management.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sensormine/edge-connectors/internal/domain"
	"gopkg.in/yaml.v3"
)

// ConnectorConfig is the typed, per-protocol configuration handed to the
// factory. It is immutable once a connector has been constructed from it:
// updates go through the manager, which replaces the whole instance.
type ConnectorConfig struct {
	// ID is the unique identifier for this connector instance
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name
	Name string `json:"name" yaml:"name"`

	// TenantID scopes the connector to a platform tenant
	TenantID string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`

	// Type selects the wire protocol
	Type domain.ConnectorType `json:"type" yaml:"type"`

	// Enabled indicates whether the connector should be started by StartAll
	Enabled bool `json:"enabled" yaml:"enabled"`

	// PollInterval is the cycle interval for polling connectors
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`

	// ConnectTimeout bounds the whole connect handshake
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`

	// Connection holds protocol-specific transport parameters
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// Credentials holds optional username/password authentication
	Credentials Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	// TLS holds optional transport security settings
	TLS TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`

	// Tags are the address mappings read by polling connectors
	Tags []TagMapping `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Subscriptions are the topic mappings for subscription connectors
	Subscriptions []SubscriptionMapping `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`

	// Metadata contains additional key-value pairs for this connector
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ConnectionConfig holds protocol-specific connection parameters.
type ConnectionConfig struct {
	// === Common ===
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// Timeout is the per-request response timeout
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// === Modbus ===
	SlaveID    uint8  `json:"slave_id,omitempty" yaml:"slave_id,omitempty"`
	SerialPort string `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits   int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	Parity     string `json:"parity,omitempty" yaml:"parity,omitempty"`
	StopBits   int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`

	// === EtherNet/IP ===
	// CIPSlot is the backplane slot of the controller CPU (routing is not
	// implemented; the slot is informational for diagnostics)
	CIPSlot int `json:"cip_slot,omitempty" yaml:"cip_slot,omitempty"`

	// === MQTT ===
	// BrokerURL overrides Host/Port when set (e.g. "ssl://broker:8883")
	BrokerURL string `json:"broker_url,omitempty" yaml:"broker_url,omitempty"`
	ClientID  string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	QoS       byte   `json:"qos,omitempty" yaml:"qos,omitempty"`
	KeepAlive time.Duration `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
	CleanSession  bool `json:"clean_session,omitempty" yaml:"clean_session,omitempty"`
	AutoReconnect bool `json:"auto_reconnect,omitempty" yaml:"auto_reconnect,omitempty"`

	// === OPC UA ===
	OPCEndpointURL    string `json:"opc_endpoint_url,omitempty" yaml:"opc_endpoint_url,omitempty"`
	OPCSecurityPolicy string `json:"opc_security_policy,omitempty" yaml:"opc_security_policy,omitempty"`
	OPCSecurityMode   string `json:"opc_security_mode,omitempty" yaml:"opc_security_mode,omitempty"`
	OPCAuthMode       string `json:"opc_auth_mode,omitempty" yaml:"opc_auth_mode,omitempty"`

	// === BACnet ===
	// BACnetDeviceID is the remote device instance number
	BACnetDeviceID uint32 `json:"bacnet_device_id,omitempty" yaml:"bacnet_device_id,omitempty"`

	// === S7 ===
	S7Rack int `json:"s7_rack,omitempty" yaml:"s7_rack,omitempty"`
	S7Slot int `json:"s7_slot,omitempty" yaml:"s7_slot,omitempty"`
}

// Credentials holds username/password authentication.
type Credentials struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// TLSConfig holds transport security settings.
type TLSConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	CAFile             string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	CertFile           string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
}

// TagMapping defines one data point to be read from (or written to) a
// device by a polling connector.
type TagMapping struct {
	// ID is the unique identifier for this tag within the connector
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label
	Name string `json:"name" yaml:"name"`

	// Address is the protocol-specific address string: a CIP symbolic tag
	// name, a Modbus register number, an OPC UA node id, a BACnet
	// "objectType:instance[:property]" triple, or an S7 address
	Address string `json:"address" yaml:"address"`

	// DataType specifies how to interpret the raw data
	DataType domain.DataType `json:"data_type" yaml:"data_type"`

	// ScaleFactor is multiplied with numeric raw values before emission
	ScaleFactor float64 `json:"scale_factor,omitempty" yaml:"scale_factor,omitempty"`

	// Unit is the engineering unit
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// SchemaID is an opaque schema registry reference, passed through as
	// data point metadata
	SchemaID string `json:"schema_id,omitempty" yaml:"schema_id,omitempty"`

	// Writable marks the tag as a write target
	Writable bool `json:"writable,omitempty" yaml:"writable,omitempty"`

	// ElementCount is the number of elements to read (CIP arrays,
	// Modbus registers)
	ElementCount uint16 `json:"element_count,omitempty" yaml:"element_count,omitempty"`

	// === Modbus ===
	RegisterType string `json:"register_type,omitempty" yaml:"register_type,omitempty"`
	ByteOrder    string `json:"byte_order,omitempty" yaml:"byte_order,omitempty"`
}

// PayloadFormat selects how an MQTT subscription decodes message payloads.
type PayloadFormat string

const (
	PayloadFormatJSON   PayloadFormat = "json"
	PayloadFormatString PayloadFormat = "string"
	PayloadFormatBase64 PayloadFormat = "base64"
)

// SubscriptionMapping defines one broker topic consumed by a subscription
// connector.
type SubscriptionMapping struct {
	// ID is the unique identifier for this subscription within the connector
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Topic is the MQTT topic filter ("+" and "#" wildcards allowed)
	Topic string `json:"topic" yaml:"topic"`

	// QoS is the subscription quality of service (0-2)
	QoS byte `json:"qos,omitempty" yaml:"qos,omitempty"`

	// Format selects payload decoding; json is the default
	Format PayloadFormat `json:"format,omitempty" yaml:"format,omitempty"`

	// DeviceIDPath is a dotted JSON path whose value identifies the
	// originating device
	DeviceIDPath string `json:"device_id_path,omitempty" yaml:"device_id_path,omitempty"`

	// TimestampPath is a dotted JSON path whose value carries the source
	// timestamp (RFC3339 or Unix milliseconds)
	TimestampPath string `json:"timestamp_path,omitempty" yaml:"timestamp_path,omitempty"`

	// Unit is applied to every point produced from this subscription
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// SchemaID is an opaque schema registry reference passed through as
	// metadata
	SchemaID string `json:"schema_id,omitempty" yaml:"schema_id,omitempty"`
}

// ConnectorsFile is the top-level connectors definition file.
type ConnectorsFile struct {
	Version    string            `yaml:"version"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// LoadConnectors loads connector configurations from a YAML file.
// Duplicate ids and invalid configs fail the whole load.
func LoadConnectors(path string) ([]ConnectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connectors file: %w", err)
	}

	var file ConnectorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse connectors file: %w", err)
	}

	seen := make(map[string]int, len(file.Connectors))
	out := make([]ConnectorConfig, 0, len(file.Connectors))
	for idx := range file.Connectors {
		cfg := file.Connectors[idx]
		if prev, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate connector ID %q at index %d (first seen at index %d)", cfg.ID, idx, prev)
		}
		seen[cfg.ID] = idx

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("connector %q: %w", cfg.ID, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Validate checks the configuration and applies defaults.
func (c *ConnectorConfig) Validate() error {
	if c.ID == "" {
		return domain.ErrConnectorIDRequired
	}
	if c.Name == "" {
		return domain.ErrConnectorNameRequired
	}
	if c.Type == "" {
		return domain.ErrConnectorTypeRequired
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Connection.Timeout == 0 {
		c.Connection.Timeout = 5 * time.Second
	}

	switch c.Type {
	case domain.ConnectorTypeMQTT:
		if c.Connection.BrokerURL == "" && c.Connection.Host == "" {
			return domain.ErrHostRequired
		}
		if len(c.Subscriptions) == 0 {
			return domain.ErrNoSubscriptions
		}
		for i := range c.Subscriptions {
			if err := c.Subscriptions[i].validate(); err != nil {
				return err
			}
		}

	case domain.ConnectorTypeEtherNetIP, domain.ConnectorTypeModbusTCP,
		domain.ConnectorTypeBACnet, domain.ConnectorTypeOPCUA, domain.ConnectorTypeS7:
		if c.Connection.Host == "" && c.Connection.OPCEndpointURL == "" {
			return domain.ErrHostRequired
		}
		if err := c.validatePolling(); err != nil {
			return err
		}

	case domain.ConnectorTypeModbusRTU:
		if c.Connection.SerialPort == "" {
			return fmt.Errorf("%w: serial port is required for modbus-rtu", domain.ErrInvalidConfig)
		}
		if err := c.validatePolling(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %s", domain.ErrProtocolNotSupported, c.Type)
	}

	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort(c.Type)
	}
	return nil
}

func (c *ConnectorConfig) validatePolling() error {
	if len(c.Tags) == 0 {
		return domain.ErrNoTagsDefined
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.PollInterval < 100*time.Millisecond {
		return domain.ErrPollIntervalTooShort
	}
	for i := range c.Tags {
		if err := c.Tags[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TagMapping) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: tag ID is required", domain.ErrInvalidConfig)
	}
	if t.Address == "" {
		return fmt.Errorf("%w: tag %q has no address", domain.ErrInvalidConfig, t.ID)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.DataType == "" {
		t.DataType = domain.DataTypeUnknown
	}
	if t.ScaleFactor == 0 {
		t.ScaleFactor = 1.0
	}
	if t.ElementCount == 0 {
		t.ElementCount = 1
	}
	return nil
}

func (s *SubscriptionMapping) validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: subscription ID is required", domain.ErrInvalidConfig)
	}
	if s.Topic == "" {
		return fmt.Errorf("%w: subscription %q has no topic", domain.ErrInvalidConfig, s.ID)
	}
	if s.QoS > 2 {
		return fmt.Errorf("%w: subscription %q has invalid QoS %d", domain.ErrInvalidConfig, s.ID, s.QoS)
	}
	if s.Format == "" {
		s.Format = PayloadFormatJSON
	}
	switch s.Format {
	case PayloadFormatJSON, PayloadFormatString, PayloadFormatBase64:
	default:
		return fmt.Errorf("%w: subscription %q has unknown payload format %q", domain.ErrInvalidConfig, s.ID, s.Format)
	}
	return nil
}

// DefaultPort returns the well-known port for a protocol type.
func DefaultPort(t domain.ConnectorType) int {
	switch t {
	case domain.ConnectorTypeEtherNetIP:
		return 44818
	case domain.ConnectorTypeModbusTCP:
		return 502
	case domain.ConnectorTypeBACnet:
		return 47808
	case domain.ConnectorTypeOPCUA:
		return 4840
	case domain.ConnectorTypeMQTT:
		return 1883
	case domain.ConnectorTypeS7:
		return 102
	default:
		return 0
	}
}

// TagByID returns the tag mapping with the given id.
func (c *ConnectorConfig) TagByID(id string) (*TagMapping, bool) {
	for i := range c.Tags {
		if c.Tags[i].ID == id {
			return &c.Tags[i], true
		}
	}
	return nil, false
}
