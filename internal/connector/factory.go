package connector

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/bacnet"
	"github.com/sensormine/edge-connectors/internal/connector/ethernetip"
	"github.com/sensormine/edge-connectors/internal/connector/extmqtt"
	"github.com/sensormine/edge-connectors/internal/connector/modbus"
	"github.com/sensormine/edge-connectors/internal/connector/opcua"
	"github.com/sensormine/edge-connectors/internal/connector/s7"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sensormine/edge-connectors/internal/metrics"
)

// Factory constructs connector registrations from typed configurations.
// Pure construction: nothing is connected or started here.
type Factory struct {
	logger      zerolog.Logger
	metrics     *metrics.Registry
	eventBuffer int
}

// NewFactory creates a connector factory. eventBuffer is the per-connector
// event channel capacity.
func NewFactory(logger zerolog.Logger, metricsReg *metrics.Registry, eventBuffer int) *Factory {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Factory{
		logger:      logger,
		metrics:     metricsReg,
		eventBuffer: eventBuffer,
	}
}

// SupportedTypes returns the closed set of protocol types this factory can
// construct, for validation by callers.
func (f *Factory) SupportedTypes() []domain.ConnectorType {
	return []domain.ConnectorType{
		domain.ConnectorTypeEtherNetIP,
		domain.ConnectorTypeMQTT,
		domain.ConnectorTypeModbusTCP,
		domain.ConnectorTypeModbusRTU,
		domain.ConnectorTypeBACnet,
		domain.ConnectorTypeOPCUA,
		domain.ConnectorTypeS7,
	}
}

// New builds the concrete connector for the configuration's protocol type
// and records its capabilities. Unsupported types fail fast.
func (f *Factory) New(cfg config.ConnectorConfig) (*Registration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := f.logger.With().Str("protocol", string(cfg.Type)).Logger()

	switch cfg.Type {
	case domain.ConnectorTypeEtherNetIP:
		c, err := ethernetip.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:    cfg,
			Connector: c,
			Poller:    NewPoller(c, cfg.PollInterval, f.eventBuffer, logger, f.metrics),
			Browser:   c,
			Writer:    c,
		}, nil

	case domain.ConnectorTypeMQTT:
		c, err := extmqtt.New(cfg, f.eventBuffer, logger, f.metrics)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:     cfg,
			Connector:  c,
			Subscriber: c,
			Publisher:  c,
		}, nil

	case domain.ConnectorTypeModbusTCP, domain.ConnectorTypeModbusRTU:
		c, err := modbus.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:    cfg,
			Connector: c,
			Poller:    NewPoller(c, cfg.PollInterval, f.eventBuffer, logger, f.metrics),
			Writer:    c,
		}, nil

	case domain.ConnectorTypeBACnet:
		c, err := bacnet.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:    cfg,
			Connector: c,
			Poller:    NewPoller(c, cfg.PollInterval, f.eventBuffer, logger, f.metrics),
		}, nil

	case domain.ConnectorTypeOPCUA:
		c, err := opcua.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:    cfg,
			Connector: c,
			Poller:    NewPoller(c, cfg.PollInterval, f.eventBuffer, logger, f.metrics),
			Browser:   c,
			Writer:    c,
		}, nil

	case domain.ConnectorTypeS7:
		c, err := s7.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Registration{
			Config:    cfg,
			Connector: c,
			Poller:    NewPoller(c, cfg.PollInterval, f.eventBuffer, logger, f.metrics),
			Writer:    c,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocolNotSupported, cfg.Type)
	}
}
