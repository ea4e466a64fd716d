package connector_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector"
	"github.com/sensormine/edge-connectors/internal/domain"
)

func pollingConfig(id string, t domain.ConnectorType, address string) config.ConnectorConfig {
	return config.ConnectorConfig{
		ID:      id,
		Name:    id,
		Type:    t,
		Enabled: true,
		Connection: config.ConnectionConfig{
			Host: "192.0.2.10",
		},
		Tags: []config.TagMapping{
			{ID: "t1", Name: "Tag 1", Address: address, DataType: domain.DataTypeFloat32},
		},
	}
}

func TestFactory_CapabilitiesPerProtocol(t *testing.T) {
	f := connector.NewFactory(zerolog.Nop(), nil, 8)

	tests := []struct {
		name       string
		cfg        config.ConnectorConfig
		wantPoll   bool
		wantSub    bool
		wantBrowse bool
		wantWrite  bool
		wantPub    bool
	}{
		{
			name:       "ethernet-ip polls, browses, writes",
			cfg:        pollingConfig("eip", domain.ConnectorTypeEtherNetIP, "PumpSpeed"),
			wantPoll:   true,
			wantBrowse: true,
			wantWrite:  true,
		},
		{
			name:      "modbus-tcp polls and writes",
			cfg:       pollingConfig("mb", domain.ConnectorTypeModbusTCP, "40001"),
			wantPoll:  true,
			wantWrite: true,
		},
		{
			name:     "bacnet polls only",
			cfg:      pollingConfig("bac", domain.ConnectorTypeBACnet, "analog-input:1"),
			wantPoll: true,
		},
		{
			name:       "opcua polls, browses, writes",
			cfg:        pollingConfig("ua", domain.ConnectorTypeOPCUA, "ns=2;s=Temperature"),
			wantPoll:   true,
			wantBrowse: true,
			wantWrite:  true,
		},
		{
			name:      "s7 polls and writes",
			cfg:       pollingConfig("plc", domain.ConnectorTypeS7, "DB1.DBD0"),
			wantPoll:  true,
			wantWrite: true,
		},
		{
			name: "mqtt subscribes and publishes",
			cfg: config.ConnectorConfig{
				ID:      "mq",
				Name:    "mq",
				Type:    domain.ConnectorTypeMQTT,
				Enabled: true,
				Connection: config.ConnectionConfig{
					Host: "192.0.2.10",
				},
				Subscriptions: []config.SubscriptionMapping{
					{ID: "s1", Topic: "sensors/#"},
				},
			},
			wantSub: true,
			wantPub: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := f.New(tt.cfg)
			if err != nil {
				t.Fatalf("New(%s): %v", tt.cfg.Type, err)
			}
			if reg.Connector == nil {
				t.Fatal("registration has no connector")
			}
			if got := reg.Pollable(); got != tt.wantPoll {
				t.Errorf("Pollable = %v, want %v", got, tt.wantPoll)
			}
			if got := reg.Subscribable(); got != tt.wantSub {
				t.Errorf("Subscribable = %v, want %v", got, tt.wantSub)
			}
			if got := reg.Browser != nil; got != tt.wantBrowse {
				t.Errorf("Browser present = %v, want %v", got, tt.wantBrowse)
			}
			if got := reg.Writer != nil; got != tt.wantWrite {
				t.Errorf("Writer present = %v, want %v", got, tt.wantWrite)
			}
			if got := reg.Publisher != nil; got != tt.wantPub {
				t.Errorf("Publisher present = %v, want %v", got, tt.wantPub)
			}
			if reg.Events() == nil {
				t.Error("registration exposes no event channel")
			}
			if reg.Connector.Status() != domain.StatusDisconnected {
				t.Errorf("fresh connector status = %s, want disconnected", reg.Connector.Status())
			}
		})
	}
}

func TestFactory_RejectsUnsupportedType(t *testing.T) {
	f := connector.NewFactory(zerolog.Nop(), nil, 8)
	cfg := pollingConfig("x", "profibus", "1")
	if _, err := f.New(cfg); !errors.Is(err, domain.ErrProtocolNotSupported) {
		t.Errorf("New(profibus) error = %v, want ErrProtocolNotSupported", err)
	}
}

func TestFactory_RejectsInvalidConfig(t *testing.T) {
	f := connector.NewFactory(zerolog.Nop(), nil, 8)

	cfg := pollingConfig("x", domain.ConnectorTypeModbusTCP, "40001")
	cfg.Tags = nil
	if _, err := f.New(cfg); !errors.Is(err, domain.ErrNoTagsDefined) {
		t.Errorf("no tags error = %v, want ErrNoTagsDefined", err)
	}

	cfg = pollingConfig("x", domain.ConnectorTypeModbusTCP, "40001")
	cfg.PollInterval = 10 * time.Millisecond
	if _, err := f.New(cfg); !errors.Is(err, domain.ErrPollIntervalTooShort) {
		t.Errorf("short interval error = %v, want ErrPollIntervalTooShort", err)
	}

	cfg = pollingConfig("x", domain.ConnectorTypeModbusTCP, "not-a-register")
	if _, err := f.New(cfg); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("bad address error = %v, want ErrInvalidAddress", err)
	}
}

func TestFactory_SupportedTypes(t *testing.T) {
	f := connector.NewFactory(zerolog.Nop(), nil, 8)
	types := f.SupportedTypes()
	want := map[domain.ConnectorType]bool{
		domain.ConnectorTypeEtherNetIP: true,
		domain.ConnectorTypeMQTT:       true,
		domain.ConnectorTypeModbusTCP:  true,
		domain.ConnectorTypeModbusRTU:  true,
		domain.ConnectorTypeBACnet:     true,
		domain.ConnectorTypeOPCUA:      true,
		domain.ConnectorTypeS7:         true,
	}
	if len(types) != len(want) {
		t.Fatalf("SupportedTypes returned %d types, want %d", len(types), len(want))
	}
	for _, ct := range types {
		if !want[ct] {
			t.Errorf("unexpected supported type %s", ct)
		}
	}
}
