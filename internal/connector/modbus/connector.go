// Package modbus implements Modbus TCP and RTU polling connectors.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	maxRetries = 2
	retryDelay = 100 * time.Millisecond
)

// clientHandler is the subset of the goburrow handler types used here.
type clientHandler interface {
	gomodbus.ClientHandler
	Connect() error
	Close() error
}

// resolvedTag caches the parsed form of a tag mapping so address errors
// surface at construction time, not mid-poll.
type resolvedTag struct {
	mapping *config.TagMapping
	rt      registerType
	address uint16
	count   uint16
}

// Connector polls a Modbus TCP or RTU device. One request is on the wire at
// a time; the bus mutex serializes poll reads against control-plane writes.
type Connector struct {
	base.Connector

	cfg     config.ConnectorConfig
	logger  zerolog.Logger
	tags    []resolvedTag
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	handler clientHandler
	client  gomodbus.Client
}

// New creates a Modbus connector from its configuration. All tag addresses
// are resolved eagerly.
func New(cfg config.ConnectorConfig, logger zerolog.Logger) (*Connector, error) {
	c := &Connector{
		Connector: base.New(cfg.Type, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
	}
	c.logger = c.Logger()
	c.breaker = base.NewBreaker("modbus-"+cfg.ID, c.logger)

	c.tags = make([]resolvedTag, 0, len(cfg.Tags))
	for i := range cfg.Tags {
		t := &cfg.Tags[i]
		rt, err := parseRegisterType(t.RegisterType)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", t.ID, err)
		}
		addr, err := parseAddress(t.Address, rt)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", t.ID, err)
		}
		count := registerCount(t)
		if rt == registerCoil || rt == registerDiscreteInput {
			count = 1
		}
		c.tags = append(c.tags, resolvedTag{mapping: t, rt: rt, address: addr, count: count})
	}
	return c, nil
}

func (c *Connector) newHandler() clientHandler {
	if c.cfg.Type == domain.ConnectorTypeModbusRTU {
		h := gomodbus.NewRTUClientHandler(c.cfg.Connection.SerialPort)
		h.BaudRate = c.cfg.Connection.BaudRate
		h.DataBits = c.cfg.Connection.DataBits
		h.Parity = c.cfg.Connection.Parity
		h.StopBits = c.cfg.Connection.StopBits
		h.SlaveId = c.slaveID()
		h.Timeout = c.cfg.Connection.Timeout
		return h
	}

	addr := net.JoinHostPort(c.cfg.Connection.Host, strconv.Itoa(c.cfg.Connection.Port))
	h := gomodbus.NewTCPClientHandler(addr)
	h.SlaveId = c.slaveID()
	h.Timeout = c.cfg.Connection.Timeout
	h.IdleTimeout = 30 * time.Second
	return h
}

func (c *Connector) slaveID() byte {
	if c.cfg.Connection.SlaveID == 0 {
		return 1
	}
	return c.cfg.Connection.SlaveID
}

// Connect opens the TCP connection or serial port. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	handler := c.newHandler()

	// The goburrow handlers have no context-aware dial; bound it ourselves.
	done := make(chan error, 1)
	go func() { done <- handler.Connect() }()

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
			c.Fail(err)
			return err
		}
	case <-connectCtx.Done():
		err := fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, connectCtx.Err())
		c.Fail(err)
		return err
	}

	c.handler = handler
	c.client = gomodbus.NewClient(handler)
	c.SetStatus(domain.StatusConnected)
	c.logger.Info().Str("slave_id", strconv.Itoa(int(c.slaveID()))).Msg("Connected to device")
	return nil
}

// Disconnect closes the transport. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handler != nil {
		if err := c.handler.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing connection")
		}
	}
	c.handler = nil
	c.client = nil
	c.SetStatus(domain.StatusDisconnected)
	return nil
}

// Close releases the connection.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Disconnect(ctx)
}

// PollData reads every configured tag once. A failed tag yields a bad point;
// the cycle itself fails only when the connection is gone.
func (c *Connector) PollData(ctx context.Context) ([]*domain.DataPoint, error) {
	points := make([]*domain.DataPoint, 0, len(c.tags))
	var cycleErr error

	for i := range c.tags {
		tag := &c.tags[i]
		m := tag.mapping

		if cycleErr != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), m.ID, m.Name, cycleErr))
			continue
		}

		raw, err := c.readWithRetry(ctx, tag)
		if err != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), m.ID, m.Name, err))
			if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrCircuitOpen) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				cycleErr = err
			}
			continue
		}

		value, dt, err := parseValue(raw, tag.rt, m)
		if err != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), m.ID, m.Name, err))
			continue
		}

		dp := domain.NewDataPoint(c.ID(), m.ID, m.Name, applyScale(value, m), dt, m.Unit)
		if m.SchemaID != "" {
			dp.SetMeta("schema_id", m.SchemaID)
		}
		points = append(points, dp)
	}

	return points, cycleErr
}

// readWithRetry performs the register read, retrying transient transport
// errors with linear backoff.
func (c *Connector) readWithRetry(ctx context.Context, tag *resolvedTag) ([]byte, error) {
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().
				Int("attempt", attempt).
				Str("tag_id", tag.mapping.ID).
				Msg("Retrying read")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		out, execErr := c.breaker.Execute(func() (interface{}, error) {
			return c.readRegisters(tag)
		})
		if execErr == nil {
			return out.([]byte), nil
		}
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, execErr)
		}
		err = execErr
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, err
}

// readRegisters issues the Modbus function for the tag's data table. The
// bus mutex is held across the transaction: the client is not safe for
// concurrent use and control-plane writes share it with the poll loop.
func (c *Connector) readRegisters(tag *resolvedTag) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client := c.client
	if client == nil {
		return nil, domain.ErrNotConnected
	}

	var raw []byte
	var err error
	switch tag.rt {
	case registerCoil:
		raw, err = client.ReadCoils(tag.address, tag.count)
	case registerDiscreteInput:
		raw, err = client.ReadDiscreteInputs(tag.address, tag.count)
	case registerHolding:
		raw, err = client.ReadHoldingRegisters(tag.address, tag.count)
	case registerInput:
		raw, err = client.ReadInputRegisters(tag.address, tag.count)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}
	return raw, nil
}

// WriteTag writes a value to a writable coil or holding register.
func (c *Connector) WriteTag(ctx context.Context, tagID string, value interface{}) error {
	var tag *resolvedTag
	for i := range c.tags {
		if c.tags[i].mapping.ID == tagID {
			tag = &c.tags[i]
			break
		}
	}
	if tag == nil {
		return fmt.Errorf("%w: %s", domain.ErrTagNotFound, tagID)
	}
	if !tag.mapping.Writable {
		return fmt.Errorf("%w: %s", domain.ErrTagNotWritable, tagID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	client := c.client
	if client == nil {
		return domain.ErrNotConnected
	}

	switch tag.rt {
	case registerCoil:
		b, ok := toBool(value)
		if !ok {
			return fmt.Errorf("%w: cannot convert %T to bool for coil", domain.ErrInvalidDataType, value)
		}
		var coil uint16
		if b {
			coil = 0xFF00
		}
		if _, err := client.WriteSingleCoil(tag.address, coil); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
		}

	case registerHolding:
		raw, err := valueToBytes(value, tag.mapping)
		if err != nil {
			return err
		}
		if len(raw) == 2 {
			if _, err := client.WriteSingleRegister(tag.address, uint16(raw[0])<<8|uint16(raw[1])); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
			}
		} else {
			if _, err := client.WriteMultipleRegisters(tag.address, uint16(len(raw)/2), raw); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
			}
		}

	default:
		return fmt.Errorf("%w: %s registers are read-only", domain.ErrTagNotWritable, tag.rt)
	}

	c.logger.Debug().Str("tag_id", tagID).Interface("value", value).Msg("Wrote tag")
	return nil
}

// isTransient reports whether the error is worth a retry on the same
// connection.
func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
