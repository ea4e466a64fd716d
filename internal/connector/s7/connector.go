package s7

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/robinson/gos7"
	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sony/gobreaker"
)

// Connector polls a Siemens S7 PLC over ISO-on-TCP.
type Connector struct {
	base.Connector

	cfg       config.ConnectorConfig
	logger    zerolog.Logger
	addresses []address
	breaker   *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	handler *gos7.TCPClientHandler
	client  gos7.Client

	// opMu serializes PDU exchanges; the gos7 client is not thread-safe.
	opMu sync.Mutex
}

// New creates an S7 connector from its configuration. Operand addresses are
// parsed eagerly.
func New(cfg config.ConnectorConfig, logger zerolog.Logger) (*Connector, error) {
	c := &Connector{
		Connector: base.New(domain.ConnectorTypeS7, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
	}
	c.logger = c.Logger()
	c.breaker = base.NewBreaker("s7-"+cfg.ID, c.logger)

	c.addresses = make([]address, 0, len(cfg.Tags))
	for i := range cfg.Tags {
		a, err := parseAddress(cfg.Tags[i].Address)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", cfg.Tags[i].ID, err)
		}
		if _, err := a.byteSize(cfg.Tags[i].DataType); err != nil {
			return nil, fmt.Errorf("tag %q: %w", cfg.Tags[i].ID, err)
		}
		c.addresses = append(c.addresses, a)
	}
	return c, nil
}

// Connect establishes the ISO-on-TCP session. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	addr := net.JoinHostPort(c.cfg.Connection.Host, fmt.Sprintf("%d", c.cfg.Connection.Port))
	handler := gos7.NewTCPClientHandler(addr, c.cfg.Connection.S7Rack, c.cfg.Connection.S7Slot)
	handler.Timeout = c.cfg.Connection.Timeout
	handler.IdleTimeout = 30 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- handler.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			handler.Close()
			err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
			c.Fail(err)
			return err
		}
	case <-connectCtx.Done():
		// The dial goroutine may still be running; closing the handler
		// after it finishes prevents a socket leak.
		go func() {
			<-done
			handler.Close()
		}()
		err := fmt.Errorf("%w: %v", domain.ErrConnectionTimeout, connectCtx.Err())
		c.Fail(err)
		return err
	}

	c.handler = handler
	c.client = gos7.NewClient(handler)
	c.SetStatus(domain.StatusConnected)
	c.logger.Info().
		Int("rack", c.cfg.Connection.S7Rack).
		Int("slot", c.cfg.Connection.S7Slot).
		Msg("Connected to PLC")
	return nil
}

// Disconnect tears down the session. Idempotent.
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

// Close releases the session.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Disconnect(ctx)
}

// PollData reads every configured operand once. Failed reads yield bad
// points; the cycle fails only when the session is gone or the context ends.
func (c *Connector) PollData(ctx context.Context) ([]*domain.DataPoint, error) {
	points := make([]*domain.DataPoint, 0, len(c.cfg.Tags))
	var cycleErr error

	for i := range c.cfg.Tags {
		t := &c.cfg.Tags[i]

		if cycleErr != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name, cycleErr))
			continue
		}
		if err := ctx.Err(); err != nil {
			cycleErr = err
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name, err))
			continue
		}

		value, dt, err := c.readOperand(c.addresses[i], t.DataType)
		if err != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name, err))
			if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrCircuitOpen) {
				cycleErr = err
			}
			continue
		}

		dp := domain.NewDataPoint(c.ID(), t.ID, t.Name, applyScale(value, t), dt, t.Unit)
		if t.SchemaID != "" {
			dp.SetMeta("schema_id", t.SchemaID)
		}
		points = append(points, dp)
	}

	return points, cycleErr
}

// readOperand reads the raw bytes for an operand and decodes them.
func (c *Connector) readOperand(a address, dt domain.DataType) (interface{}, domain.DataType, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, domain.DataTypeUnknown, domain.ErrNotConnected
	}

	size, err := a.byteSize(dt)
	if err != nil {
		return nil, domain.DataTypeUnknown, err
	}
	buf := make([]byte, size)

	_, err = c.breaker.Execute(func() (interface{}, error) {
		c.opMu.Lock()
		defer c.opMu.Unlock()
		return nil, c.readArea(client, a, size, buf)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
		}
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: offset=%d: %v", domain.ErrS7ReadFailed, a.offset, err)
	}

	return decodeValue(buf, a, dt)
}

func (c *Connector) readArea(client gos7.Client, a address, size int, buf []byte) error {
	switch a.area {
	case areaDB:
		return client.AGReadDB(a.dbNumber, a.offset, size, buf)
	case areaMerker:
		return client.AGReadMB(a.offset, size, buf)
	case areaInput:
		return client.AGReadEB(a.offset, size, buf)
	default:
		return client.AGReadAB(a.offset, size, buf)
	}
}

func (c *Connector) writeArea(client gos7.Client, a address, buf []byte) error {
	switch a.area {
	case areaDB:
		return client.AGWriteDB(a.dbNumber, a.offset, len(buf), buf)
	case areaMerker:
		return client.AGWriteMB(a.offset, len(buf), buf)
	case areaInput:
		return client.AGWriteEB(a.offset, len(buf), buf)
	default:
		return client.AGWriteAB(a.offset, len(buf), buf)
	}
}

// WriteTag writes a value to a writable operand. Bit operands use
// read-modify-write to preserve adjacent bits.
func (c *Connector) WriteTag(ctx context.Context, tagID string, value interface{}) error {
	var t *config.TagMapping
	var a address
	for i := range c.cfg.Tags {
		if c.cfg.Tags[i].ID == tagID {
			t = &c.cfg.Tags[i]
			a = c.addresses[i]
			break
		}
	}
	if t == nil {
		return fmt.Errorf("%w: %s", domain.ErrTagNotFound, tagID)
	}
	if !t.Writable {
		return fmt.Errorf("%w: %s", domain.ErrTagNotWritable, tagID)
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return domain.ErrNotConnected
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if a.isBit {
		b, ok := toBool(value)
		if !ok {
			return fmt.Errorf("%w: cannot convert %T to bool", domain.ErrInvalidDataType, value)
		}
		current := make([]byte, 1)
		if err := c.readArea(client, a, 1, current); err != nil {
			return fmt.Errorf("%w: read for bit write: %v", domain.ErrS7ReadFailed, err)
		}
		if b {
			current[0] |= 1 << a.bit
		} else {
			current[0] &^= 1 << a.bit
		}
		if err := c.writeArea(client, a, current); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrS7WriteFailed, err)
		}
		c.logger.Debug().Str("tag_id", tagID).Interface("value", value).Msg("Wrote bit")
		return nil
	}

	buf, err := encodeValue(value, t)
	if err != nil {
		return err
	}
	if err := c.writeArea(client, a, buf); err != nil {
		return fmt.Errorf("%w: offset=%d: %v", domain.ErrS7WriteFailed, a.offset, err)
	}

	c.logger.Debug().Str("tag_id", tagID).Interface("value", value).Msg("Wrote operand")
	return nil
}
