package bacnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sony/gobreaker"
)

// Connector polls a BACnet/IP device with confirmed ReadProperty requests.
// One request is in flight at a time; the invoke id correlates each reply.
type Connector struct {
	base.Connector

	cfg     config.ConnectorConfig
	logger  zerolog.Logger
	refs    []objectRef
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	conn     net.Conn
	invokeID byte
}

// New creates a BACnet connector from its configuration. Object addresses
// are parsed eagerly.
func New(cfg config.ConnectorConfig, logger zerolog.Logger) (*Connector, error) {
	c := &Connector{
		Connector: base.New(domain.ConnectorTypeBACnet, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
	}
	c.logger = c.Logger()
	c.breaker = base.NewBreaker("bacnet-"+cfg.ID, c.logger)

	c.refs = make([]objectRef, 0, len(cfg.Tags))
	for i := range cfg.Tags {
		ref, err := parseAddress(cfg.Tags[i].Address)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", cfg.Tags[i].ID, err)
		}
		c.refs = append(c.refs, ref)
	}
	return c, nil
}

// Connect opens the UDP socket to the device. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	addr := net.JoinHostPort(c.cfg.Connection.Host, strconv.Itoa(c.cfg.Connection.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		c.Fail(err)
		return err
	}

	c.conn = conn
	c.SetStatus(domain.StatusConnected)
	c.logger.Info().Str("address", addr).Msg("Connected to device")
	return nil
}

// Disconnect closes the socket. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing socket")
		}
	}
	c.conn = nil
	c.SetStatus(domain.StatusDisconnected)
	return nil
}

// Close releases the socket.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Disconnect(ctx)
}

// PollData reads every configured object once. Failed reads yield bad
// points; the cycle fails only when the socket is gone or the context ends.
func (c *Connector) PollData(ctx context.Context) ([]*domain.DataPoint, error) {
	points := make([]*domain.DataPoint, 0, len(c.cfg.Tags))
	var cycleErr error

	for i := range c.cfg.Tags {
		t := &c.cfg.Tags[i]

		if cycleErr != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name, cycleErr))
			continue
		}

		value, dt, err := c.readProperty(ctx, c.refs[i])
		if err != nil {
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name, err))
			if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, domain.ErrCircuitOpen) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				cycleErr = err
			}
			continue
		}

		dp := domain.NewDataPoint(c.ID(), t.ID, t.Name, applyScale(value, t), dt, t.Unit)
		if t.SchemaID != "" {
			dp.SetMeta("schema_id", t.SchemaID)
		}
		dp.SetMeta("object", t.Address)
		points = append(points, dp)
	}

	return points, cycleErr
}

// ReadValue reads one property ad hoc, outside the poll cycle.
func (c *Connector) ReadValue(ctx context.Context, address string) (*domain.DataPoint, error) {
	ref, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	value, dt, err := c.readProperty(ctx, ref)
	if err != nil {
		return nil, err
	}
	return domain.NewDataPoint(c.ID(), address, address, value, dt, ""), nil
}

type decoded struct {
	value    interface{}
	dataType domain.DataType
}

// readProperty runs the exchange through the circuit breaker so a dead
// device stops generating timed-out datagrams every cycle.
func (c *Connector) readProperty(ctx context.Context, ref objectRef) (interface{}, domain.DataType, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		value, dt, err := c.doReadProperty(ctx, ref)
		if err != nil {
			return nil, err
		}
		return decoded{value: value, dataType: dt}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
		}
		return nil, domain.DataTypeUnknown, err
	}
	d := out.(decoded)
	return d.value, d.dataType, nil
}

// doReadProperty performs one confirmed request/response exchange. Stale
// datagrams with earlier invoke ids are skipped.
func (c *Connector) doReadProperty(ctx context.Context, ref objectRef) (interface{}, domain.DataType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, domain.DataTypeUnknown, domain.ErrNotConnected
	}

	c.invokeID++
	invokeID := c.invokeID

	deadline := time.Now().Add(c.cfg.Connection.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, domain.DataTypeUnknown, err
	}

	if _, err := c.conn.Write(encodeReadProperty(invokeID, ref)); err != nil {
		return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, domain.DataTypeUnknown, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
		}

		value, dt, err := decodeReadPropertyAck(buf[:n], invokeID)
		if errors.Is(err, domain.ErrBACnetInvokeMismatch) {
			c.logger.Debug().Msg("Skipping stale datagram")
			continue
		}
		return value, dt, err
	}
}

// applyScale multiplies numeric values by the tag's scale factor.
func applyScale(value interface{}, t *config.TagMapping) interface{} {
	if t.ScaleFactor == 0 || t.ScaleFactor == 1.0 {
		return value
	}
	switch v := value.(type) {
	case uint32:
		return float64(v) * t.ScaleFactor
	case int32:
		return float64(v) * t.ScaleFactor
	case float32:
		return float64(v) * t.ScaleFactor
	case float64:
		return v * t.ScaleFactor
	default:
		return value
	}
}
