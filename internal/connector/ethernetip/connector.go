package ethernetip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sony/gobreaker"
)

// rootNodeID is the synthetic browse root representing the controller.
const rootNodeID = "controller"

// Connector is a polling connector for EtherNet/IP controllers. It owns one
// TCP connection; requests on it are serialized, and the negotiated session
// handle is guarded by its own narrow lock because concurrent diagnostics
// reads reuse it.
type Connector struct {
	base.Connector

	cfg    config.ConnectorConfig
	logger zerolog.Logger

	// dial is swappable for tests
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	connMu sync.Mutex // serializes the request/response exchange
	conn   net.Conn

	sessionMu sync.Mutex // guards only the session handle read-modify-write
	session   uint32

	senderCtx atomic.Uint64
	breaker   *gobreaker.CircuitBreaker
}

// New creates an EtherNet/IP connector from its configuration.
func New(cfg config.ConnectorConfig, logger zerolog.Logger) (*Connector, error) {
	c := &Connector{
		Connector: base.New(domain.ConnectorTypeEtherNetIP, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
	}
	c.logger = c.Logger()

	dialer := &net.Dialer{}
	c.dial = dialer.DialContext

	c.breaker = base.NewBreaker("eip-"+cfg.ID, c.logger)

	return c, nil
}

func (c *Connector) address() string {
	return net.JoinHostPort(c.cfg.Connection.Host, strconv.Itoa(c.cfg.Connection.Port))
}

// Connect opens the TCP socket and performs the RegisterSession handshake.
// Idempotent: connecting while connected is a logged no-op.
func (c *Connector) Connect(ctx context.Context) error {
	if c.Status() == domain.StatusConnected {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.dial(dialCtx, "tcp", c.address())
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		c.Fail(err)
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.registerSession(dialCtx); err != nil {
		c.connMu.Lock()
		_ = conn.Close()
		c.conn = nil
		c.connMu.Unlock()
		c.Fail(err)
		return err
	}

	c.SetStatus(domain.StatusConnected)
	c.logger.Info().
		Str("address", c.address()).
		Uint32("session", c.sessionHandle()).
		Msg("Registered EtherNet/IP session")
	return nil
}

func (c *Connector) registerSession(ctx context.Context) error {
	h, _, err := c.exchange(ctx, cmdRegisterSession, registerSessionData())
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	if h.Status != 0 || h.SessionHandle == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCIPSessionRejected, encapStatusText(h.Status))
	}

	c.sessionMu.Lock()
	c.session = h.SessionHandle
	c.sessionMu.Unlock()
	return nil
}

func (c *Connector) sessionHandle() uint32 {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

// Disconnect sends UnregisterSession best-effort before closing the socket.
// The target never replies to it (it just drops the TCP connection), so the
// request is written without awaiting a response. The session handle is
// zeroed under the same lock used for registration. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.Status() == domain.StatusDisconnected {
		c.logger.Debug().Msg("Disconnect called while already disconnected")
		return nil
	}

	if session := c.sessionHandle(); session != 0 {
		c.connMu.Lock()
		if c.conn != nil {
			pkt, err := encodePacket(cmdUnregisterSession, session, c.senderCtx.Add(1), nil)
			if err == nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
				_, err = c.conn.Write(pkt)
			}
			if err != nil {
				c.logger.Debug().Err(err).Msg("UnregisterSession send failed, closing socket anyway")
			}
		}
		c.connMu.Unlock()
	}

	c.sessionMu.Lock()
	c.session = 0
	c.sessionMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.SetStatus(domain.StatusDisconnected)
	c.logger.Info().Msg("Disconnected from controller")
	return nil
}

// Close releases the transport. Disconnection is attempted even when the
// connector is in an error state.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Disconnect(ctx)
}

// PollData reads every configured tag in order. Each tag failure is isolated:
// a bad read yields one bad-quality point and the cycle continues, so one
// cycle always returns exactly one point per configured tag.
func (c *Connector) PollData(ctx context.Context) ([]*domain.DataPoint, error) {
	points := make([]*domain.DataPoint, 0, len(c.cfg.Tags))
	var cycleErr error

	for i := range c.cfg.Tags {
		tag := &c.cfg.Tags[i]

		if err := ctx.Err(); err != nil {
			// Cancelled mid-cycle: emit bad points for the remaining
			// tags to preserve the count invariant.
			points = append(points, c.badPoint(tag, err))
			cycleErr = err
			continue
		}

		dp, err := c.readTag(ctx, tag)
		if err != nil {
			c.logger.Debug().Err(err).Str("tag", tag.Address).Msg("Tag read failed")
			points = append(points, c.badPoint(tag, err))
			if errors.Is(err, domain.ErrNotConnected) {
				cycleErr = err
			}
			continue
		}
		points = append(points, dp)
	}

	return points, cycleErr
}

func (c *Connector) badPoint(tag *config.TagMapping, err error) *domain.DataPoint {
	dp := domain.NewBadDataPoint(c.ID(), tag.ID, tag.Name, err)
	if tag.SchemaID != "" {
		dp.SetMeta("schema_id", tag.SchemaID)
	}
	return dp
}

func (c *Connector) readTag(ctx context.Context, tag *config.TagMapping) (*domain.DataPoint, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doReadTag(ctx, tag.Address, tag.ElementCount)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
		}
		return nil, err
	}
	raw := out.(decoded)

	value := applyScale(raw.value, raw.dataType, tag.ScaleFactor)
	dp := domain.NewDataPoint(c.ID(), tag.ID, tag.Name, value, raw.dataType, tag.Unit)
	if tag.SchemaID != "" {
		dp.SetMeta("schema_id", tag.SchemaID)
	}
	return dp, nil
}

type decoded struct {
	value    interface{}
	dataType domain.DataType
}

func (c *Connector) doReadTag(ctx context.Context, address string, elements uint16) (decoded, error) {
	req, err := buildReadRequest(address, elements)
	if err != nil {
		return decoded{}, err
	}
	cip, err := c.roundTrip(ctx, req)
	if err != nil {
		return decoded{}, err
	}
	reply, err := parseReply(cip, svcReadTag)
	if err != nil {
		return decoded{}, err
	}
	value, dataType, err := decodeValue(reply.Payload)
	if err != nil {
		return decoded{}, err
	}
	return decoded{value: value, dataType: dataType}, nil
}

// WriteTag writes a value to a configured tag. The CIP type code and raw
// little-endian bytes are derived from the tag's configured data type; a
// nonzero status in the reply is a failure.
func (c *Connector) WriteTag(ctx context.Context, tagID string, value interface{}) error {
	tag, ok := c.cfg.TagByID(tagID)
	if !ok {
		return domain.ErrTagNotFound
	}
	if !tag.Writable {
		return domain.ErrTagNotWritable
	}

	typeCode, data, err := encodeValue(tag.DataType, value)
	if err != nil {
		return err
	}
	req, err := buildWriteRequest(tag.Address, typeCode, tag.ElementCount, data)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		cip, err := c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
		if _, err := parseReply(cip, svcWriteTag); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}

	c.logger.Debug().Str("tag", tag.Address).Msg("Wrote tag")
	return nil
}

// roundTrip sends one CIP request wrapped in SendRRData and returns the CIP
// reply payload.
func (c *Connector) roundTrip(ctx context.Context, cipReq []byte) ([]byte, error) {
	h, body, err := c.exchange(ctx, cmdSendRRData, sendRRData(cipReq, uint16(c.cfg.Connection.Timeout/time.Second)))
	if err != nil {
		return nil, err
	}
	if h.Status != 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCIPEncapStatus, encapStatusText(h.Status))
	}
	return parseRRData(body)
}

// exchange performs one encapsulation request/response on the socket. The
// whole exchange is serialized: the connector owns exactly one TCP channel.
func (c *Connector) exchange(ctx context.Context, command uint16, data []byte) (header, []byte, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return header{}, nil, domain.ErrNotConnected
	}

	pkt, err := encodePacket(command, c.sessionHandle(), c.senderCtx.Add(1), data)
	if err != nil {
		return header{}, nil, err
	}

	deadline := time.Now().Add(c.cfg.Connection.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return header{}, nil, err
	}

	if _, err := c.conn.Write(pkt); err != nil {
		return header{}, nil, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}
	h, body, err := readPacket(c.conn)
	if err != nil {
		return header{}, nil, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}
	return h, body, nil
}

// ReadValue reads an arbitrary symbolic address for interactive diagnostics.
func (c *Connector) ReadValue(ctx context.Context, address string) (*domain.DataPoint, error) {
	raw, err := c.doReadTag(ctx, address, 1)
	if err != nil {
		return nil, err
	}
	return domain.NewDataPoint(c.ID(), address, address, raw.value, raw.dataType, ""), nil
}

// BrowseRoot returns the controller as a single root node. This connector
// does not enumerate the live tag database; browsing echoes configuration.
func (c *Connector) BrowseRoot(ctx context.Context) ([]domain.BrowseNode, error) {
	return []domain.BrowseNode{{
		ID:          rootNodeID,
		Name:        c.Name(),
		NodeClass:   "controller",
		HasChildren: len(c.cfg.Tags) > 0,
	}}, nil
}

// Browse returns the configured tag mappings as children of the root node.
func (c *Connector) Browse(ctx context.Context, nodeID string) ([]domain.BrowseNode, error) {
	if nodeID != rootNodeID {
		return nil, nil
	}
	nodes := make([]domain.BrowseNode, 0, len(c.cfg.Tags))
	for i := range c.cfg.Tags {
		tag := &c.cfg.Tags[i]
		nodes = append(nodes, domain.BrowseNode{
			ID:       tag.ID,
			Name:     tag.Name,
			DataType: string(tag.DataType),
		})
	}
	return nodes, nil
}

// applyScale applies the optional linear scale factor to numeric values
// after the raw CIP value is decoded.
func applyScale(value interface{}, dataType domain.DataType, scale float64) interface{} {
	if scale == 0 || scale == 1.0 {
		return value
	}
	switch dataType {
	case domain.DataTypeInt16, domain.DataTypeUInt16,
		domain.DataTypeInt32, domain.DataTypeUInt32,
		domain.DataTypeInt64, domain.DataTypeUInt64,
		domain.DataTypeFloat32, domain.DataTypeFloat64:
		if f, ok := toFloat64(value); ok {
			return f * scale
		}
	}
	return value
}
