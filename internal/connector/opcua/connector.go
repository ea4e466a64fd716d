// Package opcua implements an OPC UA polling connector with browse and
// write-back support.
package opcua

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
)

// Connector polls an OPC UA server. All configured tags are read with a
// single batched ReadRequest per cycle.
type Connector struct {
	base.Connector

	cfg    config.ConnectorConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	client *gopcua.Client

	// opMu serializes service calls; the secure channel handles one
	// request/response pair at a time.
	opMu sync.Mutex

	nodeCacheMu sync.RWMutex
	nodeCache   map[string]*ua.NodeID
}

// New creates an OPC UA connector from its configuration. Node ids are
// parsed eagerly so config typos fail at registration.
func New(cfg config.ConnectorConfig, logger zerolog.Logger) (*Connector, error) {
	c := &Connector{
		Connector: base.New(domain.ConnectorTypeOPCUA, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
		nodeCache: make(map[string]*ua.NodeID, len(cfg.Tags)),
	}
	c.logger = c.Logger()

	for i := range cfg.Tags {
		if _, err := c.nodeID(cfg.Tags[i].Address); err != nil {
			return nil, fmt.Errorf("tag %q: %w", cfg.Tags[i].ID, err)
		}
	}
	return c, nil
}

func (c *Connector) endpointURL() string {
	if c.cfg.Connection.OPCEndpointURL != "" {
		return c.cfg.Connection.OPCEndpointURL
	}
	return "opc.tcp://" + net.JoinHostPort(c.cfg.Connection.Host, strconv.Itoa(c.cfg.Connection.Port))
}

// Connect establishes the secure channel and session. Idempotent.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	opts := []gopcua.Option{
		gopcua.RequestTimeout(c.cfg.Connection.Timeout),
	}

	policy := c.cfg.Connection.OPCSecurityPolicy
	if policy != "" && policy != "None" {
		opts = append(opts,
			gopcua.SecurityPolicy(securityPolicyURI(policy)),
			gopcua.SecurityModeString(c.cfg.Connection.OPCSecurityMode),
		)
	}

	switch c.cfg.Connection.OPCAuthMode {
	case "", "Anonymous":
		opts = append(opts, gopcua.AuthAnonymous())
	case "UserName":
		opts = append(opts, gopcua.AuthUsername(c.cfg.Credentials.Username, c.cfg.Credentials.Password))
	case "Certificate":
		opts = append(opts,
			gopcua.CertificateFile(c.cfg.TLS.CertFile),
			gopcua.PrivateKeyFile(c.cfg.TLS.KeyFile),
		)
	default:
		err := fmt.Errorf("%w: unknown auth mode %q", domain.ErrInvalidConfig, c.cfg.Connection.OPCAuthMode)
		c.Fail(err)
		return err
	}

	client, err := gopcua.NewClient(c.endpointURL(), opts...)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		c.Fail(err)
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		// Release the half-open channel; leaking it can exhaust the
		// server's session limit across retries.
		_ = client.Close(context.Background())
		err = fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		c.Fail(err)
		return err
	}

	c.client = client
	c.SetStatus(domain.StatusConnected)
	c.logger.Info().Str("endpoint", c.endpointURL()).Msg("Connected to server")
	return nil
}

// Disconnect closes the session and secure channel. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Close(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing session")
		}
	}
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

// PollData reads every configured tag in one batched request. Per-node
// failures surface as bad points; only a failed service call fails the cycle.
func (c *Connector) PollData(ctx context.Context) ([]*domain.DataPoint, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	tags := c.cfg.Tags
	points := make([]*domain.DataPoint, 0, len(tags))

	if client == nil {
		for i := range tags {
			points = append(points, domain.NewBadDataPoint(c.ID(), tags[i].ID, tags[i].Name, domain.ErrNotConnected))
		}
		return points, domain.ErrNotConnected
	}

	nodesToRead := make([]*ua.ReadValueID, 0, len(tags))
	for i := range tags {
		nodeID, _ := c.nodeID(tags[i].Address) // validated in New
		nodesToRead = append(nodesToRead, &ua.ReadValueID{
			NodeID:       nodeID,
			AttributeID:  ua.AttributeIDValue,
			DataEncoding: &ua.QualifiedName{},
		})
	}

	req := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        nodesToRead,
	}

	c.opMu.Lock()
	resp, err := client.Read(ctx, req)
	c.opMu.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
		for i := range tags {
			points = append(points, domain.NewBadDataPoint(c.ID(), tags[i].ID, tags[i].Name, err))
		}
		return points, err
	}

	for i := range tags {
		t := &tags[i]
		if i >= len(resp.Results) {
			points = append(points, domain.NewBadDataPoint(c.ID(), t.ID, t.Name,
				fmt.Errorf("%w: missing result", domain.ErrReadFailed)))
			continue
		}
		points = append(points, c.resultToPoint(resp.Results[i], t))
	}
	return points, nil
}

func (c *Connector) resultToPoint(result *ua.DataValue, t *config.TagMapping) *domain.DataPoint {
	quality := statusToQuality(result.Status)
	if quality == domain.QualityBad {
		return domain.NewBadDataPoint(c.ID(), t.ID, t.Name,
			fmt.Errorf("%w: %s", domain.ErrOPCUABadStatus, result.Status))
	}

	value, dt := variantValue(result.Value)

	var dp *domain.DataPoint
	if quality == domain.QualityUncertain {
		dp = domain.NewUncertainDataPoint(c.ID(), t.ID, t.Name, value, dt).WithUnit(t.Unit)
	} else {
		dp = domain.NewDataPoint(c.ID(), t.ID, t.Name, applyScale(value, t), dt, t.Unit)
	}
	if !result.SourceTimestamp.IsZero() {
		dp.WithSourceTimestamp(result.SourceTimestamp)
	}
	if t.SchemaID != "" {
		dp.SetMeta("schema_id", t.SchemaID)
	}
	dp.SetMeta("node_id", t.Address)
	return dp
}

// WriteTag writes a value to a writable node.
func (c *Connector) WriteTag(ctx context.Context, tagID string, value interface{}) error {
	t, ok := c.cfg.TagByID(tagID)
	if !ok {
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

	nodeID, err := c.nodeID(t.Address)
	if err != nil {
		return err
	}
	variant, err := valueToVariant(value, t)
	if err != nil {
		return err
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      nodeID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}

	c.opMu.Lock()
	resp, err := client.Write(ctx, req)
	c.opMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("%w: empty write response", domain.ErrWriteFailed)
	}
	if resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("%w: %s", domain.ErrWriteFailed, resp.Results[0])
	}

	c.logger.Debug().Str("tag_id", tagID).Interface("value", value).Msg("Wrote node")
	return nil
}

// BrowseRoot lists the children of the Objects folder.
func (c *Connector) BrowseRoot(ctx context.Context) ([]domain.BrowseNode, error) {
	return c.Browse(ctx, "ns=0;i="+strconv.Itoa(id.ObjectsFolder))
}

// Browse lists the hierarchical children of a node.
func (c *Connector) Browse(ctx context.Context, nodeIDStr string) ([]domain.BrowseNode, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, domain.ErrNotConnected
	}

	nodeID, err := c.nodeID(nodeIDStr)
	if err != nil {
		return nil, err
	}

	req := &ua.BrowseRequest{
		NodesToBrowse: []*ua.BrowseDescription{{
			NodeID:          nodeID,
			BrowseDirection: ua.BrowseDirectionForward,
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
			IncludeSubtypes: true,
			NodeClassMask:   uint32(ua.NodeClassAll),
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}},
	}

	c.opMu.Lock()
	resp, err := client.Browse(ctx, req)
	c.opMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOPCUABrowseFailed, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: empty browse response", domain.ErrOPCUABrowseFailed)
	}
	result := resp.Results[0]
	if result.StatusCode != ua.StatusOK {
		return nil, fmt.Errorf("%w: %s", domain.ErrOPCUABrowseFailed, result.StatusCode)
	}

	nodes := make([]domain.BrowseNode, 0, len(result.References))
	for _, ref := range result.References {
		nodes = append(nodes, domain.BrowseNode{
			ID:          ref.NodeID.NodeID.String(),
			Name:        ref.DisplayName.Text,
			NodeClass:   ref.NodeClass.String(),
			HasChildren: ref.NodeClass != ua.NodeClassVariable,
		})
	}
	return nodes, nil
}

// ReadValue reads a single node ad hoc, outside the poll cycle.
func (c *Connector) ReadValue(ctx context.Context, address string) (*domain.DataPoint, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, domain.ErrNotConnected
	}

	nodeID, err := c.nodeID(address)
	if err != nil {
		return nil, err
	}

	req := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{{
			NodeID:       nodeID,
			AttributeID:  ua.AttributeIDValue,
			DataEncoding: &ua.QualifiedName{},
		}},
	}

	c.opMu.Lock()
	resp, err := client.Read(ctx, req)
	c.opMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReadFailed, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: empty read response", domain.ErrReadFailed)
	}

	t := &config.TagMapping{ID: address, Name: address, ScaleFactor: 1.0}
	return c.resultToPoint(resp.Results[0], t), nil
}

// nodeID parses and caches a node id string.
func (c *Connector) nodeID(s string) (*ua.NodeID, error) {
	c.nodeCacheMu.RLock()
	cached, ok := c.nodeCache[s]
	c.nodeCacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	nodeID, err := ua.ParseNodeID(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrOPCUAInvalidNodeID, s, err)
	}

	c.nodeCacheMu.Lock()
	c.nodeCache[s] = nodeID
	c.nodeCacheMu.Unlock()
	return nodeID, nil
}

func securityPolicyURI(policy string) string {
	switch policy {
	case "Basic128Rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15
	case "Basic256":
		return ua.SecurityPolicyURIBasic256
	case "Basic256Sha256":
		return ua.SecurityPolicyURIBasic256Sha256
	default:
		return ua.SecurityPolicyURINone
	}
}
