package extmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/connector/base"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sensormine/edge-connectors/internal/metrics"
)

// connectPollInterval is how often Connect re-checks the client state while
// waiting for the broker handshake.
const connectPollInterval = 100 * time.Millisecond

// Connector integrates a third-party MQTT broker as a subscription
// connector. Reconnection is delegated to the paho managed client; after an
// automatic reconnect the broker session state restores subscriptions, so
// the connector does not resubscribe manually.
type Connector struct {
	base.Connector

	cfg     config.ConnectorConfig
	logger  zerolog.Logger
	metrics *metrics.Registry

	clientMu sync.RWMutex
	client   pahomqtt.Client

	subMu  sync.RWMutex
	active map[string]*config.SubscriptionMapping // subscription id -> mapping

	events  chan domain.Batch
	msgs    atomic.Uint64
	dropped atomic.Uint64
}

// New creates an external MQTT connector from its configuration.
func New(cfg config.ConnectorConfig, eventBuffer int, logger zerolog.Logger, metricsReg *metrics.Registry) (*Connector, error) {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	c := &Connector{
		Connector: base.New(domain.ConnectorTypeMQTT, cfg.ID, cfg.Name, cfg.TenantID, logger),
		cfg:       cfg,
		metrics:   metricsReg,
		active:    make(map[string]*config.SubscriptionMapping),
		events:    make(chan domain.Batch, eventBuffer),
	}
	c.logger = c.Logger()
	return c, nil
}

// Events is the channel message batches are pushed on.
func (c *Connector) Events() <-chan domain.Batch {
	return c.events
}

func (c *Connector) brokerURL() string {
	if c.cfg.Connection.BrokerURL != "" {
		return c.cfg.Connection.BrokerURL
	}
	scheme := "tcp"
	if c.cfg.TLS.Enabled {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(c.cfg.Connection.Host, strconv.Itoa(c.cfg.Connection.Port))
}

// Connect builds the managed client, starts it, and blocks until the broker
// handshake completes or the configured timeout expires.
func (c *Connector) Connect(ctx context.Context) error {
	if c.Status() == domain.StatusConnected {
		c.logger.Debug().Msg("Connect called while already connected")
		return nil
	}
	c.SetStatus(domain.StatusConnecting)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL())

	clientID := c.cfg.Connection.ClientID
	if clientID == "" {
		clientID = "edge-connector-" + c.cfg.ID
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(c.cfg.Connection.CleanSession)
	opts.SetAutoReconnect(c.cfg.Connection.AutoReconnect)
	if c.cfg.Connection.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.Connection.KeepAlive)
	}
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)

	if c.cfg.Credentials.Username != "" {
		opts.SetUsername(c.cfg.Credentials.Username)
		opts.SetPassword(c.cfg.Credentials.Password)
	}

	if c.cfg.TLS.Enabled {
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			c.Fail(err)
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.SetStatus(domain.StatusConnected)
		c.logger.Info().Str("broker", c.brokerURL()).Msg("Connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.cfg.Connection.AutoReconnect {
			c.SetStatus(domain.StatusReconnecting)
		} else {
			c.SetStatus(domain.StatusDisconnected)
		}
		c.logger.Warn().Err(err).Msg("Broker connection lost")
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.SetStatus(domain.StatusReconnecting)
		if c.metrics != nil {
			c.metrics.Reconnects.WithLabelValues(c.ID()).Inc()
		}
	})

	client := pahomqtt.NewClient(opts)

	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	token := client.Connect()

	// Block until connected, polling the client state, bounded by the
	// configured connect timeout.
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	for !client.IsConnected() {
		if token.Error() != nil {
			err := fmt.Errorf("%w: %v", domain.ErrConnectionFailed, token.Error())
			c.Fail(err)
			return err
		}
		if time.Now().After(deadline) {
			err := fmt.Errorf("%w after %s", domain.ErrMQTTConnectTimeout, c.cfg.ConnectTimeout)
			c.Fail(err)
			client.Disconnect(0)
			return err
		}
		select {
		case <-ctx.Done():
			c.Fail(ctx.Err())
			client.Disconnect(0)
			return ctx.Err()
		case <-time.After(connectPollInterval):
		}
	}

	c.SetStatus(domain.StatusConnected)
	return nil
}

func (c *Connector) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.TLS.InsecureSkipVerify,
	}

	if c.cfg.TLS.CAFile != "" {
		caCert, err := os.ReadFile(c.cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if c.cfg.TLS.CertFile != "" && c.cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.TLS.CertFile, c.cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Subscribe activates the named subscription mappings; with no ids, every
// configured subscription is activated.
func (c *Connector) Subscribe(ctx context.Context, ids ...string) error {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()
	if client == nil || !client.IsConnected() {
		return domain.ErrMQTTNotConnected
	}

	targets := c.selectSubscriptions(ids)
	for _, sub := range targets {
		token := client.Subscribe(sub.Topic, sub.QoS, c.onMessage)
		if !token.WaitTimeout(c.cfg.Connection.Timeout) {
			return fmt.Errorf("%w: %s: timeout", domain.ErrMQTTSubscribeFailed, sub.Topic)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrMQTTSubscribeFailed, sub.Topic, token.Error())
		}

		c.subMu.Lock()
		c.active[sub.ID] = sub
		c.subMu.Unlock()

		c.logger.Info().Str("topic", sub.Topic).Str("subscription_id", sub.ID).Msg("Subscribed")
	}
	return nil
}

// Unsubscribe deactivates the named subscription mappings; with no ids,
// every active subscription is deactivated.
func (c *Connector) Unsubscribe(ctx context.Context, ids ...string) error {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()
	if client == nil {
		return nil
	}

	targets := c.selectSubscriptions(ids)
	for _, sub := range targets {
		c.subMu.Lock()
		_, wasActive := c.active[sub.ID]
		delete(c.active, sub.ID)
		c.subMu.Unlock()
		if !wasActive {
			continue
		}

		if client.IsConnected() {
			token := client.Unsubscribe(sub.Topic)
			if token.WaitTimeout(c.cfg.Connection.Timeout) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", sub.Topic).Msg("Unsubscribe failed")
			}
		}
	}
	return nil
}

func (c *Connector) selectSubscriptions(ids []string) []*config.SubscriptionMapping {
	if len(ids) == 0 {
		out := make([]*config.SubscriptionMapping, 0, len(c.cfg.Subscriptions))
		for i := range c.cfg.Subscriptions {
			out = append(out, &c.cfg.Subscriptions[i])
		}
		return out
	}
	var out []*config.SubscriptionMapping
	for _, id := range ids {
		for i := range c.cfg.Subscriptions {
			if c.cfg.Subscriptions[i].ID == id {
				out = append(out, &c.cfg.Subscriptions[i])
			}
		}
	}
	return out
}

// Subscriptions returns the ids of the currently active subscriptions.
func (c *Connector) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.active))
	for id := range c.active {
		out = append(out, id)
	}
	return out
}

func (c *Connector) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.handleMessage(msg.Topic(), msg.Payload())
}

// handleMessage routes one incoming message to the longest matching active
// subscription and emits its points as a batch.
func (c *Connector) handleMessage(topic string, payload []byte) {
	c.msgs.Add(1)
	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(c.ID()).Inc()
	}

	sub := c.matchSubscription(topic)
	if sub == nil {
		c.logger.Debug().Str("topic", topic).Msg("Message on unmapped topic dropped")
		return
	}

	points := parsePayload(c.ID(), sub, topic, payload)
	if len(points) == 0 {
		return
	}
	c.emit(domain.Batch{SourceID: c.ID(), Points: points})
}

// matchSubscription finds the active mapping for a topic: exact filter
// match first, then wildcard filters, longest first.
func (c *Connector) matchSubscription(topic string) *config.SubscriptionMapping {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	filters := make([]string, 0, len(c.active))
	byFilter := make(map[string]*config.SubscriptionMapping, len(c.active))
	for _, sub := range c.active {
		filters = append(filters, sub.Topic)
		byFilter[sub.Topic] = sub
	}

	filter, ok := bestFilter(filters, topic)
	if !ok {
		return nil
	}
	return byFilter[filter]
}

// emit delivers a batch without blocking the broker client's I/O thread.
func (c *Connector) emit(b domain.Batch) {
	select {
	case c.events <- b:
		return
	default:
	}

	select {
	case <-c.events:
		c.dropped.Add(1)
	default:
	}

	select {
	case c.events <- b:
	default:
		c.dropped.Add(1)
	}
}

// Publish pushes a message out through the broker, independent of the
// subscription path (command/config use cases).
func (c *Connector) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()
	if client == nil || !client.IsConnected() {
		return domain.ErrMQTTNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if token.Error() != nil {
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
	}
	return nil
}

// Disconnect stops the managed client. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.Status() == domain.StatusDisconnected {
		c.logger.Debug().Msg("Disconnect called while already disconnected")
		return nil
	}

	c.clientMu.Lock()
	client := c.client
	c.client = nil
	c.clientMu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}

	c.SetStatus(domain.StatusDisconnected)
	c.logger.Info().Msg("Disconnected from broker")
	return nil
}

// Close releases the broker client.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Disconnect(ctx)
}

// MessagesReceived returns the count of broker messages seen.
func (c *Connector) MessagesReceived() uint64 {
	return c.msgs.Load()
}
