package connector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/config"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sensormine/edge-connectors/internal/metrics"
)

// Builder is the factory contract the manager depends on.
type Builder interface {
	New(cfg config.ConnectorConfig) (*Registration, error)
	SupportedTypes() []domain.ConnectorType
}

// ManagerConfig holds manager tuning knobs.
type ManagerConfig struct {
	// AggregateBuffer is the fan-in channel capacity
	AggregateBuffer int

	// BulkTimeout bounds each connector's operation during StartAll/StopAll
	BulkTimeout time.Duration
}

// Manager owns the canonical registry of running connectors, fans their
// event channels into one aggregate stream, and orchestrates bulk lifecycle.
type Manager struct {
	factory Builder
	logger  zerolog.Logger
	metrics *metrics.Registry
	cfg     ManagerConfig

	mu       sync.Mutex
	registry map[string]*entry
	closed   bool

	events    chan domain.Batch
	dropped   uint64
	droppedMu sync.Mutex

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once
	drainWG    sync.WaitGroup
}

// entry couples a registration with its drain goroutine controls.
type entry struct {
	reg       *Registration
	stopDrain chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// close disposes the underlying connector exactly once.
func (e *entry) close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.reg.Connector.Close()
	})
	return e.closeErr
}

// BulkResult is the outcome of one connector's start or stop during a bulk
// operation. Bulk operations never abort on individual failures; callers
// inspect the result list instead.
type BulkResult struct {
	ConnectorID string `json:"connector_id"`
	Skipped     bool   `json:"skipped,omitempty"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

// NewManager creates a connector manager.
func NewManager(factory Builder, cfg ManagerConfig, logger zerolog.Logger, metricsReg *metrics.Registry) *Manager {
	if cfg.AggregateBuffer <= 0 {
		cfg.AggregateBuffer = 1024
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:    factory,
		logger:     logger.With().Str("component", "connector-manager").Logger(),
		metrics:    metricsReg,
		cfg:        cfg,
		registry:   make(map[string]*entry),
		events:     make(chan domain.Batch, cfg.AggregateBuffer),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Events is the aggregate stream of batches from every registered connector.
// Closed when the manager is closed.
func (m *Manager) Events() <-chan domain.Batch {
	return m.events
}

// Register builds a connector from the configuration and inserts it into the
// registry without starting it. Construction and configuration errors are
// returned synchronously.
func (m *Manager) Register(cfg config.ConnectorConfig) (*Registration, error) {
	reg, err := m.factory.New(cfg)
	if err != nil {
		return nil, err
	}

	e := &entry{reg: reg, stopDrain: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = e.close()
		return nil, domain.ErrManagerClosed
	}
	if _, exists := m.registry[cfg.ID]; exists {
		m.mu.Unlock()
		_ = e.close()
		return nil, domain.ErrConnectorExists
	}
	m.registry[cfg.ID] = e
	m.mu.Unlock()

	m.drainWG.Add(1)
	go m.drain(e)

	if m.metrics != nil {
		m.metrics.ConnectorsRegistered.Inc()
		m.metrics.RecordStatus(cfg.ID, string(cfg.Type), string(reg.Connector.Status()))
	}

	m.logger.Info().
		Str("connector_id", cfg.ID).
		Str("protocol", string(cfg.Type)).
		Msg("Registered connector")

	return reg, nil
}

// Update replaces a running connector with one built from the new
// configuration. The live instance is never mutated in place: the old one is
// stopped, disconnected, and disposed before the replacement is registered
// under the same external id.
func (m *Manager) Update(ctx context.Context, cfg config.ConnectorConfig) (*Registration, error) {
	m.mu.Lock()
	_, exists := m.registry[cfg.ID]
	m.mu.Unlock()
	if !exists {
		return nil, domain.ErrConnectorNotFound
	}

	// Validate the replacement before tearing anything down.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := m.Remove(ctx, cfg.ID); err != nil {
		return nil, err
	}
	return m.Register(cfg)
}

// Remove stops event forwarding, removes the connector from the registry,
// and only then disposes it — in that order, so no caller can observe a
// disposed-but-registered connector.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	e, exists := m.registry[id]
	if exists {
		delete(m.registry, id)
	}
	m.mu.Unlock()
	if !exists {
		return domain.ErrConnectorNotFound
	}

	close(e.stopDrain)

	// Stop polling/subscriptions before tearing down the transport.
	m.stopOne(ctx, e)

	err := e.close()

	if m.metrics != nil {
		m.metrics.ConnectorsRegistered.Dec()
		m.metrics.RemoveConnector(id)
	}

	m.logger.Info().Str("connector_id", id).Msg("Removed connector")
	return err
}

// Get returns the registration for a connector id.
func (m *Manager) Get(id string) (*Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[id]
	if !ok {
		return nil, false
	}
	return e.reg, true
}

// List returns all registrations.
func (m *Manager) List() []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Registration, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, e.reg)
	}
	return out
}

// GetByType returns the registrations for one protocol type.
func (m *Manager) GetByType(t domain.ConnectorType) []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Registration
	for _, e := range m.registry {
		if e.reg.Config.Type == t {
			out = append(out, e.reg)
		}
	}
	return out
}

// GetByTenant returns the registrations scoped to one tenant.
func (m *Manager) GetByTenant(tenantID string) []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Registration
	for _, e := range m.registry {
		if e.reg.Config.TenantID == tenantID {
			out = append(out, e.reg)
		}
	}
	return out
}

// StartAll connects and starts every registered connector concurrently.
// A failure on one connector never prevents the others from starting; the
// per-connector outcomes are returned for inspection.
func (m *Manager) StartAll(ctx context.Context) []BulkResult {
	return m.bulk(ctx, "start", m.startOne)
}

// StopAll stops polling/subscriptions and disconnects every registered
// connector concurrently. Best-effort: failures are reported per connector,
// never propagated as a batch failure.
func (m *Manager) StopAll(ctx context.Context) []BulkResult {
	return m.bulk(ctx, "stop", func(ctx context.Context, e *entry) error {
		m.stopOne(ctx, e)
		return nil
	})
}

// Start connects and starts a single registered connector.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.registry[id]
	m.mu.Unlock()
	if !ok {
		return domain.ErrConnectorNotFound
	}
	err := m.startOne(ctx, e)
	if m.metrics != nil {
		m.metrics.RecordStatus(id, string(e.reg.Config.Type), string(e.reg.Connector.Status()))
	}
	return err
}

// Stop stops a single registered connector without removing it.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.registry[id]
	m.mu.Unlock()
	if !ok {
		return domain.ErrConnectorNotFound
	}
	m.stopOne(ctx, e)
	if m.metrics != nil {
		m.metrics.RecordStatus(id, string(e.reg.Config.Type), string(e.reg.Connector.Status()))
	}
	return nil
}

func (m *Manager) bulk(ctx context.Context, op string, fn func(context.Context, *entry) error) []BulkResult {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.registry))
	for _, e := range m.registry {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	results := make([]BulkResult, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()

			id := e.reg.Config.ID
			if op == "start" && !e.reg.Config.Enabled {
				results[i] = BulkResult{ConnectorID: id, Skipped: true}
				return
			}

			opCtx, cancel := context.WithTimeout(ctx, m.cfg.BulkTimeout)
			defer cancel()

			err := fn(opCtx, e)
			res := BulkResult{ConnectorID: id, Err: err}
			if err != nil {
				res.Error = err.Error()
				m.logger.Error().Err(err).
					Str("connector_id", id).
					Str("op", op).
					Msg("Bulk operation failed for connector")
			}
			results[i] = res

			if m.metrics != nil {
				m.metrics.RecordStatus(id, string(e.reg.Config.Type), string(e.reg.Connector.Status()))
			}
		}(i, e)
	}
	wg.Wait()
	return results
}

// startOne connects, then begins polling or subscribing. The polling loop is
// bound to the manager's lifetime, not to the bulk operation's timeout.
func (m *Manager) startOne(ctx context.Context, e *entry) error {
	if m.metrics != nil {
		m.metrics.ConnectAttempts.WithLabelValues(e.reg.Config.ID, string(e.reg.Config.Type)).Inc()
	}
	if err := e.reg.Connector.Connect(ctx); err != nil {
		if m.metrics != nil {
			m.metrics.ConnectErrors.WithLabelValues(e.reg.Config.ID, string(e.reg.Config.Type)).Inc()
		}
		return err
	}
	if e.reg.Poller != nil {
		e.reg.Poller.Start(m.baseCtx)
	}
	if e.reg.Subscriber != nil {
		if err := e.reg.Subscriber.Subscribe(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stopOne stops data flow first, then disconnects — never the reverse, so a
// poll can't fire against a half-torn-down transport. All steps best-effort.
func (m *Manager) stopOne(ctx context.Context, e *entry) {
	if e.reg.Poller != nil {
		e.reg.Poller.Stop()
	}
	if e.reg.Subscriber != nil {
		if err := e.reg.Subscriber.Unsubscribe(ctx); err != nil {
			m.logger.Warn().Err(err).
				Str("connector_id", e.reg.Config.ID).
				Msg("Unsubscribe failed during stop")
		}
	}
	if err := e.reg.Connector.Disconnect(ctx); err != nil {
		m.logger.Warn().Err(err).
			Str("connector_id", e.reg.Config.ID).
			Msg("Disconnect failed during stop")
	}
}

// drain forwards one connector's batches onto the aggregate channel until
// the connector is removed or the manager closes.
func (m *Manager) drain(e *entry) {
	defer m.drainWG.Done()

	src := e.reg.Events()
	if src == nil {
		<-e.stopDrain
		return
	}

	for {
		select {
		case <-e.stopDrain:
			return
		case b, ok := <-src:
			if !ok {
				return
			}
			m.forward(b)
		}
	}
}

// forward publishes a batch on the aggregate channel without blocking the
// producing connector; when the consumer lags, the oldest batch is dropped.
func (m *Manager) forward(b domain.Batch) {
	if m.metrics != nil {
		m.metrics.PointsEmitted.WithLabelValues(b.SourceID).Add(float64(len(b.Points)))
		for _, p := range b.Points {
			if p.Quality != domain.QualityGood {
				m.metrics.BadPoints.WithLabelValues(b.SourceID).Inc()
			}
		}
	}

	select {
	case m.events <- b:
		return
	default:
	}

	select {
	case <-m.events:
		m.droppedMu.Lock()
		m.dropped++
		m.droppedMu.Unlock()
		if m.metrics != nil {
			m.metrics.BatchesDropped.WithLabelValues(b.SourceID).Inc()
		}
	default:
	}

	select {
	case m.events <- b:
	default:
	}
}

// DroppedBatches returns how many batches the aggregate channel has shed.
func (m *Manager) DroppedBatches() uint64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.dropped
}

// Close stops every connector, disposes every instance, and clears the
// registry. Safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		entries := make([]*entry, 0, len(m.registry))
		for _, e := range m.registry {
			entries = append(entries, e)
		}
		m.registry = make(map[string]*entry)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.BulkTimeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, e := range entries {
			wg.Add(1)
			go func(e *entry) {
				defer wg.Done()
				m.stopOne(ctx, e)
				close(e.stopDrain)
				if err := e.close(); err != nil {
					m.logger.Warn().Err(err).
						Str("connector_id", e.reg.Config.ID).
						Msg("Error disposing connector")
				}
			}(e)
		}
		wg.Wait()

		m.baseCancel()
		m.drainWG.Wait()
		close(m.events)

		m.logger.Info().Int("connectors", len(entries)).Msg("Connector manager closed")
	})
	return nil
}
