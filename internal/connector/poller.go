// Package connector wires protocol connectors into the manager: the polling
// loop, the capability registration record, the factory, and the registry.
package connector

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensormine/edge-connectors/internal/domain"
	"github.com/sensormine/edge-connectors/internal/metrics"
)

// Poller runs the cancellable timer loop for one polling connector. The loop
// is a single goroutine calling PollData synchronously, so at most one cycle
// is ever in flight; a cycle that overruns its interval delays the next tick
// rather than overlapping it.
type Poller struct {
	conn     domain.PollingConnector
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Registry

	events chan domain.Batch

	// lifecycle guards the running flag and cancel handle together so a
	// Stop racing a Start never observes the flag set with cancel unassigned.
	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	cycles   atomic.Uint64
	errors   atomic.Uint64
	overruns atomic.Uint64
	dropped  atomic.Uint64
}

// NewPoller creates a poller for the given connector. The events channel
// capacity is buffer; when it fills, the oldest batch is dropped so the
// producing loop never stalls on a slow consumer.
func NewPoller(conn domain.PollingConnector, interval time.Duration, buffer int, logger zerolog.Logger, metricsReg *metrics.Registry) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Poller{
		conn:     conn,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Str("connector_id", conn.ID()).Logger(),
		metrics:  metricsReg,
		events:   make(chan domain.Batch, buffer),
	}
}

// Events is the channel poll cycle batches are emitted on. The channel is
// never closed; consumers stop via their own signal.
func (p *Poller) Events() <-chan domain.Batch {
	return p.events
}

// Start begins the polling loop. Idempotent.
func (p *Poller) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Poller already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		// 0-10% jitter spreads connector cycles over time so many
		// connectors on one interval don't burst together.
		if jitterMax := p.interval / 10; jitterMax > 0 {
			jitter := time.Duration(rand.Int63n(int64(jitterMax)))
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(jitter):
			}
		}

		p.logger.Debug().Dur("interval", p.interval).Msg("Starting polling loop")

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll(loopCtx)

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.poll(loopCtx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight cycle to finish.
// Idempotent.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.lifecycle.Unlock()
		return
	}
	cancel := p.cancel
	p.lifecycle.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Debug().
		Uint64("cycles", p.cycles.Load()).
		Uint64("errors", p.errors.Load()).
		Msg("Polling loop stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

func (p *Poller) poll(ctx context.Context) {
	start := time.Now()
	p.cycles.Add(1)

	points, err := p.conn.PollData(ctx)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.PollCycles.WithLabelValues(p.conn.ID()).Inc()
		p.metrics.PollDuration.WithLabelValues(p.conn.ID(), string(p.conn.Type())).Observe(duration.Seconds())
	}

	if err != nil {
		p.errors.Add(1)
		if p.metrics != nil {
			p.metrics.PollErrors.WithLabelValues(p.conn.ID()).Inc()
		}
		p.logger.Error().Err(err).Msg("Poll cycle failed")
	}

	if duration > p.interval {
		p.overruns.Add(1)
		p.logger.Warn().
			Dur("duration", duration).
			Dur("interval", p.interval).
			Msg("Poll cycle overran its interval")
	}

	if len(points) == 0 {
		return
	}
	p.emit(domain.Batch{SourceID: p.conn.ID(), Points: points})
}

// emit delivers a batch without ever blocking the loop: when the channel is
// full the oldest batch is discarded first.
func (p *Poller) emit(b domain.Batch) {
	select {
	case p.events <- b:
		return
	default:
	}

	select {
	case <-p.events:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.BatchesDropped.WithLabelValues(p.conn.ID()).Inc()
		}
	default:
	}

	select {
	case p.events <- b:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns a snapshot of the loop counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Cycles:   p.cycles.Load(),
		Errors:   p.errors.Load(),
		Overruns: p.overruns.Load(),
		Dropped:  p.dropped.Load(),
	}
}

// PollerStats is a point-in-time snapshot of a poller's counters.
type PollerStats struct {
	Cycles   uint64 `json:"cycles"`
	Errors   uint64 `json:"errors"`
	Overruns uint64 `json:"overruns"`
	Dropped  uint64 `json:"dropped"`
}
