package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetherview/scadabridge/pkg/observability"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/upstream"
)

// PointReader reads a single point value from the upstream system.
type PointReader interface {
	ReadPoint(ctx context.Context, tag string) (upstream.PointValue, error)
}

// RegistrySource yields the current set of configured points.
type RegistrySource interface {
	Snapshot() *registry.Snapshot
}

// Status is a point-in-time view of the collector, served by the status API.
type Status struct {
	Running          bool          `json:"running"`
	SamplesCollected uint64        `json:"samples_collected"`
	ErrorsCount      uint64        `json:"errors_count"`
	BufferSamples    int           `json:"buffer_samples"`
	Uptime           time.Duration `json:"uptime"`
	Degraded         bool          `json:"degraded"`
}

// Collector polls every registered point on a fixed interval and publishes
// the resulting samples to the buffer and hub.
type Collector struct {
	reader   PointReader
	source   RegistrySource
	buffer   *Buffer
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger

	running   atomic.Bool
	samples   atomic.Uint64
	errors    atomic.Uint64
	degraded  atomic.Bool
	startedAt time.Time
	startMu   sync.Mutex
}

// NewCollector constructs a collector. The interval must be positive.
func NewCollector(reader PointReader, source RegistrySource, buffer *Buffer, hub *Hub, interval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		reader:   reader,
		source:   source,
		buffer:   buffer,
		hub:      hub,
		interval: interval,
		logger:   logger,
	}
}

// Run polls on the configured interval until ctx is cancelled. The first
// sample is taken immediately so subscribers do not wait a full interval.
func (c *Collector) Run(ctx context.Context) error {
	c.startMu.Lock()
	c.startedAt = time.Now()
	c.startMu.Unlock()
	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Info("collector started", "interval", c.interval.String())

	c.collectOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped",
				"samples_collected", c.samples.Load(),
				"errors", c.errors.Load())
			return ctx.Err()
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

// collectOnce reads all registered points and publishes one sample. A point
// that fails to read is recorded in the sample's Missing list rather than
// aborting the tick. If every read fails the sample is marked degraded.
func (c *Collector) collectOnce(ctx context.Context) {
	snap := c.source.Snapshot()
	defs := snap.Points()

	sample := Sample{
		Timestamp: time.Now(),
		Values:    make(map[string]float64, len(defs)),
	}

	for _, def := range defs {
		pv, err := c.reader.ReadPoint(ctx, def.Tag)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.errors.Add(1)
			observability.MissingPointReads.Inc()
			sample.Missing = append(sample.Missing, def.ID)
			c.logger.Warn("point read failed", "point", def.ID, "tag", def.Tag, "error", err)
			continue
		}
		sample.Values[def.ID] = pv.Value
	}

	degraded := len(defs) > 0 && len(sample.Values) == 0
	sample.Degraded = degraded
	c.degraded.Store(degraded)
	if degraded {
		observability.DegradedTicks.Inc()
		c.logger.Warn("all point reads failed this tick", "points", len(defs))
	}

	c.samples.Add(1)
	observability.SamplesCollected.Inc()
	c.buffer.Append(sample)
	c.hub.Broadcast(sample)
}

// Status reports collector health counters.
func (c *Collector) Status() Status {
	c.startMu.Lock()
	started := c.startedAt
	c.startMu.Unlock()

	var uptime time.Duration
	if c.running.Load() && !started.IsZero() {
		uptime = time.Since(started)
	}
	return Status{
		Running:          c.running.Load(),
		SamplesCollected: c.samples.Load(),
		ErrorsCount:      c.errors.Load(),
		BufferSamples:    c.buffer.Len(),
		Uptime:           uptime,
		Degraded:         c.degraded.Load(),
	}
}
