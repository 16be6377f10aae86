// Package coordinator wires the Spec Store, Health Prober, Zone
// Synthesizer and Atomic Publisher together per the single-writer
// concurrency model: the watch consumer mutates the store concurrently,
// the prober runs its rounds on its own ticker, and a single loop here
// synthesizes and publishes after each completed round. Synthesis reads
// a fresh store snapshot, not the one the probe round used, so a target
// added after that round started has no sample yet and is left out
// (fail-closed) until the next round.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/cyberun-cloud/simplegslb/internal/prober"
	"github.com/cyberun-cloud/simplegslb/internal/publish"
	"github.com/cyberun-cloud/simplegslb/internal/serial"
	"github.com/cyberun-cloud/simplegslb/internal/store"
	"github.com/cyberun-cloud/simplegslb/internal/synth"
)

// TickObserver is the same no-op-safe extension point prober.TickObserver
// offers, re-exported here so callers only need to implement one
// interface to observe the whole pipeline.
type TickObserver = prober.TickObserver

// Config collects everything a Coordinator needs to run.
type Config struct {
	Store       *store.Store
	Interval    time.Duration
	ProbeTimeout time.Duration
	Concurrency int
	GeoIP       bool
	GeoIPDBPath string
	SerialDBPath string
	PublishDir  string
	Reload      publish.ReloadFunc
	Observer    TickObserver
}

// Coordinator runs the Health Prober's tick loop and, after each
// completed probe round, synthesizes and publishes a new generation.
type Coordinator struct {
	cfg     Config
	prober  *prober.Prober
	synth   *synth.Synthesizer
	publish *publish.Publisher
	serials *serial.Store
}

// New builds a Coordinator, opening the durable serial store and the
// Atomic Publisher's root directory as a side effect.
func New(cfg Config) (*Coordinator, error) {
	serials, err := serial.Open(cfg.SerialDBPath)
	if err != nil {
		return nil, fmt.Errorf("open serial store: %w", err)
	}

	pub, err := publish.New(cfg.PublishDir, cfg.Reload)
	if err != nil {
		serials.Close()
		return nil, fmt.Errorf("open publisher: %w", err)
	}

	p := prober.New(cfg.Store, cfg.Interval, cfg.ProbeTimeout, cfg.Concurrency)
	p.Observer = cfg.Observer

	sy := synth.New(serials, synth.Options{
		TTL:         uint32(cfg.Interval.Seconds()),
		GeoIP:       cfg.GeoIP,
		GeoIPDBPath: cfg.GeoIPDBPath,
	})

	return &Coordinator{cfg: cfg, prober: p, synth: sy, publish: pub, serials: serials}, nil
}

// Close releases the durable serial store's handle.
func (c *Coordinator) Close() error {
	return c.serials.Close()
}

// CurrentPath is the stable path the data plane should read its
// Corefile and zone files from.
func (c *Coordinator) CurrentPath() string {
	return c.publish.CurrentPath()
}

// Run drives the tick loop until ctx is cancelled: probe, then
// synthesize from the just-completed round's table, then publish. A
// probe round skipped because the previous one overran also skips
// synthesis and publish for that tick, per spec.md §5.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("coordinator")
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- c.prober.Run(ctx) }()

	lastTable := c.prober.Table()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			table := c.prober.Table()
			if table == lastTable {
				// Nothing new since the last tick: the prober's round is
				// still running or was skipped, so there's nothing fresh
				// to synthesize from.
				continue
			}
			lastTable = table

			if err := c.tick(ctx, logger, table); err != nil {
				logger.Error(err, "tick failed")
			}
		}
	}
}

func (c *Coordinator) tick(ctx context.Context, logger interface {
	Info(string, ...interface{})
	Error(error, string, ...interface{})
}, table *prober.Table) error {
	snap := c.cfg.Store.Snapshot()

	res, err := c.synth.Synthesize(snap, table)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	published, err := c.publish.Publish(res)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if published {
		logger.Info("published new generation", "zones", len(res.Zones))
	}
	return nil
}
