// Package prober implements the Health Prober: a ticker-driven component
// that probes every (record, target) pair known to the Spec Store and
// maintains an up/down/unknown health table with fail-closed semantics.
package prober

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"

	gslbv1 "github.com/cyberun-cloud/simplegslb/api/v1"
	"github.com/cyberun-cloud/simplegslb/internal/store"
)

// ErrProbeFailed wraps every probe failure so callers can distinguish a
// down target from a programming error.
var ErrProbeFailed = errors.New("probe failed")

// Status is the tri-state health of a target, per spec.md §3: an
// endpoint that has never been probed is Unknown, never Up, so a newly
// added or restarted prober fails closed rather than serving traffic to
// an unverified target.
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Sample is the current health of one target.
type Sample struct {
	Status              Status
	ConsecutiveFailures int
	LastChecked         time.Time
	LastError           error
}

// Key identifies a single probed endpoint within a record.
type Key struct {
	DomainKey  string
	RecordName string
	Address    string
	Port       int32
}

// Table is an immutable, goroutine-safe snapshot of health samples
// keyed by Key, handed to the synthesizer at the end of every tick.
type Table struct {
	samples map[Key]Sample
}

// NewTable builds a Table from a caller-supplied sample set, for tests
// that need a health table without running a probe round.
func NewTable(samples map[Key]Sample) *Table {
	if samples == nil {
		samples = map[Key]Sample{}
	}
	return &Table{samples: samples}
}

// Lookup returns the sample for key, or the zero Sample (StatusUnknown)
// if the target has never been probed.
func (t *Table) Lookup(k Key) Sample {
	if t == nil {
		return Sample{}
	}
	s, ok := t.samples[k]
	if !ok {
		return Sample{}
	}
	return s
}

// TickObserver is an optional, no-op-safe extension point a caller can
// use to hang metrics off of a tick without this package depending on a
// metrics system.
type TickObserver interface {
	OnTick(duration time.Duration, probed, up, down int)
	OnOverrun()
}

// Prober runs one probe round per tick against a snapshot of the Spec
// Store, bounded by Concurrency simultaneous in-flight probes.
type Prober struct {
	Store       *store.Store
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	Observer    TickObserver

	mu    sync.RWMutex
	table *Table
}

// New returns a Prober ready to Run. Concurrency defaults to 16 and
// Timeout to half the interval when left zero.
func New(st *store.Store, interval, timeout time.Duration, concurrency int) *Prober {
	if concurrency <= 0 {
		concurrency = 16
	}
	if timeout <= 0 {
		timeout = interval / 2
	}
	return &Prober{
		Store:       st,
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: concurrency,
		table:       &Table{samples: map[Key]Sample{}},
	}
}

// Table returns the most recently completed probe round's results.
func (p *Prober) Table() *Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table
}

// Run ticks every p.Interval until ctx is cancelled, probing a fresh
// Spec Store snapshot each time. If a round is still in flight when the
// next tick fires, that tick is skipped rather than queued, per spec.md
// §5's single-flight tick model.
func (p *Prober) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("prober")
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var inFlight sync.Mutex
	busy := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			inFlight.Lock()
			if busy {
				inFlight.Unlock()
				logger.V(1).Info("previous probe round still running, skipping tick")
				if p.Observer != nil {
					p.Observer.OnOverrun()
				}
				continue
			}
			busy = true
			inFlight.Unlock()

			go func() {
				defer func() {
					inFlight.Lock()
					busy = false
					inFlight.Unlock()
				}()
				p.runOnce(ctx, logger)
			}()
		}
	}
}

func (p *Prober) runOnce(ctx context.Context, logger interface {
	Info(string, ...interface{})
}) {
	start := time.Now()
	snap := p.Store.Snapshot()

	targets := make([]target, 0)
	for _, d := range snap {
		for _, rec := range d.Records {
			for _, t := range rec.Targets {
				targets = append(targets, target{
					domainKey: d.Key,
					record:    rec.Name,
					t:         t,
				})
			}
		}
	}

	results := make([]result, len(targets))
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(p.Concurrency)

	for i, tg := range targets {
		i, tg := i, tg
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, p.Timeout)
			defer cancel()
			err := probe(pctx, tg.t)
			results[i] = result{key: tg.key(), err: err}
			return nil
		})
	}
	_ = g.Wait() // per-probe errors are recorded in results, not fatal to the round

	p.mu.Lock()
	prev := p.table
	next := &Table{samples: make(map[Key]Sample, len(results))}
	up, down := 0, 0
	for _, r := range results {
		sample := nextSample(prev.Lookup(r.key), r.err)
		next.samples[r.key] = sample
		switch sample.Status {
		case StatusUp:
			up++
		case StatusDown:
			down++
		}
	}
	p.table = next
	p.mu.Unlock()

	logger.Info("probe round complete", "probed", len(targets), "up", up, "down", down, "duration", time.Since(start))
	if p.Observer != nil {
		p.Observer.OnTick(time.Since(start), len(targets), up, down)
	}
}

// nextSample applies spec.md §4.2's immediate-transition rule: no flap
// damping, a single failure flips a target to down, a single success
// flips it back to up.
func nextSample(prev Sample, err error) Sample {
	s := Sample{LastChecked: time.Now()}
	if err == nil {
		s.Status = StatusUp
		s.ConsecutiveFailures = 0
		return s
	}
	s.Status = StatusDown
	s.LastError = err
	s.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	return s
}

type target struct {
	domainKey string
	record    string
	t         gslbv1.Target
}

func (tg target) key() Key {
	return Key{DomainKey: tg.domainKey, RecordName: tg.record, Address: tg.t.Address, Port: tg.t.Port}
}

type result struct {
	key Key
	err error
}

// probe dispatches to the protocol-specific check for t, per spec.md
// §4.2: tcp is a bare connect, http/https additionally issue a GET
// against Path and require a 2xx response.
func probe(ctx context.Context, t gslbv1.Target) error {
	addr := net.JoinHostPort(t.Address, fmt.Sprintf("%d", t.Port))

	switch t.Protocol {
	case gslbv1.ProtocolTCP:
		return probeTCP(ctx, addr)
	case gslbv1.ProtocolHTTP:
		return probeHTTP(ctx, "http", addr, t.Path)
	case gslbv1.ProtocolHTTPS:
		return probeHTTP(ctx, "https", addr, t.Path)
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrProbeFailed, t.Protocol)
	}
}

func probeTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return conn.Close()
}

func probeHTTP(ctx context.Context, scheme, addr, path string) error {
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, addr, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	client := &http.Client{
		// No redirects: spec.md §4.2 treats a probe as a check of the
		// exact endpoint declared, not wherever it redirects to.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // probe trust model per spec.md §4.2
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}
	return nil
}
