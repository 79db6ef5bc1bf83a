// Package scheduler drives repeated and on-demand certificate probing over
// the registered domain set. It owns the periodic sweep timer, bounds probe
// concurrency, paces probe launches, and guarantees at most one in-flight
// scan per domain.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"certwatch/internal/domain"
	"certwatch/internal/prober"
	"certwatch/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrScanInFlight is returned when a scan is requested for a domain that is
// already being probed.
var ErrScanInFlight = errors.New("scheduler: scan already in flight for domain")

// Clock supplies the current time. Injectable so sweep timing and record
// timestamps are deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}

// Prober is the single-probe contract the scheduler depends on.
type Prober interface {
	Probe(ctx context.Context, hostname string, port int) (prober.Result, error)
}

// Config tunes a Scheduler.
type Config struct {
	// Schedule is a robfig/cron spec for periodic sweeps, e.g. "@every 12h".
	Schedule string
	// Concurrency is the worker-pool size for probes within a sweep.
	Concurrency int
	// ProbesPerSecond paces probe launches across the pool.
	ProbesPerSecond float64
	// SweepTimeout bounds a whole sweep; a stalled sweep is cancelled and
	// its in-flight probes abandoned.
	SweepTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "@every 12h"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ProbesPerSecond <= 0 {
		c.ProbesPerSecond = 5
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 30 * time.Minute
	}
}

// SweepStats summarizes one completed sweep.
type SweepStats struct {
	Total    int                 `json:"total"`
	Recorded int                 `json:"recorded"`
	Failures int                 `json:"failures"`
	Skipped  int                 `json:"skipped"`
	Tiers    map[domain.Tier]int `json:"tiers"`
	Duration string              `json:"duration"`
}

// Scheduler owns the sweep timer and the probe worker pool.
type Scheduler struct {
	registry repository.DomainRegistry
	records  repository.RecordStore
	prober   Prober
	clock    Clock
	cfg      Config

	cron    *cron.Cron
	limiter *rate.Limiter

	// rootCtx parents every cron-launched sweep; Stop cancels it so
	// shutdown never waits out a full sweep timeout.
	rootCtx context.Context
	cancel  context.CancelFunc

	// inflight holds the ids of domains currently in the Probing state.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds a Scheduler. Pass nil clock for the system clock.
func New(registry repository.DomainRegistry, records repository.RecordStore, p Prober, clock Clock, cfg Config) *Scheduler {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry: registry,
		records:  records,
		prober:   p,
		clock:    clock,
		cfg:      cfg,
		cron:     cron.New(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), 1),
		rootCtx:  rootCtx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Start registers the periodic sweep and starts the timer.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, s.runScheduledSweep)
	if err != nil {
		return fmt.Errorf("scheduler: register sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	logrus.Infof("[scheduler] started, sweep schedule %s, concurrency %d", s.cfg.Schedule, s.cfg.Concurrency)
	return nil
}

// Stop cancels any cron-launched sweep, halts the timer and waits for the
// cron jobs to return. In-flight probes are abandoned, not recorded.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logrus.Info("[scheduler] stopped")
}

// runScheduledSweep is the cron entry point. It runs under the scheduler's
// root context so Stop can interrupt a sweep instead of waiting it out.
func (s *Scheduler) runScheduledSweep() {
	logrus.Info("[scheduler] periodic sweep triggered")
	if _, err := s.Sweep(s.rootCtx); err != nil {
		logrus.Errorf("[scheduler] periodic sweep failed: %v", err)
	}
}

// Sweep probes every active domain once. The domain set is snapshotted at
// sweep start; domains registered mid-sweep wait for the next sweep. One
// record is written per probed domain, success or failure, and a single
// failing domain never aborts the rest.
func (s *Scheduler) Sweep(ctx context.Context) (SweepStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	start := s.clock.Now()
	stats := SweepStats{Tiers: make(map[domain.Tier]int)}

	domains, err := s.registry.ListAllActive(ctx)
	if err != nil {
		logrus.Errorf("[sweep] domain enumeration failed: %v", err)
		return stats, fmt.Errorf("scheduler: enumerate domains: %w", err)
	}

	total := len(domains)
	stats.Total = total
	logrus.Infof("[sweep] starting, %d domains", total)

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var processed int32

Loop:
	for i, d := range domains {
		select {
		case <-ctx.Done():
			logrus.Warn("[sweep] deadline reached, not launching further probes")
			// Un-launched domains count as skipped so the summary still
			// accounts for every snapshotted domain.
			mu.Lock()
			stats.Skipped += total - i
			mu.Unlock()
			break Loop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(d domain.Domain) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := s.scan(ctx, d)

			mu.Lock()
			switch {
			case errors.Is(err, ErrScanInFlight):
				stats.Skipped++
			case err != nil:
				// Cancelled mid-probe or storage failure; nothing recorded.
				stats.Skipped++
			default:
				stats.Recorded++
				tier := domain.Classify(&rec, s.clock.Now())
				stats.Tiers[tier]++
				if !rec.IsValid {
					stats.Failures++
				}
			}
			mu.Unlock()

			if err != nil && !errors.Is(err, ErrScanInFlight) && ctx.Err() == nil {
				logrus.Errorf("[sweep] %s: %v", d.Hostname, err)
			}

			current := atomic.AddInt32(&processed, 1)
			if current%20 == 0 || int(current) == total {
				logrus.Infof("[sweep] progress %d/%d", current, total)
			}
		}(d)
	}

	wg.Wait()

	stats.Duration = s.clock.Now().Sub(start).String()
	logrus.Infof("[sweep] done: %d recorded, %d failures, %d skipped (took %s)",
		stats.Recorded, stats.Failures, stats.Skipped, stats.Duration)
	return stats, ctx.Err()
}

// ScanDomain runs one on-demand scan, used when the registry reports a newly
// created domain and for manual triggers. It returns ErrScanInFlight when the
// domain is already being probed.
func (s *Scheduler) ScanDomain(ctx context.Context, d domain.Domain) (domain.CertificateRecord, error) {
	return s.scan(ctx, d)
}

// scan probes one domain and appends exactly one record, unless the context
// was cancelled mid-probe, in which case the partial result is discarded.
func (s *Scheduler) scan(ctx context.Context, d domain.Domain) (domain.CertificateRecord, error) {
	key := d.ID.Hex()
	if !s.acquire(key) {
		return domain.CertificateRecord{}, ErrScanInFlight
	}
	defer s.release(key)

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.CertificateRecord{}, err
	}

	result, probeErr := s.prober.Probe(ctx, d.Hostname, d.Port)

	// Abandoned probes are never recorded, not even as failures.
	if ctx.Err() != nil {
		return domain.CertificateRecord{}, ctx.Err()
	}

	var rec domain.CertificateRecord
	if probeErr != nil {
		rec = s.failureRecord(d, probeErr)
	} else {
		rec = s.successRecord(d, result)
	}

	if err := s.records.Insert(ctx, rec); err != nil {
		logrus.Errorf("[scan] %s: record write failed: %v", d.Hostname, err)
		return rec, fmt.Errorf("scheduler: record %s: %w", d.Hostname, err)
	}
	return rec, nil
}

func (s *Scheduler) successRecord(d domain.Domain, res prober.Result) domain.CertificateRecord {
	rec := domain.CertificateRecord{
		DomainID:  d.ID,
		Issuer:    res.Issuer,
		Subject:   res.Subject,
		NotBefore: res.NotBefore,
		NotAfter:  res.NotAfter,
		IsValid:   res.IsValid,
		CheckedAt: s.clock.Now(),
	}
	if !res.IsValid {
		// Logical outcome, not a probe failure: the handshake succeeded but
		// the certificate sits outside its validity window.
		rec.Error = "certificate outside validity window"
	}
	return rec
}

func (s *Scheduler) failureRecord(d domain.Domain, err error) domain.CertificateRecord {
	msg := "SSL Error: probe failed"
	var perr *prober.ProbeError
	if errors.As(err, &perr) {
		msg = "SSL Error: " + perr.Message()
	}
	return domain.CertificateRecord{
		DomainID:  d.ID,
		IsValid:   false,
		Error:     msg,
		CheckedAt: s.clock.Now(),
	}
}

func (s *Scheduler) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}
