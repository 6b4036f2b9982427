package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arbiterhq/arbiter/pkg/registry"
)

// ProbeFunc exercises one provider with a lightweight payload and
// returns the observed latency. Implementations route through the same
// execution client as live traffic.
type ProbeFunc func(ctx context.Context, provider registry.Descriptor) (time.Duration, error)

// Prober runs scheduled background probes per provider and feeds their
// outcomes into the Tracker. Its lifecycle is independent of request
// handling: cancelling a user request never cancels a probe.
type Prober struct {
	cron     *cron.Cron
	tracker  *Tracker
	registry *registry.Registry
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewProber creates a prober over the given registry and tracker.
func NewProber(reg *registry.Registry, tracker *Tracker, probe ProbeFunc, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prober{
		cron:     cron.New(),
		tracker:  tracker,
		registry: reg,
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers one recurring probe job per active provider and
// starts the scheduler.
func (p *Prober) Start() error {
	if err := p.Rebuild(); err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler, waits for running jobs, and cancels any
// in-flight probe.
func (p *Prober) Stop() {
	stopCtx := p.cron.Stop()
	p.cancel()
	<-stopCtx.Done()
}

// Rebuild re-registers probe jobs against the current registry
// contents, called after a config reload.
func (p *Prober) Rebuild() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]registry.Descriptor)
	for _, desc := range p.registry.All() {
		if desc.Active {
			current[desc.ID] = desc
		}
	}

	for id, entryID := range p.entries {
		if _, ok := current[id]; !ok {
			p.cron.Remove(entryID)
			delete(p.entries, id)
		}
	}

	spec := fmt.Sprintf("@every %s", p.interval)
	for id := range current {
		if _, ok := p.entries[id]; ok {
			continue
		}
		p.tracker.Register(id)
		id := id
		entryID, err := p.cron.AddFunc(spec, func() {
			// Resolve at probe time so a reloaded descriptor (say a
			// model swap) takes effect without rescheduling.
			if desc, ok := p.registry.Get(id); ok && desc.Active {
				p.runProbe(desc)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule probe for %s: %w", id, err)
		}
		p.entries[id] = entryID
	}
	return nil
}

// ProbeNow runs a single probe cycle for every active provider,
// bypassing the schedule. Used by the CLI and by tests.
func (p *Prober) ProbeNow() {
	for _, desc := range p.registry.All() {
		if desc.Active {
			p.runProbe(desc)
		}
	}
}

func (p *Prober) runProbe(desc registry.Descriptor) {
	switch p.tracker.State(desc.ID) {
	case CircuitOpen:
		// Failing fast; the cool-down timer owns recovery.
		return
	case CircuitHalfOpen:
		if !p.tracker.BeginTrial(desc.ID) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	latency, err := p.probe(ctx, desc)
	ok := err == nil
	p.tracker.RecordProbe(desc.ID, ok, latency)

	if err != nil {
		p.logger.Warn("probe failed",
			"provider", desc.ID,
			"latency", latency,
			"error", err,
		)
		return
	}
	p.logger.Debug("probe succeeded", "provider", desc.ID, "latency", latency)
}
