// Package execute wraps single adapter calls with timeout enforcement,
// error classification, and latency/cost accounting. It never retries:
// retries are the escalation controller's job.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/registry"
)

// Outcome is the terminal classification of one adapter call.
type Outcome string

// OutcomeSuccess marks a completed call; every other outcome is an
// adapter.ErrorKind value.
const OutcomeSuccess Outcome = "success"

// Attempt records one adapter call.
type Attempt struct {
	Seq        int
	ProviderID string
	Adapter    string
	Model      string
	Output     string
	Usage      adapter.Usage
	Cost       adapter.Cost
	Start      time.Time
	End        time.Time
	Latency    time.Duration
	Outcome    Outcome
	Err        error
}

// Succeeded reports whether the attempt produced an answer.
func (a *Attempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}

// Event is the record emitted to observers for every adapter call,
// probes included.
type Event struct {
	Provider string
	Model    string
	Outcome  Outcome
	Latency  time.Duration
	Usage    adapter.Usage
	Cost     adapter.Cost
	Probe    bool
}

// Observer consumes attempt events.
type Observer interface {
	ObserveAttempt(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// ObserveAttempt implements Observer.
func (f ObserverFunc) ObserveAttempt(ev Event) { f(ev) }

// Pricer estimates the cost of a call from its reported usage.
type Pricer func(adapterName, model string, usage adapter.Usage) (adapter.Cost, bool)

// Client invokes backend adapters. One Execute call maps to exactly one
// adapter call with a hard timeout.
type Client struct {
	adapters  map[string]adapter.Adapter
	observers []Observer
	pricer    Pricer
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// Option configures a Client.
type Option func(*Client)

// WithObserver registers an attempt observer.
func WithObserver(obs Observer) Option {
	return func(c *Client) {
		c.observers = append(c.observers, obs)
	}
}

// WithPricer sets the cost estimator.
func WithPricer(p Pricer) Option {
	return func(c *Client) {
		c.pricer = p
	}
}

// WithRateLimit throttles calls per provider. Probes share the
// provider's limiter with live traffic.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limit = limit
		c.burst = burst
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an execution client over the given adapters.
func NewClient(adapters map[string]adapter.Adapter, opts ...Option) *Client {
	c := &Client{
		adapters: adapters,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Inf,
		burst:    1,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs one adapter call against the provider with a hard
// timeout. Failures are classified, never retried here; latency is
// recorded even on the failure path.
func (c *Client) Execute(ctx context.Context, provider registry.Descriptor, prompt string, timeout time.Duration) *Attempt {
	return c.call(ctx, provider, prompt, timeout, false)
}

// Probe performs a lightweight call used by the health prober. It runs
// through the same path as live traffic so probe outcomes reflect real
// serving behavior.
func (c *Client) Probe(ctx context.Context, provider registry.Descriptor) (time.Duration, error) {
	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	attempt := c.call(ctx, provider, "Reply with the single word: pong", deadline, true)
	return attempt.Latency, attempt.Err
}

func (c *Client) call(ctx context.Context, provider registry.Descriptor, prompt string, timeout time.Duration, probe bool) *Attempt {
	attempt := &Attempt{
		ProviderID: provider.ID,
		Adapter:    provider.Adapter,
		Model:      provider.Model,
		Start:      time.Now(),
	}

	impl, ok := c.adapters[provider.Adapter]
	if !ok {
		attempt.Err = fmt.Errorf("adapter %q not configured for provider %q", provider.Adapter, provider.ID)
		attempt.Outcome = Outcome(adapter.KindTransport)
		c.finish(attempt, probe)
		return attempt
	}

	if err := c.limiter(provider.ID).Wait(ctx); err != nil {
		attempt.Err = err
		attempt.Outcome = c.classify(err)
		c.finish(attempt, probe)
		return attempt
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := impl.Complete(callCtx, provider.Model, prompt)
	if err != nil {
		attempt.Err = err
		attempt.Outcome = c.classify(err)
		c.finish(attempt, probe)
		return attempt
	}

	attempt.Output = resp.Text
	attempt.Usage = adapter.NormalizeUsage(resp.Usage)
	attempt.Outcome = OutcomeSuccess
	if c.pricer != nil {
		if cost, ok := c.pricer(provider.Adapter, provider.Model, attempt.Usage); ok {
			attempt.Cost = cost
		}
	}
	c.finish(attempt, probe)
	return attempt
}

func (c *Client) classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome(adapter.KindTimeout)
	}
	return Outcome(adapter.Classify(err))
}

// finish stamps timing and fans the attempt out to observers. Partial
// latency is recorded even when the call failed.
func (c *Client) finish(attempt *Attempt, probe bool) {
	attempt.End = time.Now()
	attempt.Latency = attempt.End.Sub(attempt.Start)

	ev := Event{
		Provider: attempt.ProviderID,
		Model:    attempt.Model,
		Outcome:  attempt.Outcome,
		Latency:  attempt.Latency,
		Usage:    attempt.Usage,
		Cost:     attempt.Cost,
		Probe:    probe,
	}
	for _, obs := range c.observers {
		obs.ObserveAttempt(ev)
	}

	if attempt.Err != nil {
		c.logger.Debug("attempt failed",
			"provider", attempt.ProviderID,
			"outcome", attempt.Outcome,
			"latency", attempt.Latency,
			"error", attempt.Err,
		)
	}
}

func (c *Client) limiter(providerID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[providerID]; ok {
		return lim
	}
	lim := rate.NewLimiter(c.limit, c.burst)
	c.limiters[providerID] = lim
	return lim
}
