package execute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/registry"
)

// fnAdapter scripts Complete per test.
type fnAdapter struct {
	complete func(ctx context.Context, model, prompt string) (*adapter.Response, error)
}

func (a *fnAdapter) Name() string     { return "fn" }
func (a *fnAdapter) Models() []string { return nil }
func (a *fnAdapter) Complete(ctx context.Context, model, prompt string) (*adapter.Response, error) {
	return a.complete(ctx, model, prompt)
}

func testDescriptor() registry.Descriptor {
	return registry.Descriptor{ID: "gemma", Adapter: "fn", Model: "gemma:2b", Active: true}
}

func TestExecuteSuccess(t *testing.T) {
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			return &adapter.Response{
				Text:  "paris",
				Usage: &adapter.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
			}, nil
		}},
	})

	att := client.Execute(context.Background(), testDescriptor(), "capital of france?", time.Second)

	require.True(t, att.Succeeded())
	assert.Equal(t, OutcomeSuccess, att.Outcome)
	assert.Equal(t, "paris", att.Output)
	assert.Equal(t, 12, att.Usage.TotalTokens)
	assert.Greater(t, att.Latency, time.Duration(0))
}

func TestExecuteTimeout(t *testing.T) {
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	})

	att := client.Execute(context.Background(), testDescriptor(), "slow", 10*time.Millisecond)

	require.False(t, att.Succeeded())
	assert.Equal(t, Outcome(adapter.KindTimeout), att.Outcome)
	assert.Greater(t, att.Latency, time.Duration(0), "latency is recorded on failure")
}

func TestExecuteClassifiesProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"rate limited", adapter.NewProviderError(429, errors.New("slow down")), Outcome(adapter.KindRateLimit)},
		{"auth", adapter.NewProviderError(401, errors.New("bad key")), Outcome(adapter.KindAuth)},
		{"server error", adapter.NewProviderError(503, errors.New("unavailable")), Outcome(adapter.KindTransport)},
		{"plain error", errors.New("connection refused"), Outcome(adapter.KindTransport)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(map[string]adapter.Adapter{
				"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
					return nil, tt.err
				}},
			})

			att := client.Execute(context.Background(), testDescriptor(), "x", time.Second)
			assert.Equal(t, tt.want, att.Outcome)
			assert.False(t, att.Succeeded())
		})
	}
}

func TestExecuteMissingAdapter(t *testing.T) {
	client := NewClient(map[string]adapter.Adapter{})

	att := client.Execute(context.Background(), testDescriptor(), "x", time.Second)

	require.False(t, att.Succeeded())
	assert.Equal(t, Outcome(adapter.KindTransport), att.Outcome)
}

func TestExecuteNotifiesObservers(t *testing.T) {
	var events []Event
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			return &adapter.Response{Text: "ok"}, nil
		}},
	}, WithObserver(ObserverFunc(func(ev Event) {
		events = append(events, ev)
	})))

	client.Execute(context.Background(), testDescriptor(), "x", time.Second)

	require.Len(t, events, 1)
	assert.Equal(t, "gemma", events[0].Provider)
	assert.Equal(t, OutcomeSuccess, events[0].Outcome)
	assert.False(t, events[0].Probe)
}

func TestExecuteAppliesPricer(t *testing.T) {
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			return &adapter.Response{
				Text:  "ok",
				Usage: &adapter.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000},
			}, nil
		}},
	}, WithPricer(func(adapterName, model string, usage adapter.Usage) (adapter.Cost, bool) {
		return adapter.Cost{Currency: "USD", Amount: 0.005, IsEstimate: true}, true
	}))

	att := client.Execute(context.Background(), testDescriptor(), "x", time.Second)
	assert.Equal(t, 0.005, att.Cost.Amount)
}

func TestProbeMarksEvents(t *testing.T) {
	var events []Event
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			return &adapter.Response{Text: "pong"}, nil
		}},
	}, WithObserver(ObserverFunc(func(ev Event) {
		events = append(events, ev)
	})))

	latency, err := client.Probe(context.Background(), testDescriptor())

	require.NoError(t, err)
	assert.Greater(t, latency, time.Duration(0))
	require.Len(t, events, 1)
	assert.True(t, events[0].Probe)
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	client := NewClient(map[string]adapter.Adapter{
		"fn": &fnAdapter{complete: func(ctx context.Context, model, prompt string) (*adapter.Response, error) {
			return nil, ctx.Err()
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	att := client.Execute(ctx, testDescriptor(), "x", time.Second)
	assert.False(t, att.Succeeded())
}
