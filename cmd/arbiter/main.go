package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbiterhq/arbiter/pkg/adapter"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/execute"
	"github.com/arbiterhq/arbiter/pkg/health"
	"github.com/arbiterhq/arbiter/pkg/metrics"
	"github.com/arbiterhq/arbiter/pkg/pipeline"
	"github.com/arbiterhq/arbiter/pkg/registry"
	"github.com/arbiterhq/arbiter/pkg/router"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/verify"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arbiter",
		Short: "Cost-aware LLM routing with escalation and output verification",
		Long: `Arbiter routes prompts to the cheapest capable backend, verifies every
	answer with a safety judge and a confidence judge, and escalates up a
	fixed provider ladder when an answer is not good enough.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(probeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRoutingFile(configFile)
	}
	return config.Load()
}

// app bundles the wired routing components shared by the commands.
type app struct {
	cfg        *config.Config
	registry   *registry.Registry
	tracker    *health.Tracker
	client     *execute.Client
	selector   *router.Selector
	controller *pipeline.Controller
	journal    *store.SQLiteJournal
	logger     *slog.Logger
}

func buildApp(cfg *config.Config, logger *slog.Logger, withJournal bool) (*app, error) {
	adapters, err := buildAdapters(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.FromConfig(cfg.Routing)

	tracker := health.NewTracker(trackerConfig(cfg.Routing.Probe, logger))
	for _, desc := range reg.All() {
		tracker.Register(desc.ID)
	}

	client := execute.NewClient(adapters,
		execute.WithLogger(logger),
		execute.WithObserver(metrics.NewRecorder()),
		execute.WithObserver(execute.ObserverFunc(func(ev execute.Event) {
			// Live outcomes feed latency statistics only; circuit
			// transitions are driven by probes.
			if !ev.Probe {
				tracker.RecordAttempt(ev.Provider, ev.Outcome == execute.OutcomeSuccess, ev.Latency)
			}
		})),
		execute.WithPricer(func(adapterName, model string, usage adapter.Usage) (adapter.Cost, bool) {
			return metrics.EstimateCost(cfg.Routing.Pricing, adapterName, model, usage)
		}),
	)

	verifier := verify.NewPipeline(client, reg, cfg.Routing.Verification, logger)
	selector := router.NewSelector(reg, tracker, cfg.Routing.EscalationChain)
	intents := router.NewIntentRules(cfg.Routing.Intents)

	a := &app{
		cfg:      cfg,
		registry: reg,
		tracker:  tracker,
		client:   client,
		selector: selector,
		logger:   logger,
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if withJournal {
		journal, err := store.NewSQLiteJournal(filepath.Join(cfg.ConfigDir, "journal.db"))
		if err != nil {
			logger.Warn("journal unavailable, requests will not be recorded", "error", err)
		} else {
			a.journal = journal
			opts = append(opts, pipeline.WithJournal(journal))
		}
	}

	a.controller = pipeline.NewController(selector, client, verifier, intents, cfg.Routing, opts...)
	return a, nil
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// applyReload swaps the live routing tables after a config file change.
func (a *app) applyReload(routing *config.RoutingConfig) {
	a.registry.Replace(registry.FromConfig(routing).All())
	a.selector.UpdateChain(routing.EscalationChain)
	for _, desc := range a.registry.All() {
		a.tracker.Register(desc.ID)
	}
}

func buildAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	adapters["ollama"] = adapter.NewOllamaAdapter(cfg.OllamaBaseURL)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}
	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}
	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	return adapters, nil
}

func trackerConfig(p config.ProbeConfig, logger *slog.Logger) health.Config {
	return health.Config{
		Window:              p.Window,
		FailureRate:         p.FailureRate,
		ConsecutiveFailures: p.ConsecutiveFailures,
		Cooldown:            p.Cooldown(),
		BackoffMultiplier:   p.BackoffMultiplier,
		MaxCooldown:         p.MaxCooldown(),
		OnStateChange: func(providerID string, from, to health.CircuitState) {
			metrics.ObserveCircuit(providerID, to.String())
			logger.Info("circuit transition",
				"provider", providerID,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
}

func askCmd() *cobra.Command {
	var providerFlag string
	var modelFlag string
	var intentFlag string
	var jsonFlag bool
	var probeFirst bool

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Route a prompt through verification and escalation",
		Long: `Routes the prompt to the cheapest eligible backend, verifies the answer
	with the safety and confidence judges, and escalates up the provider
	ladder until an answer is accepted or the escalation budget runs out.

	Use --provider to pin the initial backend, --intent to skip intent
	detection, and --probe to health-check all backends before routing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			a, err := buildApp(cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if probeFirst {
				runProbePass(ctx, a)
			}

			res, err := a.controller.Route(ctx, pipeline.Request{
				Prompt: args[0],
				Intent: router.Intent(intentFlag),
				Constraints: registry.Constraints{
					ProviderID: providerFlag,
					Model:      modelFlag,
				},
			})
			if err != nil {
				return err
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(newResultView(res))
			}
			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "", "pin the initial provider")
	cmd.Flags().StringVar(&modelFlag, "model", "", "pin the model (with --provider)")
	cmd.Flags().StringVar(&intentFlag, "intent", "", "override intent detection")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "emit the full result as JSON")
	cmd.Flags().BoolVar(&probeFirst, "probe", false, "probe all providers before routing")

	return cmd
}

func printResult(res *pipeline.Result) {
	switch res.State {
	case pipeline.StateAccepted:
		fmt.Println(res.FinalAnswer)
	case pipeline.StateRejected:
		fmt.Fprintln(os.Stderr, "Answer rejected by verification.")
		if res.Verification != nil && res.Verification.Explanation != "" {
			fmt.Fprintf(os.Stderr, "Reason: %s\n", res.Verification.Explanation)
		}
	case pipeline.StateExhausted:
		fmt.Fprintln(os.Stderr, "Escalation exhausted; best unverified answer follows.")
		if res.FinalAnswer != "" {
			fmt.Println(res.FinalAnswer)
		}
	}

	fmt.Fprintf(os.Stderr, "\n[%s] provider=%s escalations=%d cost=$%.6f tokens=%d duration=%s\n",
		res.State, res.FinalProvider, res.Escalations,
		res.TotalCost, res.TotalUsage.TotalTokens, res.Duration.Round(time.Millisecond))
}

// resultView is the JSON shape for --json output.
type resultView struct {
	ID           string                     `json:"request_id"`
	Intent       string                     `json:"intent"`
	State        string                     `json:"state"`
	Answer       string                     `json:"answer,omitempty"`
	Provider     string                     `json:"provider"`
	FirstChoice  string                     `json:"first_choice"`
	Escalated    bool                       `json:"escalated"`
	Escalations  int                        `json:"escalations"`
	Verification *verify.VerificationResult `json:"verification,omitempty"`
	Confidence   *verify.ConfidenceResult   `json:"confidence,omitempty"`
	Attempts     []attemptView              `json:"attempts"`
	Calls        []metrics.CallReport       `json:"calls"`
	CostUSD      float64                    `json:"cost_usd"`
	Tokens       int                        `json:"tokens"`
	DurationMs   int64                      `json:"duration_ms"`
}

type attemptView struct {
	Seq        int     `json:"seq"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Outcome    string  `json:"outcome"`
	Action     string  `json:"action,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	LatencyMs  int64   `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

func newResultView(res *pipeline.Result) resultView {
	view := resultView{
		ID:           res.ID,
		Intent:       string(res.Intent),
		State:        string(res.State),
		Answer:       res.FinalAnswer,
		Provider:     res.FinalProvider,
		FirstChoice:  res.OriginalProvider,
		Escalated:    res.Escalated,
		Escalations:  res.Escalations,
		Verification: res.Verification,
		Confidence:   res.Confidence,
		Calls:        res.Calls,
		CostUSD:      res.TotalCost,
		Tokens:       res.TotalUsage.TotalTokens,
		DurationMs:   res.Duration.Milliseconds(),
	}
	for _, att := range res.Attempts {
		av := attemptView{
			Seq:       att.Attempt.Seq,
			Provider:  att.Attempt.ProviderID,
			Model:     att.Attempt.Model,
			Outcome:   string(att.Attempt.Outcome),
			Action:    string(att.Action),
			LatencyMs: att.Attempt.Latency.Milliseconds(),
		}
		if att.Confidence != nil {
			av.Confidence = att.Confidence.Score
		}
		if att.Attempt.Err != nil {
			av.Error = att.Attempt.Err.Error()
		}
		view.Attempts = append(view.Attempts, av)
	}
	return view
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show the provider catalogue and circuit states",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a, err := buildApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADAPTER\tMODEL\tTIER\tROLE\tPRIORITY\tACTIVE\tCIRCUIT")
			for _, desc := range a.registry.All() {
				role := desc.Role
				if role == "" {
					role = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%t\t%s\n",
					desc.ID, desc.Adapter, desc.Model, desc.Tier,
					role, desc.Priority, desc.Active,
					a.tracker.State(desc.ID).String())
			}
			return w.Flush()
		},
	}
}

func chainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain",
		Short: "Show the escalation ladder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tESCALATES TO")
			for _, p := range cfg.Routing.Providers {
				next, ok := cfg.Routing.EscalationChain[p.ID]
				switch {
				case !ok:
					fmt.Fprintf(w, "%s\t(not in chain)\n", p.ID)
				case next == config.NoEscalation:
					fmt.Fprintf(w, "%s\t(top of ladder)\n", p.ID)
				default:
					fmt.Fprintf(w, "%s\t%s\n", p.ID, next)
				}
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Max escalations per request: %d\n", cfg.Routing.MaxEscalations)
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	var statsFlag bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent routed requests from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			journal, err := store.NewSQLiteJournal(filepath.Join(cfg.ConfigDir, "journal.db"))
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			ctx := cmd.Context()
			if statsFlag {
				stats, err := journal.Summary(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Requests: %d\n", stats.Total)
				for _, state := range []string{"accepted", "rejected", "exhausted"} {
					if n, ok := stats.ByState[state]; ok {
						fmt.Printf("  %-10s %d\n", state, n)
					}
				}
				fmt.Printf("Escalated: %d\n", stats.Escalated)
				fmt.Printf("Spend: $%.6f  Tokens: %d\n", stats.TotalCost, stats.TotalTokens)
				return nil
			}

			rows, err := journal.Recent(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATE\tINTENT\tPROVIDER\tESC\tCONF\tCOST\tDURATION")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\t$%.6f\t%dms\n",
					row.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					row.State, row.Intent, row.Provider,
					row.Escalations, row.Confidence, row.CostUSD, row.DurationMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&statsFlag, "stats", false, "aggregate statistics instead of entries")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Routing config OK: %d providers, %d chain entries, max %d escalations\n",
				len(cfg.Routing.Providers), len(cfg.Routing.EscalationChain), cfg.Routing.MaxEscalations)
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Health-check all providers",
		Long: `Probes every active provider once and prints the resulting circuit
	states. With --daemon, keeps probing on the configured interval and
	hot-reloads the routing config on file changes until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a, err := buildApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			if !daemon {
				runProbePass(cmd.Context(), a)
				return printHealth(a)
			}
			return runProbeDaemon(a, cfg, logger)
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "probe continuously and hot-reload config")
	return cmd
}

// runProbePass probes every active provider once, synchronously.
func runProbePass(ctx context.Context, a *app) {
	timeout := a.cfg.Routing.Probe.Timeout()
	for _, desc := range a.registry.All() {
		if !desc.Active {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		latency, err := a.client.Probe(probeCtx, desc)
		cancel()
		a.tracker.RecordProbe(desc.ID, err == nil, latency)
	}
}

func printHealth(a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tCIRCUIT\tSUCCESS RATE\tLATENCY")
	for _, rec := range a.tracker.Snapshots() {
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\n",
			rec.ProviderID, rec.State,
			rec.SuccessRate*100, rec.ObservedLatency.Round(time.Millisecond))
	}
	return w.Flush()
}

func runProbeDaemon(a *app, cfg *config.Config, logger *slog.Logger) error {
	prober := health.NewProber(a.registry, a.tracker, a.client.Probe,
		cfg.Routing.Probe.Interval(), cfg.Routing.Probe.Timeout(), logger)
	if err := prober.Start(); err != nil {
		return fmt.Errorf("start prober: %w", err)
	}
	defer prober.Stop()

	routingPath := configFile
	if routingPath == "" {
		routingPath = filepath.Join(cfg.ConfigDir, "routing.yaml")
	}
	if _, err := os.Stat(routingPath); err == nil {
		watcher, err := config.NewWatcher(routingPath, func(routing *config.RoutingConfig) {
			a.applyReload(routing)
			if err := prober.Rebuild(); err != nil {
				logger.Error("prober rebuild failed", "error", err)
			}
			logger.Info("routing config reloaded", "providers", len(routing.Providers))
		}, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			if err := watcher.Watch(); err != nil {
				logger.Warn("config watcher failed to start", "error", err)
			}
			defer watcher.Close()
		}
	}

	prober.ProbeNow()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}
