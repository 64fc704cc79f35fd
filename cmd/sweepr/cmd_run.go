package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/sweepr/internal/config"
	"github.com/yairfalse/sweepr/internal/daemon"
	"github.com/yairfalse/sweepr/internal/filter"
	"github.com/yairfalse/sweepr/internal/scan"
	internaltelemetry "github.com/yairfalse/sweepr/internal/telemetry"
	"github.com/yairfalse/sweepr/orchestrator"
	"github.com/yairfalse/sweepr/reconciler"
	"github.com/yairfalse/sweepr/storage"
	"github.com/yairfalse/sweepr/telemetry"
)

// runOptions holds the reconciliation flags. Flags that were set override
// the config file.
type runOptions struct {
	configPath    string
	dryRun        bool
	initState     bool
	awsweeperFile string
	awsweeperBin  string
	awsweeperArgs []string
	age           string
	ageRules      []string
	timeout       time.Duration
	historyPath   string
	excludeKinds  []string
	region        string
	profile       string
	debug         bool
	interval      time.Duration
	metricsAddr   string
}

func (o *runOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "TOML config file")
	f.BoolVarP(&o.dryRun, "dry-run", "n", false, "Print the manifest without writing state or manifest")
	f.BoolVar(&o.initState, "init", false, "Treat a missing state document as empty")
	f.StringVar(&o.awsweeperFile, "awsweeper-file", "", "Captured awsweeper YAML listing to use instead of running awsweeper")
	f.StringVar(&o.awsweeperBin, "awsweeper", "", "awsweeper binary (default \"awsweeper\")")
	f.StringArrayVar(&o.awsweeperArgs, "awsweeper-args", nil, "Extra awsweeper argument, repeatable ('--dry-run --output yaml' is always passed)")
	f.StringVar(&o.age, "age", "", "Default retention, optional suffix s/m/h/D/M/Y (default 48h)")
	f.StringArrayVarP(&o.ageRules, "age-rule", "r", nil, "Override as THRESHOLD:PATTERN matched against tags, repeatable, last match wins")
	f.DurationVar(&o.timeout, "timeout", 0, "Abort awsweeper after this long (0 disables)")
	f.StringVar(&o.historyPath, "history", "", "bbolt database recording every run")
	f.StringSliceVar(&o.excludeKinds, "exclude-kind", nil, "Resource types to ignore")
	f.StringVar(&o.region, "region", "", "AWS region for s3:// locations")
	f.StringVar(&o.profile, "profile", "", "AWS shared config profile for s3:// locations")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	f.DurationVar(&o.interval, "interval", 0, "Repeat the cycle on this interval until interrupted (0 runs once)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address while repeating")
}

// resolveConfig loads the config file and applies set flags on top.
func (o *runOptions) resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("age") {
		cfg.Policy.Age = o.age
	}
	// Flag rules come last so they win over config rules.
	cfg.Policy.Rules = append(cfg.Policy.Rules, o.ageRules...)
	if flags.Changed("awsweeper") {
		cfg.Scanner.Binary = o.awsweeperBin
	}
	if flags.Changed("awsweeper-args") {
		cfg.Scanner.Args = o.awsweeperArgs
	}
	if flags.Changed("timeout") {
		cfg.Scanner.Timeout = o.timeout
	}
	if flags.Changed("history") {
		cfg.Storage.History = o.historyPath
	}
	cfg.Filter.ExcludeKinds = append(cfg.Filter.ExcludeKinds, o.excludeKinds...)
	if flags.Changed("region") {
		cfg.AWS.Region = o.region
	}
	if flags.Changed("profile") {
		cfg.AWS.Profile = o.profile
	}
	if o.debug {
		cfg.Log.Level = "debug"
		cfg.Scanner.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runReconcile(cmd *cobra.Command, opts *runOptions, args []string) error {
	// Validate everything before touching state, the scanner or AWS.
	cfg, err := opts.resolveConfig(cmd)
	if err != nil {
		return err
	}
	policy, err := cfg.AgePolicy()
	if err != nil {
		return err
	}

	state := args[0]
	manifest := ""
	if len(args) > 1 {
		manifest = args[1]
	}
	for _, location := range args {
		if _, err := storage.ParseLocation(location); err != nil {
			return err
		}
	}

	logger := setupLogging(cfg.Log.Level, cmd.ErrOrStderr())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := internaltelemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	store := storage.NewStore(storage.AWSConfig{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})

	orch := orchestrator.NewOrchestrator(store, newScanner(opts, cfg, store, logger), reconciler.NewEngine(policy), state).
		WithManifest(manifest).
		WithDryRun(opts.dryRun).
		WithAllowMissingState(opts.initState).
		WithOutput(cmd.OutOrStdout()).
		WithMetrics(provider).
		WithTracer(provider.Tracer()).
		WithLogger(logger)

	if f := filter.New(cfg.Filter.ExcludeKinds, cfg.Filter.IncludeTags, cfg.Filter.ExcludeTags); !f.IsEmpty() {
		orch = orch.WithFilter(f)
	}

	if cfg.Storage.History != "" && !opts.dryRun {
		history := storage.NewHistory(cfg.Storage.History)
		if err := history.Init(); err != nil {
			return err
		}
		orch = orch.WithHistory(history)
	}

	cycler := &pushingCycler{cycler: orch, provider: provider}
	if opts.interval > 0 {
		return runDaemon(ctx, opts, cycler, provider, logger)
	}
	_, err = cycler.RunCycle(ctx)
	return err
}

// pushingCycler pushes run metrics after every cycle.
type pushingCycler struct {
	cycler   daemon.Cycler
	provider *internaltelemetry.Provider
}

func (p *pushingCycler) RunCycle(ctx context.Context) (*orchestrator.CycleResult, error) {
	result, err := p.cycler.RunCycle(ctx)
	if pushErr := p.provider.Push(ctx); pushErr != nil {
		log.Warn().Err(pushErr).Msg("failed to push run metrics")
	}
	return result, err
}

func runDaemon(ctx context.Context, opts *runOptions, cycler daemon.Cycler, provider *internaltelemetry.Provider, logger *telemetry.Logger) error {
	d, err := daemon.NewDaemon(daemon.Config{Interval: opts.interval}, cycler)
	if err != nil {
		return err
	}
	d.WithLogger(logger)

	if opts.metricsAddr != "" {
		server := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           d.Handler(provider.Registry()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", opts.metricsAddr).Msg("starting metrics server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	return d.Start(ctx)
}

func newScanner(opts *runOptions, cfg *config.Config, store storage.DocumentStore, logger *telemetry.Logger) scan.Scanner {
	if opts.awsweeperFile != "" {
		return scan.NewFileScanner(store, opts.awsweeperFile)
	}
	return scan.NewSweeperScanner(cfg.Scanner.Binary, cfg.Scanner.Args...).
		WithTimeout(cfg.Scanner.Timeout).
		WithLogger(logger).
		WithDebugOutput(cfg.Scanner.Debug || zerolog.GlobalLevel() <= zerolog.DebugLevel)
}

// setupLogging configures the global zerolog logger and returns the
// service logger used by the orchestrator.
func setupLogging(level string, w io.Writer) *telemetry.Logger {
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	log.Logger = log.Output(console)
	return telemetry.NewLogger("sweepr", console)
}
