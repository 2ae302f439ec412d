package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bebsworthy/greeter/internal/cancel"
	"github.com/bebsworthy/greeter/internal/config"
	"github.com/bebsworthy/greeter/internal/errors"
	"github.com/bebsworthy/greeter/internal/greeter"
	"github.com/bebsworthy/greeter/internal/logging"
	"github.com/bebsworthy/greeter/internal/metrics"
	"github.com/bebsworthy/greeter/internal/signals"
)

var (
	// Global flags
	configFile string
	verbose    bool
	message    string
	interval   time.Duration
	count      int
	policy     string

	// signalSource is replaced in tests
	signalSource signals.Source = signals.OSSource{}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "greeter",
	Short: "Print a greeting once per second until stopped",
	Long: `greeter writes "Hello, World!" to standard output once per second.

SIGINT and SIGTERM request a stop. With the default graceful policy the loop
exits right away without printing again. With --policy faithful the request
is recorded and logged but the loop keeps running. SIGHUP reloads the configuration file.

Diagnostics go to standard error; standard output carries greetings only.`,
	Example: `  # Greet forever, once per second
  greeter

  # Three greetings, half a second apart
  greeter --count 3 --interval 500ms

  # Keep running after SIGINT
  greeter --policy faithful`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runGreeter,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $GREETER_CONFIG, then config.yaml in $HOME/.greeter or /etc/greeter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&message, "message", "", "greeting to print (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "wait between greetings (overrides config)")
	rootCmd.PersistentFlags().IntVar(&count, "count", 0, "stop after this many greetings, 0 for no limit (overrides config)")
	rootCmd.PersistentFlags().StringVar(&policy, "policy", "", "cancellation policy: graceful or faithful (overrides config)")
}

// loadConfig reads configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath()

	cfg, err := config.LoadConfig(path)
	if err != nil {
		if errors.IsCode(err, errors.CodeConfigNotFound) {
			return nil, err
		}
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "failed to load configuration", err)
	}

	applyFlagOverrides(cmd, cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "invalid command line options", err)
	}

	return cfg, nil
}

// resolveConfigPath returns the --config flag, then $GREETER_CONFIG. Empty
// means auto-discovery.
func resolveConfigPath() string {
	if configFile != "" {
		return configFile
	}
	return os.Getenv(config.GetEnvVarName("config"))
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("message") {
		cfg.Greeter.Message = message
	}
	if flags.Changed("interval") {
		cfg.Greeter.Interval = interval
	}
	if flags.Changed("count") {
		cfg.Greeter.Count = count
	}
	if flags.Changed("policy") {
		cfg.Greeter.Policy = policy
	}
	if verbose {
		cfg.Logging.Verbose = true
		cfg.Logging.Level = "debug"
	}
}

func greeterConfig(cfg *config.Config) greeter.Config {
	return greeter.Config{
		Settings: greeter.Settings{
			Message:  cfg.Greeter.Message,
			Interval: cfg.Greeter.Interval,
		},
		Count:            cfg.Greeter.Count,
		Policy:           greeter.Policy(cfg.Greeter.Policy),
		ExitOnWriteError: cfg.Greeter.ExitOnWriteError,
	}
}

func runGreeter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg.Logging)
	if err != nil {
		return errors.ConfigError(errors.CodeLoggerSetup, "failed to create logger", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	monitor := metrics.NewMonitor()
	monitor.SetLogger(logger.Logger)

	flag := cancel.New()

	g := greeter.New(cmd.OutOrStdout(), flag, greeterConfig(cfg))
	g.SetLogger(logger.Component("greeter"))
	g.SetMonitor(monitor)

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	handler := signals.NewHandler(flag, signalSource, nil)
	handler.SetLogger(logger.Component("signals"))
	handler.SetMonitor(monitor)
	handler.OnReload = func() error {
		return reloadSettings(cmd, g)
	}
	if err := handler.Start(ctx); err != nil {
		return err
	}
	defer handler.Stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := monitor.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
				logger.LogError(ctx, "Metrics endpoint stopped", err)
			}
		}()
	}

	stats, err := g.Run(ctx)
	monitor.LogMetricsSummary(ctx)
	if err != nil {
		return err
	}

	logger.LogTiming(ctx, "run", stats.Started,
		slog.Int64("greetings", stats.Greetings),
		slog.String("reason", string(stats.Reason)),
	)
	return nil
}

// newLogger writes to the command's stderr unless a log file is configured.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig) (*logging.Logger, error) {
	if cfg.OutputFile != "" {
		return logging.NewLogger(cfg)
	}
	return logging.NewLoggerWithWriter(cfg, cmd.ErrOrStderr())
}

// reloadSettings re-reads the config file and hands the loop its new
// message and interval. Policy and count are fixed for the life of a run.
func reloadSettings(cmd *cobra.Command, g *greeter.Greeter) error {
	cfg, err := config.Reload(resolveConfigPath())
	if err != nil {
		return errors.ConfigError(errors.CodeReloadFailed, "failed to reload configuration", err)
	}

	applyFlagOverrides(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return errors.ConfigError(errors.CodeReloadFailed, "reloaded configuration is invalid", err)
	}

	if err := g.Apply(greeter.Settings{
		Message:  cfg.Greeter.Message,
		Interval: cfg.Greeter.Interval,
	}); err != nil {
		return fmt.Errorf("apply reloaded settings: %w", err)
	}
	return nil
}
