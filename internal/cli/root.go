package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/audit"
	"github.com/gzhole/outputguard/internal/config"
	"github.com/gzhole/outputguard/internal/governance"
	"github.com/gzhole/outputguard/internal/metrics"
	"github.com/gzhole/outputguard/internal/policy"
)

var (
	configDir       string
	configPath      string
	policyPath      string
	logPath         string
	verbose         bool
	metricsTextfile string
)

var rootCmd = &cobra.Command{
	Use:   "outputguard",
	Short: "OutputGuard - governance for JSON in language model output",
	Long: `OutputGuard checks the JSON embedded in a language model's answer before
it reaches anyone: the payload must parse, follow a small set of hard rules,
carry no live credentials, and stay out of the way of a human-readable answer
unless JSON-only output was requested. Broken payloads can be repaired by
re-prompting the model a bounded number of times.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Config directory (default: $OUTPUTGUARD_HOME or ~/.outputguard)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: <config-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to policy YAML file (default: <config-dir>/policy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to audit log file (default: <config-dir>/audit.jsonl)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the command tree with ctx; a cancelled ctx stops an
// in-flight repair or scan.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// app is everything a governance command needs, built from config.
type app struct {
	cfg      *config.Config
	policy   *policy.Policy
	packs    []policy.PackInfo
	logger   zerolog.Logger
	gov      *governance.Governor
	audit    *audit.Logger
	registry *prometheus.Registry
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigDir:  configDir,
		ConfigPath: configPath,
		PolicyPath: policyPath,
		LogPath:    logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadPolicy reads the base policy and merges the enabled packs into it.
func loadPolicy(cfg *config.Config) (*policy.Policy, []policy.PackInfo, error) {
	base, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load policy: %w", err)
	}
	merged, infos, err := policy.LoadPacks(cfg.PacksDir, base)
	if err != nil {
		return nil, infos, fmt.Errorf("failed to load packs: %w", err)
	}
	return merged, infos, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pol, infos, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}

	rt := &app{
		cfg:      cfg,
		policy:   pol,
		packs:    infos,
		logger:   newLogger(cmd, cfg),
		registry: prometheus.NewRegistry(),
	}
	for _, info := range infos {
		if info.Err != nil {
			rt.logger.Warn().Err(info.Err).Str("pack", info.Path).Msg("pack_skipped")
		}
	}

	m, err := metrics.New(rt.registry)
	if err != nil {
		return nil, err
	}

	registry, err := pol.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to build secret registry: %w", err)
	}

	opts := []governance.Option{
		governance.WithJSONOnly(cfg.Governance.JSONOnly),
		governance.WithLogger(rt.logger),
		governance.WithMetrics(m),
	}
	if cfg.Log.Audit {
		rt.audit, err = audit.New(cfg.LogPath, audit.WithMaxBytes(cfg.Log.MaxBytes), audit.WithRegistry(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		opts = append(opts, governance.WithAudit(rt.audit))
	}

	rt.gov, err = governance.NewFromPolicy(pol, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close flushes metrics when requested and closes the audit log.
func (rt *app) Close() {
	if metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(metricsTextfile, rt.registry); err != nil {
			rt.logger.Warn().Err(err).Str("path", metricsTextfile).Msg("metrics_write_failed")
		}
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("audit_close_failed")
		}
	}
}
