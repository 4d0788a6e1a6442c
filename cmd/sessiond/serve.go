package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sessionstore/internal/config"
	"sessionstore/internal/metrics"
	"sessionstore/internal/server"
)

type serveOptions struct {
	configPath  string
	listenAddr  string
	metricsAddr string
	timeout     time.Duration
	period      time.Duration
	logLevel    string
}

func newServeCommand(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Sessions gRPC service",
		Long: `Serve session data over gRPC.

Settings are read from --config when given; flags override the file.

Example:
  sessiond serve --listen :50061 --metrics :9100
  sessiond serve --config /etc/sessiond.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.listenAddr, "listen", "", "gRPC listen address")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics", "", "Prometheus /metrics listen address")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "session staleness timeout")
	cmd.Flags().DurationVar(&opts.period, "period", 0, "bucket rotation period")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	return cmd
}

// resolve layers flags that were set over the config file or defaults.
func (o *serveOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = o.listenAddr
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = o.metricsAddr
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}
	if flags.Changed("period") {
		cfg.Period = o.period
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	node := server.NewNode(cfg, server.WithNodeLogger(logger), server.WithRegisterer(reg))

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		node.Stop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	return node.Start(ctx)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	var zcfg zap.Config
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
