package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/config"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/infomodel"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/logging"
	natsclient "github.com/devghori1264/aerophoenix/machine-bridge/internal/nats"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/observer"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/server"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/storage"
	"github.com/devghori1264/aerophoenix/machine-bridge/internal/tracing"
)

const serviceName = "machine-bridge"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath    string
		simFile       string
		logLevel      string
		natsURL       string
		opcuaEndpoint string
	)

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Publish machine tool data from an OPC UA information model to NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("sim") {
				cfg.Source.Mode = config.SourceSim
				cfg.Source.SimFile = simFile
			}
			if flags.Changed("opcua-endpoint") {
				cfg.Source.Mode = config.SourceOPCUA
				cfg.Source.Endpoint = opcuaEndpoint
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("nats-url") {
				cfg.Broker.URL = natsURL
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&simFile, "sim", "configs/sim-addressspace.yaml", "serve a simulated information model from this file")
	f.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&natsURL, "nats-url", "nats://localhost:4222", "NATS server URL")
	f.StringVar(&opcuaEndpoint, "opcua-endpoint", "", "OPC UA server endpoint, e.g. opc.tcp://localhost:4840")
	cmd.MarkFlagsMutuallyExclusive("sim", "opcua-endpoint")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(serviceName, os.Stdout, cfg.Tracing.Pretty)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown", zap.Error(err))
			}
		}()
	}

	var store storage.Store
	if !cfg.Storage.Disabled {
		store, err = storage.NewBadgerStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		defer store.Close()
	}

	source, closeSource, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	pub, err := natsclient.NewPublisher(ctx, cfg.PublisherConfig(), logger.Named("nats"))
	if err != nil {
		return err
	}
	defer pub.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obs := observer.New(cfg.ObserverConfig(), observer.Deps{
		Source:    source,
		Publisher: pub,
		Store:     store,
		Logger:    logger.Named("observer"),
		Metrics:   observer.NewMetrics(reg),
	})

	srv := server.New(server.Config{
		HTTPAddr:        cfg.Server.HTTPAddr,
		GRPCAddr:        cfg.Server.GRPCAddr,
		MetricsAddr:     cfg.Server.MetricsAddr,
		PublishInterval: cfg.Observer.PublishInterval,
	}, server.Deps{
		Observer: obs,
		Broker:   pub,
		Store:    store,
		Gatherer: reg,
		Logger:   logger.Named("server"),
	})

	logger.Info("machine bridge starting",
		zap.String("source", cfg.Source.Mode),
		zap.String("site", cfg.Observer.Site),
		zap.String("nats", cfg.Broker.URL))
	return srv.Run(ctx)
}

// openSource connects the information model selected by cfg.Source.Mode.
func openSource(ctx context.Context, cfg config.Config, logger *zap.Logger) (infomodel.Client, func(), error) {
	types := infomodel.BuiltinTypes()
	switch cfg.Source.Mode {
	case config.SourceOPCUA:
		c, err := infomodel.DialOPCUA(ctx, cfg.OPCUAConfig(), types, logger.Named("opcua"))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Close(cctx); err != nil {
				logger.Warn("close opc ua session", zap.Error(err))
			}
		}, nil
	default:
		space, err := infomodel.LoadAddressSpaceFile(cfg.Source.SimFile, types)
		if err != nil {
			return nil, nil, fmt.Errorf("load simulated address space: %w", err)
		}
		logger.Info("serving simulated information model", zap.String("file", cfg.Source.SimFile))
		return space, func() {}, nil
	}
}
