// Package main implements the entry point for the contact data dispatcher, a
// service that routes ingested contact and organization data from its landing
// graph to the public graph and per-organization graphs, reacting to delta
// notifications from the ingest pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/lblod/contact-data-dispatcher-service/config"
	"github.com/lblod/contact-data-dispatcher-service/dispatch"
	"github.com/lblod/contact-data-dispatcher-service/gateway"
	"github.com/lblod/contact-data-dispatcher-service/input/deltastream"
	"github.com/lblod/contact-data-dispatcher-service/metric"
	"github.com/lblod/contact-data-dispatcher-service/natsclient"
	"github.com/lblod/contact-data-dispatcher-service/pkg/retry"
	"github.com/lblod/contact-data-dispatcher-service/rules"
	"github.com/lblod/contact-data-dispatcher-service/sparql"
	"github.com/lblod/contact-data-dispatcher-service/store"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "contact-data-dispatcher"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting contact data dispatcher",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rulebook, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("load dispatch rules: %w", err)
	}
	if err := rulebook.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch rules: %w", err)
	}
	slog.Info("dispatch rules loaded",
		"path", cfg.Rules.Path,
		"public_rules", len(rulebook.Public),
		"organization_rules", len(rulebook.Organization))

	if cliCfg.Validate {
		slog.Info("configuration and rules are valid")
		return nil
	}

	if cliCfg.InitialDispatch {
		return runInitialDispatch(cfg, rulebook, logger)
	}

	return runService(cfg, rulebook, logger, cliCfg.ShutdownTimeout)
}

// runService wires and runs the reactive dispatcher until a shutdown signal
func runService(cfg *config.Config, rulebook *rules.Rulebook, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	storeClient, err := buildStoreClient(cfg, cfg.SPARQL.QueryEndpoint, cfg.SPARQL.UpdateEndpoint, logger, metrics)
	if err != nil {
		return err
	}

	hub := gateway.NewHub(logger)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	var natsClient *natsclient.Client
	if cfg.NATS.Enabled {
		natsClient, err = connectNATS(signalCtx, cfg, logger, metrics)
		if err != nil {
			return err
		}
	}

	sink := dispatch.EventSink(hub)
	if natsClient != nil && cfg.NATS.EventsSubject != "" {
		publisher, err := natsclient.NewEventPublisher(natsClient, cfg.NATS.EventsSubject, logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		sink = dispatch.MultiSink(hub, publisher)
	}

	var check dispatch.CheckFunc
	if len(cfg.Prerequisite.SyncOperations) > 0 {
		check = storeClient.InitialSyncDone
	}

	dispatcher, err := dispatch.NewDispatcher(
		dispatch.Config{
			Queue: dispatch.QueueConfig{
				Workers: cfg.Queue.Workers,
				Size:    cfg.Queue.Size,
			},
			PublicGraph: cfg.Graphs.Public,
			PrerequisiteBackoff: retry.Config{
				InitialDelay: cfg.Prerequisite.PollInterval,
				MaxDelay:     cfg.Prerequisite.MaxPollDelay,
				Multiplier:   1.5,
				AddJitter:    true,
			},
		},
		storeClient,
		rulebook,
		check,
		logger,
		metrics,
		dispatch.WithEventSink(sink),
		dispatch.WithMetricsRegistry(registry),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	gw, err := gateway.NewGateway(gateway.Config{
		Port:           cfg.HTTP.Port,
		MaxRequestSize: cfg.HTTP.MaxRequestSize,
		EnableCORS:     cfg.HTTP.EnableCORS,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
	}, dispatcher, hub, logger, metrics)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	if err := dispatcher.Start(signalCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	if natsClient != nil {
		source, err := deltastream.NewSource(
			deltastream.Config{Subject: cfg.NATS.Subject},
			natsClient, dispatcher, logger, metrics)
		if err != nil {
			return fmt.Errorf("create delta stream: %w", err)
		}
		if err := source.Start(signalCtx); err != nil {
			return fmt.Errorf("start delta stream: %w", err)
		}
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		slog.Info("metrics server started", "address", metricsServer.Address())
	}

	gatewayErr := make(chan error, 1)
	go func() {
		gatewayErr <- gw.Start(signalCtx)
	}()

	slog.Info("contact data dispatcher started", "http_port", cfg.HTTP.Port)

	select {
	case <-signalCtx.Done():
		slog.Info("received shutdown signal")
	case err := <-gatewayErr:
		if err != nil {
			return fmt.Errorf("gateway failed: %w", err)
		}
	}

	return shutdown(gw, dispatcher, natsClient, metricsServer, shutdownTimeout)
}

// shutdown stops the intake surfaces first, then drains the queue
func shutdown(
	gw *gateway.Gateway,
	dispatcher *dispatch.Dispatcher,
	natsClient *natsclient.Client,
	metricsServer *metric.Server,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)

	if err := gw.Stop(timeout); err != nil {
		slog.Error("gateway shutdown failed", "error", err)
	}

	if natsClient != nil {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		if err := natsClient.Close(ctx); err != nil {
			slog.Error("NATS shutdown failed", "error", err)
		}
		cancel()
	}

	if err := dispatcher.Stop(time.Until(deadline)); err != nil {
		slog.Error("dispatcher shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// connectNATS creates and connects the NATS client used by the delta stream
// and the optional event publisher
func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*natsclient.Client, error) {
	opts := []natsclient.Option{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return natsClient, nil
}

// runInitialDispatch performs a one-shot bulk dispatch of everything already
// present in the ingest graph, then exits. Used to seed the graphs before the
// reactive service takes over. Prefers the direct (authorization-free)
// endpoint when one is configured, since bulk moves touch every graph.
func runInitialDispatch(cfg *config.Config, rulebook *rules.Rulebook, logger *slog.Logger) error {
	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	queryEndpoint := cfg.SPARQL.QueryEndpoint
	updateEndpoint := cfg.SPARQL.UpdateEndpoint
	if cfg.SPARQL.DirectEndpoint != "" {
		queryEndpoint = cfg.SPARQL.DirectEndpoint
		updateEndpoint = cfg.SPARQL.DirectEndpoint
	}

	storeClient, err := buildStoreClient(cfg, queryEndpoint, updateEndpoint, logger, metrics)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("running initial dispatch",
		"endpoint", updateEndpoint,
		"public_rules", len(rulebook.Public),
		"organization_rules", len(rulebook.Organization))

	for i, rule := range rulebook.Public {
		if err := storeClient.BulkDispatchPublic(ctx, rule); err != nil {
			return fmt.Errorf("bulk dispatch public rule %d (%s): %w", i, rule.Type, err)
		}
		slog.Info("public rule dispatched", "type", rule.Type)
	}
	for i, rule := range rulebook.Organization {
		if err := storeClient.BulkDispatchOrg(ctx, rule); err != nil {
			return fmt.Errorf("bulk dispatch organization rule %d (%s): %w", i, rule.Type, err)
		}
		slog.Info("organization rule dispatched", "type", rule.Type)
	}

	slog.Info("initial dispatch complete")
	return nil
}

// buildStoreClient assembles the SPARQL protocol client and store layer
func buildStoreClient(cfg *config.Config, queryEndpoint, updateEndpoint string, logger *slog.Logger, metrics *metric.Metrics) (*store.Client, error) {
	sparqlClient, err := sparql.NewClient(sparql.Config{
		QueryEndpoint:  queryEndpoint,
		UpdateEndpoint: updateEndpoint,
		Timeout:        cfg.SPARQL.Timeout,
		Retry:          retry.DefaultConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("create SPARQL client: %w", err)
	}

	storeClient, err := store.NewClient(sparqlClient, store.Config{
		IngestGraph:       cfg.Graphs.Ingest,
		LandingZoneGraphs: cfg.Graphs.LandingZones,
		PublicGraph:       cfg.Graphs.Public,
		ErrorGraph:        cfg.Graphs.Error,
		OrgGraphPrefix:    cfg.Graphs.OrgPrefix,
		CreatorURI:        cfg.Graphs.CreatorURI,
		SyncOperations:    cfg.Prerequisite.SyncOperations,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create store client: %w", err)
	}
	return storeClient, nil
}
