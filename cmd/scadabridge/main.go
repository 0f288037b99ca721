package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tetherview/scadabridge/pkg/config"
	"github.com/tetherview/scadabridge/pkg/gate"
	"github.com/tetherview/scadabridge/pkg/ipc"
	"github.com/tetherview/scadabridge/pkg/observability"
	"github.com/tetherview/scadabridge/pkg/proxy"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/telemetry"
	"github.com/tetherview/scadabridge/pkg/upstream"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("scadabridge %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "scadabridge:", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	level := observability.ParseLevel(logLevel)
	logger := observability.NewLogger("scadabridge", level)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:  cfg.Upstream.BaseURL,
		Username: cfg.Upstream.Username,
		Password: cfg.Upstream.Password,
		Timeout:  cfg.Upstream.Timeout,
		Logger:   observability.NewLogger("upstream", level),
	})
	if err != nil {
		return err
	}
	if err := client.Authenticate(ctx); err != nil {
		// The collector keeps retrying through its read path, so a dead
		// upstream at boot is survivable.
		logger.Warn("initial upstream authentication failed", "error", err)
	}

	store := registry.NewStore(cfg.Points.File)
	defs, err := store.Load()
	if err != nil {
		return err
	}
	registryLogger := observability.NewLogger("registry", level)
	reg := registry.New(defs, registry.WithStore(store), registry.WithLogger(registryLogger))
	watcher := registry.NewWatcher(reg, store, registryLogger)

	buffer := telemetry.NewBuffer(cfg.Collector.Retention)
	hub := telemetry.NewHub()
	defer hub.Close()
	collector := telemetry.NewCollector(client, reg, buffer, hub,
		cfg.Collector.SampleInterval, observability.NewLogger("collector", level))

	commandGate := gate.New(client, reg, observability.NewLogger("gate", level))

	upstreamURL, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return err
	}
	publicOrigin, err := url.Parse(cfg.Server.PublicOrigin)
	if err != nil {
		return err
	}
	gateway := proxy.NewGateway(proxy.Config{
		Upstream:     upstreamURL,
		PublicOrigin: publicOrigin,
		Prefix:       cfg.Server.ProxyPrefix,
		Login:        client.Login,
		Logger:       observability.NewLogger("proxy", level),
	})

	server := ipc.NewServer(ipc.Config{
		BindAddress:    cfg.Server.BindAddress,
		PublicOrigin:   cfg.Server.PublicOrigin,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ProxyPrefix:    cfg.Server.ProxyPrefix,
	}, ipc.Deps{
		Registry:  reg,
		Upstream:  client,
		Collector: collector,
		Buffer:    buffer,
		Hub:       hub,
		Gate:      commandGate,
		Proxy:     gateway,
		Logger:    observability.NewLogger("ipc", level),
	})

	logger.Info("starting",
		"version", version,
		"bind", cfg.Server.BindAddress,
		"upstream", cfg.Upstream.BaseURL,
		"points", reg.Snapshot().Len())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Start(groupCtx) })
	group.Go(func() error { return collector.Run(groupCtx) })
	group.Go(func() error { return watcher.Run(groupCtx) })
	group.Go(func() error { return gateway.RunSweeper(groupCtx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
