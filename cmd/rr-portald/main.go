package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/multierr"

	"github.com/haukened/rr-portal/internal/portal/common/clock"
	"github.com/haukened/rr-portal/internal/portal/common/log"
	"github.com/haukened/rr-portal/internal/portal/config"
	"github.com/haukened/rr-portal/internal/portal/domain"
	"github.com/haukened/rr-portal/internal/portal/gateways/transport"
	"github.com/haukened/rr-portal/internal/portal/gateways/wire"
	"github.com/haukened/rr-portal/internal/portal/infra/metrics"
	"github.com/haukened/rr-portal/internal/portal/repos/assets"
	"github.com/haukened/rr-portal/internal/portal/repos/visitors"
	"github.com/haukened/rr-portal/internal/portal/services/portal"
	"github.com/haukened/rr-portal/internal/portal/services/redirector"
	"github.com/haukened/rr-portal/internal/portal/services/runloop"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-portald"

	defaultShutdownTimeout = 10 * time.Second
)

// options are the command line flags. Everything else is configured
// through the config file and PORTAL_* environment variables.
type options struct {
	Config  string `short:"c" long:"config" description:"Path to a YAML, TOML or JSON config file"`
	Version bool   `short:"v" long:"version" description:"Print the version and exit"`
}

// Application holds all the components of the portal
type Application struct {
	config   *config.AppConfig
	identity domain.Identity
	assets   *assets.Store
	visitors *visitors.Registry
	metrics  *metrics.Metrics
	dns      *transport.UDPTransport
	http     *transport.HTTPTransport
	tasks    []runloop.Task
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.Version {
		fmt.Printf("%s %s\n", appName, version)
		return
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"dns_port":  cfg.DNS.Port,
		"http_port": cfg.HTTP.Port,
		"assets":    cfg.HTTP.AssetDir,
	}, "Starting RR-Portal")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Portal failed")
	}

	log.Info(nil, "RR-Portal stopped gracefully")
}

func parseOptions(args []string) (*options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = appName
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	identity, err := domain.NewIdentity(cfg.Identity.SSID, cfg.Identity.GatewayIP, cfg.Identity.Subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}

	clk := clock.RealClock{}

	store, err := assets.New(os.DirFS(cfg.HTTP.AssetDir), cfg.HTTP.Landing, cfg.Assets.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}
	// The landing page is served for almost every request, so a missing
	// one is a startup error rather than a stream of 404s.
	if err := store.Check(); err != nil {
		return nil, fmt.Errorf("landing page unavailable in %s: %w", cfg.HTTP.AssetDir, err)
	}

	registry, err := buildVisitors(cfg, clk)
	if err != nil {
		return nil, err
	}

	m := metrics.New(registry.Active)

	redirect, err := redirector.New(redirector.Options{
		GatewayIP: identity.GatewayIP,
		TTL:       cfg.DNS.TTL,
		Logger:    log.Named("redirector"),
		Visitors:  registry,
		Metrics:   m,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create redirector: %w", err), registry.Close())
	}

	handler, err := portal.NewHandler(portal.Options{
		Assets:       store,
		ChunkSize:    cfg.HTTP.ChunkSize,
		MaxLine:      cfg.HTTP.MaxLine,
		MaxHeaders:   cfg.HTTP.MaxHeaders,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Logger:       log.Named("portal"),
		Visitors:     registry,
		Metrics:      m,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create portal handler: %w", err), registry.Close())
	}

	dnsTransport := transport.NewUDPTransport(transport.UDPOptions{
		Addr:      fmt.Sprintf(":%d", cfg.DNS.Port),
		Codec:     wire.NewUDPCodec(log.Named("wire")),
		Handler:   redirect,
		Logger:    log.Named("dns"),
		Clock:     clk,
		Backoff:   cfg.DNS.Backoff,
		MaxPacket: cfg.DNS.MaxPacket,
		Metrics:   m,
	})

	httpTransport := transport.NewHTTPTransport(transport.HTTPOptions{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: handler,
		Logger:  log.Named("http"),
		Clock:   clk,
	})

	tasks := []runloop.Task{dnsTransport, httpTransport}
	if cfg.Metrics.Port > 0 {
		tasks = append(tasks, transport.NewMetricsTransport(
			fmt.Sprintf(":%d", cfg.Metrics.Port), m.Handler(), log.Named("metrics")))
		log.Info(map[string]any{"port": cfg.Metrics.Port}, "Metrics endpoint configured")
	}

	return &Application{
		config:   cfg,
		identity: identity,
		assets:   store,
		visitors: registry,
		metrics:  m,
		dns:      dnsTransport,
		http:     httpTransport,
		tasks:    tasks,
	}, nil
}

// buildVisitors opens the visitor store and wraps it in a registry
func buildVisitors(cfg *config.AppConfig, clk clock.Clock) (*visitors.Registry, error) {
	store, err := visitors.OpenStore(cfg.Visitors.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open visitor store: %w", err)
	}
	known, err := store.Len()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to count stored visitors: %w", err), store.Close())
	}

	registry, err := visitors.New(visitors.Options{
		CacheSize: cfg.Visitors.CacheSize,
		Capacity:  cfg.Visitors.Capacity,
		FPRate:    cfg.Visitors.FPRate,
	}, store, clk, log.Named("visitors"))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create visitor registry: %w", err), store.Close())
	}

	backend := "memory"
	if cfg.Visitors.DB != "" {
		backend = cfg.Visitors.DB
	}
	log.Info(map[string]any{
		"store":      backend,
		"known":      known,
		"cache_size": cfg.Visitors.CacheSize,
	}, "Visitor registry initialized")

	return registry, nil
}

// Run serves DNS and HTTP until ctx is cancelled or a task fails, then
// flushes the visitor registry.
func (app *Application) Run(ctx context.Context) error {
	log.Info(app.identity.Fields(), "Portal identity")

	runErr := runloop.Run(ctx, log.Named("runloop"), app.tasks...)

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- app.visitors.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err}, "Error flushing visitors")
		} else {
			hits, misses := app.assets.Stats()
			log.Info(map[string]any{
				"visitors":     app.visitors.Active(),
				"asset_hits":   hits,
				"asset_misses": misses,
			}, "Graceful shutdown completed")
		}
		return multierr.Append(runErr, err)
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return multierr.Append(runErr, fmt.Errorf("shutdown timeout"))
	}
}
