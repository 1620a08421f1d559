package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/logging"
	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/DanrwAU/zenwifi/internal/rate"
	"github.com/DanrwAU/zenwifi/internal/router"
	"github.com/DanrwAU/zenwifi/internal/server"
	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("ZENWIFI_CONFIG", config.DefaultPath), "Path to config.yaml")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		serveCmd(*configPath)
	case "config":
		configCmd(*configPath)
	case "login":
		loginCmd(*configPath, args)
	case "debug":
		debugCmd(*configPath, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "zenwifi [--config <path>] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     run the bridge (default)")
	fmt.Fprintln(os.Stderr, "  config    print the effective config")
	fmt.Fprintln(os.Stderr, "  login     check credentials and persist tokens [--json] [--state-path <path>] [--skip-blob]")
	fmt.Fprintln(os.Stderr, "  debug     dump account, devices and status [--out <path>] [--upload]")
}

func configCmd(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config", err)
	}
	data, err := config.Render(cfg)
	if err != nil {
		fatal("config", err)
	}
	_, _ = os.Stdout.Write(data)
}

func serveCmd(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fatal("logging", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Fatal("zenwifi stopped", zap.Error(err))
	}
	logger.Info("zenwifi stopped")
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	zenCfg, err := zenwifi.ConfigFromApp(cfg)
	if err != nil {
		return err
	}
	blob, err := blobStore(cfg.OAuth)
	if err != nil {
		return err
	}

	plugin, err := zenwifi.NewPlugin(ctx, zenCfg, zenwifi.Options{
		BlobStore:       blob,
		Logger:          logger,
		RefreshInterval: oauth.RefreshInterval(cfg.OAuth),
		Triggers:        cfg.Automation.Triggers,
	})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	plugins := []core.Plugin{plugin}
	if err := core.ValidatePlugins(plugins); err != nil {
		return err
	}
	if err := core.WriteDashboards(cfg.Core.DashboardsDir, plugins); err != nil {
		return err
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, plugins); err != nil {
		return err
	}

	collectors := append(rate.MetricsCollectors(), oauth.MetricsCollectors()...)
	registry := core.MetricsRegistry(plugins, collectors...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "zenwifi_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	hub := server.NewHub(logger, func() server.Message {
		return server.Message{Type: "snapshot", Time: time.Now(), Data: server.EntityStates(plugins)}
	})
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(plugins, registry, hub))

	out, err := newOutputs(ctx, cfg, plugin, hub, plugins, logger)
	if err != nil {
		return err
	}
	defer out.Close()

	updates, unsubscribe := plugin.Coordinator().Subscribe()
	defer unsubscribe()
	go out.forward(ctx, updates)
	plugin.OnEvent(func(event zenwifi.Event) { out.event(ctx, event) })

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Core.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.Core.GRPCAddr))
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go plugin.Run(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.Stop()
	return runErr
}

// blobStore returns nil when no mirror is configured.
func blobStore(cfg config.OAuthConfig) (oauth.BlobStore, error) {
	if !cfg.BlobEnabled() {
		return nil, nil
	}
	store, err := oauth.NewS3Store(cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	return store, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	if errors.Is(err, zenwifi.ErrAuthentication) {
		fmt.Fprintln(os.Stderr, "credentials were rejected; update zen.username and zen.password_file and run zenwifi login")
	}
	os.Exit(1)
}
