package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - minimal multi-tenant event bus",
	Long: `Burrow hosts apps made of named channels. Clients publish ordered
batches of events into a channel and subscribed users receive a live
fan-out of new batches, while the full history stays readable.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "127.0.0.1:8080", "Burrow server address")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the burrow server",
	Long: `Run the burrow server.

Configuration is read from the file given with --config, then overridden
by BURROW_* environment variables and finally by flags.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().String("http-addr", "", "Address for the HTTP API")
	serveCmd.Flags().String("grpc-addr", "", "Address for the gRPC health service (disabled when empty)")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON format")
	serveCmd.Flags().Float64("publish-rate", 0, "Publish requests per second allowed per app (0 disables)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	config.FromEnv(&cfg)

	flags := cmd.Flags()
	if flags.Changed("http-addr") {
		cfg.HTTPAddr, _ = flags.GetString("http-addr")
	}
	if flags.Changed("grpc-addr") {
		cfg.GRPCAddr, _ = flags.GetString("grpc-addr")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("publish-rate") {
		cfg.API.PublishRate, _ = flags.GetFloat64("publish-rate")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(cfg.LoggerConfig())
	metrics.SetVersion(Version)

	critical := []string{metrics.ComponentRegistry, metrics.ComponentHTTP}
	if cfg.GRPCAddr != "" {
		critical = append(critical, metrics.ComponentGRPC)
	}
	metrics.SetCriticalComponents(critical...)

	mgr := manager.NewManager(cfg.ManagerConfig())
	metrics.UpdateComponent(metrics.ComponentRegistry, true, "")
	log.Logger.Info().
		Int("queue_size", cfg.Channel.QueueSize).
		Int("buffer_size", cfg.Channel.BufferSize).
		Str("lag_policy", cfg.Channel.LagPolicy).
		Msg("manager started")

	collector := manager.NewMetricsCollector(mgr, cfg.Metrics.CollectInterval)
	collector.Start()

	httpServer := api.NewServer(mgr, api.Config{
		Addr:                   cfg.HTTPAddr,
		PublishRate:            cfg.API.PublishRate,
		PublishBurst:           cfg.API.PublishBurst,
		DeleteUserOnDisconnect: cfg.API.DeleteUserOnDisconnect,
		HeartbeatInterval:      cfg.API.HeartbeatInterval,
		CORSOrigins:            cfg.API.CORSOrigins,
	})

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var grpcServer *api.GRPCServer
	if cfg.GRPCAddr != "" {
		grpcServer = api.NewGRPCServer()
		go func() {
			if err := grpcServer.Start(cfg.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		log.Logger.Error().Err(runErr).Msg("server failed")
	}

	// Shutdown
	metrics.UpdateComponent(metrics.ComponentRegistry, false, "shutting down")
	if grpcServer != nil {
		grpcServer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	mgr.Shutdown()
	collector.Stop()

	log.Info("shutdown complete")
	return runErr
}
