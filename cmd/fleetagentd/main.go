package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetagent/pkg/backup"
	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/fileiface"
	"github.com/cuemby/fleetagent/pkg/firewall"
	"github.com/cuemby/fleetagent/pkg/localhttp"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/network"
	"github.com/cuemby/fleetagent/pkg/reconciler"
	"github.com/cuemby/fleetagent/pkg/runtime"
	"github.com/cuemby/fleetagent/pkg/session"
	"github.com/cuemby/fleetagent/pkg/storage"
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
	Use:     "fleetagentd",
	Short:   "fleetagentd - node agent for container-backed game/app servers",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetagentd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: connect to the backend and manage workloads on this node",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log.Logger.Info().Str("backend", cfg.Server.BackendURL).Str("node_id", cfg.Server.NodeID).
			Msg("starting fleetagentd")

		driver := runtime.NewDriver(cfg.Runtime.Binary, cfg.Runtime.Namespace)
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		backups := backup.NewManager(config.Scope)
		storageMgr := storage.NewManager()
		files := fileiface.New(cfg.Server.DataDir)
		fw := firewall.NewDriver()
		networks := network.NewManager(cfg, configPath)
		networks.EnsureAll()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("runtime", true, "ready")
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("session", false, "connecting")

		collector := metrics.NewCollector(driver)
		collector.Start()
		defer collector.Stop()

		recon := reconciler.New(driver, broker, nil)
		sess := session.New(cfg, driver, recon, backups, storageMgr, files, fw, networks)
		recon.SetEmitter(sess)

		httpServer := localhttp.New(metricsAddr)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Logger.Error().Err(err).Msg("local http server error")
			}
		}()
		defer httpServer.Close()
		log.Logger.Info().Str("addr", metricsAddr).Msg("local http server listening (/health, /ready, /live, /metrics)")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- sess.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				log.Logger.Error().Err(err).Msg("control session exited")
			}
		}

		cancel()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to TOML config file (falls back to environment variables if unset)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the local health/metrics HTTP server")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.FromEnv()
}
