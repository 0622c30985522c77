package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsync/inventory/internal/config"
	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/internal/httpapi"
	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/internal/mtls"
)

var log = logging.L("main")

var (
	version = "0.1.0"
	cfgFile string
	output  string
)

var rootCmd = &cobra.Command{
	Use:   "inventory-server",
	Short: "Fleet inventory server",
	Long:  `inventory-server stores endpoint inventory pushed by agents and hands out operator tasks.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("inventory-server v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/inventory/server.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format for list commands: table or yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(tasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.ServerConfig, error) {
	cfg, err := config.LoadServer(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, fmt.Errorf("invalid config: %v", errors.Join(result.Fatals...))
	}
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	return cfg, nil
}

// openStore connects to the configured database and applies the schema.
func openStore(ctx context.Context) (*inventory.Store, *config.ServerConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := inventory.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.DatabaseMaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, cfg, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, true)
	if err != nil {
		log.Warn("log file unavailable, logging to stdout", "error", err)
	}
	defer logCloser.Close()

	ctx := context.Background()
	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := health.NewMonitor()
	api := httpapi.New(store, monitor, version, httpapi.Options{
		AdminToken:   cfg.AdminToken,
		MaxBodyBytes: int64(cfg.MaxBodyBytes),
	})
	tlsCfg, err := mtls.ServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSClientCAFile)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		TLSConfig:         tlsCfg,
		Handler:           api.Handler(),
		ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("inventory server listening", "addr", cfg.ListenAddr, "version", version,
			"admin", cfg.AdminToken != "", "tls", tlsCfg != nil, "clientCerts", cfg.TLSClientCAFile != "")
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
