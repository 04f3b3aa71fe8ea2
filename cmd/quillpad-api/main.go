package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quillpadhq/quillpad/backend/internal/admission"
	"github.com/quillpadhq/quillpad/backend/internal/catalog"
	"github.com/quillpadhq/quillpad/backend/internal/config"
	"github.com/quillpadhq/quillpad/backend/internal/database"
	"github.com/quillpadhq/quillpad/backend/internal/document"
	"github.com/quillpadhq/quillpad/backend/internal/identity"
	"github.com/quillpadhq/quillpad/backend/internal/logging"
	"github.com/quillpadhq/quillpad/backend/internal/presence"
	"github.com/quillpadhq/quillpad/backend/internal/server"
	"github.com/quillpadhq/quillpad/backend/internal/session"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quillpad-api",
		Short: "Quillpad collaborative editing backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("limit-connections", defaults.GetInt("limit.connections"), "Connections allowed per source address per window")
	cmd.PersistentFlags().Int("limit-window-seconds", defaults.GetInt("limit.window_seconds"), "Rate limit window in seconds")
	cmd.PersistentFlags().Int("limit-flush-grace-ms", defaults.GetInt("limit.flush_grace_ms"), "Grace period before closing a rejected connection")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "limit.connections", "limit-connections")
	bindFlag(cmd, "limit.window_seconds", "limit-window-seconds")
	bindFlag(cmd, "limit.flush_grace_ms", "limit-flush-grace-ms")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	documentStore, err := document.NewStore(document.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	fileCatalog, err := catalog.NewCatalog(catalog.CatalogConfig{
		Store:  documentStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	engine, err := server.NewEngine(server.EngineConfig{
		Guard: admission.NewGuard(admission.GuardConfig{
			Window: appConfig.RateWindow,
			Limit:  appConfig.RateLimit,
		}),
		Sessions:   session.NewRegistry(session.RegistryConfig{Logger: logger}),
		Identities: identity.NewRegistry(identity.RegistryConfig{Database: db, Logger: logger}),
		Catalog:    fileCatalog,
		Documents:  documentStore,
		Presence:   presence.NewTable(),
		Logger:     logger,
		FlushGrace: appConfig.FlushGrace,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine: engine,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine.Hub().CloseAll()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
