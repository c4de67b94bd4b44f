package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperide/backend/internal/auth"
	"github.com/hyperide/backend/internal/broker"
	"github.com/hyperide/backend/internal/config"
	"github.com/hyperide/backend/internal/database"
	"github.com/hyperide/backend/internal/exec"
	"github.com/hyperide/backend/internal/logging"
	"github.com/hyperide/backend/internal/server"
	"github.com/hyperide/backend/internal/stats"
	"github.com/hyperide/backend/internal/users"
	"github.com/hyperide/backend/internal/workspace"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hyperide-api",
		Short: "Collaborative workspace backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("exec-url", defaults.GetString("exec.url"), "Execution backend URL")
	cmd.PersistentFlags().Int("exec-timeout-seconds", defaults.GetInt("exec.timeout_seconds"), "Execution backend timeout in seconds")
	cmd.PersistentFlags().String("admin-username", defaults.GetString("admin.username"), "Administrator account name")
	cmd.PersistentFlags().String("admin-secret", "", "Administrator seed password (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "exec.url", "exec-url")
	bindFlag(cmd, "exec.timeout_seconds", "exec-timeout-seconds")
	bindFlag(cmd, "admin.username", "admin-username")
	bindFlag(cmd, "admin.secret", "admin-secret")
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

	db, err := database.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	registry, err := workspace.NewService(workspace.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: workspace.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	accountService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	aggregator, err := stats.NewAggregator(db)
	if err != nil {
		return err
	}

	execRouter, err := exec.NewRouter(exec.RouterConfig{
		Endpoint: appConfig.ExecURL,
		Timeout:  appConfig.ExecTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := accountService.SeedAdmin(ctx, appConfig.AdminUsername, appConfig.AdminSecret); err != nil {
		return err
	}
	if err := registry.SeedWelcomeFile(ctx); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        accountService,
		Registry:     registry,
		Exec:         execRouter,
		Stats:        aggregator,
		Broker:       broker.New(),
		Logger:       logger,
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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
