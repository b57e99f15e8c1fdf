package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/auth"
	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"github.com/MarcoPoloResearchLab/feirinha/internal/config"
	"github.com/MarcoPoloResearchLab/feirinha/internal/database"
	"github.com/MarcoPoloResearchLab/feirinha/internal/logging"
	"github.com/MarcoPoloResearchLab/feirinha/internal/server"
	"github.com/MarcoPoloResearchLab/feirinha/internal/shopping"
	"github.com/MarcoPoloResearchLab/feirinha/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feirinha-api",
		Short: "Feirinha shared shopping list backend",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "CORS origins allowed to send credentials (default any)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	flags.Bool("secure-cookies", defaults.GetBool("auth.secure_cookies"), "Mark the session cookie Secure")
	flags.Int("session-ttl-minutes", defaults.GetInt("auth.session_ttl_minutes"), "Session lifetime in minutes")
	flags.Int("realtime-buffer", defaults.GetInt("realtime.buffer_size"), "Per-subscription change buffer")
	flags.Int("heartbeat-seconds", defaults.GetInt("realtime.heartbeat_seconds"), "SSE heartbeat interval in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "auth.secure_cookies", "secure-cookies")
	bindFlag(cmd, "auth.session_ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "realtime.buffer_size", "realtime-buffer")
	bindFlag(cmd, "realtime.heartbeat_seconds", "heartbeat-seconds")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
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

	feed := changefeed.NewFeed(appConfig.RealtimeBuffer)
	defer feed.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	accounts, err := users.NewService(users.ServiceConfig{
		Database:  db,
		Clock:     time.Now,
		Tokens:    tokenIssuer,
		Validator: sessionValidator,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	lists, err := shopping.NewService(shopping.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: shopping.NewUUIDProvider(),
		Publisher:  feed,
		Accounts:   accounts,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:          accounts,
		Tokens:            sessionValidator,
		Lists:             lists,
		Feed:              feed,
		AllowedOrigins:    appConfig.AllowedOrigins,
		SecureCookies:     appConfig.SecureCookies,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
		// Open SSE streams only end once their views stop.
		feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
