package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/auth"
	"github.com/MarcoPoloResearchLab/moochie/internal/capture"
	"github.com/MarcoPoloResearchLab/moochie/internal/chat"
	"github.com/MarcoPoloResearchLab/moochie/internal/config"
	"github.com/MarcoPoloResearchLab/moochie/internal/database"
	"github.com/MarcoPoloResearchLab/moochie/internal/ids"
	"github.com/MarcoPoloResearchLab/moochie/internal/logging"
	"github.com/MarcoPoloResearchLab/moochie/internal/notifications"
	"github.com/MarcoPoloResearchLab/moochie/internal/push"
	"github.com/MarcoPoloResearchLab/moochie/internal/remoteconfig"
	"github.com/MarcoPoloResearchLab/moochie/internal/server"
	"github.com/MarcoPoloResearchLab/moochie/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "moochie-auth"
	tokenAudience = "moochie-api"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moochie-api",
		Short: "Moochie notification mirror and room chat backend",
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
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("own-package", defaults.GetString("capture.own_package"), "Package whose own notifications are never mirrored")
	cmd.PersistentFlags().String("remote-config-url", defaults.GetString("remote_config.url"), "Remote config document URL")
	cmd.PersistentFlags().String("amqp-uri", "", "AMQP broker URI for chat push fan-out (disabled when empty)")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "capture.own_package", "own-package")
	bindFlag(cmd, "remote_config.url", "remote-config-url")
	bindFlag(cmd, "amqp.uri", "amqp-uri")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
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
	appConfig, err := config.LoadServer(viper.GetViper())
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

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		ClientID: appConfig.GoogleClientID,
		CertsURL: appConfig.GoogleJWKSURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Location:   appConfig.NotificationLocation,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	titleProvider := remoteconfig.NewProvider(remoteconfig.Config{
		URL:              appConfig.RemoteConfigURL,
		Defaults:         capture.DefaultExcludedTitles,
		MinFetchInterval: appConfig.RemoteConfigMinFetch,
		Logger:           logger,
	})
	go titleProvider.Run(signalCtx)

	listener, err := newCaptureListener(notificationService, titleProvider, appConfig.OwnPackage, logger)
	if err != nil {
		return err
	}
	defer listener.Destroy()

	var publisher chat.Publisher
	if appConfig.AMQPURI != "" {
		pushPublisher, err := push.Dial(push.AMQPSettings{
			URI:          appConfig.AMQPURI,
			ExchangeName: appConfig.AMQPExchangeName,
			ExchangeType: appConfig.AMQPExchangeType,
		}, logger)
		if err != nil {
			return err
		}
		defer pushPublisher.Close() //nolint:errcheck
		publisher = pushPublisher
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
		Publisher:  publisher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier:   googleVerifier,
		TokenManager:     tokenManager,
		IdentityResolver: userService,
		Capture:          listener,
		Notifications:    notificationService,
		ChatRooms:        chatService,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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

// newCaptureListener builds the ingest listener and brings it to Running.
// A rebind request reconnects it in place.
func newCaptureListener(appender capture.Appender, titles capture.TitleFilter, ownPackage string, logger *zap.Logger) (*capture.Listener, error) {
	var listener *capture.Listener
	rebinder := capture.RebinderFunc(func() {
		logger.Info("capture listener rebind requested")
		if listener != nil {
			listener.Connect()
		}
	})
	listener, err := capture.NewListener(capture.ListenerConfig{
		Appender:   appender,
		Sessions:   capture.ContextSessions{},
		Titles:     titles,
		Rebinder:   rebinder,
		OwnPackage: ownPackage,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	listener.Create()
	listener.Connect()
	return listener, nil
}
