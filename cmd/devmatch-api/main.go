package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devmatch-labs/devmatch/backend/internal/authstate"
	"github.com/devmatch-labs/devmatch/backend/internal/bootstrap"
	"github.com/devmatch-labs/devmatch/backend/internal/config"
	"github.com/devmatch-labs/devmatch/backend/internal/database"
	"github.com/devmatch-labs/devmatch/backend/internal/github"
	"github.com/devmatch-labs/devmatch/backend/internal/intent"
	"github.com/devmatch-labs/devmatch/backend/internal/logging"
	"github.com/devmatch-labs/devmatch/backend/internal/profiles"
	"github.com/devmatch-labs/devmatch/backend/internal/server"
	"github.com/devmatch-labs/devmatch/backend/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devmatch-api",
		Short: "DevMatch auth and profile backend service",
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
	cmd.PersistentFlags().String("provider-url", defaults.GetString("provider.url"), "Hosted auth provider base URL")
	cmd.PersistentFlags().String("oauth-redirect-url", defaults.GetString("oauth.redirect_url"), "OAuth redirect URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("github-app-id", defaults.GetString("github.app_id"), "GitHub App ID")
	cmd.PersistentFlags().String("github-private-key-path", defaults.GetString("github.private_key_path"), "GitHub App private key path")
	cmd.PersistentFlags().Int("intent-ttl-minutes", defaults.GetInt("signup.intent_ttl_minutes"), "Signup intent TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "provider.url", "provider-url")
	bindFlag(cmd, "oauth.redirect_url", "oauth-redirect-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "github.app_id", "github-app-id")
	bindFlag(cmd, "github.private_key_path", "github-private-key-path")
	bindFlag(cmd, "signup.intent_ttl_minutes", "intent-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
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

	repository, err := profiles.NewRepository(profiles.RepositoryConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	providerClient, err := session.NewClient(session.ClientConfig{
		BaseURL:          appConfig.AuthProviderURL,
		APIKey:           appConfig.AuthProviderAPIKey,
		OAuthRedirectURL: appConfig.OAuthRedirectURL,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	sessionStore, err := session.NewStore(session.StoreConfig{
		Client: providerClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tokenLens, err := session.NewTokenLens(session.TokenLensConfig{
		SigningSecret: []byte(appConfig.AuthProviderJWTKey),
	})
	if err != nil {
		return err
	}

	intentStore := intent.NewCacheStore(appConfig.SignupIntentTTL)
	defer intentStore.Stop()

	enricher, err := buildEnricher(appConfig, logger)
	if err != nil {
		return err
	}

	resolver, err := bootstrap.NewResolver(bootstrap.ResolverConfig{
		Repository:  repository,
		IntentStore: intentStore,
		Enricher:    enricher,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	authContext, err := authstate.NewContext(authstate.ContextConfig{
		Store:       sessionStore,
		Resolver:    resolver,
		Repository:  repository,
		IntentStore: intentStore,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := authContext.Start(signalCtx); err != nil {
		return err
	}
	defer authContext.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		AuthContext: authContext,
		Store:       sessionStore,
		Repository:  repository,
		TokenLens:   tokenLens,
		Resolver:    resolver,
		Logger:      logger,
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

// buildEnricher wires GitHub enrichment when the App credentials are
// configured; bootstrap runs without it otherwise.
func buildEnricher(appConfig config.AppConfig, logger *zap.Logger) (bootstrap.ProfileEnricher, error) {
	if appConfig.GitHubAppID == "" || appConfig.GitHubPrivateKeyPath == "" {
		return nil, nil
	}
	pemBytes, err := os.ReadFile(appConfig.GitHubPrivateKeyPath)
	if err != nil {
		return nil, err
	}
	privateKey, err := github.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	issuer, err := github.NewAppTokenIssuer(github.AppTokenIssuerConfig{
		AppID:      appConfig.GitHubAppID,
		PrivateKey: privateKey,
	})
	if err != nil {
		return nil, err
	}
	return github.NewEnricher(github.EnricherConfig{
		Issuer:     issuer,
		APIBaseURL: appConfig.GitHubAPIURL,
		Logger:     logger,
	})
}
