package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dvcrn/frollo-sdk-go/internal/api"
	"github.com/dvcrn/frollo-sdk-go/internal/cipher"
	"github.com/dvcrn/frollo-sdk-go/internal/config"
	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/network"
	"github.com/dvcrn/frollo-sdk-go/internal/server"
	"github.com/dvcrn/frollo-sdk-go/internal/token"
)

func main() {
	var (
		configPath string
		login      bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.BoolVar(&login, "login", false, "log in with FROLLO_USERNAME and FROLLO_PASSWORD before serving")
	flag.Parse()

	cfg := config.MustLoad(configPath)
	logger.Configure(cfg.Env, cfg.LogLevel)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := credentials.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.Store.Kind).Msg("Failed to open credential store")
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	secrets, ephemeral, err := cipher.FromSecret(cfg.Cipher.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token cipher")
	}
	if ephemeral {
		log.Warn().Msg("FROLLO_TOKEN_SECRET is not set; stored tokens will not survive a restart")
	}

	tok := token.New(store, secrets, token.WithExpiryMargin(cfg.Network.ExpiryMargin))
	svc, err := network.New(cfg, tok, network.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session")
	}

	if login {
		username, password := os.Getenv("FROLLO_USERNAME"), os.Getenv("FROLLO_PASSWORD")
		if err := svc.LoginWithPassword(ctx, username, password); err != nil {
			log.Fatal().Err(err).Str("username", username).Msg("Login failed")
		}
	}

	// Perform startup auth check
	if svc.Status(ctx).Authenticated {
		log.Info().Str("store", store.Name()).Msg("Performing startup authentication check...")
		if user, err := api.NewClient(svc).User(ctx); err != nil {
			log.Warn().Err(err).Msg("Startup authentication check failed.")
		} else {
			log.Info().
				Int64("user_id", user.UserID).
				Str("email", user.Email).
				Str("status", user.Status).
				Msg("Startup authentication check successful.")
		}
	}

	srv := server.NewServer(svc, server.WithAdminKey(cfg.Proxy.AdminAPIKey))
	defer srv.Close()

	if err := srv.Start(ctx, cfg.Proxy.Addr()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
