//go:build js && wasm

package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/syumai/workers"
	"github.com/syumai/workers/cloudflare"

	"github.com/dvcrn/frollo-sdk-go/internal/cipher"
	"github.com/dvcrn/frollo-sdk-go/internal/config"
	"github.com/dvcrn/frollo-sdk-go/internal/credentials"
	"github.com/dvcrn/frollo-sdk-go/internal/logger"
	"github.com/dvcrn/frollo-sdk-go/internal/metrics"
	"github.com/dvcrn/frollo-sdk-go/internal/network"
	"github.com/dvcrn/frollo-sdk-go/internal/server"
	"github.com/dvcrn/frollo-sdk-go/internal/token"
)

// KV namespace binding from wrangler.toml, overridable with FROLLO_KV_BINDING.
const defaultKVBinding = "FROLLO_KV"

var srv *server.Server

func init() {
	// Workers have no process environment; copy the bindings over so config can read them.
	for _, key := range append(config.EnvKeys(), "FROLLO_KV_BINDING") {
		if v := cloudflare.Getenv(key); v != "" {
			_ = os.Setenv(key, v)
		}
	}
	_ = os.Setenv("FROLLO_STORE", config.StoreCloudflareKV)

	cfg := config.MustLoad("")
	logger.Configure(cfg.Env, cfg.LogLevel)
	log := logger.Get()

	binding := os.Getenv("FROLLO_KV_BINDING")
	if binding == "" {
		binding = defaultKVBinding
	}
	store, err := credentials.NewCloudflareKVStore(binding, cfg.Store.Prefix)
	if err != nil {
		log.Fatal().Err(err).Str("binding", binding).Msg("Failed to open KV namespace")
	}

	secrets, ephemeral, err := cipher.FromSecret(cfg.Cipher.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token cipher")
	}
	if ephemeral {
		// Each isolate gets its own key, so tokens written by one cannot be read by another.
		log.Warn().Msg("FROLLO_TOKEN_SECRET is not set; stored tokens are only readable by this isolate")
	}

	tok := token.New(store, secrets, token.WithExpiryMargin(cfg.Network.ExpiryMargin))
	svc, err := network.New(cfg, tok, network.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session")
	}

	if st := svc.Status(context.Background()); !st.Authenticated {
		log.Warn().Msg("No stored session; requests will fail until POST /admin/login")
	}

	srv = server.NewServer(svc, server.WithAdminKey(cfg.Proxy.AdminAPIKey))
}

func main() {
	workers.Serve(srv)
}
