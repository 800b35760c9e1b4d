package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/quartzlabs/gatekeeper-mcp/internal/authserver"
	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/credentials"
	"github.com/quartzlabs/gatekeeper-mcp/internal/events"
	"github.com/quartzlabs/gatekeeper-mcp/internal/logging"
	"github.com/quartzlabs/gatekeeper-mcp/internal/tokens"
)

const serviceVersion = "v1.0.0"

func main() {
	config.LoadEnv("../../.env")
	log := logging.New("auth-server")
	slog.SetDefault(log)
	log.Info("starting authorization server", slog.String("version", serviceVersion))

	cfg, err := config.LoadAuthServer()
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	creds, err := credentials.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Error("failed to load credential seed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := openTokenStore(cfg, log)
	if err != nil {
		log.Error("failed to open token store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	var publisher events.Publisher = events.Noop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, "", log)
		if err != nil {
			log.Error("failed to connect audit publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	mux := http.NewServeMux()
	authserver.New(cfg, creds, store, publisher, log).Register(mux)

	log.Info("authorization server listening",
		slog.String("addr", cfg.ListenAddr),
		slog.String("issuer", cfg.Issuer))
	if err := http.ListenAndServe(cfg.ListenAddr, logging.Middleware(log)(mux)); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openTokenStore picks the backend from configuration: Postgres when a
// database URL is set, Redis when a Redis URL is set, in-memory otherwise.
func openTokenStore(cfg config.AuthServer, log *slog.Logger) (tokens.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		log.Info("using postgres token store")
		return tokens.NewPostgresStore(cfg.DatabaseURL)
	case cfg.RedisURL != "":
		log.Info("using redis token store")
		return tokens.NewRedisStore(cfg.RedisURL)
	default:
		log.Info("using in-memory token store; tokens will not survive a restart")
		return tokens.NewMemoryStore(), nil
	}
}
