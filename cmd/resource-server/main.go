package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/introspect"
	"github.com/quartzlabs/gatekeeper-mcp/internal/logging"
	"github.com/quartzlabs/gatekeeper-mcp/internal/resource"
)

const serviceVersion = "v1.0.0"

func main() {
	config.LoadEnv("../../.env")
	log := logging.New("resource-server")
	slog.SetDefault(log)
	log.Info("starting resource server", slog.String("version", serviceVersion))

	cfg, err := config.LoadResourceServer()
	if err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	introspector := introspect.NewCache(
		introspect.NewRemote(cfg.AuthServerURL, cfg.IntrospectTimeout),
		cfg.CacheFreshFor,
	)

	mux := http.NewServeMux()
	resource.New(cfg, introspector, log).Register(mux)

	log.Info("resource server listening",
		slog.String("addr", cfg.ListenAddr),
		slog.String("auth_server", cfg.AuthServerURL))
	if err := http.ListenAndServe(cfg.ListenAddr, logging.Middleware(log)(mux)); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
