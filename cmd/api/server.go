package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"finsight/internal/shared/config"
	"finsight/internal/shared/middleware"

	"github.com/rs/zerolog/log"
)

// Server timeouts. Writes allow for the slowest aggregator-backed route.
const (
	readTimeout  = 15 * time.Second
	writeTimeout = 45 * time.Second
	idleTimeout  = 60 * time.Second
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Handler      http.Handler
	Addr         string
	TLSEnabled   bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
	AllowedHosts []string
}

// NewServerConfigFromConfig creates ServerConfig from application config.
func NewServerConfigFromConfig(handler http.Handler, cfg *config.Config) ServerConfig {
	return ServerConfig{
		Handler:      handler,
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		TLSEnabled:   cfg.TLS.Enabled,
		CertPath:     cfg.TLS.CertPath,
		KeyPath:      cfg.TLS.KeyPath,
		RedirectHTTP: cfg.TLS.RedirectHTTP,
		AllowedHosts: cfg.Server.AllowedHosts,
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// StartServers starts the API server and, when TLS redirects are enabled, a
// plain HTTP server on :80 that sends clients to HTTPS. The redirect server is
// nil otherwise.
func StartServers(scfg ServerConfig) (*http.Server, *http.Server) {
	srv := newHTTPServer(scfg.Addr, scfg.Handler)

	var redirectSrv *http.Server
	if scfg.TLSEnabled && scfg.RedirectHTTP {
		redirectSrv = newHTTPServer(":80", middleware.RedirectToHTTPS(scfg.AllowedHosts))
		go serve(redirectSrv, "redirect", func() error { return redirectSrv.ListenAndServe() }, false)
	}

	if scfg.TLSEnabled {
		go serve(srv, "https", func() error { return srv.ListenAndServeTLS(scfg.CertPath, scfg.KeyPath) }, true)
	} else {
		go serve(srv, "http", srv.ListenAndServe, true)
	}

	return srv, redirectSrv
}

// serve runs listen until the server is shut down. A failure of the main
// server is fatal, a failure of the redirect server is only logged.
func serve(srv *http.Server, kind string, listen func() error, fatal bool) {
	log.Info().Str("addr", srv.Addr).Str("kind", kind).Msg("server starting")

	err := listen()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	if fatal {
		log.Fatal().Err(err).Str("kind", kind).Msg("server error")
	}
	log.Error().Err(err).Str("kind", kind).Msg("server error")
}

// GracefulShutdown stops intake first (sync listener, then HTTP), then drains
// the worker pool so in-flight syncs finish before the database is closed.
func GracefulShutdown(srv, redirectSrv *http.Server, deps *Dependencies, timeout time.Duration) {
	log.Info().Msg("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if deps != nil && deps.SyncListener != nil {
		deps.SyncListener.Stop()
	}

	if redirectSrv != nil {
		if err := redirectSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP redirect server")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down main server")
	}

	if deps != nil && deps.WorkerPool != nil {
		deps.WorkerPool.ShutdownWithTimeout(timeout)
	}

	log.Info().Msg("Server stopped")
}
