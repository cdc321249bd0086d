package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hls-token-proxy/internal/platform/config"
	"hls-token-proxy/internal/platform/cors"
	"hls-token-proxy/internal/platform/logger"
	"hls-token-proxy/internal/platform/metrics"
	"hls-token-proxy/internal/proxy"

	"github.com/go-chi/chi/v5"
)

const defaultTokenServiceURL = "http://localhost:8081"

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	directoryURL := config.GetEnv("DIRECTORY_URL", "./list.json")
	publicBaseURL := config.GetEnv("PUBLIC_BASE_URL", "")
	debugEnabled := config.GetEnvBool("DEBUG_ENDPOINT", true)
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	tokenCfg := proxy.TokenConfig{
		BaseURL:   config.GetEnv("TOKEN_SERVICE_URL", defaultTokenServiceURL),
		Timeout:   config.GetEnvDuration("TOKEN_TIMEOUT", proxy.DefaultTokenTimeout),
		RateLimit: config.GetEnvFloat("TOKEN_RATE_LIMIT", 0),
		RateBurst: config.GetEnvInt("TOKEN_RATE_BURST", 10),
	}
	svcCfg := proxy.ServiceConfig{
		PlaylistTimeout:  config.GetEnvDuration("UPSTREAM_TIMEOUT", proxy.DefaultPlaylistTimeout),
		MaxPlaylistBytes: config.GetEnvInt64("MAX_PLAYLIST_BYTES", proxy.DefaultMaxPlaylistBytes),
	}
	corsOpts := cors.DefaultOptions
	if origins := config.GetEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		corsOpts.AllowedOrigins = strings.Split(origins, ",")
	}

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	dir := proxy.NewHTTPDirectory(directoryURL, nil)
	tokens := proxy.NewTokenClient(tokenCfg, nil)
	mediator := proxy.NewMediator(tokens, log, met)
	svc := proxy.NewService(dir, mediator, svcCfg, log, met)
	h := proxy.NewHandler(svc, log, met, publicBaseURL)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(cors.Middleware(corsOpts))
	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", met.Handler())
	var dbg http.Handler
	if debugEnabled {
		dbg = proxy.NewDebugger(proxy.DebugConfig{
			TokenServiceURL:     tokens.BaseURL(),
			TokenServiceFromEnv: config.HasEnv("TOKEN_SERVICE_URL"),
			DirectoryURL:        dir.Location(),
		}, tokens, dir)
	}
	routes := func(r chi.Router) {
		h.Mount(r)
		if dbg != nil {
			r.Method(http.MethodGet, "/debug", dbg)
		}
	}
	routes(r)
	r.Route("/api", routes)

	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"directory_url", directoryURL,
		"token_service_url", tokens.BaseURL(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
