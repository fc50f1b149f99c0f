package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer serves /metrics for the daemon.
type metricsServer struct {
	srv *http.Server
	log *slog.Logger
}

func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *slog.Logger) *metricsServer {
	m := &metricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newMetricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	log.Info("serving metrics", slog.String("addr", addr))
	return m
}

func (m *metricsServer) shutdown(ctx context.Context) {
	if err := m.srv.Shutdown(ctx); err != nil {
		m.log.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}
}
