package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"tutorchat/metrics"
)

type metricsServer struct {
	server *http.Server
	addr   string
	logger logrus.FieldLogger
}

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func startMetricsServer(addr string, logger logrus.FieldLogger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}

	m := &metricsServer{
		server: &http.Server{
			Handler:           metricsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   listener.Addr().String(),
		logger: logger,
	}
	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	logger.WithField("addr", m.addr).Info("serving metrics")
	return m, nil
}

func (m *metricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.WithError(err).Warn("metrics server shutdown failed")
	}
}
