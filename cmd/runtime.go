package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"tutorchat/attachment"
	"tutorchat/auth"
	"tutorchat/config"
	"tutorchat/discovery"
	"tutorchat/models"
	"tutorchat/network"
	"tutorchat/storage"
)

// runtime is the wiring shared by every command that talks to the server.
type runtime struct {
	cfg     *config.ClientConfig
	logger  *logrus.Logger
	store   *storage.Store
	me      models.Participant
	api     *network.APIClient
	encoder *attachment.Encoder
	metrics *metricsServer
}

func bootstrap(logOut io.Writer) (*runtime, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := newLogger(cfg.LogLevel, logOut)
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("no API base configured: set %s or api_base_url in %s", config.EnvAPIBase, cfgPath)
	}

	me, err := auth.ResolveLocalUser(cfg.Token, cfg.Email)
	if err != nil {
		if errors.Is(err, auth.ErrMissingEmail) {
			return nil, fmt.Errorf("resolve signed-in user: %w (set %s)", err, config.EnvEmail)
		}
		return nil, fmt.Errorf("resolve signed-in user: %w", err)
	}

	store, dbPath, err := storage.Open(filepath.Dir(cfgPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"config":   cfgPath,
		"database": dbPath,
		"user":     me.DisplayName(),
	}).Debug("client started")

	encoder := attachment.NewEncoder(attachment.Options{
		MaxBytes:   cfg.MaxAttachmentBytes,
		PreviewDir: cfg.PreviewDir,
		Registry:   store,
		Logger:     logger,
	})
	if swept, err := encoder.SweepOrphans(); err != nil {
		logger.WithError(err).Warn("preview sweep failed")
	} else if swept > 0 {
		logger.WithField("count", swept).Info("removed orphaned previews")
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		me:     me,
		api: network.NewAPIClient(network.APIOptions{
			BaseURL:   cfg.APIBaseURL,
			Token:     cfg.Token,
			ClientID:  cfg.ClientID,
			PageLimit: cfg.HistoryPageLimit,
			Logger:    logger,
		}),
		encoder: encoder,
	}

	if metricsAddr != "" {
		server, err := startMetricsServer(metricsAddr, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.metrics = server
	}

	return rt, nil
}

// socketBase picks the configured socket base, then an mDNS-advertised
// server, then the API base.
func (rt *runtime) socketBase(ctx context.Context) string {
	if rt.cfg.SocketBaseURL != "" {
		return rt.cfg.SocketBaseURL
	}
	if rt.cfg.DiscoverServer {
		base, err := discovery.ResolveSocketBase(ctx, discovery.Config{Logger: rt.logger})
		if err == nil {
			return base
		}
		if !errors.Is(err, discovery.ErrNoServer) {
			rt.logger.WithError(err).Warn("server discovery failed")
		}
	}
	return rt.cfg.APIBaseURL
}

func (rt *runtime) connectionOptions(ctx context.Context) network.ManagerOptions {
	return network.ManagerOptions{
		SocketBaseURL:    rt.socketBase(ctx),
		ReadLimit:        network.ReadLimitFor(rt.cfg.MaxAttachmentBytes),
		ReconnectInitial: millis(rt.cfg.ReconnectInitialMillis),
		ReconnectMax:     millis(rt.cfg.ReconnectMaxMillis),
		ReconnectBudget:  millis(rt.cfg.ReconnectBudgetMillis),
		Logger:           rt.logger,
	}
}

func (rt *runtime) Close() {
	if rt.metrics != nil {
		rt.metrics.Stop()
	}
	rt.encoder.ReleaseAll()
	if err := rt.store.Close(); err != nil {
		rt.logger.WithError(err).Warn("database close error")
	}
}

func newLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
