package main

import (
	"fmt"

	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/jobsync"
	"github.com/meshforge/studio/internal/transport/rest"
)

type session struct {
	cfg *config.Config
	log *logger.Logger
	api *rest.Client
}

var newSession = func() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := cfg.Logger
	if !verbose {
		logCfg.Level = "error"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	api := rest.NewClient(rest.ClientConfig{
		BaseURL:   cfg.API.BaseURL,
		Token:     cfg.API.Token,
		Timeout:   cfg.API.Timeout,
		UserAgent: "studio-cli/" + version,
		Logger:    log,
	})
	return &session{cfg: cfg, log: log, api: api}, nil
}

func (s *session) close() {
	_ = s.log.Sync()
}

// newChannel builds a status channel for one job using the configured
// push endpoint, with REST polling as the fallback.
func (s *session) newChannel() *jobsync.Channel {
	ch := s.cfg.Channel
	return jobsync.NewChannel(jobsync.Options{
		BaseURL:              s.cfg.WebsocketBaseURL(),
		Dialer:               jobsync.NewWebsocketDialer(ch.HandshakeTimeout, s.cfg.API.Token),
		Fetcher:              s.api,
		Logger:               s.log,
		HeartbeatInterval:    ch.HeartbeatInterval,
		ReconnectDelay:       ch.ReconnectDelay,
		MaxReconnectAttempts: ch.MaxReconnectAttempts,
		PollInterval:         ch.PollInterval,
		LivenessTimeout:      ch.LivenessTimeout,
	})
}

func (s *session) newController(notifier *cliNotifier) *jobsync.Controller {
	return jobsync.NewController(jobsync.ControllerConfig{
		API:      s.api,
		Notifier: notifier,
		Logger:   s.log,
		NewChannel: func() jobsync.StatusChannel {
			return s.newChannel()
		},
	})
}
