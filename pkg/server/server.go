// Package server provides the public entry point for initializing the
// Arachnid mission control plane.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	srv.Close(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/arachnid-agents/mission-control/internal/api"
	"github.com/arachnid-agents/mission-control/internal/api/handlers"
	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/arachnid-agents/mission-control/internal/config"
	"github.com/arachnid-agents/mission-control/internal/notify"
	"github.com/arachnid-agents/mission-control/internal/progress"
	"github.com/arachnid-agents/mission-control/internal/retention"
	"github.com/arachnid-agents/mission-control/internal/store"
	"github.com/arachnid-agents/mission-control/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized mission control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store    store.Store
	Progress *progress.Service
	Badges   *badge.Compositor
	Janitor  *retention.Janitor
	Config   *config.Config

	// Port is the port the server should listen on.
	Port int

	telemetryShutdown func(context.Context) error
	cancel            context.CancelFunc
	watchDone         <-chan struct{}
}

// New loads configuration from the environment and initializes every component.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("Metrics unavailable, continuing without counters")
		metrics = nil
	}

	dataStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("✅ Progress store initialized")

	fail := func(err error) (*Server, error) {
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	}

	progressSvc := progress.NewService(dataStore, nil, metrics)

	compositor, err := badge.FromConfig(cfg.Badge)
	if err != nil {
		return fail(fmt.Errorf("init badge compositor: %w", err))
	}
	log.Info().Str("rasterizer", cfg.Badge.Rasterizer).Msg("✅ Badge compositor initialized")

	mailer, err := notify.NewMailer(cfg.Mail)
	if err != nil {
		return fail(fmt.Errorf("init mailer: %w", err))
	}
	legacy := notify.NewService(mailer, cfg.Mail, metrics)
	log.Info().Str("driver", mailer.Kind()).Msg("✅ Legacy feedback mailer initialized")

	var archiver retention.Archiver
	if cfg.Retention.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.ArchiveCompress)
	}
	janitor, err := retention.NewJanitor(dataStore, cfg.Retention, archiver)
	if err != nil {
		return fail(fmt.Errorf("init retention: %w", err))
	}

	h := handlers.New(progressSvc, compositor, legacy, dataStore, metrics, cfg.Version)

	return &Server{
		Handler:           api.NewRouter(cfg, h),
		Store:             dataStore,
		Progress:          progressSvc,
		Badges:            compositor,
		Janitor:           janitor,
		Config:            cfg,
		Port:              cfg.Port,
		telemetryShutdown: shutdown,
	}, nil
}

// Start launches background work: the retention janitor and, if enabled,
// the badge template watcher.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.Janitor.Start(ctx)

	if s.Config.Badge.WatchTemplate && s.Config.Badge.TemplatePath != "" && s.Config.Badge.TemplateURL == "" {
		done, err := badge.WatchTemplate(ctx, s.Config.Badge.TemplatePath, s.Badges.Templates())
		if err != nil {
			log.Warn().Err(err).Msg("Badge template watcher not started")
			return
		}
		s.watchDone = done
	}
}

// Close stops background work and releases every resource.
func (s *Server) Close(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.Janitor.Stop()
	if s.watchDone != nil {
		<-s.watchDone
	}
	return errors.Join(
		s.Badges.Close(),
		s.Store.Close(),
		s.telemetryShutdown(ctx),
	)
}
