package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/taxdesk/portal/config"
	"github.com/taxdesk/portal/internal/backend"
	"github.com/taxdesk/portal/internal/db"
	"github.com/taxdesk/portal/internal/handlers"
	"github.com/taxdesk/portal/internal/logging"
	"github.com/taxdesk/portal/internal/metrics"
	"github.com/taxdesk/portal/internal/mq"
	"github.com/taxdesk/portal/internal/roster"
	"github.com/taxdesk/portal/internal/services"
	"github.com/taxdesk/portal/internal/session"
	"github.com/taxdesk/portal/internal/storage"
	"github.com/taxdesk/portal/internal/store"
	"github.com/taxdesk/portal/internal/tracing"
	"github.com/taxdesk/portal/internal/workflow"
)

const (
	serviceName = "taxdesk-portal"

	sessionSweepInterval = time.Minute
)

// Server wraps the HTTP server, the router and every connection the
// portal holds open.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *logrus.Logger
	sessions   *session.Manager

	// cancel stops background work started on behalf of sessions.
	cancel  context.CancelFunc
	closers []namedCloser
	tracing func(context.Context) error
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New constructs a Server from cfg and connects to every configured backend.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.New(cfg.LogLevel, cfg.IsDev())

	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeAll()
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, logger, cfg.OTLPEndpoint, serviceName, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.tracing = shutdownTracing

	results, err := s.openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	events, err := s.openRunEvents(ctx, cfg.MQ)
	if err != nil {
		return nil, err
	}

	audit, err := s.openAudit(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	sessionStore, err := s.openSessionStore(cfg)
	if err != nil {
		return nil, err
	}

	client := backend.New(cfg.BackendURL)

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.sessions = session.NewManager(sessionStore, cfg.SessionTTL, session.Deps{
		Workflow: workflow.Deps{
			Processor: client,
			Results:   results,
			Events:    events,
		},
		Challan:      client,
		Compliance:   client,
		Chat:         client,
		Audit:        audit,
		ChatInterval: cfg.ChatPollInterval,
		Base:         logging.WithLogger(base, logrus.NewEntry(logger)),
	})
	go s.sessions.RunSweeper(s.sessions.BaseContext(), sessionSweepInterval)

	api := handlers.API{
		Auth:       handlers.NewAuthHandler(client, s.sessions, jwtSecret, cfg.SecureCookies),
		Navigation: handlers.NewNavigationHandler(s.sessions),
		Modules:    handlers.NewModuleHandler(s.sessions, cfg.MaxUploadBytes),
		Challan:    handlers.NewChallanHandler(cfg.MaxUploadBytes),
		Admin:      handlers.NewAdminHandler(roster.NewManager(client, audit), audit),
		Compliance: handlers.NewComplianceHandler(),
		Chat:       handlers.NewChatHandler(),
		Downloads:  handlers.NewDownloadHandler(results, client),
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(logger),
		middleware.Recoverer,
		metrics.HTTPMetricsMiddleware,
	)
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	api.Routes(router)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	// Processing runs finish in the background, but uploads and challan
	// analysis hold the request open for as long as the service takes.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	s.router = router

	logger.WithFields(logrus.Fields{
		"backend":       cfg.BackendURL,
		"storage":       cfg.Storage.Backend,
		"mq":            cfg.MQ.Backend,
		"session-store": cfg.SessionStore,
		"audit-log":     audit.Enabled(),
	}).Info("server configured")

	ok = true
	return s, nil
}

func (s *Server) track(name string, c io.Closer) {
	s.closers = append(s.closers, namedCloser{name: name, c: c})
}

func (s *Server) openStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	var objects storage.ObjectStorage
	switch cfg.Backend {
	case config.StorageMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		objects = client
	case config.StorageGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		s.track("gcs", client)
		objects = client
	default:
		objects = storage.NewMemoryStorage()
	}

	results := storage.NewStorage(objects)
	if err := results.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", results.Bucket(), err)
	}
	return results, nil
}

func (s *Server) openRunEvents(ctx context.Context, cfg config.MQConfig) (*mq.RunEvents, error) {
	events, err := mq.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if events.Enabled() {
		s.track("mq", events)
	}
	return events, nil
}

func (s *Server) openAudit(ctx context.Context, cfg config.DatabaseConfig) (*services.AuditService, error) {
	if !cfg.Enabled() {
		s.logger.Info("audit log disabled: DB_HOST not set")
		return services.NewAuditService(nil), nil
	}
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.track("database", conn)
	return services.NewAuditService(store.NewAuditRepository(conn)), nil
}

func (s *Server) openSessionStore(cfg config.Config) (session.Store, error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return session.NewMemoryStore(), nil
	}
	rdb, err := session.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.track("redis", rdb)
	return session.NewRedisStore(rdb), nil
}

// Logger returns the process logger.
func (s *Server) Logger() *logrus.Logger {
	return s.logger
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// ends, then stops background work and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeAll()
	if s.tracing != nil {
		if terr := s.tracing(ctx); terr != nil {
			s.logger.WithError(terr).Warn("failed to flush traces")
		}
	}
	return err
}

func (s *Server) closeAll() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		nc := s.closers[i]
		if err := nc.c.Close(); err != nil {
			s.logger.WithError(err).WithField("resource", nc.name).Warn("close failed")
		}
	}
	s.closers = nil
}
