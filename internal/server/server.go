package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/api"
	"github.com/certfolio/verification-engine/internal/cache"
	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/database"
	"github.com/certfolio/verification-engine/internal/events"
	"github.com/certfolio/verification-engine/internal/imaging"
	"github.com/certfolio/verification-engine/internal/issuers"
	"github.com/certfolio/verification-engine/internal/llm"
	"github.com/certfolio/verification-engine/internal/metrics"
	"github.com/certfolio/verification-engine/internal/ocr"
	"github.com/certfolio/verification-engine/internal/service"
	"github.com/certfolio/verification-engine/internal/verification"
)

// Server represents the verification engine server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	router     *gin.Engine
	service    *service.Service
	metrics    *metrics.Collector
	db         *database.Database
	redis      *redis.Client
	publisher  events.Publisher
}

// New wires every component. Database, Redis, Kafka, OCR and the model
// judge are only connected when enabled in cfg.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics.NewCollector(cfg.Monitoring.Namespace),
		publisher: events.NopPublisher{},
	}

	registry, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	checker := issuers.NewCrossChecker(registry, logger)

	judge, err := s.buildJudge()
	if err != nil {
		return nil, err
	}

	verifier := verification.NewVerifier(cfg.Verification, logger,
		verification.WithJudge(service.InstrumentJudge(judge, s.metrics)),
		verification.WithIssuerChecker(checker))

	deps := service.Dependencies{
		Verifier:   verifier,
		AIVerifier: verification.NewAIVerifier(cfg.Verification.Matching, checker, logger),
		Issuers:    checker,
		Extractor:  ocr.StaticExtractor{},
		Metrics:    s.metrics,
	}

	if cfg.OCR.Endpoint != "" {
		extractor, err := ocr.NewHTTPExtractor(cfg.OCR, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ocr client: %w", err)
		}
		deps.Extractor = extractor
	}

	if cfg.Imaging.Enabled {
		deps.Analyzer = imaging.NewAnalyzer(cfg.Imaging, logger)
	}

	if err := s.connectBackends(&deps); err != nil {
		s.closeBackends()
		return nil, err
	}

	svc, err := service.New(deps, cfg.Bulk, logger)
	if err != nil {
		s.closeBackends()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	s.service = svc

	handler := api.NewHandler(svc, s, version, logger)
	s.router = api.SetupRouter(cfg, logger, handler, s.metrics)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

func (s *Server) loadRegistry() (*issuers.Registry, error) {
	if path := s.config.Issuers.RegistryFile; path != "" {
		registry, err := issuers.LoadFile(path, s.config.Issuers.FuzzyThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to load issuer registry: %w", err)
		}
		s.logger.Info("Issuer registry loaded", zap.String("path", path), zap.Int("issuers", registry.Len()))
		return registry, nil
	}
	return issuers.NewRegistry(issuers.DefaultIssuers(), s.config.Issuers.FuzzyThreshold)
}

func (s *Server) buildJudge() (verification.Judge, error) {
	if !s.config.LLM.Enabled {
		judge := verification.NewHeuristicJudge(s.config.Verification.Matching)
		judge.Thresholds = s.config.Verification.EscalatedThresholds
		return judge, nil
	}

	client, err := llm.NewClient(s.config.LLM, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	s.logger.Info("Escalation judge uses language model", zap.String("model", client.Model()))
	return llm.NewJudge(client, "llm:"+client.Model(), s.logger), nil
}

func (s *Server) connectBackends(deps *service.Dependencies) error {
	cfg := s.config

	if cfg.Database.Enabled {
		db, err := database.NewDatabase(cfg, s.logger)
		if err != nil {
			return err
		}
		s.db = db
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		deps.Store = database.NewVerificationRepository(db)
	}

	if cfg.Redis.Enabled {
		s.redis = cache.NewClient(cfg)
		deps.Cache = cache.NewOutcomeCache(s.redis, cfg.Redis.TTL, cfg.Redis.KeyPrefix, s.logger)
		s.logger.Info("Outcome cache enabled", zap.String("addr", cfg.RedisAddr()))
	}

	if cfg.Kafka.Enabled {
		s.publisher = events.NewKafkaPublisher(cfg.Kafka, s.logger)
		s.logger.Info("Verification events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	deps.Publisher = s.publisher

	return nil
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Service returns the certificate service
func (s *Server) Service() *service.Service {
	return s.service
}

// Start serves HTTP until the server is shut down
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes every backend
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	s.closeBackends()
	s.logger.Info("Graceful shutdown completed")
	return err
}

func (s *Server) closeBackends() {
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("Failed to close event publisher", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

// Health pings every enabled backend
func (s *Server) Health(ctx context.Context) map[string]error {
	health := map[string]error{}
	if s.db != nil {
		health["database"] = s.db.Health(ctx)
	}
	if s.redis != nil {
		health["redis"] = s.redis.Ping(ctx).Err()
	}
	return health
}
