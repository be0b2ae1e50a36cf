package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/config"
	"github.com/medrec/medrec/internal/domain/collection"
	"github.com/medrec/medrec/internal/domain/record"
	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/ocr/imagedecode"
	"github.com/medrec/medrec/internal/ocr/pipeline"
	"github.com/medrec/medrec/internal/ocr/preprocess"
	"github.com/medrec/medrec/internal/ocr/reformat"
	"github.com/medrec/medrec/internal/ocr/scheduler"
	"github.com/medrec/medrec/internal/ocr/tesseract"
	"github.com/medrec/medrec/internal/ocr/vision"
	"github.com/medrec/medrec/internal/platform/auth"
	"github.com/medrec/medrec/internal/platform/db"
	"github.com/medrec/medrec/internal/platform/llm"
	"github.com/medrec/medrec/internal/platform/middleware"
	"github.com/medrec/medrec/internal/platform/telemetry"
)

const uploadRoute = "/api/v1" + pipeline.Route

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() && cfg.AuthSecret == "" && cfg.AuthJWKSURL == "" {
		logger.Warn().Msg("no AUTH_SECRET or AUTH_JWKS_URL set; unauthenticated requests run as the dev admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "medrec-server",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewProvider(telemetry.Config{RuntimeCollectors: true})

	clients := newClientSet(cfg, logger)
	defer clients.Close()

	backend, err := buildBackend(ctx, cfg, clients)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up OCR backend")
	}
	reformatter, err := buildReformatter(ctx, cfg, clients, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up reformatter")
	}

	e := newServer(cfg, logger, metrics)

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.PrometheusHandler())

	// Domains
	recordSvc := record.NewService(record.NewRepoPG(pool))
	record.NewHandler(recordSvc).RegisterRoutes(apiV1)

	collectionSvc := collection.NewService(collection.NewRepoPG(pool)).WithRecords(recordSvc)
	collection.NewHandler(collectionSvc).RegisterRoutes(apiV1)

	// OCR ingestion
	workers := scheduler.NewPool(cfg.PoolCapacity())
	ingest := pipeline.New(
		imagedecode.New(cfg.OCRAllowOctetStream),
		backend,
		workers,
		recordSvc,
		pipeline.Config{
			Policy:      pipeline.Policy(cfg.OCRBatchPolicy),
			FastMode:    cfg.OCRFastMode,
			RemoteBatch: cfg.OCRRemoteBatch,
			CPUs:        runtime.NumCPU(),
			MaxFiles:    cfg.UploadMaxFiles,
		},
		logger,
	).WithCollections(collectionSvc).WithMetrics(metrics)
	if reformatter != nil {
		ingest.WithReformatter(reformatter)
	}
	pipeline.NewHandler(ingest).RegisterRoutes(apiV1)

	logger.Info().
		Str("backend", backend.Name()).
		Str("reformat", cfg.ReformatProvider).
		Str("policy", cfg.OCRBatchPolicy).
		Int("pool_capacity", workers.Capacity()).
		Msg("ocr pipeline ready")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain.
func newServer(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.BodyLimit(middleware.BodyLimitConfig{
		Default: "1M",
		Routes:  map[string]string{uploadRoute: cfg.UploadBodyLimit},
	}))
	e.Use(middleware.RequestTimeout(middleware.TimeoutConfig{
		Default: cfg.RequestTimeout,
		Routes:  map[string]time.Duration{uploadRoute: cfg.UploadTimeout},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSecret),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	return e
}

// clientSet builds each model client at most once so the OCR backend and the
// reformatter can share a provider connection.
type clientSet struct {
	cfg    *config.Config
	logger zerolog.Logger
	gemini *llm.Gemini
	openai *llm.OpenAI
}

func newClientSet(cfg *config.Config, logger zerolog.Logger) *clientSet {
	return &clientSet{cfg: cfg, logger: logger}
}

func (s *clientSet) get(ctx context.Context, provider string) (llm.Client, error) {
	var base llm.Client
	switch provider {
	case config.BackendGemini:
		if s.gemini == nil {
			g, err := llm.NewGemini(ctx, s.cfg.GeminiProjectID, s.cfg.GeminiRegion, s.cfg.GeminiModel)
			if err != nil {
				return nil, fmt.Errorf("gemini client: %w", err)
			}
			s.gemini = g
		}
		base = s.gemini
	case config.BackendOpenAI:
		if s.openai == nil {
			s.openai = llm.NewOpenAI(llm.OpenAIConfig{
				APIKey:  s.cfg.OpenAIAPIKey,
				BaseURL: s.cfg.OpenAIBaseURL,
				Model:   s.cfg.OpenAIModel,
				Timeout: s.cfg.LLMTimeout,
			})
		}
		base = s.openai
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
	return llm.WithRetry(base, llm.RetryConfig{
		Attempts: s.cfg.LLMMaxRetries,
		Delay:    s.cfg.LLMRetryDelay,
		Timeout:  s.cfg.LLMTimeout,
	}, s.logger), nil
}

func (s *clientSet) Close() {
	if s.gemini != nil {
		if err := s.gemini.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing gemini client")
		}
	}
}

func buildBackend(ctx context.Context, cfg *config.Config, clients *clientSet) (ocr.Backend, error) {
	if cfg.OCRBackend == config.BackendTesseract {
		prep := preprocess.DefaultOptions()
		prep.MaxDimension = cfg.OCRMaxDimension
		return tesseract.New(cfg.OCRLanguages, prep), nil
	}
	client, err := clients.get(ctx, cfg.OCRBackend)
	if err != nil {
		return nil, err
	}
	return vision.New(client)
}

// buildReformatter returns nil when reformatting is disabled.
func buildReformatter(ctx context.Context, cfg *config.Config, clients *clientSet, logger zerolog.Logger) (*reformat.Reformatter, error) {
	if cfg.ReformatProvider == config.ProviderNone {
		return nil, nil
	}
	client, err := clients.get(ctx, cfg.ReformatProvider)
	if err != nil {
		return nil, err
	}
	return reformat.New(client, reformat.Options{
		Mode:            reformat.Mode(cfg.ReformatMode),
		Separator:       cfg.ReformatSeparator,
		MinPreservation: cfg.ReformatMinPreservation,
	}, logger)
}

// rateLimitConfig builds the API limits. The upload route gets its own,
// usually much smaller, bucket per caller.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.Limit = middleware.Limit{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	}
	if cfg.UploadRateRPS > 0 {
		rl.Routes = map[string]middleware.Limit{
			uploadRoute: {RequestsPerSecond: cfg.UploadRateRPS, BurstSize: cfg.UploadRateBurst},
		}
	}
	return rl
}
