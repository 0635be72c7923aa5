package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/api/handlers"
	"github.com/querypilot/backend/internal/audit"
	"github.com/querypilot/backend/internal/cache"
	cacheredis "github.com/querypilot/backend/internal/cache/redis"
	"github.com/querypilot/backend/internal/contextwindow"
	"github.com/querypilot/backend/internal/enricher"
	"github.com/querypilot/backend/internal/executor"
	"github.com/querypilot/backend/internal/llm"
	"github.com/querypilot/backend/internal/metrics"
	"github.com/querypilot/backend/internal/plan"
	"github.com/querypilot/backend/internal/query"
	"github.com/querypilot/backend/internal/ratelimit"
	"github.com/querypilot/backend/internal/retrieval"
	"github.com/querypilot/backend/internal/storage/sqlite"
	"github.com/querypilot/backend/internal/template"
	"github.com/querypilot/backend/internal/vector/milvus"
	"github.com/querypilot/backend/pkg/config"
	appLogger "github.com/querypilot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting QueryPilot API Server")
	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	seedTemplates(ctx, sqliteClient)

	var vectorClient *milvus.Client
	if cfg.Milvus.Endpoint != "" {
		vectorClient, err = milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer vectorClient.Close()

		if err := vectorClient.EnsureCollection(ctx); err != nil {
			appLogger.Fatal("Failed to ensure vector collection", zap.Error(err))
		}
	} else {
		appLogger.Warn("Milvus endpoint not configured, dense retrieval disabled")
	}

	generator, embedder, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		appLogger.Warn("LLM provider unavailable, running in degraded mode", zap.Error(err))
	}

	if cfg.Redis.Enabled && embedder != nil {
		redisClient, rerr := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, 24*time.Hour)
		if rerr != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(rerr))
		} else {
			defer redisClient.Close()
			embedder = llm.NewCachedEmbedder(embedder, redisClient)
		}
	}

	pgExecutor, err := executor.NewPostgresExecutor(ctx, cfg.Postgres)
	if err != nil {
		appLogger.Fatal("Failed to create Postgres executor", zap.Error(err))
	}
	defer pgExecutor.Close()

	var vectors retrieval.VectorSearcher
	if vectorClient != nil {
		vectors = vectorClient
	}

	engine := query.NewEngine(query.EngineDeps{
		Config:    cfg,
		Enricher:  enricher.New(generator, time.Duration(cfg.LLM.EnrichTimeoutMS)*time.Millisecond),
		Validator: plan.NewValidator(cfg.Query.MaxLimit),
		Retriever: retrieval.NewService(sqliteClient, vectors, embedder),
		Reranker:  retrieval.NewReranker(),
		Contexts: contextwindow.NewManager(contextwindow.Config{
			MaxContextTokens:    cfg.ContextWindow.MaxContextTokens,
			MaxHistoryMessages:  cfg.ContextWindow.MaxHistoryMessages,
			EnableCompaction:    cfg.ContextWindow.EnableCompaction,
			Strategy:            contextwindow.Strategy(cfg.ContextWindow.CompactionStrategy),
			SummaryThreshold:    cfg.ContextWindow.SummaryThreshold,
			ReservedForResponse: cfg.ContextWindow.ReservedForResponse,
			SmallModelThreshold: cfg.ContextWindow.SmallModelThreshold,
			LargeModelThreshold: cfg.ContextWindow.LargeModelThreshold,
		}, generator),
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			MaxQueriesPerHour:        cfg.RateLimit.MaxQueriesPerHour,
			CooldownAfterBlocks:      cfg.RateLimit.CooldownAfterBlocks,
			BlockDurationMinutes:     cfg.RateLimit.BlockDurationMinutes,
			SessionExpirationMinutes: cfg.RateLimit.SessionExpirationMinutes,
		}, sqliteClient),
		Auditor:     audit.NewService(sqliteClient),
		Executor:    pgExecutor,
		Generator:   generator,
		Templates:   sqliteClient,
		ResultCache: cache.NewResultCache(time.Duration(cfg.Query.CacheTTLSec)*time.Second, 1000),
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	queryHandler := handlers.NewQueryHandler(engine)
	auditHandler := handlers.NewAuditHandler(audit.NewService(sqliteClient))

	api := app.Group("/api/v1")
	api.Post("/db-query", queryHandler.HandleDbQuery)
	api.Post("/db-query/template", queryHandler.HandleDbQueryWithTemplate)
	api.Get("/audit/stats", auditHandler.GetStats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// seedTemplates upserts the default template library. Stable ids make this
// idempotent across restarts.
func seedTemplates(ctx context.Context, client *sqlite.Client) {
	for _, tpl := range template.DefaultTemplates() {
		t := tpl
		if err := client.UpsertTemplate(ctx, &t); err != nil {
			appLogger.Warn("Failed to seed template",
				zap.String("template_id", t.ID),
				zap.Error(err),
			)
		}
	}
}
