package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/chunker"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/fetcher"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/handler"
	"github.com/xxxsen/kbchat/internal/job"
	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/schedule"
	"github.com/xxxsen/kbchat/internal/service"
	"github.com/xxxsen/kbchat/internal/tenant"
	"github.com/xxxsen/kbchat/internal/vectorstore"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbchat",
		Short: "multi-tenant knowledge base chat server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run kbchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			sqlDB, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer sqlDB.Close()
			if err := db.ApplyMigrations(sqlDB, cfg.Database.Driver); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, sqlDB)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, sqlDB *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("file_store", cfg.FileStore.Type),
	)

	store, err := vectorstore.New(cfg.VectorStore.Type, vectorstore.Args{DB: sqlDB})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	generator, err := ai.BuildGenerator(cfg.AI.Generator)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}
	embedder, err := ai.BuildEmbedder(cfg.AI.Embedder)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	cacheRepo := repo.NewEmbeddingCacheRepo(sqlDB, cfg.Database.Driver)
	if cfg.EmbedCache.DB {
		embedder = embedcache.WithStore(embedder, cacheRepo)
	}
	embedder = embedcache.WithLRU(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTLSeconds)*time.Second)
	manager := ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:       cfg.AI.Timeout,
		MaxInputChars: cfg.AI.MaxInputChars,
	})

	resolver := tenant.NewResolver(store)
	knowledgeService := service.NewKnowledgeService(repo.NewKnowledgeRepo(sqlDB, cfg.Database.Driver), store, files)
	ingestService := service.NewIngestService(
		knowledgeService,
		resolver,
		chunker.New(),
		manager,
		files,
		fetcher.NewWebFetcher(cfg.Fetcher),
		fetcher.NewGithubFetcher(cfg.Github),
		service.IngestConfig{
			DefaultTenant:     cfg.DefaultTenant,
			BlockedDomains:    cfg.BlockedDomains,
			GithubConcurrency: cfg.Github.Concurrency,
			MaxFileBytes:      cfg.MaxUploadBytes,
		},
	)
	knowledgeService.SetRebuilder(ingestService)
	retrievalService := service.NewRetrievalService(store, manager, cfg.Retrieval.TopK, cfg.Retrieval.MinScore)
	translationService := service.NewTranslationService(manager, cfg.Translation)
	historyService := service.NewHistoryService(repo.NewChatRepo(sqlDB, cfg.Database.Driver))
	chatService := service.NewChatService(resolver, historyService, translationService, retrievalService, manager, service.ChatConfig{
		MaxHistoryTurns: cfg.History.MaxTurns,
		TopK:            cfg.Retrieval.TopK,
	})
	themeService := service.NewThemeService(resolver, retrievalService, manager)

	deps := handler.RouterDeps{
		Chat:            handler.NewChatHandler(chatService, themeService),
		Knowledge:       handler.NewKnowledgeHandler(knowledgeService),
		Ingest:          handler.NewIngestHandler(ingestService, cfg.MaxUploadBytes),
		RateLimitWindow: time.Duration(cfg.RateLimit.WindowMillis) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.AllowedOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if cfg.EmbedCache.DB {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.EmbedCache.RetentionDays), cfg.EmbedCache.CleanupSpec); err != nil {
			return fmt.Errorf("schedule embedding cache cleanup: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
