package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itish2003/legaldoc/chunker"
	"github.com/itish2003/legaldoc/config"
	"github.com/itish2003/legaldoc/controller"
	"github.com/itish2003/legaldoc/embedder"
	"github.com/itish2003/legaldoc/extractor"
	"github.com/itish2003/legaldoc/llm"
	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/retriever"
	"github.com/itish2003/legaldoc/services"
	"github.com/itish2003/legaldoc/store"
	"github.com/itish2003/legaldoc/usage"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/embeddings"
	"google.golang.org/genai"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(&logger.Config{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.JSON,
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	})
	log := logger.GetDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log logger.Logger) error {
	if cfg.Extractor.UnidocLicenseKey != "" {
		if err := extractor.SetLicense(cfg.Extractor.UnidocLicenseKey); err != nil {
			return err
		}
	}

	geminiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client (is GEMINI_API_KEY set?): %w", err)
	}
	log.Info("connected to Google Gemini", "model", cfg.Gemini.Model)

	emb, closeEmbedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	usageStore, closeUsage, err := newUsageStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeUsage()

	documents, closeDocuments, err := newDocumentStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDocuments()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	gate := usage.NewGate(usageStore,
		usage.WithDailyLimit(cfg.Usage.DailyLimit),
		usage.WithCooldown(cfg.Cooldown()),
		usage.WithLocation(loc),
		usage.WithLogger(log),
	)

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orchestrator := llm.NewOrchestrator(
		llm.NewGeminiProvider(geminiClient.Models, cfg.Gemini.Model),
		gate,
		llm.WithCallTimeout(cfg.CallTimeout()),
		llm.WithMetrics(llm.NewMetrics(registry)),
		llm.WithLogger(log),
	)

	var ocr extractor.OCREngine
	if cfg.Extractor.OCR == "gemini" {
		ocr = extractor.NewGeminiOCR(geminiClient.Models, cfg.Gemini.Model)
	}
	textChunker, err := chunker.NewDefault(cfg.Chunker.MaxWords)
	if err != nil {
		return err
	}
	pipeline := services.NewIngestPipeline(extractor.NewPDFExtractor(ocr, log), textChunker, emb, log)
	ragService := services.NewRAGService(pipeline, documents, retriever.New(emb, cfg.Retriever.TopK), orchestrator, log)
	ragController := controller.NewRAGController(ragService, log)

	if cfg.Inbox.Path != "" {
		inbox := services.NewInboxService(cfg.Inbox.Path, cfg.Inbox.OwnerID, ragService, documents, log)
		inbox.SetQuietPeriod(cfg.InboxQuietPeriod())
		go func() {
			if err := inbox.ScanDirectory(ctx); err != nil {
				log.Error("initial inbox scan failed", "err", err)
			}
			if err := inbox.WatchDirectory(ctx); err != nil {
				log.Error("inbox watcher stopped", "err", err)
			}
		}()
	}

	retention := services.NewRetentionService(documents, cfg.RetentionMaxAge(), log)
	if err := retention.Start(ctx, cfg.Retention.Schedule); err != nil {
		return err
	}
	defer retention.Stop()

	router := gin.Default()

	// Add CORS middleware for browser clients
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "legal document API",
			"version": "1.0.0",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	ragController.RegisterRoutes(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", "http://localhost:"+cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newEmbedder(cfg *config.AppConfig) (embeddings.Embedder, func(), error) {
	switch cfg.Embedder.Backend {
	case "ollama":
		httpClient := &http.Client{Timeout: time.Duration(cfg.Embedder.TimeoutSeconds) * time.Second}
		emb, err := embedder.NewOllama(httpClient, cfg.Embedder.OllamaURL, cfg.Embedder.OllamaModel, cfg.Embedder.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		return emb, func() {}, nil
	default:
		encoder, err := embedder.NewONNXEncoder(embedder.ONNXConfig{
			ModelPath:     cfg.Embedder.ModelPath,
			TokenizerPath: cfg.Embedder.TokenizerPath,
			LibraryPath:   cfg.Embedder.OnnxLibrary,
			Dimension:     cfg.Embedder.Dimension,
		})
		if err != nil {
			return nil, nil, err
		}
		return embedder.New(encoder, cfg.Embedder.MaxTokens), func() { _ = encoder.Close() }, nil
	}
}

func newUsageStore(ctx context.Context, cfg *config.AppConfig) (usage.Store, func(), error) {
	if cfg.Usage.Backend != "redis" {
		return usage.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Usage.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Usage.RedisAddr, err)
	}
	return usage.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func newDocumentStore(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (store.DocumentStore, func(), error) {
	if cfg.Store.Backend != "chroma" {
		return store.NewMemoryStore(), func() {}, nil
	}
	client, collection, err := store.OpenChromaCollection(ctx, cfg.Store.ChromaURL, cfg.Store.Collection)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using chroma collection", "name", cfg.Store.Collection)
	return store.NewChromaStore(collection, log), func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close chroma client", "err", err)
		}
	}, nil
}
