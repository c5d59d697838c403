package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/config"
	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/handler"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/ai"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
	"github.com/zhouzirui/knowledge-portal/backend/internal/store/kv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	gw := gateway.NewClient(cfg.Gateway, logger.Named("gateway"))

	store, err := kv.Open(ctx, cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer store.Close()

	generator, err := newGenerator(ctx, cfg, gw, logger)
	if err != nil {
		logger.Fatal("failed to initialize generation", zap.Error(err))
	}

	params := kmodel.QueryParameters{ResultLimit: cfg.Knowledge.ResultLimit, Temperature: cfg.Knowledge.Temperature}
	chatService := chat.NewService(params, logger.Named("chat"))
	docs := documents.NewManager(gw, cfg.Knowledge.MaxUploadBytes, logger.Named("documents"))
	catalog := knowledge.NewCatalog(gw, knowledge.Config{
		DefaultModelID:   cfg.Knowledge.DefaultModelID,
		DefaultStorageID: cfg.Knowledge.DefaultStorageID,
		EmbedderEngineID: cfg.Knowledge.EmbedderEngineID,
	}, logger.Named("catalog"))
	appService := apps.NewService(gw, apps.NewKVStore(store), cfg.Knowledge.ProjectTag, logger.Named("apps"))

	router := handler.NewRouter(handler.Deps{
		Chat:           chatService,
		Orchestrator:   rag.New(gw, generator, docs, logger.Named("rag")),
		Catalog:        catalog,
		Documents:      docs,
		Apps:           appService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.Named("http"),
	})

	startServer(ctx, cfg.Server, router, logger)
}

// newGenerator 优先使用直连的 Ark 模型，否则经由网关的 LLM 命令生成。
func newGenerator(ctx context.Context, cfg *config.Config, gw gateway.Runner, logger *zap.Logger) (*ai.Service, error) {
	var (
		chatModel model.BaseChatModel
		opts      = []ai.Option{ai.WithLogger(logger.Named("ai"))}
	)

	if cfg.AI.Enabled() {
		arkModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize Ark model, falling back to gateway LLM", zap.Error(err))
		} else {
			chatModel = arkModel
			opts = append(opts, ai.WithPinnedModel())
			logger.Info("generation pinned to Ark model", zap.String("model", cfg.AI.Model))
		}
	}
	if chatModel == nil {
		chatModel = ai.NewGatewayChatModel(gw, logger.Named("llm"))
	}

	return ai.NewService(ctx, chatModel, opts...)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("knowledge portal backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
