package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/handler/apps"
	"github.com/zhouzirui/knowledge-portal/backend/internal/handler/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/handler/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/handler/live"
	"github.com/zhouzirui/knowledge-portal/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/knowledge-portal/backend/internal/middleware"
	appService "github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	knowledgeService "github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
	"github.com/zhouzirui/knowledge-portal/backend/pkg/utils"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Chat           *chatService.Service
	Orchestrator   *rag.Orchestrator
	Catalog        *knowledgeService.Catalog
	Documents      *documents.Manager
	Apps           *appService.Service
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	chatHandler := chat.New(deps.Chat, deps.Orchestrator, deps.Catalog, deps.Documents, deps.Logger)
	streamHandler := stream.New(deps.Chat, deps.Orchestrator, deps.Logger)
	knowledgeHandler := knowledge.New(deps.Chat, deps.Catalog, deps.Documents, deps.Logger)
	appsHandler := apps.New(deps.Apps, deps.Chat)
	liveHandler := live.NewWebSocketHandler(deps.Chat, deps.Orchestrator, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		knowledgeHandler.RegisterRoutes(api)
		appsHandler.RegisterRoutes(api)
		liveHandler.RegisterWebSocketRoutes(api)
	})

	return r
}
