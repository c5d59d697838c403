package apps

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	appService "github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/pkg/utils"
)

// Handler 首页应用磁贴的HTTP处理器
type Handler struct {
	apps    *appService.Service
	chatSvc *chatService.Service
}

// New 创建应用处理器
func New(apps *appService.Service, chatSvc *chatService.Service) *Handler {
	return &Handler{
		apps:    apps,
		chatSvc: chatSvc,
	}
}

// Options 添加磁贴时可选的图标与类型
type Options struct {
	Icons []string `json:"icons"`
	Types []string `json:"types"`
}

// RegisterRoutes 注册应用相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/apps", h.handleListApps)
	r.Post("/apps", h.handleAddApp)
	r.Get("/apps/options", h.handleOptions)
	r.Post("/sessions/{sessionID}/apps", h.handleSavePlayground)
}

// handleListApps 列出磁贴，q 为搜索词
func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	tiles, err := h.apps.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, tiles)
}

func (h *Handler) handleAddApp(w http.ResponseWriter, r *http.Request) {
	var in app.App
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := h.apps.Add(r.Context(), in)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, Options{Icons: app.Icons, Types: app.Types})
}

// handleSavePlayground 将会话当前的知识配置保存为磁贴
func (h *Handler) handleSavePlayground(w http.ResponseWriter, r *http.Request) {
	ws, err := h.chatSvc.Workspace(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	tile, err := h.apps.SavePlayground(r.Context(), ws.Knowledge.Snapshot())
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, tile)
}

func statusFor(err error) int {
	if errors.Is(err, appService.ErrNameRequired) || errors.Is(err, appService.ErrURLRequired) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
