package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
	"github.com/zhouzirui/knowledge-portal/backend/pkg/utils"
)

// Handler 会话与问答的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	orch    *rag.Orchestrator
	catalog *knowledge.Catalog
	docs    *documents.Manager
	logger  *zap.Logger
}

// New 创建聊天处理器。catalog 为空时新会话不预选模型。
func New(chatSvc *chatService.Service, orch *rag.Orchestrator, catalog *knowledge.Catalog, docs *documents.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		orch:    orch,
		catalog: catalog,
		docs:    docs,
		logger:  logging.OrNop(logger),
	}
}

// AskResponse 是一次问答后的返回体。
type AskResponse struct {
	Message chat.Message         `json:"message"`
	State   chatService.Snapshot `json:"state"`
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Delete("/sessions/{sessionID}/messages", h.handleReset)
	r.Delete("/sessions/{sessionID}/error", h.handleDismissError)
	r.Post("/sessions/{sessionID}/ask", h.handleAsk)
	r.Post("/sessions/{sessionID}/attachment", h.handleAttach)
	r.Delete("/sessions/{sessionID}/attachment", h.handleDetach)
	r.Post("/sessions/{sessionID}/attachment/send", h.handleSendAttachment)
}

// handleCreateSession 创建会话，并在可用时预选默认模型与存储
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ws, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.catalog != nil {
		engines, err := h.catalog.LoadAll(r.Context())
		if err != nil {
			h.logger.Warn("load engines for new session", zap.String("session", ws.ID), zap.Error(err))
		} else {
			h.catalog.ApplyDefaults(ws.Knowledge, engines)
		}
	}

	utils.RespondJSON(w, http.StatusCreated, ws.Snapshot())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, ws.Snapshot())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReset 清空对话
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Reset(); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, ws.Snapshot())
}

// handleDismissError 关闭错误横幅
func (h *Handler) handleDismissError(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.ClearError()
	utils.RespondJSON(w, http.StatusOK, ws.Snapshot())
}

// handleAsk 提交问题并同步返回最终消息
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload struct {
		Question string `json:"question"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.orch.Ask(r.Context(), ws, payload.Question)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, AskResponse{Message: msg, State: ws.Snapshot()})
}

// handleAttach 暂存一个待上传的附件（multipart 字段 file）
func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	file, err := h.docs.ReadMultipart(w, r)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	data, err := io.ReadAll(file.Body)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ws.Attach(chatService.Attachment{
		Name:        file.Name,
		ContentType: file.ContentType,
		Size:        int64(len(data)),
		Data:        data,
	})
	utils.RespondJSON(w, http.StatusOK, ws.Snapshot())
}

func (h *Handler) handleDetach(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ws.Detach()
	utils.RespondJSON(w, http.StatusOK, ws.Snapshot())
}

// handleSendAttachment 将附件写入当前向量库
func (h *Handler) handleSendAttachment(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	msg, err := h.orch.SendAttachment(r.Context(), ws)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, AskResponse{Message: msg, State: ws.Snapshot()})
}

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*chatService.Workspace, bool) {
	ws, err := h.chatSvc.Workspace(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return nil, false
	}
	return ws, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, documents.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rag.ErrQuestionRequired),
		errors.Is(err, rag.ErrModelNotSelected),
		errors.Is(err, rag.ErrAttachmentRequired),
		errors.Is(err, documents.ErrVectorStoreRequired),
		errors.Is(err, documents.ErrFileRequired),
		errors.Is(err, documents.ErrUnsupportedType),
		errors.Is(err, documents.ErrMalformedUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
