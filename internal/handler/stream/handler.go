package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
	"github.com/zhouzirui/knowledge-portal/backend/pkg/utils"
)

// SSE event names.
const (
	EventState = "state"
	EventDone  = "done"
	EventError = "error"
)

// Handler streams workspace snapshots while a question is answered.
type Handler struct {
	chatSvc *chatService.Service
	orch    *rag.Orchestrator
	logger  *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, orch *rag.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, orch: orch, logger: logging.OrNop(logger)}
}

// DonePayload closes the stream.
type DonePayload struct {
	Message chat.Message         `json:"message"`
	State   chatService.Snapshot `json:"state"`
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
	r.Post("/sessions/{sessionID}/stream", h.handleStream)
}

// handleStream 问题可来自 query 参数 question 或 JSON body
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.chatSvc.Workspace(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	question := r.URL.Query().Get("question")
	if r.Method == http.MethodPost {
		var payload struct {
			Question string `json:"question"`
		}
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		question = payload.Question
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	progress := func(snap chatService.Snapshot) {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		utils.SendSSEEvent(w, flusher, EventState, snap)
	}

	msg, err := h.orch.Ask(r.Context(), ws, question, rag.WithProgress(progress))
	if err != nil {
		if !started {
			utils.RespondError(w, statusFor(err), err.Error())
			return
		}
		utils.SendSSEEvent(w, flusher, EventError, map[string]string{"error": err.Error()})
		return
	}

	if msg.State == chat.StateError {
		utils.SendSSEEvent(w, flusher, EventError, map[string]string{"error": strings.TrimPrefix(msg.Content, "Error: ")})
	}
	utils.SendSSEEvent(w, flusher, EventDone, DonePayload{Message: msg, State: ws.Snapshot()})
	h.logger.Debug("stream finished", zap.String("session", ws.ID), zap.String("state", string(msg.State)))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, rag.ErrQuestionRequired), errors.Is(err, rag.ErrModelNotSelected):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
