package knowledge

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	knowledgeService "github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/pkg/utils"
)

// Handler 知识配置、引擎列表与文档管理
type Handler struct {
	chatSvc *chatService.Service
	catalog *knowledgeService.Catalog
	docs    *documents.Manager
	logger  *zap.Logger
}

func New(chatSvc *chatService.Service, catalog *knowledgeService.Catalog, docs *documents.Manager, logger *zap.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, catalog: catalog, docs: docs, logger: logging.OrNop(logger)}
}

// SelectionRequest 更新会话的知识配置。缺省字段保持不变，
// id 为空的句柄表示清除选择。
type SelectionRequest struct {
	Model       *kmodel.Handle `json:"model"`
	Vector      *kmodel.Handle `json:"vector"`
	Storage     *kmodel.Handle `json:"storage"`
	ResultLimit *int           `json:"resultLimit"`
	Temperature *float64       `json:"temperature"`
}

// DocumentsResponse 文档列表。Deleting 只列出仍在进行中的其他删除，
// 本次请求删除的文件在响应构造前已清除标记。
type DocumentsResponse struct {
	Documents []string `json:"documents"`
	Deleting  []string `json:"deleting"`
	Error     string   `json:"error,omitempty"`
}

// VectorStoresResponse 向量库列表
type VectorStoresResponse struct {
	VectorStores []kmodel.Handle `json:"vectorStores"`
	Selected     *kmodel.Handle  `json:"selected,omitempty"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/engines", h.handleAllEngines)
	r.Get("/engines/{engineType}", h.handleEngines)

	r.Get("/sessions/{sessionID}/knowledge", h.handleGetSelection)
	r.Put("/sessions/{sessionID}/knowledge", h.handleUpdateSelection)
	r.Get("/sessions/{sessionID}/vector-stores", h.handleVectorStores)
	r.Post("/sessions/{sessionID}/vector-stores", h.handleCreateVectorStore)

	r.Get("/sessions/{sessionID}/documents", h.handleListDocuments)
	r.Post("/sessions/{sessionID}/documents", h.handleUploadDocument)
	r.Delete("/sessions/{sessionID}/documents/{name}", h.handleDeleteDocument)
}

func (h *Handler) handleAllEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := h.catalog.LoadAll(r.Context())
	if err != nil {
		h.logger.Warn("load engines", zap.Error(err))
		utils.RespondError(w, statusFor(err), errorText(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, engines)
}

func (h *Handler) handleEngines(w http.ResponseWriter, r *http.Request) {
	engineType, ok := parseEngineType(chi.URLParam(r, "engineType"))
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "engine type must be MODEL, VECTOR or STORAGE")
		return
	}

	handles, err := h.catalog.Engines(r.Context(), engineType)
	if err != nil {
		utils.RespondError(w, statusFor(err), errorText(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, handles)
}

func (h *Handler) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, ws.Knowledge.Snapshot())
}

// handleUpdateSelection 参数越界时按范围截断，而不是报错
func (h *Handler) handleUpdateSelection(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req SelectionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sel := ws.Knowledge
	if req.Model != nil {
		sel.SelectModel(handleOrNil(req.Model, pixel.EngineModel))
	}
	if req.Vector != nil {
		sel.SelectVectorStore(handleOrNil(req.Vector, pixel.EngineVector))
	}
	if req.Storage != nil {
		sel.SelectStorage(handleOrNil(req.Storage, pixel.EngineStorage))
	}
	if req.ResultLimit != nil {
		sel.SetResultLimit(*req.ResultLimit)
	}
	if req.Temperature != nil {
		if _, err := sel.SetTemperature(*req.Temperature); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	utils.RespondJSON(w, http.StatusOK, sel.Snapshot())
}

// handleVectorStores 重新拉取向量库列表并清除刷新标记
func (h *Handler) handleVectorStores(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	handles, err := h.catalog.VectorStores(r.Context(), ws.Knowledge)
	if err != nil {
		utils.RespondError(w, statusFor(err), errorText(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, VectorStoresResponse{VectorStores: handles, Selected: ws.Knowledge.VectorStore()})
}

func (h *Handler) handleCreateVectorStore(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := h.catalog.CreateVectorStore(r.Context(), ws.Knowledge, payload.Name)
	if err != nil {
		if !errors.Is(err, knowledgeService.ErrVectorNameRequired) {
			ws.SetError(errorText(err))
		}
		utils.RespondError(w, statusFor(err), errorText(err))
		return
	}
	utils.RespondJSON(w, http.StatusCreated, handle)
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	names, err := h.docs.List(r.Context(), ws)
	h.respondDocuments(w, ws, names, err, http.StatusOK)
}

func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if ws.Knowledge.VectorStore() == nil {
		utils.RespondError(w, http.StatusBadRequest, documents.ErrVectorStoreRequired.Error())
		return
	}

	file, err := h.docs.ReadMultipart(w, r)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	names, err := h.docs.Upload(r.Context(), ws, file)
	h.respondDocuments(w, ws, names, err, http.StatusCreated)
}

// handleDeleteDocument 删除失败但列表刷新成功时仍返回列表，错误见横幅
func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	names, err := h.docs.Delete(r.Context(), ws, chi.URLParam(r, "name"))
	if err != nil && names != nil {
		err = nil
	}
	h.respondDocuments(w, ws, names, err, http.StatusOK)
}

func (h *Handler) respondDocuments(w http.ResponseWriter, ws *chatService.Workspace, names []string, err error, status int) {
	if err != nil {
		utils.RespondError(w, statusFor(err), documents.Message(err))
		return
	}
	utils.RespondJSON(w, status, h.documentsResponse(ws, names))
}

func (h *Handler) documentsResponse(ws *chatService.Workspace, names []string) DocumentsResponse {
	if names == nil {
		names = []string{}
	}
	return DocumentsResponse{
		Documents: names,
		Deleting:  h.docs.Deleting(ws.ID),
		Error:     ws.ErrorMessage(),
	}
}

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*chatService.Workspace, bool) {
	ws, err := h.chatSvc.Workspace(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return nil, false
	}
	return ws, true
}

func handleOrNil(h *kmodel.Handle, engineType pixel.EngineType) *kmodel.Handle {
	if strings.TrimSpace(h.ID) == "" {
		return nil
	}
	out := *h
	if out.DisplayName == "" {
		out.DisplayName = out.ID
	}
	out.Type = engineType
	return &out
}

func parseEngineType(raw string) (pixel.EngineType, bool) {
	switch t := pixel.EngineType(strings.ToUpper(raw)); t {
	case pixel.EngineModel, pixel.EngineVector, pixel.EngineStorage:
		return t, true
	}
	return "", false
}

// errorText prefers the message the engine reported.
func errorText(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, documents.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, knowledgeService.ErrVectorNameRequired),
		errors.Is(err, documents.ErrVectorStoreRequired),
		errors.Is(err, documents.ErrFileRequired),
		errors.Is(err, documents.ErrUnsupportedType),
		errors.Is(err, documents.ErrMalformedUpload):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
