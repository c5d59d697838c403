package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway/gatewaytest"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/ai"
	appService "github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	chatService "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	knowledgeService "github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	fake := gatewaytest.New().OnOutput("MyEngines", []map[string]string{}).OnOutput("MyProjects", []map[string]string{})
	gen, err := ai.NewService(context.Background(), ai.NewGatewayChatModel(fake, nil))
	require.NoError(t, err)

	docs := documents.NewManager(fake, 0, nil)
	return NewRouter(Deps{
		Chat:           chatService.NewService(kmodel.DefaultParameters(), nil),
		Orchestrator:   rag.New(fake, gen, docs, nil),
		Catalog:        knowledgeService.NewCatalog(fake, knowledgeService.Config{}, nil),
		Documents:      docs,
		Apps:           appService.NewService(fake, app.NewMemoryStore(), "DHA", nil),
		AllowedOrigins: []string{"*"},
	})
}

func TestRouterMountsUnderAPI(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/api/healthz", "/api/apps", "/api/apps/options", "/api/engines"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
		assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"), path)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/apps", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRouterSessionLifecycle(t *testing.T) {
	r := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, resp.Body.String(), `"sessionId"`)
}
