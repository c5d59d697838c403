package apps

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	appservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	chatservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(kmodel.DefaultParameters(), nil)
	svc := appservice.NewService(nil, app.NewMemoryStore(), "", nil)

	r := chi.NewRouter()
	New(svc, chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func TestListApps(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/apps?q=pharmacy", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var tiles []app.App
	if err := json.Unmarshal(resp.Body.Bytes(), &tiles); err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 1 || tiles[0].Name != "Pharmacy System" {
		t.Fatalf("unexpected tiles %+v", tiles)
	}
}

func TestAddAppValidation(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/apps", strings.NewReader(`{"project_name":"X"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/apps", strings.NewReader(`{"project_name":"Tracker","url":"https://tracker"}`))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
}

func TestSavePlayground(t *testing.T) {
	r, chatSvc := setupRouter()
	ws, err := chatSvc.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ws.Knowledge.SelectModel(&kmodel.Handle{ID: "m1"})

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+ws.ID+"/apps", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var tile app.App
	json.Unmarshal(resp.Body.Bytes(), &tile)
	if tile.Model != "m1" || !strings.HasPrefix(tile.URL, "#/policy?") {
		t.Fatalf("unexpected tile %+v", tile)
	}
}

func TestSavePlaygroundUnknownSession(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/sessions/missing/apps", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
