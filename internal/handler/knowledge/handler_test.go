package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway/gatewaytest"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	chatservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/documents"
	knowledgeservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
)

type fixture struct {
	router *chi.Mux
	fake   *gatewaytest.Fake
	ws     *chatservice.Workspace
	docs   *documents.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := gatewaytest.New()
	chatSvc := chatservice.NewService(kmodel.DefaultParameters(), nil)
	ws, err := chatSvc.CreateSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	docs := documents.NewManager(fake, 0, nil)
	catalog := knowledgeservice.NewCatalog(fake, knowledgeservice.Config{EmbedderEngineID: "emb"}, nil)

	r := chi.NewRouter()
	New(chatSvc, catalog, docs, nil).RegisterRoutes(r)
	return &fixture{router: r, fake: fake, ws: ws, docs: docs}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestUpdateSelectionClampsParameters(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodPut, "/sessions/"+f.ws.ID+"/knowledge",
		`{"model":{"id":"m1","displayName":"GPT"},"vector":{"id":"v1"},"resultLimit":25,"temperature":-2}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var snap knowledgeservice.SelectionSnapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Parameters.ResultLimit != kmodel.MaxResultLimit {
		t.Fatalf("expected clamp to %d, got %d", kmodel.MaxResultLimit, snap.Parameters.ResultLimit)
	}
	if snap.Parameters.Temperature != kmodel.MinTemperature {
		t.Fatalf("expected clamp to 0, got %v", snap.Parameters.Temperature)
	}
	if snap.Model == nil || snap.Model.Type != pixel.EngineModel {
		t.Fatalf("unexpected model %+v", snap.Model)
	}
	if snap.Vector == nil || snap.Vector.DisplayName != "v1" {
		t.Fatalf("display name should default to id, got %+v", snap.Vector)
	}
}

func TestUpdateSelectionClearsWithEmptyID(t *testing.T) {
	f := newFixture(t)
	f.ws.Knowledge.SelectVectorStore(&kmodel.Handle{ID: "v1"})

	resp := f.do(http.MethodPut, "/sessions/"+f.ws.ID+"/knowledge", `{"vector":{"id":""}}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if f.ws.Knowledge.VectorStore() != nil {
		t.Fatal("vector store should be cleared")
	}
}

func TestEnginesByType(t *testing.T) {
	f := newFixture(t)
	f.fake.On("MyEngines", func(p string) (gateway.Result, error) {
		if p != pixel.MyEngines(pixel.EngineVector) {
			t.Errorf("unexpected pixel %s", p)
		}
		return gatewaytest.OK([]map[string]string{{"database_id": "v1", "database_name": "Policies"}}), nil
	})

	resp := f.do(http.MethodGet, "/engines/vector", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var handles []kmodel.Handle
	json.Unmarshal(resp.Body.Bytes(), &handles)
	if len(handles) != 1 || handles[0].DisplayName != "Policies" {
		t.Fatalf("unexpected handles %+v", handles)
	}

	resp = f.do(http.MethodGet, "/engines/nonsense", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateVectorStoreSelectsAndMarksRefresh(t *testing.T) {
	f := newFixture(t)
	f.fake.OnOutput("CreateVectorDatabaseEngine", map[string]string{"database_id": "v9", "database_name": "HR"}).
		OnOutput("MyEngines", []map[string]string{{"database_id": "v9", "database_name": "HR"}})

	resp := f.do(http.MethodPost, "/sessions/"+f.ws.ID+"/vector-stores", `{"name":"HR"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if v := f.ws.Knowledge.VectorStore(); v == nil || v.ID != "v9" {
		t.Fatalf("new store should be selected, got %+v", v)
	}
	if !f.ws.Knowledge.RefreshPending() {
		t.Fatal("vector list should be marked for refresh")
	}

	resp = f.do(http.MethodGet, "/sessions/"+f.ws.ID+"/vector-stores", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if f.ws.Knowledge.RefreshPending() {
		t.Fatal("listing should consume the refresh flag")
	}
}

func TestCreateVectorStoreFailureSetsBanner(t *testing.T) {
	f := newFixture(t)
	f.fake.OnError("CreateVectorDatabaseEngine", "name taken")

	resp := f.do(http.MethodPost, "/sessions/"+f.ws.ID+"/vector-stores", `{"name":"HR"}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if f.ws.ErrorMessage() != "name taken" {
		t.Fatalf("unexpected banner %q", f.ws.ErrorMessage())
	}

	resp = f.do(http.MethodPost, "/sessions/"+f.ws.ID+"/vector-stores", `{"name":"  "}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListDocumentsRequiresVectorStore(t *testing.T) {
	f := newFixture(t)

	resp := f.do(http.MethodGet, "/sessions/"+f.ws.ID+"/documents", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(f.fake.Calls()) != 0 {
		t.Fatal("no pixel expected without a vector store")
	}
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t)
	f.ws.Knowledge.SelectVectorStore(&kmodel.Handle{ID: "v1"})
	f.fake.OnOutput("ListDocumentsInVectorDatabase", []any{"a.pdf", map[string]string{"fileName": "b.csv"}})

	resp := f.do(http.MethodGet, "/sessions/"+f.ws.ID+"/documents", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out DocumentsResponse
	json.Unmarshal(resp.Body.Bytes(), &out)
	if len(out.Documents) != 2 || out.Documents[0] != "a.pdf" || out.Documents[1] != "b.csv" {
		t.Fatalf("unexpected documents %+v", out.Documents)
	}
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t)
	f.ws.Knowledge.SelectVectorStore(&kmodel.Handle{ID: "v1"})
	f.fake.OnOutput("CreateEmbeddingsFromDocuments", true).
		OnOutput("ListDocumentsInVectorDatabase", []string{"rates.csv"})

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, _ := mw.CreateFormFile(documents.FormField, "rates.csv")
	part.Write([]byte("a,b\n1,2\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+f.ws.ID+"/documents", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	embeds := f.fake.CallsTo("CreateEmbeddingsFromDocuments")
	if len(embeds) != 1 || embeds[0] != pixel.CreateEmbeddings("v1", "rates.csv") {
		t.Fatalf("unexpected embed calls %v", embeds)
	}
}

func TestDeleteDocumentFailureStillRefreshes(t *testing.T) {
	f := newFixture(t)
	f.ws.Knowledge.SelectVectorStore(&kmodel.Handle{ID: "v1"})
	f.fake.OnError("RemoveDocumentFromVectorDatabase", "locked").
		OnOutput("ListDocumentsInVectorDatabase", []string{"a.pdf"})

	resp := f.do(http.MethodDelete, "/sessions/"+f.ws.ID+"/documents/a.pdf", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out DocumentsResponse
	json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Error != "Failed to delete document: a.pdf" {
		t.Fatalf("unexpected banner %q", out.Error)
	}
	if len(out.Documents) != 1 || len(out.Deleting) != 0 {
		t.Fatalf("unexpected response %+v", out)
	}
	if len(f.fake.CallsTo("ListDocumentsInVectorDatabase")) != 1 {
		t.Fatal("list should be re-fetched after a failed delete")
	}
}
