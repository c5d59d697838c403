// Package documents manages the files embedded in the selected vector store.
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	chatservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
)

// MaxUploadBytes is the default upload limit (100 MiB).
const MaxUploadBytes int64 = 100 << 20

var (
	ErrVectorStoreRequired = errors.New("please select a vector database first")
	ErrFileRequired        = errors.New("please select a file to upload")
	ErrFileTooLarge        = errors.New("file exceeds the 100MB limit")
	ErrUnsupportedType     = errors.New("only PDF and CSV files are supported")
)

const (
	listFailure    = "Failed to fetch documents from vector database"
	deleteFailure  = "Failed to delete document: %s"
	embedFallback  = "Failed to upload document"
	uploadPrefix   = ""
	contentTypePDF = "application/pdf"
	contentTypeCSV = "text/csv"
)

// File is an upload candidate. Body is read only after validation passes.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Manager implements list, upload and delete against the workspace's
// selected vector store. The document list is always re-fetched, never
// patched locally.
type Manager struct {
	gw       gateway.Runner
	maxBytes int64
	logger   *zap.Logger

	mu       sync.Mutex
	deleting map[string]map[string]struct{}
}

// NewManager wires the manager; maxBytes <= 0 selects MaxUploadBytes.
func NewManager(gw gateway.Runner, maxBytes int64, logger *zap.Logger) *Manager {
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	return &Manager{
		gw:       gw,
		maxBytes: maxBytes,
		logger:   logging.OrNop(logger),
		deleting: make(map[string]map[string]struct{}),
	}
}

// Validate checks size and type without contacting the gateway.
func (m *Manager) Validate(f File) error {
	if f.Name == "" {
		return ErrFileRequired
	}
	if f.Size > m.maxBytes {
		return ErrFileTooLarge
	}
	if !supportedType(f.Name, f.ContentType) {
		return ErrUnsupportedType
	}
	return nil
}

// List returns the file names in the selected vector store. A non-array
// output yields an empty list.
func (m *Manager) List(ctx context.Context, ws *chatservice.Workspace) ([]string, error) {
	vector := ws.Knowledge.VectorStore()
	if vector == nil {
		return nil, ErrVectorStoreRequired
	}

	res, err := m.gw.Run(ctx, pixel.ListDocuments(vector.ID))
	if err == nil {
		err = res.Err(listFailure)
	}
	if err != nil {
		m.logger.Warn("list documents failed", zap.String("engine", vector.ID), zap.Error(err))
		ws.SetError(listFailure)
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return fileNames(res.Array()), nil
}

// Upload validates f, stores it, embeds it into the selected vector store and
// returns the refreshed document list.
func (m *Manager) Upload(ctx context.Context, ws *chatservice.Workspace, f File) ([]string, error) {
	if err := m.Validate(f); err != nil {
		return nil, err
	}
	vector := ws.Knowledge.VectorStore()
	if vector == nil {
		return nil, ErrVectorStoreRequired
	}
	if f.Body == nil {
		f.Body = bytes.NewReader(nil)
	}

	if err := m.embed(ctx, vector.ID, f); err != nil {
		m.logger.Warn("upload document failed", zap.String("engine", vector.ID), zap.String("file", f.Name), zap.Error(err))
		ws.SetError(Message(err))
		return nil, err
	}

	m.logger.Info("document embedded", zap.String("engine", vector.ID), zap.String("file", f.Name))
	return m.List(ctx, ws)
}

func (m *Manager) embed(ctx context.Context, engineID string, f File) error {
	files, err := m.gw.Upload(ctx, f.Name, io.LimitReader(f.Body, m.maxBytes+1), uploadPrefix)
	if err != nil {
		return fmt.Errorf("upload %s: %w", f.Name, err)
	}
	if len(files) == 0 || files[0].FileLocation == "" {
		return gateway.ErrNoUploadedFile
	}

	location := strings.TrimPrefix(files[0].FileLocation, "/")
	res, err := m.gw.Run(ctx, pixel.CreateEmbeddings(engineID, location))
	if err != nil {
		return fmt.Errorf("create embeddings: %w", err)
	}
	return res.Err(embedFallback)
}

// Delete removes name from the selected vector store and returns the
// refreshed list, whatever the removal outcome.
func (m *Manager) Delete(ctx context.Context, ws *chatservice.Workspace, name string) ([]string, error) {
	vector := ws.Knowledge.VectorStore()
	if vector == nil {
		return nil, ErrVectorStoreRequired
	}

	m.markDeleting(ws.ID, name)
	res, err := m.gw.Run(ctx, pixel.RemoveDocuments(vector.ID, name))
	if err == nil {
		err = res.Err(fmt.Sprintf(deleteFailure, name))
	}
	m.clearDeleting(ws.ID, name)

	var deleteErr error
	if err != nil {
		m.logger.Warn("delete document failed", zap.String("engine", vector.ID), zap.String("file", name), zap.Error(err))
		ws.SetError(fmt.Sprintf(deleteFailure, name))
		deleteErr = fmt.Errorf("delete %s: %w", name, err)
	}

	docs, listErr := m.List(ctx, ws)
	if deleteErr != nil {
		return docs, deleteErr
	}
	return docs, listErr
}

// IsDeleting reports whether a removal of name is in flight for the session.
func (m *Manager) IsDeleting(sessionID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deleting[sessionID][name]
	return ok
}

// Deleting lists the in-flight removals of a session.
func (m *Manager) Deleting(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.deleting[sessionID]))
	for name := range m.deleting[sessionID] {
		names = append(names, name)
	}
	return names
}

func (m *Manager) markDeleting(sessionID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleting[sessionID] == nil {
		m.deleting[sessionID] = make(map[string]struct{})
	}
	m.deleting[sessionID][name] = struct{}{}
}

func (m *Manager) clearDeleting(sessionID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deleting[sessionID], name)
	if len(m.deleting[sessionID]) == 0 {
		delete(m.deleting, sessionID)
	}
}

// Message returns the user-facing text of an upload or removal failure.
func Message(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func fileNames(items []json.RawMessage) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name != "" {
				names = append(names, name)
			}
			continue
		}
		var doc struct {
			FileName string `json:"fileName"`
		}
		if err := json.Unmarshal(item, &doc); err == nil && doc.FileName != "" {
			names = append(names, doc.FileName)
		}
	}
	return names
}

func supportedType(name, contentType string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".csv":
		return true
	}
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == contentTypePDF || mediaType == contentTypeCSV
}
