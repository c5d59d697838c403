package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/chat"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
)

var ErrSessionNotFound = errors.New("session not found")

// Service keeps the in-memory workspaces. Nothing is persisted: a restart,
// like a page reload, starts every conversation over.
type Service struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
	params     kmodel.QueryParameters
	logger     *zap.Logger
}

// NewService bootstraps the workspace registry; new workspaces start with params.
func NewService(params kmodel.QueryParameters, logger *zap.Logger) *Service {
	return &Service{
		workspaces: make(map[string]*Workspace),
		params:     params,
		logger:     logging.OrNop(logger),
	}
}

// CreateSession provisions a new workspace.
func (s *Service) CreateSession(_ context.Context) (*Workspace, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	ws := newWorkspace(session, knowledge.NewSelection(s.params))

	s.mu.Lock()
	s.workspaces[session.ID] = ws
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session", session.ID))
	return ws, nil
}

// Workspace retrieves a workspace by session identifier.
func (s *Service) Workspace(_ context.Context, sessionID string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ws, nil
}

// DeleteSession drops a workspace.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.workspaces, sessionID)
	s.logger.Info("session deleted", zap.String("session", sessionID))
	return nil
}

// LoadTranscript returns the messages of a session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	ws, err := s.Workspace(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ws.Conversation.Messages(), nil
}
