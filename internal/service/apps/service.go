// Package apps assembles the landing page tiles: built-in defaults, projects
// reported by the engine and tiles the user added.
package apps

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
)

var (
	ErrNameRequired = errors.New("app name is required")
	ErrURLRequired  = errors.New("app url is required")
)

const (
	policyRoute          = "#/policy?"
	playgroundPrefix     = "RAG Playground "
	playgroundTemp       = 0.3
	playgroundQueryCount = 3
)

// Service lists and adds tiles. User tiles go through the app.Store.
type Service struct {
	gw       gateway.Runner
	store    app.Store
	tag      string
	defaults []app.App
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewService wires the tile catalogue. tag filters MyProjects.
func NewService(gw gateway.Runner, store app.Store, tag string, logger *zap.Logger) *Service {
	return &Service{
		gw:       gw,
		store:    store,
		tag:      tag,
		defaults: app.Seed(),
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// List returns defaults, engine projects and user tiles whose name,
// description or type contains query (case-insensitive). A failing project
// lookup degrades to defaults plus user tiles.
func (s *Service) List(ctx context.Context, query string) ([]app.App, error) {
	user, err := s.userApps(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]app.App, 0, len(s.defaults)+len(user))
	all = append(all, s.defaults...)
	all = append(all, s.projects(ctx)...)
	all = append(all, user...)
	return Filter(all, query), nil
}

// Add validates and stores a user tile, assigning its identifier.
func (s *Service) Add(ctx context.Context, in app.App) (app.App, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if in.Name == "" {
		return app.App{}, ErrNameRequired
	}
	if in.URL == "" {
		return app.App{}, ErrURLRequired
	}
	if in.Icon == "" {
		in.Icon = app.DefaultIcon
	}
	if in.Type == "" {
		in.Type = app.DefaultType
	}
	return s.save(ctx, in)
}

// SavePlayground stores the current knowledge selection as a RAG tile that
// reopens the chat page with the same settings.
func (s *Service) SavePlayground(ctx context.Context, sel knowledge.SelectionSnapshot) (app.App, error) {
	temperature := sel.Parameters.Temperature
	if temperature == 0 {
		temperature = playgroundTemp
	}
	queryCount := sel.Parameters.ResultLimit
	if queryCount == 0 {
		queryCount = playgroundQueryCount
	}

	tile := app.App{
		Type:        app.PlaygroundType,
		Icon:        app.DefaultIcon,
		Temperature: strconv.FormatFloat(temperature, 'f', -1, 64),
		QueryCount:  strconv.Itoa(queryCount),
	}
	if sel.Model != nil {
		tile.Model = sel.Model.ID
	}
	if sel.Vector != nil {
		tile.Vector = sel.Vector.ID
	}
	if sel.Storage != nil {
		tile.Storage = sel.Storage.ID
	}
	return s.save(ctx, tile)
}

func (s *Service) save(ctx context.Context, tile app.App) (app.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.Load(ctx)
	if err != nil {
		return app.App{}, fmt.Errorf("load user apps: %w", err)
	}
	if stored == nil {
		stored = make(map[string]app.App)
	}

	tile.ID = uuid.NewString()
	if tile.Name == "" {
		tile.Name = playgroundPrefix + tile.ID
	}
	tile.DateCreated = s.now().UTC().Format(time.RFC3339)
	stored[tile.ID] = tile

	if err := s.store.Save(ctx, stored); err != nil {
		return app.App{}, fmt.Errorf("save user apps: %w", err)
	}
	s.logger.Info("app tile added", zap.String("id", tile.ID), zap.String("name", tile.Name))
	return present(tile), nil
}

func (s *Service) userApps(ctx context.Context) ([]app.App, error) {
	stored, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user apps: %w", err)
	}

	out := make([]app.App, 0, len(stored))
	for _, tile := range stored {
		if s.isDefault(tile.ID) {
			continue
		}
		out = append(out, present(tile))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateCreated != out[j].DateCreated {
			return out[i].DateCreated < out[j].DateCreated
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) projects(ctx context.Context) []app.App {
	if s.gw == nil || s.tag == "" {
		return nil
	}

	res, err := s.gw.Run(ctx, pixel.MyProjects(s.tag))
	if err == nil {
		err = res.Err("failed to load projects")
	}
	if err != nil {
		s.logger.Warn("load projects failed", zap.String("tag", s.tag), zap.Error(err))
		return nil
	}

	var projects []app.App
	if err := res.Decode(&projects); err != nil {
		s.logger.Warn("decode projects failed", zap.Error(err))
		return nil
	}
	return projects
}

func (s *Service) isDefault(id string) bool {
	for _, d := range s.defaults {
		if d.ID == id {
			return true
		}
	}
	return false
}

// present fills the derived fields of a user tile. Tiles carrying knowledge
// settings link to the chat page with those settings in the query string.
func present(tile app.App) app.App {
	if tile.Model == "" && tile.Vector == "" {
		return tile
	}
	tile.Kind = app.PlaygroundType
	tile.URL = PolicyURL(tile)
	return tile
}

// PolicyURL encodes a tile's knowledge settings as a chat page link.
func PolicyURL(tile app.App) string {
	values := url.Values{}
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	set("project_id", tile.ID)
	set("project_name", tile.Name)
	set("project_type", tile.Type)
	set("model", tile.Model)
	set("vector", tile.Vector)
	set("storage", tile.Storage)
	set("temperature", tile.Temperature)
	set("queryCount", tile.QueryCount)
	return policyRoute + values.Encode()
}

// Filter keeps tiles whose name, description or type contains query.
func Filter(tiles []app.App, query string) []app.App {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return tiles
	}
	out := make([]app.App, 0, len(tiles))
	for _, tile := range tiles {
		if strings.Contains(strings.ToLower(tile.Name), query) ||
			strings.Contains(strings.ToLower(tile.Description), query) ||
			strings.Contains(strings.ToLower(tile.Type), query) {
			out = append(out, tile)
		}
	}
	return out
}
