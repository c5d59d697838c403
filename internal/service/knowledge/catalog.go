package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/pixel"
)

var ErrVectorNameRequired = errors.New("vector database name is required")

const createVectorFallback = "There was an error creating your vector DB, please check pixel calls"

// Config carries the catalog defaults.
type Config struct {
	DefaultModelID   string
	DefaultStorageID string
	EmbedderEngineID string
}

// Engines groups the handles available to the user.
type Engines struct {
	Models   []knowledge.Handle `json:"models"`
	Vectors  []knowledge.Handle `json:"vectors"`
	Storages []knowledge.Handle `json:"storages"`
}

// Catalog enumerates and provisions engines through the gateway.
type Catalog struct {
	gw     gateway.Runner
	cfg    Config
	logger *zap.Logger
}

// NewCatalog creates a catalog over gw.
func NewCatalog(gw gateway.Runner, cfg Config, logger *zap.Logger) *Catalog {
	return &Catalog{gw: gw, cfg: cfg, logger: logging.OrNop(logger)}
}

type engineRecord struct {
	DatabaseID   string `json:"database_id"`
	DatabaseName string `json:"database_name"`
	DatabaseType string `json:"database_type"`
	AppID        string `json:"app_id"`
	AppName      string `json:"app_name"`
}

func (r engineRecord) handle(engineType pixel.EngineType) knowledge.Handle {
	h := knowledge.Handle{ID: r.DatabaseID, DisplayName: r.DatabaseName, Type: engineType}
	if h.ID == "" {
		h.ID = r.AppID
	}
	if h.DisplayName == "" {
		h.DisplayName = r.AppName
	}
	if h.DisplayName == "" {
		h.DisplayName = h.ID
	}
	return h
}

// Engines lists the handles of one engine type.
func (c *Catalog) Engines(ctx context.Context, engineType pixel.EngineType) ([]knowledge.Handle, error) {
	res, err := c.gw.Run(ctx, pixel.MyEngines(engineType))
	if err != nil {
		return nil, fmt.Errorf("list %s engines: %w", engineType, err)
	}
	if err := res.Err(fmt.Sprintf("failed to list %s engines", engineType)); err != nil {
		return nil, err
	}

	handles := make([]knowledge.Handle, 0)
	for _, raw := range res.Array() {
		var rec engineRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			c.logger.Debug("skipping malformed engine record", zap.String("type", string(engineType)), zap.Error(err))
			continue
		}
		h := rec.handle(engineType)
		if h.ID == "" {
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// LoadAll fetches models, vector stores and storage engines concurrently.
func (c *Catalog) LoadAll(ctx context.Context) (Engines, error) {
	var engines Engines
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		handles, err := c.Engines(gctx, pixel.EngineModel)
		engines.Models = handles
		return err
	})
	g.Go(func() error {
		handles, err := c.Engines(gctx, pixel.EngineVector)
		engines.Vectors = handles
		return err
	})
	g.Go(func() error {
		handles, err := c.Engines(gctx, pixel.EngineStorage)
		engines.Storages = handles
		return err
	})

	if err := g.Wait(); err != nil {
		return Engines{}, err
	}
	return engines, nil
}

// VectorStores re-fetches the vector store list and clears the refresh flag.
func (c *Catalog) VectorStores(ctx context.Context, sel *Selection) ([]knowledge.Handle, error) {
	handles, err := c.Engines(ctx, pixel.EngineVector)
	if err != nil {
		return nil, err
	}
	sel.ConsumeRefresh()
	return handles, nil
}

// ApplyDefaults selects a model and storage engine when none is chosen yet:
// the configured default when available, otherwise the first listed.
// Vector stores are never selected implicitly.
func (c *Catalog) ApplyDefaults(sel *Selection, engines Engines) {
	if sel.Model() == nil {
		if h := pick(engines.Models, c.cfg.DefaultModelID); h != nil {
			sel.SelectModel(h)
		}
	}
	if sel.Storage() == nil {
		if h := pick(engines.Storages, c.cfg.DefaultStorageID); h != nil {
			sel.SelectStorage(h)
		}
	}
}

// CreateVectorStore provisions a FAISS vector store named name, selects it
// and marks the vector list for refresh.
func (c *Catalog) CreateVectorStore(ctx context.Context, sel *Selection, name string) (*knowledge.Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrVectorNameRequired
	}

	details := pixel.DefaultVectorStoreDetails(name, c.cfg.EmbedderEngineID)
	res, err := c.gw.Run(ctx, pixel.CreateVectorDatabase(details))
	if err != nil {
		return nil, fmt.Errorf("create vector database: %w", err)
	}
	if err := res.Err(createVectorFallback); err != nil {
		return nil, err
	}

	h := createdHandle(res, name)
	sel.SelectVectorStore(&h)
	sel.MarkRefresh()

	c.logger.Info("vector database created", zap.String("id", h.ID), zap.String("name", name))
	return &h, nil
}

func createdHandle(res gateway.Result, name string) knowledge.Handle {
	var rec engineRecord
	if err := res.Decode(&rec); err == nil {
		if h := rec.handle(pixel.EngineVector); h.ID != "" {
			return h
		}
	}
	var id string
	if err := res.Decode(&id); err == nil && id != "" {
		return knowledge.Handle{ID: id, DisplayName: name, Type: pixel.EngineVector}
	}
	return knowledge.Handle{ID: name, DisplayName: name, Type: pixel.EngineVector}
}

func pick(handles []knowledge.Handle, preferredID string) *knowledge.Handle {
	if len(handles) == 0 {
		return nil
	}
	if preferredID != "" {
		for i := range handles {
			if handles[i].ID == preferredID {
				return &handles[i]
			}
		}
	}
	return &handles[0]
}
