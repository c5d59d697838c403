package apps_test

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway/gatewaytest"
	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	kmodel "github.com/zhouzirui/knowledge-portal/backend/internal/model/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/apps"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/knowledge"
	"github.com/zhouzirui/knowledge-portal/backend/internal/store/kv"
)

func TestListCombinesDefaultsProjectsAndUserTiles(t *testing.T) {
	fake := gatewaytest.New().OnOutput("MyProjects", []map[string]any{
		{"project_id": "p1", "project_name": "Claims Review", "project_type": "Finance"},
	})
	store := app.NewMemoryStore(app.App{ID: "u1", Name: "Wiki", URL: "https://wiki", Type: "Other"})
	svc := apps.NewService(fake, store, "DHA", nil)

	tiles, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tiles, len(app.Seed())+2)
	assert.Equal(t, "Claims Review", tiles[len(tiles)-2].Name)
	assert.Equal(t, "Wiki", tiles[len(tiles)-1].Name)
	assert.Equal(t, "https://wiki", tiles[len(tiles)-1].URL)

	require.Len(t, fake.Calls(), 1)
	assert.Contains(t, fake.Calls()[0], `metaFilters=[{"tag":["DHA"]}]`)
}

func TestListDegradesWhenProjectsFail(t *testing.T) {
	fake := gatewaytest.New().OnError("MyProjects", "denied")
	svc := apps.NewService(fake, app.NewMemoryStore(), "DHA", nil)

	tiles, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, tiles, len(app.Seed()))
}

func TestListFilters(t *testing.T) {
	svc := apps.NewService(nil, app.NewMemoryStore(), "", nil)

	tiles, err := svc.List(context.Background(), "CLINICAL")
	require.NoError(t, err)
	require.NotEmpty(t, tiles)
	for _, tile := range tiles {
		assert.Equal(t, "Clinical", tile.Type)
	}

	tiles, err = svc.List(context.Background(), "supplies")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, "Medical Logistics", tiles[0].Name)
}

func TestAddValidatesAndDefaults(t *testing.T) {
	svc := apps.NewService(nil, app.NewMemoryStore(), "", nil)
	ctx := context.Background()

	_, err := svc.Add(ctx, app.App{URL: "https://x"})
	assert.ErrorIs(t, err, apps.ErrNameRequired)
	_, err = svc.Add(ctx, app.App{Name: "X"})
	assert.ErrorIs(t, err, apps.ErrURLRequired)

	added, err := svc.Add(ctx, app.App{Name: " Tracker ", URL: "https://tracker"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "Tracker", added.Name)
	assert.Equal(t, app.DefaultIcon, added.Icon)
	assert.Equal(t, app.DefaultType, added.Type)
	assert.NotEmpty(t, added.DateCreated)
}

func TestSavePlaygroundPersistsThroughKV(t *testing.T) {
	ctx := context.Background()
	db, err := kv.Open(ctx, filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	defer db.Close()

	svc := apps.NewService(nil, apps.NewKVStore(db), "", nil)
	sel := knowledge.NewSelection(kmodel.DefaultParameters())
	sel.SelectModel(&kmodel.Handle{ID: "model-1"})
	sel.SelectVectorStore(&kmodel.Handle{ID: "vec-1"})

	tile, err := svc.SavePlayground(ctx, sel.Snapshot())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tile.Name, "RAG Playground "))
	assert.Equal(t, app.PlaygroundType, tile.Kind)
	assert.Equal(t, "0.3", tile.Temperature)
	assert.Equal(t, "3", tile.QueryCount)

	require.True(t, strings.HasPrefix(tile.URL, "#/policy?"))
	query, err := url.ParseQuery(strings.TrimPrefix(tile.URL, "#/policy?"))
	require.NoError(t, err)
	assert.Equal(t, "model-1", query.Get("model"))
	assert.Equal(t, "vec-1", query.Get("vector"))
	assert.Equal(t, tile.ID, query.Get("project_id"))

	raw, err := db.Get(ctx, apps.UserAppsKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), tile.ID)

	// a fresh service over the same store sees the tile
	tiles, err := apps.NewService(nil, apps.NewKVStore(db), "", nil).List(ctx, "playground")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, tile.ID, tiles[0].ID)
}

func TestKVStoreEmpty(t *testing.T) {
	db, err := kv.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	loaded, err := apps.NewKVStore(db).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestUserTilesHideDefaultIDs(t *testing.T) {
	store := app.NewMemoryStore(app.App{ID: "1", Name: "Shadowed", URL: "#", Type: "Other"})
	svc := apps.NewService(nil, store, "", nil)

	tiles, err := svc.List(context.Background(), "shadowed")
	require.NoError(t, err)
	assert.Empty(t, tiles)
}
