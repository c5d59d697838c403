package apps

import (
	"context"
	"errors"

	"github.com/zhouzirui/knowledge-portal/backend/internal/model/app"
	"github.com/zhouzirui/knowledge-portal/backend/internal/store/kv"
)

// UserAppsKey is the key-value entry holding user tiles.
const UserAppsKey = "portal.userApps"

// KVStore keeps user tiles as one JSON object keyed by tile ID.
type KVStore struct {
	kv *kv.Store
}

var _ app.Store = (*KVStore)(nil)

// NewKVStore adapts a key-value store to app.Store.
func NewKVStore(store *kv.Store) *KVStore {
	return &KVStore{kv: store}
}

// Load implements app.Store; a missing entry is an empty set.
func (s *KVStore) Load(ctx context.Context) (map[string]app.App, error) {
	apps := make(map[string]app.App)
	if err := s.kv.GetJSON(ctx, UserAppsKey, &apps); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]app.App{}, nil
		}
		return nil, err
	}
	return apps, nil
}

// Save implements app.Store.
func (s *KVStore) Save(ctx context.Context, apps map[string]app.App) error {
	return s.kv.PutJSON(ctx, UserAppsKey, apps)
}
