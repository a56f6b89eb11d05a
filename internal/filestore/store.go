package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/kbchat/internal/config"
)

// Store keeps raw uploads so that file knowledge items can be re-read when
// they are re-embedded. Keys are flat names without path separators.
type Store interface {
	Type() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Factory func(args interface{}) (Store, error)

var factories sync.Map

func Register(name string, factory Factory) {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" && factory != nil {
		factories.Store(name, factory)
	}
}

func New(cfg config.FileStoreConfig) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Type))
	v, ok := factories.Load(name)
	if !ok {
		return nil, fmt.Errorf("unsupported file store type %q, want one of %s", cfg.Type, strings.Join(storeTypes(), ", "))
	}
	return v.(Factory)(cfg.Data)
}

func storeTypes() []string {
	var out []string
	factories.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

// decodeConfig round-trips the free-form config block through json into
// the backend's typed settings.
func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("file_store.data is required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode file_store.data: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode file_store.data: %w", err)
	}
	return nil
}
