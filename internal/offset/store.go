package offset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
)

// ErrPersistence wraps every failure to durably write a position.
var ErrPersistence = errors.New("offset persistence failed")

// Record maps a tracked file identity to its last confirmed position.
type Record map[string]internal.Position

// Clone returns a copy that can be mutated without touching r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store persists positions. Only positions of acknowledged uploads may be committed.
type Store interface {
	// Load returns the persisted record. Absent or corrupt data yields an empty record.
	Load(ctx context.Context) (Record, error)
	// Commit atomically persists the position of one file.
	Commit(ctx context.Context, id string, pos internal.Position) error
	// Prune removes positions not updated since olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

const (
	TypeJSON   = "json"
	TypeSQLite = "sqlite"
	TypeBolt   = "bolt"
)

// DefaultTokenFile is the token file name inside the logs directory.
const DefaultTokenFile = "lastToken.json"

// Open creates a store of the given type. path is the token file; the sqlite and bolt backends
// replace its extension with .db and .bolt.
func Open(storeType, path string) (Store, error) {
	switch strings.ToLower(storeType) {
	case "", TypeJSON:
		return NewJSONStore(path)
	case TypeSQLite:
		return NewSQLiteStore(swapExt(path, ".db"))
	case TypeBolt:
		return NewBoltStore(swapExt(path, ".bolt"))
	default:
		return nil, fmt.Errorf("unknown offset store type: %s", storeType)
	}
}

func swapExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
