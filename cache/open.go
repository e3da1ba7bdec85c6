package cache

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
)

// Backend types understood by Open.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"
	TypeFile   = "file"
	TypeS3     = "s3"
	TypeNull   = "null"
)

// BackendConfig selects and configures a storage backend.
type BackendConfig struct {
	Type string `yaml:"type"`
	// Cost limit in bytes for the memory backend (0 = unlimited).
	CostLimit int64 `yaml:"costLimit"`
	// Database file for sqlite, root directory for file.
	// The file backend defaults to the user cache directory.
	Path string   `yaml:"path"`
	S3   S3Config `yaml:"s3"`
	// Logger for the memory backend. A console logger is used if nil.
	Logger *zerolog.Logger `yaml:"-"`
}

// Open creates the backend described by config. An empty type means memory.
func Open(config BackendConfig) (StorageBackend, error) {
	switch config.Type {
	case "", TypeMemory:
		opts := []MemoryOption{WithCostLimit(config.CostLimit)}
		if config.Logger != nil {
			opts = append(opts, WithLogger(config.Logger))
		}
		return NewMemoryStore(opts...), nil
	case TypeSQLite:
		return NewSQLiteStore(config.Path)
	case TypeFile:
		dir := config.Path
		if dir == "" {
			dir = filepath.Join(xdg.CacheHome, "fetchkit")
		}
		return NewDiskStore(dir)
	case TypeS3:
		return NewObjectStore(config.S3)
	case TypeNull:
		return NullStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", config.Type)
	}
}
