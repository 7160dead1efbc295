// Package store persists resolved glosses between runs so that a phrase is
// translated once per machine rather than once per document.
//
// Three backends are provided: a YAML file next to the configuration
// (File), an SQLite database (SQLite) and a shared Redis instance (Redis).
package store

import (
	"context"
	"fmt"
	"time"
)

// Store is a persistent phrase → gloss map.
type Store interface {
	// Lookup returns the glosses known for phrases. Unknown phrases are
	// simply absent from the result.
	Lookup(ctx context.Context, phrases []string) (map[string]string, error)
	// Save records glosses, replacing earlier ones.
	Save(ctx context.Context, glosses map[string]string) error
	// Close releases the backend.
	Close() error
}

// Backend kinds accepted by Open.
const (
	KindNone   = "none"
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// DefaultFileName is the file store used when no path is configured.
const DefaultFileName = ".kataterm.glosses.yaml"

// Config selects and configures a backend.
type Config struct {
	Kind string
	// Path is the file or database path (file, sqlite).
	Path string
	// URL is the redis:// URL (redis).
	URL string
	// TTL expires Redis entries; zero keeps them forever.
	TTL time.Duration
}

// Open returns the backend cfg names. Kind "" and "none" return a nil Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindFile:
		path := cfg.Path
		if path == "" {
			path = DefaultFileName
		}
		f, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case KindSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store needs a path")
		}
		db, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case KindRedis:
		if cfg.URL == "" {
			return nil, fmt.Errorf("redis store needs a url")
		}
		r, err := OpenRedis(ctx, cfg.URL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q (expected %s, %s, %s or %s)",
			cfg.Kind, KindNone, KindFile, KindSQLite, KindRedis)
	}
}
