// Package badger implements store.Store on an embedded BadgerDB.
//
// A single database can hold many images: every key is stored under the
// configured prefix.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/simonhull/bfio/internal/store"
)

// Config configures a badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// Prefix namespaces every key, e.g. "images/plate1.zarr/".
	Prefix string

	// InMemory keeps the database in memory only.
	InMemory bool

	// BlockCacheMB sizes the block cache (default 64).
	BlockCacheMB int64
}

// Store wraps a badger.DB.
type Store struct {
	db     *badger.DB
	prefix string
	where  string
}

// New opens the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Chunks arrive compressed by the array codec.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	where := "badger:" + cfg.Path
	if cfg.InMemory {
		where = "badger:memory"
	}
	return &Store{db: db, prefix: cfg.Prefix, where: where + "/" + cfg.Prefix}, nil
}

func (s *Store) dbKey(key string) []byte {
	return []byte(s.prefix + key)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.dbKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("key %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !store.ValidKey(key) {
		return fmt.Errorf("invalid key %q", key)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.dbKey(key), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.dbKey(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Rewind(); it.Valid(); it.Next() {
			count++
			if count%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), s.prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *Store) Location() string { return s.where }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
