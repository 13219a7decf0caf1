package bfio

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simonhull/bfio/internal/layout"
	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/ome"
	"github.com/simonhull/bfio/internal/store"
	"github.com/simonhull/bfio/internal/store/badger"
	fsstore "github.com/simonhull/bfio/internal/store/fs"
	"github.com/simonhull/bfio/internal/store/memory"
	"github.com/simonhull/bfio/internal/store/s3"
)

// Store is the key/value namespace Zarr images live in.
type Store = store.Store

// S3Config describes a bucket for NewS3Store.
type S3Config = s3.Config

// BadgerConfig describes a database for NewBadgerStore.
type BadgerConfig = badger.Config

// NewFileStore returns a store rooted at a directory.
func NewFileStore(root string) Store { return fsstore.New(root) }

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() Store { return memory.New() }

// NewS3Store returns a store backed by one bucket and key prefix.
func NewS3Store(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, cfg)
}

// NewBadgerStore opens an embedded badger database as a store.
func NewBadgerStore(ctx context.Context, cfg BadgerConfig) (Store, error) {
	return badger.New(ctx, cfg)
}

// Cache holds decoded chunks and may be shared by many images.
type Cache = layout.Cache

// NewCache returns a chunk cache bounded to maxBytes of decoded data.
func NewCache(maxBytes int64) (*Cache, error) {
	return layout.NewCache(maxBytes, nil)
}

// NewMetricsCache is NewCache with hit/miss counters registered on reg.
func NewMetricsCache(maxBytes int64, reg prometheus.Registerer) (*Cache, error) {
	return layout.NewCache(maxBytes, metrics.New(reg))
}

// RepairRule rewrites malformed OME-XML before a second parse attempt.
type RepairRule = ome.Rule

// DefaultRepairRules returns the built-in OME-XML repair rules in order.
func DefaultRepairRules() []RepairRule { return ome.DefaultRules() }

// NewRepairRule builds a rule replacing every match of pattern with repl.
func NewRepairRule(name, pattern, repl string) RepairRule {
	return ome.ReplaceRule(name, pattern, repl)
}
