// Package config provides unified configuration for the Quiver engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration. Zero-valued fields are filled in by
// Resolve with the defaults below.
type Config struct {
	// DataDir is the base directory for catalog, data, and index files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// BTree configuration
	BTree BTreeConfig `json:"btree" yaml:"btree"`

	// Hash configuration
	Hash HashConfig `json:"hash" yaml:"hash"`

	// ISAM configuration
	ISAM ISAMConfig `json:"isam" yaml:"isam"`

	// Sequential-file configuration
	Sequential SequentialConfig `json:"sequential" yaml:"sequential"`

	// RTree configuration
	RTree RTreeConfig `json:"rtree" yaml:"rtree"`

	// Cache configuration
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// BTreeConfig holds B+ tree tuning.
type BTreeConfig struct {
	// Order is the maximum number of children per internal node
	Order int `json:"order" yaml:"order"`
}

// HashConfig holds extendible-hashing tuning.
type HashConfig struct {
	// BucketCapacity is the fixed number of entries per bucket
	BucketCapacity int `json:"bucket_capacity" yaml:"bucket_capacity"`

	// MaxGlobalDepth bounds directory doubling
	MaxGlobalDepth int `json:"max_global_depth" yaml:"max_global_depth"`
}

// ISAMConfig holds ISAM tuning.
type ISAMConfig struct {
	// BlockFactor is the number of entries per primary block and index page
	BlockFactor int `json:"block_factor" yaml:"block_factor"`

	// RebuildRatio is the overflow/primary ratio that triggers a rebuild
	RebuildRatio float64 `json:"rebuild_ratio" yaml:"rebuild_ratio"`
}

// SequentialConfig holds sequential-file tuning.
type SequentialConfig struct {
	// SparseInterval is K: one sparse index entry per K primary entries
	SparseInterval int `json:"sparse_interval" yaml:"sparse_interval"`

	// ReorganizeFraction is the overflow/primary fraction that triggers a merge
	ReorganizeFraction float64 `json:"reorganize_fraction" yaml:"reorganize_fraction"`
}

// RTreeConfig holds R-tree tuning.
type RTreeConfig struct {
	// MaxEntries is M, the maximum fan-out per node (minimum is M/2)
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// CacheConfig holds the heap read-cache tuning.
type CacheConfig struct {
	// RecordEntries is the number of records the read cache may hold;
	// zero disables the cache
	RecordEntries int64 `json:"record_entries" yaml:"record_entries"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/quiver",
		BTree: BTreeConfig{
			Order: 8,
		},
		Hash: HashConfig{
			BucketCapacity: 4,
			MaxGlobalDepth: 20,
		},
		ISAM: ISAMConfig{
			BlockFactor:  64,
			RebuildRatio: 0.5,
		},
		Sequential: SequentialConfig{
			SparseInterval:     16,
			ReorganizeFraction: 0.5,
		},
		RTree: RTreeConfig{
			MaxEntries: 8,
		},
		Cache: CacheConfig{
			RecordEntries: 4096,
		},
	}
}

// Resolve fills zero-valued fields with defaults.
func (c *Config) Resolve() {
	def := DefaultConfig()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.BTree.Order == 0 {
		c.BTree.Order = def.BTree.Order
	}
	if c.Hash.BucketCapacity == 0 {
		c.Hash.BucketCapacity = def.Hash.BucketCapacity
	}
	if c.Hash.MaxGlobalDepth == 0 {
		c.Hash.MaxGlobalDepth = def.Hash.MaxGlobalDepth
	}
	if c.ISAM.BlockFactor == 0 {
		c.ISAM.BlockFactor = def.ISAM.BlockFactor
	}
	if c.ISAM.RebuildRatio == 0 {
		c.ISAM.RebuildRatio = def.ISAM.RebuildRatio
	}
	if c.Sequential.SparseInterval == 0 {
		c.Sequential.SparseInterval = def.Sequential.SparseInterval
	}
	if c.Sequential.ReorganizeFraction == 0 {
		c.Sequential.ReorganizeFraction = def.Sequential.ReorganizeFraction
	}
	if c.RTree.MaxEntries == 0 {
		c.RTree.MaxEntries = def.RTree.MaxEntries
	}
}

// CatalogPath returns the path to the catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// TableDir returns the directory holding per-table data and index files.
func (c *Config) TableDir() string {
	return filepath.Join(c.DataDir, "tables")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BTree.Order < 3 {
		return fmt.Errorf("btree.order must be at least 3, got %d", c.BTree.Order)
	}
	if c.Hash.BucketCapacity < 1 {
		return fmt.Errorf("hash.bucket_capacity must be at least 1, got %d", c.Hash.BucketCapacity)
	}
	if c.Hash.MaxGlobalDepth < 1 || c.Hash.MaxGlobalDepth > 30 {
		return fmt.Errorf("hash.max_global_depth must be between 1 and 30, got %d", c.Hash.MaxGlobalDepth)
	}
	if c.ISAM.BlockFactor < 2 {
		return fmt.Errorf("isam.block_factor must be at least 2, got %d", c.ISAM.BlockFactor)
	}
	if c.ISAM.RebuildRatio <= 0 {
		return fmt.Errorf("isam.rebuild_ratio must be positive, got %g", c.ISAM.RebuildRatio)
	}
	if c.Sequential.SparseInterval < 1 {
		return fmt.Errorf("sequential.sparse_interval must be at least 1, got %d", c.Sequential.SparseInterval)
	}
	if c.Sequential.ReorganizeFraction <= 0 {
		return fmt.Errorf("sequential.reorganize_fraction must be positive, got %g", c.Sequential.ReorganizeFraction)
	}
	if c.RTree.MaxEntries < 4 {
		return fmt.Errorf("rtree.max_entries must be at least 4, got %d", c.RTree.MaxEntries)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the QUIVER_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QUIVER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QUIVER_BTREE_ORDER"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.BTree.Order)
	}
	if v := os.Getenv("QUIVER_HASH_BUCKET_CAPACITY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Hash.BucketCapacity)
	}
	if v := os.Getenv("QUIVER_ISAM_BLOCK_FACTOR"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.ISAM.BlockFactor)
	}
	if v := os.Getenv("QUIVER_ISAM_REBUILD_RATIO"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.ISAM.RebuildRatio)
	}
	if v := os.Getenv("QUIVER_SEQUENTIAL_SPARSE_INTERVAL"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Sequential.SparseInterval)
	}
	if v := os.Getenv("QUIVER_SEQUENTIAL_REORGANIZE_FRACTION"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Sequential.ReorganizeFraction)
	}
	if v := os.Getenv("QUIVER_RTREE_MAX_ENTRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.RTree.MaxEntries)
	}
	if v := os.Getenv("QUIVER_CACHE_RECORD_ENTRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Cache.RecordEntries)
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.TableDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
