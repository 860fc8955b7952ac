package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveFillsDefaults(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/x"}
	cfg.Resolve()
	def := DefaultConfig()

	if cfg.DataDir != "/tmp/x" {
		t.Fatalf("data dir overwritten: %s", cfg.DataDir)
	}
	if cfg.BTree.Order != def.BTree.Order || cfg.Hash.BucketCapacity != def.Hash.BucketCapacity {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ISAM.RebuildRatio != def.ISAM.RebuildRatio || cfg.RTree.MaxEntries != def.RTree.MaxEntries {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	// Explicit values survive Resolve.
	cfg = &Config{BTree: BTreeConfig{Order: 32}}
	cfg.Resolve()
	if cfg.BTree.Order != 32 {
		t.Fatalf("explicit order overwritten: %d", cfg.BTree.Order)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"btree order too small", func(c *Config) { c.BTree.Order = 2 }, "btree.order"},
		{"zero bucket capacity", func(c *Config) { c.Hash.BucketCapacity = 0 }, "bucket_capacity"},
		{"depth out of range", func(c *Config) { c.Hash.MaxGlobalDepth = 31 }, "max_global_depth"},
		{"block factor too small", func(c *Config) { c.ISAM.BlockFactor = 1 }, "block_factor"},
		{"negative rebuild ratio", func(c *Config) { c.ISAM.RebuildRatio = -1 }, "rebuild_ratio"},
		{"zero sparse interval", func(c *Config) { c.Sequential.SparseInterval = 0 }, "sparse_interval"},
		{"rtree fan-out too small", func(c *Config) { c.RTree.MaxEntries = 3 }, "max_entries"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	yaml := "data_dir: /data/q\nbtree:\n  order: 16\nhash:\n  bucket_capacity: 8\n"
	if err := os.WriteFile(yamlPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err := LoadFromFile(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.DataDir != "/data/q" || cfg.BTree.Order != 16 || cfg.Hash.BucketCapacity != 8 {
		t.Fatalf("yaml config = %+v", cfg)
	}
	// Unmentioned sections keep their defaults.
	if cfg.RTree.MaxEntries != DefaultConfig().RTree.MaxEntries {
		t.Fatalf("rtree default lost: %+v", cfg.RTree)
	}

	jsonPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(jsonPath, []byte(`{"data_dir":"/data/j","isam":{"block_factor":32}}`), 0644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	cfg, err = LoadFromFile(jsonPath)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if cfg.DataDir != "/data/j" || cfg.ISAM.BlockFactor != 32 {
		t.Fatalf("json config = %+v", cfg)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "config.toml")); err == nil {
		t.Fatal("expected unsupported-format error")
	}
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected read error for missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUIVER_DATA_DIR", "/env/data")
	t.Setenv("QUIVER_BTREE_ORDER", "12")
	t.Setenv("QUIVER_SEQUENTIAL_REORGANIZE_FRACTION", "0.75")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.DataDir != "/env/data" || cfg.BTree.Order != 12 {
		t.Fatalf("env config = %+v", cfg)
	}
	if cfg.Sequential.ReorganizeFraction != 0.75 {
		t.Fatalf("fraction = %g", cfg.Sequential.ReorganizeFraction)
	}
}

func TestPathsAndDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	if cfg.CatalogPath() != filepath.Join(cfg.DataDir, "catalog.db") {
		t.Fatalf("catalog path = %s", cfg.CatalogPath())
	}
	if cfg.TableDir() != filepath.Join(cfg.DataDir, "tables") {
		t.Fatalf("table dir = %s", cfg.TableDir())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	info, err := os.Stat(cfg.TableDir())
	if err != nil || !info.IsDir() {
		t.Fatalf("table dir not created: %v", err)
	}
}
