package executor

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/quiverdb/quiver/internal/catalog"
	"github.com/quiverdb/quiver/internal/config"
	qerrors "github.com/quiverdb/quiver/internal/errors"
	"github.com/quiverdb/quiver/internal/heap"
	"github.com/quiverdb/quiver/internal/index"
	"github.com/quiverdb/quiver/internal/index/btree"
	"github.com/quiverdb/quiver/internal/index/exhash"
	"github.com/quiverdb/quiver/internal/index/isam"
	"github.com/quiverdb/quiver/internal/index/rtree"
	"github.com/quiverdb/quiver/internal/index/seqfile"
	"github.com/quiverdb/quiver/internal/record"
	"github.com/quiverdb/quiver/pkg/types"
)

// table is an open table: heap file, primary index, optional spatial index
// and the lock serializing mutation against reads. Reads take the lock
// shared; insert/update/delete take it exclusive, so a rebuild inside an
// index never races a concurrent search on the same table. DROP and
// quarantine eviction also take it exclusive before closing the files, and
// set closed so a statement holding a stale handle is refused rather than
// read from a closed heap.
type table struct {
	meta    *catalog.TableMeta
	codec   *record.Codec
	heap    *heap.File
	primary index.Index
	spatial *rtree.Tree // nil when the schema has no R-tree field
	mu      sync.RWMutex
	closed  bool // set under mu when the handle is evicted
}

// openTable opens a table's files per its catalog row, rebuilding any index
// whose persisted image is missing or unreadable from the data file.
func openTable(cfg *config.Config, meta *catalog.TableMeta) (*table, error) {
	codec, err := record.NewCodec(meta.Schema)
	if err != nil {
		return nil, err
	}
	dir := cfg.TableDir()
	h, err := heap.Open(meta.DataPath(dir), codec, cfg.Cache.RecordEntries)
	if err != nil {
		return nil, err
	}

	t := &table{meta: meta, codec: codec, heap: h}

	t.primary, err = openPrimary(cfg, meta)
	if err != nil {
		if !qerrors.IsCategory(err, qerrors.ErrCategoryStorage) {
			h.Close()
			return nil, err
		}
		// Unreadable image: fall back to a rebuild from the data file.
		log.Printf("Rebuilding %s index for table %q from data file", meta.IndexKind, meta.Name)
		t.primary = newPrimary(cfg, meta)
		if err := t.rebuildPrimary(); err != nil {
			h.Close()
			return nil, err
		}
	}

	if _, _, ok := meta.Schema.SpatialField(); ok {
		t.spatial, err = rtree.Open(meta.SpatialPath(dir), cfg.RTree.MaxEntries)
		if err != nil {
			if !qerrors.IsCategory(err, qerrors.ErrCategoryStorage) {
				h.Close()
				return nil, err
			}
			log.Printf("Rebuilding R-tree index for table %q from data file", meta.Name)
			t.spatial = rtree.New(meta.SpatialPath(dir), cfg.RTree.MaxEntries)
			if err := t.rebuildSpatial(); err != nil {
				h.Close()
				return nil, err
			}
		}
	}

	return t, nil
}

func openPrimary(cfg *config.Config, meta *catalog.TableMeta) (index.Index, error) {
	path := meta.IndexPath(cfg.TableDir())
	switch meta.IndexKind {
	case types.IndexBTree:
		return btree.Open(path, cfg.BTree.Order)
	case types.IndexHash:
		return exhash.Open(path, cfg.Hash.BucketCapacity, cfg.Hash.MaxGlobalDepth)
	case types.IndexISAM:
		return isam.Open(path, cfg.ISAM.BlockFactor, cfg.ISAM.RebuildRatio)
	case types.IndexSequential:
		return seqfile.Open(path, cfg.Sequential.SparseInterval, cfg.Sequential.ReorganizeFraction)
	default:
		return nil, qerrors.NewSchemaError(qerrors.CodeInvalidSchema,
			"table has no primary index kind")
	}
}

func newPrimary(cfg *config.Config, meta *catalog.TableMeta) index.Index {
	path := meta.IndexPath(cfg.TableDir())
	switch meta.IndexKind {
	case types.IndexHash:
		return exhash.New(path, cfg.Hash.BucketCapacity, cfg.Hash.MaxGlobalDepth)
	case types.IndexISAM:
		return isam.New(path, cfg.ISAM.BlockFactor, cfg.ISAM.RebuildRatio)
	case types.IndexSequential:
		return seqfile.New(path, cfg.Sequential.SparseInterval, cfg.Sequential.ReorganizeFraction)
	default:
		return btree.New(path, cfg.BTree.Order)
	}
}

// rebuildPrimary repopulates the primary index by scanning every live record
// in the data file.
func (t *table) rebuildPrimary() error {
	var entries []index.Entry
	err := t.heap.Scan(func(pos int64, values []types.Value) error {
		entries = append(entries, index.Entry{Key: t.codec.Key(values), Pos: pos})
		return nil
	})
	if err != nil {
		return err
	}
	loader, ok := t.primary.(index.Loader)
	if !ok {
		return qerrors.NewInternalError("primary index cannot bulk load", nil)
	}
	if err := loader.Bulk(entries); err != nil {
		return err
	}
	return t.primary.Flush()
}

// rebuildSpatial repopulates the R-tree from the data file.
func (t *table) rebuildSpatial() error {
	_, idx, ok := t.meta.Schema.SpatialField()
	if !ok {
		return nil
	}
	var items []rtree.Item
	err := t.heap.Scan(func(pos int64, values []types.Value) error {
		items = append(items, rtree.Item{Point: values[idx].Point, Pos: pos})
		return nil
	})
	if err != nil {
		return err
	}
	if err := t.spatial.Bulk(items); err != nil {
		return err
	}
	return t.spatial.Flush()
}

// flushIndexes persists both index images after a mutation.
func (t *table) flushIndexes() error {
	if err := t.primary.Flush(); err != nil {
		return err
	}
	if t.spatial != nil {
		return t.spatial.Flush()
	}
	return nil
}

// close releases the heap file. Index images are flushed by mutations.
func (t *table) close() error {
	return t.heap.Close()
}

// usable rejects statements whose handle lost a race against a DROP or a
// quarantine eviction. The caller holds the table lock. Retrying the
// statement resolves the table afresh through the catalog.
func (t *table) usable() error {
	if t.closed {
		return qerrors.NewSchemaError(qerrors.CodeUnknownTable,
			fmt.Sprintf("table %q is no longer open", t.meta.Name))
	}
	return nil
}

// removeFiles deletes the table's on-disk artifacts.
func (t *table) removeFiles(dir string) {
	os.Remove(t.meta.DataPath(dir))
	os.Remove(t.meta.IndexPath(dir))
	os.Remove(t.meta.SpatialPath(dir))
}
