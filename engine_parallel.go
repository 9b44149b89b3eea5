package pyindex

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jward/pyindex/internal/store"
)

// workItem holds everything a build worker needs for one file.
type workItem struct {
	file sourceFile
	src  []byte
	hash string
	// previous is a stale location of the same file to delete after the
	// write, set when the file moved under a system root.
	previous string
}

// indexFilesParallel indexes files in three phases:
//
//	Phase A (serial):   classify, read, hash check.
//	Phase B (parallel): parse and build documents into a shared batch.
//	Phase C (serial):   commit the batch in one transaction.
func (e *Engine) indexFilesParallel(ctx context.Context, paths []string) error {
	var errs []error

	// ---- Phase A: Serial file preparation ----
	var items []workItem
	for _, path := range paths {
		item, skip, err := e.prepareFile(path)
		if err != nil {
			e.logger.Warn("index failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("prepare %s: %w", path, err))
			continue
		}
		if skip {
			continue
		}
		items = append(items, item)
	}

	// ---- Phase B: Parallel build ----
	batch := store.NewBatchedStore(e.store)
	var (
		mu      sync.Mutex
		changed atomic.Bool
	)
	if len(items) > 0 {
		workers := e.workers
		if workers <= 0 {
			workers = goruntime.NumCPU()
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(workers, len(items)))
		for _, item := range items {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				docs, err := e.buildDocuments(gctx, item.file, item.src)
				if err == nil {
					var c bool
					c, err = e.writeFile(batch, item.file, item.hash, docs)
					if c {
						changed.Store(true)
					}
				}
				if err != nil {
					// A bad file does not stop the others.
					e.logger.Warn("index failed", "path", item.file.path, "error", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("build %s: %w", item.file.path, err))
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// ---- Phase C: Serial commit ----
	if err := e.store.CommitBatch(batch); err != nil {
		return fmt.Errorf("pyindex: %w", err)
	}
	for _, item := range items {
		e.forget(item.file.location)
		if item.previous != "" {
			if err := e.dropPrevious(item.previous); err != nil {
				errs = append(errs, err)
			}
			changed.Store(true)
		}
	}
	e.afterWrite(changed.Load())
	e.logger.Info("indexed files", "requested", len(paths), "built", len(items), "errors", len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("parallel indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// prepareFile does Phase A work for a single file. skip=true means the
// file is unsupported, or neither its content nor its classification
// changed.
func (e *Engine) prepareFile(path string) (workItem, bool, error) {
	sf, ok := e.classify(path)
	if !ok {
		return workItem{}, true, nil
	}

	content, err := os.ReadFile(sf.path)
	if err != nil {
		return workItem{}, false, fmt.Errorf("read file: %w", err)
	}
	hash := sf.fingerprint(content)

	existing, err := e.store.FileByLocation(sf.location)
	if err != nil {
		return workItem{}, false, fmt.Errorf("lookup file: %w", err)
	}
	if existing != nil && existing.Hash == hash {
		return workItem{}, true, nil // unchanged
	}
	item := workItem{file: sf, src: content, hash: hash}
	if prev := sf.previousLocation(); prev != "" {
		old, err := e.store.FileByLocation(prev)
		if err != nil {
			return workItem{}, false, fmt.Errorf("lookup file: %w", err)
		}
		if old != nil {
			item.previous = prev
		}
	}
	return item, false, nil
}
