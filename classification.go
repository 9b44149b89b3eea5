package pyindex

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/jward/pyindex/internal/logging"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// InvalidationPolicy decides what a ClassificationCache does when the
// engine reports an index write.
type InvalidationPolicy int

const (
	// InvalidateNever keeps cached scans for the life of the process.
	// Reindexed libraries are not reflected until restart.
	InvalidateNever InvalidationPolicy = iota
	// InvalidateOnReindex drops every cached scan when indexing changes
	// stored documents.
	InvalidateOnReindex
)

func (p InvalidationPolicy) String() string {
	if p == InvalidateOnReindex {
		return "reindex"
	}
	return "never"
}

// ClassificationCache memoizes the whole-index scans behind system-module
// classification, lower-case class detection and wildcard-import expansion
// of system modules.
//
// Scans run outside the lock. Two callers that both miss run the same scan
// and store equal results; a scan that started before an invalidation is
// discarded instead of stored.
type ClassificationCache struct {
	backend Backend
	policy  InvalidationPolicy
	logger  *slog.Logger

	mu         sync.RWMutex
	generation uint64
	system     map[string]bool
	lowercase  map[string]bool
	wildcards  map[string][]string

	scans atomic.Int64
}

// NewClassificationCache creates an empty cache scanning backend. A nil
// logger discards output.
func NewClassificationCache(backend Backend, policy InvalidationPolicy, logger *slog.Logger) *ClassificationCache {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &ClassificationCache{
		backend:   backend,
		policy:    policy,
		logger:    logger,
		wildcards: make(map[string][]string),
	}
}

// Policy returns the cache's invalidation policy.
func (c *ClassificationCache) Policy() InvalidationPolicy { return c.policy }

// Scans returns how many full scans the cache has run.
func (c *ClassificationCache) Scans() int64 { return c.scans.Load() }

// Invalidate is the reindex hook. It clears the cache under
// InvalidateOnReindex and reports whether it did.
func (c *ClassificationCache) Invalidate() bool {
	if c.policy != InvalidateOnReindex {
		return false
	}
	c.Reset()
	return true
}

// Reset clears the cache regardless of policy.
func (c *ClassificationCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.system = nil
	c.lowercase = nil
	c.wildcards = make(map[string][]string)
}

// IsSystemModule reports whether module was indexed from a system root.
func (c *ClassificationCache) IsSystemModule(module string) bool {
	c.mu.RLock()
	set, gen := c.system, c.generation
	c.mu.RUnlock()
	if set == nil {
		var ok bool
		set, ok = c.scanSystemModules()
		if ok {
			c.mu.Lock()
			if c.generation == gen {
				c.system = set
			}
			c.mu.Unlock()
		}
	}
	return set[module]
}

// IsLowercaseClassName reports whether name is an indexed class whose
// name does not start with an upper-case letter.
func (c *ClassificationCache) IsLowercaseClassName(name string) bool {
	c.mu.RLock()
	set, gen := c.lowercase, c.generation
	c.mu.RUnlock()
	if set == nil {
		var ok bool
		set, ok = c.scanLowercaseClasses()
		if ok {
			c.mu.Lock()
			if c.generation == gen {
				c.lowercase = set
			}
			c.mu.Unlock()
		}
	}
	return set[name]
}

// WildcardImports returns the cached wildcard exports of module, calling
// build on a miss. build must not fail; an empty result is cached like any
// other.
func (c *ClassificationCache) WildcardImports(module string, build func() []string) []string {
	c.mu.RLock()
	syms, ok := c.wildcards[module]
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return syms
	}

	syms = build()
	c.mu.Lock()
	if c.generation == gen {
		c.wildcards[module] = syms
	}
	c.mu.Unlock()
	return syms
}

func (c *ClassificationCache) scanSystemModules() (map[string]bool, bool) {
	c.scans.Add(1)
	results, err := c.backend.Query(store.FieldModule, "", Prefix, store.FieldModAttrs, store.FieldModule)
	if err != nil {
		c.logger.Debug("system module scan failed", "error", err)
		return nil, false
	}
	set := make(map[string]bool)
	for _, r := range results {
		if signature.DecodeModuleAttrs(r.Value(store.FieldModAttrs)).System {
			set[r.Value(store.FieldModule)] = true
		}
	}
	c.logger.Debug("scanned system modules", "count", len(set))
	return set, true
}

func (c *ClassificationCache) scanLowercaseClasses() (map[string]bool, bool) {
	c.scans.Add(1)
	results, err := c.backend.Query(store.FieldClass, "", Prefix, store.FieldClass)
	if err != nil {
		c.logger.Debug("class scan failed", "error", err)
		return nil, false
	}
	set := make(map[string]bool)
	for _, r := range results {
		name := r.Value(store.FieldClass)
		if name == "" {
			continue
		}
		if first, _ := utf8.DecodeRuneInString(name); !unicode.IsUpper(first) {
			set[name] = true
		}
	}
	return set, true
}
