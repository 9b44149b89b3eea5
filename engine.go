package pyindex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/pyindex/internal/extract"
	"github.com/jward/pyindex/internal/logging"
	"github.com/jward/pyindex/internal/runtime"
	"github.com/jward/pyindex/internal/scopes"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// Engine orchestrates indexing: file discovery, change detection, document
// building, and query access.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	policy *runtime.Policy
	cache  *ClassificationCache
	roots  systemRoots

	rootPaths    []string
	policyScript string
	invalidation InvalidationPolicy

	// useParallel enables the parallel build pipeline.
	useParallel bool
	workers     int

	mu      sync.Mutex
	indexes map[string]*Index // per-file query façades, by location
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the Engine's logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithParallel controls parallel indexing. When true (default), IndexFiles
// builds documents on a bounded worker pool and commits them in one
// transaction. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.useParallel = parallel
	}
}

// WithWorkers bounds the parallel worker pool. Zero or less means one
// worker per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithSystemRoots declares standard-library roots. Modules under them are
// marked system modules, their reference pages are scanned, and their
// test suites are skipped.
func WithSystemRoots(roots ...string) Option {
	return func(e *Engine) {
		e.rootPaths = append(e.rootPaths, roots...)
	}
}

// WithPolicy sets the classification policy.
func WithPolicy(p *Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithPolicyScript evaluates the Risor script at path on top of the
// default policy. Ignored when WithPolicy is set.
func WithPolicyScript(path string) Option {
	return func(e *Engine) {
		e.policyScript = path
	}
}

// WithCacheInvalidation sets what index writes do to the classification
// cache. The default is InvalidateNever.
func WithCacheInvalidation(p InvalidationPolicy) Option {
	return func(e *Engine) {
		e.invalidation = p
	}
}

// New creates an Engine backed by a SQLite database at dbPath. A database
// written with a different signature encoding is refused with
// ErrIndexVersion.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		useParallel: true, // default to parallel indexing
		indexes:     make(map[string]*Index),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewDiscardLogger()
	}

	if e.policy == nil {
		p, err := LoadPolicy(context.Background(), e.policyScript, e.logger)
		if err != nil {
			return nil, fmt.Errorf("pyindex: %w", err)
		}
		e.policy = p
	}

	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("pyindex: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("pyindex: migrate: %w", err)
	}
	if err := checkSchema(s); err != nil {
		s.Close()
		return nil, fmt.Errorf("pyindex: %w", err)
	}

	e.store = s
	e.roots = newSystemRoots(e.rootPaths)
	e.cache = NewClassificationCache(s, e.invalidation, e.logger)
	return e, nil
}

// LoadPolicy returns the default classification policy extended by the
// Risor script at path, or the default policy alone when path is empty.
func LoadPolicy(ctx context.Context, path string, logger *slog.Logger) (*Policy, error) {
	if path == "" {
		return runtime.DefaultPolicy()
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	rt := runtime.NewRuntime(filepath.Dir(path), runtime.WithRuntimeLogger(logger))
	return runtime.LoadPolicy(ctx, rt, filepath.Base(path))
}

// checkSchema records the signature schema of a new database and refuses
// one written with another.
func checkSchema(s *store.Store) error {
	stored, err := s.Metadata(store.MetaSignatureSchema)
	if err != nil {
		return err
	}
	if stored == "" {
		return s.SetMetadata(store.MetaSignatureSchema, signature.SchemaVersion)
	}
	if stored != signature.SchemaVersion {
		return fmt.Errorf("%w: database has %q, want %q", ErrIndexVersion, stored, signature.SchemaVersion)
	}
	return nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Policy returns the classification policy in effect.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Cache returns the classification cache shared by every Index the Engine
// hands out.
func (e *Engine) Cache() *ClassificationCache {
	return e.cache
}

// Query returns an Index not tied to any file.
func (e *Engine) Query() *Index {
	return NewIndex(e.store, e.indexOptions()...)
}

// Index returns the Index for queries originating in the file at
// fromLocation, creating it on first use.
func (e *Engine) Index(fromLocation string) *Index {
	e.mu.Lock()
	ix, ok := e.indexes[fromLocation]
	e.mu.Unlock()
	if ok {
		return ix
	}

	module := ""
	if docs, err := e.store.DocumentsForFile(fromLocation); err != nil {
		e.logger.Debug("context module lookup failed", "location", fromLocation, "error", err)
	} else {
		for _, d := range docs {
			if m := d.Value(store.FieldModule); m != "" {
				module = m
				break
			}
		}
	}
	ix = NewIndex(e.store, append(e.indexOptions(), WithContext(fromLocation, module))...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.indexes[fromLocation]; ok {
		return prev
	}
	e.indexes[fromLocation] = ix
	return ix
}

func (e *Engine) indexOptions() []IndexOption {
	return []IndexOption{
		WithClassificationCache(e.cache),
		WithIndexPolicy(e.policy),
		WithIndexLogger(e.logger),
	}
}

// forget drops the cached Index of location.
func (e *Engine) forget(location string) {
	e.mu.Lock()
	delete(e.indexes, location)
	e.mu.Unlock()
}

// afterWrite fires the cache's reindex hook when stored documents changed.
func (e *Engine) afterWrite(changed bool) {
	if changed && e.cache.Invalidate() {
		e.logger.Debug("classification cache invalidated")
	}
}

// buildDocuments turns one file's content into its index documents.
func (e *Engine) buildDocuments(ctx context.Context, sf sourceFile, src []byte) ([]*store.Document, error) {
	if sf.kind == runtime.SourceRst {
		return extract.ScanRst(sf.location, sf.module, string(src)), nil
	}
	table, err := scopes.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	b := &extract.Builder{
		Module:     sf.module,
		Location:   sf.location,
		System:     sf.system,
		Deprecated: e.policy != nil && e.policy.IsDeprecated(sf.module),
	}
	return b.Build(table), nil
}

// IndexSource indexes Python source held in memory under location.
func (e *Engine) IndexSource(ctx context.Context, location, module string, src []byte, system bool) error {
	sf := sourceFile{location: location, module: module, kind: runtime.SourcePython, system: system}
	docs, err := e.buildDocuments(ctx, sf, src)
	if err != nil {
		return fmt.Errorf("pyindex: index %s: %w", location, err)
	}
	changed, err := e.writeFile(e.store, sf, sf.fingerprint(src), docs)
	if err != nil {
		return fmt.Errorf("pyindex: index %s: %w", location, err)
	}
	e.forget(location)
	e.afterWrite(changed)
	return nil
}

// writeFile replaces the documents of sf through ds and reports whether
// they differ from what was stored before.
func (e *Engine) writeFile(ds store.DataStore, sf sourceFile, hash string, docs []*store.Document) (bool, error) {
	existing, err := ds.FileByLocation(sf.location)
	if err != nil {
		return false, fmt.Errorf("lookup file: %w", err)
	}
	docsHash := store.DocumentsHash(docs)
	f := &store.File{
		Location:    sf.location,
		Hash:        hash,
		DocsHash:    docsHash,
		LastIndexed: time.Now(),
	}
	if err := ds.ReplaceFile(f, docs); err != nil {
		return false, fmt.Errorf("write documents: %w", err)
	}
	return existing == nil || existing.DocsHash != docsHash, nil
}

// IndexFiles indexes the given file paths. When WithParallel is enabled,
// documents are built on a worker pool and committed in one transaction.
// Otherwise files are indexed one at a time.
//
// For each file:
// 1. Classify it (source kind, location, module, system root)
// 2. Skip unsupported files and unchanged content (same hash of content
//    and classification)
// 3. Parse and build documents
// 4. Replace the file's stored documents
//
// Errors on individual files are logged and skipped; processing continues.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	if e.useParallel {
		return e.indexFilesParallel(ctx, paths)
	}
	return e.indexFilesSerial(ctx, paths)
}

func (e *Engine) indexFilesSerial(ctx context.Context, paths []string) error {
	var (
		errs    []error
		changed bool
		indexed int
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, skip, err := e.prepareFile(path)
		if err != nil {
			e.logger.Warn("index failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("index %s: %w", path, err))
			continue
		}
		if skip {
			continue
		}
		docs, err := e.buildDocuments(ctx, item.file, item.src)
		if err != nil {
			e.logger.Warn("index failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("index %s: %w", path, err))
			continue
		}
		c, err := e.writeFile(e.store, item.file, item.hash, docs)
		if err != nil {
			e.logger.Warn("index failed", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("index %s: %w", path, err))
			continue
		}
		changed = changed || c
		e.forget(item.file.location)
		if item.previous != "" {
			if err := e.dropPrevious(item.previous); err != nil {
				errs = append(errs, fmt.Errorf("index %s: %w", path, err))
			}
			changed = true
		}
		indexed++
	}
	e.afterWrite(changed)
	e.logger.Info("indexed files", "requested", len(paths), "indexed", indexed, "errors", len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// dropPrevious deletes the documents a file was stored under before its
// location changed.
func (e *Engine) dropPrevious(location string) error {
	if err := e.store.DeleteFileData(location); err != nil {
		return fmt.Errorf("drop %s: %w", location, err)
	}
	e.forget(location)
	e.logger.Debug("dropped previous location", "location", location)
	return nil
}

// RemoveFiles deletes the documents of the given paths.
func (e *Engine) RemoveFiles(paths []string) error {
	removed := false
	for _, path := range paths {
		location := e.Location(path)
		existing, err := e.store.FileByLocation(location)
		if err != nil {
			return fmt.Errorf("pyindex: remove %s: %w", path, err)
		}
		if existing == nil {
			continue
		}
		if err := e.store.DeleteFileData(location); err != nil {
			return fmt.Errorf("pyindex: remove %s: %w", path, err)
		}
		e.forget(location)
		removed = true
	}
	e.afterWrite(removed)
	return nil
}

// ExportSnapshot writes the index, or only its system-root files, as a
// compressed snapshot.
func (e *Engine) ExportSnapshot(w io.Writer, systemOnly bool) (int, error) {
	var keep func(string) bool
	if systemOnly {
		keep = IsSystemLocation
	}
	n, err := e.store.ExportSnapshot(w, keep)
	if err != nil {
		return 0, fmt.Errorf("pyindex: %w", err)
	}
	return n, nil
}

// ImportSnapshot loads a snapshot written by ExportSnapshot.
func (e *Engine) ImportSnapshot(r io.Reader) (int, error) {
	n, err := e.store.ImportSnapshot(r)
	if err != nil {
		return 0, fmt.Errorf("pyindex: %w", err)
	}
	e.mu.Lock()
	e.indexes = make(map[string]*Index)
	e.mu.Unlock()
	e.afterWrite(n > 0)
	return n, nil
}

// skipDirs are excluded from directory walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
}

// IndexDirectory walks root and indexes every Python file, plus reference
// pages under system roots. Inside a git repository, git ls-files supplies
// the file list; otherwise the walk honours root's .gitignore.
func (e *Engine) IndexDirectory(ctx context.Context, root string) error {
	paths, err := e.gitListFiles(root)
	if err != nil {
		e.logger.Debug("git ls-files unavailable, walking", "root", root, "error", err)
		paths, err = e.walkListFiles(root)
		if err != nil {
			return fmt.Errorf("pyindex: %w", err)
		}
	}
	return e.IndexFiles(ctx, paths)
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if skippedDir(filepath.Dir(line)) {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := runtime.SourceKindForFile(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// skippedDir reports whether a slash-separated relative directory lies in
// a hidden directory or one of skipDirs.
func skippedDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "." || part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") || skipDirs[part] {
			return true
		}
	}
	return false
}

// walkListFiles discovers files by walking the filesystem. Hidden
// directories, skipDirs and paths matched by root's .gitignore are left
// out.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	gi := loadGitignore(root)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if _, ok := runtime.SourceKindForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// loadGitignore compiles root's .gitignore, or returns nil without one.
func loadGitignore(root string) *ignore.GitIgnore {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}
