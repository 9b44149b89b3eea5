package pyindex

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const shapesSource = `class Shape:
    def area(self):
        return 0

    def describe(self):
        return "shape"

class Square(Shape):
    def __init__(self, side):
        self.side = side

    def area(self):
        return self.side * self.side

def make_square(side):
    return Square(side)

_registry = {}
`

// =============================================================================
// Construction
// =============================================================================

func TestNew_RecordsSignatureSchema(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	v, err := e.Store().Metadata(store.MetaSignatureSchema)
	require.NoError(t, err)
	assert.Equal(t, signature.SchemaVersion, v)
	assert.NotNil(t, e.Policy())
	assert.NotNil(t, e.Cache())
}

func TestNew_RefusesOtherSchema(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, e.Store().SetMetadata(store.MetaSignatureSchema, "0"))
	require.NoError(t, e.Close())

	_, err = New(dbPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexVersion)
}

func TestNew_InvalidPath(t *testing.T) {
	t.Parallel()
	_, err := New("/nonexistent/dir/db.sqlite")
	require.Error(t, err)
}

func TestNew_PolicyScriptExtendsDefaults(t *testing.T) {
	t.Parallel()
	script := writeFile(t, filepath.Join(t.TempDir(), "policy.risor"), `system_prefix("vendor")`+"\n")
	e := newTestEngine(t, WithPolicyScript(script))

	assert.True(t, e.Policy().IsSystemPrefix("vendor.lib"))
	assert.True(t, e.Policy().IsBuiltinModule("functions"), "defaults still apply")
}

func TestNew_BadPolicyScript(t *testing.T) {
	t.Parallel()
	script := writeFile(t, filepath.Join(t.TempDir(), "policy.risor"), "this is not risor (")
	_, err := New(filepath.Join(t.TempDir(), "test.db"), WithPolicyScript(script))
	require.Error(t, err)
}

// =============================================================================
// Indexing
// =============================================================================

func TestIndexFiles_EndToEnd(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		e := newTestEngine(t, WithParallel(parallel))
		path := writeFile(t, filepath.Join(t.TempDir(), "shapes.py"), shapesSource)
		require.NoError(t, e.IndexFiles(context.Background(), []string{path}))

		ix := e.Query()
		classes := ix.Classes("S", Prefix, false)
		assert.Equal(t, []string{"Shape", "Square"}, names(classes), "parallel=%v", parallel)
		assert.Equal(t, "shapes", classes[0].Module)

		res := ix.ResolveMembers("Square", "", Prefix, false)
		assert.ElementsMatch(t, []string{"Square.__init__", "Square.area", "Square.side", "Shape.describe"},
			qualifiedNames(res.Symbols), "parallel=%v", parallel)
		assert.Equal(t, []string{"Shape"}, res.Ancestors())

		assert.Equal(t, []string{"Square"}, names(ix.Subclasses("Shape", "Shape", false)))
		assert.Equal(t, []string{"make_square"}, names(ix.AllElements("make", Prefix, false)))
		assert.Empty(t, ix.AllElements("_registry", Exact, false), "private outside its file")

		own := e.Index(e.Location(path))
		assert.Equal(t, []string{"_registry"}, names(own.AllElements("_registry", Exact, false)))
	}
}

func TestIndexFiles_SkipsUnchangedFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithParallel(false))
	path := writeFile(t, filepath.Join(t.TempDir(), "shapes.py"), shapesSource)
	ctx := context.Background()

	require.NoError(t, e.IndexFiles(ctx, []string{path}))
	first, err := e.Store().FileByLocation(e.Location(path))
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, e.IndexFiles(ctx, []string{path}))
	second, err := e.Store().FileByLocation(e.Location(path))
	require.NoError(t, err)
	assert.Equal(t, first.LastIndexed, second.LastIndexed)
	sf, ok := e.classify(path)
	require.True(t, ok)
	assert.Equal(t, sf.fingerprint([]byte(shapesSource)), second.Hash)
}

func TestIndexFiles_ReindexesChangedFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "shapes.py"), shapesSource)
	ctx := context.Background()
	require.NoError(t, e.IndexFiles(ctx, []string{path}))

	writeFile(t, path, "class Circle:\n    pass\n")
	require.NoError(t, e.IndexFiles(ctx, []string{path}))

	assert.Equal(t, []string{"Circle"}, names(e.Query().Classes("", Prefix, false)))
}

func TestIndexFiles_SkipsUnsupportedExtensions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "readme.txt"), "class NotPython: pass\n")
	require.NoError(t, e.IndexFiles(context.Background(), []string{path}))

	files, docs, err := e.Store().Stats()
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Zero(t, docs)
}

func TestIndexFiles_ReportsMissingFiles(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		e := newTestEngine(t, WithParallel(parallel))
		good := writeFile(t, filepath.Join(t.TempDir(), "good.py"), "class Good:\n    pass\n")
		missing := filepath.Join(t.TempDir(), "missing.py")

		err := e.IndexFiles(context.Background(), []string{missing, good})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 error(s)")
		assert.Equal(t, []string{"Good"}, names(e.Query().Classes("Good", Exact, false)), "other files still indexed")
	}
}

func TestIndexFiles_CacheInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, tt := range []struct {
		policy InvalidationPolicy
		want   bool
	}{
		{InvalidateNever, false},
		{InvalidateOnReindex, true},
	} {
		e := newTestEngine(t, WithCacheInvalidation(tt.policy))
		ix := e.Query()
		require.False(t, ix.IsLowercaseClassName("thing"))

		path := writeFile(t, filepath.Join(t.TempDir(), "things.py"), "class thing:\n    pass\n")
		require.NoError(t, e.IndexFiles(ctx, []string{path}))
		assert.Equal(t, tt.want, ix.IsLowercaseClassName("thing"), tt.policy.String())
	}
}

func TestIndexSource(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	src := []byte("class Buffer:\n    def flush(self):\n        pass\n")
	require.NoError(t, e.IndexSource(context.Background(), "mem://buffer", "io_extra", src, true))

	ix := e.Query()
	assert.True(t, ix.IsSystemModule("io_extra"))
	members := ix.InheritedElements("Buffer", "flush", Exact, false)
	require.Len(t, members, 1)
	assert.Equal(t, "io_extra", members[0].Module)
	assert.Equal(t, "mem://buffer", members[0].Location)
}

func TestIndex_ContextModuleAndReuse(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pkg", "__init__.py"), "")
	path := writeFile(t, filepath.Join(dir, "pkg", "mod.py"), "VALUE = 1\n")
	require.NoError(t, e.IndexFiles(context.Background(), []string{path}))

	ix := e.Index(e.Location(path))
	assert.Same(t, ix, e.Index(e.Location(path)))
	assert.Equal(t, e.Location(path), ix.ContextLocation())

	imported := ix.ImportedElements("VAL", Prefix, nil)
	require.Len(t, imported, 1)
	assert.Equal(t, "pkg.mod", imported[0].Module)
}

func TestIndexSource_BaseDerivedModule(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	src := "class Base:\n    def run(self):\n        pass\n\nclass Derived(Base):\n    def stop(self):\n        pass\n"
	require.NoError(t, e.IndexSource(context.Background(), "file:///m.py", "m", []byte(src), false))

	ix := e.Query()
	members := ix.ResolveMembers("Derived", "", Prefix, false)
	assert.Equal(t, []string{"stop(self)", "run(self)"}, symbolStrings(members.Symbols))
	assert.Equal(t, []string{"Derived"}, names(ix.ResolveSubclasses("Base", "Base", false).Symbols))
}

func TestIndexSource_RefreshesContextIndex(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	const loc = "mem://buf"

	before := e.Index(loc)
	assert.Empty(t, before.ImportedElements("VAL", Prefix, nil))

	require.NoError(t, e.IndexSource(context.Background(), loc, "bufmod", []byte("VALUE = 1\n"), false))

	after := e.Index(loc)
	assert.NotSame(t, before, after, "a write drops the cached Index of its location")
	imported := after.ImportedElements("VAL", Prefix, nil)
	require.Len(t, imported, 1)
	assert.Equal(t, "bufmod", imported[0].Module)
}

func TestRemoveFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithCacheInvalidation(InvalidateOnReindex))
	path := writeFile(t, filepath.Join(t.TempDir(), "shapes.py"), shapesSource)
	require.NoError(t, e.IndexFiles(context.Background(), []string{path}))
	require.NotEmpty(t, e.Query().Classes("Shape", Exact, false))

	require.NoError(t, e.RemoveFiles([]string{path, filepath.Join(t.TempDir(), "never.py")}))
	assert.Empty(t, e.Query().Classes("Shape", Exact, false))
	f, err := e.Store().FileByLocation(e.Location(path))
	require.NoError(t, err)
	assert.Nil(t, f)
}

// =============================================================================
// Directories and system roots
// =============================================================================

func TestIndexDirectory_WalkSkipsIgnored(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".gitignore"), "# build output\nbuild/\ngenerated_*.py\n")
	writeFile(t, filepath.Join(dir, "app.py"), "class App:\n    pass\n")
	writeFile(t, filepath.Join(dir, "generated_api.py"), "class Generated:\n    pass\n")
	writeFile(t, filepath.Join(dir, "build", "out.py"), "class Built:\n    pass\n")
	writeFile(t, filepath.Join(dir, ".venv", "site.py"), "class Hidden:\n    pass\n")
	writeFile(t, filepath.Join(dir, "node_modules", "x.py"), "class Vendored:\n    pass\n")
	writeFile(t, filepath.Join(dir, "docs", "index.rst"), ".. class:: Documented\n")

	paths, err := e.walkListFiles(dir)
	require.NoError(t, err)
	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(dir, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.ElementsMatch(t, []string{"app.py", "docs/index.rst"}, rel)

	require.NoError(t, e.IndexDirectory(context.Background(), dir))
	assert.Equal(t, []string{"App"}, names(e.Query().Classes("", Prefix, false)), "reference pages are only read under system roots")
}

func TestIndexDirectory_SystemRoot(t *testing.T) {
	t.Parallel()
	lib := t.TempDir()
	writeFile(t, filepath.Join(lib, "shutil.py"), "def copy(src, dst):\n    pass\n")
	writeFile(t, filepath.Join(lib, "test", "test_shutil.py"), "def test_copy():\n    pass\n")
	writeFile(t, filepath.Join(lib, "library", "functions.rst"), ".. function:: len(s)\n\n   Return the length.\n")

	e := newTestEngine(t, WithSystemRoots(lib))
	require.NoError(t, e.IndexDirectory(context.Background(), lib))

	loc := e.Location(filepath.Join(lib, "shutil.py"))
	assert.Equal(t, "python:shutil.py", loc)
	assert.True(t, IsSystemLocation(loc))

	ix := e.Query()
	assert.True(t, ix.IsSystemModule("shutil"))
	assert.Empty(t, ix.AllElements("test_copy", Exact, false), "library tests are skipped")

	lens := ix.AllElements("len", Exact, false)
	require.Len(t, lens, 1)
	assert.True(t, lens[0].Builtin)
	assert.True(t, lens[0].IsDocOnly())
	assert.Contains(t, ix.BuiltinSymbols(), "len")
}

func TestIndexFiles_ReclassifiedUnderNewSystemRoot(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		lib := t.TempDir()
		path := writeFile(t, filepath.Join(lib, "shutil.py"), "def copy(src, dst):\n    pass\n")
		dbPath := filepath.Join(t.TempDir(), "test.db")
		ctx := context.Background()

		before, err := New(dbPath, WithParallel(parallel))
		require.NoError(t, err)
		require.NoError(t, before.IndexFiles(ctx, []string{path}))
		oldLoc := before.Location(path)
		require.NoError(t, before.Close())

		e, err := New(dbPath, WithParallel(parallel), WithSystemRoots(lib))
		require.NoError(t, err)
		t.Cleanup(func() { e.Close() })
		require.NoError(t, e.IndexFiles(ctx, []string{path}), "unchanged content is rebuilt under its new location")

		gone, err := e.Store().FileByLocation(oldLoc)
		require.NoError(t, err)
		assert.Nil(t, gone, "previous file:// location dropped, parallel=%v", parallel)

		copies := e.Query().AllElements("copy", Exact, false)
		require.Len(t, copies, 1, "parallel=%v", parallel)
		assert.Equal(t, "python:shutil.py", copies[0].Location)
		assert.True(t, e.Query().IsSystemModule("shutil"))
	}
}

func TestIndexFiles_ReclassifiedByPolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "vendored.py"), "VALUE = 1\n")
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	before, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, before.IndexFiles(ctx, []string{path}))
	require.NoError(t, before.Close())

	script := writeFile(t, filepath.Join(t.TempDir(), "policy.risor"), `system_prefix("vendored")`+"\n")
	e, err := New(dbPath, WithPolicyScript(script))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.IndexFiles(ctx, []string{path}))

	docs, err := e.Store().DocumentsForFile(e.Location(path))
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "S", docs[0].Value(store.FieldModAttrs), "same content, new system status")
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshot_SystemOnlyRoundTrip(t *testing.T) {
	t.Parallel()
	lib := t.TempDir()
	writeFile(t, filepath.Join(lib, "shutil.py"), "def copy(src, dst):\n    pass\n")
	user := writeFile(t, filepath.Join(t.TempDir(), "mine.py"), "def mine():\n    pass\n")

	src := newTestEngine(t, WithSystemRoots(lib))
	ctx := context.Background()
	require.NoError(t, src.IndexDirectory(ctx, lib))
	require.NoError(t, src.IndexFiles(ctx, []string{user}))

	var buf bytes.Buffer
	n, err := src.ExportSnapshot(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dst := newTestEngine(t, WithSystemRoots(lib), WithCacheInvalidation(InvalidateOnReindex))
	imported, err := dst.ImportSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	ix := dst.Query()
	assert.Equal(t, []string{"copy"}, names(ix.AllElements("copy", Exact, false)))
	assert.Empty(t, ix.AllElements("mine", Exact, false))
	assert.True(t, ix.IsSystemModule("shutil"))
}
