package runtime

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pyindex/internal/logging"
)

// --- Source kind tests ---

func TestSourceKindForFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want SourceKind
		ok   bool
	}{
		{"pkg/mod.py", SourcePython, true},
		{"gui.pyw", SourcePython, true},
		{"stubs/os.pyi", SourcePython, true},
		{"Doc/library/os.rst", SourceRst, true},
		{"UPPER.PY", SourcePython, true},
		{"main.go", "", false},
		{"README", "", false},
	}
	for _, tt := range tests {
		got, ok := SourceKindForFile(tt.path)
		if ok != tt.ok || got != tt.want {
			t.Errorf("SourceKindForFile(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsTestDir(t *testing.T) {
	t.Parallel()
	assert.True(t, IsTestDir("test"))
	assert.True(t, IsTestDir("tests"))
	assert.False(t, IsTestDir("testing"))
}

// --- Script execution tests ---

func TestRunSource_ReturnsLastValue(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	result, err := rt.RunSource(context.Background(), `x := 20
x + answer`, map[string]any{"answer": 22})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Interface())
}

func TestRunSource_HostFunctions(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	_, err := rt.RunSource(context.Background(), `
assert(glob_match("xml.*", "xml.dom"), "glob should match")
assert(!glob_match("xml.*", "json"), "glob should not match")
assert(env("PYINDEX_SURELY_UNSET_VARIABLE") == "", "unset env reads empty")
`, nil)
	require.NoError(t, err)
}

func TestRunSource_ScriptError(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	_, err := rt.RunSource(context.Background(), `glob_match("only one")`, nil)
	assert.Error(t, err)
}

func TestRunSource_LogUsesLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rt := NewRuntime("", WithRuntimeLogger(logging.NewLogger(&buf, logging.LevelFromString("debug"))))

	_, err := rt.RunSource(context.Background(), `log.warn("policy loaded")`, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "policy loaded")
	assert.Contains(t, buf.String(), "component=policy")
}

func TestRunSource_LogLevels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rt := NewRuntime("", WithRuntimeLogger(logging.NewLogger(&buf, logging.LevelFromString("debug"))))

	_, err := rt.RunSource(context.Background(), `log.info("one")
log.error("two")`, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "level=ERROR")

	_, err = rt.RunSource(context.Background(), `log.info(42)`, nil)
	assert.Error(t, err, "non-string messages are rejected")
}

func TestRunScript_LoadsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.risor"), []byte(`result := 1 + 1`), 0o644))

	rt := NewRuntime(dir)
	_, err := rt.RunScript(context.Background(), "test.risor", nil)
	require.NoError(t, err)
}

func TestRunScript_MissingFile(t *testing.T) {
	t.Parallel()
	rt := NewRuntime(t.TempDir())

	_, err := rt.RunScript(context.Background(), "nonexistent.risor", nil)
	assert.Error(t, err)
}

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()
	mapFS := fstest.MapFS{
		"extra/policy.risor": &fstest.MapFile{Data: []byte(`x := 1`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("/extra/policy.risor")
	require.NoError(t, err)
	assert.Equal(t, `x := 1`, got)

	_, err = rt.LoadScript("missing.risor")
	assert.Error(t, err)
}

func TestImport_FSImporter(t *testing.T) {
	t.Parallel()
	mapFS := fstest.MapFS{
		"helpers.risor": &fstest.MapFile{Data: []byte(`
func double(x) {
    return x * 2
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	result, err := rt.RunSource(context.Background(), `
import helpers
helpers.double(21)
`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Interface())
}

// --- Policy tests ---

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()
	p, err := DefaultPolicy()
	require.NoError(t, err)

	assert.Equal(t, []string{"constants", "exceptions", "functions", "stdtypes"}, p.BuiltinModules())
	assert.True(t, p.IsBuiltinModule("functions"))
	assert.True(t, p.IsBuiltinModule("stub_missing"))
	assert.True(t, p.IsSkipped("stub_missing"))
	assert.False(t, p.IsBuiltinModule("os"))

	assert.True(t, p.IsDeprecated("md5"))
	assert.True(t, p.IsDeprecated("sets"))
	assert.False(t, p.IsDeprecated("hashlib"))

	missing := p.MissingBuiltins()
	assert.Contains(t, missing, "None")
	assert.Contains(t, missing, "__file__")
	assert.Len(t, missing, 17)
}

func TestPolicyFromSource_ExtendsDefaults(t *testing.T) {
	t.Parallel()
	p, err := PolicyFromSource(context.Background(), NewRuntime(""), `
deprecated_module("legacy_api")
system_prefix("vendor.")
`)
	require.NoError(t, err)

	assert.True(t, p.IsDeprecated("legacy_api"))
	assert.True(t, p.IsDeprecated("md5"), "defaults still apply")
	assert.True(t, p.IsSystemPrefix("vendor"))
	assert.True(t, p.IsSystemPrefix("vendor.six"))
	assert.False(t, p.IsSystemPrefix("vendored"))
}

func TestLoadPolicy_UserScript(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.risor"), []byte(`builtin_module("site_builtins")`), 0o644))

	p, err := LoadPolicy(context.Background(), NewRuntime(dir), "site.risor")
	require.NoError(t, err)
	assert.True(t, p.IsBuiltinModule("site_builtins"))
	assert.True(t, p.IsBuiltinModule("stdtypes"))
}

func TestLoadPolicy_RejectsBadArguments(t *testing.T) {
	t.Parallel()
	_, err := PolicyFromSource(context.Background(), NewRuntime(""), `deprecated_module("")`)
	assert.Error(t, err)

	_, err = PolicyFromSource(context.Background(), NewRuntime(""), `deprecated_module(42)`)
	assert.Error(t, err)
}
