package pyindex

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory Backend with query counting and error
// injection.
type memBackend struct {
	mu      sync.Mutex
	docs    []*store.Document
	queries atomic.Int64
	fail    func(field, value string) error
}

func newMemBackend(docs ...*store.Document) *memBackend {
	return &memBackend{docs: docs}
}

func (b *memBackend) add(docs ...*store.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, docs...)
}

func (b *memBackend) Query(field, value string, kind MatchKind, fields ...string) ([]*Result, error) {
	b.queries.Add(1)
	if b.fail != nil {
		if err := b.fail(field, value); err != nil {
			return nil, err
		}
	}
	match, err := store.NewMatcher(kind, value)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Result
	for _, d := range b.docs {
		hit := false
		for _, p := range d.Pairs {
			if p.Field == field && p.Indexed && match(p.Value) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		var pairs []store.Pair
		for _, p := range d.Pairs {
			if len(fields) == 0 || containsString(fields, p.Field) {
				pairs = append(pairs, p)
			}
		}
		out = append(out, store.NewResult(d.Location, pairs...))
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// classRecord builds a class document the way the Python builder does.
func classRecord(location, module, name string, extends []string, members ...string) *store.Document {
	d := store.NewDocument(location)
	d.AddPair(store.FieldIn, module, true, true)
	for _, e := range extends {
		d.AddPair(store.FieldExtends, e, true, true)
	}
	d.AddPair(store.FieldClass, name, true, true)
	d.AddPair(store.FieldClassCI, lowerASCII(name), true, true)
	for _, m := range members {
		d.AddPair(store.FieldMember, m, true, true)
	}
	return d
}

// moduleRecord builds a module document.
func moduleRecord(location, module, attrs string, items ...string) *store.Document {
	d := store.NewDocument(location)
	d.AddPair(store.FieldModule, module, true, true)
	if attrs != "" {
		d.AddPair(store.FieldModAttrs, attrs, false, true)
	}
	for _, it := range items {
		d.AddPair(store.FieldItem, it, true, true)
	}
	return d
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func method(name string, params ...string) string {
	return signature.Encode(signature.KindFunction, 0, name, params)
}

func function(name string, params ...string) string {
	return signature.Encode(signature.KindFunction, 0, name, params)
}

func data(name string) string {
	return signature.Encode(signature.KindData, 0, name, nil)
}

func privateData(name string) string {
	return signature.Encode(signature.KindData, signature.Private, name, nil)
}

func names(syms []*IndexedSymbol) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = s.Name
	}
	return out
}

func qualifiedNames(syms []*IndexedSymbol) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = s.QualifiedName()
	}
	return out
}

// =============================================================================
// Backend failures
// =============================================================================

func TestIndex_BackendErrorsYieldEmptyResults(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil, method("run", "self")))
	b.fail = func(string, string) error { return errors.New("disk on fire") }
	ix := NewIndex(b)

	assert.Empty(t, ix.Classes("A", Exact, false))
	assert.Empty(t, ix.AllMembers("run", Exact, false))
	assert.Empty(t, ix.InheritedElements("A", "", Prefix, false))
	assert.Empty(t, ix.Subclasses("A", "A", false))
	assert.Empty(t, ix.Modules("a", Prefix))
	assert.False(t, ix.IsSystemModule("a"))
}

func TestIndex_UnsupportedKindYieldsEmpty(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil, method("run", "self")))
	ix := NewIndex(b)

	assert.Empty(t, ix.AllMembers("(", Regexp, false))
	assert.Empty(t, ix.InheritedElements("A", "(", Regexp, false))
	assert.Empty(t, ix.AllMembers("run", MatchKind(99), false))
}

// =============================================================================
// Name matching on signatures
// =============================================================================

func TestAllMembers_ExactDoesNotMatchLongerNames(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil,
		method("get", "self"), method("get_all", "self"), method("getter", "self")))
	ix := NewIndex(b)

	assert.Equal(t, []string{"get"}, names(ix.AllMembers("get", Exact, false)))
	assert.ElementsMatch(t, []string{"get", "get_all", "getter"}, names(ix.AllMembers("get", Prefix, false)))
}

func TestAllMembers_RegexpMatchesWholeName(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil,
		method("get", "self"), method("get_all", "self"), method("set", "self")))
	ix := NewIndex(b)

	assert.ElementsMatch(t, []string{"get", "set"}, names(ix.AllMembers("[gs]et", Regexp, false)))
	assert.Equal(t, []string{"get_all"}, names(ix.AllMembers("GET_.*", CaseInsensitiveRegexp, false)))
}

func TestAllMembers_CamelCase(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil,
		method("getValue", "self"), method("getVerboseName", "self"), method("setValue", "self")))
	ix := NewIndex(b)

	assert.ElementsMatch(t, []string{"getValue", "getVerboseName"}, names(ix.AllMembers("gV", CamelCase, false)))
}

func TestAllMembers_DuplicatesAndInheritance(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		classRecord("file:///a.py", "a", "A", nil, method("run", "self")),
		classRecord("file:///a2.py", "a2", "A", nil, method("run", "self")),
		classRecord("file:///b.py", "b", "B", nil, method("run", "self")),
	)
	ix := NewIndex(b, WithContext("file:///b.py", "b"))

	deduped := ix.AllMembers("run", Exact, false)
	assert.Equal(t, []string{"A.run", "B.run"}, qualifiedNames(deduped))
	assert.True(t, deduped[0].Inherited)
	assert.False(t, deduped[1].Inherited, "own file is not inherited")

	assert.Len(t, ix.AllMembers("run", Exact, true), 3)
}

func TestAllMembers_MethodKindAndParams(t *testing.T) {
	t.Parallel()
	ctor := signature.Encode(signature.KindConstructor, signature.Constructor, "__init__", []string{"self", "x"})
	b := newMemBackend(classRecord("file:///a.py", "a", "A", nil, ctor, method("run", "self", "n")))
	ix := NewIndex(b)

	syms := ix.AllMembers("", Prefix, false)
	require.Len(t, syms, 2)
	assert.Equal(t, KindConstructor, syms[0].Kind)
	assert.True(t, syms[0].IsConstructor())
	assert.Equal(t, KindMethod, syms[1].Kind)
	assert.Equal(t, "run(self, n)", syms[1].String())
	assert.Equal(t, "a", syms[1].Module)
}

// =============================================================================
// Module items
// =============================================================================

func TestAllElements_PrivateOnlyFromOwnFile(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("file:///a.py", "a", "", privateData("_hidden"), data("shown")),
		moduleRecord("file:///b.py", "b", "", privateData("_mine")),
	)

	other := NewIndex(b, WithContext("file:///b.py", "b"))
	assert.Equal(t, []string{"_mine", "shown"}, sortedNames(other.AllElements("", Prefix, false)))

	none := NewIndex(b)
	assert.Equal(t, []string{"shown"}, names(none.AllElements("", Prefix, false)))
}

func TestAllElements_BuiltinModulesMarked(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:library/functions.rst", "functions", "S", function("len", "s")),
		moduleRecord("file:///a.py", "a", "", function("len", "x")),
	)
	ix := NewIndex(b)

	syms := ix.AllElements("len", Exact, false)
	require.Len(t, syms, 2)
	byModule := map[string]bool{}
	for _, s := range syms {
		byModule[s.Module] = s.Builtin
	}
	assert.True(t, byModule["functions"])
	assert.False(t, byModule["a"])
}

func sortedNames(syms []*IndexedSymbol) []string {
	out := names(syms)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// =============================================================================
// Classes
// =============================================================================

func TestClasses_DedupByName(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		classRecord("file:///a.py", "a", "Widget", nil),
		classRecord("file:///b.py", "b", "Widget", nil),
		classRecord("file:///b.py", "b", "WidgetFactory", nil),
	)
	ix := NewIndex(b)

	deduped := ix.Classes("Widget", Prefix, false)
	assert.Equal(t, []string{"Widget", "WidgetFactory"}, names(deduped))
	assert.Equal(t, "a", deduped[0].Module)
	assert.True(t, deduped[0].Inherited)

	assert.Len(t, ix.Classes("Widget", Prefix, true), 3)
	assert.Len(t, ix.Classes("Widget", Exact, true), 2)
}

func TestClasses_CaseInsensitiveUsesLowercaseField(t *testing.T) {
	t.Parallel()
	b := newMemBackend(classRecord("file:///a.py", "a", "HTTPServer", nil))
	ix := NewIndex(b)

	assert.Equal(t, []string{"HTTPServer"}, names(ix.Classes("httpS", CaseInsensitivePrefix, false)))
	assert.Equal(t, []string{"HTTPServer"}, names(ix.Classes("HTTP.*", CaseInsensitiveRegexp, false)))
	assert.Empty(t, ix.Classes("httpS", Prefix, false))
}

func TestClasses_CaseInsensitiveCamelCaseKeepsHumps(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		classRecord("file:///a.py", "a", "FooBar", nil),
		classRecord("file:///a.py", "a", "Foreign", nil),
	)
	ix := NewIndex(b)

	assert.Equal(t, []string{"FooBar"}, names(ix.Classes("FoBa", CamelCase, false)))
	assert.Equal(t, []string{"FooBar"}, names(ix.Classes("FoBa", CaseInsensitiveCamelCase, false)))
	assert.Equal(t, []string{"FooBar"}, names(ix.Classes("foob", CaseInsensitiveCamelCase, false)), "folded prefix")
	assert.Empty(t, ix.Classes("foob", CamelCase, false))
}

func TestClasses_PrivateFlagFromAttrs(t *testing.T) {
	t.Parallel()
	d := classRecord("file:///a.py", "a", "_Impl", nil)
	d.AddPair(store.FieldClassAttrs, signature.EncodeFlags(signature.Private), false, true)
	ix := NewIndex(newMemBackend(d))

	syms := ix.Classes("_Impl", Exact, false)
	require.Len(t, syms, 1)
	assert.True(t, syms[0].IsPrivate())
}

func TestIsLowercaseClassName(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		classRecord("python:library/stdtypes.rst", "stdtypes", "str", nil),
		classRecord("file:///a.py", "a", "Upper", nil),
	)
	ix := NewIndex(b)

	assert.True(t, ix.IsLowercaseClassName("str"))
	assert.False(t, ix.IsLowercaseClassName("Upper"))
	assert.False(t, ix.IsLowercaseClassName("missing"))
}

func TestExceptions_TransitiveAndCycleSafe(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		classRecord("file:///e.py", "e", "AppError", []string{"Exception"}),
		classRecord("file:///e.py", "e", "DbError", []string{"AppError"}),
		classRecord("file:///e.py", "e", "Interrupt", []string{"BaseException"}),
		classRecord("file:///e.py", "e", "Mixed", []string{"object", "DbError"}),
		classRecord("file:///e.py", "e", "Loop1", []string{"Loop2"}),
		classRecord("file:///e.py", "e", "Loop2", []string{"Loop1"}),
		classRecord("file:///e.py", "e", "Plain", []string{"object"}),
	)
	ix := NewIndex(b)

	assert.ElementsMatch(t, []string{"AppError", "DbError", "Interrupt", "Mixed"}, names(ix.Exceptions("", Prefix)))
	assert.Equal(t, []string{"DbError"}, names(ix.Exceptions("Db", Prefix)))
}

// =============================================================================
// Modules and packages
// =============================================================================

func TestModules_SkipsStubsAndMarksDeprecated(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:md5.py", "md5", "SD"),
		moduleRecord("python:stub_missing.py", "stub_missing", "S"),
		moduleRecord("python:functions.rst", "functions", "S"),
		moduleRecord("file:///m.py", "mine", ""),
	)
	ix := NewIndex(b)

	mods := ix.Modules("", Prefix)
	assert.Equal(t, []string{"md5", "functions", "mine"}, names(mods))
	assert.True(t, mods[0].IsDeprecated())
	assert.True(t, mods[1].Builtin)
	assert.False(t, mods[2].IsDeprecated())
}

func TestPackages_NextLevelBelowPrefix(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:xml/dom/minidom.py", "xml.dom.minidom", "S"),
		moduleRecord("python:xml/dom/pulldom.py", "xml.dom.pulldom", "S"),
		moduleRecord("python:xml/etree/ElementTree.py", "xml.etree.ElementTree", "S"),
		moduleRecord("python:xml/sax/handler/x.py", "xml.sax.handler.x", "S"),
	)
	ix := NewIndex(b)

	pkgs := ix.Packages("xml.", Prefix)
	require.Len(t, pkgs, 3)
	assert.Equal(t, "dom", pkgs[0].Name)
	assert.Equal(t, "xml.dom", pkgs[0].Module)
	assert.False(t, pkgs[0].HasSubpackages)
	assert.Equal(t, "etree", pkgs[1].Name)
	assert.Equal(t, "sax", pkgs[2].Name)
	assert.True(t, pkgs[2].HasSubpackages)

	partial := ix.Packages("xml.d", Prefix)
	require.Len(t, partial, 1)
	assert.Equal(t, "dom", partial[0].Name)
}

// =============================================================================
// Imports
// =============================================================================

func TestImportsFor(t *testing.T) {
	t.Parallel()
	importSig := signature.Encode(signature.KindImport, 0, "join", nil)
	b := newMemBackend(
		moduleRecord("python:os/path.py", "os.path", "S", function("join", "a", "p")),
		moduleRecord("file:///util.py", "util", "", importSig),
		moduleRecord("file:///my-script.py", "my-script", "", function("join")),
		moduleRecord("file:///join.py", "join", ""),
		moduleRecord("file:///priv.py", "priv", "", signature.Encode(signature.KindFunction, signature.Private, "join", nil)),
	)
	ix := NewIndex(b)

	assert.Equal(t, []string{"join", "os.path", "priv", "util"}, ix.ImportsFor("join", false))
	assert.Equal(t, []string{"join", "os.path: join(a,p)"}, ix.ImportsFor("join", true))
}

func TestImportedFromWildcards(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:string.py", "string", "S", data("digits"), privateData("_re")),
		moduleRecord("file:///mine.py", "mine", "", data("thing")),
	)
	ix := NewIndex(b)

	assert.Equal(t, []string{"digits", "thing"}, ix.ImportedFromWildcards([]string{"string", "mine"}))
	before := b.queries.Load()
	assert.Equal(t, []string{"digits"}, ix.ImportedFromWildcards([]string{"string"}))
	// Both lookups are served from the cache.
	assert.Equal(t, before, b.queries.Load())
}

func TestElementsFromModules(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:string.py", "string", "S", data("digits"), data("ascii_letters"), privateData("_re")),
		moduleRecord("file:///mine.py", "mine", "", data("dump")),
		moduleRecord("python:functions.rst", "functions", "S", function("divmod", "a", "b")),
	)
	ix := NewIndex(b, WithContext("file:///mine.py", "mine"))

	syms, system := ix.ElementsFromModules("d", Prefix, []string{"string", "mine", "string"})
	assert.Equal(t, []string{"digits", "dump"}, names(syms))
	assert.Equal(t, []string{"string"}, system)

	imported := ix.ImportedElements("d", Prefix, []string{"string"})
	assert.ElementsMatch(t, []string{"digits", "dump", "divmod"}, names(imported))
	for _, s := range imported {
		assert.True(t, s.Inherited)
		assert.Equal(t, s.Module == "functions", s.Builtin)
	}
}

func TestBuiltinSymbols(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:functions.rst", "functions", "S", function("len", "s"), privateData("_x")),
		moduleRecord("python:constants.rst", "constants", "S", data("NotImplemented")),
	)
	ix := NewIndex(b)

	syms := ix.BuiltinSymbols()
	assert.Contains(t, syms, "len")
	assert.Contains(t, syms, "True")
	assert.Contains(t, syms, "__builtins__")
	assert.Contains(t, syms, "__file__")
	assert.NotContains(t, syms, "_x")
	assert.IsIncreasing(t, syms)
}

func TestIsSystemModule(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("python:os.py", "os", "S"),
		moduleRecord("file:///mine.py", "mine", ""),
	)
	ix := NewIndex(b)

	assert.True(t, ix.IsSystemModule("os"))
	assert.False(t, ix.IsSystemModule("mine"))
	assert.False(t, ix.IsSystemModule("absent"))
}

// =============================================================================
// End to end
// =============================================================================

func TestBaseDerivedModule_MembersAndSubclasses(t *testing.T) {
	t.Parallel()
	b := newMemBackend(
		moduleRecord("file:///m.py", "m", "", "Base;C;0;", "Derived;C;0;"),
		classRecord("file:///m.py", "m", "Base", nil, method("run", "self")),
		classRecord("file:///m.py", "m", "Derived", []string{"Base"}, method("stop", "self")),
	)
	ix := NewIndex(b)

	members := ix.ResolveMembers("Derived", "", Prefix, false)
	assert.Equal(t, []string{"stop(self)", "run(self)"}, symbolStrings(members.Symbols))

	subs := ix.ResolveSubclasses("Base", "Base", false)
	assert.Equal(t, []string{"Derived"}, names(subs.Symbols))
}

func symbolStrings(syms []*IndexedSymbol) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = s.String()
	}
	return out
}
