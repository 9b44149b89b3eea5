package pyindex

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/jward/pyindex/internal/logging"
	"github.com/jward/pyindex/internal/runtime"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// Backend is the query side of the document store. *Store implements it.
type Backend interface {
	Query(field, value string, kind MatchKind, fields ...string) ([]*Result, error)
}

var _ Backend = (*store.Store)(nil)

// Index answers symbol queries over a Backend. It holds no per-query
// state and is safe for concurrent use. No method returns an error: failed
// backend lookups are logged at debug level and contribute nothing.
type Index struct {
	backend Backend
	cache   *ClassificationCache
	policy  *runtime.Policy
	logger  *slog.Logger

	// The file queries originate from, if any. Private module items of
	// this file stay visible and its own symbols are not inherited.
	contextLocation string
	contextModule   string
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithContext ties the Index to the file at location, whose module name
// is module.
func WithContext(location, module string) IndexOption {
	return func(ix *Index) {
		ix.contextLocation = location
		ix.contextModule = module
	}
}

// WithClassificationCache shares cache between Index values.
func WithClassificationCache(cache *ClassificationCache) IndexOption {
	return func(ix *Index) {
		ix.cache = cache
	}
}

// WithIndexPolicy sets the classification policy. The embedded default
// policy is used otherwise.
func WithIndexPolicy(p *Policy) IndexOption {
	return func(ix *Index) {
		ix.policy = p
	}
}

// WithIndexLogger sets the logger for swallowed backend errors.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// NewIndex creates an Index over backend.
func NewIndex(backend Backend, opts ...IndexOption) *Index {
	ix := &Index{backend: backend}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = logging.NewDiscardLogger()
	}
	if ix.cache == nil {
		ix.cache = NewClassificationCache(backend, InvalidateNever, ix.logger)
	}
	if ix.policy == nil {
		p, err := runtime.DefaultPolicy()
		if err != nil {
			ix.logger.Warn("default policy unavailable", "error", err)
		}
		ix.policy = p
	}
	return ix
}

// ContextLocation returns the location the Index is tied to, or "".
func (ix *Index) ContextLocation() string { return ix.contextLocation }

// Cache returns the classification cache.
func (ix *Index) Cache() *ClassificationCache { return ix.cache }

// search runs one backend query, turning failures into an empty result.
func (ix *Index) search(field, value string, kind MatchKind, fields ...string) []*Result {
	results, err := ix.backend.Query(field, value, kind, fields...)
	if err != nil {
		ix.logger.Debug("index query failed",
			"field", field, "value", value, "kind", kind.String(), "error", err)
		return nil
	}
	return results
}

// nameFilter matches the name section of stored signatures.
type nameFilter func(sig string) bool

// signatureFilter returns the per-signature check for a name lookup. It is
// applied to every signature of a hit, since a matching document also
// carries unrelated values.
func signatureFilter(name string, kind MatchKind) (nameFilter, error) {
	switch kind {
	case Exact:
		return func(sig string) bool { return signature.HasName(sig, name) }, nil
	case Prefix, CaseInsensitivePrefix:
		match, err := store.NewMatcher(kind, name)
		if err != nil {
			return nil, err
		}
		return nameFilter(match), nil
	}
	match, err := store.NewMatcher(kind, name)
	if err != nil {
		return nil, err
	}
	return func(sig string) bool { return match(signature.Name(sig)) }, nil
}

// signatureQuery plans a name lookup on a signature-valued field (item or
// member). Stored values carry the whole signature, so an exact name
// lookup becomes a prefix query whose hits are checked for the delimiter
// right after the name, and regular expressions are extended to swallow
// the rest of the signature.
func signatureQuery(name string, kind MatchKind) (MatchKind, string, nameFilter, error) {
	filter, err := signatureFilter(name, kind)
	if err != nil {
		return 0, "", nil, err
	}
	switch kind {
	case Exact:
		return Prefix, name, filter, nil
	case Regexp, CaseInsensitiveRegexp:
		return kind, "(?:" + name + ");.*", filter, nil
	}
	return kind, name, filter, nil
}

// searchSignatures runs a name lookup on a signature-valued field and
// calls visit for every matching signature of every hit.
func (ix *Index) searchSignatures(field, name string, kind MatchKind, fields []string, visit func(r *Result, sig string)) {
	qkind, qvalue, filter, err := signatureQuery(name, kind)
	if err != nil {
		ix.logger.Debug("unsupported signature query", "field", field, "value", name, "kind", kind.String(), "error", err)
		return
	}
	for _, r := range ix.search(field, qvalue, qkind, fields...) {
		for _, sig := range r.Values(field) {
			if filter(sig) {
				visit(r, sig)
			}
		}
	}
}

// decode builds a symbol from a stored signature, logging and skipping
// malformed values.
func (ix *Index) decode(sig, module, location, owner string) *IndexedSymbol {
	sym, err := newIndexedSymbol(sig, module, location, owner)
	if err != nil {
		ix.logger.Debug("skipping malformed signature", "location", location, "error", err)
		return nil
	}
	return sym
}

func (ix *Index) isBuiltinModule(module string) bool {
	return ix.policy != nil && ix.policy.IsBuiltinModule(module)
}

func (ix *Index) builtinModules() []string {
	if ix.policy == nil {
		return nil
	}
	return ix.policy.BuiltinModules()
}

// inheritedFrom reports whether a hit at location counts as coming from
// another file.
func (ix *Index) inheritedFrom(location string) bool {
	return ix.contextLocation == "" || ix.contextLocation != location
}

// symbolSet collects symbols, keeping the first of each key.
type symbolSet struct {
	seen map[string]bool
	out  []*IndexedSymbol
}

func newSymbolSet() *symbolSet { return &symbolSet{seen: make(map[string]bool)} }

func (s *symbolSet) add(key string, sym *IndexedSymbol) bool {
	if sym == nil || s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.out = append(s.out, sym)
	return true
}

// push appends sym without deduplication.
func (s *symbolSet) push(sym *IndexedSymbol) {
	if sym != nil {
		s.out = append(s.out, sym)
	}
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Modules and packages
// =============================================================================

// Modules returns the modules whose name matches. Skipped stub modules are
// omitted and deprecated modules carry FlagDeprecated.
func (ix *Index) Modules(name string, kind MatchKind) []*IndexedSymbol {
	set := newSymbolSet()
	for _, r := range ix.search(store.FieldModule, name, kind, store.FieldModAttrs, store.FieldModule) {
		module := r.Value(store.FieldModule)
		if module == "" || (ix.policy != nil && ix.policy.IsSkipped(module)) {
			continue
		}
		sym := &IndexedSymbol{
			Name:     module,
			Kind:     KindModule,
			Module:   module,
			Location: r.Location,
			Builtin:  ix.isBuiltinModule(module),
		}
		if signature.DecodeModuleAttrs(r.Value(store.FieldModAttrs)).Deprecated {
			sym.Flags |= FlagDeprecated
		}
		set.add(module+"\x00"+r.Location, sym)
	}
	return set.out
}

// Packages returns the package level just below name for every module
// under it: for "xml.d" and module "xml.dom.minidom" that is package "dom"
// with Module "xml.dom".
func (ix *Index) Packages(name string, kind MatchKind) []*IndexedSymbol {
	var out []*IndexedSymbol
	byPackage := make(map[string]*IndexedSymbol)
	for _, r := range ix.search(store.FieldModule, name, kind, store.FieldModule) {
		module := r.Value(store.FieldModule)
		lastDot := strings.LastIndexByte(module, '.')

		var pkgName, pkg string
		subpackages := false
		switch {
		case len(name) < lastDot:
			next := strings.IndexByte(module[len(name):], '.')
			if next < 0 {
				continue
			}
			next += len(name)
			pkg = module[:next]
			subpackages = strings.IndexByte(module[next+1:], '.') >= 0
			start := strings.LastIndexByte(module[:len(name)+1], '.') + 1
			pkgName = module[start:next]
		case lastDot >= 0:
			pkgName = module[lastDot+1:]
			pkg = module
		default:
			continue
		}

		if prev, ok := byPackage[pkg]; ok {
			prev.HasSubpackages = prev.HasSubpackages || subpackages
			continue
		}
		sym := &IndexedSymbol{
			Name:           pkgName,
			Kind:           KindPackage,
			Module:         pkg,
			Location:       r.Location,
			HasSubpackages: subpackages,
		}
		byPackage[pkg] = sym
		out = append(out, sym)
	}
	return out
}

// =============================================================================
// Classes
// =============================================================================

// classField picks the class-name field a match kind searches. The
// case-insensitive prefix and regexp kinds search the lower-cased copy;
// case-insensitive camel case needs the original humps and searches the
// class name itself, where the matcher also tries a folded prefix.
func classField(kind MatchKind) string {
	switch kind {
	case CaseInsensitivePrefix, CaseInsensitiveRegexp:
		return store.FieldClassCI
	}
	return store.FieldClass
}

// Classes returns the classes whose name matches. Without duplicates the
// first record of each class name wins.
func (ix *Index) Classes(name string, kind MatchKind, includeDuplicates bool) []*IndexedSymbol {
	value := name
	if classField(kind) == store.FieldClassCI && kind != CaseInsensitiveRegexp {
		value = strings.ToLower(name)
	}
	set := newSymbolSet()
	for _, r := range ix.search(classField(kind), value, kind, store.FieldIn, store.FieldClassAttrs, store.FieldClass) {
		clz := r.Value(store.FieldClass)
		if clz == "" {
			continue
		}
		sym := ix.classSymbol(clz, r)
		if includeDuplicates {
			set.push(sym)
			continue
		}
		sym.Inherited = true
		set.add(clz, sym)
	}
	return set.out
}

// classSymbol builds the class element for a class-record hit.
func (ix *Index) classSymbol(name string, r *Result) *IndexedSymbol {
	module := r.Value(store.FieldIn)
	sym := &IndexedSymbol{
		Name:     name,
		Kind:     KindClass,
		Module:   module,
		Location: r.Location,
		Builtin:  ix.isBuiltinModule(module),
	}
	if attrs := r.Value(store.FieldClassAttrs); attrs != "" {
		if flags, err := signature.DecodeFlags(attrs); err == nil {
			sym.Flags = flags
		} else {
			ix.logger.Debug("skipping malformed class attributes", "class", name, "error", err)
		}
	}
	return sym
}

// IsLowercaseClassName reports whether name is an indexed class whose
// name does not start with an upper-case letter, such as "str".
func (ix *Index) IsLowercaseClassName(name string) bool {
	return ix.cache.IsLowercaseClassName(name)
}

// Exceptions returns the classes that reach Exception or BaseException
// through their base classes and whose name matches.
func (ix *Index) Exceptions(name string, kind MatchKind) []*IndexedSymbol {
	results := ix.search(store.FieldExtends, "", Prefix,
		store.FieldExtends, store.FieldClass, store.FieldClassAttrs, store.FieldIn)

	bases := make(map[string][]string, len(results))
	for _, r := range results {
		if clz := r.Value(store.FieldClass); clz != "" {
			bases[clz] = append(bases[clz], r.Values(store.FieldExtends)...)
		}
	}

	memo := map[string]bool{"Exception": true, "BaseException": true}
	var isException func(clz string, visiting map[string]bool) bool
	isException = func(clz string, visiting map[string]bool) bool {
		if v, ok := memo[clz]; ok {
			return v
		}
		if visiting[clz] {
			return false
		}
		visiting[clz] = true
		found := false
		for _, b := range bases[clz] {
			if isException(b, visiting) {
				found = true
				break
			}
		}
		delete(visiting, clz)
		memo[clz] = found
		return found
	}

	match, err := store.NewMatcher(kind, name)
	if err != nil {
		ix.logger.Debug("unsupported exception query", "value", name, "kind", kind.String(), "error", err)
		return nil
	}
	set := newSymbolSet()
	for _, r := range results {
		clz := r.Value(store.FieldClass)
		if clz == "" || !match(clz) || !isException(clz, make(map[string]bool)) {
			continue
		}
		set.add(clz+"\x00"+r.Location, ix.classSymbol(clz, r))
	}
	return set.out
}

// =============================================================================
// Members and module items
// =============================================================================

// AllMembers returns the class members whose name matches, across every
// class. Without duplicates the first member with a given owner and
// signature wins.
func (ix *Index) AllMembers(name string, kind MatchKind, includeDuplicates bool) []*IndexedSymbol {
	set := newSymbolSet()
	fields := []string{store.FieldIn, store.FieldExtends, store.FieldMember, store.FieldClass}
	ix.searchSignatures(store.FieldMember, name, kind, fields, func(r *Result, sig string) {
		clz := r.Value(store.FieldClass)
		sym := ix.decode(sig, r.Value(store.FieldIn), r.Location, clz)
		if sym == nil {
			return
		}
		sym.Inherited = ix.inheritedFrom(r.Location)
		if includeDuplicates {
			set.push(sym)
			return
		}
		set.add(clz+"\x00"+sig, sym)
	})
	return set.out
}

// AllElements returns the module items whose name matches. Private items
// are only returned from the Index's own file.
func (ix *Index) AllElements(name string, kind MatchKind, includeDuplicates bool) []*IndexedSymbol {
	set := newSymbolSet()
	fields := []string{store.FieldItem, store.FieldModule}
	ix.searchSignatures(store.FieldItem, name, kind, fields, func(r *Result, sig string) {
		module := r.Value(store.FieldModule)
		sym := ix.decode(sig, module, r.Location, "")
		if sym == nil {
			return
		}
		if sym.IsPrivate() && r.Location != ix.contextLocation {
			return
		}
		sym.Inherited = ix.inheritedFrom(r.Location)
		sym.Builtin = ix.isBuiltinModule(module)
		if includeDuplicates {
			set.push(sym)
			return
		}
		set.add(module+"\x00"+sig, sym)
	})
	return set.out
}

// =============================================================================
// Imports
// =============================================================================

// moduleItemNames returns the names of the non-private items of module.
func (ix *Index) moduleItemNames(module string) []string {
	names := make(map[string]bool)
	for _, r := range ix.search(store.FieldModule, module, Exact, store.FieldItem, store.FieldModule) {
		for _, sig := range r.Values(store.FieldItem) {
			d, err := signature.Decode(sig)
			if err != nil {
				ix.logger.Debug("skipping malformed signature", "location", r.Location, "error", err)
				continue
			}
			if d.Flags.Has(FlagPrivate) {
				continue
			}
			names[d.Name] = true
		}
	}
	return sortedSet(names)
}

// BuiltinSymbols returns every name of the builtin namespace: the public
// items of the builtin modules plus the names no module documents.
func (ix *Index) BuiltinSymbols() []string {
	symbols := make(map[string]bool, 256)
	for _, module := range ix.builtinModules() {
		for _, name := range ix.moduleItemNames(module) {
			symbols[name] = true
		}
	}
	if ix.policy != nil {
		for _, name := range ix.policy.MissingBuiltins() {
			symbols[name] = true
		}
	}
	symbols["__builtins__"] = true
	symbols["__file__"] = true
	return sortedSet(symbols)
}

// ImportsFor returns the modules an import of ident could come from: a
// module named ident, and every module defining a public item named ident.
// With includeSymbol the defining modules are rendered as "module: ident"
// (functions with their parameters), and modules that merely import ident
// are left out.
func (ix *Index) ImportsFor(ident string, includeSymbol bool) []string {
	modules := make(map[string]bool)
	for _, r := range ix.search(store.FieldModule, ident, Exact, store.FieldModule) {
		if m := r.Value(store.FieldModule); m != "" {
			modules[m] = true
		}
	}

	for _, r := range ix.search(store.FieldItem, ident, Prefix, store.FieldItem, store.FieldModule) {
		module := r.Value(store.FieldModule)
		// Scripts in dashed directories get names that cannot be imported.
		if module == "" || strings.ContainsRune(module, '-') {
			continue
		}
		for _, sig := range r.Values(store.FieldItem) {
			if !signature.HasName(sig, ident) {
				continue
			}
			if !includeSymbol {
				modules[module] = true
				break
			}
			d, err := signature.Decode(sig)
			if err != nil || d.Flags.Has(FlagPrivate) || d.Kind == signature.KindImport {
				continue
			}
			label := ident
			if d.Kind == signature.KindFunction {
				label = ident + "(" + strings.Join(d.Params, ",") + ")"
			}
			if label == module {
				modules[module] = true
			} else {
				modules[module+": "+label] = true
			}
			break
		}
	}
	return sortedSet(modules)
}

// ImportedElements returns the symbols visible in the Index's file through
// wildcard imports of wildcardModules, the file's own module and the
// builtin modules.
func (ix *Index) ImportedElements(prefix string, kind MatchKind, wildcardModules []string) []*IndexedSymbol {
	modules := append([]string(nil), wildcardModules...)
	if ix.contextModule != "" {
		modules = append(modules, ix.contextModule)
	}
	modules = append(modules, ix.builtinModules()...)
	elements, _ := ix.ElementsFromModules(prefix, kind, modules)
	return elements
}

// ElementsFromModules returns the public items of modules whose name
// matches, and the subset of modules that are system or builtin modules.
func (ix *Index) ElementsFromModules(prefix string, kind MatchKind, modules []string) ([]*IndexedSymbol, []string) {
	filter, err := signatureFilter(prefix, kind)
	if err != nil {
		ix.logger.Debug("unsupported signature query", "value", prefix, "kind", kind.String(), "error", err)
		return nil, nil
	}

	set := newSymbolSet()
	systemSet := make(map[string]bool)
	seenModules := make(map[string]bool, len(modules))
	for _, module := range modules {
		if seenModules[module] {
			continue
		}
		seenModules[module] = true

		builtin := ix.isBuiltinModule(module)
		system := builtin
		for _, r := range ix.search(store.FieldModule, module, Exact, store.FieldItem, store.FieldModAttrs, store.FieldModule) {
			items := r.Values(store.FieldItem)
			if len(items) == 0 {
				continue
			}
			if signature.DecodeModuleAttrs(r.Value(store.FieldModAttrs)).System {
				system = true
			}
			for _, sig := range items {
				if !filter(sig) {
					continue
				}
				sym := ix.decode(sig, module, r.Location, "")
				if sym == nil || sym.IsPrivate() {
					continue
				}
				sym.Builtin = builtin
				sym.Inherited = true
				set.add(module+"\x00"+sig, sym)
			}
		}
		if system {
			systemSet[module] = true
		}
	}
	return set.out, sortedSet(systemSet)
}

// ImportedFromWildcards returns the names a "from m import *" of each
// module brings in. Results for system modules are cached.
func (ix *Index) ImportedFromWildcards(modules []string) []string {
	symbols := make(map[string]bool, 128)
	for _, module := range modules {
		var names []string
		if ix.IsSystemModule(module) {
			names = ix.cache.WildcardImports(module, func() []string {
				return ix.moduleItemNames(module)
			})
		} else {
			names = ix.moduleItemNames(module)
		}
		for _, n := range names {
			symbols[n] = true
		}
	}
	return sortedSet(symbols)
}

// IsSystemModule reports whether module was indexed from a system root or
// falls under a system prefix of the policy.
func (ix *Index) IsSystemModule(module string) bool {
	if ix.policy != nil && ix.policy.IsSystemPrefix(module) {
		return true
	}
	return ix.cache.IsSystemModule(module)
}
