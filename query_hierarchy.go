package pyindex

import (
	"github.com/jward/pyindex/internal/store"
)

// ResolvedClass is one class record key reached during resolution.
type ResolvedClass struct {
	Name  string
	Depth int // 0 for the queried class
}

// MemberResolution is the outcome of ResolveMembers.
type MemberResolution struct {
	Symbols []*IndexedSymbol
	// Classes lists every class key that had records, in visit order,
	// starting with the queried class when it exists.
	Classes []ResolvedClass
	// Visited counts the class keys looked up, found or not. Each key is
	// looked up at most once per resolution.
	Visited int
}

// Ancestors returns the names of the resolved classes other than the
// queried one.
func (m *MemberResolution) Ancestors() []string {
	var out []string
	for _, c := range m.Classes {
		if c.Depth > 0 {
			out = append(out, c.Name)
		}
	}
	return out
}

// classNode is a class key whose records have been loaded and that waits
// in the breadth-first queue.
type classNode struct {
	name    string
	depth   int
	records []*Result
}

// memberWalk is the state of one ResolveMembers call.
type memberWalk struct {
	ix               *Index
	filter           nameFilter
	includeOverrides bool

	scanned        map[string]bool
	seenSignatures map[string]bool
	res            *MemberResolution
}

// lookup marks key scanned and loads its class records. A key that was
// already scanned reports no records, which sends qualification on to the
// next candidate.
func (w *memberWalk) lookup(key string) []*Result {
	if w.scanned[key] {
		return nil
	}
	w.scanned[key] = true
	w.res.Visited++
	return w.ix.search(store.FieldClass, key, Exact,
		store.FieldIn, store.FieldExtends, store.FieldMember, store.FieldClass)
}

// ResolveMembers collects the members of classFqn and of every class it
// reaches through its bases, filtered by name and kind. An empty classFqn
// resolves the root class.
//
// Classes are visited breadth-first. Base names are plain names: each is
// looked up as written, then qualified by the enclosing namespaces of the
// class that names it, innermost first. A class without bases inherits
// from the root class, which is never expanded further.
//
// Without includeOverrides a signature already returned from a closer
// class hides the same signature further out. With it every match is
// returned and Order tells the declaring classes apart.
func (ix *Index) ResolveMembers(classFqn, name string, kind MatchKind, includeOverrides bool) *MemberResolution {
	res := &MemberResolution{}
	filter, err := signatureFilter(name, kind)
	if err != nil {
		ix.logger.Debug("unsupported member query", "class", classFqn, "value", name, "kind", kind.String(), "error", err)
		return res
	}
	if classFqn == "" {
		classFqn = RootClass
	}

	w := &memberWalk{
		ix:               ix,
		filter:           filter,
		includeOverrides: includeOverrides,
		scanned:          make(map[string]bool),
		seenSignatures:   make(map[string]bool),
		res:              res,
	}

	records := w.lookup(classFqn)
	if len(records) == 0 {
		return res
	}
	queue := []classNode{{name: classFqn, depth: 0, records: records}}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		order := len(res.Classes)
		res.Classes = append(res.Classes, ResolvedClass{Name: node.name, Depth: node.depth})
		bases := w.emit(node, order)

		if node.name == RootClass {
			continue
		}
		if len(bases) == 0 {
			if root := w.lookup(RootClass); len(root) > 0 {
				queue = append(queue, classNode{name: RootClass, depth: node.depth + 1, records: root})
			}
			continue
		}
		ns := EnclosingNamespace(node.name)
		for _, base := range bases {
			q := bareThenQualified(base, ns)
			for {
				key, ok := q.Next()
				if !ok {
					break
				}
				if found := w.lookup(key); len(found) > 0 {
					queue = append(queue, classNode{name: key, depth: node.depth + 1, records: found})
					break
				}
			}
		}
	}
	return res
}

// emit adds the matching members of every record of node and returns the
// union of the records' base names.
func (w *memberWalk) emit(node classNode, order int) []string {
	var bases []string
	seenBase := make(map[string]bool)
	for _, r := range node.records {
		for _, b := range r.Values(store.FieldExtends) {
			if !seenBase[b] {
				seenBase[b] = true
				bases = append(bases, b)
			}
		}

		clz := r.Value(store.FieldClass)
		module := r.Value(store.FieldIn)
		for _, sig := range r.Values(store.FieldMember) {
			if !w.filter(sig) {
				continue
			}
			if !w.includeOverrides {
				if w.seenSignatures[sig] {
					continue
				}
				w.seenSignatures[sig] = true
			}
			sym := w.ix.decode(sig, module, r.Location, clz)
			if sym == nil {
				continue
			}
			sym.Inherited = node.depth > 0
			if w.includeOverrides {
				sym.Order = order
			}
			w.res.Symbols = append(w.res.Symbols, sym)
		}
	}
	return bases
}

// InheritedElements returns the members ResolveMembers finds.
func (ix *Index) InheritedElements(classFqn, name string, kind MatchKind, includeOverrides bool) []*IndexedSymbol {
	return ix.ResolveMembers(classFqn, name, kind, includeOverrides).Symbols
}

// OverridingMethods returns the definitions of member name in the
// ancestors of className: the implementations a definition of name in
// className overrides.
func (ix *Index) OverridingMethods(className, name string) []*IndexedSymbol {
	var out []*IndexedSymbol
	for _, sym := range ix.InheritedElements(className, name, Exact, true) {
		if sym.Owner != className {
			out = append(out, sym)
		}
	}
	return out
}

// SuperClasses returns the records of the classes className names as its
// bases.
func (ix *Index) SuperClasses(className string) []*IndexedSymbol {
	var bases []string
	seen := make(map[string]bool)
	for _, r := range ix.search(store.FieldClass, className, Exact, store.FieldExtends, store.FieldClass) {
		for _, b := range r.Values(store.FieldExtends) {
			if !seen[b] {
				seen[b] = true
				bases = append(bases, b)
			}
		}
	}

	set := newSymbolSet()
	for _, base := range bases {
		for _, r := range ix.search(store.FieldClass, base, Exact, store.FieldIn, store.FieldClassAttrs, store.FieldClass) {
			set.add(base+"\x00"+r.Location+"\x00"+r.Value(store.FieldIn), ix.classSymbol(base, r))
		}
	}
	return set.out
}

// SubclassResolution is the outcome of ResolveSubclasses.
type SubclassResolution struct {
	Symbols []*IndexedSymbol
	// Visited counts the class keys whose subclasses were looked up.
	Visited int
}

// subclassWalk is the state of one ResolveSubclasses call.
type subclassWalk struct {
	ix         *Index
	directOnly bool
	scanned    map[string]bool
	seen       map[string]bool
	res        *SubclassResolution
}

// expand adds the subclasses of key, and transitively theirs unless
// directOnly, and reports whether key had any.
func (w *subclassWalk) expand(key string) bool {
	if w.scanned[key] {
		return false
	}
	queue := []string{key}
	found := false
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if w.scanned[current] {
			continue
		}
		w.scanned[current] = true
		w.res.Visited++

		results := w.ix.search(store.FieldExtends, current, Exact,
			store.FieldIn, store.FieldExtends, store.FieldClassAttrs, store.FieldClass)
		if current == key {
			found = len(results) > 0
		}
		for _, r := range results {
			clz := r.Value(store.FieldClass)
			if clz == "" || w.seen[clz] {
				continue
			}
			w.seen[clz] = true
			w.res.Symbols = append(w.res.Symbols, w.ix.classSymbol(clz, r))
			if !w.directOnly {
				queue = append(queue, clz)
			}
		}
	}
	return found
}

// ResolveSubclasses finds the classes whose bases reach classFqn, directly
// or, unless directOnly, transitively. When classFqn has no subclasses,
// shortName is retried qualified by each enclosing namespace of classFqn,
// innermost first, and finally bare.
func (ix *Index) ResolveSubclasses(classFqn, shortName string, directOnly bool) *SubclassResolution {
	res := &SubclassResolution{}
	w := &subclassWalk{
		ix:         ix,
		directOnly: directOnly,
		scanned:    make(map[string]bool),
		seen:       make(map[string]bool),
		res:        res,
	}
	if classFqn != "" && w.expand(classFqn) {
		return res
	}
	if shortName == "" {
		return res
	}
	q := qualifiedThenBare(shortName, EnclosingNamespace(classFqn))
	for {
		key, ok := q.Next()
		if !ok || w.expand(key) {
			return res
		}
	}
}

// Subclasses returns the classes ResolveSubclasses finds.
func (ix *Index) Subclasses(classFqn, shortName string, directOnly bool) []*IndexedSymbol {
	return ix.ResolveSubclasses(classFqn, shortName, directOnly).Symbols
}
