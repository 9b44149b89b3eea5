// Package extract turns parsed source files into index documents: one
// module document per file and one document per top-level class.
package extract

import (
	"path/filepath"
	"strings"

	"github.com/jward/pyindex/internal/scopes"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// Builder produces the documents for one Python module.
type Builder struct {
	Module     string
	Location   string
	System     bool // file lives under a system library root
	Deprecated bool // module is listed as deprecated by the policy
}

// Build emits the module document followed by one document per class bound
// at module level.
func (b *Builder) Build(table *scopes.Table) []*store.Document {
	mod := store.NewDocument(b.Location)
	mod.AddPair(store.FieldModule, b.Module, true, true)
	if attrs := signature.EncodeModuleAttrs(signature.ModuleAttrs{System: b.System, Deprecated: b.Deprecated}); attrs != "" {
		mod.AddPair(store.FieldModAttrs, attrs, false, true)
	}
	docs := []*store.Document{mod}

	scope := table.ScopeInfo(table.Module())
	if scope == nil {
		return docs
	}
	for _, name := range scope.Names() {
		if !signature.ValidName(name) {
			continue
		}
		sym := scope.Bindings[name]
		switch {
		case sym.IsClass():
			mod.AddPair(store.FieldItem, signature.Encode(signature.KindClass, symFlags(sym, 0), name, nil), true, true)
			// A name bound both as a class and a function keeps whichever
			// definition came first; only real class nodes get a document.
			if sym.Node != nil && sym.Node.Kind == scopes.NodeClass {
				docs = append(docs, b.classDocument(table, name, sym))
			}
		case sym.IsFunction():
			if sym.Node != nil && sym.Node.Kind == scopes.NodeFunction {
				mod.AddPair(store.FieldItem, FunctionSignature(name, sym.Node, sym), true, true)
			}
		case sym.IsImported():
			if name != "*" {
				mod.AddPair(store.FieldItem, signature.Encode(signature.KindImport, symFlags(sym, 0), name, nil), true, true)
			}
		case sym.IsGeneratorExp():
			mod.AddPair(store.FieldItem, signature.Encode(signature.KindGenerator, symFlags(sym, 0), name, nil), true, true)
		case sym.IsData():
			mod.AddPair(store.FieldItem, signature.Encode(signature.KindData, symFlags(sym, 0), name, nil), true, true)
		}
	}
	return docs
}

func (b *Builder) classDocument(table *scopes.Table, name string, classSym *scopes.SymInfo) *store.Document {
	doc := store.NewDocument(b.Location)
	doc.AddPair(store.FieldIn, b.Module, true, true)
	for _, base := range classSym.Node.Bases {
		if ext := ExtendsName(base); ext != "" {
			doc.AddPair(store.FieldExtends, ext, true, true)
		}
	}
	doc.AddPair(store.FieldClass, name, true, true)
	if classSym.IsPrivate() {
		doc.AddPair(store.FieldClassAttrs, signature.EncodeFlags(signature.Private), false, true)
	}
	doc.AddPair(store.FieldClassCI, strings.ToLower(name), true, true)

	scope := table.ScopeInfo(classSym.Node)
	if scope == nil {
		return doc
	}
	// Declared bindings first, then attributes discovered in method bodies.
	for _, n := range scope.Names() {
		addMember(doc, n, scope.Bindings[n])
	}
	for _, n := range scope.AttributeNames() {
		addMember(doc, n, scope.Attributes[n])
	}
	return doc
}

func addMember(doc *store.Document, name string, sym *scopes.SymInfo) {
	if !signature.ValidName(name) {
		return
	}
	switch {
	case sym.IsClass():
		doc.AddPair(store.FieldItem, signature.Encode(signature.KindClass, symFlags(sym, 0), name, nil), true, true)
	case sym.IsFunction() && sym.Node != nil && sym.Node.Kind == scopes.NodeFunction:
		doc.AddPair(store.FieldMember, FunctionSignature(name, sym.Node, sym), true, true)
	case sym.IsData():
		doc.AddPair(store.FieldMember, signature.Encode(signature.KindData, symFlags(sym, 0), name, nil), true, true)
	case sym.IsMember():
		doc.AddPair(store.FieldMember, signature.Encode(signature.KindAttribute, symFlags(sym, 0), name, nil), true, true)
	}
}

// FunctionSignature encodes a function definition. __init__ and
// @classmethod factories are constructors; @property reads as an
// attribute; @staticmethod adds Static.
func FunctionSignature(name string, fn *scopes.Node, sym *scopes.SymInfo) string {
	kind := signature.KindFunction
	var flags signature.Flags
	if name == "__init__" {
		kind = signature.KindConstructor
	} else {
		for _, d := range fn.Decorators {
			switch d {
			case "property":
				kind = signature.KindAttribute
			case "classmethod":
				kind = signature.KindConstructor
				flags |= signature.Constructor | signature.Static
			case "staticmethod":
				flags |= signature.Static
			}
		}
	}
	params := fn.Params
	if kind == signature.KindAttribute {
		params = nil
	}
	return signature.Encode(kind, constructorFlags(kind, symFlags(sym, flags)), name, params)
}

// symFlags folds the binding's privacy into flags.
func symFlags(sym *scopes.SymInfo, flags signature.Flags) signature.Flags {
	if sym != nil && sym.IsPrivate() {
		flags |= signature.Private
	}
	return flags
}

// constructorFlags adds the Constructor bit every 'c' signature carries.
func constructorFlags(kind signature.Kind, flags signature.Flags) signature.Flags {
	if kind == signature.KindConstructor {
		flags |= signature.Constructor
	}
	return flags
}

// ExtendsName reduces a base-class expression to a plain name: an
// identifier stays as is, a dotted chain yields its rightmost identifier,
// anything else (subscripts, calls) yields "".
func ExtendsName(expr string) string {
	expr = strings.Join(strings.Fields(expr), "")
	if expr == "" {
		return ""
	}
	parts := strings.Split(expr, ".")
	for _, p := range parts {
		if !isIdentifier(p) {
			return ""
		}
	}
	return parts[len(parts)-1]
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 127:
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ModuleName derives the dotted module name of a file relative to the root
// it was found under. A package's __init__.py names the package itself.
func ModuleName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	if rel == "__init__" {
		return filepath.Base(root)
	}
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}
