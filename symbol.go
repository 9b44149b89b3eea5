package pyindex

import (
	"strings"

	"github.com/jward/pyindex/internal/signature"
)

// ElementKind classifies an IndexedSymbol.
type ElementKind string

const (
	KindModule        ElementKind = "module"
	KindPackage       ElementKind = "package"
	KindClass         ElementKind = "class"
	KindMethod        ElementKind = "method"
	KindConstructor   ElementKind = "constructor"
	KindAttribute     ElementKind = "attribute"
	KindFunction      ElementKind = "function"
	KindData          ElementKind = "data"
	KindImport        ElementKind = "import"
	KindGeneratorExpr ElementKind = "generator"
)

// IndexedSymbol is one symbol returned by an Index query.
type IndexedSymbol struct {
	Name     string
	Kind     ElementKind
	Owner    string // enclosing class, "" at module level
	Module   string
	Location string // "" for synthetic entries
	Flags    Flags
	Params   []string // callable kinds only

	// Builtin marks symbols of the modules that make up the builtin
	// namespace.
	Builtin bool
	// HasSubpackages is set on packages with dotted children below the
	// returned level.
	HasSubpackages bool

	// Inherited is true when the symbol was reached through an ancestor
	// class or comes from a file other than the querying one.
	Inherited bool
	// Order is the position, in breadth-first visit order, of the class
	// that declares the symbol. Only set by override-preserving
	// resolution; 0 is the queried class.
	Order int

	// Signature is the stored encoding the symbol was decoded from.
	Signature string
}

// elementKind maps a stored kind character to the public kind. Functions
// owned by a class are methods.
func elementKind(k signature.Kind, owner string) ElementKind {
	switch k {
	case signature.KindClass:
		return KindClass
	case signature.KindFunction:
		if owner != "" {
			return KindMethod
		}
		return KindFunction
	case signature.KindConstructor:
		return KindConstructor
	case signature.KindAttribute:
		return KindAttribute
	case signature.KindData:
		return KindData
	case signature.KindImport:
		return KindImport
	case signature.KindGenerator:
		return KindGeneratorExpr
	}
	return KindData
}

// newIndexedSymbol decodes sig. owner is the enclosing class for member
// signatures and "" for module items.
func newIndexedSymbol(sig, module, location, owner string) (*IndexedSymbol, error) {
	d, err := signature.Decode(sig)
	if err != nil {
		return nil, err
	}
	return &IndexedSymbol{
		Name:      d.Name,
		Kind:      elementKind(d.Kind, owner),
		Owner:     owner,
		Module:    module,
		Location:  location,
		Flags:     d.Flags,
		Params:    d.Params,
		Signature: sig,
	}, nil
}

func (s *IndexedSymbol) IsPrivate() bool     { return s.Flags.Has(FlagPrivate) }
func (s *IndexedSymbol) IsDeprecated() bool  { return s.Flags.Has(FlagDeprecated) }
func (s *IndexedSymbol) IsStatic() bool      { return s.Flags.Has(FlagStatic) }
func (s *IndexedSymbol) IsConstructor() bool { return s.Flags.Has(FlagConstructor) }
func (s *IndexedSymbol) IsDocumented() bool  { return s.Flags.Has(FlagDocumented) }
func (s *IndexedSymbol) IsDocOnly() bool     { return s.Flags.Has(FlagDocOnly) }

// Callable reports whether the symbol takes parameters.
func (s *IndexedSymbol) Callable() bool {
	switch s.Kind {
	case KindFunction, KindMethod, KindConstructor:
		return true
	}
	return false
}

// QualifiedName returns Owner.Name for members and Name otherwise.
func (s *IndexedSymbol) QualifiedName() string {
	if s.Owner != "" {
		return s.Owner + "." + s.Name
	}
	return s.Name
}

// String renders the symbol the way completion lists show it: callables
// with their parameter list.
func (s *IndexedSymbol) String() string {
	if !s.Callable() {
		return s.Name
	}
	return s.Name + "(" + strings.Join(s.Params, ", ") + ")"
}
