// Package scopes builds per-file scope tables for Python source: the module
// scope and one scope per class, each mapping bound names to what they are
// bound to. Class scopes also carry the attributes assigned through the
// instance parameter inside methods (self.x = ...), which the lexical class
// body does not declare.
package scopes

import "strings"

// Flags describe how a name is bound in a scope.
type Flags uint16

const (
	Bound Flags = 1 << iota
	Class
	Function
	Imported
	GeneratorExp
	Data
	Member
	Private
)

// NodeKind distinguishes definition nodes.
type NodeKind int

const (
	NodeModule NodeKind = iota
	NodeClass
	NodeFunction
)

// Node is a definition that owns or names a scope. It keeps only the text
// needed by the indexer, never the parse tree.
type Node struct {
	Kind       NodeKind
	Name       string
	Bases      []string // class base expressions as written
	Decorators []string // decorator names without '@' or call arguments
	Params     []string // parameter names; splats keep their stars
	Line       int      // 0-based start line
}

// HasDecorator reports whether the node carries decorator name.
func (n *Node) HasDecorator(name string) bool {
	for _, d := range n.Decorators {
		if d == name {
			return true
		}
	}
	return false
}

// SymInfo is one binding. Node is set for class and function bindings.
type SymInfo struct {
	Flags Flags
	Node  *Node
}

func (s *SymInfo) IsClass() bool        { return s.Flags&Class != 0 }
func (s *SymInfo) IsFunction() bool     { return s.Flags&Function != 0 }
func (s *SymInfo) IsImported() bool     { return s.Flags&Imported != 0 }
func (s *SymInfo) IsGeneratorExp() bool { return s.Flags&GeneratorExp != 0 }
func (s *SymInfo) IsData() bool         { return s.Flags&Data != 0 }
func (s *SymInfo) IsMember() bool       { return s.Flags&Member != 0 }
func (s *SymInfo) IsPrivate() bool      { return s.Flags&Private != 0 }

// ScopeInfo holds the bindings of one scope in first-binding order.
type ScopeInfo struct {
	Bindings   map[string]*SymInfo
	Attributes map[string]*SymInfo

	names     []string
	attrNames []string
}

func newScopeInfo() *ScopeInfo {
	return &ScopeInfo{
		Bindings:   make(map[string]*SymInfo),
		Attributes: make(map[string]*SymInfo),
	}
}

// Names returns binding names in the order they were first bound.
func (s *ScopeInfo) Names() []string { return s.names }

// AttributeNames returns discovered attribute names in discovery order.
func (s *ScopeInfo) AttributeNames() []string { return s.attrNames }

func (s *ScopeInfo) bind(name string, flags Flags, node *Node) {
	if name == "" {
		return
	}
	if IsPrivateName(name) {
		flags |= Private
	}
	flags |= Bound
	if sym, ok := s.Bindings[name]; ok {
		sym.Flags |= flags
		if sym.Node == nil {
			sym.Node = node
		}
		return
	}
	s.Bindings[name] = &SymInfo{Flags: flags, Node: node}
	s.names = append(s.names, name)
}

func (s *ScopeInfo) addAttribute(name string) {
	if _, ok := s.Attributes[name]; ok {
		return
	}
	flags := Bound | Member
	if IsPrivateName(name) {
		flags |= Private
	}
	s.Attributes[name] = &SymInfo{Flags: flags}
	s.attrNames = append(s.attrNames, name)
}

// dropShadowedAttributes removes discovered attributes that the class body
// binds itself.
func (s *ScopeInfo) dropShadowedAttributes() {
	kept := s.attrNames[:0]
	for _, name := range s.attrNames {
		if _, ok := s.Bindings[name]; ok {
			delete(s.Attributes, name)
			continue
		}
		kept = append(kept, name)
	}
	s.attrNames = kept
}

// Table is the scope table of one parsed file.
type Table struct {
	module *Node
	scopes map[*Node]*ScopeInfo
}

// Module returns the module node.
func (t *Table) Module() *Node { return t.module }

// ScopeInfo returns the scope owned by a module or class node, or nil.
func (t *Table) ScopeInfo(n *Node) *ScopeInfo { return t.scopes[n] }

// IsPrivateName reports whether a name is private by convention: a leading
// underscore that is not part of a dunder name.
func IsPrivateName(name string) bool {
	if !strings.HasPrefix(name, "_") {
		return false
	}
	return !(len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"))
}
