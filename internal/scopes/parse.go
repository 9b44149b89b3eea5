package scopes

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Parse parses Python source and builds its scope table. Syntax errors do
// not fail the parse; tree-sitter recovers and the recoverable parts are
// still bound.
func Parse(ctx context.Context, src []byte) (*Table, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	module := &Node{Kind: NodeModule}
	b := &builder{
		src: src,
		table: &Table{
			module: module,
			scopes: map[*Node]*ScopeInfo{module: newScopeInfo()},
		},
	}
	b.walkBlock(tree.RootNode(), b.table.scopes[module], false)
	return b.table, nil
}

type builder struct {
	src   []byte
	table *Table
}

func (b *builder) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(b.src)
}

// walkBlock binds every statement directly inside n. inClass is set when
// the scope is a class body, so methods are scanned for self attributes.
func (b *builder) walkBlock(n *sitter.Node, scope *ScopeInfo, inClass bool) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.statement(n.NamedChild(i), scope, inClass)
	}
}

func (b *builder) statement(stmt *sitter.Node, scope *ScopeInfo, inClass bool) {
	switch stmt.Type() {
	case "class_definition":
		b.defineClass(stmt, nil, scope)
	case "function_definition":
		b.defineFunction(stmt, nil, scope, inClass)
	case "decorated_definition":
		decorators := b.decorators(stmt)
		def := stmt.ChildByFieldName("definition")
		if def == nil {
			return
		}
		switch def.Type() {
		case "class_definition":
			b.defineClass(def, decorators, scope)
		case "function_definition":
			b.defineFunction(def, decorators, scope, inClass)
		}
	case "import_statement":
		b.importStatement(stmt, scope)
	case "import_from_statement":
		b.importFromStatement(stmt, scope)
	case "expression_statement":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			b.assignment(stmt.NamedChild(i), scope)
		}
	case "for_statement":
		b.bindTargets(stmt.ChildByFieldName("left"), scope, Data)
		b.walkCompound(stmt, scope, inClass)
	case "if_statement", "while_statement", "try_statement", "with_statement", "match_statement":
		b.walkCompound(stmt, scope, inClass)
	}
}

// walkCompound descends into the blocks and clauses of a compound
// statement, binding into the enclosing scope.
func (b *builder) walkCompound(n *sitter.Node, scope *ScopeInfo, inClass bool) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "block":
			b.walkBlock(c, scope, inClass)
		case "elif_clause", "else_clause", "except_clause", "except_group_clause", "finally_clause", "case_clause":
			b.walkCompound(c, scope, inClass)
		}
	}
}

func (b *builder) defineClass(n *sitter.Node, decorators []string, scope *ScopeInfo) {
	node := &Node{
		Kind:       NodeClass,
		Name:       b.text(n.ChildByFieldName("name")),
		Decorators: decorators,
		Line:       int(n.StartPoint().Row),
	}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			arg := supers.NamedChild(i)
			switch arg.Type() {
			case "keyword_argument", "list_splat", "dictionary_splat", "comment":
				continue
			}
			node.Bases = append(node.Bases, b.text(arg))
		}
	}
	scope.bind(node.Name, Class, node)

	classScope := newScopeInfo()
	b.table.scopes[node] = classScope
	if body := n.ChildByFieldName("body"); body != nil {
		b.walkBlock(body, classScope, true)
	}
	classScope.dropShadowedAttributes()
}

func (b *builder) defineFunction(n *sitter.Node, decorators []string, scope *ScopeInfo, inClass bool) {
	node := &Node{
		Kind:       NodeFunction,
		Name:       b.text(n.ChildByFieldName("name")),
		Decorators: decorators,
		Params:     b.parameters(n.ChildByFieldName("parameters")),
		Line:       int(n.StartPoint().Row),
	}
	scope.bind(node.Name, Function, node)

	if inClass && !node.HasDecorator("staticmethod") && len(node.Params) > 0 {
		self := node.Params[0]
		if !strings.HasPrefix(self, "*") {
			b.collectAttributes(n.ChildByFieldName("body"), self, scope)
		}
	}
}

func (b *builder) parameters(params *sitter.Node) []string {
	if params == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		if name := b.paramName(params.NamedChild(i)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (b *builder) paramName(p *sitter.Node) string {
	switch p.Type() {
	case "identifier":
		return b.text(p)
	case "default_parameter", "typed_default_parameter":
		return b.text(p.ChildByFieldName("name"))
	case "typed_parameter":
		if p.NamedChildCount() > 0 {
			return b.paramName(p.NamedChild(0))
		}
	case "list_splat_pattern":
		if p.NamedChildCount() > 0 {
			return "*" + b.text(p.NamedChild(0))
		}
	case "dictionary_splat_pattern":
		if p.NamedChildCount() > 0 {
			return "**" + b.text(p.NamedChild(0))
		}
	case "tuple_pattern":
		return b.text(p)
	}
	return ""
}

func (b *builder) decorators(decorated *sitter.Node) []string {
	var out []string
	for i := 0; i < int(decorated.NamedChildCount()); i++ {
		d := decorated.NamedChild(i)
		if d.Type() != "decorator" || d.NamedChildCount() == 0 {
			continue
		}
		expr := d.NamedChild(0)
		if expr.Type() == "call" {
			expr = expr.ChildByFieldName("function")
		}
		if name := b.text(expr); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (b *builder) importStatement(n *sitter.Node, scope *ScopeInfo) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			// import a.b.c binds a
			name := b.text(c)
			if dot := strings.IndexByte(name, '.'); dot >= 0 {
				name = name[:dot]
			}
			scope.bind(name, Imported, nil)
		case "aliased_import":
			scope.bind(b.text(c.ChildByFieldName("alias")), Imported, nil)
		}
	}
}

func (b *builder) importFromStatement(n *sitter.Node, scope *ScopeInfo) {
	module := n.ChildByFieldName("module_name")
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if module != nil && c.StartByte() == module.StartByte() {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			scope.bind(b.text(c), Imported, nil)
		case "aliased_import":
			scope.bind(b.text(c.ChildByFieldName("alias")), Imported, nil)
		case "wildcard_import":
			scope.bind("*", Imported, nil)
		}
	}
}

func (b *builder) assignment(n *sitter.Node, scope *ScopeInfo) {
	switch n.Type() {
	case "assignment":
		kind := Data
		right := n.ChildByFieldName("right")
		// a = b = value nests the second assignment on the right.
		for right != nil && right.Type() == "assignment" {
			b.bindTargets(right.ChildByFieldName("left"), scope, Data)
			right = right.ChildByFieldName("right")
		}
		if right != nil && right.Type() == "generator_expression" {
			kind = GeneratorExp
		}
		b.bindTargets(n.ChildByFieldName("left"), scope, kind)
	case "augmented_assignment":
		b.bindTargets(n.ChildByFieldName("left"), scope, Data)
	}
}

func (b *builder) bindTargets(target *sitter.Node, scope *ScopeInfo, kind Flags) {
	if target == nil {
		return
	}
	switch target.Type() {
	case "identifier":
		scope.bind(b.text(target), kind, nil)
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list":
		for i := 0; i < int(target.NamedChildCount()); i++ {
			b.bindTargets(target.NamedChild(i), scope, kind)
		}
	case "list_splat_pattern", "parenthesized_expression":
		if target.NamedChildCount() > 0 {
			b.bindTargets(target.NamedChild(0), scope, kind)
		}
	}
}

// collectAttributes records self.<name> assignment targets anywhere in a
// method body, without descending into nested functions or classes.
func (b *builder) collectAttributes(n *sitter.Node, self string, class *ScopeInfo) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "function_definition", "class_definition", "lambda":
		return
	case "assignment", "augmented_assignment":
		b.attributeTargets(n.ChildByFieldName("left"), self, class)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.collectAttributes(n.NamedChild(i), self, class)
	}
}

func (b *builder) attributeTargets(target *sitter.Node, self string, class *ScopeInfo) {
	if target == nil {
		return
	}
	switch target.Type() {
	case "attribute":
		obj := target.ChildByFieldName("object")
		if obj != nil && obj.Type() == "identifier" && b.text(obj) == self {
			class.addAttribute(b.text(target.ChildByFieldName("attribute")))
		}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list":
		for i := 0; i < int(target.NamedChildCount()); i++ {
			b.attributeTargets(target.NamedChild(i), self, class)
		}
	}
}
