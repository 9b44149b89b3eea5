package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jward/pyindex/internal/scopes"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// rstDirective matches ".. key:: argument".
var rstDirective = regexp.MustCompile(`^\s*\.\.\s+([\w-]+)::\s*(.+?)\s*$`)

// obsoleteRstModules are documented in the library reference but no longer
// shipped; their pages are skipped.
var obsoleteRstModules = map[string]bool{
	"gl": true, "cd": true, "al": true, "fm": true, "fl": true,
	"imgfile": true, "jpeg": true, "sunau": true, "sunaudio": true,
}

// RstModuleName returns the module a documentation page describes before
// any module directive is seen: the file name without its extension.
func RstModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ScanRst extracts documentation-only symbols from a reStructuredText page
// of the standard library reference. Every symbol carries Documented and
// DocOnly, plus Deprecated when the directive is followed by a deprecation
// note. The page's module documents are marked System. Pages of obsolete
// modules yield nothing.
func ScanRst(location, module, text string) []*store.Document {
	if obsoleteRstModules[module] {
		return nil
	}
	s := &rstScanner{
		location: location,
		module:   module,
		lines:    strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"),
		classes:  make(map[string]*store.Document),
	}
	s.scan()
	return s.documents()
}

type rstScanner struct {
	location string
	module   string
	lines    []string

	modules      []*store.Document
	current      *store.Document // module document receiving items
	classOwner   map[*store.Document]*store.Document
	classes      map[string]*store.Document
	classOrder   []string
	currentClass string
}

func (s *rstScanner) scan() {
	s.classOwner = make(map[*store.Document]*store.Document)
	for i := 0; i < len(s.lines); i++ {
		line := s.lines[i]
		if !strings.HasPrefix(line, ".. ") && !strings.Contains(line, " .. ") {
			continue
		}
		m := rstDirective.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, arg := m[1], m[2]
		deprecated := isDeprecatedAt(s.lines, i)
		var flags signature.Flags = signature.Documented | signature.DocOnly
		if deprecated {
			flags |= signature.Deprecated
		}

		switch key {
		case "module", "currentmodule":
			s.startModule(arg, deprecated)
		case "method", "attribute":
			s.member(key, arg, flags)
		case "class", "exception":
			s.class(key == "exception", arg, flags)
		case "function":
			s.function(arg, flags)
			i = s.continuationSignatures(i, flags)
		case "data":
			if strings.Contains(arg, "(") {
				s.function(arg, flags)
				i = s.continuationSignatures(i, flags)
			} else if signature.ValidName(arg) {
				s.moduleDoc().AddPair(store.FieldItem, signature.Encode(signature.KindData, privacy(arg, flags), arg, nil), true, true)
			}
		}
	}
}

func (s *rstScanner) startModule(name string, deprecated bool) {
	s.module = name
	doc := store.NewDocument(s.location)
	doc.AddPair(store.FieldModule, name, true, true)
	doc.AddPair(store.FieldModAttrs, signature.EncodeModuleAttrs(signature.ModuleAttrs{System: true, Deprecated: deprecated}), false, true)
	s.modules = append(s.modules, doc)
	s.current = doc
}

// moduleDoc returns the current module document, opening one named after
// the page when no module directive has been seen.
func (s *rstScanner) moduleDoc() *store.Document {
	if s.current == nil {
		s.startModule(s.module, false)
	}
	return s.current
}

func (s *rstScanner) classDoc(name string) *store.Document {
	if doc, ok := s.classes[name]; ok {
		return doc
	}
	doc := store.NewDocument(s.location)
	doc.AddPair(store.FieldIn, s.module, true, true)
	doc.AddPair(store.FieldClass, name, true, true)
	doc.AddPair(store.FieldClassCI, strings.ToLower(name), true, true)
	s.classes[name] = doc
	s.classOrder = append(s.classOrder, name)
	s.classOwner[doc] = s.moduleDoc()
	return doc
}

func (s *rstScanner) member(key, arg string, flags signature.Flags) {
	paren := strings.IndexByte(arg, '(')
	if dot := strings.LastIndexByte(prefixBefore(arg, paren), '.'); dot >= 0 {
		s.currentClass = arg[:dot]
		s.classDoc(s.currentClass)
		arg = arg[dot+1:]
	}
	doc, ok := s.classes[s.currentClass]
	if !ok {
		// A member outside any class directive has no owner to attach to.
		return
	}

	if key == "attribute" {
		if signature.ValidName(arg) {
			doc.AddPair(store.FieldMember, signature.Encode(signature.KindAttribute, privacy(arg, flags), arg, nil), true, true)
		}
		return
	}
	name, params, ok := splitCall(arg)
	if !ok {
		return
	}
	kind := signature.KindFunction
	if name == "__init__" {
		kind = signature.KindConstructor
	}
	doc.AddPair(store.FieldMember, signature.Encode(kind, constructorFlags(kind, privacy(name, flags)), name, params), true, true)
}

func (s *rstScanner) class(exception bool, arg string, flags signature.Flags) {
	name := arg
	var ctor string
	if paren := strings.IndexByte(arg, '('); paren >= 0 {
		ctor = cleanupSignature(arg)
		name = strings.TrimSpace(arg[:paren])
	}
	if !signature.ValidName(name) {
		return
	}
	s.currentClass = name

	doc := store.NewDocument(s.location)
	doc.AddPair(store.FieldIn, s.module, true, true)
	if exception && name != "Exception" {
		doc.AddPair(store.FieldExtends, "Exception", true, true)
	}
	doc.AddPair(store.FieldClass, name, true, true)
	doc.AddPair(store.FieldClassAttrs, signature.EncodeFlags(flags|signature.Constructor), false, true)
	doc.AddPair(store.FieldClassCI, strings.ToLower(name), true, true)
	if ctor != "" {
		if _, params, ok := splitCall(ctor); ok {
			doc.AddPair(store.FieldMember, signature.Encode(signature.KindConstructor, flags|signature.Constructor, "__init__", params), true, true)
		}
	}
	if _, seen := s.classes[name]; !seen {
		s.classOrder = append(s.classOrder, name)
	}
	s.classes[name] = doc
	s.classOwner[doc] = s.moduleDoc()
}

func (s *rstScanner) function(arg string, flags signature.Flags) {
	paren := strings.IndexByte(arg, '(')
	if dot := strings.LastIndexByte(prefixBefore(arg, paren), '.'); dot >= 0 {
		arg = arg[dot+1:]
	}
	name, params, ok := splitCall(cleanupSignature(arg))
	if !ok {
		return
	}
	s.moduleDoc().AddPair(store.FieldItem, signature.Encode(signature.KindFunction, privacy(name, flags), name, params), true, true)
}

// continuationSignatures indexes the alternate signatures listed on the
// lines right after a function directive and returns the last line used.
func (s *rstScanner) continuationSignatures(i int, flags signature.Flags) int {
	for i+1 < len(s.lines) {
		next := strings.TrimSpace(s.lines[i+1])
		if next == "" || strings.HasPrefix(next, ":") || strings.HasPrefix(next, "..") {
			break
		}
		s.function(next, flags)
		i++
	}
	return i
}

// documents lists module documents, each followed by the classes opened
// while it was current. Every class is also registered as an item of its
// module.
func (s *rstScanner) documents() []*store.Document {
	var out []*store.Document
	for _, mod := range s.modules {
		out = append(out, mod)
		for _, name := range s.classOrder {
			doc := s.classes[name]
			if s.classOwner[doc] != mod {
				continue
			}
			flags := signature.Documented | signature.DocOnly
			mod.AddPair(store.FieldItem, signature.Encode(signature.KindClass, privacy(name, flags), name, nil), true, true)
			out = append(out, doc)
		}
	}
	return out
}

func privacy(name string, flags signature.Flags) signature.Flags {
	if scopes.IsPrivateName(name) {
		flags |= signature.Private
	}
	return flags
}

// prefixBefore returns s up to index end, or all of s when end is negative.
func prefixBefore(s string, end int) string {
	if end < 0 {
		return s
	}
	return s[:end]
}

// splitCall splits a cleaned "name(a,b)" into its name and parameters. A
// bare name is treated as a call without parameters.
func splitCall(sig string) (string, []string, bool) {
	sig = cleanupSignature(sig)
	if !strings.Contains(sig, "(") {
		sig += "()"
	}
	lp := strings.IndexByte(sig, '(')
	rp := strings.LastIndexByte(sig, ')')
	if rp < lp {
		rp = len(sig)
	}
	name := sig[:lp]
	if !signature.ValidName(name) {
		return "", nil, false
	}
	var params []string
	for _, p := range strings.Split(sig[lp+1:rp], ",") {
		if p != "" && signature.ValidName(p) {
			params = append(params, p)
		}
	}
	return name, params, true
}

// cleanupSignature normalizes a documented call signature: whitespace,
// optional-argument brackets and quotes are dropped, default values are
// removed, and stray commas are collapsed. "f(a, b=1[, c])" becomes
// "f(a,b,c)".
func cleanupSignature(sig string) string {
	var sb strings.Builder
	for i := 0; i < len(sig); i++ {
		c := sig[i]
		switch c {
		case ' ', '\t', '[', ']', '\'', '"', '.':
			continue
		case '=':
			// Skip the default value up to the next top-level ',' or ')'.
			depth := 0
			for i+1 < len(sig) {
				n := sig[i+1]
				if depth == 0 && (n == ',' || n == ')') {
					break
				}
				switch n {
				case '(':
					depth++
				case ')':
					depth--
				}
				i++
			}
			continue
		}
		sb.WriteByte(c)
	}
	out := sb.String()
	for strings.Contains(out, ",,") {
		out = strings.ReplaceAll(out, ",,", ",")
	}
	out = strings.ReplaceAll(out, ",)", ")")
	out = strings.ReplaceAll(out, "(,", "(")
	return out
}

// isDeprecatedAt reports whether the directive on line i is followed, within
// its own indented body, by a deprecation note. The body ends at the first
// non-empty line indented no deeper than the directive, or at a nested
// member directive.
func isDeprecatedAt(lines []string, i int) bool {
	base := indentation(lines[i])
	for j := i + 1; j < len(lines); j++ {
		line := lines[j]
		ind := indentation(line)
		if ind < 0 {
			continue
		}
		if strings.Contains(line, ":deprecated:") || strings.Contains(line, ".. deprecated::") {
			return true
		}
		if ind <= base {
			return false
		}
		rest := line[ind:]
		for _, d := range []string{".. attribute::", ".. data::", ".. function::", ".. method::"} {
			if strings.HasPrefix(rest, d) {
				return false
			}
		}
	}
	return false
}

// indentation counts leading whitespace, or returns -1 for a blank line.
func indentation(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' {
			return i
		}
	}
	return -1
}
