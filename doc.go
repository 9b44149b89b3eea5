// Package pyindex indexes Python sources into a field/value document store
// and answers symbol queries against it.
//
// # Pipeline
//
// Each Python file is parsed with tree-sitter into a table of lexical
// scopes. The scope table is turned into one module document (the module
// name plus an encoded signature per top-level symbol) and one document per
// class (owning module, base class names, and an encoded signature per
// member). Documents replace whatever the file produced before.
//
// Library reference pages (.rst) found under a system root are scanned for
// documented modules, classes and functions, so standard-library modules
// implemented in C still have entries.
//
// # Usage
//
//	e, err := pyindex.New(".pyindex/index.db", pyindex.WithSystemRoots("/usr/lib/python3.12"))
//	if err != nil { ... }
//	defer e.Close()
//
//	err = e.IndexDirectory(ctx, "path/to/project")
//
//	ix := e.Query()
//	members := ix.InheritedElements("Derived", "", pyindex.Prefix, false)
//
// # Query API
//
// The [Index] returned by [Engine.Query] or [Engine.Index] never fails: a
// backend error or an unsupported match kind yields an empty result for
// that lookup, and malformed stored signatures are skipped.
//
//   - [Index.ResolveMembers] walks base classes breadth-first, retrying
//     unqualified base names under the enclosing namespaces of the class.
//   - [Index.ResolveSubclasses] walks the inverse edges.
//   - [Index.Modules], [Index.Packages], [Index.Classes], [Index.AllMembers]
//     and [Index.AllElements] search by name under any [MatchKind].
//   - [Index.ImportedFromWildcards], [Index.BuiltinSymbols] and
//     [Index.ImportsFor] support import completion.
//
// # Classification cache
//
// Whole-index scans (system modules, lower-case class names, wildcard
// exports of system modules) are memoized in a [ClassificationCache]. Under
// [InvalidateNever] the cache lives for the process, and a reindexed
// library is not reflected until restart. [InvalidateOnReindex] drops the
// cache whenever indexing changes stored documents.
package pyindex
