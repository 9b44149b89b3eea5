package runtime

import (
	"path/filepath"
	"strings"
)

// SourceKind is what the indexer does with a file.
type SourceKind string

const (
	// SourcePython files are parsed into scope tables.
	SourcePython SourceKind = "python"
	// SourceRst files are library reference pages scanned for documented
	// symbols. They are only indexed under system roots.
	SourceRst SourceKind = "rst"
)

// extToKind maps file extensions to source kinds.
var extToKind = map[string]SourceKind{
	".py":  SourcePython,
	".pyw": SourcePython,
	".pyi": SourcePython,
	".rst": SourceRst,
}

// SourceKindForFile returns the source kind for a file path based on its
// extension. Returns ("", false) if the file is not indexable.
func SourceKindForFile(path string) (SourceKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := extToKind[ext]
	return kind, ok
}

// IsTestDir reports whether a directory name holds a library's own test
// suite, which is skipped under system roots.
func IsTestDir(name string) bool {
	return name == "test" || name == "tests"
}
