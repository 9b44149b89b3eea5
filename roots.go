package pyindex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/pyindex/internal/extract"
	"github.com/jward/pyindex/internal/runtime"
)

// Location schemes.
const (
	fileScheme   = "file://"
	pythonScheme = "python:"
)

// sourceFile is a file the engine decided to index.
type sourceFile struct {
	path     string // absolute
	location string
	module   string
	kind     runtime.SourceKind
	system   bool
}

// fingerprint hashes src together with how the file is classified, so a
// file whose module name or system status changes is rebuilt even when
// its content is not.
func (sf sourceFile) fingerprint(src []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%t\x00", sf.module, sf.system)
	h.Write(src)
	return hex.EncodeToString(h.Sum(nil))
}

// previousLocation returns the file:// location a file under a system
// root was stored at before the root was declared, or "".
func (sf sourceFile) previousLocation() string {
	if sf.path == "" || !strings.HasPrefix(sf.location, pythonScheme) {
		return ""
	}
	return fileScheme + filepath.ToSlash(sf.path)
}

// systemRoots holds absolute library roots, longest first so nested roots
// win.
type systemRoots []string

func newSystemRoots(roots []string) systemRoots {
	var out systemRoots
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		out = append(out, filepath.Clean(abs))
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// find returns the root containing path and path relative to it.
func (r systemRoots) find(path string) (root, rel string, ok bool) {
	for _, root := range r {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return root, rel, true
	}
	return "", "", false
}

// Location returns the stored locator for path: "python:<rel>" under a
// system root, so snapshots of library indexes stay portable, and a
// file:// URL otherwise.
func (e *Engine) Location(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, rel, ok := e.roots.find(abs); ok {
		return pythonScheme + filepath.ToSlash(rel)
	}
	return fileScheme + filepath.ToSlash(abs)
}

// IsSystemLocation reports whether location was produced for a file under
// a system root.
func IsSystemLocation(location string) bool {
	return strings.HasPrefix(location, pythonScheme)
}

// classify decides whether and how path is indexed. Library documentation
// pages are only read under system roots, and library test suites are
// skipped there.
func (e *Engine) classify(path string) (sourceFile, bool) {
	kind, ok := runtime.SourceKindForFile(path)
	if !ok {
		return sourceFile{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return sourceFile{}, false
	}
	sf := sourceFile{path: abs, kind: kind}

	root, rel, system := e.roots.find(abs)
	if system {
		for _, dir := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
			if runtime.IsTestDir(dir) {
				return sourceFile{}, false
			}
		}
		sf.system = true
		sf.location = pythonScheme + filepath.ToSlash(rel)
	} else {
		if kind == runtime.SourceRst {
			return sourceFile{}, false
		}
		sf.location = fileScheme + filepath.ToSlash(abs)
		root = packageRoot(abs)
	}

	switch kind {
	case runtime.SourceRst:
		sf.module = extract.RstModuleName(abs)
	default:
		sf.module = extract.ModuleName(root, abs)
	}
	if e.policy != nil && e.policy.IsSystemPrefix(sf.module) {
		sf.system = true
	}
	return sf, true
}

// packageRoot returns the directory a module path is relative to: the
// first ancestor of path's directory that is not a package.
func packageRoot(path string) string {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(filepath.Join(dir, "__init__.py")); err != nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
