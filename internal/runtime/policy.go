package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jward/pyindex/scripts"
)

// PolicyScript is the path of the classification policy inside the
// embedded scripts filesystem.
const PolicyScript = "policy.risor"

// Policy is the evaluated classification policy. It is immutable once
// loaded and safe for concurrent use.
type Policy struct {
	deprecated map[string]bool
	builtin    map[string]bool
	missing    map[string]bool
	skipped    map[string]bool
	prefixes   []string
}

func newPolicy() *Policy {
	return &Policy{
		deprecated: make(map[string]bool),
		builtin:    make(map[string]bool),
		missing:    make(map[string]bool),
		skipped:    make(map[string]bool),
	}
}

// IsDeprecated reports whether module is a deprecated library module.
func (p *Policy) IsDeprecated(module string) bool { return p.deprecated[module] }

// IsBuiltinModule reports whether module's items are part of the builtin
// namespace. Skipped stub modules count as builtin.
func (p *Policy) IsBuiltinModule(module string) bool {
	return p.builtin[module] || p.skipped[module]
}

// IsSkipped reports whether module is a stub that must not be listed as a
// module of its own.
func (p *Policy) IsSkipped(module string) bool { return p.skipped[module] }

// IsSystemPrefix reports whether module falls under a declared system
// prefix: the module itself or any of its submodules.
func (p *Policy) IsSystemPrefix(module string) bool {
	for _, pre := range p.prefixes {
		if module == pre || strings.HasPrefix(module, pre+".") {
			return true
		}
	}
	return false
}

// BuiltinModules returns the builtin modules in sorted order.
func (p *Policy) BuiltinModules() []string { return sortedKeys(p.builtin) }

// MissingBuiltins returns the builtin names no module documents, in sorted
// order.
func (p *Policy) MissingBuiltins() []string { return sortedKeys(p.missing) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// policyGlobals returns the registration host functions that fill p.
func policyGlobals(p *Policy) map[string]any {
	var mu sync.Mutex
	add := func(set map[string]bool) func(string) {
		return func(name string) {
			mu.Lock()
			set[name] = true
			mu.Unlock()
		}
	}
	return map[string]any{
		"deprecated_module": makeRegisterFn("deprecated_module", add(p.deprecated)),
		"builtin_module":    makeRegisterFn("builtin_module", add(p.builtin)),
		"missing_builtin":   makeRegisterFn("missing_builtin", add(p.missing)),
		"skip_module":       makeRegisterFn("skip_module", add(p.skipped)),
		"system_prefix": makeRegisterFn("system_prefix", func(prefix string) {
			mu.Lock()
			p.prefixes = append(p.prefixes, strings.TrimSuffix(prefix, "."))
			mu.Unlock()
		}),
	}
}

// LoadPolicy evaluates the policy script at path with rt. The script runs
// after the embedded default policy, so it extends rather than replaces
// the defaults.
func LoadPolicy(ctx context.Context, rt *Runtime, path string) (*Policy, error) {
	p := newPolicy()
	globals := policyGlobals(p)

	defaults := NewRuntime("", WithRuntimeFS(scripts.FS), WithRuntimeLogger(rt.logger))
	if _, err := defaults.RunScript(ctx, PolicyScript, globals); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if path == "" {
		return p, nil
	}
	if _, err := rt.RunScript(ctx, path, globals); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

// PolicyFromSource evaluates inline policy source on top of the defaults.
func PolicyFromSource(ctx context.Context, rt *Runtime, source string) (*Policy, error) {
	p, err := LoadPolicy(ctx, rt, "")
	if err != nil {
		return nil, err
	}
	if _, err := rt.RunSource(ctx, source, policyGlobals(p)); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

var (
	defaultPolicyOnce sync.Once
	defaultPolicy     *Policy
	defaultPolicyErr  error
)

// DefaultPolicy returns the embedded policy, evaluated once per process.
func DefaultPolicy() (*Policy, error) {
	defaultPolicyOnce.Do(func() {
		defaultPolicy, defaultPolicyErr = LoadPolicy(context.Background(), NewRuntime(""), "")
	})
	return defaultPolicy, defaultPolicyErr
}
