package pyindex

import "strings"

// NamespaceSeparator joins namespace components of qualified class keys,
// as in "pkg::Outer::Inner".
const NamespaceSeparator = "::"

// EnclosingNamespace returns fqn without its last component, or "" for a
// single-segment name.
func EnclosingNamespace(fqn string) string {
	i := strings.LastIndex(fqn, NamespaceSeparator)
	if i < 0 {
		return ""
	}
	return fqn[:i]
}

type qualifyState int

const (
	qualifyBareFirst qualifyState = iota
	qualifyNamespaced
	qualifyBareLast
	qualifyDone
)

// qualifier enumerates the record keys a class name may be stored under
// when it is referenced from inside namespace: the name qualified by
// namespace, then by each shorter enclosing namespace, with the bare name
// tried either first or last.
type qualifier struct {
	name     string
	ns       string
	state    qualifyState
	bareLast bool
}

// bareThenQualified yields name, ns::name, shorter-ns::name, ... It is the
// order used for base classes, where the unqualified name is the common
// case.
func bareThenQualified(name, ns string) *qualifier {
	return &qualifier{name: name, ns: ns, state: qualifyBareFirst}
}

// qualifiedThenBare yields ns::name, shorter-ns::name, ..., name. It is the
// order used for subclass lookups, which prefer the most specific key.
func qualifiedThenBare(name, ns string) *qualifier {
	return &qualifier{name: name, ns: ns, state: qualifyNamespaced, bareLast: true}
}

// Next returns the next candidate key, or false when exhausted.
func (q *qualifier) Next() (string, bool) {
	for {
		switch q.state {
		case qualifyBareFirst:
			q.state = qualifyNamespaced
			return q.name, true
		case qualifyNamespaced:
			if q.ns == "" {
				if q.bareLast {
					q.state = qualifyBareLast
				} else {
					q.state = qualifyDone
				}
				continue
			}
			candidate := q.ns + NamespaceSeparator + q.name
			q.ns = EnclosingNamespace(q.ns)
			return candidate, true
		case qualifyBareLast:
			q.state = qualifyDone
			return q.name, true
		default:
			return "", false
		}
	}
}

// all drains q.
func (q *qualifier) all() []string {
	var out []string
	for {
		c, ok := q.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}
