package store

import (
	"strings"
	"time"
)

// Field names stored in index documents.
const (
	FieldModule     = "module"
	FieldModAttrs   = "modattrs"
	FieldItem       = "item"
	FieldClass      = "class"
	FieldClassCI    = "class-ci"
	FieldClassAttrs = "clzattrs"
	FieldExtends    = "extends"
	FieldMember     = "member"
	FieldIn         = "in"
)

// MetaSignatureSchema is the metadata key holding the signature encoding
// version the stored documents were written with.
const MetaSignatureSchema = "signature_schema"

// File is one indexed source file. Location is the opaque locator stored
// with every query result.
type File struct {
	ID          int64
	Location    string
	Hash        string
	DocsHash    string
	LastIndexed time.Time
}

// Pair is one field/value entry of a document. Only indexed pairs can be
// searched; only stored pairs are returned in results.
type Pair struct {
	Field   string
	Value   string
	Indexed bool
	Stored  bool
}

// Document is a set of field/value pairs produced for one file.
type Document struct {
	Location string
	Pairs    []Pair
}

// NewDocument creates an empty document for the file at location.
func NewDocument(location string) *Document {
	return &Document{Location: location}
}

// AddPair appends a field/value pair.
func (d *Document) AddPair(field, value string, indexed, stored bool) {
	d.Pairs = append(d.Pairs, Pair{Field: field, Value: value, Indexed: indexed, Stored: stored})
}

// Values returns every value of field in insertion order.
func (d *Document) Values(field string) []string {
	var out []string
	for _, p := range d.Pairs {
		if p.Field == field {
			out = append(out, p.Value)
		}
	}
	return out
}

// Value returns the first value of field, or "".
func (d *Document) Value(field string) string {
	for _, p := range d.Pairs {
		if p.Field == field {
			return p.Value
		}
	}
	return ""
}

// Result is one matching document with its projected stored fields.
type Result struct {
	DocumentID int64
	Location   string
	values     map[string][]string
}

// Value returns the first stored value of field, or "".
func (r *Result) Value(field string) string {
	if vs := r.values[field]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all stored values of field.
func (r *Result) Values(field string) []string {
	return r.values[field]
}

func (r *Result) add(field, value string) {
	if r.values == nil {
		r.values = make(map[string][]string)
	}
	r.values[field] = append(r.values[field], value)
}

// NewResult builds a Result outside the store, for tests and in-memory
// backends.
func NewResult(location string, pairs ...Pair) *Result {
	r := &Result{Location: location}
	for _, p := range pairs {
		if p.Stored {
			r.add(p.Field, p.Value)
		}
	}
	return r
}

func lower(s string) string { return strings.ToLower(s) }
