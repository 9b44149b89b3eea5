// Package signature encodes indexed symbols into the delimited strings stored
// in index documents, and decodes them back.
//
// A signature has the form
//
//	name;K;flags;
//	name;K;flags;p1,p2;
//
// where K is a single kind character and flags is the lowercase hex form of
// the Flags bit set. Callable kinds always carry a parameter section, even
// when it is empty. Every signature ends in ';' so that a prefix match on a
// name can be turned into an exact match by checking the next byte.
package signature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion identifies the flag and kind encoding. It is recorded in the
// index metadata, never inside documents.
const SchemaVersion = "1"

// Delimiter separates signature sections.
const Delimiter = ';'

// ErrMalformed is returned by Decode for strings with fewer than three
// delimiters or an unreadable kind/flags section.
var ErrMalformed = errors.New("malformed signature")

// Kind is the single-character symbol kind stored in a signature.
type Kind byte

const (
	KindClass       Kind = 'C'
	KindFunction    Kind = 'F'
	KindConstructor Kind = 'c'
	KindAttribute   Kind = 'A'
	KindData        Kind = 'D'
	KindImport      Kind = 'I'
	KindGenerator   Kind = 'G'
)

// Valid reports whether k is one of the known kind characters.
func (k Kind) Valid() bool {
	switch k {
	case KindClass, KindFunction, KindConstructor, KindAttribute, KindData, KindImport, KindGenerator:
		return true
	}
	return false
}

// Callable reports whether signatures of this kind always carry parameters.
func (k Kind) Callable() bool {
	return k == KindFunction || k == KindConstructor
}

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindFunction:
		return "function"
	case KindConstructor:
		return "constructor"
	case KindAttribute:
		return "attribute"
	case KindData:
		return "data"
	case KindImport:
		return "import"
	case KindGenerator:
		return "generator"
	}
	return fmt.Sprintf("Kind(%q)", byte(k))
}

// Flags is the symbol flag bit set. Bit positions are part of the on-disk
// format; append new flags, never reorder.
type Flags uint32

const (
	Private Flags = 1 << iota
	Deprecated
	Static
	Constructor
	Documented
	DocOnly
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Private, "private"},
	{Deprecated, "deprecated"},
	{Static, "static"},
	{Constructor, "constructor"},
	{Documented, "documented"},
	{DocOnly, "doc-only"},
}

// Has reports whether every bit of other is set in f.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Names returns the names of the set flags in bit order.
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// EncodeFlags returns the stored textual form of f.
func EncodeFlags(f Flags) string {
	return strconv.FormatUint(uint64(f), 16)
}

// DecodeFlags parses the output of EncodeFlags. An empty string decodes to 0.
func DecodeFlags(s string) (Flags, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("decode flags %q: %w", s, err)
	}
	return Flags(v), nil
}

// Signature is the decoded form of one stored signature string.
type Signature struct {
	Name   string
	Kind   Kind
	Flags  Flags
	Params []string
}

// String encodes s.
func (s Signature) String() string {
	return Encode(s.Kind, s.Flags, s.Name, s.Params)
}

// Encode builds the stored form of a symbol. The parameter section is
// written when params is non-empty or the kind is callable. Names and
// parameters must not contain ';'.
func Encode(kind Kind, flags Flags, name string, params []string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 8)
	sb.WriteString(name)
	sb.WriteByte(Delimiter)
	sb.WriteByte(byte(kind))
	sb.WriteByte(Delimiter)
	sb.WriteString(EncodeFlags(flags))
	sb.WriteByte(Delimiter)
	if len(params) > 0 || kind.Callable() {
		sb.WriteString(strings.Join(params, ","))
		sb.WriteByte(Delimiter)
	}
	return sb.String()
}

// Decode parses a stored signature. An empty parameter section decodes to
// a nil Params slice.
func Decode(sig string) (Signature, error) {
	first := strings.IndexByte(sig, Delimiter)
	if first < 0 {
		return Signature{}, fmt.Errorf("%w: %q", ErrMalformed, sig)
	}
	second := strings.IndexByte(sig[first+1:], Delimiter)
	if second < 0 {
		return Signature{}, fmt.Errorf("%w: %q", ErrMalformed, sig)
	}
	second += first + 1
	third := strings.IndexByte(sig[second+1:], Delimiter)
	if third < 0 {
		return Signature{}, fmt.Errorf("%w: %q", ErrMalformed, sig)
	}
	third += second + 1

	kindPart := sig[first+1 : second]
	if len(kindPart) != 1 || !Kind(kindPart[0]).Valid() {
		return Signature{}, fmt.Errorf("%w: bad kind in %q", ErrMalformed, sig)
	}
	flags, err := DecodeFlags(sig[second+1 : third])
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := Signature{
		Name:  sig[:first],
		Kind:  Kind(kindPart[0]),
		Flags: flags,
	}
	rest := strings.TrimSuffix(sig[third+1:], string(Delimiter))
	if rest != "" {
		out.Params = strings.Split(rest, ",")
	}
	return out, nil
}

// Name returns the name section of sig without decoding the rest.
func Name(sig string) string {
	if i := strings.IndexByte(sig, Delimiter); i >= 0 {
		return sig[:i]
	}
	return sig
}

// KindOf returns the kind character of sig, or 0 when sig has no kind section.
func KindOf(sig string) Kind {
	i := strings.IndexByte(sig, Delimiter)
	if i < 0 || i+2 >= len(sig) || sig[i+2] != Delimiter {
		return 0
	}
	return Kind(sig[i+1])
}

// HasName reports whether sig is a signature for exactly name: sig starts
// with name and the next byte is the delimiter.
func HasName(sig, name string) bool {
	return len(sig) > len(name) && sig[len(name)] == Delimiter && strings.HasPrefix(sig, name)
}

// ValidName reports whether name can be stored in a signature.
func ValidName(name string) bool {
	return name != "" && strings.IndexByte(name, Delimiter) < 0
}
