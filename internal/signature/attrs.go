package signature

import "strings"

// Module attribute characters. Module attributes are a concatenated
// character string rather than a Flags value, and are stored under a
// separate field.
const (
	AttrSystem     = 'S'
	AttrDeprecated = 'D'
)

// ModuleAttrs is the decoded form of a modattrs value.
type ModuleAttrs struct {
	System     bool
	Deprecated bool
}

// EncodeModuleAttrs returns "", "S", "D" or "SD".
func EncodeModuleAttrs(a ModuleAttrs) string {
	var sb strings.Builder
	if a.System {
		sb.WriteByte(AttrSystem)
	}
	if a.Deprecated {
		sb.WriteByte(AttrDeprecated)
	}
	return sb.String()
}

// DecodeModuleAttrs reads a modattrs value. Unknown characters are ignored.
func DecodeModuleAttrs(s string) ModuleAttrs {
	return ModuleAttrs{
		System:     strings.IndexByte(s, AttrSystem) >= 0,
		Deprecated: strings.IndexByte(s, AttrDeprecated) >= 0,
	}
}
