package main

import "github.com/jward/pyindex"

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLISymbol is a JSON-friendly symbol representation.
type CLISymbol struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Owner          string   `json:"owner,omitempty"`
	Module         string   `json:"module,omitempty"`
	Location       string   `json:"location,omitempty"`
	Params         []string `json:"params,omitempty"`
	Flags          []string `json:"flags,omitempty"`
	Builtin        bool     `json:"builtin,omitempty"`
	Inherited      bool     `json:"inherited,omitempty"`
	HasSubpackages bool     `json:"has_subpackages,omitempty"`
	Order          *int     `json:"order,omitempty"`

	deprecated bool
	private    bool
}

// CLIResolution is the JSON form of a member or subclass resolution.
type CLIResolution struct {
	Symbols   []CLISymbol `json:"symbols"`
	Ancestors []string    `json:"ancestors,omitempty"`
	Visited   int         `json:"visited"`
}

// CLICount reports how many files an export or import covered.
type CLICount struct {
	Files int `json:"files"`
}

// symbolToCLI converts an IndexedSymbol. withOrder keeps the declaring
// class rank of override-preserving results.
func symbolToCLI(sym *pyindex.IndexedSymbol, withOrder bool) CLISymbol {
	out := CLISymbol{
		Name:           sym.Name,
		Kind:           string(sym.Kind),
		Owner:          sym.Owner,
		Module:         sym.Module,
		Location:       sym.Location,
		Params:         sym.Params,
		Flags:          sym.Flags.Names(),
		Builtin:        sym.Builtin,
		Inherited:      sym.Inherited,
		HasSubpackages: sym.HasSubpackages,
		deprecated:     sym.IsDeprecated(),
		private:        sym.IsPrivate(),
	}
	if withOrder {
		order := sym.Order
		out.Order = &order
	}
	return out
}

func symbolsToCLI(syms []*pyindex.IndexedSymbol, withOrder bool) []CLISymbol {
	out := make([]CLISymbol, len(syms))
	for i, s := range syms {
		out[i] = symbolToCLI(s, withOrder)
	}
	return out
}
