package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	deprecatedColor = color.New(color.FgYellow)
	privateColor    = color.New(color.Faint)
)

// displayName renders a symbol name the way completion lists show it, with
// deprecated entries in yellow and private ones dimmed.
func displayName(s CLISymbol) string {
	name := s.Name
	switch s.Kind {
	case "function", "method", "constructor":
		name += "(" + strings.Join(s.Params, ", ") + ")"
	}
	switch {
	case s.deprecated:
		return deprecatedColor.Sprint(name)
	case s.private:
		return privateColor.Sprint(name)
	}
	return name
}

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tOWNER\tMODULE\tLOCATION\tFLAGS")
	for _, s := range syms {
		flags := strings.Join(s.Flags, ",")
		if s.Builtin {
			flags = strings.TrimPrefix(flags+",builtin", ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			displayName(s), s.Kind, s.Owner, s.Module, s.Location, flags)
	}
	tw.Flush()
}

// formatResolutionText formats a resolution: its symbols, then the classes
// it walked.
func formatResolutionText(w io.Writer, res CLIResolution) {
	formatSymbolsText(w, res.Symbols)
	if len(res.Ancestors) > 0 {
		fmt.Fprintf(w, "\nAncestors: %s\n", strings.Join(res.Ancestors, ", "))
	}
	fmt.Fprintf(w, "Classes looked up: %d\n", res.Visited)
}

// formatNamesText writes one name per line.
func formatNamesText(w io.Writer, names []string) {
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case []CLISymbol:
		formatSymbolsText(w, v)
	case CLIResolution:
		formatResolutionText(w, v)
	case []string:
		formatNamesText(w, v)
	case CLICount:
		fmt.Fprintf(w, "%d files\n", v.Files)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLISymbol:
		return len(r)
	case CLIResolution:
		return len(r.Symbols)
	case []string:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
