package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/pyindex"
	"github.com/jward/pyindex/internal/store"
)

var (
	flagLimit      int
	flagOffset     int
	flagKind       string
	flagFrom       string
	flagDuplicates bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the symbol index",
	Long:  "Run queries against an indexed codebase. Names are matched with --kind: exact, prefix, ci-prefix, camel, ci-camel, regexp or ci-regexp.",
}

func init() {
	queryCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	queryCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	queryCmd.PersistentFlags().StringVar(&flagKind, "kind", "prefix", "match kind for names")
	queryCmd.PersistentFlags().StringVar(&flagFrom, "from", "", "file the query originates from (private items and inheritance are relative to it)")

	queryCmd.AddCommand(membersCmd)
	queryCmd.AddCommand(overridesCmd)
	queryCmd.AddCommand(subclassesCmd)
	queryCmd.AddCommand(superclassesCmd)
	queryCmd.AddCommand(classesCmd)
	queryCmd.AddCommand(exceptionsCmd)
	queryCmd.AddCommand(modulesCmd)
	queryCmd.AddCommand(packagesCmd)
	queryCmd.AddCommand(elementsCmd)
	queryCmd.AddCommand(importsForCmd)
	queryCmd.AddCommand(wildcardCmd)
	queryCmd.AddCommand(builtinsCmd)
}

// --- Helpers ---

// queryContext is an open engine plus the Index a query runs against.
type queryContext struct {
	engine *pyindex.Engine
	index  *pyindex.Index
	kind   pyindex.MatchKind
}

// openQuery opens the engine and selects the Index for --from.
func openQuery() (*queryContext, error) {
	kind, err := store.ParseMatchKind(flagKind)
	if err != nil {
		return nil, err
	}
	engine, err := openExistingEngine()
	if err != nil {
		return nil, err
	}
	qc := &queryContext{engine: engine, kind: kind}
	if flagFrom != "" {
		qc.index = engine.Index(engine.Location(flagFrom))
	} else {
		qc.index = engine.Query()
	}
	return qc, nil
}

func (qc *queryContext) Close() error {
	return qc.engine.Close()
}

// paginate applies --offset and --limit to s.
func paginate[T any](s []T) []T {
	limit := flagLimit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if flagOffset >= len(s) {
		return []T{}
	}
	s = s[max(flagOffset, 0):]
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

// outputSymbols paginates and writes symbol results.
func outputSymbols(command string, syms []*pyindex.IndexedSymbol, withOrder bool) error {
	total := len(syms)
	return outputResult(CLIResult{
		Command:    command,
		Results:    symbolsToCLI(paginate(syms), withOrder),
		TotalCount: &total,
	})
}

// outputNames paginates and writes string results.
func outputNames(command string, names []string) error {
	total := len(names)
	page := paginate(names)
	if page == nil {
		page = []string{}
	}
	return outputResult(CLIResult{Command: command, Results: page, TotalCount: &total})
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// optionalArg returns args[i] or "".
func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// shortClassName strips the namespace from a qualified class key.
func shortClassName(fqn string) string {
	if i := strings.LastIndex(fqn, pyindex.NamespaceSeparator); i >= 0 {
		return fqn[i+len(pyindex.NamespaceSeparator):]
	}
	return fqn
}

// --- Hierarchy commands ---

var flagOverrides bool

var membersCmd = &cobra.Command{
	Use:   "members <class> [name]",
	Short: "List the members of a class, including inherited ones",
	Long:  "Resolves the class's bases breadth-first and lists every member whose name matches. With --overrides, members redefined further out are kept and carry the rank of their declaring class.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("members", err)
		}
		defer qc.Close()

		res := qc.index.ResolveMembers(args[0], optionalArg(args, 1), qc.kind, flagOverrides)
		total := len(res.Symbols)
		return outputResult(CLIResult{
			Command: "members",
			Results: CLIResolution{
				Symbols:   symbolsToCLI(paginate(res.Symbols), flagOverrides),
				Ancestors: res.Ancestors(),
				Visited:   res.Visited,
			},
			TotalCount: &total,
		})
	},
}

var overridesCmd = &cobra.Command{
	Use:   "overrides <class> <name>",
	Short: "List the ancestor definitions a member of class overrides",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("overrides", err)
		}
		defer qc.Close()
		return outputSymbols("overrides", qc.index.OverridingMethods(args[0], args[1]), true)
	},
}

var flagDirect bool

var subclassesCmd = &cobra.Command{
	Use:   "subclasses <class>",
	Short: "List the classes that inherit from class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("subclasses", err)
		}
		defer qc.Close()

		res := qc.index.ResolveSubclasses(args[0], shortClassName(args[0]), flagDirect)
		total := len(res.Symbols)
		return outputResult(CLIResult{
			Command: "subclasses",
			Results: CLIResolution{
				Symbols: symbolsToCLI(paginate(res.Symbols), false),
				Visited: res.Visited,
			},
			TotalCount: &total,
		})
	},
}

var superclassesCmd = &cobra.Command{
	Use:   "superclasses <class>",
	Short: "List the direct base classes of class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("superclasses", err)
		}
		defer qc.Close()
		return outputSymbols("superclasses", qc.index.SuperClasses(args[0]), false)
	},
}

func init() {
	membersCmd.Flags().BoolVar(&flagOverrides, "overrides", false, "keep members hidden by closer definitions")
	subclassesCmd.Flags().BoolVar(&flagDirect, "direct", false, "only direct subclasses")
}

// --- Discovery commands ---

var classesCmd = &cobra.Command{
	Use:   "classes [name]",
	Short: "Search classes by name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("classes", err)
		}
		defer qc.Close()
		return outputSymbols("classes", qc.index.Classes(optionalArg(args, 0), qc.kind, flagDuplicates), false)
	},
}

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions [name]",
	Short: "Search exception classes by name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("exceptions", err)
		}
		defer qc.Close()
		return outputSymbols("exceptions", qc.index.Exceptions(optionalArg(args, 0), qc.kind), false)
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules [name]",
	Short: "Search modules by dotted name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("modules", err)
		}
		defer qc.Close()
		return outputSymbols("modules", qc.index.Modules(optionalArg(args, 0), qc.kind), false)
	},
}

var packagesCmd = &cobra.Command{
	Use:   "packages <prefix>",
	Short: "List the package level below a dotted prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("packages", err)
		}
		defer qc.Close()
		return outputSymbols("packages", qc.index.Packages(args[0], qc.kind), false)
	},
}

var flagMembers bool

var elementsCmd = &cobra.Command{
	Use:   "elements [name]",
	Short: "Search module-level items, or class members with --members",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("elements", err)
		}
		defer qc.Close()
		name := optionalArg(args, 0)
		if flagMembers {
			return outputSymbols("elements", qc.index.AllMembers(name, qc.kind, flagDuplicates), false)
		}
		return outputSymbols("elements", qc.index.AllElements(name, qc.kind, flagDuplicates), false)
	},
}

func init() {
	classesCmd.Flags().BoolVar(&flagDuplicates, "duplicates", false, "keep every record of a name")
	elementsCmd.Flags().BoolVar(&flagDuplicates, "duplicates", false, "keep every record of a name")
	elementsCmd.Flags().BoolVar(&flagMembers, "members", false, "search class members instead of module items")
}

// --- Import commands ---

var flagWithSymbol bool

var importsForCmd = &cobra.Command{
	Use:   "imports-for <ident>",
	Short: "List the modules an identifier can be imported from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("imports-for", err)
		}
		defer qc.Close()
		return outputNames("imports-for", qc.index.ImportsFor(args[0], flagWithSymbol))
	},
}

var wildcardCmd = &cobra.Command{
	Use:   "wildcard <module>...",
	Short: "List the names 'from module import *' brings in",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("wildcard", err)
		}
		defer qc.Close()
		return outputNames("wildcard", qc.index.ImportedFromWildcards(args))
	},
}

var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "List every name of the builtin namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		qc, err := openQuery()
		if err != nil {
			return outputError("builtins", err)
		}
		defer qc.Close()
		return outputNames("builtins", qc.index.BuiltinSymbols())
	},
}

func init() {
	importsForCmd.Flags().BoolVar(&flagWithSymbol, "symbol", false, "label defining modules with the symbol")
}
