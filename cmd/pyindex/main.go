package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/pyindex"
	"github.com/jward/pyindex/internal/config"
	"github.com/jward/pyindex/internal/logging"
)

var (
	flagDB       string
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pyindex",
	Short:         "Python symbol index with inheritance-aware queries",
	Long:          "pyindex indexes Python sources and library reference pages into a SQLite database and answers completion-style symbol queries over it.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .pyindex/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default from config)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(queryCmd)
}

// --- index ---

var (
	flagForce       bool
	flagSystemRoots []string
	flagParallel    bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a directory of Python sources",
	Long:  "Parses Python files with tree-sitter and writes their module and class documents to the SQLite database. Directories given with --system-root are indexed as the standard library.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	indexCmd.Flags().StringSliceVar(&flagSystemRoots, "system-root", nil, "standard library root (repeatable); also indexed")
	indexCmd.Flags().BoolVar(&flagParallel, "parallel", true, "build documents on a worker pool")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	// Determine the target directory.
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	// Resolve repo root, config and DB path.
	repoRoot := findRepoRoot(targetDir)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return err
	}
	dbPath := resolveDBPath(repoRoot, cfg)

	// Ensure .pyindex/ directory exists.
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dbDir, err)
	}

	// Handle --force: delete the DB file entirely.
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	if cmd.Flags().Changed("parallel") {
		cfg.Parallel = flagParallel
	}
	cfg.SystemRoots = append(cfg.SystemRoots, flagSystemRoots...)

	engine, err := openEngine(repoRoot, dbPath, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	roots := make([]string, 0, len(cfg.SystemRoots)+1)
	for _, r := range cfg.SystemRoots {
		roots = append(roots, config.ResolvePath(repoRoot, r))
	}
	roots = append(roots, targetDir)

	for _, dir := range roots {
		if err := engine.IndexDirectory(ctx, dir); err != nil {
			return fmt.Errorf("indexing %s: %w", dir, err)
		}
	}

	files, docs, err := engine.Store().Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Indexed %s in %s (%d files, %d documents)\n",
		targetDir, time.Since(start).Round(time.Millisecond), files, docs)
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)
	return nil
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep the index current while files change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	repoRoot := findRepoRoot(targetDir)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return err
	}
	debounce, err := cfg.Debounce()
	if err != nil {
		return err
	}
	dbPath := resolveDBPath(repoRoot, cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}

	engine, err := openEngine(repoRoot, dbPath, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.IndexDirectory(ctx, targetDir); err != nil {
		fmt.Fprintf(os.Stderr, "Initial index: %s\n", err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", targetDir)
	return engine.Watch(ctx, targetDir, debounce)
}

// --- export / import ---

var flagAll bool

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a compressed snapshot of the system-library index",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a snapshot written by export",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	exportCmd.Flags().BoolVar(&flagAll, "all", false, "export every indexed file, not only system-root files")
}

func runExport(cmd *cobra.Command, args []string) error {
	engine, err := openExistingEngine()
	if err != nil {
		return outputError("export", err)
	}
	defer engine.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return outputError("export", err)
	}
	n, err := engine.ExportSnapshot(f, !flagAll)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return outputError("export", err)
	}
	return outputResult(CLIResult{Command: "export", Results: CLICount{Files: n}})
}

func runImport(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return outputError("import", err)
	}
	repoRoot := findRepoRoot(cwd)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return outputError("import", err)
	}
	dbPath := resolveDBPath(repoRoot, cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("import", err)
	}
	engine, err := openEngine(repoRoot, dbPath, cfg)
	if err != nil {
		return outputError("import", err)
	}
	defer engine.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return outputError("import", err)
	}
	defer f.Close()
	n, err := engine.ImportSnapshot(f)
	if err != nil {
		return outputError("import", err)
	}
	return outputResult(CLIResult{Command: "import", Results: CLICount{Files: n}})
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage .pyindex/config.toml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the repository root",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		repoRoot := findRepoRoot(cwd)
		path := filepath.Join(repoRoot, config.Dir, config.FileName)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
		if err := config.DefaultConfig().Save(repoRoot); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

// --- helpers ---

// newLogger builds the stderr logger from --log-level or the config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return logging.NewLogger(os.Stderr, logging.LevelFromString(level))
}

// openEngine creates an Engine configured from cfg.
func openEngine(repoRoot, dbPath string, cfg *config.Config) (*pyindex.Engine, error) {
	opts := []pyindex.Option{
		pyindex.WithLogger(newLogger(cfg)),
		pyindex.WithParallel(cfg.Parallel),
		pyindex.WithWorkers(cfg.Workers),
	}
	for _, r := range cfg.SystemRoots {
		opts = append(opts, pyindex.WithSystemRoots(config.ResolvePath(repoRoot, r)))
	}
	if cfg.PolicyScript != "" {
		opts = append(opts, pyindex.WithPolicyScript(config.ResolvePath(repoRoot, cfg.PolicyScript)))
	}
	if cfg.CacheInvalidation == config.InvalidateReindex {
		opts = append(opts, pyindex.WithCacheInvalidation(pyindex.InvalidateOnReindex))
	}

	engine, err := pyindex.New(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// openExistingEngine opens the Engine for the repository containing the
// working directory. The database must exist.
func openExistingEngine() (*pyindex.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, err
	}
	dbPath := resolveDBPath(repoRoot, cfg)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'pyindex index' first)", dbPath)
	}
	return openEngine(repoRoot, dbPath, cfg)
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, the config,
// or the default, relative to repoRoot.
func resolveDBPath(repoRoot string, cfg *config.Config) string {
	p := cfg.DBPath
	if flagDB != "" {
		p = flagDB
	}
	if p == "" {
		p = config.DefaultConfig().DBPath
	}
	return config.ResolvePath(repoRoot, p)
}
