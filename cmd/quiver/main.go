// Package main implements the quiver binary: an embeddable SQL engine with
// interchangeable index structures, driven by a script file, a one-off
// statement, or an interactive prompt on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/quiverdb/quiver/internal/config"
	"github.com/quiverdb/quiver/internal/engine"
	"github.com/quiverdb/quiver/internal/query/executor"
	"github.com/quiverdb/quiver/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		scriptFile  string
		sqlText     string
		listTables  bool
		showStats   bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for catalog, data and index files")
	flag.StringVar(&scriptFile, "script", "", "Run the SQL script at this path and exit")
	flag.StringVar(&sqlText, "sql", "", "Run this SQL text and exit")
	flag.BoolVar(&listTables, "tables", false, "List registered tables and exit")
	flag.BoolVar(&showStats, "stats", false, "Print execution statistics before exiting")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Quiver - SQL over interchangeable file organizations\n\n")
		fmt.Fprintf(os.Stderr, "Usage: quiver [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  quiver --data-dir /data/quiver\n")
		fmt.Fprintf(os.Stderr, "  quiver --script load.sql --data-dir /data/quiver\n")
		fmt.Fprintf(os.Stderr, "  quiver --sql \"SELECT * FROM people WHERE id = 1\"\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  QUIVER_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  QUIVER_BTREE_ORDER     B+ tree order\n")
		fmt.Fprintf(os.Stderr, "  QUIVER_RTREE_MAX_ENTRIES  R-tree fan-out\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("quiver version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	eng, err := engine.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()

	switch {
	case listTables:
		err = printTables(ctx, eng)
	case scriptFile != "":
		var text []byte
		text, err = os.ReadFile(scriptFile)
		if err != nil {
			log.Fatalf("Failed to read script: %v", err)
		}
		err = runScript(ctx, eng, string(text))
	case sqlText != "":
		err = runScript(ctx, eng, sqlText)
	default:
		printBanner(cfg)
		err = runPrompt(ctx, eng)
	}

	if showStats {
		printStats(eng)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// loadConfig loads configuration from file, environment, and flags, in
// ascending priority.
func loadConfig(configFile, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("Quiver %s", version)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  B+ tree order %d, hash bucket %d, ISAM block %d, sparse interval %d, R-tree fan-out %d",
		cfg.BTree.Order, cfg.Hash.BucketCapacity, cfg.ISAM.BlockFactor,
		cfg.Sequential.SparseInterval, cfg.RTree.MaxEntries)
	log.Printf("Type SQL statements terminated by ';'. Ctrl-D exits.")
}

// runScript executes a whole script, printing each result.
func runScript(ctx context.Context, eng *engine.Engine, text string) error {
	stmts, err := eng.Compile(text)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		res, err := eng.Execute(ctx, stmt)
		if err != nil {
			return err
		}
		printResult(res)
	}
	return nil
}

// runPrompt reads semicolon-terminated statements from stdin. A statement
// that fails is reported and the prompt continues.
func runPrompt(ctx context.Context, eng *engine.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var buf strings.Builder
	fmt.Print("quiver> ")
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if !strings.Contains(line, ";") {
			fmt.Print("     -> ")
			continue
		}
		if err := runScript(ctx, eng, buf.String()); err != nil {
			fmt.Printf("error: %v\n", err)
		}
		buf.Reset()
		fmt.Print("quiver> ")
	}
	fmt.Println()
	return scanner.Err()
}

func printResult(res *executor.Result) {
	if len(res.Schema.Fields) == 0 {
		fmt.Printf("ok (%d affected)\n", res.Affected)
		return
	}
	names := make([]string, len(res.Schema.Fields))
	for i, f := range res.Schema.Fields {
		names[i] = f.Name
	}
	fmt.Println(strings.Join(names, " | "))
	for _, rec := range res.Records {
		cells := make([]string, len(rec))
		for i, v := range rec {
			cells[i] = v.String()
		}
		fmt.Println(strings.Join(cells, " | "))
	}
	fmt.Printf("(%d rows)\n", len(res.Records))
}

func printTables(ctx context.Context, eng *engine.Engine) error {
	infos, err := eng.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		state := ""
		if !info.Usable {
			state = " [unusable]"
		}
		fmt.Printf("%s (%s on %s)%s\n", info.Name, info.IndexKind, info.KeyField, state)
		for _, f := range info.Fields {
			fmt.Printf("  %s %s%s\n", f.Name, fieldType(f), fieldMarks(f))
		}
	}
	return nil
}

func fieldType(f types.Field) string {
	switch f.Kind {
	case types.KindVarchar:
		return fmt.Sprintf("VARCHAR[%d]", f.Size)
	case types.KindPoint:
		return "ARRAY[FLOAT]"
	default:
		return strings.ToUpper(f.Kind.String())
	}
}

func fieldMarks(f types.Field) string {
	var marks []string
	if f.Key {
		marks = append(marks, "KEY")
	}
	if f.Index != types.IndexNone {
		marks = append(marks, "INDEX "+string(f.Index))
	}
	if len(marks) == 0 {
		return ""
	}
	return " " + strings.Join(marks, " ")
}

func printStats(eng *engine.Engine) {
	for _, s := range eng.Stats() {
		log.Printf("%-6s count=%d rows=%d total=%v", s.Kind, s.Count, s.Rows, s.TotalDuration)
	}
	for _, p := range eng.TopPredicates(10) {
		log.Printf("predicate %-12s freq=%d shapes=%v", p.Field, p.Frequency, p.Shapes)
	}
}
