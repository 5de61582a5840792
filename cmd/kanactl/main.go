// kanactl is the operator CLI for kanaime dictionaries and the conversion
// pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"kanaime/internal/config"
	"kanaime/internal/dictionary"
	"kanaime/internal/ime"
	"kanaime/internal/kana"
	"kanaime/internal/logging"
	"kanaime/internal/segment"
)

const usageText = `kanactl - Operator utility for kanaime

Usage: kanactl [options] <command> [args]

Commands:
  convert <romaji>          Run the conversion pipeline and print candidates
  query <reading>           Print candidates for a reading
  learn <reading> <word>    Record a selection
  import <file.tsv>         Import a TSV dictionary source
  stats                     Show dictionary statistics
  schema [-check <file>]    Print the snapshot JSON schema or validate a file
  migrate [-status|-rollback]
                            Apply, inspect or revert SQLite schema migrations
  help                      Show this help message

Options:
  -config <path>  Path to config file
  -json           Print JSON instead of text
  -v              Log dictionary and engine activity to stderr`

var errUsage = errors.New("usage")

type cli struct {
	stdout, stderr io.Writer

	configPath string
	jsonOut    bool
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("kanactl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usageText) }
	fs.StringVar(&c.configPath, "config", "", "path to config file")
	fs.BoolVar(&c.jsonOut, "json", false, "print JSON")
	fs.BoolVar(&c.verbose, "v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "convert":
		err = c.withArgs(rest, 1, "convert <romaji>", func() error { return c.cmdConvert(ctx, rest[0]) })
	case "query":
		err = c.withArgs(rest, 1, "query <reading>", func() error { return c.cmdQuery(ctx, rest[0]) })
	case "learn":
		err = c.withArgs(rest, 2, "learn <reading> <word>", func() error { return c.cmdLearn(ctx, rest[0], rest[1]) })
	case "import":
		err = c.withArgs(rest, 1, "import <file.tsv>", func() error { return c.cmdImport(ctx, rest[0]) })
	case "stats":
		err = c.cmdStats(ctx)
	case "schema":
		err = c.cmdSchema(rest)
	case "migrate":
		err = c.cmdMigrate(rest)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case errors.Is(err, errUsage):
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) withArgs(args []string, n int, usage string, fn func() error) error {
	if len(args) != n {
		fmt.Fprintf(c.stderr, "Usage: kanactl %s\n", usage)
		return errUsage
	}
	return fn()
}

func (c *cli) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	return config.Load(path)
}

func (c *cli) logger() (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Component = "kanactl"
	cfg.Writer = c.stderr
	cfg.Level = logging.LevelWarn
	if c.verbose {
		cfg.Level = logging.LevelDebug
	}
	return logging.New(cfg)
}

// openStore opens the dictionary chain the daemon would use.
func (c *cli) openStore(ctx context.Context) (*dictionary.Store, *config.Config, *logging.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, nil, nil, err
	}
	backend := dictionary.OpenChain(ctx, dictionary.ChainConfig{
		SQLitePath:  cfg.Dictionary.SQLitePath,
		SourcePath:  cfg.Dictionary.SourcePath,
		JournalPath: cfg.Dictionary.JournalPath,
		MaxPerKey:   cfg.Dictionary.MaxPerKey,
		Logger:      logger.Logger,
	})
	store, err := dictionary.NewStore(backend, dictionary.StoreOptions{
		Limit:           cfg.Dictionary.QueryLimit,
		BreakerFailures: uint32(cfg.Dictionary.BreakerFailures),
		BreakerTimeout:  cfg.Dictionary.BreakerTimeout(),
		Logger:          logger.Logger,
	})
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	return store, cfg, logger, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) cmdQuery(ctx context.Context, reading string) error {
	store, _, _, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reading = kana.NormalizeReading(reading)
	candidates := store.Query(ctx, reading)
	if c.jsonOut {
		return c.printJSON(map[string]any{"reading": reading, "candidates": candidates})
	}
	for i, cand := range candidates {
		fmt.Fprintf(c.stdout, "%2d  %s\n", i, cand)
	}
	return nil
}

func (c *cli) cmdLearn(ctx context.Context, reading, word string) error {
	store, _, _, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reading = kana.NormalizeReading(reading)
	if reading == "" || word == "" {
		return errors.New("reading and word must not be empty")
	}
	backend := store.Backend()
	if err := backend.Learn(ctx, reading, word, time.Now()); err != nil {
		return fmt.Errorf("learn in %s: %w", backend.Name(), err)
	}
	fmt.Fprintf(c.stdout, "Recorded %s -> %s (%s)\n", reading, word, backend.Name())
	return nil
}

func (c *cli) cmdImport(ctx context.Context, path string) error {
	store, _, _, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.ImportSource(ctx, path)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(res)
	}
	if res.Unchanged {
		fmt.Fprintf(c.stdout, "%s is unchanged since the last import\n", path)
		return nil
	}
	fmt.Fprintf(c.stdout, "Imported %d entries into %s (%d lines, %d skipped)\n",
		res.Imported, store.Backend().Name(), res.Parse.Lines, res.Parse.Skipped)
	return nil
}

func (c *cli) cmdStats(ctx context.Context) error {
	store, cfg, _, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(stats)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Backend:\t%s\n", stats.Backend)
	fmt.Fprintf(tw, "Entries:\t%d\n", stats.Entries)
	fmt.Fprintf(tw, "Readings:\t%d\n", stats.Readings)
	fmt.Fprintf(tw, "Learn records:\t%d\n", stats.LearnRecords)
	fmt.Fprintf(tw, "SQLite path:\t%s\n", cfg.Dictionary.SQLitePath)
	fmt.Fprintf(tw, "Source path:\t%s\n", cfg.Dictionary.SourcePath)
	return tw.Flush()
}

func (c *cli) cmdSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	check := fs.String("check", "", "validate a snapshot JSON file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *check == "" {
		_, err := c.stdout.Write(ime.SnapshotSchema)
		return err
	}

	schema, err := ime.CompileSnapshotSchema()
	if err != nil {
		return err
	}
	f, err := os.Open(*check)
	if err != nil {
		return err
	}
	defer f.Close()

	var instance any
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode %s: %w", *check, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s: %w", *check, err)
	}
	fmt.Fprintf(c.stdout, "%s: valid snapshot\n", *check)
	return nil
}

func (c *cli) cmdMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	status := fs.Bool("status", false, "show applied and pending migrations")
	rollback := fs.Bool("rollback", false, "revert the latest migration")
	if err := fs.Parse(args); err != nil || (*status && *rollback) {
		fmt.Fprintln(c.stderr, "Usage: kanactl migrate [-status|-rollback]")
		return errUsage
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Dictionary.SQLitePath == "" {
		return errors.New("dictionary.sqlite_path is not configured")
	}
	m, err := dictionary.OpenMigrator(cfg.Dictionary.SQLitePath)
	if err != nil {
		return err
	}
	defer m.Close()

	switch {
	case *rollback:
		if err := m.Rollback(); err != nil {
			return err
		}
	case !*status:
		if err := m.Migrate(); err != nil {
			return err
		}
	}

	st, err := m.Status()
	if err != nil {
		return err
	}
	if c.jsonOut {
		pending := make([]int, len(st.Pending))
		for i, p := range st.Pending {
			pending[i] = p.Version
		}
		return c.printJSON(map[string]any{
			"current": st.CurrentVersion,
			"latest":  st.LatestVersion,
			"pending": pending,
		})
	}
	fmt.Fprintf(c.stdout, "Schema version: %d (latest %d)\n", st.CurrentVersion, st.LatestVersion)
	for _, p := range st.Pending {
		fmt.Fprintf(c.stdout, "  pending %d  %s\n", p.Version, p.Description)
	}
	return nil
}

// cmdConvert drives a real engine: it types romaji, starts a conversion,
// loads every segment and exits without committing, so nothing is learned.
func (c *cli) cmdConvert(ctx context.Context, romaji string) error {
	store, cfg, logger, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := ime.NewEngine(ime.Options{
		Source: store,
		Segmenter: segment.New(store, segment.Options{
			MaxLength:   cfg.Conversion.MaxSegmentLength,
			Parallelism: cfg.Conversion.SegmentParallelism,
			Logger:      logger.Logger,
		}),
		Workers: cfg.Conversion.Workers,
		Logger:  logger.Logger,
	})
	defer engine.Close()

	snap, err := convert(ctx, engine, romaji)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(snap)
	}

	readings := make([]string, len(snap.Segments))
	for i, seg := range snap.Segments {
		readings[i] = seg.Reading
	}
	fmt.Fprintf(c.stdout, "Reading:  %s\n", strings.Join(readings, ""))
	fmt.Fprintf(c.stdout, "Segments: %s\n", strings.Join(readings, " | "))
	for i, seg := range snap.Segments {
		fmt.Fprintf(c.stdout, "\n[%d] %s\n", i, seg.Reading)
		for j, cand := range seg.Candidates {
			fmt.Fprintf(c.stdout, "  %2d  %s\n", j, cand)
		}
	}
	return nil
}

// convert returns the snapshot with every segment loaded.
func convert(ctx context.Context, engine *ime.Engine, romaji string) (ime.Snapshot, error) {
	for _, r := range strings.ToLower(romaji) {
		if err := engine.PushChar(r); err != nil {
			return ime.Snapshot{}, err
		}
	}
	if err := engine.BeginConversion(); err != nil {
		return ime.Snapshot{}, err
	}
	updates, stop := engine.Subscribe()
	defer stop()

	snap, err := waitLoaded(ctx, updates, 0)
	if err != nil {
		return snap, err
	}
	for i := 1; i < len(snap.Segments); i++ {
		if err := engine.SetFocus(i); err != nil {
			return snap, err
		}
		if snap, err = waitLoaded(ctx, updates, i); err != nil {
			return snap, err
		}
	}
	final := engine.Snapshot()
	return final, engine.Exit()
}

func waitLoaded(ctx context.Context, updates <-chan ime.Snapshot, i int) (ime.Snapshot, error) {
	var last ime.Snapshot
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return last, ime.ErrClosed
			}
			last = snap
			if snap.Mode != ime.ModeReviewing {
				return last, fmt.Errorf("conversion ended unexpectedly (mode %s)", snap.Mode)
			}
			if i < len(snap.Segments) && snap.Focus == i && !snap.Segments[i].Loading {
				return last, nil
			}
		}
	}
}
