// Package main is the entry point for the easel headless renderer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dshills/easel/internal/app"
	"github.com/dshills/easel/internal/config"
	"github.com/dshills/easel/internal/document"
	"github.com/dshills/easel/internal/store"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	logLevel   string
	output     string
	uid        string
	list       bool
	input      string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, code, ok := parseFlags(os.Args[1:])
	if !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	sessOpts := app.Options{Config: cfg}
	switch {
	case opts.input == "":
		// Blank document at the configured size.
	case isDatabase(opts.input):
		st, err := store.OpenSQLite(opts.input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()
		if opts.list || opts.uid == "" {
			return list(ctx, st)
		}
		sessOpts.Store = st
		sessOpts.DocumentUID = opts.uid
	default:
		data, err := os.ReadFile(opts.input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		doc, err := document.Unmarshal(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", opts.input, err)
			return 1
		}
		sessOpts.Document = doc
	}

	session, err := app.New(ctx, sessOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer session.Close(context.Background())

	start := time.Now()
	frame, err := session.Render(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: render failed: %v\n", err)
		return 1
	}
	if err := frame.SavePNG(opts.output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	session.Logger().Info("rendered",
		"document", session.Document().UID,
		"output", opts.output,
		"elapsed", time.Since(start))
	return 0
}

func parseFlags(args []string) (options, int, bool) {
	var opts options
	var showVersion bool

	fs := flag.NewFlagSet("easel", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.output, "o", "out.png", "Output PNG path")
	fs.StringVar(&opts.uid, "uid", "", "Document uid inside a .db store")
	fs.BoolVar(&opts.list, "list", false, "List the documents in a .db store")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "easel - headless renderer for layered documents\n\n")
		fmt.Fprintf(os.Stderr, "Usage: easel [options] [document.json | store.db]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  easel drawing.json                 Render a document to out.png\n")
		fmt.Fprintf(os.Stderr, "  easel -o art.png drawing.json      Render to art.png\n")
		fmt.Fprintf(os.Stderr, "  easel -list docs.db                List stored documents\n")
		fmt.Fprintf(os.Stderr, "  easel -uid <uid> docs.db           Render a stored document\n")
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return opts, 0, false
		}
		return opts, 2, false
	}

	if showVersion {
		fmt.Printf("easel %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return opts, 0, false
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		return opts, 1, false
	}

	if fs.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Error: expected at most one document, got %d\n", fs.NArg())
		return opts, 2, false
	}
	opts.input = fs.Arg(0)
	return opts, 0, true
}

func isDatabase(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

func list(ctx context.Context, st store.Store) int {
	infos, err := st.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tTITLE\tUPDATED\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.UID, info.Title, info.Updated.Format(time.RFC3339), info.Size)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}
