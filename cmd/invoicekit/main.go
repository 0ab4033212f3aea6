// Command invoicekit splits multi-invoice PDFs and replaces text in
// place.
//
//	invoicekit split [-markers "Invoice,Faktura"] [-pattern RE] [-out DIR] <pdf>
//	invoicekit chunk -n 2 [-out DIR] <pdf>
//	invoicekit edit -search TEXT -replace TEXT [-out DIR] <pdf>
//
// Flag defaults may come from the environment (INVOICEKIT_MARKERS,
// INVOICEKIT_PATTERN, INVOICEKIT_OUT, INVOICEKIT_CONFIG), optionally
// loaded from a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"invoicekit"
	"invoicekit/observability"
)

type options struct {
	command string
	pdfPath string

	markers    string
	pattern    string
	outDir     string
	configPath string
	chunkSize  int
	search     string
	replace    string
	verbose    bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoicekit: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "invoicekit: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	// A local .env supplies defaults without shadowing real env vars.
	_ = godotenv.Load()

	if len(args) < 1 {
		usage()
		return options{}, fmt.Errorf("missing command")
	}
	opts := options{command: args[0]}

	fs := flag.NewFlagSet(opts.command, flag.ContinueOnError)
	fs.StringVar(&opts.markers, "markers", os.Getenv("INVOICEKIT_MARKERS"),
		"Comma-separated invoice header markers")
	fs.StringVar(&opts.pattern, "pattern", os.Getenv("INVOICEKIT_PATTERN"),
		"Regular expression boundary rule (overrides markers)")
	fs.StringVar(&opts.outDir, "out", os.Getenv("INVOICEKIT_OUT"),
		"Directory for generated files (default: input's directory)")
	fs.StringVar(&opts.configPath, "config", os.Getenv("INVOICEKIT_CONFIG"),
		"YAML config file")
	fs.IntVar(&opts.chunkSize, "n", 1, "Pages per chunk (chunk command)")
	fs.StringVar(&opts.search, "search", "", "Text to find (edit command)")
	fs.StringVar(&opts.replace, "replace", "", "Replacement text (edit command)")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args[1:]); err != nil {
		return options{}, err
	}

	switch opts.command {
	case "split", "chunk", "edit":
	default:
		usage()
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}
	if fs.NArg() != 1 {
		usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = fs.Arg(0)
	return opts, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  invoicekit split [-markers LIST] [-pattern RE] [-config FILE] [-out DIR] <pdf>
  invoicekit chunk -n PAGES [-out DIR] <pdf>
  invoicekit edit -search TEXT -replace TEXT [-out DIR] <pdf>
`)
}

func run(opts options) error {
	cfg := invoicekit.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := invoicekit.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.markers != "" {
		cfg.Markers = splitList(opts.markers)
	}
	if opts.pattern != "" {
		cfg.Pattern = opts.pattern
	}
	if opts.outDir != "" {
		cfg.OutputDir = opts.outDir
	}

	logger := observability.NewStderrLogger(opts.verbose || cfg.Verbose)
	common := []invoicekit.Option{
		invoicekit.WithLogger(logger),
	}
	if cfg.OutputDir != "" {
		common = append(common, invoicekit.WithOutputDir(cfg.OutputDir))
	}
	ctx := context.Background()

	switch opts.command {
	case "split":
		splitOpts := append(common, invoicekit.WithMarkers(cfg.Markers...))
		if cfg.Pattern != "" {
			splitOpts = append(splitOpts, invoicekit.WithPattern(cfg.Pattern))
		}
		result, err := invoicekit.SplitDocument(ctx, opts.pdfPath, splitOpts...)
		if err != nil {
			return err
		}
		for i, file := range result.Files {
			fmt.Printf("%s\t%s\n", file, result.Ranges[i])
		}
		return nil

	case "chunk":
		result, err := invoicekit.SplitEveryN(ctx, opts.pdfPath, opts.chunkSize, common...)
		if err != nil {
			return err
		}
		for i, file := range result.Files {
			fmt.Printf("%s\t%s\n", file, result.Ranges[i])
		}
		return nil

	case "edit":
		replacements := invoicekit.ReplacementSet{}
		for old, repl := range cfg.Replacements {
			replacements[old] = repl
		}
		if opts.search != "" {
			replacements[opts.search] = opts.replace
		}
		if len(replacements) == 0 {
			return fmt.Errorf("edit requires -search or config replacements")
		}
		result, err := invoicekit.EditDocument(ctx, opts.pdfPath, replacements, common...)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d replacements on %d pages\n", result.File, result.Replacements, result.PagesTouched)
		return nil
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
