// Package invoicekit splits multi-invoice PDFs into one file per
// invoice and performs in-place text replacement across a PDF's pages.
package invoicekit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"invoicekit/document"
	"invoicekit/observability"
	"invoicekit/splitter"
	"invoicekit/writer"
)

type options struct {
	markers    []string
	pattern    string
	outputDir  string
	outputFile string
	logger     observability.Logger
}

// Option adjusts a split or edit operation.
type Option func(*options)

// WithMarkers overrides the literal boundary markers.
func WithMarkers(markers ...string) Option {
	return func(o *options) { o.markers = markers }
}

// WithPattern sets a regular expression boundary rule, which takes
// precedence over markers.
func WithPattern(rule string) Option {
	return func(o *options) { o.pattern = rule }
}

// WithOutputDir redirects generated files away from the input's
// directory.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

// WithOutputFile sets an explicit output path for operations that
// produce a single file, overriding the default naming.
func WithOutputFile(path string) Option {
	return func(o *options) { o.outputFile = path }
}

// WithLogger plugs in a logger; the default discards everything.
func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{markers: DefaultMarkers, logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SplitResult reports what a split produced.
type SplitResult struct {
	// Files are the written per-invoice PDFs, in page order.
	Files []string
	// Ranges are the page intervals behind each file.
	Ranges []splitter.PageRange
	// Boundaries are the detected invoice start pages.
	Boundaries []int
}

// SplitDocument detects invoice boundaries in the PDF at path and
// writes one file per invoice next to it, named
// {base}_invoice_{NNN}.pdf. A document with no detected boundaries
// beyond the first page still succeeds and yields a single file.
func SplitDocument(ctx context.Context, path string, opts ...Option) (*SplitResult, error) {
	o := buildOptions(opts)
	doc, err := openDocument(ctx, path, o.logger)
	if err != nil {
		return nil, err
	}

	cfg := splitter.MarkerConfig{Markers: o.markers, Pattern: o.pattern}
	res, err := splitter.Detect(doc, cfg)
	if err != nil {
		return nil, err
	}
	if res.TextPages == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInvoicesDetected, doc.Name())
	}
	o.logger.Info("boundaries detected",
		observability.String("doc", doc.Name()),
		observability.Int("invoices", len(res.Boundaries)),
		observability.Int("text_pages", res.TextPages))

	return splitAt(doc, path, res.Boundaries, o)
}

// SplitEveryN splits the PDF at path into fixed-size chunks of n pages
// without looking at its text.
func SplitEveryN(ctx context.Context, path string, n int, opts ...Option) (*SplitResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invoicekit: chunk size must be positive, got %d", n)
	}
	o := buildOptions(opts)
	doc, err := openDocument(ctx, path, o.logger)
	if err != nil {
		return nil, err
	}
	var boundaries []int
	for page := 0; page < doc.PageCount(); page += n {
		boundaries = append(boundaries, page)
	}
	return splitAt(doc, path, boundaries, o)
}

func splitAt(doc *document.Document, path string, boundaries []int, o options) (*SplitResult, error) {
	ranges, err := splitter.Partition(doc.PageCount(), boundaries)
	if err != nil {
		return nil, err
	}

	outDir := o.outputDir
	if outDir == "" {
		outDir = filepath.Dir(path)
	}
	result := &SplitResult{Ranges: ranges, Boundaries: boundaries}
	for i, r := range ranges {
		pages := make([]writer.PageSpec, 0, r.Len())
		for page := r.Start; page < r.End; page++ {
			pages = append(pages, writer.PageSpec{
				Ref:  doc.PageRef(page),
				Dict: doc.PageDict(page),
			})
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s_invoice_%03d.pdf", doc.Name(), i+1))
		if err := writeFile(outPath, doc, pages); err != nil {
			return nil, err
		}
		o.logger.Debug("invoice written",
			observability.String("file", outPath),
			observability.String("pages", r.String()))
		result.Files = append(result.Files, outPath)
	}
	return result, nil
}

func writeFile(path string, doc *document.Document, pages []writer.PageSpec) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writer.Write(f, doc.Raw(), pages); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func isInvalidFormat(err error) bool {
	return errors.Is(err, document.ErrInvalidFormat)
}

// openDocument maps document-level failures onto the package
// sentinels.
func openDocument(ctx context.Context, path string, log observability.Logger) (*document.Document, error) {
	doc, err := document.Open(ctx, path, log)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if isInvalidFormat(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, path)
		}
		return nil, err
	}
	if doc.Encrypted() {
		return nil, fmt.Errorf("%w: %s is encrypted", ErrUnsupportedFormat, path)
	}
	if doc.PageCount() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, path)
	}
	return doc, nil
}
