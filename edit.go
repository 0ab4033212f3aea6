package invoicekit

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"invoicekit/document"
	"invoicekit/geom"
	"invoicekit/observability"
	"invoicekit/writer"
)

// ReplacementSet maps old literal text to its replacement. An empty
// replacement value removes the text without inserting anything.
type ReplacementSet map[string]string

// LayoutEngine is the capability the editor needs: glyph-accurate
// location and in-place rewriting of page text.
type LayoutEngine interface {
	PageCount() int
	Locate(page int, literal string) ([]geom.TextRegion, error)
	Apply(page int, batch []geom.Replacement) (*geom.PageEdit, error)
}

// Editor replaces text across a document's pages. The zero value has
// no engine and refuses to edit.
type Editor struct {
	Engine LayoutEngine
	Logger observability.Logger
}

// EditResult reports what a replacement produced.
type EditResult struct {
	// File is the written output, empty for in-memory runs.
	File string
	// Replacements counts replaced occurrences across all pages.
	Replacements int
	// PagesTouched counts pages with at least one replacement.
	PagesTouched int
}

// EditDocument applies every replacement in the set to the PDF at path
// and writes the result next to it as {base}_edited.pdf (override with
// WithOutputFile). Matching is case-sensitive. Zero occurrences is
// still a success; the output is then a plain rewrite of the input
// pages.
func EditDocument(ctx context.Context, path string, replacements ReplacementSet, opts ...Option) (*EditResult, error) {
	if err := validateReplacements(replacements); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	doc, err := openDocument(ctx, path, o.logger)
	if err != nil {
		return nil, err
	}

	editor := &Editor{Engine: doc.Engine(), Logger: o.logger}
	pages, result, err := editor.Replace(ctx, doc, replacements)
	if err != nil {
		return nil, err
	}

	outPath := o.outputFile
	if outPath == "" {
		outDir := o.outputDir
		if outDir == "" {
			outDir = filepath.Dir(path)
		}
		outPath = filepath.Join(outDir, doc.Name()+"_edited.pdf")
	}
	if err := writeFile(outPath, doc, pages); err != nil {
		return nil, err
	}
	result.File = outPath
	o.logger.Info("document edited",
		observability.String("file", outPath),
		observability.Int("replacements", result.Replacements),
		observability.Int("pages_touched", result.PagesTouched))
	return result, nil
}

func validateReplacements(replacements ReplacementSet) error {
	if len(replacements) == 0 {
		return fmt.Errorf("invoicekit: replacement set must not be empty")
	}
	for old := range replacements {
		if old == "" {
			return fmt.Errorf("invoicekit: replacement keys must not be empty")
		}
	}
	return nil
}

// Replace computes the full page set for doc with every key of the
// replacement set substituted. On each page, the regions of all keys
// are located against the original layout first and then applied as one
// batch, so no replacement can shift the geometry of another. Any page
// failure aborts the whole edit; nothing is partially applied because
// the caller saves once at the end.
func (e *Editor) Replace(ctx context.Context, doc *document.Document, replacements ReplacementSet) ([]writer.PageSpec, *EditResult, error) {
	if e.Engine == nil {
		return nil, nil, fmt.Errorf("%w: editor has no engine", ErrMissingCapability)
	}
	if err := validateReplacements(replacements); err != nil {
		return nil, nil, err
	}
	log := e.Logger
	if log == nil {
		log = observability.NopLogger{}
	}

	keys := make([]string, 0, len(replacements))
	for old := range replacements {
		keys = append(keys, old)
	}
	sort.Strings(keys)

	result := &EditResult{}
	pages := make([]writer.PageSpec, 0, doc.PageCount())
	for page := 0; page < doc.PageCount(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		spec := writer.PageSpec{Ref: doc.PageRef(page), Dict: doc.PageDict(page)}

		var batch []geom.Replacement
		for _, old := range keys {
			regions, err := e.Engine.Locate(page, old)
			if err != nil {
				return nil, nil, fmt.Errorf("invoicekit: locate %q on page %d: %w", old, page, err)
			}
			for _, region := range regions {
				batch = append(batch, geom.Replacement{Region: region, Text: replacements[old]})
			}
		}
		if len(batch) > 0 {
			edit, err := e.Engine.Apply(page, batch)
			if err != nil {
				return nil, nil, fmt.Errorf("invoicekit: replace on page %d: %w", page, err)
			}
			spec.ReplaceContents = edit.Streams
			spec.AppendContents = edit.Appended
			spec.FontAlias = edit.FontAlias
			result.Replacements += len(batch)
			result.PagesTouched++
			log.Debug("page rewritten",
				observability.Int("page", page),
				observability.Int("occurrences", len(batch)))
		}
		pages = append(pages, spec)
	}
	return pages, result, nil
}
