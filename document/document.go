// Package document opens a PDF and exposes its pages to the splitting
// and editing pipelines. Plain text comes from a fast basic extractor
// with the layout engine as fallback; layout queries go to the engine
// directly.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"invoicekit/geom"
	"invoicekit/ir/decoded"
	"invoicekit/ir/raw"
	"invoicekit/observability"
)

// ErrInvalidFormat reports input that does not carry a PDF header or
// cannot be parsed into a page tree.
var ErrInvalidFormat = errors.New("document: not a valid PDF")

// Document is one open PDF.
type Document struct {
	name string
	data []byte
	raw  *raw.Document
	dec  *decoded.Document
	log  observability.Logger

	pageRefs  []raw.ObjectRef
	pageDicts []*raw.DictObj

	engine    *geom.Engine
	basic     *pdf.Reader
	basicInit bool
	pageTexts map[int]string
}

// Open reads and parses the PDF at path. The document name used for
// derived output files is the base name without extension.
func Open(ctx context.Context, path string, log observability.Logger) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Load(ctx, data, name, log)
}

// Load parses an in-memory PDF.
func Load(ctx context.Context, data []byte, name string, log observability.Logger) (*Document, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, ErrInvalidFormat
	}

	rawDoc, err := raw.NewParser().Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	dec, err := decoded.NewDecoder().Decode(ctx, rawDoc)
	if err != nil {
		return nil, err
	}
	if err := decoded.InflateObjectStreams(dec); err != nil {
		log.Warn("object stream inflation incomplete", observability.Error("err", err))
	}

	d := &Document{
		name:      name,
		data:      data,
		raw:       rawDoc,
		dec:       dec,
		log:       log,
		pageTexts: make(map[int]string),
	}
	if err := d.collectPages(); err != nil {
		return nil, err
	}
	log.Debug("document loaded",
		observability.String("name", name),
		observability.Int("pages", len(d.pageRefs)),
		observability.Int("objects", len(rawDoc.Objects)))
	return d, nil
}

func (d *Document) Name() string                { return d.name }
func (d *Document) PageCount() int              { return len(d.pageRefs) }
func (d *Document) Encrypted() bool             { return d.raw.Encrypted }
func (d *Document) Raw() *raw.Document          { return d.raw }
func (d *Document) PageRef(i int) raw.ObjectRef { return d.pageRefs[i] }
func (d *Document) PageDict(i int) *raw.DictObj { return d.pageDicts[i] }

// Engine returns the layout engine, built on first use.
func (d *Document) Engine() *geom.Engine {
	if d.engine == nil {
		d.engine = geom.NewEngine(d.dec, d.pageRefs)
	}
	return d.engine
}

// PageText extracts the plain text of page i (0-based). Extraction is
// best effort: pages whose text cannot be recovered yield "".
func (d *Document) PageText(i int) string {
	if i < 0 || i >= len(d.pageRefs) {
		return ""
	}
	if text, ok := d.pageTexts[i]; ok {
		return text
	}
	text := d.basicPageText(i)
	if text == "" {
		var err error
		text, err = d.Engine().PageText(i)
		if err != nil {
			d.log.Debug("page text extraction failed",
				observability.Int("page", i),
				observability.Error("err", err))
			text = ""
		}
	}
	d.pageTexts[i] = text
	return text
}

// basicPageText runs the fast extractor. It chokes on some files the
// layout engine handles, so failures (including panics in its xref
// handling) just fall through to the engine.
func (d *Document) basicPageText(i int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Debug("basic extractor panic",
				observability.Int("page", i),
				observability.String("cause", fmt.Sprint(r)))
			text = ""
		}
	}()
	if !d.basicInit {
		d.basicInit = true
		r, err := pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
		if err != nil {
			return ""
		}
		d.basic = r
	}
	if d.basic == nil || i >= d.basic.NumPage() {
		return ""
	}
	page := d.basic.Page(i + 1)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// collectPages walks the page tree from the catalog, depth first, so
// page indices match document order.
func (d *Document) collectPages() error {
	if d.raw.Trailer == nil {
		return fmt.Errorf("%w: no trailer", ErrInvalidFormat)
	}
	rootObj, ok := d.raw.Trailer.Get(raw.NameLiteral("Root"))
	if !ok {
		return fmt.Errorf("%w: trailer has no Root", ErrInvalidFormat)
	}
	catalog := d.raw.ResolveDict(rootObj)
	if catalog == nil {
		return fmt.Errorf("%w: unresolvable catalog", ErrInvalidFormat)
	}
	pagesObj, ok := catalog.Get(raw.NameLiteral("Pages"))
	if !ok {
		return fmt.Errorf("%w: catalog has no page tree", ErrInvalidFormat)
	}
	visited := make(map[raw.ObjectRef]bool)
	d.walkPages(pagesObj, visited, 0)
	return nil
}

func (d *Document) walkPages(obj raw.Object, visited map[raw.ObjectRef]bool, depth int) {
	if depth > 64 {
		return
	}
	if ref, ok := obj.(raw.Reference); ok {
		if visited[ref.Ref()] {
			return
		}
		visited[ref.Ref()] = true
	}
	node := d.raw.ResolveDict(obj)
	if node == nil {
		return
	}
	switch dictType(d.raw, node) {
	case "Pages":
		if kids := d.raw.ResolveArray(mustGet(node, "Kids")); kids != nil {
			for _, kid := range kids.Items {
				d.walkPages(kid, visited, depth+1)
			}
		}
	case "Page":
		ref, ok := obj.(raw.Reference)
		if !ok {
			return
		}
		d.pageRefs = append(d.pageRefs, ref.Ref())
		d.pageDicts = append(d.pageDicts, node)
	}
}

func dictType(doc *raw.Document, dict *raw.DictObj) string {
	if n, ok := doc.Resolve(mustGet(dict, "Type")).(raw.Name); ok {
		return n.Value()
	}
	return ""
}

func mustGet(dict raw.Dictionary, key string) raw.Object {
	if dict == nil {
		return nil
	}
	obj, _ := dict.Get(raw.NameLiteral(key))
	return obj
}
