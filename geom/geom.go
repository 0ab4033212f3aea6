// Package geom is the layout-aware text engine. It walks page content
// streams with full graphics-state tracking, maps every shown glyph to
// its user-space rectangle, and rewrites the streams to remove or
// replace text in place.
package geom

import (
	"fmt"
	"strings"
	"sync"

	"invoicekit/ir/decoded"
	"invoicekit/ir/raw"
)

// Rect is an axis-aligned user-space rectangle.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	if o.LLX < r.LLX {
		r.LLX = o.LLX
	}
	if o.LLY < r.LLY {
		r.LLY = o.LLY
	}
	if o.URX > r.URX {
		r.URX = o.URX
	}
	if o.URY > r.URY {
		r.URY = o.URY
	}
	return r
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.LLX >= r.LLX && o.LLY >= r.LLY && o.URX <= r.URX && o.URY <= r.URY
}

// TextRegion is one located occurrence of a search string on a page.
type TextRegion struct {
	Page int
	Rect Rect

	glyphs []int // indices into the page layout's glyph slice
}

// Replacement pairs a located region with the text to paint in its
// place. Empty Text removes the region without inserting anything.
type Replacement struct {
	Region TextRegion
	Text   string
}

// PageEdit is the outcome of applying a replacement batch to a page:
// the rewritten content streams in original order, plus an appended
// stream carrying the inserted text and the font alias it uses.
type PageEdit struct {
	Streams   [][]byte
	Appended  []byte
	FontAlias string
}

// Engine computes and caches per-page layout over a decoded document.
type Engine struct {
	doc   *decoded.Document
	pages []raw.ObjectRef

	mu    sync.Mutex
	cache map[int]*pageLayout
}

// NewEngine builds an engine over doc for the given page objects, in
// document order.
func NewEngine(doc *decoded.Document, pages []raw.ObjectRef) *Engine {
	return &Engine{doc: doc, pages: pages, cache: make(map[int]*pageLayout)}
}

// PageCount reports the number of pages the engine was built over.
func (e *Engine) PageCount() int { return len(e.pages) }

func (e *Engine) layout(pageIndex int) (*pageLayout, error) {
	if pageIndex < 0 || pageIndex >= len(e.pages) {
		return nil, fmt.Errorf("geom: page %d out of range", pageIndex)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.cache[pageIndex]; ok {
		return l, nil
	}
	l, err := e.buildLayout(pageIndex)
	if err != nil {
		return nil, err
	}
	e.cache[pageIndex] = l
	return l, nil
}

// PageText assembles the page's text in reading order as shown.
func (e *Engine) PageText(pageIndex int) (string, error) {
	l, err := e.layout(pageIndex)
	if err != nil {
		return "", err
	}
	return l.text, nil
}

// Locate finds every occurrence of literal on the page, case
// sensitively, and returns one region per occurrence with the union of
// the matched glyph rectangles.
func (e *Engine) Locate(pageIndex int, literal string) ([]TextRegion, error) {
	if literal == "" {
		return nil, nil
	}
	l, err := e.layout(pageIndex)
	if err != nil {
		return nil, err
	}
	var regions []TextRegion
	for start := 0; start <= len(l.text)-len(literal); {
		rel := strings.Index(l.text[start:], literal)
		if rel < 0 {
			break
		}
		idx := start + rel
		region, ok := l.regionFor(pageIndex, idx, idx+len(literal))
		if ok {
			regions = append(regions, region)
		}
		start = idx + len(literal)
	}
	return regions, nil
}

// regionFor maps a byte range of the assembled text back to glyphs.
// Separator characters synthesized between show runs carry no glyph;
// a match made only of separators yields no region.
func (l *pageLayout) regionFor(pageIndex, start, end int) (TextRegion, bool) {
	var glyphs []int
	seen := make(map[int]bool)
	for i := start; i < end; i++ {
		gi := l.glyphAt[i]
		if gi < 0 || seen[gi] {
			continue
		}
		seen[gi] = true
		glyphs = append(glyphs, gi)
	}
	if len(glyphs) == 0 {
		return TextRegion{}, false
	}
	rect := l.glyphs[glyphs[0]].rect
	for _, gi := range glyphs[1:] {
		rect = rect.Union(l.glyphs[gi].rect)
	}
	return TextRegion{Page: pageIndex, Rect: rect, glyphs: glyphs}, true
}
