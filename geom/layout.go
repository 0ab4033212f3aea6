package geom

import (
	"fmt"
	"strings"

	"invoicekit/coords"
	"invoicekit/ir/raw"
)

// glyph is one positioned character as shown by a text operator. The
// stream/op/item/byte indices pin it to the exact bytes that painted
// it, which is what the rewriter splices out.
type glyph struct {
	text string
	code int
	rect Rect
	size float64 // nominal Tf size at show time
	kern float64 // TJ adjustment units that reproduce this glyph's advance

	stream, op, item   int // item is -1 outside TJ arrays
	byteStart, byteEnd int
}

type pageLayout struct {
	page    *raw.DictObj
	streams [][]byte
	ops     [][]op
	ctms    [][]coords.Matrix // CTM in effect when each op executed
	glyphs  []glyph
	text    string
	glyphAt []int
	fonts   map[string]*font
}

func (e *Engine) buildLayout(pageIndex int) (*pageLayout, error) {
	page := e.doc.Raw.ResolveDict(raw.Ref(e.pages[pageIndex].Num, e.pages[pageIndex].Gen))
	if page == nil {
		return nil, fmt.Errorf("geom: page %d: unresolvable page object", pageIndex)
	}
	l := &pageLayout{
		page:  page,
		fonts: e.loadFonts(page),
	}
	for _, data := range e.contentStreams(page) {
		ops, err := parseOps(data)
		if err != nil {
			return nil, fmt.Errorf("geom: page %d: %w", pageIndex, err)
		}
		l.streams = append(l.streams, data)
		l.ops = append(l.ops, ops)
	}
	l.extract()
	return l, nil
}

// contentStreams returns the decoded content streams of page in order.
// /Contents may be a single stream or an array of streams.
func (e *Engine) contentStreams(page *raw.DictObj) [][]byte {
	obj := mustGet(page, "Contents")
	if arr := e.doc.Raw.ResolveArray(obj); arr != nil {
		var out [][]byte
		for _, item := range arr.Items {
			if data := e.streamBytes(item); data != nil {
				out = append(out, data)
			}
		}
		return out
	}
	if data := e.streamBytes(obj); data != nil {
		return [][]byte{data}
	}
	return nil
}

// textState is the PDF text-object state plus the parameters that
// persist across BT/ET pairs.
type textState struct {
	tm, tlm coords.Matrix
	font    *font
	size    float64
	tc, tw  float64
	tl, ts  float64
	tz      float64
}

// extract runs the graphics/text state machine over all streams and
// records every shown glyph and the assembled page text.
func (l *pageLayout) extract() {
	var b strings.Builder
	var glyphAt []int

	ctm := coords.Identity()
	var ctmStack []coords.Matrix
	ts := textState{tm: coords.Identity(), tlm: coords.Identity(), tz: 1}
	noFont := &font{defaultWidth: 500, codeBytes: 1}

	var prevEndX, prevBaseY, prevSize float64
	havePrev := false

	show := func(si, oi, item int, str []byte) {
		f := ts.font
		if f == nil {
			f = noFont
		}
		m := ts.tm.Multiply(ctm)
		for _, cp := range f.codes(str) {
			w := f.width(cp.code) / 1000
			adv := (w*ts.size + ts.tc) * ts.tz
			if cp.code == 32 && f.codeBytes == 1 {
				adv += ts.tw * ts.tz
			}
			origin := m.Transform(coords.Point{X: 0, Y: ts.ts})
			endpt := m.Transform(coords.Point{X: adv, Y: ts.ts})
			corners := []coords.Point{
				m.Transform(coords.Point{X: 0, Y: ts.ts - 0.2*ts.size}),
				m.Transform(coords.Point{X: w * ts.size * ts.tz, Y: ts.ts - 0.2*ts.size}),
				m.Transform(coords.Point{X: 0, Y: ts.ts + 0.8*ts.size}),
				m.Transform(coords.Point{X: w * ts.size * ts.tz, Y: ts.ts + 0.8*ts.size}),
			}
			rect := Rect{LLX: corners[0].X, LLY: corners[0].Y, URX: corners[0].X, URY: corners[0].Y}
			for _, p := range corners[1:] {
				rect = rect.Union(Rect{LLX: p.X, LLY: p.Y, URX: p.X, URY: p.Y})
			}

			kern := 0.0
			if ts.size*ts.tz != 0 {
				kern = adv * 1000 / (ts.size * ts.tz)
			}
			gi := len(l.glyphs)
			l.glyphs = append(l.glyphs, glyph{
				text: cp.text, code: cp.code, rect: rect,
				size: ts.size, kern: kern,
				stream: si, op: oi, item: item,
				byteStart: cp.byteStart, byteEnd: cp.byteEnd,
			})

			if cp.text != "" {
				if havePrev {
					tol := prevSize
					if tol <= 0 {
						tol = ts.size
					}
					switch {
					case abs(origin.Y-prevBaseY) > 0.5*tol:
						b.WriteByte('\n')
						glyphAt = append(glyphAt, -1)
					case origin.X-prevEndX > 0.25*tol && cp.text != " ":
						b.WriteByte(' ')
						glyphAt = append(glyphAt, -1)
					}
				}
				for range []byte(cp.text) {
					glyphAt = append(glyphAt, gi)
				}
				b.WriteString(cp.text)
				prevEndX = endpt.X
				prevBaseY = origin.Y
				prevSize = ts.size
				havePrev = true
			}

			ts.tm = coords.Translate(adv, 0).Multiply(ts.tm)
			m = ts.tm.Multiply(ctm)
		}
	}

	nextLine := func(tx, ty float64) {
		ts.tlm = coords.Translate(tx, ty).Multiply(ts.tlm)
		ts.tm = ts.tlm
	}

	l.ctms = make([][]coords.Matrix, len(l.ops))
	for si, ops := range l.ops {
		l.ctms[si] = make([]coords.Matrix, len(ops))
		for oi, o := range ops {
			l.ctms[si][oi] = ctm
			switch o.name {
			case "q":
				ctmStack = append(ctmStack, ctm)
			case "Q":
				if n := len(ctmStack); n > 0 {
					ctm = ctmStack[n-1]
					ctmStack = ctmStack[:n-1]
				}
			case "cm":
				if m, ok := matrixArgs(o.args); ok {
					ctm = m.Multiply(ctm)
				}
			case "BT":
				ts.tm = coords.Identity()
				ts.tlm = coords.Identity()
			case "Tf":
				if len(o.args) == 2 && o.args[0].kind == opName {
					ts.font = l.fonts[o.args[0].name]
					ts.size = o.args[1].num
				}
			case "Td":
				if len(o.args) == 2 {
					nextLine(o.args[0].num, o.args[1].num)
				}
			case "TD":
				if len(o.args) == 2 {
					ts.tl = -o.args[1].num
					nextLine(o.args[0].num, o.args[1].num)
				}
			case "Tm":
				if m, ok := matrixArgs(o.args); ok {
					ts.tm = m
					ts.tlm = m
				}
			case "T*":
				nextLine(0, -ts.tl)
			case "TL":
				if len(o.args) == 1 {
					ts.tl = o.args[0].num
				}
			case "Tc":
				if len(o.args) == 1 {
					ts.tc = o.args[0].num
				}
			case "Tw":
				if len(o.args) == 1 {
					ts.tw = o.args[0].num
				}
			case "Tz":
				if len(o.args) == 1 {
					ts.tz = o.args[0].num / 100
				}
			case "Ts":
				if len(o.args) == 1 {
					ts.ts = o.args[0].num
				}
			case "Tj":
				if len(o.args) == 1 && o.args[0].kind == opString {
					show(si, oi, -1, o.args[0].str)
				}
			case "'":
				if len(o.args) == 1 && o.args[0].kind == opString {
					nextLine(0, -ts.tl)
					show(si, oi, -1, o.args[0].str)
				}
			case "\"":
				if len(o.args) == 3 && o.args[2].kind == opString {
					ts.tw = o.args[0].num
					ts.tc = o.args[1].num
					nextLine(0, -ts.tl)
					show(si, oi, -1, o.args[2].str)
				}
			case "TJ":
				if len(o.args) == 1 && o.args[0].kind == opArray {
					for ii, item := range o.args[0].arr {
						switch item.kind {
						case opString:
							show(si, oi, ii, item.str)
						case opNumber:
							tx := -item.num / 1000 * ts.size * ts.tz
							ts.tm = coords.Translate(tx, 0).Multiply(ts.tm)
						}
					}
				}
			}
		}
	}
	l.text = b.String()
	l.glyphAt = glyphAt
}

func matrixArgs(args []operand) (coords.Matrix, bool) {
	if len(args) != 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i, a := range args {
		if a.kind != opNumber {
			return coords.Matrix{}, false
		}
		m[i] = a.num
	}
	return m, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
