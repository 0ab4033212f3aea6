package geom

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"invoicekit/coords"
)

// Apply rewrites the page's content streams so that every glyph inside
// the batch regions disappears, then appends the replacement text as a
// separate stream. All geometry is taken from the layout computed
// before any mutation, so regions located together stay valid no
// matter how many are applied.
//
// Removed glyph bytes are replaced by negative TJ adjustments equal to
// their advance, which leaves the text and line matrices seen by every
// later operator untouched.
func (e *Engine) Apply(pageIndex int, batch []Replacement) (*PageEdit, error) {
	l, err := e.layout(pageIndex)
	if err != nil {
		return nil, err
	}

	removed := make(map[int]bool)
	var covers []Rect
	for _, rep := range batch {
		if rep.Region.Page != pageIndex {
			return nil, fmt.Errorf("geom: region for page %d applied to page %d", rep.Region.Page, pageIndex)
		}
		for _, gi := range rep.Region.glyphs {
			removed[gi] = true
		}
		covers = append(covers, rep.Region.Rect)
	}

	// Group every glyph by owning operator; ops with at least one
	// removed glyph get rewritten.
	type opKey struct{ stream, op int }
	byOp := make(map[opKey][]int)
	dirty := make(map[opKey]bool)
	for gi, g := range l.glyphs {
		key := opKey{g.stream, g.op}
		byOp[key] = append(byOp[key], gi)
		if removed[gi] {
			dirty[key] = true
		}
	}

	edit := &PageEdit{Streams: make([][]byte, len(l.streams))}
	for si, data := range l.streams {
		replaced := make(map[int][]byte)
		for oi, o := range l.ops[si] {
			key := opKey{si, oi}
			if dirty[key] {
				gis := byOp[key]
				sort.Slice(gis, func(a, b int) bool {
					ga, gb := l.glyphs[gis[a]], l.glyphs[gis[b]]
					if ga.item != gb.item {
						return ga.item < gb.item
					}
					return ga.byteStart < gb.byteStart
				})
				rep, err := rewriteShowOp(l, o, gis, removed)
				if err != nil {
					return nil, fmt.Errorf("geom: page %d: %w", pageIndex, err)
				}
				replaced[oi] = rep
				continue
			}
			// A rectangle fill lying wholly inside a removed region is
			// the text's own background or strikethrough; drop it with
			// its paint operator. Path coordinates are raw; the regions
			// are in user space, so the rect goes through the CTM that
			// was in effect when it was constructed.
			if o.name == "re" && oi+1 < len(l.ops[si]) && isFillOp(l.ops[si][oi+1].name) {
				if r, ok := reRect(o.args); ok && insideAny(transformRect(r, l.ctms[si][oi]), covers) {
					replaced[oi] = nil
					replaced[oi+1] = nil
				}
			}
		}
		edit.Streams[si] = rebuildStream(data, l.ops[si], replaced)
	}

	var appended bytes.Buffer
	for _, rep := range batch {
		if rep.Text == "" {
			continue
		}
		if edit.FontAlias == "" {
			edit.FontAlias = pickFontAlias(l.fonts)
		}
		writeInsertion(&appended, edit.FontAlias, rep.Region.Rect, rep.Text)
	}
	edit.Appended = appended.Bytes()
	return edit, nil
}

func isFillOp(name string) bool {
	switch name {
	case "f", "F", "f*":
		return true
	}
	return false
}

func reRect(args []operand) (Rect, bool) {
	if len(args) != 4 {
		return Rect{}, false
	}
	for _, a := range args {
		if a.kind != opNumber {
			return Rect{}, false
		}
	}
	x, y, w, h := args[0].num, args[1].num, args[2].num, args[3].num
	r := Rect{LLX: x, LLY: y, URX: x + w, URY: y + h}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r, true
}

// transformRect maps a rectangle through m and returns the bounding
// box of its transformed corners.
func transformRect(r Rect, m coords.Matrix) Rect {
	corners := []coords.Point{
		{X: r.LLX, Y: r.LLY},
		{X: r.URX, Y: r.LLY},
		{X: r.LLX, Y: r.URY},
		{X: r.URX, Y: r.URY},
	}
	p := m.Transform(corners[0])
	out := Rect{LLX: p.X, LLY: p.Y, URX: p.X, URY: p.Y}
	for _, c := range corners[1:] {
		q := m.Transform(c)
		out = out.Union(Rect{LLX: q.X, LLY: q.Y, URX: q.X, URY: q.Y})
	}
	return out
}

func insideAny(r Rect, covers []Rect) bool {
	for _, c := range covers {
		if c.Contains(r) {
			return true
		}
	}
	return false
}

// rewriteShowOp rebuilds a text-showing operator with the removed
// glyphs' bytes replaced by compensating kerns. Tj, ' and " are
// converted to TJ form; their line-advance and spacing side effects
// are reproduced by explicit operators.
func rewriteShowOp(l *pageLayout, o op, gis []int, removed map[int]bool) ([]byte, error) {
	var out bytes.Buffer
	switch o.name {
	case "Tj":
		writeTJ(&out, l, o.args[0].str, gis, removed)
	case "'":
		out.WriteString("T* ")
		writeTJ(&out, l, o.args[0].str, gis, removed)
	case "\"":
		fmt.Fprintf(&out, "%s Tw %s Tc T* ", formatNum(o.args[0].num), formatNum(o.args[1].num))
		writeTJ(&out, l, o.args[2].str, gis, removed)
	case "TJ":
		out.WriteByte('[')
		for ii, item := range o.args[0].arr {
			if ii > 0 {
				out.WriteByte(' ')
			}
			switch item.kind {
			case opNumber:
				out.WriteString(formatNum(item.num))
			case opString:
				writeSpliced(&out, l, item.str, glyphsOfItem(l, gis, ii), removed)
			}
		}
		out.WriteString("] TJ")
	default:
		return nil, fmt.Errorf("unexpected show operator %q", o.name)
	}
	return out.Bytes(), nil
}

func glyphsOfItem(l *pageLayout, gis []int, item int) []int {
	var out []int
	for _, gi := range gis {
		if l.glyphs[gi].item == item {
			out = append(out, gi)
		}
	}
	return out
}

func writeTJ(out *bytes.Buffer, l *pageLayout, str []byte, gis []int, removed map[int]bool) {
	out.WriteByte('[')
	writeSpliced(out, l, str, gis, removed)
	out.WriteString("] TJ")
}

// writeSpliced emits the string's glyphs as alternating literal-string
// segments and kern numbers covering the removed spans.
func writeSpliced(out *bytes.Buffer, l *pageLayout, str []byte, gis []int, removed map[int]bool) {
	var seg []byte
	kern := 0.0
	flushSeg := func() {
		if len(seg) > 0 {
			writeLiteralString(out, seg)
			seg = seg[:0]
		}
	}
	// A number is self-delimiting against the parentheses around it,
	// so no separators are needed.
	flushKern := func() {
		if kern != 0 {
			out.WriteString(formatNum(-kern))
			kern = 0
		}
	}
	for _, gi := range gis {
		g := l.glyphs[gi]
		if removed[gi] {
			flushSeg()
			kern += g.kern
			continue
		}
		flushKern()
		seg = append(seg, str[g.byteStart:g.byteEnd]...)
	}
	flushSeg()
	flushKern()
}

// writeLiteralString emits bytes as a PDF literal string, escaping
// delimiters and non-printable bytes.
func writeLiteralString(out *bytes.Buffer, data []byte) {
	out.WriteByte('(')
	for _, c := range data {
		switch {
		case c == '(' || c == ')' || c == '\\':
			out.WriteByte('\\')
			out.WriteByte(c)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(out, "\\%03o", c)
		default:
			out.WriteByte(c)
		}
	}
	out.WriteByte(')')
}

// pickFontAlias returns a resource name not already used by the page.
func pickFontAlias(fonts map[string]*font) string {
	for i := 1; ; i++ {
		alias := "FR" + strconv.Itoa(i)
		if _, taken := fonts[alias]; !taken {
			return alias
		}
	}
}

// writeInsertion appends the operators that paint text into a cleared
// region: the size is 80% of the region height and the baseline is
// centered so ascenders and descenders stay inside the box.
func writeInsertion(out *bytes.Buffer, alias string, r Rect, text string) {
	size := 0.8 * r.Height()
	x := r.LLX
	y := r.LLY + (r.Height()-size)/2
	fmt.Fprintf(out, "q BT /%s %s Tf 1 0 0 1 %s %s Tm 0 g ",
		alias, formatNum(size), formatNum(x), formatNum(y))
	writeLiteralString(out, encodeWinAnsi(text))
	out.WriteString(" Tj ET Q\n")
}

// encodeWinAnsi maps the insertion text onto single-byte codes for the
// standard fonts. Characters outside Latin-1 degrade to '?'.
func encodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r <= 0xff {
			out = append(out, byte(r))
		} else {
			out = append(out, '?')
		}
	}
	return out
}

func formatNum(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = trimZeros(s)
	return s
}

func trimZeros(s string) string {
	if !containsDot(s) {
		return s
	}
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
