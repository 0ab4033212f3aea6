package geom

import (
	"bufio"
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"

	"invoicekit/ir/raw"
)

// font carries the metrics and text mapping needed to position and
// decode one page font.
type font struct {
	widths       map[int]float64 // glyph-space units per code
	defaultWidth float64
	cmap         *toUnicodeMap
	codeBytes    int // 1 for simple fonts, 2 for Type0
}

// codePoint is one character code sliced out of a show string.
type codePoint struct {
	code               int
	text               string
	byteStart, byteEnd int
}

func (f *font) codes(b []byte) []codePoint {
	step := f.codeBytes
	if step < 1 {
		step = 1
	}
	var out []codePoint
	for i := 0; i < len(b); i += step {
		end := i + step
		if end > len(b) {
			end = len(b)
		}
		code := 0
		for _, c := range b[i:end] {
			code = code<<8 | int(c)
		}
		out = append(out, codePoint{
			code:      code,
			text:      f.textFor(code, b[i:end]),
			byteStart: i,
			byteEnd:   end,
		})
	}
	return out
}

func (f *font) textFor(code int, src []byte) string {
	if f.cmap != nil {
		if s, ok := f.cmap.lookup(src); ok {
			return s
		}
	}
	if f.codeBytes == 1 && code >= 0x20 && code < 0x7f {
		return string(rune(code))
	}
	return ""
}

func (f *font) width(code int) float64 {
	if w, ok := f.widths[code]; ok {
		return w
	}
	return f.defaultWidth
}

// loadFonts resolves the page's /Resources /Font entries into decoding
// fonts. Resources are inherited through the page tree Parent chain.
func (e *Engine) loadFonts(page *raw.DictObj) map[string]*font {
	fonts := make(map[string]*font)
	res := e.inheritedDict(page, "Resources")
	if res == nil {
		return fonts
	}
	fontDict := e.doc.Raw.ResolveDict(mustGet(res, "Font"))
	if fontDict == nil {
		return fonts
	}
	for alias, obj := range fontDict.KV {
		if f := e.parseFont(obj); f != nil {
			fonts[alias] = f
		}
	}
	return fonts
}

func (e *Engine) parseFont(obj raw.Object) *font {
	dict := e.doc.Raw.ResolveDict(obj)
	if dict == nil {
		return nil
	}
	f := &font{defaultWidth: 500, codeBytes: 1}
	subtype := nameEntry(e.doc.Raw, dict, "Subtype")
	if subtype == "Type0" {
		f.codeBytes = 2
		f.defaultWidth = 1000
		e.parseCIDWidths(dict, f)
	} else {
		e.parseSimpleWidths(dict, f)
	}
	if data := e.streamBytes(mustGet(dict, "ToUnicode")); len(data) > 0 {
		f.cmap = parseToUnicodeCMap(data)
		if l := f.cmap.codeLength(); l > 0 {
			f.codeBytes = l
		}
	}
	return f
}

func (e *Engine) parseSimpleWidths(dict *raw.DictObj, f *font) {
	first := 0
	if n, ok := e.doc.Raw.Resolve(mustGet(dict, "FirstChar")).(raw.Number); ok {
		first = int(n.Int())
	}
	widths := e.doc.Raw.ResolveArray(mustGet(dict, "Widths"))
	if widths == nil {
		return
	}
	f.widths = make(map[int]float64, widths.Len())
	for i, item := range widths.Items {
		if n, ok := e.doc.Raw.Resolve(item).(raw.Number); ok {
			f.widths[first+i] = n.Float()
		}
	}
}

// parseCIDWidths reads the /W and /DW entries of the descendant CID
// font. /W alternates between "c [w1 w2 ...]" runs and "c1 c2 w"
// ranges.
func (e *Engine) parseCIDWidths(dict *raw.DictObj, f *font) {
	desc := e.doc.Raw.ResolveArray(mustGet(dict, "DescendantFonts"))
	if desc == nil || desc.Len() == 0 {
		return
	}
	cid := e.doc.Raw.ResolveDict(desc.Items[0])
	if cid == nil {
		return
	}
	if n, ok := e.doc.Raw.Resolve(mustGet(cid, "DW")).(raw.Number); ok {
		f.defaultWidth = n.Float()
	}
	w := e.doc.Raw.ResolveArray(mustGet(cid, "W"))
	if w == nil {
		return
	}
	f.widths = make(map[int]float64)
	for i := 0; i < w.Len(); {
		start, ok := numberAt(e.doc.Raw, w, i)
		if !ok {
			break
		}
		if i+1 >= w.Len() {
			break
		}
		if arr := e.doc.Raw.ResolveArray(w.Items[i+1]); arr != nil {
			for j, item := range arr.Items {
				if n, ok := e.doc.Raw.Resolve(item).(raw.Number); ok {
					f.widths[int(start)+j] = n.Float()
				}
			}
			i += 2
			continue
		}
		if i+2 >= w.Len() {
			break
		}
		end, ok1 := numberAt(e.doc.Raw, w, i+1)
		width, ok2 := numberAt(e.doc.Raw, w, i+2)
		if !ok1 || !ok2 {
			break
		}
		for c := int(start); c <= int(end); c++ {
			f.widths[c] = width
		}
		i += 3
	}
}

func numberAt(doc *raw.Document, arr *raw.ArrayObj, i int) (float64, bool) {
	if i >= arr.Len() {
		return 0, false
	}
	n, ok := doc.Resolve(arr.Items[i]).(raw.Number)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

func nameEntry(doc *raw.Document, dict *raw.DictObj, key string) string {
	if n, ok := doc.Resolve(mustGet(dict, key)).(raw.Name); ok {
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

// streamBytes resolves obj to a stream and returns its decoded
// payload. Streams are always indirect, so the decoded map has them.
func (e *Engine) streamBytes(obj raw.Object) []byte {
	for i := 0; i < 8; i++ {
		ref, ok := obj.(raw.Reference)
		if !ok {
			return nil
		}
		if data, ok := e.doc.StreamData(ref.Ref()); ok {
			return data
		}
		next, ok := e.doc.Raw.Objects[ref.Ref()]
		if !ok {
			return nil
		}
		obj = next
	}
	return nil
}

// inheritedDict resolves a page-tree-inheritable dictionary entry,
// walking Parent links when the page itself lacks it.
func (e *Engine) inheritedDict(page *raw.DictObj, key string) *raw.DictObj {
	node := page
	for i := 0; i < 64 && node != nil; i++ {
		if d := e.doc.Raw.ResolveDict(mustGet(node, key)); d != nil {
			return d
		}
		node = e.doc.Raw.ResolveDict(mustGet(node, "Parent"))
	}
	return nil
}

// toUnicodeMap maps character-code byte strings to their text.
type toUnicodeMap struct {
	entries map[string]string
	lengths []int
}

func (m *toUnicodeMap) lookup(src []byte) (string, bool) {
	s, ok := m.entries[string(src)]
	return s, ok
}

// codeLength reports the code width the map was built for, or 0 when
// mixed or unknown.
func (m *toUnicodeMap) codeLength() int {
	if len(m.lengths) == 1 {
		return m.lengths[0]
	}
	return 0
}

// parseToUnicodeCMap reads the bfchar and bfrange sections of an
// embedded ToUnicode CMap.
func parseToUnicodeCMap(data []byte) *toUnicodeMap {
	lineScanner := bufio.NewScanner(bytes.NewReader(data))
	result := &toUnicodeMap{entries: make(map[string]string)}
	lengthSet := make(map[int]struct{})
	state := ""
	for lineScanner.Scan() {
		line := strings.TrimSpace(lineScanner.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		switch {
		case strings.HasSuffix(line, "begincodespacerange"):
			state = "codespace"
			continue
		case strings.HasSuffix(line, "endcodespacerange"):
			state = ""
			continue
		case strings.HasSuffix(line, "beginbfchar"):
			state = "bfchar"
			continue
		case strings.HasSuffix(line, "endbfchar"):
			state = ""
			continue
		case strings.HasSuffix(line, "beginbfrange"):
			state = "bfrange"
			continue
		case strings.HasSuffix(line, "endbfrange"):
			state = ""
			continue
		}
		switch state {
		case "codespace":
			hexes := extractHexTokens(line)
			if len(hexes) >= 1 {
				if b := hexToBytes(hexes[0]); len(b) > 0 {
					lengthSet[len(b)] = struct{}{}
				}
			}
		case "bfchar":
			hexes := extractHexTokens(line)
			if len(hexes) >= 2 {
				src := hexToBytes(hexes[0])
				if len(src) > 0 {
					result.entries[string(src)] = decodeUTF16BE(hexToBytes(hexes[1]))
					lengthSet[len(src)] = struct{}{}
				}
			}
		case "bfrange":
			line = accumulateUntil(line, lineScanner)
			hexes := extractHexTokens(line)
			if len(hexes) < 3 {
				continue
			}
			srcStart := hexToBytes(hexes[0])
			srcEnd := hexToBytes(hexes[1])
			length := len(srcStart)
			lengthSet[length] = struct{}{}
			startVal := bytesToInt(srcStart)
			endVal := bytesToInt(srcEnd)
			if strings.Contains(line, "[") {
				for i := 0; i <= endVal-startVal && 2+i < len(hexes); i++ {
					src := intToBytes(startVal+i, length)
					result.entries[string(src)] = decodeUTF16BE(hexToBytes(hexes[2+i]))
				}
			} else {
				dstStart := hexToBytes(hexes[2])
				dstVal := bytesToInt(dstStart)
				dstLen := len(dstStart)
				for i := 0; i <= endVal-startVal; i++ {
					src := intToBytes(startVal+i, length)
					result.entries[string(src)] = decodeUTF16BE(intToBytes(dstVal+i, dstLen))
				}
			}
		}
	}
	if len(lengthSet) == 0 {
		for k := range result.entries {
			lengthSet[len(k)] = struct{}{}
		}
	}
	for l := range lengthSet {
		result.lengths = append(result.lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(result.lengths)))
	return result
}

// accumulateUntil joins continuation lines of a bracketed bfrange
// destination list.
func accumulateUntil(line string, lineScanner *bufio.Scanner) string {
	if strings.Contains(line, "]") {
		return line
	}
	for lineScanner.Scan() {
		next := strings.TrimSpace(lineScanner.Text())
		line += " " + next
		if strings.Contains(next, "]") {
			break
		}
	}
	return line
}

func extractHexTokens(line string) []string {
	var tokens []string
	for {
		start := strings.Index(line, "<")
		if start == -1 {
			break
		}
		end := strings.Index(line[start+1:], ">")
		if end == -1 {
			break
		}
		segment := line[start+1 : start+1+end]
		tokens = append(tokens, strings.ReplaceAll(segment, " ", ""))
		line = line[start+1+end+1:]
	}
	return tokens
}

func hexToBytes(hex string) []byte {
	if len(hex)%2 == 1 {
		hex += "0"
	}
	out := make([]byte, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		out[i/2] = hexNibble(hex[i])<<4 | hexNibble(hex[i+1])
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func bytesToInt(b []byte) int {
	val := 0
	for _, by := range b {
		val = val<<8 | int(by)
	}
	return val
}

func intToBytes(value, length int) []byte {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = byte(value & 0xff)
		value >>= 8
	}
	return buf
}

func decodeUTF16BE(data []byte) string {
	if len(data) == 1 {
		return string(rune(data[0]))
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])<<8|uint16(data[i+1]))
	}
	return string(utf16.Decode(units))
}
