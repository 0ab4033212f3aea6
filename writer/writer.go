// Package writer serializes a page subset of a parsed document into a
// standalone PDF. Objects reachable from the selected pages are copied
// and renumbered; a fresh catalog and page tree replace the original
// ones.
package writer

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"invoicekit/ir/raw"
)

// PageSpec selects one source page and optionally overrides its
// content.
type PageSpec struct {
	Ref  raw.ObjectRef
	Dict *raw.DictObj

	// ReplaceContents, when non-nil, substitutes the page's content
	// streams. AppendContents is added as a final stream and FontAlias
	// names an injected Helvetica resource for it.
	ReplaceContents [][]byte
	AppendContents  []byte
	FontAlias       string
}

// Write emits the selected pages of src as a complete PDF document.
func Write(w io.Writer, src *raw.Document, pages []PageSpec) error {
	if len(pages) == 0 {
		return fmt.Errorf("writer: no pages selected")
	}
	d := &docWriter{
		src:   src,
		objs:  make(map[int]raw.Object),
		remap: make(map[raw.ObjectRef]int),
	}

	catalogNum := d.alloc()
	pagesNum := d.alloc()

	kids := raw.NewArray()
	for i, spec := range pages {
		num, err := d.copyPage(spec, pagesNum)
		if err != nil {
			return fmt.Errorf("writer: page %d: %w", i, err)
		}
		kids.Append(raw.Ref(num, 0))
	}

	pagesDict := raw.Dict()
	pagesDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pagesDict.Set(raw.NameLiteral("Kids"), kids)
	pagesDict.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(pages))))
	d.objs[pagesNum] = pagesDict

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(pagesNum, 0))
	d.objs[catalogNum] = catalog

	return d.serialize(w, catalogNum)
}

type docWriter struct {
	src     *raw.Document
	objs    map[int]raw.Object
	remap   map[raw.ObjectRef]int
	next    int
	fontNum int // injected Helvetica, allocated on first use
}

func (d *docWriter) alloc() int {
	d.next++
	return d.next
}

func (d *docWriter) copyPage(spec PageSpec, parentNum int) (int, error) {
	if spec.Dict == nil {
		return 0, fmt.Errorf("missing page dictionary")
	}
	num := d.alloc()
	// Claim the source ref so self references resolve to the copy.
	if _, taken := d.remap[spec.Ref]; !taken {
		d.remap[spec.Ref] = num
	}

	page := raw.Dict()
	for key, value := range spec.Dict.KV {
		if key == "Parent" {
			continue
		}
		if key == "Contents" && spec.ReplaceContents != nil {
			continue
		}
		page.Set(raw.NameLiteral(key), d.copyObject(value))
	}
	page.Set(raw.NameLiteral("Parent"), raw.Ref(parentNum, 0))

	// Attributes inherited through the source page tree must be made
	// direct, since the original ancestors are not copied.
	for _, key := range []string{"Resources", "MediaBox", "CropBox", "Rotate"} {
		if _, ok := page.Get(raw.NameLiteral(key)); ok {
			continue
		}
		if attr := inheritedAttr(d.src, spec.Dict, key); attr != nil {
			page.Set(raw.NameLiteral(key), d.copyObject(attr))
		}
	}

	if spec.ReplaceContents != nil {
		contents := raw.NewArray()
		for _, data := range spec.ReplaceContents {
			contents.Append(raw.Ref(d.addStream(data), 0))
		}
		if len(spec.AppendContents) > 0 {
			contents.Append(raw.Ref(d.addStream(spec.AppendContents), 0))
		}
		page.Set(raw.NameLiteral("Contents"), contents)
	}

	if spec.FontAlias != "" {
		d.injectFont(page, spec.FontAlias)
	}

	d.objs[num] = page
	return num, nil
}

func (d *docWriter) addStream(data []byte) int {
	num := d.alloc()
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	d.objs[num] = raw.NewStream(dict, data)
	return num
}

// injectFont adds a standard Helvetica font under alias to the page's
// copied resources.
func (d *docWriter) injectFont(page *raw.DictObj, alias string) {
	if d.fontNum == 0 {
		d.fontNum = d.alloc()
		font := raw.Dict()
		font.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
		font.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type1"))
		font.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral("Helvetica"))
		font.Set(raw.NameLiteral("Encoding"), raw.NameLiteral("WinAnsiEncoding"))
		d.objs[d.fontNum] = font
	}

	res := d.materializeDict(page, "Resources")
	fonts := d.materializeDict(res, "Font")
	fonts.Set(raw.NameLiteral(alias), raw.Ref(d.fontNum, 0))
}

// materializeDict returns the named sub-dictionary as a direct,
// mutable copy owned by this document, creating it when absent.
func (d *docWriter) materializeDict(parent *raw.DictObj, key string) *raw.DictObj {
	out := raw.Dict()
	if obj, ok := parent.Get(raw.NameLiteral(key)); ok {
		if existing := d.resolveCopied(obj); existing != nil {
			for k, v := range existing.KV {
				out.Set(raw.NameLiteral(k), v)
			}
		}
	}
	parent.Set(raw.NameLiteral(key), out)
	return out
}

// resolveCopied resolves obj within the output object space.
func (d *docWriter) resolveCopied(obj raw.Object) *raw.DictObj {
	for i := 0; i < 8; i++ {
		switch v := obj.(type) {
		case *raw.DictObj:
			return v
		case raw.Reference:
			next, ok := d.objs[v.Ref().Num]
			if !ok {
				return nil
			}
			obj = next
		default:
			return nil
		}
	}
	return nil
}

// copyObject deep copies an object from the source document into the
// output, renumbering references as it goes. Parent links are dropped:
// the output page tree is rebuilt, and tree links back out of a page
// would otherwise drag every sibling page into the copy.
func (d *docWriter) copyObject(obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case raw.Reference:
		return raw.Ref(d.mapRef(v.Ref()), 0)
	case *raw.DictObj:
		return d.copyDict(v)
	case *raw.ArrayObj:
		out := raw.NewArray()
		for _, item := range v.Items {
			out.Append(d.copyObject(item))
		}
		return out
	case *raw.StreamObj:
		dict := d.copyDict(v.Dict)
		// The source Length may be indirect or stale; the payload length
		// is authoritative.
		dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(v.Data))))
		return raw.NewStream(dict, v.Data)
	default:
		return obj
	}
}

func (d *docWriter) copyDict(src *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	isAnnot := dictType(src) == "Annot"
	for key, value := range src.KV {
		if key == "Parent" {
			continue
		}
		if isAnnot && key == "P" {
			continue
		}
		out.Set(raw.NameLiteral(key), d.copyObject(value))
	}
	return out
}

func inheritedAttr(src *raw.Document, page *raw.DictObj, key string) raw.Object {
	node := page
	for i := 0; i < 64 && node != nil; i++ {
		if obj, ok := node.Get(raw.NameLiteral(key)); ok {
			return obj
		}
		parent, _ := node.Get(raw.NameLiteral("Parent"))
		if d, ok := src.Resolve(parent).(*raw.DictObj); ok {
			node = d
		} else {
			return nil
		}
	}
	return nil
}

func dictType(dict *raw.DictObj) string {
	if obj, ok := dict.Get(raw.NameLiteral("Type")); ok {
		if name, ok := obj.(raw.Name); ok {
			return name.Value()
		}
	}
	return ""
}

func (d *docWriter) mapRef(ref raw.ObjectRef) int {
	if num, ok := d.remap[ref]; ok {
		return num
	}
	num := d.alloc()
	d.remap[ref] = num
	src, ok := d.src.Objects[ref]
	if !ok {
		d.objs[num] = raw.NullObj{}
		return num
	}
	d.objs[num] = d.copyObject(src)
	return num
}

func (d *docWriter) serialize(w io.Writer, rootNum int) error {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	nums := make([]int, 0, len(d.objs))
	for num := range d.objs {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	offsets := make(map[int]int)
	for _, num := range nums {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		serializeObject(&buf, d.objs[num])
		buf.WriteString("\nendobj\n")
	}

	xrefStart := buf.Len()
	size := d.next + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, rootNum, xrefStart)

	_, err := w.Write(buf.Bytes())
	return err
}

func serializeObject(buf *bytes.Buffer, obj raw.Object) {
	switch v := obj.(type) {
	case raw.NameObj:
		serializeName(buf, v.Value())
	case raw.NumberObj:
		if v.IsInteger() {
			fmt.Fprintf(buf, "%d", v.Int())
		} else {
			fmt.Fprintf(buf, "%g", v.Float())
		}
	case raw.BoolObj:
		if v.Value() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case raw.NullObj:
		buf.WriteString("null")
	case raw.StringObj:
		serializeString(buf, v.Value())
	case raw.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.Ref().Num, v.Ref().Gen)
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			serializeObject(buf, item)
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		serializeDict(buf, v)
	case *raw.StreamObj:
		serializeDict(buf, v.Dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		buf.WriteString("null")
	}
}

func serializeDict(buf *bytes.Buffer, dict *raw.DictObj) {
	keys := make([]string, 0, len(dict.KV))
	for k := range dict.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteByte(' ')
		serializeName(buf, k)
		buf.WriteByte(' ')
		serializeObject(buf, dict.KV[k])
	}
	buf.WriteString(" >>")
}

func serializeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c > 0x7e || c == '#' || c == '/' || c == '(' || c == ')' ||
			c == '<' || c == '>' || c == '[' || c == ']' || c == '{' || c == '}' || c == '%' {
			fmt.Fprintf(buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
}

func serializeString(buf *bytes.Buffer, data []byte) {
	buf.WriteByte('(')
	for _, c := range data {
		switch {
		case c == '(' || c == ')' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString("\\n")
		case c == '\r':
			buf.WriteString("\\r")
		case c < 0x20:
			fmt.Fprintf(buf, "\\%03o", c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
