package raw

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"invoicekit/scanner"
)

// NewParser constructs the linear-scan parser. It walks every indirect
// object in the file instead of chasing xref offsets, which also copes
// with files whose xref tables are stale or damaged.
func NewParser() Parser { return &parserImpl{} }

type parserImpl struct{}

func (p *parserImpl) Parse(ctx context.Context, data []byte) (*Document, error) {
	doc := &Document{
		Objects: make(map[ObjectRef]Object),
		Version: headerVersion(data),
	}

	s := scanner.New(data)
	tr := &tokenReader{s: s}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := tr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			if tok.Value == "trailer" {
				p.mergeTrailer(tr, doc)
			}
			continue
		case scanner.TokenNumber:
		default:
			continue
		}

		objNum, ok := toInt(tok.Value)
		if !ok {
			continue
		}
		genTok, err := tr.next()
		if err != nil {
			break
		}
		if genTok.Type != scanner.TokenNumber {
			tr.unread(genTok)
			continue
		}
		gen, ok := toInt(genTok.Value)
		if !ok {
			continue
		}
		kwTok, err := tr.next()
		if err != nil {
			break
		}
		if kwTok.Type != scanner.TokenKeyword || kwTok.Value != "obj" {
			tr.unread(kwTok)
			tr.unread(genTok)
			continue
		}

		obj, err := parseObject(tr)
		if err != nil {
			return nil, fmt.Errorf("raw: parse object %d %d: %w", objNum, gen, err)
		}

		// A dictionary may be the head of a stream.
		if dict, ok := obj.(*DictObj); ok {
			if length, ok := directLength(dict); ok {
				s.SetNextStreamLength(length)
			}
			if streamTok, err := tr.next(); err == nil {
				if streamTok.Type == scanner.TokenStream {
					obj = NewStream(dict, streamTok.Value.([]byte))
				} else {
					tr.unread(streamTok)
				}
			}
			s.SetNextStreamLength(-1)
		}

		// Consume optional endobj.
		if t, err := tr.next(); err == nil {
			if t.Type != scanner.TokenKeyword || t.Value != "endobj" {
				tr.unread(t)
			}
		}

		doc.Objects[ObjectRef{Num: int(objNum), Gen: int(gen)}] = obj
	}

	p.resolveTrailer(doc)
	if doc.Trailer != nil {
		if _, ok := doc.Trailer.Get(NameLiteral("Encrypt")); ok {
			doc.Encrypted = true
		}
	}
	return doc, nil
}

// mergeTrailer parses the dictionary following a trailer keyword.
// Later trailers win key by key, matching incremental-update order.
func (p *parserImpl) mergeTrailer(tr *tokenReader, doc *Document) {
	tok, err := tr.next()
	if err != nil || tok.Type != scanner.TokenDict {
		if err == nil {
			tr.unread(tok)
		}
		return
	}
	obj, err := parseDict(tr)
	if err != nil {
		return
	}
	dict := obj.(*DictObj)
	if doc.Trailer == nil {
		doc.Trailer = dict
		return
	}
	for k, v := range dict.KV {
		doc.Trailer.Set(NameLiteral(k), v)
	}
}

// resolveTrailer fills in a missing or Root-less trailer from an xref
// stream dictionary, or failing that from a Catalog-typed object.
func (p *parserImpl) resolveTrailer(doc *Document) {
	if doc.Trailer != nil {
		if _, ok := doc.Trailer.Get(NameLiteral("Root")); ok {
			return
		}
	}
	for _, obj := range doc.Objects {
		stream, ok := obj.(Stream)
		if !ok {
			continue
		}
		dict := stream.Dictionary()
		if typ, ok := dict.Get(NameLiteral("Type")); ok {
			if name, ok := typ.(NameObj); ok && name.Value() == "XRef" {
				if root, ok := dict.Get(NameLiteral("Root")); ok {
					p.setTrailerRoot(doc, root)
					if _, ok := dict.Get(NameLiteral("Encrypt")); ok {
						doc.Encrypted = true
					}
					return
				}
			}
		}
	}
	for ref, obj := range doc.Objects {
		if dict, ok := obj.(*DictObj); ok {
			if typ, ok := dict.Get(NameLiteral("Type")); ok {
				if name, ok := typ.(NameObj); ok && name.Value() == "Catalog" {
					p.setTrailerRoot(doc, Ref(ref.Num, ref.Gen))
					return
				}
			}
		}
	}
}

func (p *parserImpl) setTrailerRoot(doc *Document, root Object) {
	if doc.Trailer == nil {
		doc.Trailer = Dict()
	}
	doc.Trailer.Set(NameLiteral("Root"), root)
}

func directLength(dict *DictObj) (int64, bool) {
	obj, ok := dict.Get(NameLiteral("Length"))
	if !ok {
		return 0, false
	}
	if n, ok := obj.(NumberObj); ok && n.IsInteger() {
		return n.Int(), true
	}
	return 0, false
}

func headerVersion(data []byte) string {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return ""
	}
	end := 5
	for end < len(data) && end < 16 && data[end] != '\r' && data[end] != '\n' {
		end++
	}
	return string(data[5:end])
}

// ParseObjectBytes parses a single object from a standalone byte
// segment, as found inside object streams.
func ParseObjectBytes(data []byte) (Object, error) {
	tr := &tokenReader{s: scanner.New(data)}
	return parseObject(tr)
}

func parseObject(tr *tokenReader) (Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Value.(string)}, nil
	case scanner.TokenNumber:
		if i, ok := toInt(tok.Value); ok {
			return NumberObj{I: i, IsInt: true}, nil
		}
		if f, ok := tok.Value.(float64); ok {
			return NumberObj{F: f}, nil
		}
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Value.(bool)}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Value.([]byte)}, nil
	case scanner.TokenArray:
		return parseArray(tr)
	case scanner.TokenDict:
		return parseDict(tr)
	case scanner.TokenRef:
		if v, ok := tok.Value.(scanner.Ref); ok {
			return RefObj{R: ObjectRef{Num: v.Num, Gen: v.Gen}}, nil
		}
	}
	return nil, fmt.Errorf("raw: unexpected token %v", tok.Type)
}

func parseArray(tr *tokenReader) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == "]" {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObject(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *tokenReader) (Object, error) {
	d := Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("raw: expected name in dict, got %v", tok.Type)
		}
		val, err := parseObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(NameObj{Val: tok.Value.(string)}, val)
	}
}

type tokenReader struct {
	s   *scanner.Scanner
	buf []scanner.Token
}

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
