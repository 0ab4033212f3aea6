package geom

import (
	"bytes"
	"io"

	"invoicekit/scanner"
)

type operandKind int

const (
	opNumber operandKind = iota
	opString
	opName
	opArray
	opDict
	opBool
	opNull
)

type operand struct {
	kind operandKind
	num  float64
	str  []byte
	name string
	arr  []operand
}

// op is one content-stream operator with its operands and the byte
// span it occupies, so rewrites can splice replacement bytes while
// copying everything else verbatim.
type op struct {
	name       string
	args       []operand
	start, end int
}

// parseOps tokenizes a content stream into operators. Indirect
// references do not occur in content streams, so reference lookahead is
// off and bare integers stay numbers.
func parseOps(data []byte) ([]op, error) {
	s := scanner.New(data)
	s.DisableRefs()
	var ops []op
	var pending []operand
	pendingStart := -1
	for {
		tok, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if pendingStart < 0 {
			pendingStart = int(tok.Pos)
		}
		if arg, ok, err := operandFromToken(s, tok); err != nil {
			return nil, err
		} else if ok {
			pending = append(pending, arg)
			continue
		}
		kw, _ := tok.Value.(string)
		end := int(s.Position())
		if kw == "BI" {
			end = skipInlineImage(data, end)
			if err := s.Seek(int64(end)); err != nil {
				return nil, err
			}
		}
		ops = append(ops, op{name: kw, args: pending, start: pendingStart, end: end})
		pending = nil
		pendingStart = -1
	}
	return ops, nil
}

func operandFromToken(s *scanner.Scanner, tok scanner.Token) (operand, bool, error) {
	switch tok.Type {
	case scanner.TokenNumber:
		return operand{kind: opNumber, num: tokenFloat(tok)}, true, nil
	case scanner.TokenString:
		return operand{kind: opString, str: tok.Value.([]byte)}, true, nil
	case scanner.TokenName:
		return operand{kind: opName, name: tok.Value.(string)}, true, nil
	case scanner.TokenBoolean:
		return operand{kind: opBool}, true, nil
	case scanner.TokenNull:
		return operand{kind: opNull}, true, nil
	case scanner.TokenArray:
		arr, err := parseOperandArray(s)
		if err != nil {
			return operand{}, false, err
		}
		return arr, true, nil
	case scanner.TokenDict:
		d, err := parseOperandDict(s)
		if err != nil {
			return operand{}, false, err
		}
		return d, true, nil
	}
	return operand{}, false, nil
}

func parseOperandArray(s *scanner.Scanner) (operand, error) {
	out := operand{kind: opArray}
	for {
		tok, err := s.Next()
		if err != nil {
			return operand{}, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == "]" {
			return out, nil
		}
		item, ok, err := operandFromToken(s, tok)
		if err != nil {
			return operand{}, err
		}
		if ok {
			out.arr = append(out.arr, item)
		}
	}
}

func parseOperandDict(s *scanner.Scanner) (operand, error) {
	// Property-list dictionaries (BDC, DP) are carried opaquely.
	for {
		tok, err := s.Next()
		if err != nil {
			return operand{}, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == ">>" {
			return operand{kind: opDict}, nil
		}
		if _, _, err := operandFromToken(s, tok); err != nil {
			return operand{}, err
		}
	}
}

// skipInlineImage advances past the binary payload of a BI..EI inline
// image, returning the offset just after the EI keyword.
func skipInlineImage(data []byte, from int) int {
	for i := from; i+1 < len(data); i++ {
		if data[i] != 'E' || data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isStreamWhitespace(data[i-1]) {
			continue
		}
		if i+2 < len(data) && !isStreamWhitespace(data[i+2]) {
			continue
		}
		return i + 2
	}
	return len(data)
}

func isStreamWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func tokenFloat(tok scanner.Token) float64 {
	switch v := tok.Value.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// rebuildStream splices per-op replacement byte slices into the
// original stream. A nil entry drops the op; ops without an entry keep
// their original bytes.
func rebuildStream(data []byte, ops []op, replaced map[int][]byte) []byte {
	if len(replaced) == 0 {
		return data
	}
	var out bytes.Buffer
	prev := 0
	for i, o := range ops {
		rep, ok := replaced[i]
		if !ok {
			continue
		}
		out.Write(data[prev:o.start])
		out.Write(rep)
		prev = o.end
	}
	out.Write(data[prev:])
	return out.Bytes()
}
