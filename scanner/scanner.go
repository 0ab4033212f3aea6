// Package scanner tokenizes PDF object syntax. It is shared by the raw
// object parser and the content-stream walker in geom.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload following the 'stream' keyword
	TokenKeyword                  // other keywords (obj, endobj, >>, ], operators)
)

// Token is a single lexical unit. Value depends on Type: string for
// names and keywords, []byte for strings and stream payloads, int64 or
// float64 for numbers, bool for booleans, Ref for references.
type Token struct {
	Type  TokenType
	Value interface{}
	Pos   int64
}

// Ref is the value carried by a TokenRef.
type Ref struct{ Num, Gen int }

// Scanner walks a byte buffer and produces tokens.
type Scanner struct {
	data          []byte
	pos           int64
	nextStreamLen int64
	refLookahead  bool
}

// New returns a scanner over data. Reference lookahead ('5 0 R') is
// enabled; disable it with DisableRefs when scanning content streams,
// where bare numbers are operator operands.
func New(data []byte) *Scanner {
	return &Scanner{data: data, nextStreamLen: -1, refLookahead: true}
}

// DisableRefs turns off indirect-reference lookahead.
func (s *Scanner) DisableRefs() { s.refLookahead = false }

// Position reports the current byte offset.
func (s *Scanner) Position() int64 { return s.pos }

// Seek moves the scanner to an absolute byte offset.
func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("scanner: seek out of range")
	}
	s.pos = offset
	return nil
}

// SetNextStreamLength hints the payload length of the next stream
// keyword. Without a hint the scanner searches for 'endstream'.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *Scanner) skipWhitespaceAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(ahead int64) byte {
	if s.pos+ahead >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+ahead]
}

// Next returns the next token or io.EOF.
func (s *Scanner) Next() (Token, error) {
	s.skipWhitespaceAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Value: "<<", Pos: start}, nil
		}
		return s.scanHexString(start)
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Value: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Value: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Value: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Value: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Value: string(c), Pos: start}, nil
	case '/':
		return s.scanName(start)
	case '(':
		return s.scanLiteralString(start)
	}
	if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
		return s.scanNumber(start)
	}
	return s.scanKeyword(start)
}

func (s *Scanner) scanName(start int64) (Token, error) {
	s.pos++ // consume '/'
	var out []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			hi, okHi := fromHex(s.data[s.pos+1])
			lo, okLo := fromHex(s.data[s.pos+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
	}
	return Token{Type: TokenName, Value: string(out), Pos: start}, nil
}

func (s *Scanner) scanLiteralString(start int64) (Token, error) {
	s.pos++ // consume '('
	var out []byte
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				break
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\r':
				// line continuation, swallow optional LF
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < int64(len(s.data)); i++ {
						d := s.data[s.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Value: out, Pos: start}, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return Token{}, errors.New("scanner: unterminated string")
}

func (s *Scanner) scanHexString(start int64) (Token, error) {
	s.pos++ // consume '<'
	var digits []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := 0; i < len(out); i++ {
				hi, _ := fromHex(digits[2*i])
				lo, _ := fromHex(digits[2*i+1])
				out[i] = hi<<4 | lo
			}
			return Token{Type: TokenString, Value: out, Pos: start}, nil
		}
		if _, ok := fromHex(c); ok {
			digits = append(digits, c)
		}
	}
	return Token{}, errors.New("scanner: unterminated hex string")
}

func (s *Scanner) scanNumber(start int64) (Token, error) {
	end := s.pos
	if s.data[end] == '+' || s.data[end] == '-' {
		end++
	}
	real := false
	for end < int64(len(s.data)) {
		c := s.data[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !real {
			real = true
			end++
			continue
		}
		break
	}
	lit := string(s.data[s.pos:end])
	s.pos = end
	if !real {
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return Token{}, errors.New("scanner: malformed number " + lit)
		}
		if s.refLookahead && n >= 0 {
			if gen, ok := s.tryRef(); ok {
				return Token{Type: TokenRef, Value: Ref{Num: int(n), Gen: gen}, Pos: start}, nil
			}
		}
		return Token{Type: TokenNumber, Value: n, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return Token{}, errors.New("scanner: malformed number " + lit)
	}
	return Token{Type: TokenNumber, Value: f, Pos: start}, nil
}

// tryRef checks whether the input continues with '<gen> R' and, if so,
// consumes it and returns the generation number.
func (s *Scanner) tryRef() (int, bool) {
	save := s.pos
	s.skipWhitespaceAndComments()
	genStart := s.pos
	for s.pos < int64(len(s.data)) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
		s.pos++
	}
	if s.pos == genStart {
		s.pos = save
		return 0, false
	}
	gen, err := strconv.Atoi(string(s.data[genStart:s.pos]))
	if err != nil {
		s.pos = save
		return 0, false
	}
	s.skipWhitespaceAndComments()
	if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' {
		next := s.pos + 1
		if next == int64(len(s.data)) || isWhitespace(s.data[next]) || isDelimiter(s.data[next]) {
			s.pos = next
			return gen, true
		}
	}
	s.pos = save
	return 0, false
}

func (s *Scanner) scanKeyword(start int64) (Token, error) {
	end := s.pos
	for end < int64(len(s.data)) {
		c := s.data[end]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		end++
	}
	if end == s.pos {
		// A lone delimiter that fell through; consume it to make progress.
		end++
	}
	kw := string(s.data[s.pos:end])
	s.pos = end
	switch kw {
	case "true":
		return Token{Type: TokenBoolean, Value: true, Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Value: false, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Value: nil, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	}
	return Token{Type: TokenKeyword, Value: kw, Pos: start}, nil
}

func (s *Scanner) scanStream(start int64) (Token, error) {
	// The stream keyword is followed by CRLF or LF, then the payload.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	var data []byte
	if s.nextStreamLen >= 0 && s.pos+s.nextStreamLen <= int64(len(s.data)) {
		data = s.data[s.pos : s.pos+s.nextStreamLen]
		s.pos += s.nextStreamLen
		s.nextStreamLen = -1
	} else {
		s.nextStreamLen = -1
		idx := bytes.Index(s.data[s.pos:], []byte("endstream"))
		if idx < 0 {
			return Token{}, errors.New("scanner: unterminated stream")
		}
		data = s.data[s.pos : s.pos+int64(idx)]
		// Strip the EOL that precedes the endstream keyword.
		data = bytes.TrimRight(data, "\r\n")
		s.pos += int64(idx)
	}
	// Consume trailing EOL and the endstream keyword if present.
	s.skipWhitespaceAndComments()
	if bytes.HasPrefix(s.data[s.pos:], []byte("endstream")) {
		s.pos += int64(len("endstream"))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Token{Type: TokenStream, Value: out, Pos: start}, nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
