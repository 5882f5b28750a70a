package pdfgate

import (
	"bytes"
	"fmt"
	"strconv"
)

// Object is any value that can appear in a PDF file: nil, bool, int,
// float64, Name, String, Array, Dict, Ref or *Stream.
type Object interface{}

type Name string

type String []byte

type Array []Object

type Dict map[string]Object

// Ref is an indirect reference "num gen R".
type Ref struct {
	Num int
	Gen int
}

func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.Num, r.Gen)
}

// Stream is a dictionary followed by its raw (still encoded) data.
type Stream struct {
	Dict Dict
	Data []byte
}

func (d Dict) Name(key string) (Name, bool) {
	n, ok := d[key].(Name)
	return n, ok
}

func (d Dict) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (d Dict) Ref(key string) (Ref, bool) {
	r, ok := d[key].(Ref)
	return r, ok
}

// toFloat converts a numeric object to float64.
func toFloat(obj Object) (float64, bool) {
	switch v := obj.(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte) *lexer {
	return &lexer{data: data}
}

func (lx *lexer) eof() bool {
	return lx.pos >= len(lx.data)
}

func (lx *lexer) peek() byte {
	if lx.eof() {
		return 0
	}
	return lx.data[lx.pos]
}

func (lx *lexer) hasPrefix(s string) bool {
	return bytes.HasPrefix(lx.data[lx.pos:], []byte(s))
}

// parseObject reads the next object. Keywords other than true, false and
// null come back as a bare Go string so callers can detect "obj",
// "stream" and "endobj".
func (lx *lexer) parseObject() (Object, error) {
	lx.skipSpaces()
	if lx.eof() {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrParserParseObjectError)
	}

	switch ch := lx.peek(); {
	case ch == '<':
		if lx.hasPrefix("<<") {
			lx.pos += 2
			return lx.parseDict()
		}
		lx.pos++
		return lx.parseHexString()
	case ch == '(':
		lx.pos++
		return lx.parseLiteralString()
	case ch == '/':
		lx.pos++
		return lx.parseName(), nil
	case ch == '[':
		lx.pos++
		return lx.parseArray()
	case isDigit(ch) || ch == '-' || ch == '+' || ch == '.':
		return lx.parseNumberOrRef()
	default:
		return lx.parseKeyword()
	}
}

func (lx *lexer) parseDict() (Dict, error) {
	dict := make(Dict)
	for {
		lx.skipSpaces()
		if lx.eof() {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrParserParseObjectError)
		}
		if lx.hasPrefix(">>") {
			lx.pos += 2
			return dict, nil
		}
		if lx.peek() != '/' {
			return nil, fmt.Errorf("%w: invalid dictionary key start %q", ErrParserParseObjectError, lx.peek())
		}
		lx.pos++
		key := lx.parseName()
		val, err := lx.parseObject()
		if err != nil {
			return nil, err
		}
		dict[string(key)] = val
	}
}

func (lx *lexer) parseName() Name {
	var buf bytes.Buffer
	for !lx.eof() {
		ch := lx.peek()
		if isDelimiter(ch) || isWhiteSpace(ch) {
			break
		}
		lx.pos++
		if ch == '#' && lx.pos+2 <= len(lx.data) {
			if v, err := strconv.ParseUint(string(lx.data[lx.pos:lx.pos+2]), 16, 8); err == nil {
				buf.WriteByte(byte(v))
				lx.pos += 2
				continue
			}
		}
		buf.WriteByte(ch)
	}
	return Name(buf.String())
}

func (lx *lexer) parseLiteralString() (String, error) {
	var buf bytes.Buffer
	depth := 1
	for {
		if lx.eof() {
			return nil, fmt.Errorf("%w: unterminated string", ErrParserParseObjectError)
		}
		ch := lx.data[lx.pos]
		lx.pos++
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return String(buf.Bytes()), nil
			}
		case '\\':
			if lx.eof() {
				continue
			}
			next := lx.data[lx.pos]
			lx.pos++
			switch next {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if lx.peek() == '\n' {
					lx.pos++
				}
			case '\n':
			default:
				if next >= '0' && next <= '7' {
					v := int(next - '0')
					for i := 0; i < 2 && !lx.eof() && lx.peek() >= '0' && lx.peek() <= '7'; i++ {
						v = v*8 + int(lx.peek()-'0')
						lx.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(next)
				}
			}
			continue
		}
		buf.WriteByte(ch)
	}
}

func (lx *lexer) parseHexString() (String, error) {
	var digits []byte
	for {
		if lx.eof() {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrParserParseObjectError)
		}
		ch := lx.data[lx.pos]
		lx.pos++
		if ch == '>' {
			break
		}
		if isWhiteSpace(ch) {
			continue
		}
		digits = append(digits, ch)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex digit in %q", ErrParserParseObjectError, digits[i:i+2])
		}
		out = append(out, byte(v))
	}
	return String(out), nil
}

func (lx *lexer) parseArray() (Array, error) {
	arr := Array{}
	for {
		lx.skipSpaces()
		if lx.eof() {
			return nil, fmt.Errorf("%w: unterminated array", ErrParserParseObjectError)
		}
		if lx.peek() == ']' {
			lx.pos++
			return arr, nil
		}
		obj, err := lx.parseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (lx *lexer) readToken() string {
	start := lx.pos
	for !lx.eof() {
		ch := lx.peek()
		if isDelimiter(ch) || isWhiteSpace(ch) {
			break
		}
		lx.pos++
	}
	return string(lx.data[start:lx.pos])
}

func (lx *lexer) parseNumberOrRef() (Object, error) {
	token := lx.readToken()
	num1, err := parseNumber(token)
	if err != nil {
		return nil, err
	}
	n1, isInt := num1.(int)
	if !isInt {
		return num1, nil
	}

	// look ahead for "gen R"
	save := lx.pos
	lx.skipSpaces()
	if lx.eof() || !isDigit(lx.peek()) {
		lx.pos = save
		return num1, nil
	}
	gen, err := strconv.Atoi(lx.readToken())
	if err != nil {
		lx.pos = save
		return num1, nil
	}
	lx.skipSpaces()
	if lx.peek() == 'R' && (lx.pos+1 >= len(lx.data) || isDelimiter(lx.data[lx.pos+1]) || isWhiteSpace(lx.data[lx.pos+1])) {
		lx.pos++
		return Ref{Num: n1, Gen: gen}, nil
	}
	lx.pos = save
	return num1, nil
}

func parseNumber(s string) (Object, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q", ErrParserParseObjectError, s)
	}
	return f, nil
}

func (lx *lexer) parseKeyword() (Object, error) {
	token := lx.readToken()
	if token == "" {
		// stray delimiter such as ')' or '>'
		ch := lx.peek()
		lx.pos++
		return nil, fmt.Errorf("%w: unexpected %q", ErrParserParseObjectError, ch)
	}
	switch token {
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return token, nil
	}
}

func (lx *lexer) skipSpaces() {
	for !lx.eof() {
		ch := lx.peek()
		if ch == '%' {
			for !lx.eof() && lx.peek() != '\n' && lx.peek() != '\r' {
				lx.pos++
			}
			continue
		}
		if !isWhiteSpace(ch) {
			return
		}
		lx.pos++
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isWhiteSpace(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
