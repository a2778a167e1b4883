package canonicaljson

import (
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Parse decodes JSON bytes into a Value using a strict, type-preserving
// scanner. Unlike encoding/json, numbers are never routed through
// float64: an integer literal becomes a KindInt, and anything with a
// fractional part or exponent is rejected with ErrNonIntegerNumber
// instead of being silently rounded. Quoted strings -- including ones
// that look numeric, e.g. "123456789" -- always decode as KindString.
func Parse(data []byte) (Value, error) {
	p := &parser{data: data}
	p.skipSpace()
	v, err := p.parseValue()
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.data) {
		return Value{}, fmt.Errorf("canonicaljson: trailing data at offset %d", p.pos)
	}
	return v, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	return p.data[p.pos], true
}

func (p *parser) parseValue() (Value, error) {
	c, ok := p.peek()
	if !ok {
		return Value{}, fmt.Errorf("canonicaljson: unexpected end of input")
	}
	switch {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case c == 't':
		return p.parseLiteral("true", Bool(true))
	case c == 'f':
		return p.parseLiteral("false", Bool(false))
	case c == 'n':
		return p.parseLiteral("null", Null())
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return Value{}, fmt.Errorf("canonicaljson: unexpected character %q at offset %d", c, p.pos)
	}
}

func (p *parser) parseLiteral(lit string, v Value) (Value, error) {
	if p.pos+len(lit) > len(p.data) || string(p.data[p.pos:p.pos+len(lit)]) != lit {
		return Value{}, fmt.Errorf("canonicaljson: invalid literal at offset %d", p.pos)
	}
	p.pos += len(lit)
	return v, nil
}

func (p *parser) parseNumber() (Value, error) {
	start := p.pos
	if c, ok := p.peek(); ok && c == '-' {
		p.pos++
	}
	digitsStart := p.pos
	for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digitsStart {
		return Value{}, fmt.Errorf("canonicaljson: malformed number at offset %d", start)
	}
	isFloat := false
	if c, ok := p.peek(); ok && c == '.' {
		isFloat = true
		p.pos++
		fracStart := p.pos
		for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
			p.pos++
		}
		if p.pos == fracStart {
			return Value{}, fmt.Errorf("canonicaljson: malformed number at offset %d", start)
		}
	}
	if c, ok := p.peek(); ok && (c == 'e' || c == 'E') {
		isFloat = true
		p.pos++
		if c, ok := p.peek(); ok && (c == '+' || c == '-') {
			p.pos++
		}
		expStart := p.pos
		for p.pos < len(p.data) && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
			p.pos++
		}
		if p.pos == expStart {
			return Value{}, fmt.Errorf("canonicaljson: malformed number at offset %d", start)
		}
	}
	lit := string(p.data[start:p.pos])
	if isFloat {
		return Value{}, fmt.Errorf("%w: %s", ErrNonIntegerNumber, lit)
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s", ErrNumberOutOfRange, lit)
	}
	if !IsLegalInteger(i) {
		return Value{}, fmt.Errorf("%w: %s", ErrNumberOutOfRange, lit)
	}
	return Int(i), nil
}

func (p *parser) parseString() (string, error) {
	if c, ok := p.peek(); !ok || c != '"' {
		return "", fmt.Errorf("canonicaljson: expected string at offset %d", p.pos)
	}
	p.pos++
	var out []byte
	for {
		if p.pos >= len(p.data) {
			return "", fmt.Errorf("canonicaljson: unterminated string")
		}
		c := p.data[p.pos]
		switch {
		case c == '"':
			p.pos++
			return string(out), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.data) {
				return "", fmt.Errorf("canonicaljson: unterminated escape")
			}
			esc := p.data[p.pos]
			switch esc {
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case '/':
				out = append(out, '/')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'u':
				r, err := p.parseUnicodeEscape()
				if err != nil {
					return "", err
				}
				var buf [utf8.UTFMax]byte
				n := utf8.EncodeRune(buf[:], r)
				out = append(out, buf[:n]...)
				continue
			default:
				return "", fmt.Errorf("canonicaljson: invalid escape \\%c", esc)
			}
			p.pos++
		default:
			out = append(out, c)
			p.pos++
		}
	}
}

func (p *parser) parseUnicodeEscape() (rune, error) {
	r1, err := p.hex4()
	if err != nil {
		return 0, err
	}
	if utf16.IsSurrogate(rune(r1)) {
		if p.pos+2 <= len(p.data) && p.data[p.pos] == '\\' && p.data[p.pos+1] == 'u' {
			p.pos += 2
			r2, err := p.hex4()
			if err != nil {
				return 0, err
			}
			dec := utf16.DecodeRune(rune(r1), rune(r2))
			if dec != utf8.RuneError {
				return dec, nil
			}
		}
		return utf8.RuneError, nil
	}
	return rune(r1), nil
}

func (p *parser) hex4() (uint32, error) {
	p.pos++ // consume 'u'
	if p.pos+4 > len(p.data) {
		return 0, fmt.Errorf("canonicaljson: short unicode escape")
	}
	v, err := strconv.ParseUint(string(p.data[p.pos:p.pos+4]), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("canonicaljson: invalid unicode escape: %w", err)
	}
	p.pos += 4
	return uint32(v), nil
}

func (p *parser) parseArray() (Value, error) {
	p.pos++ // consume '['
	var items []Value
	p.skipSpace()
	if c, ok := p.peek(); ok && c == ']' {
		p.pos++
		return Array(items), nil
	}
	for {
		p.skipSpace()
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return Value{}, fmt.Errorf("canonicaljson: unterminated array")
		}
		if c == ',' {
			p.pos++
			continue
		}
		if c == ']' {
			p.pos++
			return Array(items), nil
		}
		return Value{}, fmt.Errorf("canonicaljson: expected ',' or ']' at offset %d", p.pos)
	}
}

func (p *parser) parseObject() (Value, error) {
	p.pos++ // consume '{'
	obj := NewObject()
	p.skipSpace()
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return obj, nil
	}
	for {
		p.skipSpace()
		key, err := p.parseString()
		if err != nil {
			return Value{}, fmt.Errorf("canonicaljson: expected object key: %w", err)
		}
		p.skipSpace()
		if c, ok := p.peek(); !ok || c != ':' {
			return Value{}, fmt.Errorf("canonicaljson: expected ':' at offset %d", p.pos)
		}
		p.pos++
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		obj.Set(key, val)
		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return Value{}, fmt.Errorf("canonicaljson: unterminated object")
		}
		if c == ',' {
			p.pos++
			continue
		}
		if c == '}' {
			p.pos++
			return obj, nil
		}
		return Value{}, fmt.Errorf("canonicaljson: expected ',' or '}' at offset %d", p.pos)
	}
}
