package canonicaljson

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNonIntegerNumber is returned when a JSON number carries a
// fractional part or exponent -- canonical JSON forbids floats.
var ErrNonIntegerNumber = errors.New("canonicaljson: non-integer number")

// ErrNumberOutOfRange is returned when an integer falls outside
// -2^53+1..2^53-1.
var ErrNumberOutOfRange = errors.New("canonicaljson: number out of range")

// Canonicalize encodes v as Matrix canonical JSON: object keys sorted
// by UTF-16 code unit, no insignificant whitespace, minimal string
// escaping, bare integers.
func Canonicalize(v Value) ([]byte, error) {
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encode(sb *strings.Builder, v Value) error {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindInt:
		if !IsLegalInteger(v.i) {
			return fmt.Errorf("%w: %d", ErrNumberOutOfRange, v.i)
		}
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindString:
		encodeString(sb, v.s)
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encode(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case KindObject:
		keys := make([]string, len(v.obj))
		copy(keys, v.Keys())
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeString(sb, k)
			sb.WriteByte(':')
			val, _ := v.Get(k)
			if err := encode(sb, val); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("canonicaljson: unknown kind %d", v.kind)
	}
	return nil
}

// lessUTF16 orders strings by UTF-16 code unit, which differs from raw
// byte/rune order for codepoints above the Basic Multilingual Plane
// (under UTF-16 a surrogate pair sorts below BMP characters in
// U+E000-U+FFFF, but a naive rune comparison would put it above every
// BMP character).
func lessUTF16(a, b string) bool {
	au := utf16Units(a)
	bu := utf16Units(b)
	for i := 0; i < len(au) && i < len(bu); i++ {
		if au[i] != bu[i] {
			return au[i] < bu[i]
		}
	}
	return len(au) < len(bu)
}

func utf16Units(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			units = append(units, uint16(r))
			continue
		}
		r -= 0x10000
		units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return units
}

// encodeString writes s as a JSON string literal, escaping only the
// three classes the Matrix spec requires: quote, backslash, and
// control characters U+0000-U+001F.
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
