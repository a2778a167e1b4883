// Package canonicaljson implements the Matrix canonical JSON encoding:
// sorted object keys, no insignificant whitespace, integer-only numbers,
// and minimal string escaping. Values are represented as a tagged
// variant so that a numeric-looking string is never silently coerced
// into a number, and so that out-of-range or non-integer numbers are
// rejected rather than rounded.
package canonicaljson

import "fmt"

// Kind identifies the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindArray
	KindObject
)

// Value is a tagged JSON value restricted to the types canonical JSON
// allows: null, bool, integer (not float), string, array, object.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	arr  []Value
	// obj preserves insertion order for round-tripping; Canonicalize
	// re-sorts it by UTF-16 code unit regardless of this order.
	obj     []member
	objKeys map[string]int // key -> index into obj, for O(1) lookup
}

type member struct {
	key string
	val Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer. Callers must pre-validate range with
// IsLegalInteger; Canonicalize re-validates regardless.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String wraps a string verbatim -- a numeric-looking string stays a
// string and is never coerced.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a slice of values, preserving order.
func Array(items []Value) Value { return Value{kind: KindArray, arr: items} }

// NewObject returns an empty object value.
func NewObject() Value {
	return Value{kind: KindObject, objKeys: make(map[string]int)}
}

func (v Value) Kind() Kind { return v.kind }

// Set inserts or replaces a key in an object value. Panics if v is not
// an object -- mirrors the teacher's fail-fast style for programmer
// errors in internal constructors (see pkg/eventbus's typed wrappers).
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		panic("canonicaljson: Set called on non-object Value")
	}
	if v.objKeys == nil {
		v.objKeys = make(map[string]int)
	}
	if idx, ok := v.objKeys[key]; ok {
		v.obj[idx].val = val
		return
	}
	v.objKeys[key] = len(v.obj)
	v.obj = append(v.obj, member{key: key, val: val})
}

// Delete removes a key from an object value, if present.
func (v *Value) Delete(key string) {
	if v.kind != KindObject {
		return
	}
	idx, ok := v.objKeys[key]
	if !ok {
		return
	}
	v.obj = append(v.obj[:idx], v.obj[idx+1:]...)
	delete(v.objKeys, key)
	for k, i := range v.objKeys {
		if i > idx {
			v.objKeys[k] = i - 1
		}
	}
}

// Get returns the value at key and whether it was present.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	idx, ok := v.objKeys[key]
	if !ok {
		return Value{}, false
	}
	return v.obj[idx].val, true
}

// Has reports whether key is present on an object value.
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Keys returns the object's keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, len(v.obj))
	for i, m := range v.obj {
		keys[i] = m.key
	}
	return keys
}

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsInt returns the integer payload and whether v is an integer.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsArray returns the array payload and whether v is an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// MaxSafeInteger and MinSafeInteger bound the legal integer range for
// canonical JSON (2^53-1, the IEEE-754 double mantissa limit).
const (
	MaxSafeInteger int64 = 1<<53 - 1
	MinSafeInteger int64 = -(1<<53 - 1)
)

// IsLegalInteger reports whether i falls within the canonical-JSON
// integer range.
func IsLegalInteger(i int64) bool {
	return i >= MinSafeInteger && i <= MaxSafeInteger
}

// CloneWithout returns a shallow copy of an object value with the
// given keys removed. Non-object values are returned unchanged.
func (v Value) CloneWithout(keys ...string) Value {
	if v.kind != KindObject {
		return v
	}
	skip := make(map[string]bool, len(keys))
	for _, k := range keys {
		skip[k] = true
	}
	out := NewObject()
	for _, m := range v.obj {
		if skip[m.key] {
			continue
		}
		out.Set(m.key, m.val)
	}
	return out
}

func (v Value) String() string {
	b, err := Canonicalize(v)
	if err != nil {
		return fmt.Sprintf("<invalid canonicaljson.Value: %v>", err)
	}
	return string(b)
}
