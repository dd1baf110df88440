package sim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

// The kinds of value that can flow through a channel, live in memory, or be
// carried by an event payload.
const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindRecord
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindRecord:
		return "record"
	default:
		return "invalid"
	}
}

// A Type is the declared type of a port or a memory address. Two types are
// compatible only if they are equal. Records are further distinguished by
// name.
type Type struct {
	Kind Kind
	Name string
}

// The scalar types.
var (
	IntType    = Type{Kind: KindInt}
	FloatType  = Type{Kind: KindFloat}
	BoolType   = Type{Kind: KindBool}
	StringType = Type{Kind: KindString}
)

// RecordType returns the type of records with the given name.
func RecordType(name string) Type {
	return Type{Kind: KindRecord, Name: name}
}

// ParseType converts a textual type such as "int" or "record:Order" to a
// Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "int":
		return IntType, nil
	case "float":
		return FloatType, nil
	case "bool":
		return BoolType, nil
	case "string":
		return StringType, nil
	}

	if name, ok := strings.CutPrefix(s, "record:"); ok && name != "" {
		return RecordType(name), nil
	}

	return Type{}, fmt.Errorf("%w: unknown type %q", ErrTypeMismatch, s)
}

// String returns the textual form of the type, accepted by ParseType.
func (t Type) String() string {
	if t.Kind == KindRecord {
		return "record:" + t.Name
	}

	return t.Kind.String()
}

// IsValid tells if the type can be carried by a value.
func (t Type) IsValid() bool {
	if t.Kind == KindRecord {
		return t.Name != ""
	}

	return t.Kind > KindInvalid && t.Kind <= KindRecord
}

// A Value is an immutable, type-tagged datum. The zero Value is invalid and
// means "no value".
type Value struct {
	typ    Type
	i      int64
	f      float64
	b      bool
	s      string
	fields map[string]Value
}

// Int creates an integer value.
func Int(v int64) Value {
	return Value{typ: IntType, i: v}
}

// Float creates a floating-point value.
func Float(v float64) Value {
	return Value{typ: FloatType, f: v}
}

// Bool creates a boolean value.
func Bool(v bool) Value {
	return Value{typ: BoolType, b: v}
}

// String creates a string value.
func String(v string) Value {
	return Value{typ: StringType, s: v}
}

// Record creates a record value. The fields are copied, so later changes to
// the map do not affect the value.
func Record(name string, fields map[string]Value) Value {
	return Value{typ: RecordType(name), fields: copyFields(fields)}
}

// ZeroOf returns the zero value of the given type.
func ZeroOf(t Type) Value {
	if t.Kind == KindRecord {
		return Record(t.Name, nil)
	}

	return Value{typ: t}
}

func copyFields(fields map[string]Value) map[string]Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = v.Clone()
	}

	return out
}

// Type returns the type tag of the value.
func (v Value) Type() Type {
	return v.typ
}

// IsValid tells if the value carries a type.
func (v Value) IsValid() bool {
	return v.typ.IsValid()
}

// Clone returns an independent copy of the value.
func (v Value) Clone() Value {
	if v.typ.Kind != KindRecord {
		return v
	}

	c := v
	c.fields = copyFields(v.fields)

	return c
}

func (v Value) mustBe(t Type) error {
	if v.typ != t {
		return fmt.Errorf("%w: value is %s, requested %s",
			ErrTypeMismatch, v.typ, t)
	}

	return nil
}

// AsInt returns the integer held by the value.
func (v Value) AsInt() (int64, error) {
	if err := v.mustBe(IntType); err != nil {
		return 0, err
	}

	return v.i, nil
}

// AsFloat returns the floating-point number held by the value.
func (v Value) AsFloat() (float64, error) {
	if err := v.mustBe(FloatType); err != nil {
		return 0, err
	}

	return v.f, nil
}

// AsBool returns the boolean held by the value.
func (v Value) AsBool() (bool, error) {
	if err := v.mustBe(BoolType); err != nil {
		return false, err
	}

	return v.b, nil
}

// AsString returns the string held by the value.
func (v Value) AsString() (string, error) {
	if err := v.mustBe(StringType); err != nil {
		return "", err
	}

	return v.s, nil
}

// Fields returns a copy of the fields of a record value.
func (v Value) Fields() (map[string]Value, error) {
	if v.typ.Kind != KindRecord {
		return nil, fmt.Errorf("%w: value is %s, requested a record",
			ErrTypeMismatch, v.typ)
	}

	return copyFields(v.fields), nil
}

// Field returns a single field of a record value.
func (v Value) Field(name string) (Value, bool) {
	if v.typ.Kind != KindRecord {
		return Value{}, false
	}

	f, ok := v.fields[name]

	return f, ok
}

// Equal tells if two values have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}

	switch v.typ.Kind {
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindRecord:
		if len(v.fields) != len(o.fields) {
			return false
		}

		for k, f := range v.fields {
			of, ok := o.fields[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}

		return true
	default:
		return true
	}
}

// String renders the value for logs and reports.
func (v Value) String() string {
	switch v.typ.Kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return strconv.Quote(v.s)
	case KindRecord:
		keys := make([]string, 0, len(v.fields))
		for k := range v.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sb strings.Builder
		sb.WriteString(v.typ.Name)
		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v.fields[k].String())
		}
		sb.WriteString("}")

		return sb.String()
	default:
		return "<invalid>"
	}
}

// Interface returns the Go representation of the value. Records become
// map[string]any.
func (v Value) Interface() any {
	switch v.typ.Kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindRecord:
		m := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			m[k] = f.Interface()
		}

		return m
	default:
		return nil
	}
}
