package idl

import (
	"encoding/json"
	"fmt"
)

// TypeKind enumerates the wire type grammar.
type TypeKind int

const (
	KindBool TypeKind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindF32
	KindF64
	KindString
	KindBytes
	KindPublicKey
	KindArray
	KindVec
	KindOption
	KindDefined
)

var kindNames = map[TypeKind]string{
	KindBool: "bool", KindU8: "u8", KindU16: "u16", KindU32: "u32",
	KindU64: "u64", KindU128: "u128", KindI8: "i8", KindI16: "i16",
	KindI32: "i32", KindI64: "i64", KindI128: "i128", KindF32: "f32",
	KindF64: "f64", KindString: "string", KindBytes: "bytes",
	KindPublicKey: "pubkey",
}

var primitivesByName = map[string]TypeKind{
	"bool": KindBool, "u8": KindU8, "u16": KindU16, "u32": KindU32,
	"u64": KindU64, "u128": KindU128, "i8": KindI8, "i16": KindI16,
	"i32": KindI32, "i64": KindI64, "i128": KindI128, "f32": KindF32,
	"f64": KindF64, "string": KindString, "bytes": KindBytes,
	// Older Anchor IDLs spell the key type "publicKey".
	"pubkey": KindPublicKey, "publicKey": KindPublicKey,
}

// TypeRef is a reference to a wire type: a primitive, a composite
// (array/vec/option around an inner type), or a named definition.
type TypeRef struct {
	Kind  TypeKind
	Inner *TypeRef // Array, Vec, Option
	Len   int      // Array
	Name  string   // Defined
}

func (t TypeRef) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("[%s; %d]", t.Inner, t.Len)
	case KindVec:
		return fmt.Sprintf("vec<%s>", t.Inner)
	case KindOption:
		return fmt.Sprintf("option<%s>", t.Inner)
	case KindDefined:
		return t.Name
	}
	return kindNames[t.Kind]
}

// UnmarshalJSON accepts the Anchor IDL type grammar: primitives are JSON
// strings, composites are single-key objects.
func (t *TypeRef) UnmarshalJSON(data []byte) error {
	var prim string
	if err := json.Unmarshal(data, &prim); err == nil {
		kind, ok := primitivesByName[prim]
		if !ok {
			return schemaErr(ErrBadDocument, prim, "unknown primitive type")
		}
		t.Kind = kind
		return nil
	}

	var composite struct {
		Array   []json.RawMessage `json:"array"`
		Vec     *TypeRef          `json:"vec"`
		Option  *TypeRef          `json:"option"`
		Defined json.RawMessage   `json:"defined"`
	}
	if err := json.Unmarshal(data, &composite); err != nil {
		return schemaErr(ErrBadDocument, "", "unparseable type ref: %v", err)
	}

	switch {
	case composite.Array != nil:
		if len(composite.Array) != 2 {
			return schemaErr(ErrBadDocument, "", "array type wants [inner, len], got %d elements", len(composite.Array))
		}
		inner := new(TypeRef)
		if err := json.Unmarshal(composite.Array[0], inner); err != nil {
			return err
		}
		var length int
		if err := json.Unmarshal(composite.Array[1], &length); err != nil {
			return schemaErr(ErrBadDocument, "", "array length is not an integer: %v", err)
		}
		if length < 0 {
			return schemaErr(ErrBadDocument, "", "array length %d is negative", length)
		}
		t.Kind, t.Inner, t.Len = KindArray, inner, length
	case composite.Vec != nil:
		t.Kind, t.Inner = KindVec, composite.Vec
	case composite.Option != nil:
		t.Kind, t.Inner = KindOption, composite.Option
	case composite.Defined != nil:
		name, err := definedName(composite.Defined)
		if err != nil {
			return err
		}
		t.Kind, t.Name = KindDefined, name
	default:
		return schemaErr(ErrBadDocument, "", "type ref %s has no recognized shape", string(data))
	}
	return nil
}

// definedName handles both {"defined":"Name"} and {"defined":{"name":"Name"}}.
func definedName(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Name == "" {
		return "", schemaErr(ErrBadDocument, "", "defined type ref %s has no name", string(raw))
	}
	return obj.Name, nil
}

// Field is one named slot in a struct, instruction argument list, or enum
// variant. Declaration order is wire order.
type Field struct {
	Name string  `json:"name"`
	Type TypeRef `json:"type"`
}

// StructDef is an ordered field list.
type StructDef struct {
	Fields []Field
}

// Variant is one arm of a tagged union; Fields may be empty.
type Variant struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// EnumDef is an ordered variant list; the variant index is the wire tag.
type EnumDef struct {
	Variants []Variant
}

// TypeDef is a named struct or enum definition.
type TypeDef struct {
	Name   string
	Struct *StructDef
	Enum   *EnumDef
}

func (d *TypeDef) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string `json:"name"`
		Type struct {
			Kind     string    `json:"kind"`
			Fields   []Field   `json:"fields"`
			Variants []Variant `json:"variants"`
		} `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return schemaErr(ErrBadDocument, "", "unparseable type definition: %v", err)
	}
	d.Name = raw.Name
	switch raw.Type.Kind {
	case "struct":
		d.Struct = &StructDef{Fields: raw.Type.Fields}
	case "enum":
		d.Enum = &EnumDef{Variants: raw.Type.Variants}
	default:
		return schemaErr(ErrBadDocument, raw.Name, "unknown type kind %q", raw.Type.Kind)
	}
	return nil
}
