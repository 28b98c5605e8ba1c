// Package codec encodes and decodes values against a loaded schema. The
// wire format is Borsh: little-endian fixed-width numerics, u32 length
// prefixes on strings/bytes/vectors, a one-byte presence flag on options,
// and a one-byte variant tag on enums. It must stay bit-exact with other
// implementations of the same schema.
package codec

import (
	"bytes"
	"math"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"anchorlink/idl"
)

// EnumValue carries a decoded (or to-be-encoded) tagged-union value.
type EnumValue struct {
	Variant string
	Fields  map[string]interface{}
}

// Encode serializes v against the given type and returns the wire bytes.
func Encode(s *idl.Schema, t idl.TypeRef, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := EncodeTo(enc, s, t, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one value of the given type from the decoder, advancing its
// cursor. Decode is the exact left inverse of Encode for conforming values.
func Decode(s *idl.Schema, t idl.TypeRef, dec *bin.Decoder) (interface{}, error) {
	return decodeValue(s, t, dec)
}

// EncodeStruct writes the fields of def in declaration order, pulling
// values from the map by field name.
func EncodeStruct(enc *bin.Encoder, s *idl.Schema, def *idl.StructDef, values map[string]interface{}) error {
	for _, f := range def.Fields {
		v, ok := values[f.Name]
		if !ok {
			return codecErr(ErrTypeMismatch, f.Name, "missing field")
		}
		if err := EncodeTo(enc, s, f.Type, v); err != nil {
			return err
		}
	}
	for name := range values {
		if !hasField(def, name) {
			return codecErr(ErrUnknownField, name, "field not in schema")
		}
	}
	return nil
}

// DecodeStruct reads the fields of def in declaration order.
func DecodeStruct(dec *bin.Decoder, s *idl.Schema, def *idl.StructDef) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(def.Fields))
	for _, f := range def.Fields {
		v, err := decodeValue(s, f.Type, dec)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func hasField(def *idl.StructDef, name string) bool {
	for _, f := range def.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// EncodeTo serializes one value of type t onto enc.
func EncodeTo(enc *bin.Encoder, s *idl.Schema, t idl.TypeRef, v interface{}) error {
	switch t.Kind {
	case idl.KindBool:
		b, ok := v.(bool)
		if !ok {
			return codecErr(ErrTypeMismatch, t.String(), "want bool, got %T", v)
		}
		return enc.WriteBool(b)
	case idl.KindU8, idl.KindU16, idl.KindU32, idl.KindU64:
		u, err := toUint64(v, unsignedBits(t.Kind), t.String())
		if err != nil {
			return err
		}
		switch t.Kind {
		case idl.KindU8:
			return enc.WriteByte(byte(u))
		case idl.KindU16:
			return enc.WriteUint16(uint16(u), bin.LE)
		case idl.KindU32:
			return enc.WriteUint32(uint32(u), bin.LE)
		default:
			return enc.WriteUint64(u, bin.LE)
		}
	case idl.KindI8, idl.KindI16, idl.KindI32, idl.KindI64:
		i, err := toInt64(v, signedBits(t.Kind), t.String())
		if err != nil {
			return err
		}
		switch t.Kind {
		case idl.KindI8:
			return enc.WriteByte(byte(int8(i)))
		case idl.KindI16:
			return enc.WriteInt16(int16(i), bin.LE)
		case idl.KindI32:
			return enc.WriteInt32(int32(i), bin.LE)
		default:
			return enc.WriteInt64(i, bin.LE)
		}
	case idl.KindU128, idl.KindI128:
		return encodeBig(enc, t, v)
	case idl.KindF32:
		f, ok := toFloat(v)
		if !ok {
			return codecErr(ErrTypeMismatch, t.String(), "want float, got %T", v)
		}
		return enc.WriteFloat32(float32(f), bin.LE)
	case idl.KindF64:
		f, ok := toFloat(v)
		if !ok {
			return codecErr(ErrTypeMismatch, t.String(), "want float, got %T", v)
		}
		return enc.WriteFloat64(f, bin.LE)
	case idl.KindString:
		str, ok := v.(string)
		if !ok {
			return codecErr(ErrTypeMismatch, t.String(), "want string, got %T", v)
		}
		return enc.WriteBytes([]byte(str), true)
	case idl.KindBytes:
		b, ok := toBytes(v)
		if !ok {
			return codecErr(ErrTypeMismatch, t.String(), "want bytes, got %T", v)
		}
		return enc.WriteBytes(b, true)
	case idl.KindPublicKey:
		pk, err := toPublicKey(v)
		if err != nil {
			return err
		}
		return enc.WriteBytes(pk[:], false)
	case idl.KindArray:
		items, err := toSlice(v, t)
		if err != nil {
			return err
		}
		if len(items) != t.Len {
			return codecErr(ErrTypeMismatch, t.String(), "want %d elements, got %d", t.Len, len(items))
		}
		for _, item := range items {
			if err := EncodeTo(enc, s, *t.Inner, item); err != nil {
				return err
			}
		}
		return nil
	case idl.KindVec:
		items, err := toSlice(v, t)
		if err != nil {
			return err
		}
		if err := enc.WriteUint32(uint32(len(items)), bin.LE); err != nil {
			return err
		}
		for _, item := range items {
			if err := EncodeTo(enc, s, *t.Inner, item); err != nil {
				return err
			}
		}
		return nil
	case idl.KindOption:
		if v == nil {
			return enc.WriteByte(0)
		}
		if err := enc.WriteByte(1); err != nil {
			return err
		}
		return EncodeTo(enc, s, *t.Inner, v)
	case idl.KindDefined:
		return encodeDefined(enc, s, t, v)
	}
	return codecErr(ErrTypeMismatch, t.String(), "unsupported type kind")
}

func encodeDefined(enc *bin.Encoder, s *idl.Schema, t idl.TypeRef, v interface{}) error {
	td, err := s.ResolveType(t.Name)
	if err != nil {
		return codecErr(ErrTypeMismatch, t.Name, "%v", err)
	}
	if td.Struct != nil {
		m, ok := v.(map[string]interface{})
		if !ok {
			return codecErr(ErrTypeMismatch, t.Name, "want map for struct, got %T", v)
		}
		return EncodeStruct(enc, s, td.Struct, m)
	}

	var ev EnumValue
	switch val := v.(type) {
	case EnumValue:
		ev = val
	case *EnumValue:
		ev = *val
	case string:
		ev = EnumValue{Variant: val}
	default:
		return codecErr(ErrTypeMismatch, t.Name, "want enum value, got %T", v)
	}
	for i, variant := range td.Enum.Variants {
		if variant.Name != ev.Variant {
			continue
		}
		if err := enc.WriteByte(byte(i)); err != nil {
			return err
		}
		if len(variant.Fields) == 0 {
			return nil
		}
		fields := ev.Fields
		if fields == nil {
			fields = map[string]interface{}{}
		}
		return EncodeStruct(enc, s, &idl.StructDef{Fields: variant.Fields}, fields)
	}
	return codecErr(ErrUnknownVariant, t.Name, "no variant named %q", ev.Variant)
}

func decodeValue(s *idl.Schema, t idl.TypeRef, dec *bin.Decoder) (interface{}, error) {
	switch t.Kind {
	case idl.KindBool:
		v, err := dec.ReadBool()
		return v, eof(t, err)
	case idl.KindU8:
		v, err := dec.ReadByte()
		return uint8(v), eof(t, err)
	case idl.KindU16:
		v, err := dec.ReadUint16(bin.LE)
		return v, eof(t, err)
	case idl.KindU32:
		v, err := dec.ReadUint32(bin.LE)
		return v, eof(t, err)
	case idl.KindU64:
		v, err := dec.ReadUint64(bin.LE)
		return v, eof(t, err)
	case idl.KindI8:
		v, err := dec.ReadByte()
		return int8(v), eof(t, err)
	case idl.KindI16:
		v, err := dec.ReadInt16(bin.LE)
		return v, eof(t, err)
	case idl.KindI32:
		v, err := dec.ReadInt32(bin.LE)
		return v, eof(t, err)
	case idl.KindI64:
		v, err := dec.ReadInt64(bin.LE)
		return v, eof(t, err)
	case idl.KindU128, idl.KindI128:
		return decodeBig(dec, t)
	case idl.KindF32:
		v, err := dec.ReadFloat32(bin.LE)
		return v, eof(t, err)
	case idl.KindF64:
		v, err := dec.ReadFloat64(bin.LE)
		return v, eof(t, err)
	case idl.KindString:
		b, err := readLengthPrefixed(dec, t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case idl.KindBytes:
		return readLengthPrefixed(dec, t)
	case idl.KindPublicKey:
		b, err := dec.ReadNBytes(32)
		if err != nil {
			return nil, eof(t, err)
		}
		return solana.PublicKeyFromBytes(b), nil
	case idl.KindArray:
		items := make([]interface{}, t.Len)
		for i := 0; i < t.Len; i++ {
			v, err := decodeValue(s, *t.Inner, dec)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case idl.KindVec:
		n, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, eof(t, err)
		}
		if int(n) > dec.Remaining() {
			return nil, codecErr(ErrUnexpectedEOF, t.String(), "vector claims %d elements with %d bytes left", n, dec.Remaining())
		}
		items := make([]interface{}, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := decodeValue(s, *t.Inner, dec)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case idl.KindOption:
		flag, err := dec.ReadByte()
		if err != nil {
			return nil, eof(t, err)
		}
		switch flag {
		case 0:
			return nil, nil
		case 1:
			return decodeValue(s, *t.Inner, dec)
		default:
			return nil, codecErr(ErrTypeMismatch, t.String(), "option flag must be 0 or 1, got %d", flag)
		}
	case idl.KindDefined:
		return decodeDefined(s, t, dec)
	}
	return nil, codecErr(ErrTypeMismatch, t.String(), "unsupported type kind")
}

func decodeDefined(s *idl.Schema, t idl.TypeRef, dec *bin.Decoder) (interface{}, error) {
	td, err := s.ResolveType(t.Name)
	if err != nil {
		return nil, codecErr(ErrTypeMismatch, t.Name, "%v", err)
	}
	if td.Struct != nil {
		return DecodeStruct(dec, s, td.Struct)
	}
	tag, err := dec.ReadByte()
	if err != nil {
		return nil, eof(t, err)
	}
	if int(tag) >= len(td.Enum.Variants) {
		return nil, codecErr(ErrUnknownVariant, t.Name, "tag %d out of range (have %d variants)", tag, len(td.Enum.Variants))
	}
	variant := td.Enum.Variants[tag]
	out := EnumValue{Variant: variant.Name}
	if len(variant.Fields) > 0 {
		fields, err := DecodeStruct(dec, s, &idl.StructDef{Fields: variant.Fields})
		if err != nil {
			return nil, err
		}
		out.Fields = fields
	}
	return out, nil
}

func readLengthPrefixed(dec *bin.Decoder, t idl.TypeRef) ([]byte, error) {
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, eof(t, err)
	}
	if int(n) > dec.Remaining() {
		return nil, codecErr(ErrUnexpectedEOF, t.String(), "length prefix %d exceeds %d bytes left", n, dec.Remaining())
	}
	b, err := dec.ReadNBytes(int(n))
	if err != nil {
		return nil, eof(t, err)
	}
	return b, nil
}

// eof maps any underlying decoder error to the codec taxonomy: the only
// way a primitive read fails on an in-memory buffer is running off its end.
func eof(t idl.TypeRef, err error) error {
	if err == nil {
		return nil
	}
	return codecErr(ErrUnexpectedEOF, t.String(), "%v", err)
}

// 128-bit integers ride as 16 little-endian bytes and surface as *big.Int.

var (
	u128Max = new(big.Int).Lsh(big.NewInt(1), 128)
	i128Max = new(big.Int).Lsh(big.NewInt(1), 127)
	i128Min = new(big.Int).Neg(i128Max)
)

func encodeBig(enc *bin.Encoder, t idl.TypeRef, v interface{}) error {
	var n *big.Int
	switch val := v.(type) {
	case *big.Int:
		n = val
	case uint64:
		n = new(big.Int).SetUint64(val)
	case int64:
		n = big.NewInt(val)
	case int:
		n = big.NewInt(int64(val))
	default:
		return codecErr(ErrTypeMismatch, t.String(), "want *big.Int, got %T", v)
	}

	if t.Kind == idl.KindU128 {
		if n.Sign() < 0 || n.Cmp(u128Max) >= 0 {
			return codecErr(ErrOutOfRange, t.String(), "%s does not fit u128", n)
		}
	} else {
		if n.Cmp(i128Min) < 0 || n.Cmp(i128Max) >= 0 {
			return codecErr(ErrOutOfRange, t.String(), "%s does not fit i128", n)
		}
		if n.Sign() < 0 {
			n = new(big.Int).Add(u128Max, n) // two's complement
		}
	}

	raw := make([]byte, 16)
	le := n.Bytes() // big-endian
	for i, j := 0, len(le)-1; j >= 0; i, j = i+1, j-1 {
		raw[i] = le[j]
	}
	return enc.WriteBytes(raw, false)
}

func decodeBig(dec *bin.Decoder, t idl.TypeRef) (interface{}, error) {
	raw, err := dec.ReadNBytes(16)
	if err != nil {
		return nil, eof(t, err)
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = raw[15-i]
	}
	n := new(big.Int).SetBytes(be)
	if t.Kind == idl.KindI128 && n.Cmp(i128Max) >= 0 {
		n.Sub(n, u128Max)
	}
	return n, nil
}

func unsignedBits(k idl.TypeKind) int {
	switch k {
	case idl.KindU8:
		return 8
	case idl.KindU16:
		return 16
	case idl.KindU32:
		return 32
	}
	return 64
}

func signedBits(k idl.TypeKind) int {
	switch k {
	case idl.KindI8:
		return 8
	case idl.KindI16:
		return 16
	case idl.KindI32:
		return 32
	}
	return 64
}

// toUint64 coerces any Go integer into an unsigned n-bit field, failing
// with OutOfRange rather than silently truncating.
func toUint64(v interface{}, bits int, typ string) (uint64, error) {
	var u uint64
	switch val := v.(type) {
	case uint8:
		u = uint64(val)
	case uint16:
		u = uint64(val)
	case uint32:
		u = uint64(val)
	case uint64:
		u = val
	case uint:
		u = uint64(val)
	case int8, int16, int32, int64, int:
		i, _ := toInt64(v, 64, typ)
		if i < 0 {
			return 0, codecErr(ErrOutOfRange, typ, "%d is negative", i)
		}
		u = uint64(i)
	default:
		return 0, codecErr(ErrTypeMismatch, typ, "want unsigned integer, got %T", v)
	}
	if bits < 64 && u >= uint64(1)<<bits {
		return 0, codecErr(ErrOutOfRange, typ, "%d does not fit %d bits", u, bits)
	}
	return u, nil
}

func toInt64(v interface{}, bits int, typ string) (int64, error) {
	var i int64
	switch val := v.(type) {
	case int8:
		i = int64(val)
	case int16:
		i = int64(val)
	case int32:
		i = int64(val)
	case int64:
		i = val
	case int:
		i = int64(val)
	case uint8:
		i = int64(val)
	case uint16:
		i = int64(val)
	case uint32:
		i = int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return 0, codecErr(ErrOutOfRange, typ, "%d overflows int64", val)
		}
		i = int64(val)
	default:
		return 0, codecErr(ErrTypeMismatch, typ, "want signed integer, got %T", v)
	}
	if bits < 64 {
		limit := int64(1) << (bits - 1)
		if i < -limit || i >= limit {
			return 0, codecErr(ErrOutOfRange, typ, "%d does not fit %d bits", i, bits)
		}
	}
	return i, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	}
	return 0, false
}

func toBytes(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	}
	return nil, false
}

func toPublicKey(v interface{}) (solana.PublicKey, error) {
	switch val := v.(type) {
	case solana.PublicKey:
		return val, nil
	case string:
		pk, err := solana.PublicKeyFromBase58(val)
		if err != nil {
			return solana.PublicKey{}, codecErr(ErrTypeMismatch, "pubkey", "bad base58: %v", err)
		}
		return pk, nil
	case []byte:
		if len(val) != 32 {
			return solana.PublicKey{}, codecErr(ErrTypeMismatch, "pubkey", "want 32 bytes, got %d", len(val))
		}
		return solana.PublicKeyFromBytes(val), nil
	}
	return solana.PublicKey{}, codecErr(ErrTypeMismatch, "pubkey", "want public key, got %T", v)
}

func toSlice(v interface{}, t idl.TypeRef) ([]interface{}, error) {
	switch val := v.(type) {
	case []interface{}:
		return val, nil
	case []byte:
		if t.Inner != nil && t.Inner.Kind == idl.KindU8 {
			items := make([]interface{}, len(val))
			for i, b := range val {
				items[i] = b
			}
			return items, nil
		}
	}
	return nil, codecErr(ErrTypeMismatch, t.String(), "want slice, got %T", v)
}
