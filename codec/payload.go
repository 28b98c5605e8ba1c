package codec

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"anchorlink/idl"
)

// EncodeInstruction builds the wire payload for a call: the instruction's
// 8-byte discriminator followed by the arguments in declared order. An
// instruction with no arguments encodes to exactly its discriminator.
func EncodeInstruction(s *idl.Schema, name string, args map[string]interface{}) ([]byte, error) {
	ins, err := s.InstructionByName(name)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.Write(ins.Discriminator[:])
	enc := bin.NewBorshEncoder(buf)
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := EncodeStruct(enc, s, &idl.StructDef{Fields: ins.Args}, args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeInstruction parses a discriminator-prefixed instruction payload
// back into its argument map.
func DecodeInstruction(s *idl.Schema, name string, data []byte) (map[string]interface{}, error) {
	ins, err := s.InstructionByName(name)
	if err != nil {
		return nil, err
	}
	body, err := stripDiscriminator(data, ins.Discriminator)
	if err != nil {
		return nil, err
	}
	dec := bin.NewBorshDecoder(body)
	return DecodeStruct(dec, s, &idl.StructDef{Fields: ins.Args})
}

// EncodeAccount builds a discriminator-prefixed account payload.
func EncodeAccount(s *idl.Schema, name string, values map[string]interface{}) ([]byte, error) {
	acc, err := s.AccountByName(name)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.Write(acc.Discriminator[:])
	enc := bin.NewBorshEncoder(buf)
	if err := EncodeStruct(enc, s, &acc.Def, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeAccount parses account data fetched from the ledger against a
// named layout, checking the discriminator first.
func DecodeAccount(s *idl.Schema, name string, data []byte) (map[string]interface{}, error) {
	acc, err := s.AccountByName(name)
	if err != nil {
		return nil, err
	}
	body, err := stripDiscriminator(data, acc.Discriminator)
	if err != nil {
		return nil, err
	}
	dec := bin.NewBorshDecoder(body)
	return DecodeStruct(dec, s, &acc.Def)
}

// DecodeAccountAny dispatches on the payload's own discriminator and
// returns the matched layout name alongside the decoded fields.
func DecodeAccountAny(s *idl.Schema, data []byte) (string, map[string]interface{}, error) {
	disc, err := peekDiscriminator(data)
	if err != nil {
		return "", nil, err
	}
	acc, ok := s.AccountByDiscriminator(disc)
	if !ok {
		return "", nil, ErrDiscriminatorMismatch
	}
	dec := bin.NewBorshDecoder(data[8:])
	fields, err := DecodeStruct(dec, s, &acc.Def)
	if err != nil {
		return "", nil, err
	}
	return acc.Name, fields, nil
}

// EncodeEvent builds a discriminator-prefixed event payload. Used by tests
// and by anything replaying synthetic logs.
func EncodeEvent(s *idl.Schema, name string, values map[string]interface{}) ([]byte, error) {
	ev, err := s.EventByName(name)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.Write(ev.Discriminator[:])
	enc := bin.NewBorshEncoder(buf)
	if err := EncodeStruct(enc, s, &ev.Def, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEvent dispatches a log data block on its discriminator. The second
// return reports whether the discriminator matched any known event; a miss
// is not an error, it is how unknown event types stay forward-compatible.
func DecodeEvent(s *idl.Schema, data []byte) (string, map[string]interface{}, bool, error) {
	disc, err := peekDiscriminator(data)
	if err != nil {
		return "", nil, false, err
	}
	ev, ok := s.EventByDiscriminator(disc)
	if !ok {
		return "", nil, false, nil
	}
	dec := bin.NewBorshDecoder(data[8:])
	fields, err := DecodeStruct(dec, s, &ev.Def)
	if err != nil {
		return ev.Name, nil, true, err
	}
	return ev.Name, fields, true, nil
}

func peekDiscriminator(data []byte) (idl.Discriminator, error) {
	var disc idl.Discriminator
	if len(data) < 8 {
		return disc, codecErr(ErrUnexpectedEOF, "", "payload of %d bytes is shorter than a discriminator", len(data))
	}
	copy(disc[:], data[:8])
	return disc, nil
}

func stripDiscriminator(data []byte, want idl.Discriminator) ([]byte, error) {
	disc, err := peekDiscriminator(data)
	if err != nil {
		return nil, err
	}
	if disc != want {
		return nil, ErrDiscriminatorMismatch
	}
	return data[8:], nil
}
