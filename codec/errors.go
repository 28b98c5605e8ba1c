package codec

import (
	"errors"
	"fmt"
)

// CodecErrorKind classifies per-value encode/decode failures. These are
// recoverable: the caller decides whether to abort or skip.
type CodecErrorKind int

const (
	ErrUnexpectedEOF CodecErrorKind = iota
	ErrUnknownVariant
	ErrOutOfRange
	ErrTypeMismatch
	ErrUnknownField
)

func (k CodecErrorKind) String() string {
	switch k {
	case ErrUnexpectedEOF:
		return "unexpected EOF"
	case ErrUnknownVariant:
		return "unknown variant"
	case ErrOutOfRange:
		return "out of range"
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrUnknownField:
		return "unknown field"
	}
	return "codec error"
}

// CodecError reports where a value diverged from its schema type.
type CodecError struct {
	Kind   CodecErrorKind
	Type   string
	Detail string
}

func (e *CodecError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("codec: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("codec: %s for %s: %s", e.Kind, e.Type, e.Detail)
}

func codecErr(kind CodecErrorKind, typ, format string, args ...interface{}) *CodecError {
	return &CodecError{Kind: kind, Type: typ, Detail: fmt.Sprintf(format, args...)}
}

// ErrDiscriminatorMismatch reports a payload whose leading 8 bytes do not
// match the definition it was decoded against.
var ErrDiscriminatorMismatch = errors.New("codec: discriminator mismatch")
