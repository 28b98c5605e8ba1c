package idl

import "fmt"

// SchemaErrorKind classifies load-time schema failures.
type SchemaErrorKind int

const (
	ErrBadDocument SchemaErrorKind = iota
	ErrUnknownReference
	ErrDuplicateName
	ErrDuplicateDiscriminator
	ErrDirectCycle
)

func (k SchemaErrorKind) String() string {
	switch k {
	case ErrBadDocument:
		return "bad document"
	case ErrUnknownReference:
		return "unknown reference"
	case ErrDuplicateName:
		return "duplicate name"
	case ErrDuplicateDiscriminator:
		return "duplicate discriminator"
	case ErrDirectCycle:
		return "direct cycle"
	}
	return "schema error"
}

// SchemaError is fatal to the schema instance: a schema that fails to load
// is never partially usable.
type SchemaError struct {
	Kind   SchemaErrorKind
	Name   string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("schema: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("schema: %s at %q: %s", e.Kind, e.Name, e.Detail)
}

func schemaErr(kind SchemaErrorKind, name, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Kind: kind, Name: name, Detail: fmt.Sprintf(format, args...)}
}
