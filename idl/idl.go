package idl

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// Discriminator is the 8-byte tag prefixing every encoded instruction,
// account, and event payload.
type Discriminator [8]byte

// anchorDiscriminator derives the tag Anchor assigns when the IDL does not
// carry one explicitly: sha256("<namespace>:<name>") truncated to 8 bytes.
// The global namespace hashes the snake_case method name; legacy IDLs spell
// instruction names camelCase, so convert before hashing. Account and event
// tags hash the declared type name as-is.
func anchorDiscriminator(namespace, name string) Discriminator {
	if namespace == "global" {
		name = snakeCase(name)
	}
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// snakeCase converts a camelCase name to snake_case. Already-snake names
// pass through unchanged; runs of capitals stay one word.
func snakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	prevUpper := false
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !prevUpper {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
			prevUpper = true
		} else {
			prevUpper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// byteArray decodes the number-array byte encoding the IDL JSON uses for
// discriminators and const seeds, e.g. [11, 18, 104].
type byteArray []byte

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// SeedRef is one seed of an IDL-declared PDA. Only constant seeds can be
// resolved at schema-load time; account-path seeds are filled by the caller.
type SeedRef struct {
	Kind  string // "const" or "account"
	Value []byte // const seeds only
	Path  string // account seeds only
}

// AccountRole describes one slot of an instruction's ordered account list.
type AccountRole struct {
	Name     string
	Writable bool
	Signer   bool
	Optional bool
	Address  string // static address, base58, if the IDL pins one
	Seeds    []SeedRef
}

func (a *AccountRole) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string `json:"name"`
		Writable bool   `json:"writable"`
		Signer   bool   `json:"signer"`
		IsMut    bool   `json:"isMut"`
		IsSigner bool   `json:"isSigner"`
		Optional bool   `json:"optional"`
		Address  string `json:"address"`
		PDA      *struct {
			Seeds []struct {
				Kind  string    `json:"kind"`
				Value byteArray `json:"value"`
				Path  string    `json:"path"`
			} `json:"seeds"`
		} `json:"pda"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return schemaErr(ErrBadDocument, "", "unparseable account role: %v", err)
	}
	a.Name = raw.Name
	a.Writable = raw.Writable || raw.IsMut
	a.Signer = raw.Signer || raw.IsSigner
	a.Optional = raw.Optional
	a.Address = raw.Address
	if raw.PDA != nil {
		for _, s := range raw.PDA.Seeds {
			a.Seeds = append(a.Seeds, SeedRef{Kind: s.Kind, Value: s.Value, Path: s.Path})
		}
	}
	return nil
}

// Instruction is one callable program entry point.
type Instruction struct {
	Name          string
	Discriminator Discriminator
	Args          []Field
	Accounts      []AccountRole
}

// Account is a named on-chain account layout.
type Account struct {
	Name          string
	Discriminator Discriminator
	Def           StructDef
}

// Event is a named log-emitted record layout.
type Event struct {
	Name          string
	Discriminator Discriminator
	Def           StructDef
}

// Schema is the loaded, validated form of an IDL document. It is immutable
// after Load and safe to share across goroutines.
type Schema struct {
	Version string
	Name    string
	Address string

	instructions []*Instruction
	accounts     []*Account
	events       []*Event
	types        []*TypeDef

	instructionsByName map[string]*Instruction
	accountsByName     map[string]*Account
	eventsByName       map[string]*Event
	typesByName        map[string]*TypeDef
	accountsByDisc     map[Discriminator]*Account
	eventsByDisc       map[Discriminator]*Event
}

// document mirrors the raw IDL JSON, covering both the pre-0.30 and the
// current Anchor layouts.
type document struct {
	Version  string `json:"version"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Metadata struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"metadata"`
	Instructions []struct {
		Name          string        `json:"name"`
		Discriminator byteArray     `json:"discriminator"`
		Args          []Field       `json:"args"`
		Accounts      []AccountRole `json:"accounts"`
	} `json:"instructions"`
	Accounts []struct {
		Name          string          `json:"name"`
		Discriminator byteArray       `json:"discriminator"`
		Type          json.RawMessage `json:"type"`
	} `json:"accounts"`
	Events []struct {
		Name          string    `json:"name"`
		Discriminator byteArray `json:"discriminator"`
		Fields        []Field   `json:"fields"`
	} `json:"events"`
	Types []TypeDef `json:"types"`
}

// Load parses and validates an IDL document. Loading is a pure function of
// the document bytes; discriminators missing from the document are derived
// once here and cached on the definitions.
func Load(idlBytes []byte) (*Schema, error) {
	var doc document
	if err := json.Unmarshal(idlBytes, &doc); err != nil {
		return nil, schemaErr(ErrBadDocument, "", "error unmarshalling IDL JSON: %v", err)
	}

	s := &Schema{
		Version:            firstNonEmpty(doc.Version, doc.Metadata.Version),
		Name:               firstNonEmpty(doc.Name, doc.Metadata.Name),
		Address:            doc.Address,
		instructionsByName: make(map[string]*Instruction),
		accountsByName:     make(map[string]*Account),
		eventsByName:       make(map[string]*Event),
		typesByName:        make(map[string]*TypeDef),
		accountsByDisc:     make(map[Discriminator]*Account),
		eventsByDisc:       make(map[Discriminator]*Event),
	}

	for i := range doc.Types {
		td := &doc.Types[i]
		if _, dup := s.typesByName[td.Name]; dup {
			return nil, schemaErr(ErrDuplicateName, td.Name, "type defined twice")
		}
		s.types = append(s.types, td)
		s.typesByName[td.Name] = td
	}

	for _, ri := range doc.Instructions {
		ins := &Instruction{Name: ri.Name, Args: ri.Args, Accounts: ri.Accounts}
		if err := fillDiscriminator(&ins.Discriminator, ri.Discriminator, "global", ri.Name); err != nil {
			return nil, err
		}
		if _, dup := s.instructionsByName[ins.Name]; dup {
			return nil, schemaErr(ErrDuplicateName, ins.Name, "instruction defined twice")
		}
		s.instructions = append(s.instructions, ins)
		s.instructionsByName[ins.Name] = ins
	}

	for _, ra := range doc.Accounts {
		acc := &Account{Name: ra.Name}
		if err := fillDiscriminator(&acc.Discriminator, ra.Discriminator, "account", ra.Name); err != nil {
			return nil, err
		}
		def, err := s.structFor(ra.Name, ra.Type)
		if err != nil {
			return nil, err
		}
		acc.Def = *def
		if _, dup := s.accountsByName[acc.Name]; dup {
			return nil, schemaErr(ErrDuplicateName, acc.Name, "account defined twice")
		}
		s.accounts = append(s.accounts, acc)
		s.accountsByName[acc.Name] = acc
	}

	for _, re := range doc.Events {
		ev := &Event{Name: re.Name}
		if err := fillDiscriminator(&ev.Discriminator, re.Discriminator, "event", re.Name); err != nil {
			return nil, err
		}
		if len(re.Fields) > 0 {
			ev.Def = StructDef{Fields: re.Fields}
		} else {
			def, err := s.structFor(re.Name, nil)
			if err != nil {
				return nil, err
			}
			ev.Def = *def
		}
		if _, dup := s.eventsByName[ev.Name]; dup {
			return nil, schemaErr(ErrDuplicateName, ev.Name, "event defined twice")
		}
		s.events = append(s.events, ev)
		s.eventsByName[ev.Name] = ev
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	for _, acc := range s.accounts {
		s.accountsByDisc[acc.Discriminator] = acc
	}
	for _, ev := range s.events {
		s.eventsByDisc[ev.Discriminator] = ev
	}
	return s, nil
}

// structFor resolves an account or event body: inline type if present,
// otherwise the same-named struct from the types section (current Anchor
// layout keeps account/event bodies there).
func (s *Schema) structFor(name string, inline json.RawMessage) (*StructDef, error) {
	if len(inline) > 0 {
		var td TypeDef
		wrapped := fmt.Sprintf(`{"name":%q,"type":%s}`, name, string(inline))
		if err := json.Unmarshal([]byte(wrapped), &td); err != nil {
			return nil, schemaErr(ErrBadDocument, name, "unparseable inline layout: %v", err)
		}
		if td.Struct == nil {
			return nil, schemaErr(ErrBadDocument, name, "account/event layout must be a struct")
		}
		return td.Struct, nil
	}
	td, ok := s.typesByName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownReference, name, "no layout in types section")
	}
	if td.Struct == nil {
		return nil, schemaErr(ErrBadDocument, name, "account/event layout must be a struct")
	}
	return td.Struct, nil
}

func fillDiscriminator(dst *Discriminator, raw []byte, namespace, name string) error {
	if len(raw) == 0 {
		*dst = anchorDiscriminator(namespace, name)
		return nil
	}
	if len(raw) != 8 {
		return schemaErr(ErrBadDocument, name, "discriminator must be 8 bytes, got %d", len(raw))
	}
	copy(dst[:], raw)
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ResolveType returns the named type definition.
func (s *Schema) ResolveType(name string) (*TypeDef, error) {
	td, ok := s.typesByName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownReference, name, "type does not resolve")
	}
	return td, nil
}

// InstructionByName returns the named instruction definition.
func (s *Schema) InstructionByName(name string) (*Instruction, error) {
	ins, ok := s.instructionsByName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownReference, name, "instruction not in schema")
	}
	return ins, nil
}

// AccountByName returns the named account definition.
func (s *Schema) AccountByName(name string) (*Account, error) {
	acc, ok := s.accountsByName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownReference, name, "account not in schema")
	}
	return acc, nil
}

// EventByName returns the named event definition.
func (s *Schema) EventByName(name string) (*Event, error) {
	ev, ok := s.eventsByName[name]
	if !ok {
		return nil, schemaErr(ErrUnknownReference, name, "event not in schema")
	}
	return ev, nil
}

// EventByDiscriminator returns the event matching an 8-byte wire tag, or
// false when the tag belongs to no known event.
func (s *Schema) EventByDiscriminator(d Discriminator) (*Event, bool) {
	ev, ok := s.eventsByDisc[d]
	return ev, ok
}

// AccountByDiscriminator returns the account layout matching an 8-byte tag.
func (s *Schema) AccountByDiscriminator(d Discriminator) (*Account, bool) {
	acc, ok := s.accountsByDisc[d]
	return acc, ok
}

// Instructions returns the instruction definitions in document order.
func (s *Schema) Instructions() []*Instruction { return s.instructions }

// Accounts returns the account definitions in document order.
func (s *Schema) Accounts() []*Account { return s.accounts }

// Events returns the event definitions in document order.
func (s *Schema) Events() []*Event { return s.events }
