package idl

// validate runs the load-time checks: every Defined reference resolves,
// discriminators are unique per namespace, and no Defined chain reaches
// itself without Option/Vec indirection.
func (s *Schema) validate() error {
	if err := s.checkReferences(); err != nil {
		return err
	}
	if err := s.checkDiscriminators(); err != nil {
		return err
	}
	return s.checkCycles()
}

func (s *Schema) checkReferences() error {
	check := func(owner string, fields []Field) error {
		for _, f := range fields {
			if err := s.checkTypeRef(owner, &f.Type); err != nil {
				return err
			}
		}
		return nil
	}
	for _, td := range s.types {
		switch {
		case td.Struct != nil:
			if err := check(td.Name, td.Struct.Fields); err != nil {
				return err
			}
		case td.Enum != nil:
			for _, v := range td.Enum.Variants {
				if err := check(td.Name, v.Fields); err != nil {
					return err
				}
			}
		}
	}
	for _, ins := range s.instructions {
		if err := check(ins.Name, ins.Args); err != nil {
			return err
		}
	}
	for _, acc := range s.accounts {
		if err := check(acc.Name, acc.Def.Fields); err != nil {
			return err
		}
	}
	for _, ev := range s.events {
		if err := check(ev.Name, ev.Def.Fields); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) checkTypeRef(owner string, t *TypeRef) error {
	switch t.Kind {
	case KindArray, KindVec, KindOption:
		return s.checkTypeRef(owner, t.Inner)
	case KindDefined:
		if _, ok := s.typesByName[t.Name]; !ok {
			return schemaErr(ErrUnknownReference, owner, "defined type %q does not resolve", t.Name)
		}
	}
	return nil
}

// checkDiscriminators enforces uniqueness independently per namespace:
// instructions, accounts, and events each have their own tag space.
func (s *Schema) checkDiscriminators() error {
	seen := make(map[Discriminator]string, len(s.instructions))
	for _, ins := range s.instructions {
		if prev, dup := seen[ins.Discriminator]; dup {
			return schemaErr(ErrDuplicateDiscriminator, ins.Name, "instruction shares discriminator with %q", prev)
		}
		seen[ins.Discriminator] = ins.Name
	}
	seen = make(map[Discriminator]string, len(s.accounts))
	for _, acc := range s.accounts {
		if prev, dup := seen[acc.Discriminator]; dup {
			return schemaErr(ErrDuplicateDiscriminator, acc.Name, "account shares discriminator with %q", prev)
		}
		seen[acc.Discriminator] = acc.Name
	}
	seen = make(map[Discriminator]string, len(s.events))
	for _, ev := range s.events {
		if prev, dup := seen[ev.Discriminator]; dup {
			return schemaErr(ErrDuplicateDiscriminator, ev.Name, "event shares discriminator with %q", prev)
		}
		seen[ev.Discriminator] = ev.Name
	}
	return nil
}

// checkCycles walks the Defined graph depth-first with a visiting set.
// Edges pass through struct fields, enum variant fields, and fixed arrays;
// Option and Vec break the edge because they are length-indirect on the
// wire and a value can terminate the recursion.
func (s *Schema) checkCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(s.types))

	var visitType func(name string) error
	var visitRef func(owner string, t *TypeRef) error

	visitRef = func(owner string, t *TypeRef) error {
		switch t.Kind {
		case KindArray:
			return visitRef(owner, t.Inner)
		case KindVec, KindOption:
			return nil
		case KindDefined:
			return visitType(t.Name)
		}
		return nil
	}

	visitType = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return schemaErr(ErrDirectCycle, name, "type refers to itself without option/vec indirection")
		}
		state[name] = visiting
		td := s.typesByName[name]
		if td != nil {
			var fields []Field
			if td.Struct != nil {
				fields = td.Struct.Fields
			}
			if td.Enum != nil {
				for _, v := range td.Enum.Variants {
					fields = append(fields, v.Fields...)
				}
			}
			for _, f := range fields {
				if err := visitRef(name, &f.Type); err != nil {
					return err
				}
			}
		}
		state[name] = done
		return nil
	}

	for _, td := range s.types {
		if err := visitType(td.Name); err != nil {
			return err
		}
	}
	return nil
}
