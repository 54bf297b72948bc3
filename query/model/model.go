// Package model describes persisted entity types and resolves property paths to physical columns.
package model

import (
	"errors"
	"fmt"
	"sort"
)

// Kind is the storage kind of a property.
type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindUUID   Kind = "uuid"
	// KindEntity marks a property that references another entity by its primary key.
	KindEntity Kind = "entity"
)

var (
	// ErrUnknownType is returned when a type name cannot be resolved
	ErrUnknownType = errors.New("unknown entity type")
	// ErrUnknownProperty is returned when a property name cannot be resolved
	ErrUnknownProperty = errors.New("unknown property")
	// ErrNoPrimaryKey is returned for types without a primary key
	ErrNoPrimaryKey = errors.New("entity type has no primary key")
	// ErrKeyCycle is returned when primary keys reference each other in a loop
	ErrKeyCycle = errors.New("primary key reference cycle")
)

// PropertyDescriptor describes one persisted property of an entity type.
type PropertyDescriptor struct {
	Name       string
	Column     string
	Kind       Kind
	PrimaryKey bool
	Nullable   bool
	// RelatedType names the referenced type when Kind is KindEntity.
	RelatedType string

	related *TypeDescriptor
	owner   *TypeDescriptor
}

// Related returns the referenced type of an entity-kind property.
func (p *PropertyDescriptor) Related() *TypeDescriptor { return p.related }

// Owner returns the declaring type.
func (p *PropertyDescriptor) Owner() *TypeDescriptor { return p.owner }

// IsEntity reports whether the property references another entity.
func (p *PropertyDescriptor) IsEntity() bool { return p.Kind == KindEntity }

// TypeDescriptor describes a persisted entity type.
type TypeDescriptor struct {
	Name       string
	Table      string
	Properties []*PropertyDescriptor
	// DefaultFilter is a lambda in chain syntax applied to every query of this type.
	DefaultFilter string

	byName map[string]*PropertyDescriptor
}

// Property looks up a property by name.
func (t *TypeDescriptor) Property(name string) (*PropertyDescriptor, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// PrimaryKey returns the primary key properties in declaration order.
func (t *TypeDescriptor) PrimaryKey() []*PropertyDescriptor {
	var keys []*PropertyDescriptor
	for _, p := range t.Properties {
		if p.PrimaryKey {
			keys = append(keys, p)
		}
	}
	return keys
}

// Model is a validated set of entity types.
type Model struct {
	types map[string]*TypeDescriptor
}

// New links and validates the given types.
func New(types ...*TypeDescriptor) (*Model, error) {
	m := &Model{types: make(map[string]*TypeDescriptor, len(types))}
	for _, t := range types {
		if _, dup := m.types[t.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		if t.Table == "" {
			t.Table = t.Name
		}
		t.byName = make(map[string]*PropertyDescriptor, len(t.Properties))
		for _, p := range t.Properties {
			if p.Column == "" {
				p.Column = p.Name
			}
			p.owner = t
			t.byName[p.Name] = p
		}
		m.types[t.Name] = t
	}
	for _, t := range types {
		for _, p := range t.Properties {
			if p.Kind != KindEntity {
				continue
			}
			rel, ok := m.types[p.RelatedType]
			if !ok {
				return nil, fmt.Errorf("%s.%s: %w %q", t.Name, p.Name, ErrUnknownType, p.RelatedType)
			}
			p.related = rel
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is like New but panics on error.
func MustNew(types ...*TypeDescriptor) *Model {
	m, err := New(types...)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate checks that every type has a primary key and that keys flatten to a finite column set.
func (m *Model) Validate() error {
	for _, t := range m.Types() {
		if len(t.PrimaryKey()) == 0 {
			return fmt.Errorf("%s: %w", t.Name, ErrNoPrimaryKey)
		}
		if err := checkKeyCycle(t, map[*TypeDescriptor]bool{}); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
	}
	return nil
}

func checkKeyCycle(t *TypeDescriptor, visiting map[*TypeDescriptor]bool) error {
	if visiting[t] {
		return ErrKeyCycle
	}
	visiting[t] = true
	defer delete(visiting, t)
	for _, k := range t.PrimaryKey() {
		if k.related != nil {
			if err := checkKeyCycle(k.related, visiting); err != nil {
				return err
			}
		}
	}
	return nil
}

// Type looks up an entity type by name.
func (m *Model) Type(name string) (*TypeDescriptor, error) {
	t, ok := m.types[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, name)
	}
	return t, nil
}

// Types returns all types sorted by name.
func (m *Model) Types() []*TypeDescriptor {
	out := make([]*TypeDescriptor, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
