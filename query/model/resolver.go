package model

import "strings"

// ColumnInfo maps a property path to one physical column.
type ColumnInfo struct {
	// VisitedProperties is the path from the root type down to the property owning the column,
	// excluding DefinitionProperty. It is empty for a plain scalar property.
	VisitedProperties []*PropertyDescriptor
	// DefinitionProperty is the scalar property that finally defines the column's value.
	DefinitionProperty *PropertyDescriptor
	ColumnName         string
	// ForeignType is the type owning DefinitionProperty when it differs from the root type.
	ForeignType *TypeDescriptor
}

// Path returns the full property path including the definition property.
func (c ColumnInfo) Path() []*PropertyDescriptor {
	path := make([]*PropertyDescriptor, 0, len(c.VisitedProperties)+1)
	path = append(path, c.VisitedProperties...)
	return append(path, c.DefinitionProperty)
}

// PathString renders the property path as dotted names.
func (c ColumnInfo) PathString() string {
	names := make([]string, 0, len(c.VisitedProperties)+1)
	for _, p := range c.Path() {
		names = append(names, p.Name)
	}
	return strings.Join(names, ".")
}

// ColumnInfos returns the columns of every property of t in declaration order.
// Entity-kind properties expand into the referenced type's primary key columns.
func ColumnInfos(t *TypeDescriptor) []ColumnInfo {
	var out []ColumnInfo
	for _, p := range t.Properties {
		out = append(out, PropertyColumns(p)...)
	}
	return out
}

// PrimaryKeyColumns returns the flattened primary key columns of t.
func PrimaryKeyColumns(t *TypeDescriptor) []ColumnInfo {
	var out []ColumnInfo
	for _, p := range t.PrimaryKey() {
		out = append(out, PropertyColumns(p)...)
	}
	return out
}

// PropertyColumns returns the columns one property persists as. A scalar property yields one
// column; an entity reference yields one column per (recursively flattened) key of the target.
func PropertyColumns(p *PropertyDescriptor) []ColumnInfo {
	return expand(nil, "", p)
}

func expand(visited []*PropertyDescriptor, prefix string, p *PropertyDescriptor) []ColumnInfo {
	if !p.IsEntity() {
		var foreign *TypeDescriptor
		if len(visited) > 0 {
			foreign = p.owner
		}
		return []ColumnInfo{{
			VisitedProperties:  visited,
			DefinitionProperty: p,
			ColumnName:         prefix + p.Column,
			ForeignType:        foreign,
		}}
	}

	path := make([]*PropertyDescriptor, len(visited)+1)
	copy(path, visited)
	path[len(visited)] = p

	var out []ColumnInfo
	for _, key := range p.related.PrimaryKey() {
		out = append(out, expand(path, prefix+p.Column, key)...)
	}
	return out
}
