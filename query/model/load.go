package model

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// File is the on-disk model description.
type File struct {
	Entities []EntityFile `yaml:"entities" toml:"entities"`
}

// EntityFile describes one entity type in a model file.
type EntityFile struct {
	Name          string         `yaml:"name" toml:"name"`
	Table         string         `yaml:"table" toml:"table"`
	DefaultFilter string         `yaml:"defaultFilter" toml:"defaultFilter"`
	Properties    []PropertyFile `yaml:"properties" toml:"properties"`
}

// PropertyFile describes one property. Type is a scalar kind or the name of another entity.
type PropertyFile struct {
	Name       string `yaml:"name" toml:"name"`
	Column     string `yaml:"column" toml:"column"`
	Type       string `yaml:"type" toml:"type"`
	PrimaryKey bool   `yaml:"primaryKey" toml:"primaryKey"`
	Nullable   bool   `yaml:"nullable" toml:"nullable"`
}

var scalarKinds = map[string]Kind{
	"int":    KindInt,
	"float":  KindFloat,
	"string": KindString,
	"bool":   KindBool,
	"time":   KindTime,
	"uuid":   KindUUID,
}

// LoadFile reads a YAML or TOML model, chosen by file extension.
func LoadFile(fs afero.Fs, path string) (*Model, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Parse(data, format)
}

// Parse decodes a model in the given format ("yaml", "yml" or "toml").
func Parse(data []byte, format string) (*Model, error) {
	var f File
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode yaml model: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("failed to decode toml model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported model format %q", format)
	}
	return f.Build()
}

// Build converts the file description into a linked Model.
func (f *File) Build() (*Model, error) {
	types := make([]*TypeDescriptor, 0, len(f.Entities))
	for _, e := range f.Entities {
		t := &TypeDescriptor{
			Name:          e.Name,
			Table:         e.Table,
			DefaultFilter: e.DefaultFilter,
		}
		for _, p := range e.Properties {
			prop := &PropertyDescriptor{
				Name:       p.Name,
				Column:     p.Column,
				PrimaryKey: p.PrimaryKey,
				Nullable:   p.Nullable,
			}
			if kind, ok := scalarKinds[strings.ToLower(p.Type)]; ok {
				prop.Kind = kind
			} else {
				prop.Kind = KindEntity
				prop.RelatedType = p.Type
			}
			t.Properties = append(t.Properties, prop)
		}
		types = append(types, t)
	}
	return New(types...)
}
