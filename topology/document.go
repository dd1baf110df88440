// Package topology describes simulation graphs in YAML documents.
package topology

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sarchlab/cyclesim/sim"
	"gopkg.in/yaml.v3"
)

// A Document is the description of a graph.
type Document struct {
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description,omitempty"`
	Components  []ComponentDoc  `yaml:"components" validate:"required,min=1,dive"`
	Connections []ConnectionDoc `yaml:"connections,omitempty" validate:"dive"`
}

// A ComponentDoc describes one component.
type ComponentDoc struct {
	ID        string         `yaml:"id" validate:"required"`
	Kind      string         `yaml:"kind" validate:"required"`
	Ports     []PortDoc      `yaml:"ports,omitempty" validate:"dive"`
	Addresses []AddressDoc   `yaml:"addresses,omitempty" validate:"dive"`
	Subscribe []string       `yaml:"subscribe,omitempty" validate:"dive,required"`
	Params    map[string]any `yaml:"params,omitempty"`
}

// A PortDoc describes a port.
type PortDoc struct {
	Name    string `yaml:"name" validate:"required"`
	Dir     string `yaml:"dir" validate:"oneof=in out"`
	Type    string `yaml:"type" validate:"required"`
	Default any    `yaml:"default,omitempty"`
}

// An AddressDoc describes a memory cell.
type AddressDoc struct {
	Address string `yaml:"address" validate:"required"`
	Type    string `yaml:"type" validate:"required"`
	Default any    `yaml:"default,omitempty"`
}

// A ConnectionDoc wires an output port to an input port. Both ends are
// written as "<component>.<port>".
type ConnectionDoc struct {
	From string `yaml:"from" validate:"required,contains=."`
	To   string `yaml:"to" validate:"required,contains=."`
}

// Load reads a document from a file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a document. Unknown fields are rejected.
func Parse(r io.Reader) (*Document, error) {
	var doc Document

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	return &doc, nil
}

// Validate checks the document without building it.
func (d *Document) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return err
	}

	ids := make(map[string]bool, len(d.Components))
	for _, c := range d.Components {
		if ids[c.ID] {
			return fmt.Errorf("component %s is declared twice", c.ID)
		}
		ids[c.ID] = true

		for _, p := range c.Ports {
			if _, err := sim.ParseType(p.Type); err != nil {
				return fmt.Errorf("port %s.%s: %w", c.ID, p.Name, err)
			}
		}

		for _, a := range c.Addresses {
			if _, err := sim.ParseType(a.Type); err != nil {
				return fmt.Errorf("address %s of %s: %w", a.Address, c.ID, err)
			}
		}
	}

	return nil
}

// Encode writes the document as YAML.
func (d *Document) Encode(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(d); err != nil {
		return err
	}

	return encoder.Close()
}

// ParseRef parses a port reference of the form component.port.
func ParseRef(s string) (sim.PortRef, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return sim.PortRef{}, fmt.Errorf("%q is not of the form component.port", s)
	}

	return sim.Ref(sim.ComponentID(s[:i]), s[i+1:]), nil
}

// valueOf converts a YAML scalar into a value of the given type.
func valueOf(t sim.Type, raw any) (sim.Value, error) {
	if raw == nil {
		return sim.ZeroOf(t), nil
	}

	switch t.Kind {
	case sim.KindInt:
		if v, ok := raw.(int); ok {
			return sim.Int(int64(v)), nil
		}
	case sim.KindFloat:
		switch v := raw.(type) {
		case float64:
			return sim.Float(v), nil
		case int:
			return sim.Float(float64(v)), nil
		}
	case sim.KindBool:
		if v, ok := raw.(bool); ok {
			return sim.Bool(v), nil
		}
	case sim.KindString:
		if v, ok := raw.(string); ok {
			return sim.String(v), nil
		}
	case sim.KindRecord:
		if fields, ok := raw.(map[string]any); ok {
			return recordOf(t, fields)
		}
	}

	return sim.Value{}, fmt.Errorf("%w: %v (%T) is not a %s",
		sim.ErrTypeMismatch, raw, raw, t)
}

func recordOf(t sim.Type, fields map[string]any) (sim.Value, error) {
	values := make(map[string]sim.Value, len(fields))
	for k, raw := range fields {
		var v sim.Value
		var err error

		switch raw.(type) {
		case int:
			v, err = valueOf(sim.IntType, raw)
		case float64:
			v, err = valueOf(sim.FloatType, raw)
		case bool:
			v, err = valueOf(sim.BoolType, raw)
		case string:
			v, err = valueOf(sim.StringType, raw)
		default:
			err = fmt.Errorf("field %s of %s: unsupported value %v", k, t, raw)
		}

		if err != nil {
			return sim.Value{}, err
		}
		values[k] = v
	}

	return sim.Record(t.Name, values), nil
}
