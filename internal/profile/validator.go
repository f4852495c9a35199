package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/efeuentertainment/vigiclient/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
)

//go:embed schema/robot-profile-v1.json
var robotProfileSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("robot-profile-v1.json",
		strings.NewReader(robotProfileSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("robot-profile-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDocument checks raw JSON against the profile schema.
func (v *Validator) ValidateDocument(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateProfile checks the constraints the schema cannot express.
// Output wiring is checked by the mixer against the real backends.
func (v *Validator) ValidateProfile(p *types.Profile) error {
	var errs error

	banks := []struct {
		name string
		ds   []types.CommandDescriptor
	}{
		{"commands16", p.Commands16},
		{"commands8", p.Commands8},
	}
	for _, b := range banks {
		for i, d := range b.ds {
			if d.Max <= d.Min {
				errs = multierr.Append(errs, fmt.Errorf("%s[%d] %s: scale_max must exceed scale_min", b.name, i, d.Name))
				continue
			}
			if d.Init < d.Min || d.Init > d.Max {
				errs = multierr.Append(errs, fmt.Errorf("%s[%d] %s: init %g outside [%g, %g]", b.name, i, d.Name, d.Init, d.Min, d.Max))
			}
		}
	}
	for i, d := range p.Commands1 {
		if d.Init != 0 && d.Init != 1 {
			errs = multierr.Append(errs, fmt.Errorf("commands1[%d] %s: init must be 0 or 1", i, d.Name))
		}
	}

	slots := []struct {
		name string
		ds   []types.SlotDescriptor
	}{
		{"values32", p.Values32},
		{"values16", p.Values16},
		{"values8", p.Values8},
	}
	for _, s := range slots {
		for i, d := range s.ds {
			if d.Max <= d.Min {
				errs = multierr.Append(errs, fmt.Errorf("%s[%d] %s: scale_max must exceed scale_min", s.name, i, d.Name))
			}
		}
	}

	names := make(map[string]bool)
	for i, o := range p.Outputs {
		if names[o.Name] {
			errs = multierr.Append(errs, fmt.Errorf("outputs[%d]: duplicate name %s", i, o.Name))
		}
		names[o.Name] = true
	}

	return errs
}
