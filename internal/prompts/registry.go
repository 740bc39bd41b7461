// Package prompts holds the four role prompts driving the revision loop.
//
// A Registry is immutable once built. The default registry is compiled from
// the embedded roles.yaml; an operator may load an override file with the
// same layout.
package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Role names one of the model personas.
type Role string

const (
	SchemaFinder Role = "schema_finder"
	SQLWriter    Role = "sql_writer"
	SQLValidator Role = "sql_validator"
	SQLImprover  Role = "sql_improver"
)

// Roles lists every role in invocation order.
var Roles = []Role{SchemaFinder, SQLWriter, SQLValidator, SQLImprover}

// ErrUnknownRole is returned when rendering a role the registry does not hold.
var ErrUnknownRole = errors.New("unknown prompt role")

//go:embed roles.yaml
var defaultRoles []byte

// Vars are the values substituted into an instruction template.
type Vars struct {
	Schema   string
	Question string
	SQL      string
	Feedback string
}

type roleSpec struct {
	System         string `yaml:"system"`
	ExpectedOutput string `yaml:"expected_output"`
	Instruction    string `yaml:"instruction"`
}

type compiled struct {
	system      string
	expected    string
	instruction *template.Template
}

// Registry maps roles to compiled prompts.
type Registry struct {
	roles map[Role]compiled
}

// Default returns the registry built from the embedded prompts.
func Default() *Registry {
	r, err := Parse(defaultRoles)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return r
}

// Load reads a registry from a YAML file on disk.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return Parse(data)
}

// Parse compiles a registry from YAML. Every role must be present with a
// non-empty system prompt and instruction.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]roleSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}

	r := &Registry{roles: make(map[Role]compiled, len(Roles))}
	for _, role := range Roles {
		spec, ok := raw[string(role)]
		if !ok {
			return nil, fmt.Errorf("prompts: missing role %q", role)
		}
		if strings.TrimSpace(spec.System) == "" || strings.TrimSpace(spec.Instruction) == "" {
			return nil, fmt.Errorf("prompts: role %q needs system and instruction", role)
		}
		tmpl, err := template.New(string(role)).Option("missingkey=error").Parse(spec.Instruction)
		if err != nil {
			return nil, fmt.Errorf("prompts: role %q: %w", role, err)
		}
		r.roles[role] = compiled{
			system:      strings.TrimSpace(spec.System),
			expected:    strings.TrimSpace(spec.ExpectedOutput),
			instruction: tmpl,
		}
	}
	return r, nil
}

// Render produces the system and user prompt for a role.
func (r *Registry) Render(role Role, vars Vars) (system, user string, err error) {
	c, ok := r.roles[role]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	data := struct {
		Vars
		ExpectedOutput string
	}{Vars: vars, ExpectedOutput: c.expected}

	var buf bytes.Buffer
	if err := c.instruction.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s prompt: %w", role, err)
	}
	return c.system, strings.TrimSpace(buf.String()), nil
}

// System returns the system prompt of a role, or "" when unknown.
func (r *Registry) System(role Role) string {
	return r.roles[role].system
}
