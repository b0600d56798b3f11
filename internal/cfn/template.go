// Package cfn assembles CloudFormation templates in memory. Stages append
// resources to a shared Template, which is then marshaled to JSON for the
// deployment toolchain. Nothing in this package talks to AWS.
package cfn

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Resource is a single CloudFormation resource definition.
type Resource struct {
	Type       string         `json:"Type" yaml:"Type"`
	Properties map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
}

// Output is a CloudFormation stack output.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

// Template accumulates resources during stage construction. It is mutated
// only at definition time; once synthesized it is an immutable descriptor
// handed to the deployer.
type Template struct {
	Description string
	resources   map[string]Resource
	outputs     map[string]Output
}

// NewTemplate creates an empty template.
func NewTemplate(description string) *Template {
	return &Template{
		Description: description,
		resources:   map[string]Resource{},
		outputs:     map[string]Output{},
	}
}

// AddResource registers a resource under the given logical ID. Logical IDs
// must be unique within a template; a duplicate indicates two stages tried to
// own the same resource, which is a programming error.
func (t *Template) AddResource(logicalID string, r Resource) error {
	if _, ok := t.resources[logicalID]; ok {
		return fmt.Errorf("duplicate logical ID: %s", logicalID)
	}
	t.resources[logicalID] = r
	return nil
}

// MustAddResource is AddResource for construction paths where a duplicate ID
// means the stage itself is broken.
func (t *Template) MustAddResource(logicalID string, r Resource) {
	if err := t.AddResource(logicalID, r); err != nil {
		panic(err)
	}
}

// AddOutput registers a stack output.
func (t *Template) AddOutput(name string, o Output) {
	t.outputs[name] = o
}

// Resource returns the resource registered under logicalID, if any.
func (t *Template) Resource(logicalID string) (Resource, bool) {
	r, ok := t.resources[logicalID]
	return r, ok
}

// Resources returns the logical ID → resource map. Callers must not mutate it.
func (t *Template) Resources() map[string]Resource {
	return t.resources
}

type document struct {
	AWSTemplateFormatVersion string              `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string              `json:"Description,omitempty" yaml:"Description,omitempty"`
	Resources                map[string]Resource `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output   `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

func (t *Template) doc() document {
	return document{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              t.Description,
		Resources:                t.resources,
		Outputs:                  t.outputs,
	}
}

// MarshalJSON renders the template as a deployable CloudFormation document.
func (t *Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.doc())
}

// JSON renders the template as indented JSON for upload or inspection.
func (t *Template) JSON() ([]byte, error) {
	return json.MarshalIndent(t.doc(), "", "  ")
}

// YAML renders the template as YAML for human inspection.
func (t *Template) YAML() ([]byte, error) {
	return yaml.Marshal(t.doc())
}

// Ref returns a {"Ref": ...} intrinsic for the given logical ID.
func Ref(logicalID string) map[string]any {
	return map[string]any{"Ref": logicalID}
}

// GetAtt returns an {"Fn::GetAtt": ...} intrinsic.
func GetAtt(logicalID, attr string) map[string]any {
	return map[string]any{"Fn::GetAtt": []string{logicalID, attr}}
}

// Sub returns an {"Fn::Sub": ...} intrinsic.
func Sub(s string) map[string]any {
	return map[string]any{"Fn::Sub": s}
}

// LogicalID derives a CloudFormation logical ID from free-form name parts:
// alphanumeric only, each part title-cased at word boundaries.
// LogicalID("raw-ingest", "bucket") == "RawIngestBucket".
func LogicalID(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		upper := true
		for _, r := range part {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				upper = true
				continue
			}
			if upper {
				b.WriteRune(unicode.ToUpper(r))
				upper = false
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
