// Package capability holds the static registry mapping (platform, function)
// pairs to handlers, sourced from a YAML descriptor document loaded once at
// startup. The registry is read-only after binding and safe for concurrent
// reads.
package capability

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlatformIO is reserved for loop control signals (continue/end). It never
// resolves to a handler; the orchestrator interprets it directly.
const PlatformIO = "io"

type ParamSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required,omitempty"`
	JSON        bool   `yaml:"json" json:"json,omitempty"` // value is a structured literal, not a scalar
}

type FunctionSpec struct {
	Name           string      `yaml:"name" json:"name"`
	Description    string      `yaml:"description" json:"description,omitempty"`
	Parameters     []ParamSpec `yaml:"parameters" json:"parameters,omitempty"`
	ProducesOutput bool        `yaml:"produces_output" json:"output"`
	Cacheable      bool        `yaml:"cacheable" json:"-"`
}

type PlatformSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Functions   []FunctionSpec `yaml:"functions" json:"functions"`
}

// Document is the capability descriptor document: everything the model is
// allowed to call, with the output flag that drives loop continuation.
type Document struct {
	Platforms []PlatformSpec `yaml:"platforms" json:"platforms"`
}

// LoadDocument reads and validates a descriptor document from a YAML file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
	}
	return ParseDocument(data)
}

// ParseDocument parses and validates a descriptor document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	seen := make(map[string]bool)
	for _, p := range d.Platforms {
		if p.Name == "" {
			return fmt.Errorf("descriptor: platform with empty name")
		}
		if p.Name == PlatformIO {
			return fmt.Errorf("descriptor: platform name %q is reserved", PlatformIO)
		}
		for _, f := range p.Functions {
			if f.Name == "" {
				return fmt.Errorf("descriptor: platform %q has function with empty name", p.Name)
			}
			key := p.Name + "." + f.Name
			if seen[key] {
				return fmt.Errorf("descriptor: duplicate function %s", key)
			}
			seen[key] = true
		}
	}
	return nil
}

// Find returns the function spec for (platform, function).
func (d *Document) Find(platform, function string) (FunctionSpec, bool) {
	for _, p := range d.Platforms {
		if p.Name != platform {
			continue
		}
		for _, f := range p.Functions {
			if f.Name == function {
				return f, true
			}
		}
	}
	return FunctionSpec{}, false
}

// PromptJSON renders the document as compact JSON for inclusion in the
// system prompt.
func (d *Document) PromptJSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("rendering descriptor: %w", err)
	}
	return string(data), nil
}
