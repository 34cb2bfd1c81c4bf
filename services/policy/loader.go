package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/services"
	"gopkg.in/yaml.v3"
)

// Loader produces rule sets from an external source
type Loader interface {
	// Load reads the source and returns a validated rule set
	Load() (*RuleSet, error)

	// Source describes where rules are loaded from
	Source() string
}

// FileLoader loads a policy document from a JSON or YAML file
type FileLoader struct {
	path  string
	clock clock.Clock
}

// NewFileLoader creates a FileLoader for path. Rule sets are stamped
// from clk; nil uses the real clock.
func NewFileLoader(path string, clk clock.Clock) *FileLoader {
	if clk == nil {
		clk = clock.Real()
	}
	return &FileLoader{path: path, clock: clk}
}

// Source returns the file path
func (l *FileLoader) Source() string {
	return l.path
}

// Load reads and parses the policy file.
// An unreadable file is a configuration error; a readable file with
// invalid content is a structural error.
func (l *FileLoader) Load() (*RuleSet, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration,
			"policy rule set source is unreadable", err).
			WithDetail("path", l.path)
	}

	doc, err := ParseDocument(data, formatFromPath(l.path))
	if err != nil {
		return nil, err
	}

	return NewRuleSet(doc.Rules, l.path, l.clock.Now())
}

// Document formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseDocument decodes a policy document.
// Unknown fields are rejected so typos in rule keys do not silently widen rules.
func ParseDocument(data []byte, format string) (*models.PolicyDocument, error) {
	var doc models.PolicyDocument

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, services.WrapStructural("failed to parse YAML policy document", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, services.WrapStructural("failed to parse JSON policy document", err)
		}
	}

	if doc.Rules == nil {
		return nil, services.NewDomainError(services.ErrorTypeStructural,
			"policy document has no rules key", nil)
	}
	return &doc, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// StaticLoader returns a fixed rule set. Useful for embedding rules in code.
type StaticLoader struct {
	rules []models.PolicyRule
	clock clock.Clock
}

// NewStaticLoader creates a StaticLoader
func NewStaticLoader(rules ...models.PolicyRule) *StaticLoader {
	return &StaticLoader{rules: rules, clock: clock.Real()}
}

// WithClock sets the clock used to stamp loaded rule sets
func (l *StaticLoader) WithClock(clk clock.Clock) *StaticLoader {
	l.clock = clk
	return l
}

// Source returns "static"
func (l *StaticLoader) Source() string {
	return "static"
}

// Load builds a rule set from the static rules
func (l *StaticLoader) Load() (*RuleSet, error) {
	rs, err := NewRuleSet(l.rules, l.Source(), l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("static rules: %w", err)
	}
	return rs, nil
}
