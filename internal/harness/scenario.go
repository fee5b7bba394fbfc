package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ildecomp/internal/optimize"
)

// Scenario defines a decompilation test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Assembly is the path to the CUE assembly fixture.
	// Relative paths are resolved against the scenario file's directory.
	Assembly string `yaml:"assembly"`

	// Methods restricts the run to these "Type::Name" methods, in this
	// order. Empty means every method with a body, in declaration order.
	Methods []string `yaml:"methods,omitempty"`

	// Options configures the decompiler.
	Options ScenarioOptions `yaml:"options,omitempty"`

	// Golden compares the full rendering with testdata/golden/{name}.golden.
	Golden bool `yaml:"golden,omitempty"`

	// Assertions validate individual methods.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioOptions mirrors the CLI decompile flags.
type ScenarioOptions struct {
	// Until is a pipeline step name; empty runs every step.
	Until string `yaml:"until,omitempty"`

	// NoYield disables iterator reversal.
	NoYield bool `yaml:"no_yield,omitempty"`
}

// Assertion validates one method of the run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "contains": Body contains Text
	// - "not_contains": Body does not contain Text
	// - "count": Text occurs exactly Count times in Body
	// - "decodes": the method decoded
	// - "fails": the method failed with Code
	Type string `yaml:"type"`

	// Method is the "Type::Name" of the method under test.
	Method string `yaml:"method"`

	// Text is the substring searched for (contains, not_contains, count).
	Text string `yaml:"text,omitempty"`

	// Count is the expected number of occurrences (count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected decoding error code (fails).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertContains    = "contains"
	AssertNotContains = "not_contains"
	AssertCount       = "count"
	AssertDecodes     = "decodes"
	AssertFails       = "fails"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the assembly path BEFORE validation
	if scenario.Assembly != "" && !filepath.IsAbs(scenario.Assembly) {
		scenario.Assembly = filepath.Join(filepath.Dir(path), scenario.Assembly)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Assembly == "" {
		return fmt.Errorf("assembly is required")
	}
	if _, err := os.Stat(s.Assembly); os.IsNotExist(err) {
		return fmt.Errorf("assembly file not found: %s", s.Assembly)
	}

	if s.Options.Until != "" {
		if _, err := optimize.ParseStep(s.Options.Until); err != nil {
			return fmt.Errorf("options.until: %w", err)
		}
	}

	if len(s.Assertions) == 0 && !s.Golden {
		return fmt.Errorf("assertions list is required unless golden is set")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Method == "" {
		return fmt.Errorf("assertions[%d]: method is required", index)
	}

	switch a.Type {
	case AssertContains, AssertNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertCount:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertDecodes:
	case AssertFails:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for fails", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
