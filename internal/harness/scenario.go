package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: a topology, a set of tokens to
// inject, and assertions over the resulting event trail.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Topology is the workflow definition path, relative to the scenario
	// file's directory.
	Topology string `yaml:"topology"`

	// Tokens are injected in order at the topology's start node (or their
	// own start override).
	Tokens []TokenSpec `yaml:"tokens"`

	// Seed pins the RNG for reproducible delays and guards. Zero means
	// seed 1; scenarios are always seeded.
	Seed uint64 `yaml:"seed,omitempty"`

	// Assertions validate the final event trail.
	Assertions []Assertion `yaml:"assertions"`
}

// TokenSpec describes one injected token.
type TokenSpec struct {
	ID         int64          `yaml:"id"`
	Start      string         `yaml:"start,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// Assertion validates one property of the recorded trail.
type Assertion struct {
	// Type selects the check:
	//   - "event_count":  Event appears exactly Count times
	//   - "event_order":  Token's trail is exactly Events, in order
	//   - "continuation": Join fired with Continuation as survivor
	//   - "genealogy":    Parent forked exactly Children, in branch order
	//   - "complete":     Workflow family reached terminal state
	Type string `yaml:"type"`

	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	Token  int64    `yaml:"token,omitempty"`
	Events []string `yaml:"events,omitempty"`

	Join         string `yaml:"join,omitempty"`
	Continuation int64  `yaml:"continuation,omitempty"`

	Parent   int64   `yaml:"parent,omitempty"`
	Children []int64 `yaml:"children,omitempty"`

	Workflow int64 `yaml:"workflow,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount   = "event_count"
	AssertEventOrder   = "event_order"
	AssertContinuation = "continuation"
	AssertGenealogy    = "genealogy"
	AssertComplete     = "complete"
)

// LoadScenario reads and parses a scenario YAML file. The topology path is
// resolved relative to the scenario file's directory. Unknown fields are
// rejected, so a typo like "assertion:" fails loudly instead of silently
// skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if s.Topology != "" && !filepath.IsAbs(s.Topology) {
		s.Topology = filepath.Join(filepath.Dir(path), s.Topology)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Topology == "" {
		return fmt.Errorf("topology is required")
	}
	if _, err := os.Stat(s.Topology); os.IsNotExist(err) {
		return fmt.Errorf("topology file not found: %s", s.Topology)
	}
	if len(s.Tokens) == 0 {
		return fmt.Errorf("tokens list is required and must be non-empty")
	}
	for i, tok := range s.Tokens {
		if tok.ID <= 0 {
			return fmt.Errorf("tokens[%d]: id must be positive", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertEventOrder:
		if a.Token == 0 {
			return fmt.Errorf("assertions[%d]: token is required for event_order", index)
		}
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertContinuation:
		if a.Join == "" || a.Continuation == 0 {
			return fmt.Errorf("assertions[%d]: join and continuation are required", index)
		}
	case AssertGenealogy:
		if a.Parent == 0 || len(a.Children) == 0 {
			return fmt.Errorf("assertions[%d]: parent and children are required", index)
		}
	case AssertComplete:
		if a.Workflow == 0 {
			return fmt.Errorf("assertions[%d]: workflow is required for complete", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
