package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step categories select the deployment error reported when a required
// custom step fails.
const (
	CategoryBuild       = "build"
	CategoryTests       = "tests"
	CategoryDeploy      = "deploy"
	CategoryHealthCheck = "health_check"
)

// StepSpec is one configured custom (or rollback) step. Exactly one of
// Command, Artisan and Task is set.
type StepSpec struct {
	Name       string            `yaml:"-"`
	Command    interface{}       `yaml:"command"` // string or list
	Artisan    string            `yaml:"artisan"`
	Task       string            `yaml:"task"`
	Parameters map[string]string `yaml:"parameters"`
	Timeout    int               `yaml:"timeout"` // seconds
	Required   bool              `yaml:"required"`
	Category   string            `yaml:"category"`
}

// TimeoutSeconds returns the configured timeout or the default.
func (s StepSpec) TimeoutSeconds() int {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStepTimeout
}

// Steps keeps custom steps in the order they appear in the file, which a
// plain map would lose.
type Steps []StepSpec

func (s *Steps) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*s = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: steps must be a mapping of name to step", node.Line)
	}

	steps := make(Steps, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: duplicate step %q", key.Line, key.Value)
		}
		seen[key.Value] = true

		var spec StepSpec
		if err := value.Decode(&spec); err != nil {
			return fmt.Errorf("step %q: %w", key.Value, err)
		}
		spec.Name = key.Value
		steps = append(steps, spec)
	}

	*s = steps
	return nil
}

// Names returns step names in configured order.
func (s Steps) Names() []string {
	names := make([]string, len(s))
	for i, step := range s {
		names[i] = step.Name
	}
	return names
}
