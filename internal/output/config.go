package output

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// #region assignments
// Assignment binds one output to the surrogate id that predicts it.
type Assignment struct {
	Output string
	Model  string
}

// Assignments is the output_models mapping in declaration order. Order
// matters to the sequential manager, where later outputs may read earlier
// samples.
type Assignments []Assignment

// UnmarshalYAML reads a mapping while keeping its key order.
func (a *Assignments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: output_models must be a mapping", node.Line)
	}
	out := make(Assignments, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name, model string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&model); err != nil {
			return fmt.Errorf("output %s: %w", name, err)
		}
		if seen[name] {
			return fmt.Errorf("line %d: duplicate output %q", node.Content[i].Line, name)
		}
		seen[name] = true
		out = append(out, Assignment{Output: name, Model: model})
	}
	*a = out
	return nil
}

// MarshalYAML writes the assignments back as an ordered mapping.
func (a Assignments) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, as := range a {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: as.Output},
			&yaml.Node{Kind: yaml.ScalarNode, Value: as.Model},
		)
	}
	return node, nil
}

// Names lists the outputs in declaration order.
func (a Assignments) Names() []string {
	out := make([]string, len(a))
	for i, as := range a {
		out[i] = as.Output
	}
	return out
}

// Model returns the surrogate id bound to output.
func (a Assignments) Model(output string) (string, bool) {
	for _, as := range a {
		if as.Output == output {
			return as.Model, true
		}
	}
	return "", false
}

// Clone copies the slice.
func (a Assignments) Clone() Assignments {
	return append(Assignments(nil), a...)
}

// #endregion assignments

// #region config
// Config is the output_setup section.
type Config struct {
	OutputModels         Assignments `yaml:"output_models" validate:"required,min=1"`
	OutputsAreLatent     bool        `yaml:"outputs_are_latent"`
	ObservationNoiseOnly bool        `yaml:"observation_noise_only"`
	PathToModels         string      `yaml:"path_to_models"`
}

// Clone deep-copies the configuration.
func (c Config) Clone() Config {
	out := c
	out.OutputModels = c.OutputModels.Clone()
	return out
}

// #endregion config
