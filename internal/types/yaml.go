package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan files are written by hand as often as by the planner, so the YAML
// forms accept human duration strings ("10s", "1m30s") alongside integer
// nanoseconds.

type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!str":
		parsed, err := time.ParseDuration(node.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", node.Value, err)
		}
		*d = yamlDuration(parsed)
	case "!!int":
		var ns int64
		if err := node.Decode(&ns); err != nil {
			return err
		}
		*d = yamlDuration(ns)
	default:
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	return nil
}

// UnmarshalYAML decodes a step, accepting duration strings for the timeout.
func (s *ActionStep) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID          ID             `yaml:"id"`
		Tool        string         `yaml:"tool"`
		Args        map[string]any `yaml:"args"`
		Timeout     yamlDuration   `yaml:"timeout"`
		MaxRetries  int            `yaml:"max_retries"`
		Risk        RiskLevel      `yaml:"risk"`
		Verify      *VerifySpec    `yaml:"verify"`
		Selector    *UISelector    `yaml:"selector"`
		Description string         `yaml:"description"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = ActionStep{
		ID:          raw.ID,
		Tool:        raw.Tool,
		Args:        raw.Args,
		Timeout:     time.Duration(raw.Timeout),
		MaxRetries:  raw.MaxRetries,
		Risk:        raw.Risk,
		Verify:      raw.Verify,
		Selector:    raw.Selector,
		Description: raw.Description,
	}
	return nil
}

// UnmarshalYAML decodes a verify spec, accepting duration strings for the
// poll timeout.
func (v *VerifySpec) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Type     VerifyType   `yaml:"type"`
		Expected string       `yaml:"expected"`
		Timeout  yamlDuration `yaml:"timeout"`
		Negate   bool         `yaml:"negate"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*v = VerifySpec{
		Type:     raw.Type,
		Expected: raw.Expected,
		Timeout:  time.Duration(raw.Timeout),
		Negate:   raw.Negate,
	}
	return nil
}

// UnmarshalYAML decodes a plan, accepting duration strings for the
// estimated duration.
func (p *ExecutionPlan) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ID                ID           `yaml:"id"`
		Task              string       `yaml:"task"`
		Steps             []ActionStep `yaml:"steps"`
		RequiresNetwork   bool         `yaml:"requires_network"`
		RequiresElevation bool         `yaml:"requires_elevation"`
		EstimatedDuration yamlDuration `yaml:"estimated_duration"`
		CreatedAt         time.Time    `yaml:"created_at"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = ExecutionPlan{
		ID:                raw.ID,
		Task:              raw.Task,
		Steps:             raw.Steps,
		RequiresNetwork:   raw.RequiresNetwork,
		RequiresElevation: raw.RequiresElevation,
		EstimatedDuration: time.Duration(raw.EstimatedDuration),
		CreatedAt:         raw.CreatedAt,
	}
	return nil
}
