package taskdef

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Task Definition Types
// =============================================================================

// Definition mirrors the registrable task-definition document. Field names
// follow the platform's wire format so templates written as raw JSON for the
// platform work unchanged; YAML templates use the same camelCase keys.
type Definition struct {
	Family                  string      `json:"family" yaml:"family"`
	CPU                     string      `json:"cpu" yaml:"cpu"`
	Memory                  string      `json:"memory" yaml:"memory"`
	NetworkMode             string      `json:"networkMode" yaml:"networkMode"`
	RequiresCompatibilities []string    `json:"requiresCompatibilities" yaml:"requiresCompatibilities"`
	ExecutionRoleARN        string      `json:"executionRoleArn,omitempty" yaml:"executionRoleArn,omitempty"`
	TaskRoleARN             string      `json:"taskRoleArn,omitempty" yaml:"taskRoleArn,omitempty"`
	ContainerDefinitions    []Container `json:"containerDefinitions" yaml:"containerDefinitions"`
}

// Container is one container entry of a task definition.
type Container struct {
	Name             string      `json:"name" yaml:"name"`
	Image            string      `json:"image" yaml:"image"`
	Essential        *bool       `json:"essential,omitempty" yaml:"essential,omitempty"`
	EntryPoint       []string    `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
	Command          []string    `json:"command,omitempty" yaml:"command,omitempty"`
	Environment      []KeyValue  `json:"environment,omitempty" yaml:"environment,omitempty"`
	Secrets          []SecretRef `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	LogConfiguration *LogConfig  `json:"logConfiguration,omitempty" yaml:"logConfiguration,omitempty"`
}

// KeyValue is one environment pair.
type KeyValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// SecretRef injects a secret value under an environment name.
type SecretRef struct {
	Name      string `json:"name" yaml:"name"`
	ValueFrom string `json:"valueFrom" yaml:"valueFrom"`
}

// LogConfig configures the container's log driver.
type LogConfig struct {
	LogDriver string            `json:"logDriver" yaml:"logDriver"`
	Options   map[string]string `json:"options" yaml:"options"`
}

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes a template document. The name is used only to pick the
// syntax: .yaml/.yml parse as YAML, everything else as JSON.
func Parse(data []byte, name string) (*Definition, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTemplate
	}

	var def Definition
	if isYAMLName(name) {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		return &def, nil
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &def, nil
}

func isYAMLName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the built-in Fargate template used when no template file
// is configured: one essential container, awsvpc networking, modest
// CPU/memory that the renderer can override.
func Default(family, containerName string) *Definition {
	essential := true
	return &Definition{
		Family:                  family,
		CPU:                     "1024",
		Memory:                  "2048",
		NetworkMode:             "awsvpc",
		RequiresCompatibilities: []string{"FARGATE"},
		ContainerDefinitions: []Container{
			{
				Name:      containerName,
				Image:     "placeholder:latest",
				Essential: &essential,
			},
		},
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the structural requirements a Fargate registration
// enforces. All problems are collected into a single error.
func Validate(def *Definition) error {
	var problems []string

	fargate := false
	for _, c := range def.RequiresCompatibilities {
		if c == "FARGATE" {
			fargate = true
		}
	}
	if !fargate {
		problems = append(problems, "requiresCompatibilities must include FARGATE")
	}
	if def.NetworkMode != "awsvpc" {
		problems = append(problems, "networkMode must be awsvpc")
	}
	if def.CPU == "" {
		problems = append(problems, "cpu (string) must be set at task level")
	}
	if def.Memory == "" {
		problems = append(problems, "memory (string) must be set at task level")
	}
	if len(def.ContainerDefinitions) == 0 {
		problems = append(problems, "containerDefinitions must contain at least one container")
	}
	for i, c := range def.ContainerDefinitions {
		if c.Name == "" {
			problems = append(problems, fmt.Sprintf("containerDefinitions[%d] has no name", i))
		}
	}

	if len(problems) > 0 {
		return &TemplateError{Problems: problems}
	}
	return nil
}
