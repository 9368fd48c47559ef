package taskdef

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Rendering
// =============================================================================

// RenderInputs are the values overlaid onto a template to produce the final
// registrable document. Empty fields keep whatever the template already has.
type RenderInputs struct {
	Family           string
	Image            string
	CPU              string
	Memory           string
	ExecutionRoleARN string
	TaskRoleARN      string

	// Environment and Secrets are merged into the first container: existing
	// entries with the same name are overridden in place, new entries are
	// appended in the given order.
	Environment []KeyValue
	Secrets     []SecretRef

	LogGroup        string
	LogRegion       string
	LogStreamPrefix string
}

// Render merges the inputs into a copy of the template. The template itself
// is never mutated. The overlay targets the first container; additional
// containers pass through untouched.
func Render(template *Definition, in RenderInputs) (*Definition, error) {
	if err := Validate(template); err != nil {
		return nil, err
	}

	def := copyDefinition(template)

	if in.Family != "" {
		def.Family = in.Family
	}
	if in.CPU != "" {
		def.CPU = in.CPU
	}
	if in.Memory != "" {
		def.Memory = in.Memory
	}
	if in.ExecutionRoleARN != "" {
		def.ExecutionRoleARN = in.ExecutionRoleARN
	}
	if in.TaskRoleARN != "" {
		def.TaskRoleARN = in.TaskRoleARN
	}

	container := &def.ContainerDefinitions[0]
	if in.Image != "" {
		container.Image = in.Image
	}
	container.Environment = mergeEnv(container.Environment, in.Environment)
	container.Secrets = mergeSecrets(container.Secrets, in.Secrets)

	if in.LogGroup != "" {
		if container.LogConfiguration == nil {
			container.LogConfiguration = &LogConfig{LogDriver: "awslogs"}
		}
		if container.LogConfiguration.Options == nil {
			container.LogConfiguration.Options = map[string]string{}
		}
		opts := container.LogConfiguration.Options
		opts["awslogs-group"] = in.LogGroup
		opts["awslogs-region"] = in.LogRegion
		opts["awslogs-stream-prefix"] = in.LogStreamPrefix
	}

	return def, nil
}

func mergeEnv(base, overlay []KeyValue) []KeyValue {
	merged := append([]KeyValue(nil), base...)
	for _, kv := range overlay {
		replaced := false
		for i := range merged {
			if merged[i].Name == kv.Name {
				merged[i] = kv
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, kv)
		}
	}
	return merged
}

func mergeSecrets(base, overlay []SecretRef) []SecretRef {
	merged := append([]SecretRef(nil), base...)
	for _, s := range overlay {
		replaced := false
		for i := range merged {
			if merged[i].Name == s.Name {
				merged[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, s)
		}
	}
	return merged
}

func copyDefinition(def *Definition) *Definition {
	out := *def
	out.RequiresCompatibilities = append([]string(nil), def.RequiresCompatibilities...)
	out.ContainerDefinitions = make([]Container, len(def.ContainerDefinitions))
	for i, c := range def.ContainerDefinitions {
		cc := c
		cc.EntryPoint = append([]string(nil), c.EntryPoint...)
		cc.Command = append([]string(nil), c.Command...)
		cc.Environment = append([]KeyValue(nil), c.Environment...)
		cc.Secrets = append([]SecretRef(nil), c.Secrets...)
		if c.Essential != nil {
			essential := *c.Essential
			cc.Essential = &essential
		}
		if c.LogConfiguration != nil {
			lc := *c.LogConfiguration
			lc.Options = make(map[string]string, len(c.LogConfiguration.Options))
			for k, v := range c.LogConfiguration.Options {
				lc.Options[k] = v
			}
			cc.LogConfiguration = &lc
		}
		out.ContainerDefinitions[i] = cc
	}
	return &out
}

// JSON renders the definition as the artifact written next to a deployment,
// indented the way the registration API echoes documents back.
func JSON(def *Definition) ([]byte, error) {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task definition: %w", err)
	}
	return append(data, '\n'), nil
}
