package taskdef

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderInputs() RenderInputs {
	return RenderInputs{
		Family:           "patient-pipeline",
		Image:            "123456789012.dkr.ecr.us-east-1.amazonaws.com/patient-pipeline:4f2a91c",
		CPU:              "2048",
		Memory:           "4096",
		ExecutionRoleARN: "arn:aws:iam::123456789012:role/patient-pipeline-execution-role",
		TaskRoleARN:      "arn:aws:iam::123456789012:role/patient-pipeline-task-role",
		Environment: []KeyValue{
			{Name: "INPUT_S3", Value: "s3://notes-in/batch.csv"},
			{Name: "LLM_DISABLED", Value: "true"},
		},
		Secrets: []SecretRef{
			{Name: "OPENAI_API_KEY", ValueFrom: "arn:aws:secretsmanager:us-east-1:123456789012:secret:openai/api-key-AbCdEf:OPENAI_API_KEY::"},
		},
		LogGroup:        "/ecs/patient-pipeline",
		LogRegion:       "us-east-1",
		LogStreamPrefix: "ecs",
	}
}

func TestRender_OverlaysImageAndRoles(t *testing.T) {
	template, err := Parse([]byte(jsonTemplate), "template.json")
	require.NoError(t, err)

	def, err := Render(template, renderInputs())
	require.NoError(t, err)

	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/patient-pipeline:4f2a91c", def.ContainerDefinitions[0].Image)
	assert.Equal(t, "arn:aws:iam::123456789012:role/patient-pipeline-execution-role", def.ExecutionRoleARN)
	assert.Equal(t, "arn:aws:iam::123456789012:role/patient-pipeline-task-role", def.TaskRoleARN)
	assert.Equal(t, "2048", def.CPU)
	assert.Equal(t, "4096", def.Memory)
}

func TestRender_MergesEnvironmentStably(t *testing.T) {
	template, err := Parse([]byte(jsonTemplate), "template.json")
	require.NoError(t, err)

	def, err := Render(template, renderInputs())
	require.NoError(t, err)

	env := def.ContainerDefinitions[0].Environment
	require.Len(t, env, 2)
	// Template entry overridden in place, new entry appended after it.
	assert.Equal(t, KeyValue{Name: "LLM_DISABLED", Value: "true"}, env[0])
	assert.Equal(t, KeyValue{Name: "INPUT_S3", Value: "s3://notes-in/batch.csv"}, env[1])
}

func TestRender_InjectsSecrets(t *testing.T) {
	template, err := Parse([]byte(jsonTemplate), "template.json")
	require.NoError(t, err)

	def, err := Render(template, renderInputs())
	require.NoError(t, err)

	secrets := def.ContainerDefinitions[0].Secrets
	require.Len(t, secrets, 1)
	assert.Equal(t, "OPENAI_API_KEY", secrets[0].Name)
	assert.Contains(t, secrets[0].ValueFrom, ":OPENAI_API_KEY::")
}

func TestRender_BuildsLogConfiguration(t *testing.T) {
	template, err := Parse([]byte(jsonTemplate), "template.json")
	require.NoError(t, err)

	def, err := Render(template, renderInputs())
	require.NoError(t, err)

	lc := def.ContainerDefinitions[0].LogConfiguration
	require.NotNil(t, lc)
	assert.Equal(t, "awslogs", lc.LogDriver)
	assert.Equal(t, "/ecs/patient-pipeline", lc.Options["awslogs-group"])
	assert.Equal(t, "us-east-1", lc.Options["awslogs-region"])
	assert.Equal(t, "ecs", lc.Options["awslogs-stream-prefix"])
}

func TestRender_PreservesTemplateLogOptions(t *testing.T) {
	template := Default("patient-pipeline", "patient-pipeline")
	template.ContainerDefinitions[0].LogConfiguration = &LogConfig{
		LogDriver: "awslogs",
		Options:   map[string]string{"mode": "non-blocking"},
	}

	def, err := Render(template, renderInputs())
	require.NoError(t, err)

	lc := def.ContainerDefinitions[0].LogConfiguration
	assert.Equal(t, "non-blocking", lc.Options["mode"])
	assert.Equal(t, "/ecs/patient-pipeline", lc.Options["awslogs-group"])
}

func TestRender_DoesNotMutateTemplate(t *testing.T) {
	template, err := Parse([]byte(jsonTemplate), "template.json")
	require.NoError(t, err)

	_, err = Render(template, renderInputs())
	require.NoError(t, err)

	assert.Equal(t, "placeholder:latest", template.ContainerDefinitions[0].Image)
	assert.Equal(t, "1024", template.CPU)
	assert.Len(t, template.ContainerDefinitions[0].Environment, 1)
	assert.Empty(t, template.ContainerDefinitions[0].Secrets)
	assert.Nil(t, template.ContainerDefinitions[0].LogConfiguration)
}

func TestRender_EmptyInputsKeepTemplateValues(t *testing.T) {
	template := Default("patient-pipeline", "patient-pipeline")
	template.ExecutionRoleARN = "arn:aws:iam::123456789012:role/preset"

	def, err := Render(template, RenderInputs{})
	require.NoError(t, err)

	assert.Equal(t, "patient-pipeline", def.Family)
	assert.Equal(t, "1024", def.CPU)
	assert.Equal(t, "arn:aws:iam::123456789012:role/preset", def.ExecutionRoleARN)
	assert.Nil(t, def.ContainerDefinitions[0].LogConfiguration)
}

func TestRender_RejectsInvalidTemplate(t *testing.T) {
	template := &Definition{NetworkMode: "bridge"}

	_, err := Render(template, renderInputs())
	assert.True(t, errors.Is(err, ErrTemplateInvalid))
}

func TestJSON_IndentedArtifact(t *testing.T) {
	def := Default("patient-pipeline", "patient-pipeline")

	data, err := JSON(def)
	require.NoError(t, err)

	assert.Contains(t, string(data), "\"family\": \"patient-pipeline\"")
	assert.Contains(t, string(data), "  \"cpu\": \"1024\"")
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
