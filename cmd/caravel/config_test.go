package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "patient-pipeline", cfg.Task.Family)
	assert.Equal(t, "1024", cfg.Task.CPU)
	assert.Equal(t, "2048", cfg.Task.Memory)
	assert.Equal(t, ".", cfg.Image.ContextDir)
	assert.Equal(t, "Dockerfile", cfg.Image.Dockerfile)
	assert.Equal(t, "openai/api-key", cfg.Secret.ID)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Secret.Key)
	assert.Equal(t, "ecs", cfg.Logs.StreamPrefix)
	assert.Equal(t, "0.95", cfg.Workload.Threshold)
	assert.Equal(t, "audit_logs", cfg.Workload.AuditPrefix)
	assert.Equal(t, "secret:", cfg.Workload.SecretPrefix)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "./caravel.db", cfg.Journal.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
aws:
  region: "eu-west-1"
  account_id: "123456789012"

task:
  family: "clinic-notes"
  cluster: "batch-jobs"

network:
  subnets:
    - "subnet-0a1b2c3d"
    - "subnet-4e5f6a7b"
  security_groups:
    - "sg-deadbeef"

workload:
  input_s3: "s3://clinic-inbox/batch.csv"
  output_s3: "s3://clinic-results/"
  email_to: "oncall@example.com"

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "123456789012", cfg.AWS.AccountID)
	assert.Equal(t, "clinic-notes", cfg.Task.Family)
	assert.Equal(t, "batch-jobs", cfg.Task.Cluster)
	assert.Equal(t, []string{"subnet-0a1b2c3d", "subnet-4e5f6a7b"}, cfg.Network.Subnets)
	assert.Equal(t, []string{"sg-deadbeef"}, cfg.Network.SecurityGroups)
	assert.Equal(t, "s3://clinic-inbox/batch.csv", cfg.Workload.InputS3)
	assert.Equal(t, "s3://clinic-results/", cfg.Workload.OutputS3)
	assert.Equal(t, "oncall@example.com", cfg.Workload.EmailTo)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CARAVEL_AWS_REGION", "ap-southeast-2")
	t.Setenv("CARAVEL_TASK_FAMILY", "clinic-notes")
	t.Setenv("CARAVEL_NETWORK_SUBNETS", "subnet-aaa,subnet-bbb")
	t.Setenv("CARAVEL_WORKLOAD_INPUT_S3", "s3://clinic-inbox/batch.csv")
	t.Setenv("CARAVEL_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast-2", cfg.AWS.Region)
	assert.Equal(t, "clinic-notes", cfg.Task.Family)
	assert.Equal(t, []string{"subnet-aaa", "subnet-bbb"}, cfg.Network.Subnets)
	assert.Equal(t, "s3://clinic-inbox/batch.csv", cfg.Workload.InputS3)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "patient-pipeline", cfg.Task.Family)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Deployment Config Mapping Tests
// =============================================================================

func TestToDeploymentConfig_FamilyCascade(t *testing.T) {
	cfg := &Config{
		AWS:  AWSConfig{Region: "us-east-1"},
		Task: TaskConfig{Family: "clinic-notes"},
	}

	dc := cfg.ToDeploymentConfig()

	assert.Equal(t, "clinic-notes", dc.Cluster)
	assert.Equal(t, "clinic-notes", dc.ContainerName)
	assert.Equal(t, "clinic-notes", dc.Repository)
	assert.Equal(t, "/ecs/clinic-notes", dc.LogGroup)
	assert.Equal(t, "clinic-notes-execution-role", dc.ExecutionRole)
	assert.Equal(t, "clinic-notes-task-role", dc.TaskRole)
}

func TestToDeploymentConfig_ExplicitValuesWin(t *testing.T) {
	cfg := &Config{
		Task: TaskConfig{
			Family:        "clinic-notes",
			Cluster:       "batch-jobs",
			ContainerName: "worker",
		},
		Image: ImageConfig{Repository: "shared/clinic-notes"},
		Logs:  LogsConfig{Group: "/custom/group"},
		Roles: RolesConfig{
			Execution: "arn:aws:iam::123456789012:role/platform-exec",
			Task:      "existing-task-role",
		},
	}

	dc := cfg.ToDeploymentConfig()

	assert.Equal(t, "batch-jobs", dc.Cluster)
	assert.Equal(t, "worker", dc.ContainerName)
	assert.Equal(t, "shared/clinic-notes", dc.Repository)
	assert.Equal(t, "/custom/group", dc.LogGroup)
	assert.Equal(t, "arn:aws:iam::123456789012:role/platform-exec", dc.ExecutionRole)
	assert.Equal(t, "existing-task-role", dc.TaskRole)
}

func TestToDeploymentConfig_WorkloadCarriedThrough(t *testing.T) {
	cfg := &Config{
		Task: TaskConfig{Family: "clinic-notes"},
		Workload: WorkloadConfig{
			InputS3:      "s3://clinic-inbox/batch.csv",
			OutputS3:     "s3://clinic-results/",
			EmailTo:      "oncall@example.com",
			EmailFrom:    "reports@example.com",
			Threshold:    "0.80",
			PhysicianIDs: "dr-1,dr-2",
			AuditBucket:  "clinic-audit",
			AuditPrefix:  "audit_logs",
		},
	}

	dc := cfg.ToDeploymentConfig()

	assert.Equal(t, "s3://clinic-inbox/batch.csv", dc.Workload.InputS3)
	assert.Equal(t, "s3://clinic-results/", dc.Workload.OutputS3)
	assert.Equal(t, "oncall@example.com", dc.Workload.EmailTo)
	assert.Equal(t, "reports@example.com", dc.Workload.EmailFrom)
	assert.Equal(t, "0.80", dc.Workload.Threshold)
	assert.Equal(t, "dr-1,dr-2", dc.Workload.PhysicianIDs)
	assert.Equal(t, "clinic-audit", dc.Workload.AuditBucket)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CARAVEL_AWS_REGION",
		"CARAVEL_AWS_ACCOUNT_ID",
		"CARAVEL_TASK_FAMILY",
		"CARAVEL_NETWORK_SUBNETS",
		"CARAVEL_WORKLOAD_INPUT_S3",
		"CARAVEL_LOG_LEVEL",
		"CARAVEL_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
