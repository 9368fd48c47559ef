package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *DeploymentConfig {
	return &DeploymentConfig{
		Region:          "us-east-1",
		AccountID:       "123456789012",
		Repository:      "patient-pipeline",
		Family:          "patient-pipeline",
		Cluster:         "patient-pipeline",
		ContainerName:   "patient-pipeline",
		CPU:             "1024",
		Memory:          "2048",
		LogGroup:        "/ecs/patient-pipeline",
		LogStreamPrefix: "ecs",
		Subnets:         []string{"subnet-aaa111"},
		SecurityGroups:  []string{"sg-bbb222"},
		ExecutionRole:   "patient-pipeline-execution-role",
		TaskRole:        "patient-pipeline-task-role",
		SecretID:        "openai/api-key",
		SecretKey:       "OPENAI_API_KEY",
		Workload: WorkloadEnv{
			InputS3:   "s3://notes-in/batch.csv",
			OutputS3:  "s3://notes-out/scored.csv",
			EmailTo:   "oncall@example.com",
			EmailFrom: "reports@example.com",
			Threshold: "0.95",
		},
	}
}

// =============================================================================
// ValidateInfra Tests
// =============================================================================

func TestValidateInfra_AllKeysPresent(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.ValidateInfra())
}

func TestValidateInfra_MissingRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Region = ""

	err := cfg.ValidateInfra()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigMissing))

	var missing *MissingKeysError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "infrastructure", missing.Phase)
	assert.Contains(t, missing.Keys, "region")
}

func TestValidateInfra_CollectsAllMissing(t *testing.T) {
	cfg := &DeploymentConfig{}

	err := cfg.ValidateInfra()
	require.Error(t, err)

	var missing *MissingKeysError
	require.True(t, errors.As(err, &missing))
	assert.Len(t, missing.Keys, 9)
}

func TestValidateInfra_FullImageSatisfiesRepository(t *testing.T) {
	cfg := validConfig()
	cfg.Repository = ""
	cfg.Image = "123456789012.dkr.ecr.us-east-1.amazonaws.com/patient-pipeline:abc1234"

	assert.NoError(t, cfg.ValidateInfra())
}

func TestValidateInfra_IgnoresWorkloadKeys(t *testing.T) {
	cfg := validConfig()
	cfg.Workload = WorkloadEnv{}

	assert.NoError(t, cfg.ValidateInfra())
}

// =============================================================================
// ValidateWorkload Tests
// =============================================================================

func TestValidateWorkload_AllKeysPresent(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.ValidateWorkload())
}

func TestValidateWorkload_MissingInputAndRecipient(t *testing.T) {
	cfg := validConfig()
	cfg.Workload.InputS3 = ""
	cfg.Workload.EmailTo = ""

	err := cfg.ValidateWorkload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigMissing))

	var missing *MissingKeysError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "workload", missing.Phase)
	assert.Equal(t, []string{"workload input location", "notification recipient"}, missing.Keys)
}

// =============================================================================
// Derived Value Tests
// =============================================================================

func TestRegistryHost(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com", cfg.RegistryHost())
}

func TestRepositoryURI_BareName(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/patient-pipeline", cfg.RepositoryURI())
}

func TestRepositoryURI_AlreadyQualified(t *testing.T) {
	cfg := validConfig()
	cfg.Repository = "999999999999.dkr.ecr.eu-west-1.amazonaws.com/other-repo"
	assert.Equal(t, "999999999999.dkr.ecr.eu-west-1.amazonaws.com/other-repo", cfg.RepositoryURI())
}

func TestRepositoryName_StripsHost(t *testing.T) {
	cfg := validConfig()
	cfg.Repository = "999999999999.dkr.ecr.eu-west-1.amazonaws.com/other-repo"
	assert.Equal(t, "other-repo", cfg.RepositoryName())
}

func TestWorkloadEnvironment_RequiredOrder(t *testing.T) {
	cfg := validConfig()
	env := cfg.WorkloadEnvironment()

	require.GreaterOrEqual(t, len(env), 6)
	assert.Equal(t, EnvVar{Name: "AWS_REGION", Value: "us-east-1"}, env[0])
	assert.Equal(t, EnvVar{Name: "INPUT_S3", Value: "s3://notes-in/batch.csv"}, env[1])
	assert.Equal(t, EnvVar{Name: "THRESHOLD", Value: "0.95"}, env[5])
}

func TestWorkloadEnvironment_OmitsUnsetOptional(t *testing.T) {
	cfg := validConfig()
	env := cfg.WorkloadEnvironment()

	for _, v := range env {
		assert.NotEqual(t, "START_DATE", v.Name)
		assert.NotEqual(t, "AUDIT_BUCKET", v.Name)
	}
}

func TestWorkloadEnvironment_IncludesOptionalAndExtra(t *testing.T) {
	cfg := validConfig()
	cfg.Workload.StartDate = "2024-01-01"
	cfg.Workload.EndDate = "2024-01-07"
	cfg.Workload.Extra = []EnvVar{{Name: "LLM_DISABLED", Value: "true"}}

	env := cfg.WorkloadEnvironment()
	assert.Contains(t, env, EnvVar{Name: "START_DATE", Value: "2024-01-01"})
	assert.Contains(t, env, EnvVar{Name: "END_DATE", Value: "2024-01-07"})
	assert.Equal(t, EnvVar{Name: "LLM_DISABLED", Value: "true"}, env[len(env)-1])
}

// =============================================================================
// Bucket Parsing Tests
// =============================================================================

func TestBucketFromS3URI_WithKey(t *testing.T) {
	assert.Equal(t, "notes-in", BucketFromS3URI("s3://notes-in/batch.csv"))
}

func TestBucketFromS3URI_BucketOnly(t *testing.T) {
	assert.Equal(t, "notes-in", BucketFromS3URI("s3://notes-in"))
}

func TestBucketFromS3URI_NotS3(t *testing.T) {
	assert.Equal(t, "", BucketFromS3URI("/local/path.csv"))
	assert.Equal(t, "", BucketFromS3URI(""))
}

func TestAuditBucketName_FallsBackToOutput(t *testing.T) {
	w := WorkloadEnv{OutputS3: "s3://notes-out/scored.csv"}
	assert.Equal(t, "notes-out", w.AuditBucketName())

	w.AuditBucket = "audit-trail"
	assert.Equal(t, "audit-trail", w.AuditBucketName())
}
