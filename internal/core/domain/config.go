package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Deployment Configuration
// =============================================================================

// DeploymentConfig is the fully resolved configuration for one deployment run.
// It is built once at startup and treated as immutable afterwards. Unresolved
// cross-references (roles, subnets, image) are fatal, never retried.
type DeploymentConfig struct {
	Region    string
	AccountID string

	// Repository is the image repository name, created on demand. Image, when
	// set, is a full image reference and skips the publish phase entirely.
	Repository string
	Image      string

	Family        string
	Cluster       string
	ContainerName string
	CPU           string
	Memory        string

	LogGroup        string
	LogStreamPrefix string

	Subnets        []string
	SecurityGroups []string

	// ExecutionRole and TaskRole accept either a role name (reconciled by the
	// identity provisioner) or a full ARN (used as-is, reconciliation skipped).
	ExecutionRole string
	TaskRole      string

	SecretID  string
	SecretKey string

	// AssignPublicIP forces the public-IP decision when set to "ENABLED" or
	// "DISABLED". Empty means auto-detect from route tables.
	AssignPublicIP string

	Workload WorkloadEnv
}

// EnvVar is one environment pair passed to the workload container. Keys and
// values are opaque to the orchestrator.
type EnvVar struct {
	Name  string
	Value string
}

// WorkloadEnv holds the environment surface of the batch worker. The
// orchestrator passes these through without interpreting them, except to
// derive bucket names for policy composition.
type WorkloadEnv struct {
	InputS3      string
	OutputS3     string
	EmailTo      string
	EmailFrom    string
	Threshold    string
	StartDate    string
	EndDate      string
	PhysicianIDs string
	AuditBucket  string
	AuditPrefix  string
	Extra        []EnvVar
}

// =============================================================================
// Validation
// =============================================================================

// ValidateInfra checks the keys needed before any cloud resource is touched.
// It runs before provisioning so a bad config never leaves partial state.
func (c *DeploymentConfig) ValidateInfra() error {
	var missing []string
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if c.AccountID == "" {
		missing = append(missing, "account id")
	}
	if c.Repository == "" && c.Image == "" {
		missing = append(missing, "repository or image")
	}
	if c.Family == "" {
		missing = append(missing, "task family")
	}
	if c.LogGroup == "" {
		missing = append(missing, "log group")
	}
	if len(c.Subnets) == 0 {
		missing = append(missing, "subnets")
	}
	if len(c.SecurityGroups) == 0 {
		missing = append(missing, "security groups")
	}
	if c.ExecutionRole == "" {
		missing = append(missing, "execution role")
	}
	if c.TaskRole == "" {
		missing = append(missing, "task role")
	}
	if len(missing) > 0 {
		return NewMissingKeysError("infrastructure", missing)
	}
	return nil
}

// ValidateWorkload checks the keys the workload container needs. The launch
// phase is gated on these; provisioning is not.
func (c *DeploymentConfig) ValidateWorkload() error {
	var missing []string
	if c.Workload.InputS3 == "" {
		missing = append(missing, "workload input location")
	}
	if c.Workload.OutputS3 == "" {
		missing = append(missing, "workload output location")
	}
	if c.Workload.EmailTo == "" {
		missing = append(missing, "notification recipient")
	}
	if c.Workload.EmailFrom == "" {
		missing = append(missing, "notification sender")
	}
	if c.Workload.Threshold == "" {
		missing = append(missing, "threshold")
	}
	if len(missing) > 0 {
		return NewMissingKeysError("workload", missing)
	}
	return nil
}

// =============================================================================
// Derived Values
// =============================================================================

// RegistryHost returns the account's registry hostname in the target region.
func (c *DeploymentConfig) RegistryHost() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", c.AccountID, c.Region)
}

// RepositoryURI returns the fully qualified repository URI. When Repository
// already contains a registry hostname it is returned unchanged.
func (c *DeploymentConfig) RepositoryURI() string {
	if strings.Contains(c.Repository, "/") {
		return c.Repository
	}
	return c.RegistryHost() + "/" + c.Repository
}

// RepositoryName returns the bare repository name without any registry host.
func (c *DeploymentConfig) RepositoryName() string {
	if idx := strings.LastIndex(c.Repository, "/"); idx >= 0 {
		return c.Repository[idx+1:]
	}
	return c.Repository
}

// WorkloadEnvironment returns the ordered environment list for the container.
// Optional keys that are unset are omitted; Extra pairs keep their file order
// and override nothing.
func (c *DeploymentConfig) WorkloadEnvironment() []EnvVar {
	w := c.Workload
	env := []EnvVar{
		{Name: "AWS_REGION", Value: c.Region},
		{Name: "INPUT_S3", Value: w.InputS3},
		{Name: "OUTPUT_S3", Value: w.OutputS3},
		{Name: "EMAIL_TO", Value: w.EmailTo},
		{Name: "EMAIL_FROM", Value: w.EmailFrom},
		{Name: "THRESHOLD", Value: w.Threshold},
	}
	optional := []EnvVar{
		{Name: "START_DATE", Value: w.StartDate},
		{Name: "END_DATE", Value: w.EndDate},
		{Name: "PHYSICIAN_ID_LIST", Value: w.PhysicianIDs},
		{Name: "AUDIT_BUCKET", Value: w.AuditBucket},
		{Name: "AUDIT_PREFIX", Value: w.AuditPrefix},
	}
	for _, v := range optional {
		if v.Value != "" {
			env = append(env, v)
		}
	}
	return append(env, w.Extra...)
}

// BucketFromS3URI extracts the bucket name from an s3://bucket/key URI.
// Returns "" for anything that is not an s3 URI.
//
// Examples:
//
//	BucketFromS3URI("s3://notes-in/batch.csv")
//	// Returns: "notes-in"
//
//	BucketFromS3URI("/local/path.csv")
//	// Returns: ""
func BucketFromS3URI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// InputBucket returns the bucket backing the input location, if any.
func (w WorkloadEnv) InputBucket() string {
	return BucketFromS3URI(w.InputS3)
}

// OutputBucket returns the bucket backing the output location, if any.
func (w WorkloadEnv) OutputBucket() string {
	return BucketFromS3URI(w.OutputS3)
}

// AuditBucketName returns the audit bucket, falling back to the output
// bucket the same way the worker does when AUDIT_BUCKET is unset.
func (w WorkloadEnv) AuditBucketName() string {
	if w.AuditBucket != "" {
		return w.AuditBucket
	}
	return w.OutputBucket()
}
