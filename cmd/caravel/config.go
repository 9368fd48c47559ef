package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/quillmed/caravel/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all orchestrator configuration.
type Config struct {
	AWS      AWSConfig      `mapstructure:"aws"`
	Task     TaskConfig     `mapstructure:"task"`
	Image    ImageConfig    `mapstructure:"image"`
	Network  NetworkConfig  `mapstructure:"network"`
	Roles    RolesConfig    `mapstructure:"roles"`
	Secret   SecretConfig   `mapstructure:"secret"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Workload WorkloadConfig `mapstructure:"workload"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Log      LogConfig      `mapstructure:"log"`
}

// AWSConfig holds account and client configuration.
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	AccountID string `mapstructure:"account_id"` // Empty: discovered via STS at startup

	// Endpoint overrides every service endpoint, for local simulators.
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// TaskConfig holds the task definition surface.
type TaskConfig struct {
	Family        string `mapstructure:"family"`
	Cluster       string `mapstructure:"cluster"`
	ContainerName string `mapstructure:"container_name"`
	CPU           string `mapstructure:"cpu"`
	Memory        string `mapstructure:"memory"`

	// Template is an optional task definition template file (JSON or YAML).
	// Empty means the built-in single-container default.
	Template string `mapstructure:"template"`

	// Output, when set, receives the rendered task definition JSON.
	Output string `mapstructure:"output"`
}

// ImageConfig holds image build and publish configuration.
type ImageConfig struct {
	Repository string `mapstructure:"repository"`

	// Image is a full image reference. When set, build and push are skipped
	// entirely and the reference is used as-is.
	Image string `mapstructure:"image"`

	// Tag overrides the derived tag (git revision, else content digest,
	// else timestamp).
	Tag        string `mapstructure:"tag"`
	ContextDir string `mapstructure:"context_dir"`
	Dockerfile string `mapstructure:"dockerfile"`
}

// NetworkConfig holds task networking configuration.
type NetworkConfig struct {
	Subnets        []string `mapstructure:"subnets"`
	SecurityGroups []string `mapstructure:"security_groups"`

	// AssignPublicIP forces the public-IP decision ("ENABLED" or "DISABLED").
	// Empty means auto-detect from route tables.
	AssignPublicIP string `mapstructure:"assign_public_ip"`
}

// RolesConfig holds role names or ARNs. A full ARN is used as-is and never
// reconciled; a bare name is created and kept up to date.
type RolesConfig struct {
	Execution string `mapstructure:"execution"`
	Task      string `mapstructure:"task"`
}

// SecretConfig holds the workload secret reference.
type SecretConfig struct {
	// ID is the secret name or full ARN.
	ID string `mapstructure:"id"`

	// Key is the environment variable the value is injected as, and the
	// key selected inside a JSON-object secret value.
	Key string `mapstructure:"key"`
}

// LogsConfig holds log delivery configuration.
type LogsConfig struct {
	Group        string `mapstructure:"group"`
	StreamPrefix string `mapstructure:"stream_prefix"`
}

// WorkloadConfig holds the environment surface passed through to the batch
// worker. The orchestrator does not interpret these beyond policy scoping.
type WorkloadConfig struct {
	InputS3      string `mapstructure:"input_s3"`
	OutputS3     string `mapstructure:"output_s3"`
	EmailTo      string `mapstructure:"email_to"`
	EmailFrom    string `mapstructure:"email_from"`
	Threshold    string `mapstructure:"threshold"`
	StartDate    string `mapstructure:"start_date"`
	EndDate      string `mapstructure:"end_date"`
	PhysicianIDs string `mapstructure:"physician_ids"`
	AuditBucket  string `mapstructure:"audit_bucket"`
	AuditPrefix  string `mapstructure:"audit_prefix"`

	// EnvFile is an optional KEY=VALUE file merged into the container
	// environment. Keys starting with SecretPrefix become secret references
	// instead of plain values.
	EnvFile      string `mapstructure:"env_file"`
	SecretPrefix string `mapstructure:"secret_prefix"`
}

// JournalConfig holds the local run journal configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.account_id", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")

	v.SetDefault("task.family", "patient-pipeline")
	v.SetDefault("task.cluster", "")        // Defaults to the family
	v.SetDefault("task.container_name", "") // Defaults to the family
	v.SetDefault("task.cpu", "1024")
	v.SetDefault("task.memory", "2048")
	v.SetDefault("task.template", "")
	v.SetDefault("task.output", "")

	v.SetDefault("image.repository", "") // Defaults to the family
	v.SetDefault("image.image", "")
	v.SetDefault("image.tag", "")
	v.SetDefault("image.context_dir", ".")
	v.SetDefault("image.dockerfile", "Dockerfile")

	v.SetDefault("network.subnets", []string{})
	v.SetDefault("network.security_groups", []string{})
	v.SetDefault("network.assign_public_ip", "")

	v.SetDefault("roles.execution", "") // Defaults to <family>-execution-role
	v.SetDefault("roles.task", "")      // Defaults to <family>-task-role

	v.SetDefault("secret.id", "openai/api-key")
	v.SetDefault("secret.key", "OPENAI_API_KEY")

	v.SetDefault("logs.group", "") // Defaults to /ecs/<family>
	v.SetDefault("logs.stream_prefix", "ecs")

	v.SetDefault("workload.threshold", "0.95")
	v.SetDefault("workload.start_date", "") // Empty: the worker computes the trailing week
	v.SetDefault("workload.end_date", "")
	v.SetDefault("workload.audit_prefix", "audit_logs")
	v.SetDefault("workload.env_file", "")
	v.SetDefault("workload.secret_prefix", "secret:")

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dsn", "./caravel.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("CARAVEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ToDeploymentConfig maps the file/env configuration onto the immutable
// deployment model. Unset resource names cascade from the task family:
// cluster, container name and repository reuse it, the log group nests
// under /ecs/, and role names append -execution-role and -task-role.
func (c *Config) ToDeploymentConfig() *domain.DeploymentConfig {
	family := c.Task.Family

	cluster := c.Task.Cluster
	if cluster == "" {
		cluster = family
	}
	containerName := c.Task.ContainerName
	if containerName == "" {
		containerName = family
	}
	repository := c.Image.Repository
	if repository == "" {
		repository = family
	}
	logGroup := c.Logs.Group
	if logGroup == "" {
		logGroup = "/ecs/" + family
	}
	execRole := c.Roles.Execution
	if execRole == "" {
		execRole = family + "-execution-role"
	}
	taskRole := c.Roles.Task
	if taskRole == "" {
		taskRole = family + "-task-role"
	}

	return &domain.DeploymentConfig{
		Region:          c.AWS.Region,
		AccountID:       c.AWS.AccountID,
		Repository:      repository,
		Image:           c.Image.Image,
		Family:          family,
		Cluster:         cluster,
		ContainerName:   containerName,
		CPU:             c.Task.CPU,
		Memory:          c.Task.Memory,
		LogGroup:        logGroup,
		LogStreamPrefix: c.Logs.StreamPrefix,
		Subnets:         c.Network.Subnets,
		SecurityGroups:  c.Network.SecurityGroups,
		ExecutionRole:   execRole,
		TaskRole:        taskRole,
		SecretID:        c.Secret.ID,
		SecretKey:       c.Secret.Key,
		AssignPublicIP:  c.Network.AssignPublicIP,
		Workload: domain.WorkloadEnv{
			InputS3:      c.Workload.InputS3,
			OutputS3:     c.Workload.OutputS3,
			EmailTo:      c.Workload.EmailTo,
			EmailFrom:    c.Workload.EmailFrom,
			Threshold:    c.Workload.Threshold,
			StartDate:    c.Workload.StartDate,
			EndDate:      c.Workload.EndDate,
			PhysicianIDs: c.Workload.PhysicianIDs,
			AuditBucket:  c.Workload.AuditBucket,
			AuditPrefix:  c.Workload.AuditPrefix,
		},
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
