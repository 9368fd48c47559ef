// Package launcher registers task definitions, launches single executions,
// and monitors them to a terminal state with a log excerpt for diagnosis.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	smithy "github.com/aws/smithy-go"

	"github.com/quillmed/caravel/internal/core/taskdef"
)

// =============================================================================
// Launcher
// =============================================================================

const (
	// defaultWaitTimeout bounds the blocking wait for the container to stop.
	defaultWaitTimeout = 2 * time.Hour

	// defaultLogWindow is how many recent log events are fetched after the
	// container stops.
	defaultLogWindow = 120
)

// ECSAPI is the slice of the container-execution service API the launcher
// needs. It also satisfies the stopped-task waiter's client interface.
type ECSAPI interface {
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
	CreateCluster(ctx context.Context, params *ecs.CreateClusterInput, optFns ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error)
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// LogsAPI is the slice of the log service API the launcher needs.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Launcher drives a task from registration to a terminal state.
type Launcher struct {
	ecs    ECSAPI
	logs   LogsAPI
	logger *slog.Logger

	waitTimeout   time.Duration
	logWindow     int32
	waiterOptions []func(*ecs.TasksStoppedWaiterOptions)
}

// NewLauncher creates a new Launcher.
func NewLauncher(ecsClient ECSAPI, logsClient LogsAPI, logger *slog.Logger) *Launcher {
	return &Launcher{
		ecs:         ecsClient,
		logs:        logsClient,
		logger:      logger.With("component", "launcher"),
		waitTimeout: defaultWaitTimeout,
		logWindow:   defaultLogWindow,
	}
}

// =============================================================================
// Prerequisites
// =============================================================================

// EnsureCluster creates the cluster when it does not exist or is no longer
// active. Existing active clusters are left untouched.
func (l *Launcher) EnsureCluster(ctx context.Context, name string) error {
	out, err := l.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{name},
	})
	if err != nil {
		return fmt.Errorf("failed to look up cluster %s: %w", name, err)
	}
	for _, cluster := range out.Clusters {
		if aws.ToString(cluster.Status) == "ACTIVE" {
			return nil
		}
	}

	_, err = l.ecs.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("failed to create cluster %s: %w", name, err)
	}
	l.logger.Info("cluster created", "cluster", name)
	return nil
}

// EnsureLogGroup creates the log destination, treating "already exists" as
// success.
func (l *Launcher) EnsureLogGroup(ctx context.Context, name string) error {
	_, err := l.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(name),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceAlreadyExistsException" {
			return nil
		}
		return fmt.Errorf("failed to create log group %s: %w", name, err)
	}
	l.logger.Info("log group created", "log_group", name)
	return nil
}

// =============================================================================
// Registration
// =============================================================================

// Register submits the rendered task definition and returns the versioned
// ARN. Rejection is fatal; the platform validates roles and structure here.
func (l *Launcher) Register(ctx context.Context, def *taskdef.Definition) (string, error) {
	out, err := l.ecs.RegisterTaskDefinition(ctx, registrationInput(def))
	if err != nil {
		return "", fmt.Errorf("failed to register task definition %s: %w", def.Family, err)
	}

	arn := aws.ToString(out.TaskDefinition.TaskDefinitionArn)
	l.logger.Info("task definition registered", "family", def.Family, "task_definition", arn)
	return arn, nil
}

// registrationInput converts the rendered document into the service's
// request shape.
func registrationInput(def *taskdef.Definition) *ecs.RegisterTaskDefinitionInput {
	input := &ecs.RegisterTaskDefinitionInput{
		Family:           aws.String(def.Family),
		Cpu:              aws.String(def.CPU),
		Memory:           aws.String(def.Memory),
		NetworkMode:      ecstypes.NetworkMode(def.NetworkMode),
		ExecutionRoleArn: nonEmpty(def.ExecutionRoleARN),
		TaskRoleArn:      nonEmpty(def.TaskRoleARN),
	}
	for _, compat := range def.RequiresCompatibilities {
		input.RequiresCompatibilities = append(input.RequiresCompatibilities, ecstypes.Compatibility(compat))
	}
	for _, c := range def.ContainerDefinitions {
		input.ContainerDefinitions = append(input.ContainerDefinitions, containerInput(c))
	}
	return input
}

func containerInput(c taskdef.Container) ecstypes.ContainerDefinition {
	out := ecstypes.ContainerDefinition{
		Name:       aws.String(c.Name),
		Image:      aws.String(c.Image),
		Essential:  c.Essential,
		EntryPoint: c.EntryPoint,
		Command:    c.Command,
	}
	for _, kv := range c.Environment {
		out.Environment = append(out.Environment, ecstypes.KeyValuePair{
			Name:  aws.String(kv.Name),
			Value: aws.String(kv.Value),
		})
	}
	for _, s := range c.Secrets {
		out.Secrets = append(out.Secrets, ecstypes.Secret{
			Name:      aws.String(s.Name),
			ValueFrom: aws.String(s.ValueFrom),
		})
	}
	if c.LogConfiguration != nil {
		out.LogConfiguration = &ecstypes.LogConfiguration{
			LogDriver: ecstypes.LogDriver(c.LogConfiguration.LogDriver),
			Options:   c.LogConfiguration.Options,
		}
	}
	return out
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
