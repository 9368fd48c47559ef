package launcher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/netplan"
)

// =============================================================================
// Run and Monitor
// =============================================================================

// RunSpec describes a single execution.
type RunSpec struct {
	Cluster           string
	TaskDefinitionARN string
	ContainerName     string
	Plan              netplan.Plan
	RunID             string
	LogGroup          string
	LogStreamPrefix   string
}

// Result is the terminal state of one execution.
type Result struct {
	Execution domain.TaskExecution
	LogLines  []string
}

// Run launches one task, blocks until it stops, and collects its outcome
// with a recent log excerpt. The wait is a single blocking call; cancelling
// the context abandons the wait but does not stop the remote execution.
//
// Example:
//
//	result, err := l.Run(ctx, launcher.RunSpec{
//	    Cluster:           "patient-pipeline",
//	    TaskDefinitionARN: arn,
//	    ContainerName:     "patient-pipeline",
//	    Plan:              plan,
//	    RunID:             domain.NewRunID(),
//	    LogGroup:          "/ecs/patient-pipeline",
//	    LogStreamPrefix:   "ecs",
//	})
func (l *Launcher) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	exec, err := l.launch(ctx, spec)
	if err != nil {
		return nil, err
	}

	l.logger.Info("waiting for task to stop",
		"task", exec.TaskID(), "timeout", l.waitTimeout.String())
	waiter := ecs.NewTasksStoppedWaiter(l.ecs, l.waiterOptions...)
	err = waiter.Wait(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(spec.Cluster),
		Tasks:   []string{exec.TaskARN},
	}, l.waitTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for task %s to stop: %w", exec.TaskID(), err)
	}

	if err := l.collect(ctx, spec, exec); err != nil {
		return nil, err
	}

	result := &Result{Execution: *exec}
	result.LogLines = l.fetchLogs(ctx, spec.LogGroup, exec.LogStream)
	l.logger.Info("task stopped",
		"task", exec.TaskID(),
		"stop_reason", exec.StopReason,
		"duration", exec.Duration().String())
	return result, nil
}

// launch submits the run request. Platform-reported failures mean the task
// never started; the full list goes back to the operator and no wait begins.
func (l *Launcher) launch(ctx context.Context, spec RunSpec) (*domain.TaskExecution, error) {
	assignIP := ecstypes.AssignPublicIpDisabled
	if spec.Plan.AssignPublicIP {
		assignIP = ecstypes.AssignPublicIpEnabled
	}

	out, err := l.ecs.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(spec.Cluster),
		TaskDefinition: aws.String(spec.TaskDefinitionARN),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		ClientToken:    aws.String(spec.RunID),
		StartedBy:      aws.String(spec.RunID),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        spec.Plan.Subnets,
				SecurityGroups: spec.Plan.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch task: %w", err)
	}

	if len(out.Failures) > 0 {
		reasons := make([]string, 0, len(out.Failures))
		for _, f := range out.Failures {
			reason := fmt.Sprintf("%s: %s", aws.ToString(f.Arn), aws.ToString(f.Reason))
			if detail := aws.ToString(f.Detail); detail != "" {
				reason += " (" + detail + ")"
			}
			reasons = append(reasons, reason)
		}
		return nil, &domain.LaunchRejectedError{Reasons: reasons}
	}
	if len(out.Tasks) == 0 {
		return nil, &domain.LaunchRejectedError{Reasons: []string{"platform returned neither a task nor a failure"}}
	}

	task := out.Tasks[0]
	exec := &domain.TaskExecution{
		RunID:             spec.RunID,
		TaskARN:           aws.ToString(task.TaskArn),
		TaskDefinitionARN: spec.TaskDefinitionARN,
		StartedAt:         aws.ToTime(task.CreatedAt),
	}
	exec.LogStream = fmt.Sprintf("%s/%s/%s", spec.LogStreamPrefix, spec.ContainerName, exec.TaskID())

	l.logger.Info("task launched", "task", exec.TaskID(), "run_id", spec.RunID)
	return exec, nil
}

// collect fills in the terminal fields from the stopped task's description.
func (l *Launcher) collect(ctx context.Context, spec RunSpec, exec *domain.TaskExecution) error {
	out, err := l.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(spec.Cluster),
		Tasks:   []string{exec.TaskARN},
	})
	if err != nil {
		return fmt.Errorf("failed to describe stopped task %s: %w", exec.TaskID(), err)
	}
	if len(out.Tasks) == 0 {
		return fmt.Errorf("stopped task %s is no longer described by the platform", exec.TaskID())
	}

	task := out.Tasks[0]
	exec.StoppedAt = aws.ToTime(task.StoppedAt)
	exec.StopReason = aws.ToString(task.StoppedReason)

	container := findContainer(task.Containers, spec.ContainerName)
	if container != nil {
		exec.ExitCode = container.ExitCode
		exec.ContainerReason = aws.ToString(container.Reason)
	}
	return nil
}

func findContainer(containers []ecstypes.Container, name string) *ecstypes.Container {
	for i := range containers {
		if aws.ToString(containers[i].Name) == name {
			return &containers[i]
		}
	}
	if len(containers) > 0 {
		return &containers[0]
	}
	return nil
}

// fetchLogs pulls the most recent events from the container's stream. The
// excerpt is diagnostic only, so failures degrade to an empty excerpt
// rather than masking the execution outcome.
func (l *Launcher) fetchLogs(ctx context.Context, group, stream string) []string {
	out, err := l.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
		Limit:         aws.Int32(l.logWindow),
		StartFromHead: aws.Bool(false),
	})
	if err != nil {
		l.logger.Warn("failed to fetch log excerpt", "log_group", group, "log_stream", stream, "error", err)
		return nil
	}

	lines := make([]string, 0, len(out.Events))
	for _, event := range out.Events {
		lines = append(lines, aws.ToString(event.Message))
	}
	return lines
}
