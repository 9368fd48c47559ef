package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	dockerclient "github.com/docker/docker/client"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/envfile"
	"github.com/quillmed/caravel/internal/core/policy"
	"github.com/quillmed/caravel/internal/core/secretref"
	"github.com/quillmed/caravel/internal/core/taskdef"
	"github.com/quillmed/caravel/internal/shell/awsclient"
	"github.com/quillmed/caravel/internal/shell/identity"
	"github.com/quillmed/caravel/internal/shell/launcher"
	"github.com/quillmed/caravel/internal/shell/network"
	"github.com/quillmed/caravel/internal/shell/registry"
	"github.com/quillmed/caravel/internal/shell/secrets"
	"github.com/quillmed/caravel/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

// Orchestrator-side failures map to these codes. Once the container has
// launched, its own exit code passes through unchanged and takes precedence.
const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitResolutionError = 2
	ExitProvisionError  = 3
	ExitRegistryError   = 4
	ExitTemplateError   = 5
	ExitLaunchError     = 6
	ExitJournalError    = 7
)

// =============================================================================
// Deployer
// =============================================================================

// DeployOptions are the per-invocation switches from the command line.
type DeployOptions struct {
	ForceRebuild bool
	RenderOnly   bool
	SkipBuild    bool
}

// Deployer drives one deployment run end to end: identity and network
// provisioning, image publish, task definition rendering, launch, and the
// run journal.
type Deployer struct {
	config  *Config
	clients *awsclient.Clients
	journal store.Store
	logger  *slog.Logger
}

// NewDeployer creates a deployer with the given config.
func NewDeployer(ctx context.Context, cfg *Config, logger *slog.Logger) (*Deployer, error) {
	var journal store.Store
	if cfg.Journal.Enabled {
		s, err := store.NewSQLiteStore(cfg.Journal.DSN)
		if err != nil {
			return nil, &DeployError{
				Op:       "NewDeployer",
				Err:      err,
				ExitCode: ExitJournalError,
			}
		}
		journal = s
	}

	clients, err := awsclient.New(ctx, awsclient.Options{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		if journal != nil {
			journal.Close()
		}
		return nil, &DeployError{
			Op:       "NewDeployer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	return &Deployer{
		config:  cfg,
		clients: clients,
		journal: journal,
		logger:  logger,
	}, nil
}

// Close releases the journal connection.
func (d *Deployer) Close() error {
	if d.journal == nil {
		return nil
	}
	return d.journal.Close()
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy runs the full pipeline: validate, provision identities and network,
// publish the image, render and register the task definition, launch the
// task, wait for it to stop, and journal the outcome. Workload keys are
// validated just before the launch phase; provisioning only needs the
// infrastructure keys.
func (d *Deployer) Deploy(ctx context.Context, opts DeployOptions) error {
	dc := d.config.ToDeploymentConfig()

	fileSecrets, err := d.loadEnvFile(dc)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitConfigError}
	}

	if opts.RenderOnly {
		return d.renderOnly(dc, fileSecrets)
	}

	// Fill the account id from the caller identity before validating. This
	// is the one read-only call allowed ahead of validation; nothing is
	// provisioned by it.
	if dc.AccountID == "" {
		account, err := d.discoverAccount(ctx)
		if err != nil {
			return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitResolutionError}
		}
		dc.AccountID = account
	}

	if err := dc.ValidateInfra(); err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitConfigError}
	}

	var secretRef *secretref.Reference
	if dc.SecretID != "" {
		resolver := secrets.NewResolver(d.clients.Secrets, dc.Region, d.logger)
		ref, err := resolver.Resolve(ctx, dc.SecretID, dc.SecretKey)
		if err != nil {
			return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitResolutionError}
		}
		secretRef = &ref
	}

	execRoleARN, taskRoleARN, err := d.ensureIdentities(ctx, dc, secretRef)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitProvisionError}
	}

	netResolver := network.NewResolver(d.clients.EC2, dc.Region, d.logger)
	plan, err := netResolver.Resolve(ctx, dc.Subnets, dc.SecurityGroups, dc.AssignPublicIP)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitResolutionError}
	}

	imageRef, err := d.ensureImage(ctx, dc, opts)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitRegistryError}
	}

	def, err := d.render(dc, imageRef, secretRef, fileSecrets, execRoleARN, taskRoleARN)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitTemplateError}
	}
	if d.config.Task.Output != "" {
		if err := writeArtifact(def, d.config.Task.Output); err != nil {
			return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitConfigError}
		}
		d.logger.Info("task definition written", "output", d.config.Task.Output)
	}

	if err := dc.ValidateWorkload(); err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitConfigError}
	}

	l := launcher.NewLauncher(d.clients.ECS, d.clients.Logs, d.logger)
	if err := l.EnsureCluster(ctx, dc.Cluster); err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitProvisionError}
	}
	if err := l.EnsureLogGroup(ctx, dc.LogGroup); err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitProvisionError}
	}
	taskDefARN, err := l.Register(ctx, def)
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitProvisionError}
	}

	runID := domain.NewRunID()
	result, err := l.Run(ctx, launcher.RunSpec{
		Cluster:           dc.Cluster,
		TaskDefinitionARN: taskDefARN,
		ContainerName:     dc.ContainerName,
		Plan:              plan,
		RunID:             runID,
		LogGroup:          dc.LogGroup,
		LogStreamPrefix:   dc.LogStreamPrefix,
	})
	if err != nil {
		return &DeployError{Op: "Deploy", Err: err, ExitCode: ExitLaunchError}
	}

	d.journalRun(ctx, result, dc.Family, imageRef)

	if len(result.LogLines) > 0 {
		d.logger.Info("workload log excerpt",
			"stream", result.Execution.LogStream,
			"lines", strings.Join(result.LogLines, "\n"))
	}

	code, outcomeErr := result.Execution.Outcome()
	if outcomeErr != nil {
		return &DeployError{Op: "Deploy", Err: outcomeErr, ExitCode: code}
	}
	d.logger.Info("deployment completed successfully",
		"run_id", runID,
		"task", result.Execution.TaskID(),
		"duration", result.Execution.Duration().String())
	return nil
}

// renderOnly renders the task definition offline and writes the artifact.
// Role names and the secret id are used exactly as configured; nothing is
// resolved against the platform.
func (d *Deployer) renderOnly(dc *domain.DeploymentConfig, fileSecrets []taskdef.SecretRef) error {
	if err := dc.ValidateWorkload(); err != nil {
		return &DeployError{Op: "RenderOnly", Err: err, ExitCode: ExitConfigError}
	}

	imageRef := dc.Image
	if imageRef == "" {
		tag := d.resolveTag()
		if dc.AccountID != "" || strings.Contains(dc.Repository, "/") {
			imageRef = dc.RepositoryURI() + ":" + tag
		} else {
			imageRef = dc.Repository + ":" + tag
		}
	}

	def, err := d.render(dc, imageRef, d.offlineSecretRef(), fileSecrets, dc.ExecutionRole, dc.TaskRole)
	if err != nil {
		return &DeployError{Op: "RenderOnly", Err: err, ExitCode: ExitTemplateError}
	}

	output := d.config.Task.Output
	if output == "" {
		output = "final-task-def.json"
	}
	if err := writeArtifact(def, output); err != nil {
		return &DeployError{Op: "RenderOnly", Err: err, ExitCode: ExitConfigError}
	}
	d.logger.Info("task definition rendered", "output", output, "image", imageRef)
	return nil
}

// =============================================================================
// Teardown and History
// =============================================================================

// Teardown removes the managed roles and customer-managed policies for the
// configured family. Resources that are already gone count as removed;
// externally managed roles (configured as ARNs) are left alone.
func (d *Deployer) Teardown(ctx context.Context) error {
	dc := d.config.ToDeploymentConfig()
	if dc.AccountID == "" {
		account, err := d.discoverAccount(ctx)
		if err != nil {
			return &DeployError{Op: "Teardown", Err: err, ExitCode: ExitResolutionError}
		}
		dc.AccountID = account
	}

	prov := identity.NewProvisioner(d.clients.IAM, dc.AccountID, d.logger)
	err := prov.Teardown(ctx,
		[]string{dc.ExecutionRole, dc.TaskRole},
		[]string{policy.ExecutionPolicyName(dc.Family), policy.TaskPolicyName(dc.Family)})
	if err != nil {
		return &DeployError{Op: "Teardown", Err: err, ExitCode: ExitProvisionError}
	}
	d.logger.Info("teardown complete", "family", dc.Family)
	return nil
}

// History prints the most recent journaled runs, newest first.
func (d *Deployer) History(ctx context.Context, limit int) error {
	if d.journal == nil {
		return &DeployError{
			Op:       "History",
			Err:      errors.New("journal is disabled"),
			ExitCode: ExitJournalError,
		}
	}

	runs, err := d.journal.RecentRuns(ctx, limit)
	if err != nil {
		return &DeployError{Op: "History", Err: err, ExitCode: ExitJournalError}
	}
	if len(runs) == 0 {
		fmt.Println("no journaled runs")
		return nil
	}

	for _, run := range runs {
		exit := "-"
		if run.ExitCode != nil {
			exit = strconv.Itoa(int(*run.ExitCode))
		}
		fmt.Printf("%-14s  %-14s  exit %-4s  %-10s  %s  %s\n",
			run.RunID,
			run.Outcome,
			exit,
			run.Duration().Truncate(time.Second),
			run.StartedAt.Format(time.RFC3339),
			run.Image)
	}
	return nil
}

// =============================================================================
// Pipeline Steps
// =============================================================================

// discoverAccount fills the account id from the caller identity.
func (d *Deployer) discoverAccount(ctx context.Context) (string, error) {
	out, err := d.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to discover account id: %w", err)
	}
	account := aws.ToString(out.Account)
	d.logger.Info("account discovered", "account_id", account)
	return account, nil
}

// ensureIdentities reconciles the execution and task roles with their
// composed policies and returns both role ARNs.
func (d *Deployer) ensureIdentities(ctx context.Context, dc *domain.DeploymentConfig, secret *secretref.Reference) (string, string, error) {
	in := policy.Inputs{
		Region:        dc.Region,
		AccountID:     dc.AccountID,
		LogGroup:      dc.LogGroup,
		InputBucket:   dc.Workload.InputBucket(),
		OutputBucket:  dc.Workload.OutputBucket(),
		AuditBucket:   dc.Workload.AuditBucketName(),
		SenderAddress: dc.Workload.EmailFrom,
	}
	if secret != nil {
		in.SecretARN = secret.ARN
	}

	prov := identity.NewProvisioner(d.clients.IAM, dc.AccountID, d.logger)
	execRoleARN, err := prov.Ensure(ctx, identity.Identity{
		RoleNameOrARN:  dc.ExecutionRole,
		PolicyName:     policy.ExecutionPolicyName(dc.Family),
		PolicyDocument: policy.ExecutionDocument(in),
		AttachManaged:  []string{identity.ManagedExecutionPolicyARN},
	})
	if err != nil {
		return "", "", err
	}
	taskRoleARN, err := prov.Ensure(ctx, identity.Identity{
		RoleNameOrARN:  dc.TaskRole,
		PolicyName:     policy.TaskPolicyName(dc.Family),
		PolicyDocument: policy.TaskDocument(in),
	})
	if err != nil {
		return "", "", err
	}
	return execRoleARN, taskRoleARN, nil
}

// ensureImage returns the image reference the task will run. A configured
// full reference wins; -skip-build trusts that the derived tag was already
// pushed; otherwise the image is built and published.
func (d *Deployer) ensureImage(ctx context.Context, dc *domain.DeploymentConfig, opts DeployOptions) (string, error) {
	if dc.Image != "" {
		d.logger.Info("using configured image", "image", dc.Image)
		return dc.Image, nil
	}

	tag := d.resolveTag()
	if opts.SkipBuild {
		ref := dc.RepositoryURI() + ":" + tag
		d.logger.Info("image build skipped", "image", ref)
		return ref, nil
	}

	docker, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("failed to create docker client: %w", err)
	}
	defer docker.Close()

	pub := registry.NewPublisher(d.clients.ECR, docker, d.logger)
	return pub.Publish(ctx, registry.BuildSpec{
		ContextDir: d.config.Image.ContextDir,
		Dockerfile: d.config.Image.Dockerfile,
		Repository: dc.RepositoryName(),
		Tag:        tag,
		Force:      opts.ForceRebuild,
	})
}

// resolveTag returns the configured tag, falling back to one derived from
// the build context.
func (d *Deployer) resolveTag() string {
	if d.config.Image.Tag != "" {
		return d.config.Image.Tag
	}
	return registry.DeriveTag(d.config.Image.ContextDir)
}

// loadEnvFile merges an optional KEY=VALUE file into the workload
// environment and returns the secret references declared in it.
func (d *Deployer) loadEnvFile(dc *domain.DeploymentConfig) ([]taskdef.SecretRef, error) {
	path := d.config.Workload.EnvFile
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()

	prefix := d.config.Workload.SecretPrefix
	env, secretPairs, skipped, err := envfile.Parse(f, prefix)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		d.logger.Warn("skipping unparseable env file line", "file", path, "line", s.Number)
	}

	for _, p := range env {
		dc.Workload.Extra = append(dc.Workload.Extra, domain.EnvVar{Name: p.Name, Value: p.Value})
	}
	refs := make([]taskdef.SecretRef, 0, len(secretPairs))
	for _, p := range secretPairs {
		refs = append(refs, taskdef.SecretRef{
			Name:      strings.TrimPrefix(p.Name, prefix),
			ValueFrom: p.Value,
		})
	}

	d.logger.Info("env file loaded",
		"file", path, "env", len(env), "secrets", len(refs), "skipped", len(skipped))
	return refs, nil
}

// render produces the final task definition document.
func (d *Deployer) render(dc *domain.DeploymentConfig, imageRef string, secret *secretref.Reference, fileSecrets []taskdef.SecretRef, execRoleARN, taskRoleARN string) (*taskdef.Definition, error) {
	template, err := d.loadTemplate(dc)
	if err != nil {
		return nil, err
	}

	env := dc.WorkloadEnvironment()
	kvs := make([]taskdef.KeyValue, 0, len(env))
	for _, v := range env {
		kvs = append(kvs, taskdef.KeyValue{Name: v.Name, Value: v.Value})
	}

	var secretRefs []taskdef.SecretRef
	if secret != nil {
		if dc.SecretKey == "" {
			d.logger.Warn("secret configured without a key name, not injected", "secret", secret.ARN)
		} else {
			secretRefs = append(secretRefs, taskdef.SecretRef{
				Name:      dc.SecretKey,
				ValueFrom: secret.ValueFrom(),
			})
		}
	}
	secretRefs = append(secretRefs, fileSecrets...)

	return taskdef.Render(template, taskdef.RenderInputs{
		Family:           dc.Family,
		Image:            imageRef,
		CPU:              dc.CPU,
		Memory:           dc.Memory,
		ExecutionRoleARN: execRoleARN,
		TaskRoleARN:      taskRoleARN,
		Environment:      kvs,
		Secrets:          secretRefs,
		LogGroup:         dc.LogGroup,
		LogRegion:        dc.Region,
		LogStreamPrefix:  dc.LogStreamPrefix,
	})
}

func (d *Deployer) loadTemplate(dc *domain.DeploymentConfig) (*taskdef.Definition, error) {
	path := d.config.Task.Template
	if path == "" {
		return taskdef.Default(dc.Family, dc.ContainerName), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task definition template: %w", err)
	}
	return taskdef.Parse(data, path)
}

// offlineSecretRef builds the secret reference without consulting the
// platform. Key selection needs a full ARN; a bare name renders as a plain
// reference.
func (d *Deployer) offlineSecretRef() *secretref.Reference {
	id := d.config.Secret.ID
	if id == "" {
		return nil
	}
	ref := secretref.Reference{ARN: id}
	if secretref.IsARN(id) {
		ref.Key = d.config.Secret.Key
	}
	return &ref
}

// journalRun appends the finished execution to the local journal. Journal
// failures never change the deployment outcome.
func (d *Deployer) journalRun(ctx context.Context, result *launcher.Result, family, image string) {
	if d.journal == nil {
		return
	}
	rec := store.RecordFromExecution(result.Execution, family, image, result.LogLines)
	if err := d.journal.AppendRun(ctx, rec); err != nil {
		d.logger.Warn("failed to journal run", "run_id", rec.RunID, "error", err)
	}
}

func writeArtifact(def *taskdef.Definition, path string) error {
	data, err := taskdef.JSON(def)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task definition artifact: %w", err)
	}
	return nil
}

// =============================================================================
// Deploy Error
// =============================================================================

// DeployError represents an error during a deployer operation.
type DeployError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *DeployError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DeployError) Unwrap() error {
	return e.Err
}
