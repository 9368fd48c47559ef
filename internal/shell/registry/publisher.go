// Package registry builds the workload image and publishes it to the
// container registry: repository auto-creation, tag existence checks,
// and push with re-authenticated retries.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/moby/go-archive"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/retry"
)

// =============================================================================
// Image Publisher
// =============================================================================

// RegistryAPI is the slice of the registry service API the publisher needs.
type RegistryAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// DockerAPI is the slice of the container engine API the publisher needs.
type DockerAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// BuildSpec describes one image to build and publish.
type BuildSpec struct {
	// ContextDir is the build context directory.
	ContextDir string

	// Dockerfile is the build file path relative to ContextDir.
	// Empty means "Dockerfile".
	Dockerfile string

	// Repository is the repository name within the registry.
	Repository string

	// Tag is the image tag. Derive it with DeriveTag when the caller has
	// no explicit override.
	Tag string

	// Force rebuilds and pushes even when the tag already exists.
	Force bool
}

// Publisher builds and pushes workload images.
type Publisher struct {
	registry RegistryAPI
	docker   DockerAPI
	logger   *slog.Logger
	policy   retry.Policy
}

// NewPublisher creates a new Publisher with the standard push retry policy.
func NewPublisher(registry RegistryAPI, docker DockerAPI, logger *slog.Logger) *Publisher {
	return &Publisher{
		registry: registry,
		docker:   docker,
		logger:   logger.With("component", "registry"),
		policy:   retry.DefaultPushPolicy,
	}
}

// Publish ensures the repository exists, builds the image when needed, and
// pushes it. The returned reference is the only output later phases use.
//
// Example:
//
//	ref, err := pub.Publish(ctx, registry.BuildSpec{
//	    ContextDir: ".",
//	    Repository: "patient-pipeline",
//	    Tag:        "4f2a91c",
//	})
//	// ref == "123456789012.dkr.ecr.us-east-1.amazonaws.com/patient-pipeline:4f2a91c"
func (p *Publisher) Publish(ctx context.Context, spec BuildSpec) (string, error) {
	uri, err := p.EnsureRepository(ctx, spec.Repository)
	if err != nil {
		return "", err
	}
	ref := uri + ":" + spec.Tag

	if !spec.Force {
		exists, err := p.tagExists(ctx, spec.Repository, spec.Tag)
		if err != nil {
			return "", err
		}
		if exists {
			p.logger.Info("image tag already published, skipping build", "image", ref)
			return ref, nil
		}
	}

	if err := p.build(ctx, spec, ref); err != nil {
		return "", err
	}
	if err := p.push(ctx, ref); err != nil {
		return "", err
	}

	p.logger.Info("image published", "image", ref)
	return ref, nil
}

// EnsureRepository returns the repository URI, creating the repository when
// it does not exist yet.
func (p *Publisher) EnsureRepository(ctx context.Context, name string) (string, error) {
	out, err := p.registry.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil && len(out.Repositories) > 0 {
		return aws.ToString(out.Repositories[0].RepositoryUri), nil
	}
	if err != nil && !isRegistryCode(err, "RepositoryNotFoundException") {
		return "", fmt.Errorf("failed to look up repository %s: %w", name, err)
	}

	created, err := p.registry.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		Tags: []ecrtypes.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("caravel")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	p.logger.Info("repository created", "repository", name)
	return aws.ToString(created.Repository.RepositoryUri), nil
}

func (p *Publisher) tagExists(ctx context.Context, repository, tag string) (bool, error) {
	_, err := p.registry.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repository),
		ImageIds: []ecrtypes.ImageIdentifier{
			{ImageTag: aws.String(tag)},
		},
	})
	if err == nil {
		return true, nil
	}
	if isRegistryCode(err, "ImageNotFoundException") || isRegistryCode(err, "RepositoryNotFoundException") {
		return false, nil
	}
	return false, fmt.Errorf("failed to check for tag %s:%s: %w", repository, tag, err)
}

// =============================================================================
// Build
// =============================================================================

func (p *Publisher) build(ctx context.Context, spec BuildSpec, ref string) error {
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	excludes, err := readDockerignore(spec.ContextDir)
	if err != nil {
		return err
	}
	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return fmt.Errorf("failed to prepare build context from %s: %w", spec.ContextDir, err)
	}
	defer buildCtx.Close()

	p.logger.Info("building image", "image", ref, "context", spec.ContextDir)
	resp, err := p.docker.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if err := drainEngineStream(resp.Body, p.logger, "build"); err != nil {
		return fmt.Errorf("failed to build image %s: %w", ref, err)
	}
	return nil
}

// =============================================================================
// Push
// =============================================================================

// push uploads the image, re-authenticating before every attempt so an
// expired registry token never burns the remaining budget.
func (p *Publisher) push(ctx context.Context, ref string) error {
	err := p.policy.Do(ctx, func(attempt int) error {
		auth, err := p.authenticate(ctx)
		if err != nil {
			return err
		}

		p.logger.Info("pushing image", "image", ref, "attempt", attempt)
		rc, err := p.docker.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
		if err != nil {
			return err
		}
		defer rc.Close()
		return drainEngineStream(rc, p.logger, "push")
	})
	if err != nil {
		return &domain.RegistryError{Image: ref, Attempts: p.policy.MaxAttempts, Err: err}
	}
	return nil
}

// authenticate exchanges registry service credentials for the engine's
// auth header value.
func (p *Publisher) authenticate(ctx context.Context) (string, error) {
	out, err := p.registry.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", fmt.Errorf("failed to obtain registry token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", fmt.Errorf("registry returned no authorization data")
	}
	data := out.AuthorizationData[0]

	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return "", fmt.Errorf("failed to decode registry token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", fmt.Errorf("registry token is not in user:password form")
	}

	return dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      user,
		Password:      pass,
		ServerAddress: aws.ToString(data.ProxyEndpoint),
	})
}

func isRegistryCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
