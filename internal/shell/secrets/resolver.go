// Package secrets resolves secret identifiers against the secret store and
// classifies their values into container secret references.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smithy "github.com/aws/smithy-go"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/secretref"
)

// =============================================================================
// Secret Resolver
// =============================================================================

// Client is the slice of the secret store API the resolver needs.
type Client interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver maps a secret name-or-ARN to the reference injected into the
// task. Read-only: the secret itself is never mutated.
type Resolver struct {
	client Client
	region string
	logger *slog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(client Client, region string, logger *slog.Logger) *Resolver {
	return &Resolver{
		client: client,
		region: region,
		logger: logger.With("component", "secrets"),
	}
}

// Resolve canonicalizes the identifier to an ARN, fetches the current value,
// and decides between a keyed and a plain reference by probing for
// expectedKey. A name that cannot be mapped to an ARN in the target region
// is fatal.
func (r *Resolver) Resolve(ctx context.Context, id, expectedKey string) (secretref.Reference, error) {
	arn := id
	if !secretref.IsARN(id) {
		out, err := r.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
			SecretId: aws.String(id),
		})
		if err != nil {
			if isNotFound(err) {
				return secretref.Reference{}, domain.NewResolutionError("secret", id, r.region, err)
			}
			return secretref.Reference{}, fmt.Errorf("failed to describe secret %q: %w", id, err)
		}
		arn = aws.ToString(out.ARN)
	}

	value, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		if isNotFound(err) {
			return secretref.Reference{}, domain.NewResolutionError("secret", id, r.region, err)
		}
		return secretref.Reference{}, fmt.Errorf("failed to read secret value: %w", err)
	}

	ref := secretref.Classify(arn, aws.ToString(value.SecretString), expectedKey)
	r.logger.Info("secret resolved",
		"secret_id", id,
		"keyed", ref.Keyed(),
	)
	return ref, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException"
}
