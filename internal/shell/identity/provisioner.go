// Package identity reconciles the two deployment identities (execution and
// task) against the identity service: roles, managed-policy attachments, and
// customer-managed policy versions with pruning under the provider's
// five-version ceiling.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	smithy "github.com/aws/smithy-go"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/policy"
	"github.com/quillmed/caravel/internal/core/secretref"
)

// =============================================================================
// Identity Provisioner
// =============================================================================

// ManagedExecutionPolicyARN is the platform's canned execution policy,
// attached to the execution identity alongside the composed one.
const ManagedExecutionPolicyARN = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"

// retainedNonDefaultVersions is how many non-default policy versions survive
// pruning. With the default that totals 4, so creating one more version
// stays under the provider's ceiling of 5.
const retainedNonDefaultVersions = 3

// Client is the slice of the identity service API the provisioner needs.
type Client interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	CreatePolicy(ctx context.Context, params *iam.CreatePolicyInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyOutput, error)
	CreatePolicyVersion(ctx context.Context, params *iam.CreatePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.CreatePolicyVersionOutput, error)
	ListPolicyVersions(ctx context.Context, params *iam.ListPolicyVersionsInput, optFns ...func(*iam.Options)) (*iam.ListPolicyVersionsOutput, error)
	DeletePolicyVersion(ctx context.Context, params *iam.DeletePolicyVersionInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyVersionOutput, error)
	DeletePolicy(ctx context.Context, params *iam.DeletePolicyInput, optFns ...func(*iam.Options)) (*iam.DeletePolicyOutput, error)
}

// Identity is the desired state for one role.
type Identity struct {
	// RoleNameOrARN is the configured role identifier. A full ARN means the
	// role is externally managed: it is used as-is and never reconciled.
	RoleNameOrARN string

	// PolicyName names the customer-managed policy carrying the composed
	// document.
	PolicyName string

	// PolicyDocument is the composed least-privilege document.
	PolicyDocument policy.Document

	// AttachManaged lists additional managed policy ARNs to keep attached.
	AttachManaged []string
}

// Provisioner brings identities to their desired state. Running it twice
// with identical inputs yields the same effective authorization state;
// policy version identifiers may churn.
type Provisioner struct {
	client    Client
	accountID string
	logger    *slog.Logger
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(client Client, accountID string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		client:    client,
		accountID: accountID,
		logger:    logger.With("component", "identity"),
	}
}

// Ensure reconciles one identity and returns the role ARN to reference in
// the task definition.
func (p *Provisioner) Ensure(ctx context.Context, id Identity) (string, error) {
	if secretref.IsARN(id.RoleNameOrARN) {
		p.logger.Info("role is externally managed, skipping reconciliation", "role_arn", id.RoleNameOrARN)
		return id.RoleNameOrARN, nil
	}

	roleARN, err := p.ensureRole(ctx, id.RoleNameOrARN)
	if err != nil {
		return "", err
	}

	for _, managed := range id.AttachManaged {
		if err := p.ensureAttached(ctx, id.RoleNameOrARN, managed); err != nil {
			return "", err
		}
	}

	policyARN, err := p.ensurePolicy(ctx, id.PolicyName, id.PolicyDocument)
	if err != nil {
		return "", err
	}
	if err := p.ensureAttached(ctx, id.RoleNameOrARN, policyARN); err != nil {
		return "", err
	}

	p.logger.Info("identity reconciled", "role", id.RoleNameOrARN, "policy", id.PolicyName)
	return roleARN, nil
}

// =============================================================================
// Role Reconciliation
// =============================================================================

func (p *Provisioner) ensureRole(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err == nil {
		return aws.ToString(out.Role.Arn), nil
	}
	if !isNoSuchEntity(err) {
		return "", fmt.Errorf("failed to look up role %s: %w", name, err)
	}

	trust, err := policy.TrustPolicy().JSON()
	if err != nil {
		return "", err
	}
	created, err := p.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(trust),
		Tags: []iamtypes.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("caravel")},
		},
	})
	if err != nil {
		// Lost a creation race: the role now exists, fetch its ARN.
		if isAlreadyExists(err) {
			return p.ensureRole(ctx, name)
		}
		return "", fmt.Errorf("failed to create role %s: %w", name, err)
	}

	p.logger.Info("role created", "role", name)
	return aws.ToString(created.Role.Arn), nil
}

func (p *Provisioner) ensureAttached(ctx context.Context, roleName, policyARN string) error {
	attached, err := p.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("failed to list attachments of role %s: %w", roleName, err)
	}
	for _, ap := range attached.AttachedPolicies {
		if aws.ToString(ap.PolicyArn) == policyARN {
			return nil
		}
	}

	_, err = p.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil {
		return fmt.Errorf("failed to attach %s to role %s: %w", policyARN, roleName, err)
	}
	p.logger.Info("policy attached", "role", roleName, "policy_arn", policyARN)
	return nil
}

// =============================================================================
// Policy Reconciliation
// =============================================================================

func (p *Provisioner) policyARN(name string) string {
	return fmt.Sprintf("arn:aws:iam::%s:policy/%s", p.accountID, name)
}

func (p *Provisioner) ensurePolicy(ctx context.Context, name string, doc policy.Document) (string, error) {
	docJSON, err := doc.JSON()
	if err != nil {
		return "", err
	}

	arn := p.policyARN(name)
	_, err = p.client.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		if !isNoSuchEntity(err) {
			return "", fmt.Errorf("failed to look up policy %s: %w", name, err)
		}
		created, createErr := p.client.CreatePolicy(ctx, &iam.CreatePolicyInput{
			PolicyName:     aws.String(name),
			PolicyDocument: aws.String(docJSON),
		})
		if createErr != nil {
			if isAlreadyExists(createErr) {
				return p.ensurePolicy(ctx, name, doc)
			}
			return "", fmt.Errorf("failed to create policy %s: %w", name, createErr)
		}
		p.logger.Info("policy created", "policy", name)
		return aws.ToString(created.Policy.Arn), nil
	}

	if err := p.prunePolicyVersions(ctx, arn); err != nil {
		return "", err
	}

	_, err = p.client.CreatePolicyVersion(ctx, &iam.CreatePolicyVersionInput{
		PolicyArn:      aws.String(arn),
		PolicyDocument: aws.String(docJSON),
		SetAsDefault:   true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create new version of policy %s: %w", name, err)
	}
	p.logger.Info("policy version refreshed", "policy", name)
	return arn, nil
}

// prunePolicyVersions deletes the oldest non-default versions until few
// enough remain that creating one more stays under the version ceiling.
// The default version is never a deletion candidate.
func (p *Provisioner) prunePolicyVersions(ctx context.Context, arn string) error {
	out, err := p.client.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		return fmt.Errorf("failed to list versions of %s: %w", arn, err)
	}

	var nonDefault []iamtypes.PolicyVersion
	for _, v := range out.Versions {
		if !v.IsDefaultVersion {
			nonDefault = append(nonDefault, v)
		}
	}
	sort.Slice(nonDefault, func(i, j int) bool {
		return aws.ToTime(nonDefault[i].CreateDate).Before(aws.ToTime(nonDefault[j].CreateDate))
	})

	for len(nonDefault) > retainedNonDefaultVersions {
		oldest := nonDefault[0]
		_, err := p.client.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
			PolicyArn: aws.String(arn),
			VersionId: oldest.VersionId,
		})
		if err != nil {
			return fmt.Errorf("%w: deleting version %s of %s: %v",
				domain.ErrPolicyVersionLimit, aws.ToString(oldest.VersionId), arn, err)
		}
		p.logger.Info("pruned policy version", "policy_arn", arn, "version", aws.ToString(oldest.VersionId))
		nonDefault = nonDefault[1:]
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

func isNoSuchEntity(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchEntity"
}

func isAlreadyExists(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "EntityAlreadyExists"
}
