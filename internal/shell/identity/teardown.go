package identity

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/quillmed/caravel/internal/core/secretref"
)

// =============================================================================
// Identity Teardown
// =============================================================================

// Teardown removes the roles and customer-managed policies a deployment
// created. Roles given as full ARNs are externally managed and left alone.
// Resources that are already gone count as removed.
func (p *Provisioner) Teardown(ctx context.Context, roleNames []string, policyNames []string) error {
	for _, role := range roleNames {
		if secretref.IsARN(role) {
			p.logger.Info("role is externally managed, leaving in place", "role_arn", role)
			continue
		}
		if err := p.deleteRole(ctx, role); err != nil {
			return err
		}
	}

	for _, name := range policyNames {
		if err := p.deletePolicy(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// deleteRole detaches every attached policy and removes the role.
func (p *Provisioner) deleteRole(ctx context.Context, name string) error {
	attached, err := p.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(name),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			p.logger.Info("role already removed", "role", name)
			return nil
		}
		return fmt.Errorf("failed to list attachments of role %s: %w", name, err)
	}

	for _, ap := range attached.AttachedPolicies {
		_, err := p.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(name),
			PolicyArn: ap.PolicyArn,
		})
		if err != nil && !isNoSuchEntity(err) {
			return fmt.Errorf("failed to detach %s from role %s: %w", aws.ToString(ap.PolicyArn), name, err)
		}
	}

	_, err = p.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to delete role %s: %w", name, err)
	}
	p.logger.Info("role removed", "role", name)
	return nil
}

// deletePolicy removes all non-default versions, then the policy itself.
func (p *Provisioner) deletePolicy(ctx context.Context, name string) error {
	arn := p.policyARN(name)

	versions, err := p.client.ListPolicyVersions(ctx, &iam.ListPolicyVersionsInput{
		PolicyArn: aws.String(arn),
	})
	if err != nil {
		if isNoSuchEntity(err) {
			p.logger.Info("policy already removed", "policy", name)
			return nil
		}
		return fmt.Errorf("failed to list versions of %s: %w", name, err)
	}

	for _, v := range versions.Versions {
		if v.IsDefaultVersion {
			continue
		}
		_, err := p.client.DeletePolicyVersion(ctx, &iam.DeletePolicyVersionInput{
			PolicyArn: aws.String(arn),
			VersionId: v.VersionId,
		})
		if err != nil && !isNoSuchEntity(err) {
			return fmt.Errorf("failed to delete version %s of %s: %w", aws.ToString(v.VersionId), name, err)
		}
	}

	_, err = p.client.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: aws.String(arn)})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to delete policy %s: %w", name, err)
	}
	p.logger.Info("policy removed", "policy", name)
	return nil
}
