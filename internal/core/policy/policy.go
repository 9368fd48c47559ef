// Package policy composes least-privilege IAM policy documents for the two
// deployment identities: the execution identity the platform assumes to pull
// images and write logs, and the task identity the workload assumes for its
// own storage, notification, and secret access.
// This is part of the Functional Core - all functions are pure with no I/O.
package policy

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// Policy Documents
// =============================================================================

// Version is the IAM policy language version every document declares.
const Version = "2012-10-17"

// TaskPrincipal is the service principal allowed to assume both identities.
const TaskPrincipal = "ecs-tasks.amazonaws.com"

// Document is an IAM policy document in wire format.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is one entry of a policy document.
type Statement struct {
	Sid       string                       `json:"Sid,omitempty"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal,omitempty"`
	Action    []string                     `json:"Action"`
	Resource  []string                     `json:"Resource,omitempty"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

// JSON renders the document for the identity service.
func (d Document) JSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy document: %w", err)
	}
	return string(data), nil
}

// TrustPolicy returns the assume-role document shared by both identities.
func TrustPolicy() Document {
	return Document{
		Version: Version,
		Statement: []Statement{
			{
				Effect:    "Allow",
				Principal: map[string]string{"Service": TaskPrincipal},
				Action:    []string{"sts:AssumeRole"},
			},
		},
	}
}

// =============================================================================
// Composition Inputs
// =============================================================================

// Inputs carries the resource identifiers known at composition time. Empty
// fields mean "not configured" and suppress the statements that would scope
// to them; the composer never invents broader access to compensate, except
// for the documented unrestricted-send fallback when no sender is known.
type Inputs struct {
	Region        string
	AccountID     string
	LogGroup      string
	SecretARN     string
	InputBucket   string
	OutputBucket  string
	AuditBucket   string
	SenderAddress string
}

func (in Inputs) logGroupARN() string {
	return fmt.Sprintf("arn:aws:logs:%s:%s:log-group:%s", in.Region, in.AccountID, in.LogGroup)
}

func bucketARN(bucket string) string {
	return "arn:aws:s3:::" + bucket
}

// =============================================================================
// Execution Identity Document
// =============================================================================

// ExecutionDocument composes the policy for the platform-side identity:
// log delivery always, secret retrieval only when a secret is configured.
// Decryption is constrained by encryption context because the key ARN
// itself is not known at composition time.
func ExecutionDocument(in Inputs) Document {
	logARN := in.logGroupARN()
	statements := []Statement{
		{
			Sid:      "WriteTaskLogs",
			Effect:   "Allow",
			Action:   []string{"logs:CreateLogStream", "logs:PutLogEvents"},
			Resource: []string{logARN, logARN + ":*"},
		},
	}

	if in.SecretARN != "" {
		statements = append(statements,
			Statement{
				Sid:      "ReadTaskSecret",
				Effect:   "Allow",
				Action:   []string{"secretsmanager:GetSecretValue"},
				Resource: []string{in.SecretARN},
			},
			Statement{
				Sid:      "DecryptTaskSecret",
				Effect:   "Allow",
				Action:   []string{"kms:Decrypt"},
				Resource: []string{"*"},
				Condition: map[string]map[string]string{
					"StringEquals": {"kms:EncryptionContext:SecretARN": in.SecretARN},
				},
			},
		)
	}

	return Document{Version: Version, Statement: statements}
}

// =============================================================================
// Task Identity Document
// =============================================================================

// TaskDocument composes the policy for the workload-side identity: input
// bucket read-only, output and audit buckets read-write, report sending
// restricted to the configured sender address when one is known. Statements
// are emitted only for buckets that are actually configured, and a bucket
// serving both output and audit duty appears once.
func TaskDocument(in Inputs) Document {
	var statements []Statement

	if in.InputBucket != "" {
		statements = append(statements,
			Statement{
				Sid:      "ListInputBucket",
				Effect:   "Allow",
				Action:   []string{"s3:ListBucket"},
				Resource: []string{bucketARN(in.InputBucket)},
			},
			Statement{
				Sid:      "ReadInputObjects",
				Effect:   "Allow",
				Action:   []string{"s3:GetObject"},
				Resource: []string{bucketARN(in.InputBucket) + "/*"},
			},
		)
	}

	if in.OutputBucket != "" {
		statements = append(statements, readWriteBucket("Output", in.OutputBucket)...)
	}
	if in.AuditBucket != "" && in.AuditBucket != in.OutputBucket {
		statements = append(statements, readWriteBucket("Audit", in.AuditBucket)...)
	}

	send := Statement{
		Sid:      "SendReportEmail",
		Effect:   "Allow",
		Action:   []string{"ses:SendEmail", "ses:SendRawEmail"},
		Resource: []string{"*"},
	}
	if in.SenderAddress != "" {
		send.Condition = map[string]map[string]string{
			"StringEquals": {"ses:FromAddress": in.SenderAddress},
		}
	}
	statements = append(statements, send)

	return Document{Version: Version, Statement: statements}
}

func readWriteBucket(label, bucket string) []Statement {
	return []Statement{
		{
			Sid:      "List" + label + "Bucket",
			Effect:   "Allow",
			Action:   []string{"s3:ListBucket"},
			Resource: []string{bucketARN(bucket)},
		},
		{
			Sid:      "ReadWrite" + label + "Objects",
			Effect:   "Allow",
			Action:   []string{"s3:GetObject", "s3:PutObject"},
			Resource: []string{bucketARN(bucket) + "/*"},
		},
	}
}

// =============================================================================
// Policy Naming
// =============================================================================

// ExecutionPolicyName returns the customer-managed policy name for the
// execution identity of a task family.
func ExecutionPolicyName(family string) string {
	return family + "-execution"
}

// TaskPolicyName returns the customer-managed policy name for the task
// identity of a task family.
func TaskPolicyName(family string) string {
	return family + "-task"
}
