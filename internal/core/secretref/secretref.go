// Package secretref classifies secret values and formats the references a
// container platform uses to inject them.
// This is part of the Functional Core - all functions are pure with no I/O.
package secretref

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// Secret References
// =============================================================================

// Reference points at a secret, optionally selecting one key inside a
// structured (JSON object) secret value. References are read-only; the
// orchestrator never mutates the secret itself.
type Reference struct {
	ARN string
	Key string
}

// IsARN reports whether the identifier is already a full ARN rather than a
// bare secret name.
func IsARN(id string) bool {
	return strings.HasPrefix(id, "arn:")
}

// Classify decides between a keyed and a plain reference by probing the
// secret's string value. A keyed reference is returned only when the value
// parses as a JSON object that contains expectedKey; every other shape
// (opaque string, JSON array, JSON scalar) yields a plain reference.
//
// Examples:
//
//	Classify(arn, `{"OPENAI_API_KEY":"sk-..."}`, "OPENAI_API_KEY")
//	// Returns: Reference{ARN: arn, Key: "OPENAI_API_KEY"}
//
//	Classify(arn, `sk-raw-token`, "OPENAI_API_KEY")
//	// Returns: Reference{ARN: arn}
func Classify(arn, value, expectedKey string) Reference {
	if expectedKey == "" {
		return Reference{ARN: arn}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return Reference{ARN: arn}
	}
	if _, ok := doc[expectedKey]; !ok {
		return Reference{ARN: arn}
	}
	return Reference{ARN: arn, Key: expectedKey}
}

// Keyed reports whether the reference selects a key inside a structured
// secret.
func (r Reference) Keyed() bool {
	return r.Key != ""
}

// ValueFrom renders the reference in the form the task definition expects:
// the bare ARN for plain references, "<arn>:<key>::" for keyed ones. The two
// trailing colons leave version stage and version id at their defaults.
func (r Reference) ValueFrom() string {
	if r.Key == "" {
		return r.ARN
	}
	return r.ARN + ":" + r.Key + "::"
}
