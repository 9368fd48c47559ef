// Package taskdef contains pure functions for parsing, validating, and
// rendering container task definitions.
// This is part of the Functional Core - all functions are pure with no I/O.
package taskdef

import (
	"errors"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrEmptyTemplate = errors.New("task definition template is empty")

	// Syntax errors
	ErrInvalidJSON = errors.New("invalid JSON syntax")
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrTemplateInvalid = errors.New("template is not a valid Fargate task definition")
)

// TemplateError collects every structural problem found in a template so the
// operator can fix them in one pass.
type TemplateError struct {
	Problems []string
}

func (e *TemplateError) Error() string {
	return "template is structurally invalid: " + strings.Join(e.Problems, "; ")
}

func (e *TemplateError) Unwrap() error {
	return ErrTemplateInvalid
}
