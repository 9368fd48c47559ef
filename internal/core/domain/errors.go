// Package domain contains the core deployment data model and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// Configuration errors
	ErrConfigMissing = errors.New("required configuration key missing")

	// Resolution errors (name -> ARN lookups)
	ErrResourceResolutionFailed = errors.New("resource resolution failed")

	// Registry errors
	ErrTransientRegistry = errors.New("registry push failed after all retry attempts")

	// Launch errors
	ErrLaunchRejected = errors.New("launch request rejected by the platform")

	// Execution errors
	ErrExecutionFailed       = errors.New("container exited with a non-zero code")
	ErrInfrastructureFailure = errors.New("execution stopped without reporting an exit code")

	// Identity errors
	ErrPolicyVersionLimit = errors.New("policy version pruning failed")
)

// MissingKeysError reports configuration keys that are absent for the phase
// about to run. Matched by errors.Is against ErrConfigMissing.
type MissingKeysError struct {
	Phase string // "infrastructure" or "workload"
	Keys  []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("missing required %s configuration: %s", e.Phase, strings.Join(e.Keys, ", "))
}

func (e *MissingKeysError) Unwrap() error {
	return ErrConfigMissing
}

// NewMissingKeysError creates a new MissingKeysError.
func NewMissingKeysError(phase string, keys []string) *MissingKeysError {
	return &MissingKeysError{Phase: phase, Keys: keys}
}

// ResolutionError reports a resource name that could not be mapped to a
// concrete identifier in the target region.
type ResolutionError struct {
	Kind   string // e.g. "secret", "role", "subnet"
	Name   string
	Region string
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s %q not found in region %s", e.Kind, e.Name, e.Region)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResourceResolutionFailed
}

// NewResolutionError creates a new ResolutionError.
func NewResolutionError(kind, name, region string, err error) *ResolutionError {
	return &ResolutionError{Kind: kind, Name: name, Region: region, Err: err}
}

// RegistryError reports a push that failed after exhausting its attempt budget.
type RegistryError struct {
	Image    string
	Attempts int
	Err      error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("push of %s failed after %d attempts: %v", e.Image, e.Attempts, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func (e *RegistryError) Is(target error) bool {
	return target == ErrTransientRegistry
}

// LaunchRejectedError carries every failure reason the platform returned for
// a run request. The full list is surfaced to the operator verbatim.
type LaunchRejectedError struct {
	Reasons []string
}

func (e *LaunchRejectedError) Error() string {
	return fmt.Sprintf("launch rejected: %s", strings.Join(e.Reasons, "; "))
}

func (e *LaunchRejectedError) Unwrap() error {
	return ErrLaunchRejected
}

// ExitCodeError reports a container that ran to completion and exited non-zero.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("container exited with code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return ErrExecutionFailed
}

// InfrastructureError reports an execution that stopped without ever
// producing an exit code, which points at image pull or network
// misconfiguration rather than workload logic.
type InfrastructureError struct {
	StopReason      string
	ContainerReason string
}

func (e *InfrastructureError) Error() string {
	msg := "execution stopped without an exit code"
	if e.StopReason != "" {
		msg += ": " + e.StopReason
	}
	if e.ContainerReason != "" {
		msg += " (" + e.ContainerReason + ")"
	}
	return msg
}

func (e *InfrastructureError) Unwrap() error {
	return ErrInfrastructureFailure
}
