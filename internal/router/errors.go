package router

import (
	"fmt"
	"strings"

	"github.com/inferoute/inferoute/internal/providers"
	"github.com/inferoute/inferoute/internal/router/scoring"
)

// Attempt records one tried provider and how it failed.
type Attempt struct {
	Provider string                `json:"provider"`
	Kind     providers.FailureKind `json:"kind"`
	Err      error                 `json:"-"`
}

func (a Attempt) String() string {
	return fmt.Sprintf("%s=%s", a.Provider, a.Kind)
}

// NoCandidatesError means no provider survived mode restriction and the hard
// exclusion filters; nothing was invoked.
type NoCandidatesError struct {
	Mode       Mode
	Exclusions []scoring.Exclusion
}

// Error implements the error interface.
func (e *NoCandidatesError) Error() string {
	if len(e.Exclusions) == 0 {
		return fmt.Sprintf("no candidate providers (mode=%s)", e.Mode)
	}
	parts := make([]string, len(e.Exclusions))
	for i, x := range e.Exclusions {
		parts[i] = fmt.Sprintf("%s=%s", x.ProviderID, x.Reason)
	}
	return fmt.Sprintf("no candidate providers (mode=%s): %s", e.Mode, strings.Join(parts, ", "))
}

// ExhaustedError means every candidate was tried and failed. It always lists
// each attempt with its failure kind so operators can tell an outage from a
// quota wall from bad credentials.
type ExhaustedError struct {
	Attempts []Attempt
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("all %d candidates exhausted: %s", len(e.Attempts), strings.Join(parts, ", "))
}

// CanceledError means the caller's context ended before a provider succeeded.
// No further candidates were tried.
type CanceledError struct {
	Attempts []Attempt
	Err      error
}

// Error implements the error interface.
func (e *CanceledError) Error() string {
	return fmt.Sprintf("completion canceled after %d attempts: %v", len(e.Attempts), e.Err)
}

// Unwrap exposes the context error for errors.Is checks.
func (e *CanceledError) Unwrap() error {
	return e.Err
}
