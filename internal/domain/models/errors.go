package models

import "fmt"

// InvalidTransitionError rejects an illegal call status change.
// The session is left unchanged.
type InvalidTransitionError struct {
	CallID string
	From   CallStatus
	To     CallStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for call %s", e.From, e.To, e.CallID)
}

// ValidationError flags malformed identifiers. Callers normalize
// best-effort instead of failing, so this is rarely fatal.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ExternalServiceError wraps a collaborator failure or timeout. It is
// always caught at the component boundary and converted into a
// degraded-but-valid result.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// CorpusLoadError reports a missing or unreadable reference corpus.
// Logged as a warning at startup; the analyzer proceeds with an
// empty corpus.
type CorpusLoadError struct {
	Path string
	Err  error
}

func (e *CorpusLoadError) Error() string {
	return fmt.Sprintf("corpus load %s: %v", e.Path, e.Err)
}

func (e *CorpusLoadError) Unwrap() error {
	return e.Err
}
