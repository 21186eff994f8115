package types

import "errors"

// Sentinel error kinds for external-boundary failures. Stages wrap these
// with fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrConfigMissing marks a subsystem whose required configuration is
	// absent. Non-fatal at boot: the subsystem runs in degraded mode.
	ErrConfigMissing = errors.New("config missing")

	// ErrExternalUnavailable marks an LLM, VCS, vector, or KV endpoint
	// that stayed down through the stage's retry budget.
	ErrExternalUnavailable = errors.New("external unavailable")

	// ErrPolicyViolation marks a proposal rejected before apply: protected
	// file, invalid filename, or oversize.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrSanityFailure marks residual conflict markers, diff formatting,
	// syntax errors, or imports that resolve to nothing.
	ErrSanityFailure = errors.New("sanity failure")

	// ErrNoChange marks a proposal whose normalised content equals what is
	// already on disk.
	ErrNoChange = errors.New("no change")

	// ErrTestFailure marks a post-apply test sweep failure. Every applied
	// file must be rolled back from its fresh backup.
	ErrTestFailure = errors.New("test failure")

	// ErrPushRejected marks a push the remote refused even with a lease
	// check. The data-API fallback path runs next.
	ErrPushRejected = errors.New("push rejected")

	// ErrTimeout marks a stage deadline expiry.
	ErrTimeout = errors.New("timeout")
)
