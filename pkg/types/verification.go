package types

import "time"

// VerificationState is the terminal state of a verification query. Every
// query ends in exactly one of these; there is no pending state.
type VerificationState string

const (
	// VerificationMatched means the item was found and every expected
	// attribute carried the expected value.
	VerificationMatched VerificationState = "found-matched"
	// VerificationMismatched means the item was found but at least one
	// attribute differed from its expectation.
	VerificationMismatched VerificationState = "found-mismatched"
	// VerificationNotFound means the item never appeared within the poll
	// timeout. The router may still be processing it; this states only that
	// no confirmation was obtained in the window.
	VerificationNotFound VerificationState = "not-found-timeout"
	// VerificationBackendError means no configured backend was usable, so
	// nothing can be said about the item at all.
	VerificationBackendError VerificationState = "backend-error"
)

// AttributeMismatch records one expected attribute that the stored item did
// not carry as expected.
type AttributeMismatch struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerificationResult is the terminal outcome of one verification query.
type VerificationResult struct {
	StudyUID   string              `json:"study_uid"`
	State      VerificationState   `json:"state"`
	Backend    string              `json:"backend,omitempty"`
	Found      bool                `json:"found"`
	Actual     AttributeSet        `json:"actual,omitempty"`
	Mismatches []AttributeMismatch `json:"mismatches,omitempty"`
	Attempts   int                 `json:"attempts"`
	Elapsed    time.Duration       `json:"elapsed_ns"`
	Err        string              `json:"error,omitempty"`
}

// Matched reports whether the query confirmed the item with all expectations met.
func (r VerificationResult) Matched() bool {
	return r.State == VerificationMatched
}
