package rewards

import "errors"

var (
	// ErrConcurrentClaim indicates another claim cycle for the user is
	// already committing; the attempt is rejected, not queued.
	ErrConcurrentClaim = errors.New("rewards: concurrent claim in progress")
	// ErrEmptyUserID indicates a missing user id.
	ErrEmptyUserID = errors.New("rewards: empty user id")
	// ErrEmptyClaimID indicates a missing claim id.
	ErrEmptyClaimID = errors.New("rewards: empty claim id")
	// ErrNilEntry indicates a nil reward entry.
	ErrNilEntry = errors.New("rewards: nil entry")
	// ErrClaimNotFound indicates no entries exist for a claim id.
	ErrClaimNotFound = errors.New("rewards: claim not found")
)
