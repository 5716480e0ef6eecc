package domain

import "fmt"

// WarRoomError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type WarRoomError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *WarRoomError) Error() string {
	return fmt.Sprintf("warroom error %d: %s", e.Code, e.Message)
}

// NewWarRoomError creates a WarRoomError with a custom message under an
// existing code.
func NewWarRoomError(code int, msg string) *WarRoomError {
	return &WarRoomError{Code: code, Message: msg}
}

// WrapWarRoomError creates a WarRoomError that includes a cause.
func WrapWarRoomError(code int, msg string, cause error) *WarRoomError {
	return &WarRoomError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// CodeOf returns the WarRoomError code for err, or 0 when err is not one.
func CodeOf(err error) int {
	if we, ok := err.(*WarRoomError); ok {
		return we.Code
	}
	return 0
}

// ---- Validation errors (-31010 to -31039) ----

var (
	ErrSystemUnknown       = &WarRoomError{Code: -31010, Message: "system is not in the catalog"}
	ErrAlreadyClaimed      = &WarRoomError{Code: -31011, Message: "system is already claimed"}
	ErrTargetUnclaimed     = &WarRoomError{Code: -31012, Message: "target system is not claimed by any partner"}
	ErrSelfConflict        = &WarRoomError{Code: -31013, Message: "attacker and defender are the same partner"}
	ErrDuplicateConflict   = &WarRoomError{Code: -31014, Message: "an unresolved conflict already targets this system"}
	ErrItemNotOwned        = &WarRoomError{Code: -31015, Message: "proposal item is not claimed by the offering partner"}
	ErrHomeRegionProtected = &WarRoomError{Code: -31016, Message: "proposal item lies in a protected home region"}
	ErrInvalidEventType    = &WarRoomError{Code: -31017, Message: "event type is not player-filable"}
	ErrInvalidDirection    = &WarRoomError{Code: -31018, Message: "proposal item direction must be give or receive"}
	ErrInvalidRegion       = &WarRoomError{Code: -31019, Message: "region galaxy is required"}
)

// ---- State conflict errors (-31040 to -31069) ----

var (
	ErrConflictTerminal     = &WarRoomError{Code: -31040, Message: "conflict is already resolved or cancelled"}
	ErrInvalidTransition    = &WarRoomError{Code: -31041, Message: "invalid conflict status transition"}
	ErrNotNegotiable        = &WarRoomError{Code: -31042, Message: "conflict is not open for negotiation"}
	ErrPendingProposal      = &WarRoomError{Code: -31043, Message: "a pending proposal already exists for this conflict"}
	ErrCounterLimitExceeded = &WarRoomError{Code: -31044, Message: "counter limit exceeded"}
	ErrNoProposalToCounter  = &WarRoomError{Code: -31045, Message: "no proposal exists to counter"}
	ErrProposalNotPending   = &WarRoomError{Code: -31046, Message: "proposal is no longer pending"}
	ErrVersionConflict      = &WarRoomError{Code: -31047, Message: "conflict state was modified concurrently"}
)

// ---- Not found errors (-31070 to -31099) ----

var (
	ErrClaimNotFound      = &WarRoomError{Code: -31070, Message: "claim not found"}
	ErrConflictNotFound   = &WarRoomError{Code: -31071, Message: "conflict not found"}
	ErrProposalNotFound   = &WarRoomError{Code: -31072, Message: "proposal not found"}
	ErrHomeRegionNotFound = &WarRoomError{Code: -31073, Message: "home region not set"}
)

// ---- Authorization errors (-31100 to -31129) ----

var (
	ErrNotClaimant    = &WarRoomError{Code: -31100, Message: "only the claimant or an admin may release a claim"}
	ErrNotRecipient   = &WarRoomError{Code: -31101, Message: "only the designated recipient may act on this proposal"}
	ErrNotParticipant = &WarRoomError{Code: -31102, Message: "caller is not a party to this conflict"}
	ErrAdminOnly      = &WarRoomError{Code: -31103, Message: "operation requires super-admin"}
	ErrTokenInvalid   = &WarRoomError{Code: -31104, Message: "bearer token is missing or invalid"}
)

// ---- Transfer errors (-31130 to -31159) ----

var (
	ErrTransferFailed = &WarRoomError{Code: -31130, Message: "territory transfer failed and was rolled back"}
)

// ---- Store / config errors (-31160 to -31189) ----

var (
	ErrStoreInit     = &WarRoomError{Code: -31160, Message: "failed to initialize store"}
	ErrStoreQuery    = &WarRoomError{Code: -31161, Message: "store query failed"}
	ErrStoreWrite    = &WarRoomError{Code: -31162, Message: "store write failed"}
	ErrConfigInvalid = &WarRoomError{Code: -31163, Message: "invalid configuration"}
)
