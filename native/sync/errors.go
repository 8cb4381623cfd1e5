package sync

import "errors"

var (
	// ErrZeroAddress indicates the caller address was all zeroes.
	ErrZeroAddress = errors.New("sync: zero caller address")
	// ErrInvalidChainID indicates a zero chain id or an inconsistent
	// membership change (duplicate add, absent remove).
	ErrInvalidChainID = errors.New("sync: invalid chain id")
	// ErrFutureTimestamp indicates the candidate timestamp exceeded local
	// time by more than the drift allowance.
	ErrFutureTimestamp = errors.New("sync: future-dated timestamp")
	// ErrInvalidEpoch indicates a zero candidate epoch or a non-increasing
	// admin epoch advance.
	ErrInvalidEpoch = errors.New("sync: invalid epoch")
	// ErrEpochSkipped indicates a non-governance update jumped the epoch past
	// the allowed skip bound.
	ErrEpochSkipped = errors.New("sync: epoch skip exceeds bound")
	// ErrInvalidSupply indicates a zero or missing total supply.
	ErrInvalidSupply = errors.New("sync: invalid total supply")
	// ErrOutdatedState indicates the candidate timestamp does not advance the
	// stored one.
	ErrOutdatedState = errors.New("sync: outdated state")
	// ErrIdenticalState indicates the candidate repeats the stored
	// (epoch, timestamp) pair.
	ErrIdenticalState = errors.New("sync: identical state")
	// ErrTooFrequentUpdate indicates the global sync cooldown or the halving
	// interval has not elapsed.
	ErrTooFrequentUpdate = errors.New("sync: update too frequent")
	// ErrNotGovernanceChain indicates an epoch advance was attempted on a
	// non-governance deployment.
	ErrNotGovernanceChain = errors.New("sync: not the governance chain")
	// ErrInvalidEmergencyOverride indicates the override epoch exceeded the
	// emergency bound.
	ErrInvalidEmergencyOverride = errors.New("sync: invalid emergency override")
	// ErrUnsupportedChain indicates the chain id is not in the supported set.
	ErrUnsupportedChain = errors.New("sync: unsupported chain")
	// ErrUnauthorized indicates the caller lacks the role required by the
	// operation.
	ErrUnauthorized = errors.New("sync: unauthorized")
	// ErrReentrantCall indicates a nested invocation of a state-mutating
	// entry point.
	ErrReentrantCall = errors.New("sync: reentrant call")

	errStateNotConfigured = errors.New("sync: state not configured")
)

// Reason maps a validation failure to a stable machine-readable code for
// dry-run responses and metrics labels. Unknown errors map to "error".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrInvalidChainID):
		return "invalid_chain_id"
	case errors.Is(err, ErrFutureTimestamp):
		return "future_timestamp"
	case errors.Is(err, ErrInvalidEpoch):
		return "invalid_epoch"
	case errors.Is(err, ErrEpochSkipped):
		return "epoch_skipped"
	case errors.Is(err, ErrInvalidSupply):
		return "invalid_supply"
	case errors.Is(err, ErrOutdatedState):
		return "outdated_state"
	case errors.Is(err, ErrIdenticalState):
		return "identical_state"
	case errors.Is(err, ErrTooFrequentUpdate):
		return "too_frequent_update"
	case errors.Is(err, ErrNotGovernanceChain):
		return "not_governance_chain"
	case errors.Is(err, ErrInvalidEmergencyOverride):
		return "invalid_emergency_override"
	case errors.Is(err, ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	default:
		return "error"
	}
}
