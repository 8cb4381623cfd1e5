package sync

import (
	"fmt"
	"time"
)

// ValidateCandidate applies the per-chain admission checks to a candidate
// update against the last accepted record. The checks run in a fixed order
// and the first failure wins. The function is pure: it reads no state and
// performs no mutation, so it backs both the mutating sync path and the
// dry-run validator.
//
// current may be the zero record for a chain that has never synced.
func ValidateCandidate(candidate, current *ChainState, now time.Time, governance bool, policy Policy) error {
	if candidate == nil {
		return fmt.Errorf("%w: missing candidate", ErrInvalidEpoch)
	}
	localTime := uint64(now.Unix())
	maxDrift := uint64(policy.MaxDrift / time.Second)
	if candidate.Timestamp > localTime+maxDrift {
		return fmt.Errorf("%w: timestamp %d beyond drift window", ErrFutureTimestamp, candidate.Timestamp)
	}
	if candidate.Epoch == 0 {
		return ErrInvalidEpoch
	}
	if candidate.TotalSupply == nil || candidate.TotalSupply.Sign() <= 0 {
		return ErrInvalidSupply
	}
	var (
		storedEpoch     uint64
		storedTimestamp uint64
	)
	if current != nil {
		storedEpoch = current.Epoch
		storedTimestamp = current.Timestamp
	}
	if candidate.Timestamp <= storedTimestamp {
		return fmt.Errorf("%w: timestamp %d does not advance %d", ErrOutdatedState, candidate.Timestamp, storedTimestamp)
	}
	// Unreachable after the ordering check above; kept as an explicit no-op
	// guard against duplicate submissions.
	if candidate.Epoch == storedEpoch && candidate.Timestamp == storedTimestamp {
		return ErrIdenticalState
	}
	if !governance && candidate.Epoch > storedEpoch+policy.MaxEpochSkip {
		return fmt.Errorf("%w: epoch %d exceeds %d+%d", ErrEpochSkipped, candidate.Epoch, storedEpoch, policy.MaxEpochSkip)
	}
	return nil
}

// CheckCooldown enforces the system-wide spacing between accepted syncs. The
// timer is shared across every chain id, so a burst of updates from multiple
// relayers is throttled to one acceptance per window.
func CheckCooldown(lastUpdate uint64, now time.Time, policy Policy) error {
	if lastUpdate == 0 {
		return nil
	}
	cooldown := uint64(policy.StateUpdateCooldown / time.Second)
	if uint64(now.Unix()) < lastUpdate+cooldown {
		return fmt.Errorf("%w: cooldown active until %d", ErrTooFrequentUpdate, lastUpdate+cooldown)
	}
	return nil
}
