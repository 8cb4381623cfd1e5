package sync

import (
	"math/big"
	"time"
)

const (
	// RoleSync authorizes relayers to submit and prepare state updates.
	RoleSync = "ROLE_SYNC"
	// RoleAdmin authorizes epoch advances, governance designation, and
	// supported-chain membership changes.
	RoleAdmin = "ROLE_ADMIN"
	// RoleEmergency authorizes the validation-bypassing override path.
	RoleEmergency = "ROLE_EMERGENCY"
	// RoleOracle authorizes refreshing the local economic snapshot.
	RoleOracle = "ROLE_ORACLE"
)

const (
	// DefaultMaxDrift bounds how far into the future a reported timestamp may
	// lie relative to local wall-clock time.
	DefaultMaxDrift = 15 * time.Minute
	// DefaultStateUpdateCooldown is the minimum spacing between accepted
	// syncs across all chains.
	DefaultStateUpdateCooldown = 30 * time.Minute
	// DefaultMinHalvingInterval is the minimum spacing between explicit admin
	// epoch advances.
	DefaultMinHalvingInterval = 7 * 24 * time.Hour
	// DefaultMaxEpochSkip bounds how far a non-governance update may advance
	// the epoch past the stored value in a single sync.
	DefaultMaxEpochSkip uint64 = 1
	// DefaultEmergencyEpochBound bounds how far past the current global epoch
	// an emergency override may reach.
	DefaultEmergencyEpochBound uint64 = 5
)

// ChainState is the last accepted economic snapshot for a remote chain.
type ChainState struct {
	Epoch            uint64
	Timestamp        uint64
	TotalSupply      *big.Int
	TWAPPrice        *big.Int
	LastUpdateHeight uint64
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (s *ChainState) Clone() *ChainState {
	if s == nil {
		return nil
	}
	clone := &ChainState{
		Epoch:            s.Epoch,
		Timestamp:        s.Timestamp,
		LastUpdateHeight: s.LastUpdateHeight,
	}
	if s.TotalSupply != nil {
		clone.TotalSupply = new(big.Int).Set(s.TotalSupply)
	}
	if s.TWAPPrice != nil {
		clone.TWAPPrice = new(big.Int).Set(s.TWAPPrice)
	}
	return clone
}

// Normalize replaces nil big values with zero so downstream consumers never
// observe nil pointers.
func (s *ChainState) Normalize() {
	if s == nil {
		return
	}
	if s.TotalSupply == nil {
		s.TotalSupply = big.NewInt(0)
	}
	if s.TWAPPrice == nil {
		s.TWAPPrice = big.NewInt(0)
	}
}

// GlobalState holds the shared halving-epoch counter and the timers gating
// its advancement. Supported-chain membership is tracked separately by the
// state backend.
type GlobalState struct {
	CurrentEpoch        uint64
	LastHalvingTime     uint64
	LastStateUpdateTime uint64
	GovernanceChain     bool
}

// LocalSnapshot is the deployment's own economic state, refreshed by an
// oracle and encoded by PrepareStateUpdate for outbound relay.
type LocalSnapshot struct {
	TotalSupply *big.Int
	TWAPPrice   *big.Int
	Height      uint64
}

// Clone returns a deep copy of the snapshot.
func (s *LocalSnapshot) Clone() *LocalSnapshot {
	if s == nil {
		return nil
	}
	clone := &LocalSnapshot{Height: s.Height}
	if s.TotalSupply != nil {
		clone.TotalSupply = new(big.Int).Set(s.TotalSupply)
	}
	if s.TWAPPrice != nil {
		clone.TWAPPrice = new(big.Int).Set(s.TWAPPrice)
	}
	return clone
}

// Policy captures the runtime knobs governing update admission. Zero values
// fall back to the package defaults when applied via Engine.SetPolicy.
type Policy struct {
	MaxDrift            time.Duration
	StateUpdateCooldown time.Duration
	MinHalvingInterval  time.Duration
	MaxEpochSkip        uint64
	EmergencyEpochBound uint64
}

// DefaultPolicy returns the protocol constants.
func DefaultPolicy() Policy {
	return Policy{
		MaxDrift:            DefaultMaxDrift,
		StateUpdateCooldown: DefaultStateUpdateCooldown,
		MinHalvingInterval:  DefaultMinHalvingInterval,
		MaxEpochSkip:        DefaultMaxEpochSkip,
		EmergencyEpochBound: DefaultEmergencyEpochBound,
	}
}
