package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"halochain/core/types"
)

const (
	// TypeStateSynced is emitted whenever a relayed chain state update is
	// accepted and written to the store.
	TypeStateSynced = "sync.state"
	// TypeEpochAdvanced marks a global halving-epoch advance, whether driven
	// by the admin path or implicitly by an accepted sync.
	TypeEpochAdvanced = "sync.epoch"
	// TypeEmergencyOverride marks a privileged state write that bypassed the
	// normal validation pipeline.
	TypeEmergencyOverride = "sync.emergency"
	// TypeChainAdded and TypeChainRemoved track supported-chain membership.
	TypeChainAdded   = "sync.chain.added"
	TypeChainRemoved = "sync.chain.removed"
	// TypeGovernanceUpdated records a change of the local governance flag.
	TypeGovernanceUpdated = "sync.governance"
	// TypeLocalSnapshotRecorded marks an oracle refresh of the local
	// economic snapshot used to prepare outbound updates.
	TypeLocalSnapshotRecorded = "sync.snapshot"

	// EpochSourceAdmin and EpochSourceSync identify which path advanced the
	// global epoch counter.
	EpochSourceAdmin = "admin"
	EpochSourceSync  = "sync"
)

// StateSynced captures an accepted cross-chain state update.
type StateSynced struct {
	ChainID     uint16
	Epoch       uint64
	Timestamp   uint64
	TotalSupply *big.Int
	TWAPPrice   *big.Int
	Actor       [20]byte
}

// EventType implements the Event interface.
func (StateSynced) EventType() string { return TypeStateSynced }

// Event converts the struct into a types.Event payload.
func (e StateSynced) Event() *types.Event {
	attrs := map[string]string{
		"chainId":   strconv.FormatUint(uint64(e.ChainID), 10),
		"epoch":     strconv.FormatUint(e.Epoch, 10),
		"timestamp": strconv.FormatUint(e.Timestamp, 10),
		"actor":     hex.EncodeToString(e.Actor[:]),
	}
	attrs["totalSupply"] = bigString(e.TotalSupply)
	attrs["twapPrice"] = bigString(e.TWAPPrice)
	return &types.Event{Type: TypeStateSynced, Attributes: attrs}
}

// EpochAdvanced signals that the global halving epoch moved forward.
type EpochAdvanced struct {
	Epoch         uint64
	PreviousEpoch uint64
	HalvingTime   uint64
	Source        string
	Actor         [20]byte
}

// EventType implements the Event interface.
func (EpochAdvanced) EventType() string { return TypeEpochAdvanced }

// Event converts the advance into a types.Event payload.
func (e EpochAdvanced) Event() *types.Event {
	attrs := map[string]string{
		"epoch":         strconv.FormatUint(e.Epoch, 10),
		"previousEpoch": strconv.FormatUint(e.PreviousEpoch, 10),
		"halvingTime":   strconv.FormatUint(e.HalvingTime, 10),
		"source":        e.Source,
		"actor":         hex.EncodeToString(e.Actor[:]),
	}
	return &types.Event{Type: TypeEpochAdvanced, Attributes: attrs}
}

// EmergencyOverride captures a forced chain state write.
type EmergencyOverride struct {
	ChainID     uint16
	Epoch       uint64
	Timestamp   uint64
	TotalSupply *big.Int
	TWAPPrice   *big.Int
	Actor       [20]byte
}

// EventType implements the Event interface.
func (EmergencyOverride) EventType() string { return TypeEmergencyOverride }

// Event converts the override into a types.Event payload.
func (e EmergencyOverride) Event() *types.Event {
	attrs := map[string]string{
		"chainId":     strconv.FormatUint(uint64(e.ChainID), 10),
		"epoch":       strconv.FormatUint(e.Epoch, 10),
		"timestamp":   strconv.FormatUint(e.Timestamp, 10),
		"totalSupply": bigString(e.TotalSupply),
		"twapPrice":   bigString(e.TWAPPrice),
		"actor":       hex.EncodeToString(e.Actor[:]),
	}
	return &types.Event{Type: TypeEmergencyOverride, Attributes: attrs}
}

// ChainSupportUpdated records an addition to or removal from the
// supported-chain set.
type ChainSupportUpdated struct {
	ChainID uint16
	Added   bool
	Actor   [20]byte
}

// EventType implements the Event interface.
func (e ChainSupportUpdated) EventType() string {
	if e.Added {
		return TypeChainAdded
	}
	return TypeChainRemoved
}

// Event converts the membership change into a types.Event payload.
func (e ChainSupportUpdated) Event() *types.Event {
	attrs := map[string]string{
		"chainId": strconv.FormatUint(uint64(e.ChainID), 10),
		"actor":   hex.EncodeToString(e.Actor[:]),
	}
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// GovernanceUpdated records a change of the local deployment's governance
// designation.
type GovernanceUpdated struct {
	Governance bool
	Actor      [20]byte
}

// EventType implements the Event interface.
func (GovernanceUpdated) EventType() string { return TypeGovernanceUpdated }

// Event converts the flag change into a types.Event payload.
func (e GovernanceUpdated) Event() *types.Event {
	attrs := map[string]string{
		"governance": strconv.FormatBool(e.Governance),
		"actor":      hex.EncodeToString(e.Actor[:]),
	}
	return &types.Event{Type: TypeGovernanceUpdated, Attributes: attrs}
}

// LocalSnapshotRecorded captures an oracle refresh of the local economic
// snapshot.
type LocalSnapshotRecorded struct {
	TotalSupply *big.Int
	TWAPPrice   *big.Int
	Height      uint64
	Actor       [20]byte
}

// EventType implements the Event interface.
func (LocalSnapshotRecorded) EventType() string { return TypeLocalSnapshotRecorded }

// Event converts the snapshot refresh into a types.Event payload.
func (e LocalSnapshotRecorded) Event() *types.Event {
	attrs := map[string]string{
		"totalSupply": bigString(e.TotalSupply),
		"twapPrice":   bigString(e.TWAPPrice),
		"height":      strconv.FormatUint(e.Height, 10),
		"actor":       hex.EncodeToString(e.Actor[:]),
	}
	return &types.Event{Type: TypeLocalSnapshotRecorded, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
