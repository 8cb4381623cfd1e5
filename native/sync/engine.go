package sync

import (
	"fmt"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"halochain/core/events"
)

// syncState is the narrow persistence contract the engine needs from the
// state backend.
type syncState interface {
	HasRole(role string, addr []byte) bool
	ChainState(chainID uint16) (*ChainState, bool, error)
	PutChainState(chainID uint16, state *ChainState) error
	Global() (*GlobalState, error)
	PutGlobal(global *GlobalState) error
	IsSupportedChain(chainID uint16) (bool, error)
	AddSupportedChain(chainID uint16) error
	RemoveSupportedChain(chainID uint16) error
	SupportedChains() ([]uint16, error)
	LocalSnapshot() (*LocalSnapshot, bool, error)
	PutLocalSnapshot(snapshot *LocalSnapshot) error
}

// Engine orchestrates cross-deployment state synchronization: admission of
// relayed chain state updates, the global halving-epoch counter, supported
// chain membership, and the emergency override path.
//
// Each mutating operation runs as a single atomic unit of work guarded by a
// non-blocking entry latch: an invocation arriving while another is in
// flight (including a nested call from an event subscriber) is rejected with
// ErrReentrantCall rather than queued. Callers own retry policy.
type Engine struct {
	state        syncState
	emitter      events.Emitter
	nowFn        func() time.Time
	policy       Policy
	localChainID uint16
	entered      atomic.Bool
}

// NewEngine constructs a sync engine with default no-op dependencies and the
// protocol default policy.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		policy:  DefaultPolicy(),
	}
}

// SetState wires the engine to the state backend providing persistence.
func (e *Engine) SetState(state syncState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for drift and cooldown checks.
// Nil restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetPolicy updates the runtime admission policy. Zero fields fall back to
// the protocol defaults.
func (e *Engine) SetPolicy(policy Policy) {
	if e == nil {
		return
	}
	defaults := DefaultPolicy()
	if policy.MaxDrift <= 0 {
		policy.MaxDrift = defaults.MaxDrift
	}
	if policy.StateUpdateCooldown <= 0 {
		policy.StateUpdateCooldown = defaults.StateUpdateCooldown
	}
	if policy.MinHalvingInterval <= 0 {
		policy.MinHalvingInterval = defaults.MinHalvingInterval
	}
	if policy.MaxEpochSkip == 0 {
		policy.MaxEpochSkip = defaults.MaxEpochSkip
	}
	if policy.EmergencyEpochBound == 0 {
		policy.EmergencyEpochBound = defaults.EmergencyEpochBound
	}
	e.policy = policy
}

// SetLocalChain records the chain id this deployment reports in outbound
// state updates.
func (e *Engine) SetLocalChain(chainID uint16) { e.localChainID = chainID }

// LocalChain returns the configured local chain id.
func (e *Engine) LocalChain() uint16 { return e.localChainID }

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) emit(evts ...events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		e.emitter.Emit(evt)
	}
}

func (e *Engine) begin() error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) end() { e.entered.Store(false) }

func (e *Engine) authorize(role string, caller [20]byte) error {
	if caller == ([20]byte{}) {
		return ErrZeroAddress
	}
	if !e.state.HasRole(role, caller[:]) {
		return fmt.Errorf("%w: missing %s", ErrUnauthorized, role)
	}
	return nil
}

// SyncState admits a relayed chain state update. The candidate runs through
// the shared cooldown and the ordered per-chain validation; on acceptance the
// record is overwritten and the global epoch may advance as a side effect.
func (e *Engine) SyncState(caller [20]byte, chainID uint16, candidate *ChainState) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleSync, caller); err != nil {
		return err
	}
	if chainID == 0 {
		return ErrInvalidChainID
	}
	supported, err := e.state.IsSupportedChain(chainID)
	if err != nil {
		return err
	}
	if !supported {
		return fmt.Errorf("%w: chain %d", ErrUnsupportedChain, chainID)
	}

	global, err := e.state.Global()
	if err != nil {
		return err
	}
	now := e.now()
	if err := CheckCooldown(global.LastStateUpdateTime, now, e.policy); err != nil {
		return err
	}
	current, _, err := e.state.ChainState(chainID)
	if err != nil {
		return err
	}
	if err := ValidateCandidate(candidate, current, now, global.GovernanceChain, e.policy); err != nil {
		return err
	}

	stored := candidate.Clone()
	stored.Normalize()
	if err := e.state.PutChainState(chainID, stored); err != nil {
		return err
	}

	emitted := []events.Event{events.StateSynced{
		ChainID:     chainID,
		Epoch:       stored.Epoch,
		Timestamp:   stored.Timestamp,
		TotalSupply: stored.TotalSupply,
		TWAPPrice:   stored.TWAPPrice,
		Actor:       caller,
	}}

	nowUnix := uint64(now.Unix())
	// Implicit epoch advance. The counter only moves forward: a lagging
	// governance update must not rewind the shared clock. Unlike the admin
	// path this deliberately skips the halving-interval throttle.
	if stored.Epoch > global.CurrentEpoch {
		previous := global.CurrentEpoch
		global.CurrentEpoch = stored.Epoch
		global.LastHalvingTime = nowUnix
		emitted = append(emitted, events.EpochAdvanced{
			Epoch:         global.CurrentEpoch,
			PreviousEpoch: previous,
			HalvingTime:   global.LastHalvingTime,
			Source:        events.EpochSourceSync,
			Actor:         caller,
		})
	}
	global.LastStateUpdateTime = nowUnix
	if err := e.state.PutGlobal(global); err != nil {
		return err
	}

	e.emit(emitted...)
	return nil
}

// EmergencyStateOverride force-writes a chain record, bypassing membership,
// ordering, drift, and cooldown checks. The only admission rule is the
// bounded epoch delta against the current global epoch.
func (e *Engine) EmergencyStateOverride(caller [20]byte, chainID uint16, state *ChainState) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleEmergency, caller); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: missing state", ErrInvalidEmergencyOverride)
	}
	global, err := e.state.Global()
	if err != nil {
		return err
	}
	if state.Epoch > global.CurrentEpoch+e.policy.EmergencyEpochBound {
		return fmt.Errorf("%w: epoch %d exceeds %d+%d", ErrInvalidEmergencyOverride, state.Epoch, global.CurrentEpoch, e.policy.EmergencyEpochBound)
	}
	forced := state.Clone()
	forced.Normalize()
	if err := e.state.PutChainState(chainID, forced); err != nil {
		return err
	}

	e.emit(events.EmergencyOverride{
		ChainID:     chainID,
		Epoch:       forced.Epoch,
		Timestamp:   forced.Timestamp,
		TotalSupply: forced.TotalSupply,
		TWAPPrice:   forced.TWAPPrice,
		Actor:       caller,
	})
	return nil
}

// UpdateHalvingEpoch advances the global epoch through the explicit admin
// path. Only the governance deployment may call it, the new epoch must
// strictly increase, and advances are throttled by the halving interval.
func (e *Engine) UpdateHalvingEpoch(caller [20]byte, newEpoch uint64) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleAdmin, caller); err != nil {
		return err
	}
	global, err := e.state.Global()
	if err != nil {
		return err
	}
	if !global.GovernanceChain {
		return ErrNotGovernanceChain
	}
	if newEpoch <= global.CurrentEpoch {
		return fmt.Errorf("%w: epoch %d does not advance %d", ErrInvalidEpoch, newEpoch, global.CurrentEpoch)
	}
	now := e.now()
	interval := uint64(e.policy.MinHalvingInterval / time.Second)
	if uint64(now.Unix()) < global.LastHalvingTime+interval {
		return fmt.Errorf("%w: halving interval active until %d", ErrTooFrequentUpdate, global.LastHalvingTime+interval)
	}

	previous := global.CurrentEpoch
	global.CurrentEpoch = newEpoch
	global.LastHalvingTime = uint64(now.Unix())
	if err := e.state.PutGlobal(global); err != nil {
		return err
	}

	e.emit(events.EpochAdvanced{
		Epoch:         newEpoch,
		PreviousEpoch: previous,
		HalvingTime:   global.LastHalvingTime,
		Source:        events.EpochSourceAdmin,
		Actor:         caller,
	})
	return nil
}

// SetGovernanceChain flips the local deployment's governance designation.
func (e *Engine) SetGovernanceChain(caller [20]byte, governance bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleAdmin, caller); err != nil {
		return err
	}
	global, err := e.state.Global()
	if err != nil {
		return err
	}
	global.GovernanceChain = governance
	if err := e.state.PutGlobal(global); err != nil {
		return err
	}

	e.emit(events.GovernanceUpdated{Governance: governance, Actor: caller})
	return nil
}

// AddSupportedChain registers a chain id as eligible for synchronization.
func (e *Engine) AddSupportedChain(caller [20]byte, chainID uint16) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleAdmin, caller); err != nil {
		return err
	}
	if chainID == 0 {
		return ErrInvalidChainID
	}
	supported, err := e.state.IsSupportedChain(chainID)
	if err != nil {
		return err
	}
	if supported {
		return fmt.Errorf("%w: chain %d already supported", ErrInvalidChainID, chainID)
	}
	if err := e.state.AddSupportedChain(chainID); err != nil {
		return err
	}

	e.emit(events.ChainSupportUpdated{ChainID: chainID, Added: true, Actor: caller})
	return nil
}

// RemoveSupportedChain blocks future syncs for the chain id. The last
// accepted record remains readable.
func (e *Engine) RemoveSupportedChain(caller [20]byte, chainID uint16) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleAdmin, caller); err != nil {
		return err
	}
	supported, err := e.state.IsSupportedChain(chainID)
	if err != nil {
		return err
	}
	if !supported {
		return fmt.Errorf("%w: chain %d not supported", ErrInvalidChainID, chainID)
	}
	if err := e.state.RemoveSupportedChain(chainID); err != nil {
		return err
	}

	e.emit(events.ChainSupportUpdated{ChainID: chainID, Added: false, Actor: caller})
	return nil
}

// RecordLocalSnapshot refreshes the deployment's own economic snapshot. The
// snapshot feeds PrepareStateUpdate.
func (e *Engine) RecordLocalSnapshot(caller [20]byte, snapshot *LocalSnapshot) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.authorize(RoleOracle, caller); err != nil {
		return err
	}
	if snapshot == nil || snapshot.TotalSupply == nil || snapshot.TotalSupply.Sign() <= 0 {
		return ErrInvalidSupply
	}
	stored := snapshot.Clone()
	if stored.TWAPPrice == nil {
		stored.TWAPPrice = big.NewInt(0)
	}
	if err := e.state.PutLocalSnapshot(stored); err != nil {
		return err
	}

	e.emit(events.LocalSnapshotRecorded{
		TotalSupply: stored.TotalSupply,
		TWAPPrice:   stored.TWAPPrice,
		Height:      stored.Height,
		Actor:       caller,
	})
	return nil
}

// PrepareStateUpdate encodes the local chain's current economic state for a
// relayer to transmit outward. Read-only and side-effect free.
func (e *Engine) PrepareStateUpdate(caller [20]byte) ([]byte, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if err := e.authorize(RoleSync, caller); err != nil {
		return nil, err
	}
	snapshot, ok, err := e.state.LocalSnapshot()
	if err != nil {
		return nil, err
	}
	if !ok || snapshot == nil || snapshot.TotalSupply == nil || snapshot.TotalSupply.Sign() <= 0 {
		return nil, fmt.Errorf("%w: local snapshot unavailable", ErrInvalidSupply)
	}
	global, err := e.state.Global()
	if err != nil {
		return nil, err
	}
	update := &StateUpdate{
		ChainID:          e.localChainID,
		Epoch:            global.CurrentEpoch,
		Timestamp:        uint64(e.now().Unix()),
		TotalSupply:      snapshot.TotalSupply,
		TWAPPrice:        snapshot.TWAPPrice,
		LastUpdateHeight: snapshot.Height,
	}
	return EncodeStateUpdate(update)
}

// ValidateStateUpdate decodes an inbound payload and dry-runs the same
// admission pipeline as SyncState without mutating state. Validation
// failures are returned as data so relayers can pre-flight check payloads
// before spending transport cost; only backend failures surface as errors.
func (e *Engine) ValidateStateUpdate(chainID uint16, payload []byte) (bool, string, error) {
	if e == nil || e.state == nil {
		return false, "", errStateNotConfigured
	}
	update, err := DecodeStateUpdate(payload)
	if err != nil {
		return false, "malformed_payload", nil
	}
	if chainID == 0 || update.ChainID != chainID {
		return false, Reason(ErrInvalidChainID), nil
	}
	supported, err := e.state.IsSupportedChain(chainID)
	if err != nil {
		return false, "", err
	}
	if !supported {
		return false, Reason(ErrUnsupportedChain), nil
	}
	global, err := e.state.Global()
	if err != nil {
		return false, "", err
	}
	now := e.now()
	if err := CheckCooldown(global.LastStateUpdateTime, now, e.policy); err != nil {
		return false, Reason(err), nil
	}
	current, _, err := e.state.ChainState(chainID)
	if err != nil {
		return false, "", err
	}
	if err := ValidateCandidate(update.ChainState(), current, now, global.GovernanceChain, e.policy); err != nil {
		return false, Reason(err), nil
	}
	return true, "", nil
}

// ChainState returns the last accepted record for the chain id, or the zero
// record when no update was ever accepted.
func (e *Engine) ChainState(chainID uint16) (*ChainState, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	state, ok, err := e.state.ChainState(chainID)
	if err != nil {
		return nil, err
	}
	if !ok || state == nil {
		state = &ChainState{}
	}
	state.Normalize()
	return state, nil
}

// GlobalState returns the current global epoch bookkeeping.
func (e *Engine) GlobalState() (*GlobalState, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	return e.state.Global()
}

// SupportedChains lists the chain ids eligible for synchronization. The
// backing set is unordered; the result is sorted for stable output.
func (e *Engine) SupportedChains() ([]uint16, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	chains, err := e.state.SupportedChains()
	if err != nil {
		return nil, err
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains, nil
}
