package sync

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"halochain/core/events"
)

type mockSyncState struct {
	roles     map[string]map[string]bool
	chains    map[uint16]*ChainState
	global    GlobalState
	supported map[uint16]bool
	local     *LocalSnapshot
}

func newMockSyncState() *mockSyncState {
	return &mockSyncState{
		roles:     make(map[string]map[string]bool),
		chains:    make(map[uint16]*ChainState),
		supported: make(map[uint16]bool),
	}
}

func (m *mockSyncState) grant(role string, addr [20]byte) {
	if m.roles[role] == nil {
		m.roles[role] = make(map[string]bool)
	}
	m.roles[role][string(addr[:])] = true
}

func (m *mockSyncState) HasRole(role string, addr []byte) bool {
	return m.roles[role][string(addr)]
}

func (m *mockSyncState) ChainState(chainID uint16) (*ChainState, bool, error) {
	state, ok := m.chains[chainID]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(), true, nil
}

func (m *mockSyncState) PutChainState(chainID uint16, state *ChainState) error {
	m.chains[chainID] = state.Clone()
	return nil
}

func (m *mockSyncState) Global() (*GlobalState, error) {
	global := m.global
	return &global, nil
}

func (m *mockSyncState) PutGlobal(global *GlobalState) error {
	m.global = *global
	return nil
}

func (m *mockSyncState) IsSupportedChain(chainID uint16) (bool, error) {
	return m.supported[chainID], nil
}

func (m *mockSyncState) AddSupportedChain(chainID uint16) error {
	m.supported[chainID] = true
	return nil
}

func (m *mockSyncState) RemoveSupportedChain(chainID uint16) error {
	delete(m.supported, chainID)
	return nil
}

func (m *mockSyncState) SupportedChains() ([]uint16, error) {
	chains := make([]uint16, 0, len(m.supported))
	for id := range m.supported {
		chains = append(chains, id)
	}
	return chains, nil
}

func (m *mockSyncState) LocalSnapshot() (*LocalSnapshot, bool, error) {
	if m.local == nil {
		return nil, false, nil
	}
	return m.local.Clone(), true, nil
}

func (m *mockSyncState) PutLocalSnapshot(snapshot *LocalSnapshot) error {
	m.local = snapshot.Clone()
	return nil
}

type captureEmitter struct {
	emitted []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.emitted = append(c.emitted, evt)
}

func (c *captureEmitter) types() []string {
	out := make([]string, len(c.emitted))
	for i, evt := range c.emitted {
		out[i] = evt.EventType()
	}
	return out
}

var (
	relayer   = [20]byte{0x01}
	admin     = [20]byte{0x02}
	responder = [20]byte{0x03}
	oracle    = [20]byte{0x04}
)

type engineHarness struct {
	engine  *Engine
	state   *mockSyncState
	emitter *captureEmitter
	now     time.Time
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	state := newMockSyncState()
	state.grant(RoleSync, relayer)
	state.grant(RoleAdmin, admin)
	state.grant(RoleEmergency, responder)
	state.grant(RoleOracle, oracle)

	emitter := &captureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)

	h := &engineHarness{engine: engine, state: state, emitter: emitter}
	h.now = time.Unix(1_700_000_000, 0).UTC()
	engine.SetNowFunc(func() time.Time { return h.now })
	return h
}

func (h *engineHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func TestSyncStateAcceptsAndStores(t *testing.T) {
	h := newEngineHarness(t)
	h.state.supported[102] = true

	candidate := validCandidate(1, 100)
	if err := h.engine.SyncState(relayer, 102, candidate); err != nil {
		t.Fatalf("sync rejected: %v", err)
	}
	stored, err := h.engine.ChainState(102)
	if err != nil {
		t.Fatalf("load chain state: %v", err)
	}
	if stored.Epoch != 1 || stored.Timestamp != 100 {
		t.Fatalf("unexpected stored state: %+v", stored)
	}
	if h.state.global.LastStateUpdateTime != uint64(h.now.Unix()) {
		t.Fatalf("cooldown timestamp not stamped")
	}
	got := h.emitter.types()
	if len(got) != 2 || got[0] != events.TypeStateSynced || got[1] != events.TypeEpochAdvanced {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestSyncStateRoleAndMembershipGating(t *testing.T) {
	h := newEngineHarness(t)

	if err := h.engine.SyncState([20]byte{}, 102, validCandidate(1, 100)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
	if err := h.engine.SyncState(admin, 102, validCandidate(1, 100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.SyncState(relayer, 0, validCandidate(1, 100)); !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected invalid chain id, got %v", err)
	}
	if err := h.engine.SyncState(relayer, 102, validCandidate(1, 100)); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected unsupported chain, got %v", err)
	}
}

func TestSyncStateMonotonicTimestamps(t *testing.T) {
	h := newEngineHarness(t)
	h.state.supported[102] = true

	steps := []struct {
		timestamp uint64
		epoch     uint64
	}{
		{100, 1},
		{200, 1},
		{300, 2},
	}
	for _, step := range steps {
		if err := h.engine.SyncState(relayer, 102, validCandidate(step.epoch, step.timestamp)); err != nil {
			t.Fatalf("sync (%d,%d) rejected: %v", step.epoch, step.timestamp, err)
		}
		h.advance(31 * time.Minute)
	}
	err := h.engine.SyncState(relayer, 102, validCandidate(2, 250))
	if !errors.Is(err, ErrOutdatedState) {
		t.Fatalf("expected outdated state, got %v", err)
	}
}

func TestSyncStateGovernanceEpochJump(t *testing.T) {
	h := newEngineHarness(t)
	h.state.supported[7] = true
	h.state.chains[7] = validCandidate(1, 100)
	h.state.global.CurrentEpoch = 1

	jump := validCandidate(10, 200)

	h.state.global.GovernanceChain = false
	if err := h.engine.SyncState(relayer, 7, jump); !errors.Is(err, ErrEpochSkipped) {
		t.Fatalf("expected epoch skip, got %v", err)
	}

	h.state.global.GovernanceChain = true
	if err := h.engine.SyncState(relayer, 7, jump); err != nil {
		t.Fatalf("governance jump rejected: %v", err)
	}
	if h.state.global.CurrentEpoch != 10 {
		t.Fatalf("global epoch not advanced: %d", h.state.global.CurrentEpoch)
	}
}

func TestSyncStateSharedCooldown(t *testing.T) {
	h := newEngineHarness(t)
	h.state.supported[1] = true
	h.state.supported[2] = true

	if err := h.engine.SyncState(relayer, 1, validCandidate(1, 100)); err != nil {
		t.Fatalf("first sync rejected: %v", err)
	}
	h.advance(10 * time.Minute)
	// Different chain id; the cooldown timer is global.
	if err := h.engine.SyncState(relayer, 2, validCandidate(1, 100)); !errors.Is(err, ErrTooFrequentUpdate) {
		t.Fatalf("expected cooldown rejection, got %v", err)
	}
	h.advance(21 * time.Minute)
	if err := h.engine.SyncState(relayer, 2, validCandidate(1, 100)); err != nil {
		t.Fatalf("sync after cooldown rejected: %v", err)
	}
}

func TestUpdateHalvingEpoch(t *testing.T) {
	h := newEngineHarness(t)
	h.state.global.GovernanceChain = true

	if err := h.engine.UpdateHalvingEpoch(relayer, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.UpdateHalvingEpoch(admin, 0); !errors.Is(err, ErrInvalidEpoch) {
		t.Fatalf("expected invalid epoch, got %v", err)
	}
	if err := h.engine.UpdateHalvingEpoch(admin, 1); err != nil {
		t.Fatalf("first advance rejected: %v", err)
	}
	h.advance(time.Hour)
	if err := h.engine.UpdateHalvingEpoch(admin, 2); !errors.Is(err, ErrTooFrequentUpdate) {
		t.Fatalf("expected halving interval rejection, got %v", err)
	}
	h.advance(7 * 24 * time.Hour)
	if err := h.engine.UpdateHalvingEpoch(admin, 2); err != nil {
		t.Fatalf("advance after interval rejected: %v", err)
	}

	h.state.global.GovernanceChain = false
	h.advance(8 * 24 * time.Hour)
	if err := h.engine.UpdateHalvingEpoch(admin, 3); !errors.Is(err, ErrNotGovernanceChain) {
		t.Fatalf("expected governance-only rejection, got %v", err)
	}
}

func TestEmergencyStateOverride(t *testing.T) {
	h := newEngineHarness(t)
	h.state.global.CurrentEpoch = 4

	if err := h.engine.EmergencyStateOverride(relayer, 55, validCandidate(1, 1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.EmergencyStateOverride(responder, 55, validCandidate(10, 1)); !errors.Is(err, ErrInvalidEmergencyOverride) {
		t.Fatalf("expected override bound rejection, got %v", err)
	}
	// Chain 55 was never registered; the override path does not care.
	if err := h.engine.EmergencyStateOverride(responder, 55, validCandidate(9, 1)); err != nil {
		t.Fatalf("override rejected: %v", err)
	}
	stored, err := h.engine.ChainState(55)
	if err != nil {
		t.Fatalf("load chain state: %v", err)
	}
	if stored.Epoch != 9 {
		t.Fatalf("override not applied: %+v", stored)
	}
	// Rewinding a chain record is permitted on this path.
	if err := h.engine.EmergencyStateOverride(responder, 55, validCandidate(2, 1)); err != nil {
		t.Fatalf("rewind override rejected: %v", err)
	}
}

func TestChainMembershipLifecycle(t *testing.T) {
	h := newEngineHarness(t)

	if err := h.engine.AddSupportedChain(admin, 0); !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected invalid chain id, got %v", err)
	}
	if err := h.engine.AddSupportedChain(admin, 9); err != nil {
		t.Fatalf("add rejected: %v", err)
	}
	if err := h.engine.AddSupportedChain(admin, 9); !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected duplicate add rejection, got %v", err)
	}

	if err := h.engine.SyncState(relayer, 9, validCandidate(1, 100)); err != nil {
		t.Fatalf("sync rejected: %v", err)
	}

	if err := h.engine.RemoveSupportedChain(admin, 9); err != nil {
		t.Fatalf("remove rejected: %v", err)
	}
	if err := h.engine.RemoveSupportedChain(admin, 9); !errors.Is(err, ErrInvalidChainID) {
		t.Fatalf("expected absent remove rejection, got %v", err)
	}

	// Removal freezes future syncs but keeps history readable.
	h.advance(time.Hour)
	if err := h.engine.SyncState(relayer, 9, validCandidate(1, 200)); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected unsupported chain after removal, got %v", err)
	}
	stored, err := h.engine.ChainState(9)
	if err != nil {
		t.Fatalf("load chain state: %v", err)
	}
	if stored.Epoch != 1 || stored.Timestamp != 100 {
		t.Fatalf("history lost after removal: %+v", stored)
	}
}

func TestPrepareAndValidateStateUpdate(t *testing.T) {
	h := newEngineHarness(t)
	h.engine.SetLocalChain(7)
	h.state.supported[7] = true
	h.state.global.CurrentEpoch = 3
	h.state.chains[7] = validCandidate(2, 1)

	if _, err := h.engine.PrepareStateUpdate(relayer); !errors.Is(err, ErrInvalidSupply) {
		t.Fatalf("expected invalid supply without snapshot, got %v", err)
	}
	if err := h.engine.RecordLocalSnapshot(oracle, &LocalSnapshot{
		TotalSupply: big.NewInt(5_000_000),
		TWAPPrice:   big.NewInt(123),
		Height:      88,
	}); err != nil {
		t.Fatalf("record snapshot: %v", err)
	}

	payload, err := h.engine.PrepareStateUpdate(relayer)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	valid, reason, err := h.engine.ValidateStateUpdate(7, payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !valid || reason != "" {
		t.Fatalf("expected valid payload, got reason %q", reason)
	}

	// Chain id mismatch is reported as data, not an error.
	valid, reason, err = h.engine.ValidateStateUpdate(8, payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if valid || reason != "invalid_chain_id" {
		t.Fatalf("expected chain id mismatch, got valid=%t reason=%q", valid, reason)
	}

	valid, reason, err = h.engine.ValidateStateUpdate(7, []byte{0xff, 0x00})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if valid || reason != "malformed_payload" {
		t.Fatalf("expected malformed payload, got valid=%t reason=%q", valid, reason)
	}

	// The dry run never mutates state.
	stored, _, _ := h.state.ChainState(7)
	if stored.Epoch != 2 || h.state.global.LastStateUpdateTime != 0 {
		t.Fatalf("dry run mutated state")
	}
}

func TestRecordLocalSnapshotValidation(t *testing.T) {
	h := newEngineHarness(t)
	if err := h.engine.RecordLocalSnapshot(relayer, &LocalSnapshot{TotalSupply: big.NewInt(1)}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.RecordLocalSnapshot(oracle, &LocalSnapshot{TotalSupply: big.NewInt(0)}); !errors.Is(err, ErrInvalidSupply) {
		t.Fatalf("expected invalid supply, got %v", err)
	}
}

func TestSetGovernanceChain(t *testing.T) {
	h := newEngineHarness(t)
	if err := h.engine.SetGovernanceChain(relayer, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.SetGovernanceChain(admin, true); err != nil {
		t.Fatalf("set governance: %v", err)
	}
	if !h.state.global.GovernanceChain {
		t.Fatalf("governance flag not persisted")
	}
}

type reentrantEmitter struct {
	engine *Engine
	err    error
}

func (r *reentrantEmitter) Emit(events.Event) {
	r.err = r.engine.SyncState(relayer, 1, validCandidate(1, 100))
}

func TestReentrantInvocationRejected(t *testing.T) {
	h := newEngineHarness(t)
	h.state.supported[1] = true

	emitter := &reentrantEmitter{engine: h.engine}
	h.engine.SetEmitter(emitter)

	if err := h.engine.SyncState(relayer, 1, validCandidate(1, 100)); err != nil {
		t.Fatalf("outer sync rejected: %v", err)
	}
	if !errors.Is(emitter.err, ErrReentrantCall) {
		t.Fatalf("expected reentrant call rejection, got %v", emitter.err)
	}
}

func TestChainStateZeroValueForUnknownChain(t *testing.T) {
	h := newEngineHarness(t)
	state, err := h.engine.ChainState(404)
	if err != nil {
		t.Fatalf("load chain state: %v", err)
	}
	if state.Epoch != 0 || state.Timestamp != 0 || state.TotalSupply.Sign() != 0 {
		t.Fatalf("expected zero record, got %+v", state)
	}
}

func TestSupportedChainsSorted(t *testing.T) {
	h := newEngineHarness(t)
	for _, id := range []uint16{30, 10, 20} {
		if err := h.engine.AddSupportedChain(admin, id); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	chains, err := h.engine.SupportedChains()
	if err != nil {
		t.Fatalf("supported chains: %v", err)
	}
	want := []uint16{10, 20, 30}
	if len(chains) != len(want) {
		t.Fatalf("unexpected chains: %v", chains)
	}
	for i := range want {
		if chains[i] != want[i] {
			t.Fatalf("unexpected order: %v", chains)
		}
	}
}
