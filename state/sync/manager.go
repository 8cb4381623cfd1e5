package sync

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	nativesync "halochain/native/sync"
	"halochain/storage"
)

var (
	globalStateKey   = []byte("sync/global")
	localSnapshotKey = []byte("sync/local")
	chainSetKey      = []byte("sync/chains")
)

func chainStateKey(chainID uint16) []byte {
	return []byte(fmt.Sprintf("sync/chain/%d", chainID))
}

func roleKey(role string, addr []byte) []byte {
	return []byte("sync/role/" + role + "/" + hex.EncodeToString(addr))
}

// Manager provides the typed persistence layer backing the sync engine. All
// records are RLP encoded into the underlying key-value store.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager backed by the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) withDB() (storage.Database, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("sync state: database not configured")
	}
	return m.db, nil
}

// ChainState loads the last accepted record for a chain id. The boolean
// reports whether a record has ever been written.
func (m *Manager) ChainState(chainID uint16) (*nativesync.ChainState, bool, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, false, err
	}
	key := chainStateKey(chainID)
	ok, err := db.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := db.Get(key)
	if err != nil {
		return nil, false, err
	}
	state := new(nativesync.ChainState)
	if err := rlp.DecodeBytes(raw, state); err != nil {
		return nil, false, fmt.Errorf("sync state: decode chain %d: %w", chainID, err)
	}
	state.Normalize()
	return state, true, nil
}

// PutChainState overwrites the record for a chain id unconditionally.
func (m *Manager) PutChainState(chainID uint16, state *nativesync.ChainState) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("sync state: chain state must not be nil")
	}
	stored := state.Clone()
	stored.Normalize()
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("sync state: encode chain %d: %w", chainID, err)
	}
	return db.Put(chainStateKey(chainID), encoded)
}

// Global loads the global epoch bookkeeping, returning the zero value when
// nothing has been persisted yet.
func (m *Manager) Global() (*nativesync.GlobalState, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, err
	}
	ok, err := db.Has(globalStateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &nativesync.GlobalState{}, nil
	}
	raw, err := db.Get(globalStateKey)
	if err != nil {
		return nil, err
	}
	global := new(nativesync.GlobalState)
	if err := rlp.DecodeBytes(raw, global); err != nil {
		return nil, fmt.Errorf("sync state: decode global state: %w", err)
	}
	return global, nil
}

// PutGlobal persists the global epoch bookkeeping.
func (m *Manager) PutGlobal(global *nativesync.GlobalState) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	if global == nil {
		return fmt.Errorf("sync state: global state must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(global)
	if err != nil {
		return fmt.Errorf("sync state: encode global state: %w", err)
	}
	return db.Put(globalStateKey, encoded)
}

// LocalSnapshot loads the deployment's own economic snapshot.
func (m *Manager) LocalSnapshot() (*nativesync.LocalSnapshot, bool, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, false, err
	}
	ok, err := db.Has(localSnapshotKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	raw, err := db.Get(localSnapshotKey)
	if err != nil {
		return nil, false, err
	}
	snapshot := new(nativesync.LocalSnapshot)
	if err := rlp.DecodeBytes(raw, snapshot); err != nil {
		return nil, false, fmt.Errorf("sync state: decode local snapshot: %w", err)
	}
	return snapshot, true, nil
}

// PutLocalSnapshot persists the deployment's own economic snapshot.
func (m *Manager) PutLocalSnapshot(snapshot *nativesync.LocalSnapshot) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("sync state: snapshot must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(snapshot.Clone())
	if err != nil {
		return fmt.Errorf("sync state: encode local snapshot: %w", err)
	}
	return db.Put(localSnapshotKey, encoded)
}

// SupportedChains returns the membership set. Order is not meaningful.
func (m *Manager) SupportedChains() ([]uint16, error) {
	db, err := m.withDB()
	if err != nil {
		return nil, err
	}
	ok, err := db.Has(chainSetKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	raw, err := db.Get(chainSetKey)
	if err != nil {
		return nil, err
	}
	var chains []uint16
	if err := rlp.DecodeBytes(raw, &chains); err != nil {
		return nil, fmt.Errorf("sync state: decode chain set: %w", err)
	}
	return chains, nil
}

// IsSupportedChain reports membership of a chain id.
func (m *Manager) IsSupportedChain(chainID uint16) (bool, error) {
	chains, err := m.SupportedChains()
	if err != nil {
		return false, err
	}
	for _, id := range chains {
		if id == chainID {
			return true, nil
		}
	}
	return false, nil
}

// AddSupportedChain inserts a chain id into the membership set. Inserting an
// existing member is a no-op at this layer; the engine enforces uniqueness.
func (m *Manager) AddSupportedChain(chainID uint16) error {
	chains, err := m.SupportedChains()
	if err != nil {
		return err
	}
	for _, id := range chains {
		if id == chainID {
			return nil
		}
	}
	return m.putChainSet(append(chains, chainID))
}

// RemoveSupportedChain drops a chain id from the membership set using
// swap-and-drop; ordering is not an invariant of the set.
func (m *Manager) RemoveSupportedChain(chainID uint16) error {
	chains, err := m.SupportedChains()
	if err != nil {
		return err
	}
	for i, id := range chains {
		if id == chainID {
			chains[i] = chains[len(chains)-1]
			return m.putChainSet(chains[:len(chains)-1])
		}
	}
	return nil
}

func (m *Manager) putChainSet(chains []uint16) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(chains)
	if err != nil {
		return fmt.Errorf("sync state: encode chain set: %w", err)
	}
	return db.Put(chainSetKey, encoded)
}

// HasRole reports whether the address holds the role. Lookups are performed
// at call time; nothing is cached.
func (m *Manager) HasRole(role string, addr []byte) bool {
	db, err := m.withDB()
	if err != nil {
		return false
	}
	ok, err := db.Has(roleKey(role, addr))
	if err != nil {
		return false
	}
	return ok
}

// GrantRole records role possession for the address.
func (m *Manager) GrantRole(role string, addr []byte) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Put(roleKey(role, addr), []byte{1})
}

// RevokeRole removes role possession from the address.
func (m *Manager) RevokeRole(role string, addr []byte) error {
	db, err := m.withDB()
	if err != nil {
		return err
	}
	return db.Delete(roleKey(role, addr))
}
