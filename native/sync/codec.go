package sync

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// maxValueBits caps supply and price values at 128 bits, matching the width
// the wire format reserves for them.
const maxValueBits = 128

// StateUpdate is the canonical payload a relayer carries between
// deployments. The RLP encoding is the opaque byte form handed to the
// transport layer.
type StateUpdate struct {
	ChainID          uint16
	Epoch            uint64
	Timestamp        uint64
	TotalSupply      *big.Int
	TWAPPrice        *big.Int
	LastUpdateHeight uint64
}

// ChainState converts the payload into the stored record shape.
func (u *StateUpdate) ChainState() *ChainState {
	if u == nil {
		return nil
	}
	state := &ChainState{
		Epoch:            u.Epoch,
		Timestamp:        u.Timestamp,
		LastUpdateHeight: u.LastUpdateHeight,
	}
	if u.TotalSupply != nil {
		state.TotalSupply = new(big.Int).Set(u.TotalSupply)
	}
	if u.TWAPPrice != nil {
		state.TWAPPrice = new(big.Int).Set(u.TWAPPrice)
	}
	state.Normalize()
	return state
}

// EncodeStateUpdate serialises the payload for outbound relay.
func EncodeStateUpdate(update *StateUpdate) ([]byte, error) {
	if update == nil {
		return nil, fmt.Errorf("sync: encode requires an update")
	}
	if err := checkValueWidth(update); err != nil {
		return nil, err
	}
	normalized := *update
	if normalized.TotalSupply == nil {
		normalized.TotalSupply = big.NewInt(0)
	}
	if normalized.TWAPPrice == nil {
		normalized.TWAPPrice = big.NewInt(0)
	}
	return rlp.EncodeToBytes(&normalized)
}

// DecodeStateUpdate parses an inbound payload. Width bounds are enforced so a
// malformed payload cannot smuggle oversized values into state.
func DecodeStateUpdate(payload []byte) (*StateUpdate, error) {
	update := new(StateUpdate)
	if err := rlp.DecodeBytes(payload, update); err != nil {
		return nil, fmt.Errorf("sync: decode state update: %w", err)
	}
	if err := checkValueWidth(update); err != nil {
		return nil, err
	}
	return update, nil
}

// Digest returns the keccak256 hash of the encoded payload, used to correlate
// outbound updates with their acceptance events on the receiving side.
func Digest(payload []byte) [32]byte {
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(payload))
	return digest
}

func checkValueWidth(update *StateUpdate) error {
	if update.TotalSupply != nil && update.TotalSupply.BitLen() > maxValueBits {
		return fmt.Errorf("%w: total supply exceeds %d bits", ErrInvalidSupply, maxValueBits)
	}
	if update.TWAPPrice != nil && update.TWAPPrice.BitLen() > maxValueBits {
		return fmt.Errorf("sync: twap price exceeds %d bits", maxValueBits)
	}
	return nil
}
