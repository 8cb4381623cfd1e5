package sync

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func validCandidate(epoch, timestamp uint64) *ChainState {
	return &ChainState{
		Epoch:       epoch,
		Timestamp:   timestamp,
		TotalSupply: big.NewInt(1_000_000),
		TWAPPrice:   big.NewInt(42),
	}
}

func TestValidateCandidateOrdering(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy := DefaultPolicy()
	current := validCandidate(2, 900)

	cases := []struct {
		name      string
		candidate *ChainState
		want      error
	}{
		{
			name: "future timestamp",
			candidate: &ChainState{
				Epoch:       3,
				Timestamp:   uint64(now.Unix()) + uint64(policy.MaxDrift/time.Second) + 1,
				TotalSupply: big.NewInt(1),
			},
			want: ErrFutureTimestamp,
		},
		{
			name:      "zero epoch",
			candidate: &ChainState{Epoch: 0, Timestamp: 1000, TotalSupply: big.NewInt(1)},
			want:      ErrInvalidEpoch,
		},
		{
			name:      "zero supply",
			candidate: &ChainState{Epoch: 3, Timestamp: 1000, TotalSupply: big.NewInt(0)},
			want:      ErrInvalidSupply,
		},
		{
			name:      "nil supply",
			candidate: &ChainState{Epoch: 3, Timestamp: 1000},
			want:      ErrInvalidSupply,
		},
		{
			name:      "stale timestamp",
			candidate: validCandidate(3, 900),
			want:      ErrOutdatedState,
		},
		{
			name:      "older timestamp",
			candidate: validCandidate(3, 500),
			want:      ErrOutdatedState,
		},
		{
			name:      "epoch skip",
			candidate: validCandidate(4, 1000),
			want:      ErrEpochSkipped,
		},
		{
			name:      "accepted",
			candidate: validCandidate(3, 1000),
			want:      nil,
		},
		{
			name:      "same epoch accepted",
			candidate: validCandidate(2, 1000),
			want:      nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCandidate(tc.candidate, current, now, false, policy)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected acceptance, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateCandidateFutureTimestampCheckedFirst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy := DefaultPolicy()
	// Zero epoch and zero supply too, but the drift check must win.
	candidate := &ChainState{Timestamp: uint64(now.Unix()) + uint64(time.Hour/time.Second)}
	err := ValidateCandidate(candidate, &ChainState{}, now, false, policy)
	if !errors.Is(err, ErrFutureTimestamp) {
		t.Fatalf("expected future timestamp error, got %v", err)
	}
}

func TestValidateCandidateGovernanceSkipExemption(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	policy := DefaultPolicy()
	current := validCandidate(1, 100)
	jump := validCandidate(10, 200)

	if err := ValidateCandidate(jump, current, now, true, policy); err != nil {
		t.Fatalf("governance jump rejected: %v", err)
	}
	if err := ValidateCandidate(jump, current, now, false, policy); !errors.Is(err, ErrEpochSkipped) {
		t.Fatalf("expected epoch skip error, got %v", err)
	}
}

func TestValidateCandidateFirstSync(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	// A chain with no stored record validates against the zero record.
	if err := ValidateCandidate(validCandidate(1, 100), nil, now, false, DefaultPolicy()); err != nil {
		t.Fatalf("first sync rejected: %v", err)
	}
}

func TestCheckCooldown(t *testing.T) {
	policy := DefaultPolicy()
	base := time.Unix(1_700_000_000, 0).UTC()

	if err := CheckCooldown(0, base, policy); err != nil {
		t.Fatalf("cooldown should not apply before any accepted sync: %v", err)
	}
	last := uint64(base.Unix())
	if err := CheckCooldown(last, base.Add(10*time.Minute), policy); !errors.Is(err, ErrTooFrequentUpdate) {
		t.Fatalf("expected cooldown rejection, got %v", err)
	}
	if err := CheckCooldown(last, base.Add(30*time.Minute), policy); err != nil {
		t.Fatalf("cooldown elapsed but rejected: %v", err)
	}
}
