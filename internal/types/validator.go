package types

import (
	"errors"
	"fmt"
	"sort"
)

// ValidatorID is a stable opaque validator identifier with a per-height
// ordering used for deterministic proposer selection.
type ValidatorID = Address

// Validator describes a member of the active validator set.
type Validator struct {
	ID          ValidatorID
	PublicKey   [32]byte
	VotingPower uint64
}

// ValidatorSet manages the active, height-sorted validator set.
//
// The list is kept sorted by ID so that proposer selection
// (validators[(H+R) mod |validators|]) is deterministic across nodes
// regardless of the order validators were added in.
type ValidatorSet struct {
	Validators []Validator
	TotalPower uint64
}

// NewValidatorSet creates a ValidatorSet from a slice of validators,
// sorting by ID and computing total voting power.
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, errors.New("validator set must not be empty")
	}

	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].ID[:]) < string(sorted[j].ID[:])
	})

	var total uint64
	for _, v := range sorted {
		if v.VotingPower == 0 {
			return nil, fmt.Errorf("validator %s has zero voting power", v.ID)
		}
		total += v.VotingPower
	}

	return &ValidatorSet{Validators: sorted, TotalPower: total}, nil
}

// Quorum returns the quorum threshold: 2f+1 where f = (totalPower-1)/3.
func (vs *ValidatorSet) Quorum() uint64 {
	f := (vs.TotalPower - 1) / 3
	return 2*f + 1
}

// HasQuorum reports whether votingPower meets the +2/3 threshold.
func (vs *ValidatorSet) HasQuorum(votingPower uint64) bool {
	return votingPower >= vs.Quorum()
}

// Proposer returns the proposer for (height, round):
// validators[(height+round) mod |validators|] under the height-sorted list.
func (vs *ValidatorSet) Proposer(height uint64, round uint32) *Validator {
	if len(vs.Validators) == 0 {
		return nil
	}
	idx := (height + uint64(round)) % uint64(len(vs.Validators))
	return &vs.Validators[idx]
}

// ByID looks up a validator by ID.
func (vs *ValidatorSet) ByID(id ValidatorID) (*Validator, bool) {
	for i := range vs.Validators {
		if vs.Validators[i].ID == id {
			return &vs.Validators[i], true
		}
	}
	return nil, false
}

// Size returns the number of validators.
func (vs *ValidatorSet) Size() int {
	return len(vs.Validators)
}
