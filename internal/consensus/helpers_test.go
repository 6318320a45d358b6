package consensus_test

import (
	"testing"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

func testAddr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

// newTestValSet builds an n-validator set with equal voting power. Each
// validator's address differs only in its first byte, so the set's
// ID-sorted order matches index order: valSet.Validators[i].ID == ids[i].
func newTestValSet(t *testing.T, n int) (*types.ValidatorSet, []types.ValidatorID) {
	t.Helper()
	ids := make([]types.ValidatorID, n)
	vs := make([]types.Validator, n)
	for i := 0; i < n; i++ {
		id := testAddr(byte(i + 1))
		ids[i] = id
		vs[i] = types.Validator{ID: id, VotingPower: 1}
	}
	valSet, err := types.NewValidatorSet(vs)
	if err != nil {
		t.Fatalf("NewValidatorSet: %v", err)
	}
	return valSet, ids
}
