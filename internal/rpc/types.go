package rpc

import (
	"encoding/hex"

	"github.com/echenim/Bedrock/controlplane/internal/types"
)

// The wire types below are plain Go structs instead of generated protobuf
// messages (see DESIGN.md): this build has no protoc-backed codegen, so the
// NodeService request/response shapes are hand-written and carried over
// gRPC through the JSON codec registered in codec.go.

// GetStatusRequest carries no fields; node status is always whole-node.
type GetStatusRequest struct{}

// GetStatusResponse reports the node's identity, sync state, and chain tip.
type GetStatusResponse struct {
	NodeID            string `json:"node_id"`
	Moniker           string `json:"moniker"`
	Network           string `json:"network"`
	Syncing           bool   `json:"syncing"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	LatestStateRoot   string `json:"latest_state_root"`
	LatestBuilder     string `json:"latest_builder"`
}

// SubmitTransactionRequest carries a raw mempool-encoded transaction.
type SubmitTransactionRequest struct {
	Tx []byte `json:"tx"`
}

// SubmitTransactionResponse reports mempool admission outcome. Code 0 is
// success; any non-zero code carries an explanation in Log.
type SubmitTransactionResponse struct {
	TxHash string `json:"tx_hash"`
	Code   uint32 `json:"code"`
	Log    string `json:"log"`
}

// GetBlockRequest looks up a decided block's metadata by height; Height 0
// means "latest".
type GetBlockRequest struct {
	Height uint64 `json:"height"`
}

// BlockInfoView is the JSON-friendly projection of types.BlockInfo.
type BlockInfoView struct {
	Height     uint64 `json:"height"`
	Timestamp  uint64 `json:"timestamp"`
	Builder    string `json:"builder"`
	StateRoot  string `json:"state_root"`
	TxRoot     string `json:"tx_root"`
	ContentID  string `json:"content_id"`
}

func blockInfoView(info types.BlockInfo) BlockInfoView {
	return BlockInfoView{
		Height:    info.Height,
		Timestamp: info.Timestamp,
		Builder:   info.Builder.String(),
		StateRoot: info.StateRoot.String(),
		TxRoot:    info.TxRoot.String(),
		ContentID: info.ContentID.String(),
	}
}

// GetBlockResponse carries the decided block metadata at the requested
// height. There is no transaction-content index in the block store (see
// DESIGN.md), so this is metadata-only — consistent with the node's
// BlockInfo-only persistence model.
type GetBlockResponse struct {
	Block *BlockInfoView `json:"block"`
}

// QueryStateRequest reads a single key from application state.
type QueryStateRequest struct {
	Key   []byte `json:"key"`
	Prove bool   `json:"prove"`
}

// StateProof is a placeholder inclusion proof: the node has no Merkle
// accumulator over arbitrary state keys (only over TxRoot), so Prove
// returns the raw (key, value, root) triple rather than a real proof path.
type StateProof struct {
	RootHash string `json:"root_hash"`
	Key      string `json:"key"`
	Value    []byte `json:"value"`
}

// QueryStateResponse carries the queried value and, if requested, a proof.
type QueryStateResponse struct {
	Key    []byte      `json:"key"`
	Value  []byte      `json:"value"`
	Height uint64      `json:"height"`
	Proof  *StateProof `json:"proof,omitempty"`
}

// GetValidatorsRequest carries no fields; the validator set is static for
// the lifetime of a running node.
type GetValidatorsRequest struct{}

// ValidatorView is the JSON-friendly projection of types.Validator.
type ValidatorView struct {
	Address     string `json:"address"`
	PublicKey   string `json:"public_key"`
	VotingPower uint64 `json:"voting_power"`
}

// GetValidatorsResponse carries the full validator set and the height it
// was read at.
type GetValidatorsResponse struct {
	Validators []ValidatorView `json:"validators"`
	Height     uint64          `json:"height"`
}

func validatorView(v types.Validator) ValidatorView {
	return ValidatorView{
		Address:     v.ID.String(),
		PublicKey:   hex.EncodeToString(v.PublicKey[:]),
		VotingPower: v.VotingPower,
	}
}
