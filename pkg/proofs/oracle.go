// Package proofs drives Match values through the proof oracle — an
// external collaborator; no circuit executes in this repo — and hands
// successful results to the settlement coordinator.
package proofs

import (
	"math/big"

	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/whitelist"
)

// Oracle is the opaque ZK prover library: hash, Merkle witness check and
// Groth16 witness+proof all live behind this boundary. The concrete prover
// shape (commitment hashing, proof bytes, nullifier) is grounded on
// certenIO-certen-validator's bls_zkp prover, but no circuit is embedded
// here — only the call contract.
type Oracle interface {
	AssetHash(assetAddress string) (*big.Int, error)
	GenerateProof(req ProofRequest) (domain.ProofResult, error)
	GenerateCommitment(req CommitmentRequest) (CommitmentResult, error)
}

// CommitmentRequest is the REST layer's `/api/commitment/generate` proxy
// input: a trader asks the oracle to produce a fresh commitment for an
// order body before it is ever submitted to the matcher.
type CommitmentRequest struct {
	AssetAddress string
	Side         domain.Side
	Quantity     *big.Int
	Price        *big.Int
}

// CommitmentResult is the oracle's commitment response: the opaque
// commitment string plus the secret/nonce the trader must keep to later
// prove the order body in a match, and the asset hash so the client need
// not call AssetHash separately.
type CommitmentResult struct {
	Commitment string
	Secret     *big.Int
	Nonce      *big.Int
	AssetHash  *big.Int
}

// ProofRequest bundles everything the oracle needs: both Merkle proofs,
// both order secrets+nonces, both commitments, the asset hash, and the
// public execution terms.
type ProofRequest struct {
	MatchID          string
	BuyerProof       whitelist.MerkleProof
	SellerProof      whitelist.MerkleProof
	BuyerSecret      *big.Int
	BuyerNonce       *big.Int
	SellerSecret     *big.Int
	SellerNonce      *big.Int
	BuyerCommitment  string
	SellerCommitment string
	AssetHash        *big.Int
	ExecutionQty     *big.Int
	ExecutionPrice   *big.Int
	WhitelistRoot    *big.Int
}
