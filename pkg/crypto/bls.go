package crypto

import (
	"crypto/sha256"

	bls "github.com/cloudflare/circl/sign/bls"
)

// BLSSigner (below) wraps a BLS keypair for one side of a settlement: a
// buyer or seller signs the same settlement digest independently, and
// Aggregate below combines both signatures into the single aggregate the
// coordinator carries alongside the XDR once both parties have signed.
type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]
type BLSSignature = []byte

type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a deterministic keypair from seed, used by
// tests that need a stable buyer/seller key without a real key-management
// flow. The seed is hashed to 32 bytes first, so seeds of any length work.
func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	ikm := sha256.Sum256(seed)
	sk, _ := bls.KeyGen[scheme](ikm[:], nil, nil)
	pk := sk.PublicKey()
	return &BLSSigner{sk: sk, pk: pk}
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

// Sign produces the raw signature over a settlement digest. The coordinator
// never calls this directly — it only aggregates signatures handed to it by
// each counterparty's own signing process.
func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func Verify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// Aggregate combines the buyer and seller signatures over the same
// settlement digest into one aggregate signature. Empty inputs are skipped
// so a party that signed only the XDR (no BLS signature supplied) doesn't
// break aggregation of the other party's signature.
func Aggregate(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

// VerifyAggregateSameMsg checks an aggregate signature against both
// counterparties' public keys over the one settlement digest they both
// signed.
func VerifyAggregateSameMsg(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	msgs := make([][]byte, len(pks))
	for i := range msgs {
		msgs[i] = msg
	}
	return bls.VerifyAggregate(pks, msgs, bls.Signature(aggSig))
}
