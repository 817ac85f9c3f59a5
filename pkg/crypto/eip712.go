package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SettlementDomain is the EIP-712-style domain separator for settlement digests.
// It does not imply on-chain verification via ECDSA; it exists to give the
// two-party signing protocol a concrete, replayable digest instead of an
// opaque blob, the way an order would be domain-separated before signing.
type SettlementDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// SettlementDigestInput is the typed data a buyer and seller both sign over
// once a match has produced a successful proof. Binding quantity, price and
// nullifierHash into the digest means a party cannot be tricked into signing
// a settlement for a different trade.
type SettlementDigestInput struct {
	MatchID       string
	Buyer         common.Address
	Seller        common.Address
	Asset         common.Address
	PaymentAsset  common.Address
	Quantity      *big.Int
	Price         *big.Int
	NullifierHash string
}

// DigestBuilder hashes settlement data under a fixed domain.
type DigestBuilder struct {
	domain SettlementDomain
}

func NewDigestBuilder(domain SettlementDomain) *DigestBuilder {
	return &DigestBuilder{domain: domain}
}

// DefaultSettlementDomain is the domain used when no override is configured.
func DefaultSettlementDomain() SettlementDomain {
	return SettlementDomain{
		Name:              "darkpool-settlement",
		Version:           "1",
		ChainID:           big.NewInt(0),
		VerifyingContract: common.Address{},
	}
}

// HashSettlement computes the digest buyer and seller both sign against.
func (b *DigestBuilder) HashSettlement(in *SettlementDigestInput) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Settlement": []apitypes.Type{
				{Name: "matchId", Type: "string"},
				{Name: "buyer", Type: "address"},
				{Name: "seller", Type: "address"},
				{Name: "asset", Type: "address"},
				{Name: "paymentAsset", Type: "address"},
				{Name: "quantity", Type: "uint256"},
				{Name: "price", Type: "uint256"},
				{Name: "nullifierHash", Type: "string"},
			},
		},
		PrimaryType: "Settlement",
		Domain: apitypes.TypedDataDomain{
			Name:              b.domain.Name,
			Version:           b.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(b.domain.ChainID),
			VerifyingContract: b.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"matchId":       in.MatchID,
			"buyer":         in.Buyer.Hex(),
			"seller":        in.Seller.Hex(),
			"asset":         in.Asset.Hex(),
			"paymentAsset":  in.PaymentAsset.Hex(),
			"quantity":      in.Quantity.String(),
			"price":         in.Price.String(),
			"nullifierHash": in.NullifierHash,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// SettlementToJSON renders the typed data for client-side display or
// independent recomputation of the digest.
func (b *DigestBuilder) SettlementToJSON(in *SettlementDigestInput) (string, error) {
	typedData := map[string]interface{}{
		"types": map[string]interface{}{
			"EIP712Domain": []map[string]string{
				{"name": "name", "type": "string"},
				{"name": "version", "type": "string"},
				{"name": "chainId", "type": "uint256"},
				{"name": "verifyingContract", "type": "address"},
			},
			"Settlement": []map[string]string{
				{"name": "matchId", "type": "string"},
				{"name": "buyer", "type": "address"},
				{"name": "seller", "type": "address"},
				{"name": "asset", "type": "address"},
				{"name": "paymentAsset", "type": "address"},
				{"name": "quantity", "type": "uint256"},
				{"name": "price", "type": "uint256"},
				{"name": "nullifierHash", "type": "string"},
			},
		},
		"primaryType": "Settlement",
		"domain": map[string]interface{}{
			"name":              b.domain.Name,
			"version":           b.domain.Version,
			"chainId":           b.domain.ChainID.String(),
			"verifyingContract": b.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"matchId":       in.MatchID,
			"buyer":         in.Buyer.Hex(),
			"seller":        in.Seller.Hex(),
			"asset":         in.Asset.Hex(),
			"paymentAsset":  in.PaymentAsset.Hex(),
			"quantity":      in.Quantity.String(),
			"price":         in.Price.String(),
			"nullifierHash": in.NullifierHash,
		},
	}

	out, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal settlement typed data: %w", err)
	}
	return string(out), nil
}
