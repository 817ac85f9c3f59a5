package proofs

import (
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/darkpool/engine/pkg/domain"
)

// HTTPOracle is the concrete Oracle backed by the external proof-oracle
// service, over resty the same way pkg/chain talks to the chain RPC. No
// circuit executes in this repo — this is purely a client for whatever
// process does.
type HTTPOracle struct {
	client *resty.Client
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

func (o *HTTPOracle) AssetHash(assetAddress string) (*big.Int, error) {
	var out struct {
		AssetHash string `json:"assetHash"`
	}
	resp, err := o.client.R().SetResult(&out).
		SetBody(map[string]string{"assetAddress": assetAddress}).
		Post("/hash-asset")
	if err != nil {
		return nil, fmt.Errorf("oracle: hash-asset: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle: hash-asset rejected: %s", resp.String())
	}
	v, ok := new(big.Int).SetString(out.AssetHash, 10)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid assetHash %q", out.AssetHash)
	}
	return v, nil
}

func (o *HTTPOracle) GenerateCommitment(req CommitmentRequest) (CommitmentResult, error) {
	var out struct {
		Commitment string `json:"commitment"`
		Secret     string `json:"secret"`
		Nonce      string `json:"nonce"`
		AssetHash  string `json:"assetHash"`
	}
	resp, err := o.client.R().SetResult(&out).
		SetBody(map[string]interface{}{
			"assetAddress": req.AssetAddress,
			"side":         int(req.Side) - 1, // wire side is 0/1, domain.Side is 1/2
			"quantity":     domain.BigIntToDecimalString(req.Quantity),
			"price":        domain.BigIntToDecimalString(req.Price),
		}).
		Post("/commitment/generate")
	if err != nil {
		return CommitmentResult{}, fmt.Errorf("oracle: generate commitment: %w", err)
	}
	if resp.IsError() {
		return CommitmentResult{}, fmt.Errorf("oracle: generate commitment rejected: %s", resp.String())
	}

	secret, err := domain.DecimalStringToBigInt(out.Secret)
	if err != nil {
		return CommitmentResult{}, fmt.Errorf("oracle: invalid secret: %w", err)
	}
	nonce, err := domain.DecimalStringToBigInt(out.Nonce)
	if err != nil {
		return CommitmentResult{}, fmt.Errorf("oracle: invalid nonce: %w", err)
	}
	assetHash, ok := new(big.Int).SetString(out.AssetHash, 10)
	if !ok {
		return CommitmentResult{}, fmt.Errorf("oracle: invalid assetHash %q", out.AssetHash)
	}

	return CommitmentResult{
		Commitment: out.Commitment,
		Secret:     secret,
		Nonce:      nonce,
		AssetHash:  assetHash,
	}, nil
}

func (o *HTTPOracle) GenerateProof(req ProofRequest) (domain.ProofResult, error) {
	var out struct {
		Proof         string `json:"proof"`
		PublicSignals string `json:"publicSignals"`
		NullifierHash string `json:"nullifierHash"`
		Success       bool   `json:"success"`
		Error         string `json:"error"`
	}
	resp, err := o.client.R().SetResult(&out).
		SetBody(map[string]interface{}{
			"matchId":          req.MatchID,
			"buyerProof":       req.BuyerProof,
			"sellerProof":      req.SellerProof,
			"buyerSecret":      domain.BigIntToDecimalString(req.BuyerSecret),
			"buyerNonce":       domain.BigIntToDecimalString(req.BuyerNonce),
			"sellerSecret":     domain.BigIntToDecimalString(req.SellerSecret),
			"sellerNonce":      domain.BigIntToDecimalString(req.SellerNonce),
			"buyerCommitment":  req.BuyerCommitment,
			"sellerCommitment": req.SellerCommitment,
			"assetHash":        domain.BigIntToDecimalString(req.AssetHash),
			"executionQty":     domain.BigIntToDecimalString(req.ExecutionQty),
			"executionPrice":   domain.BigIntToDecimalString(req.ExecutionPrice),
			"whitelistRoot":    domain.BigIntToDecimalString(req.WhitelistRoot),
		}).
		Post("/prove")
	if err != nil {
		return domain.ProofResult{MatchID: req.MatchID, Success: false, Error: err.Error()}, fmt.Errorf("oracle: generate proof: %w", err)
	}
	if resp.IsError() {
		return domain.ProofResult{MatchID: req.MatchID, Success: false, Error: resp.String()},
			fmt.Errorf("oracle: generate proof rejected: %s", resp.String())
	}

	proofBytes, err := domain.HexToBytes(out.Proof)
	if err != nil {
		return domain.ProofResult{}, fmt.Errorf("oracle: invalid proof hex: %w", err)
	}
	signalBytes, err := domain.HexToBytes(out.PublicSignals)
	if err != nil {
		return domain.ProofResult{}, fmt.Errorf("oracle: invalid signals hex: %w", err)
	}

	return domain.ProofResult{
		MatchID:       req.MatchID,
		Proof:         proofBytes,
		PublicSignals: signalBytes,
		NullifierHash: out.NullifierHash,
		Success:       out.Success,
		Error:         out.Error,
	}, nil
}
