// Package api exposes the matcher, whitelist, proof orchestrator and
// settlement coordinator over the REST surface. Every large integer crosses
// the wire as a decimal string and every byte blob as hex — nothing here
// lets encoding/json turn a quantity or price into a float64.
package api

import "github.com/darkpool/engine/pkg/domain"

// ErrorResponse is the uniform error body for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// --- commitment ---

type GenerateCommitmentRequest struct {
	AssetAddress string `json:"assetAddress"`
	Side         int    `json:"side"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price"`
}

type GenerateCommitmentResponse struct {
	Commitment string `json:"commitment"`
	Secret     string `json:"secret"`
	Nonce      string `json:"nonce"`
	AssetHash  string `json:"assetHash"`
}

type HashAssetRequest struct {
	AssetAddress string `json:"assetAddress"`
}

type HashAssetResponse struct {
	AssetHash string `json:"assetHash"`
}

// --- orders ---

type SubmitOrderRequest struct {
	Commitment     string `json:"commitment"`
	Trader         string `json:"trader"`
	AssetAddress   string `json:"assetAddress"`
	Side           int    `json:"side"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	Secret         string `json:"secret"`
	Nonce          string `json:"nonce"`
	Expiry         int64  `json:"expiry,omitempty"`
	WhitelistIndex uint64 `json:"whitelistIndex,omitempty"`
}

type SubmitOrderResponse struct {
	Matched       bool         `json:"matched"`
	PendingMatches int         `json:"pendingMatches"`
	OrderBook     BookSnapshot `json:"orderBook"`
	NoMatchReason string       `json:"noMatchReason,omitempty"`
}

type BookSnapshot struct {
	Buys           int      `json:"buys"`
	Sells          int      `json:"sells"`
	BuyPrices      []string `json:"buyPrices"`
	BuyQuantities  []string `json:"buyQuantities"`
	SellPrices     []string `json:"sellPrices"`
	SellQuantities []string `json:"sellQuantities"`
}

// --- matches ---

type MatchView struct {
	MatchID           string `json:"matchId"`
	Buyer             string `json:"buyer"`
	Seller            string `json:"seller"`
	AssetAddress      string `json:"assetAddress"`
	ExecutionPrice    string `json:"executionPrice"`
	ExecutionQuantity string `json:"executionQuantity"`
	Timestamp         int64  `json:"timestamp"`
}

type PendingCountResponse struct {
	PendingCount int `json:"pendingCount"`
}

type SettlementResultView struct {
	MatchID       string `json:"matchId"`
	Success       bool   `json:"success"`
	Proof         string `json:"proof,omitempty"`
	PublicSignals string `json:"publicSignals,omitempty"`
	NullifierHash string `json:"nullifierHash,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ProcessMatchesResponse struct {
	Processed int                     `json:"processed"`
	Successful int                    `json:"successful"`
	Failed    int                     `json:"failed"`
	Results   []SettlementResultView `json:"results"`
}

// --- settlement ---

type PendingSettlementView struct {
	MatchID              string `json:"matchId"`
	Buyer                string `json:"buyer"`
	Seller               string `json:"seller"`
	AssetAddress         string `json:"assetAddress"`
	Status               string `json:"status"`
	ExecutionQuantity    string `json:"executionQuantity"`
	ExecutionPrice       string `json:"executionPrice"`
	UnsignedTxXdr        string `json:"unsignedTxXdr,omitempty"`
	PartiallySignedTxXdr string `json:"partiallySignedTxXdr,omitempty"`
	BuyerSigned          bool   `json:"buyerSigned"`
	SellerSigned         bool   `json:"sellerSigned"`
	TxHash               string `json:"txHash,omitempty"`
	Error                string `json:"error,omitempty"`
	CreatedAt            int64  `json:"createdAt"`
	UpdatedAt            int64  `json:"updatedAt"`
	NullifierHash        string `json:"nullifierHash,omitempty"`
	Role                 string `json:"role,omitempty"`
}

type SettlementStatsResponse struct {
	Pending             int `json:"pending"`
	Ready               int `json:"ready"`
	AwaitingSignatures  int `json:"awaitingSignatures"`
	Submitted           int `json:"submitted"`
	Confirmed           int `json:"confirmed"`
	Failed              int `json:"failed"`
}

type PrepareSettlementResponse struct {
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Asset         string `json:"asset"`
	PaymentAsset  string `json:"paymentAsset"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	Proof         string `json:"proof"`
	PublicSignals string `json:"publicSignals"`
	NullifierHash string `json:"nullifierHash"`
	SigningDigest string `json:"signingDigest"`
}

type BuildTxRequest struct {
	SourceAccount string `json:"sourceAccount"`
}

type BuildTxResponse struct {
	TxXdr string `json:"txXdr"`
}

type SignRequest struct {
	SignerAddress string `json:"signerAddress"`
	SignedTxXdr   string `json:"signedTxXdr"`
}

type SignResponse struct {
	Success  bool   `json:"success"`
	Complete bool   `json:"complete"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	TxHash   string `json:"txHash,omitempty"`
}

type SubmitTxRequest struct {
	SignedTxXdr string `json:"signedTxXdr"`
}

type SubmitTxResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ConfirmRequest struct {
	TxHash string `json:"txHash"`
}

type SigningStatusResponse struct {
	BuyerSigned  bool   `json:"buyerSigned"`
	SellerSigned bool   `json:"sellerSigned"`
	Status       string `json:"status"`
}

// --- whitelist ---

type WhitelistStatusResponse struct {
	RootPrefix string `json:"rootPrefix"`
	Count      int    `json:"count"`
}

// --- health ---

type HealthResponse struct {
	Status         string          `json:"status"`
	PendingMatches int             `json:"pendingMatches"`
	WebSocket      WebSocketHealth `json:"websocket"`
}

type WebSocketHealth struct {
	Connections int `json:"connections"`
}

func matchToView(m domain.Match) MatchView {
	return MatchView{
		MatchID:           m.MatchID,
		Buyer:             m.BuyOrder.Trader,
		Seller:            m.SellOrder.Trader,
		AssetAddress:      m.BuyOrder.AssetAddress,
		ExecutionPrice:    domain.BigIntToDecimalString(m.ExecutionPrice),
		ExecutionQuantity: domain.BigIntToDecimalString(m.ExecutionQuantity),
		Timestamp:         m.Timestamp,
	}
}

func settlementResultToView(r domain.ProofResult) SettlementResultView {
	return SettlementResultView{
		MatchID:       r.MatchID,
		Success:       r.Success,
		Proof:         domain.BytesToHex(r.Proof),
		PublicSignals: domain.BytesToHex(r.PublicSignals),
		NullifierHash: r.NullifierHash,
		Error:         r.Error,
	}
}

func pendingToView(p domain.PendingSettlement, role string) PendingSettlementView {
	return PendingSettlementView{
		MatchID:              p.MatchID,
		Buyer:                p.Match.BuyOrder.Trader,
		Seller:               p.Match.SellOrder.Trader,
		AssetAddress:         p.Match.BuyOrder.AssetAddress,
		Status:               string(p.Status),
		ExecutionQuantity:    domain.BigIntToDecimalString(p.Match.ExecutionQuantity),
		ExecutionPrice:       domain.BigIntToDecimalString(p.Match.ExecutionPrice),
		UnsignedTxXdr:        p.UnsignedTxXdr,
		PartiallySignedTxXdr: p.PartiallySignedTxXdr,
		BuyerSigned:          p.BuyerSigned,
		SellerSigned:         p.SellerSigned,
		TxHash:               p.TxHash,
		Error:                p.Error,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
		NullifierHash:        p.ProofResult.NullifierHash,
		Role:                 role,
	}
}
