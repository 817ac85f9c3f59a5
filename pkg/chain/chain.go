// Package chain wraps the external smart-contract RPC. It is the only
// package in this repo that talks to the chain — everything else treats
// transactions as opaque XDR strings. HTTP plumbing is built on go-resty,
// the same client library used elsewhere in this repo for outbound HTTP.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
)

// Account is the result of getAccount: sequence number plus balances are
// opaque beyond what the settlement coordinator needs (the sequence).
type Account struct {
	Address  string
	Sequence int64
}

// TxEnvelope is an opaque XDR-encoded transaction at any stage (unsigned,
// partially signed, fully signed).
type TxEnvelope string

// SettleTradeArgs are the typed scalar arguments the settlement contract's
// settle_trade invocation takes.
type SettleTradeArgs struct {
	MatchID      [32]byte
	Buyer        common.Address
	Seller       common.Address
	Asset        common.Address
	PaymentAsset common.Address
	Quantity     *big.Int // i128
	Price        *big.Int // i128
	Proof        []byte
	PubSignals   []byte
}

type SimulateResult struct {
	ResourceFootprint string
	MinResourceFee    int64
}

type SendResult struct {
	Status       string // "PENDING", "ERROR", ...
	ErrorXdr     string
}

// TxStatus mirrors getTransaction's result, status one of PENDING, SUCCESS,
// FAILED, NOT_FOUND; the public-index fallback may also report INDETERMINATE.
type TxStatus struct {
	Status string
	Hash   string
}

// Adapter is the interface the settlement coordinator and whitelist service
// depend on; the only concrete implementation talks to a Soroban-style RPC
// plus a Horizon-style public index as fallback.
type Adapter interface {
	GetAccount(ctx context.Context, address string) (Account, error)
	SimulateTransaction(ctx context.Context, tx TxEnvelope) (SimulateResult, error)
	PrepareTransaction(ctx context.Context, tx TxEnvelope, sim SimulateResult) (TxEnvelope, error)
	SendTransaction(ctx context.Context, signedTx TxEnvelope) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TxStatus, error)
	GetTransactionViaPublicIndex(ctx context.Context, hash string) (TxStatus, error)
	BuildSettleTradeInvocation(args SettleTradeArgs) (TxEnvelope, error)
	ActiveParticipants(ctx context.Context) ([]*big.Int, error)
}

// RESTAdapter is the concrete Adapter backed by an RPC endpoint and a
// Horizon-style public index endpoint, both accessed over resty.
type RESTAdapter struct {
	rpc     *resty.Client
	horizon *resty.Client
}

func NewRESTAdapter(rpcURL, horizonURL string, timeout time.Duration) *RESTAdapter {
	return &RESTAdapter{
		rpc:     resty.New().SetBaseURL(rpcURL).SetTimeout(timeout),
		horizon: resty.New().SetBaseURL(horizonURL).SetTimeout(timeout),
	}
}

func (a *RESTAdapter) GetAccount(ctx context.Context, address string) (Account, error) {
	var out Account
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).
		SetQueryParam("address", address).
		Get("/accounts")
	if err != nil {
		return Account{}, fmt.Errorf("chain: get account: %w", err)
	}
	if resp.IsError() {
		return Account{}, fmt.Errorf("chain: get account status %d", resp.StatusCode())
	}
	out.Address = address
	return out, nil
}

func (a *RESTAdapter) SimulateTransaction(ctx context.Context, tx TxEnvelope) (SimulateResult, error) {
	var out SimulateResult
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).
		SetBody(map[string]string{"tx": string(tx)}).
		Post("/simulateTransaction")
	if err != nil {
		return SimulateResult{}, fmt.Errorf("chain: simulate: %w", err)
	}
	if resp.IsError() {
		return SimulateResult{}, fmt.Errorf("chain: simulate rejected: %s", resp.String())
	}
	return out, nil
}

func (a *RESTAdapter) PrepareTransaction(ctx context.Context, tx TxEnvelope, sim SimulateResult) (TxEnvelope, error) {
	var out struct {
		Tx string `json:"tx"`
	}
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).
		SetBody(map[string]interface{}{"tx": string(tx), "simulation": sim}).
		Post("/prepareTransaction")
	if err != nil {
		return "", fmt.Errorf("chain: prepare: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chain: prepare rejected: %s", resp.String())
	}
	return TxEnvelope(out.Tx), nil
}

func (a *RESTAdapter) SendTransaction(ctx context.Context, signedTx TxEnvelope) (SendResult, error) {
	var out SendResult
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).
		SetBody(map[string]string{"tx": string(signedTx)}).
		Post("/sendTransaction")
	if err != nil {
		return SendResult{}, fmt.Errorf("chain: send: %w", err)
	}
	if resp.IsError() {
		return SendResult{}, fmt.Errorf("chain: send rejected: %s", resp.String())
	}
	return out, nil
}

func (a *RESTAdapter) GetTransaction(ctx context.Context, hash string) (TxStatus, error) {
	var out TxStatus
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).
		SetQueryParam("hash", hash).
		Get("/getTransaction")
	if err != nil {
		return TxStatus{}, fmt.Errorf("chain: get transaction: %w", err)
	}
	if resp.IsError() {
		return TxStatus{}, fmt.Errorf("chain: get transaction status %d", resp.StatusCode())
	}
	return out, nil
}

// GetTransactionViaPublicIndex is the Horizon-style fallback used when the
// RPC lookup raises (network error, RPC down).
func (a *RESTAdapter) GetTransactionViaPublicIndex(ctx context.Context, hash string) (TxStatus, error) {
	var out struct {
		Successful *bool  `json:"successful"`
		Hash       string `json:"hash"`
	}
	resp, err := a.horizon.R().SetContext(ctx).SetResult(&out).
		Get("/transactions/" + hash)
	if err != nil {
		return TxStatus{}, fmt.Errorf("chain: horizon lookup: %w", err)
	}
	if resp.IsError() {
		return TxStatus{Status: "NOT_FOUND", Hash: hash}, nil
	}
	switch {
	case out.Successful == nil:
		return TxStatus{Status: "INDETERMINATE", Hash: hash}, nil
	case *out.Successful:
		return TxStatus{Status: "SUCCESS", Hash: hash}, nil
	default:
		return TxStatus{Status: "FAILED", Hash: hash}, nil
	}
}

// BuildSettleTradeInvocation constructs the unsigned, unsimulated envelope
// for a single-operation settle_trade call. The actual contract wire format
// is opaque XDR; this repo encodes only as much structure as the coordinator
// needs to pass through simulate/prepare, not a full XDR codec.
func (a *RESTAdapter) BuildSettleTradeInvocation(args SettleTradeArgs) (TxEnvelope, error) {
	if args.Quantity == nil || args.Price == nil {
		return "", fmt.Errorf("chain: settle_trade requires quantity and price")
	}
	payload := fmt.Sprintf(
		"settle_trade|%x|%s|%s|%s|%s|%s|%s|%x|%x",
		args.MatchID, args.Buyer.Hex(), args.Seller.Hex(), args.Asset.Hex(), args.PaymentAsset.Hex(),
		args.Quantity.String(), args.Price.String(), args.Proof, args.PubSignals,
	)
	return TxEnvelope(payload), nil
}

func (a *RESTAdapter) ActiveParticipants(ctx context.Context) ([]*big.Int, error) {
	var out struct {
		IDHashes []string `json:"idHashes"`
	}
	resp, err := a.rpc.R().SetContext(ctx).SetResult(&out).Get("/registry/participants")
	if err != nil {
		return nil, fmt.Errorf("chain: registry participants: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chain: registry participants status %d", resp.StatusCode())
	}
	ids := make([]*big.Int, 0, len(out.IDHashes))
	for _, s := range out.IDHashes {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("chain: invalid idHash %q", s)
		}
		ids = append(ids, v)
	}
	return ids, nil
}
