// Package settlement implements the per-match settlement state machine:
// queue → ready → awaiting_signatures → submitted → confirmed|failed.
// Structurally grounded on a mutex-guarded record-map idiom, with two-party
// BLS signature aggregation (pkg/crypto/bls.go) and an EIP-712-style typed
// digest (pkg/crypto/eip712.go) giving "signer is part of the trade" a
// concrete digest instead of an opaque blob.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/chain"
	darkcrypto "github.com/darkpool/engine/pkg/crypto"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/util"
)

// ErrNotFound is returned when a matchId has no pending settlement record.
var ErrNotFound = errors.New("not found")

// ErrSignerNotParty is returned when AddSignature's signer is neither the
// buyer nor the seller of the matched trade.
var ErrSignerNotParty = errors.New("signer not part of trade")

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// SigningStatus is getSigningStatus's return contract.
type SigningStatus struct {
	BuyerSigned  bool
	SellerSigned bool
	Status       domain.SettlementStatus
}

// Coordinator owns the pending-settlement map exclusively, per the
// ownership rules in the data model.
type Coordinator struct {
	mu       sync.Mutex
	records  map[string]*domain.PendingSettlement
	chain    chain.Adapter
	bus      *bus.Bus
	digest   *darkcrypto.DigestBuilder
	paymentAsset ethcommon.Address
	pollInterval time.Duration
	pollMax      int
	clock        util.Clock
	log          *zap.Logger
}

func NewCoordinator(adapter chain.Adapter, b *bus.Bus, paymentAsset ethcommon.Address, pollInterval time.Duration, pollMax int, clock util.Clock, log *zap.Logger) *Coordinator {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Coordinator{
		records:      make(map[string]*domain.PendingSettlement),
		chain:        adapter,
		bus:          b,
		digest:       darkcrypto.NewDigestBuilder(darkcrypto.DefaultSettlementDomain()),
		paymentAsset: paymentAsset,
		pollInterval: pollInterval,
		pollMax:      pollMax,
		clock:        clock,
		log:          log,
	}
}

// QueueSettlement is idempotent on matchId: calling it twice for the same
// match returns the existing record rather than resetting it.
func (c *Coordinator) QueueSettlement(m domain.Match, proof domain.ProofResult) *domain.PendingSettlement {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.records[m.MatchID]; ok {
		return existing
	}

	now := c.clock.Now().UnixMilli()
	rec := &domain.PendingSettlement{
		MatchID:     m.MatchID,
		Match:       m,
		ProofResult: proof,
		Status:      domain.StatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.records[m.MatchID] = rec

	c.bus.Emit(bus.Event{
		Tag:      bus.SettlementQueued,
		MatchID:  m.MatchID,
		Asset:    m.BuyOrder.AssetAddress,
		Channels: []string{"settlement:" + m.MatchID, "trader:" + m.BuyOrder.Trader, "trader:" + m.SellOrder.Trader},
	})
	return rec
}

// PreparedSettlementData is prepareSettlementData's return contract.
type PreparedSettlementData struct {
	Buyer         string
	Seller        string
	Asset         string
	PaymentAsset  string
	Quantity      string
	Price         string
	Proof         string
	PublicSignals string
	NullifierHash string
	SigningDigest string
}

func (c *Coordinator) PrepareSettlementData(matchID string) (PreparedSettlementData, bool) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	c.mu.Unlock()
	if !ok {
		return PreparedSettlementData{}, false
	}

	// The digest is the same payload both parties BLS-sign out of band
	// (AggregatePartialSignatures); surface it here so a caller on the
	// /prepare path can sign without a separate round trip.
	digestHex := ""
	if digest, err := c.SettlementDigest(matchID); err == nil {
		digestHex = domain.BytesToHex(digest)
	}

	return PreparedSettlementData{
		Buyer:         rec.Match.BuyOrder.Trader,
		Seller:        rec.Match.SellOrder.Trader,
		Asset:         rec.Match.BuyOrder.AssetAddress,
		PaymentAsset:  c.paymentAsset.Hex(),
		Quantity:      domain.BigIntToDecimalString(rec.Match.ExecutionQuantity),
		Price:         domain.BigIntToDecimalString(rec.Match.ExecutionPrice),
		Proof:         domain.BytesToHex(rec.ProofResult.Proof),
		PublicSignals: domain.BytesToHex(rec.ProofResult.PublicSignals),
		NullifierHash: rec.ProofResult.NullifierHash,
		SigningDigest: digestHex,
	}, true
}

// BuildSettlementTransaction fetches the source account sequence, builds
// the settle_trade invocation, simulates it and prepares it for signing.
func (c *Coordinator) BuildSettlementTransaction(ctx context.Context, matchID, sourceAccount string) (string, error) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("settlement %s: not found", matchID)
	}

	if _, err := c.chain.GetAccount(ctx, sourceAccount); err != nil {
		c.markFailed(matchID, fmt.Sprintf("get account: %v", err))
		return "", fmt.Errorf("not found or build failed")
	}

	var matchIDBytes [32]byte
	copy(matchIDBytes[:], []byte(matchID))

	unsigned, err := c.chain.BuildSettleTradeInvocation(chain.SettleTradeArgs{
		MatchID:      matchIDBytes,
		Buyer:        ethcommon.HexToAddress(rec.Match.BuyOrder.Trader),
		Seller:       ethcommon.HexToAddress(rec.Match.SellOrder.Trader),
		Asset:        ethcommon.HexToAddress(rec.Match.BuyOrder.AssetAddress),
		PaymentAsset: c.paymentAsset,
		Quantity:     rec.Match.ExecutionQuantity,
		Price:        rec.Match.ExecutionPrice,
		Proof:        rec.ProofResult.Proof,
		PubSignals:   rec.ProofResult.PublicSignals,
	})
	if err != nil {
		c.markFailed(matchID, fmt.Sprintf("build invocation: %v", err))
		return "", fmt.Errorf("not found or build failed")
	}

	sim, err := c.chain.SimulateTransaction(ctx, chain.TxEnvelope(unsigned))
	if err != nil {
		c.markFailed(matchID, fmt.Sprintf("simulate: %v", err))
		return "", fmt.Errorf("not found or build failed")
	}

	prepared, err := c.chain.PrepareTransaction(ctx, chain.TxEnvelope(unsigned), sim)
	if err != nil {
		c.markFailed(matchID, fmt.Sprintf("prepare: %v", err))
		return "", fmt.Errorf("not found or build failed")
	}

	c.mu.Lock()
	rec.UnsignedTxXdr = string(prepared)
	rec.UpdatedAt = c.clock.Now().UnixMilli()
	c.mu.Unlock()

	c.bus.Emit(bus.Event{
		Tag:      bus.SettlementTxBuilt,
		MatchID:  matchID,
		Channels: []string{"settlement:" + matchID},
		Payload:  map[string]string{"txHash": hashOf(string(prepared))},
	})

	return string(prepared), nil
}

// AddSignatureResult is addSignature's return contract.
type AddSignatureResult struct {
	Complete bool
	Error    string
}

// AddSignature records a party's signed XDR. If both buyer and seller have
// now signed, it immediately invokes SubmitSettlement in the same call.
func (c *Coordinator) AddSignature(ctx context.Context, matchID, signer, signedXdr string) (AddSignatureResult, error) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	if !ok {
		c.mu.Unlock()
		return AddSignatureResult{}, ErrNotFound
	}

	role, isParty := partyRole(rec, signer)
	if !isParty {
		c.mu.Unlock()
		return AddSignatureResult{}, ErrSignerNotParty
	}

	switch role {
	case RoleBuyer:
		rec.BuyerSigned = true
	case RoleSeller:
		rec.SellerSigned = true
	}
	rec.PartiallySignedTxXdr = signedXdr
	rec.Status = domain.StatusAwaitingSignatures
	rec.UpdatedAt = c.clock.Now().UnixMilli()
	bothSigned := rec.BuyerSigned && rec.SellerSigned
	c.mu.Unlock()

	c.bus.Emit(bus.Event{
		Tag:      bus.SignatureAdded,
		MatchID:  matchID,
		Trader:   signer,
		Channels: []string{"settlement:" + matchID},
	})

	if !bothSigned {
		return AddSignatureResult{Complete: false}, nil
	}

	c.bus.Emit(bus.Event{
		Tag:      bus.SignatureComplete,
		MatchID:  matchID,
		Channels: []string{"settlement:" + matchID},
	})

	_, _, err := c.SubmitSettlement(ctx, matchID, signedXdr)
	if err != nil {
		return AddSignatureResult{Complete: false, Error: err.Error()}, nil
	}
	return AddSignatureResult{Complete: true}, nil
}

// AggregatePartialSignatures combines each party's raw BLS signature over
// the settlement digest into a single aggregate — the concrete mechanism
// behind "both parties signed" when a caller chooses to carry BLS
// signatures alongside the XDR rather than relying on the chain's own
// multi-sig check.
func (c *Coordinator) AggregatePartialSignatures(buyerSig, sellerSig []byte) []byte {
	return darkcrypto.Aggregate([][]byte{buyerSig, sellerSig})
}

// SettlementDigest returns the typed digest both parties sign over.
func (c *Coordinator) SettlementDigest(matchID string) ([]byte, error) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	return c.digest.HashSettlement(&darkcrypto.SettlementDigestInput{
		MatchID:       matchID,
		Buyer:         ethcommon.HexToAddress(rec.Match.BuyOrder.Trader),
		Seller:        ethcommon.HexToAddress(rec.Match.SellOrder.Trader),
		Asset:         ethcommon.HexToAddress(rec.Match.BuyOrder.AssetAddress),
		PaymentAsset:  c.paymentAsset,
		Quantity:      rec.Match.ExecutionQuantity,
		Price:         rec.Match.ExecutionPrice,
		NullifierHash: rec.ProofResult.NullifierHash,
	})
}

// SubmitSettlement parses and sends the signed transaction, then polls for
// confirmation up to pollMax times at pollInterval, falling back to the
// Horizon-style public index if the poll itself raises.
func (c *Coordinator) SubmitSettlement(ctx context.Context, matchID, signedXdr string) (bool, string, error) {
	sendResult, err := c.chain.SendTransaction(ctx, chain.TxEnvelope(signedXdr))
	if err != nil || sendResult.Status != "PENDING" {
		msg := "chain rejected submission"
		if sendResult.ErrorXdr != "" {
			msg = fmt.Sprintf("%s: %s", msg, sendResult.ErrorXdr)
		}
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		c.markFailed(matchID, msg)
		return false, "", fmt.Errorf("%s", msg)
	}

	txHash := hashOf(signedXdr)
	c.markSubmitted(matchID)

	for attempt := 0; attempt < c.pollMax; attempt++ {
		status, err := c.chain.GetTransaction(ctx, txHash)
		if err != nil {
			return c.resolveViaHorizon(ctx, matchID, txHash)
		}
		switch status.Status {
		case "SUCCESS":
			c.markConfirmedLocked(matchID, txHash)
			return true, txHash, nil
		case "PENDING":
			select {
			case <-ctx.Done():
				return false, "", ctx.Err()
			case <-c.clock.After(c.pollInterval):
			}
			continue
		default:
			c.markFailed(matchID, fmt.Sprintf("chain status %s", status.Status))
			return false, "", fmt.Errorf("chain status %s", status.Status)
		}
	}

	return c.resolveViaHorizon(ctx, matchID, txHash)
}

func (c *Coordinator) resolveViaHorizon(ctx context.Context, matchID, txHash string) (bool, string, error) {
	status, err := c.chain.GetTransactionViaPublicIndex(ctx, txHash)
	if err != nil {
		// indeterminate: chain accepted the submission, treat optimistically.
		c.markConfirmedLocked(matchID, txHash)
		return true, txHash, nil
	}
	switch status.Status {
	case "SUCCESS":
		c.markConfirmedLocked(matchID, txHash)
		return true, txHash, nil
	case "FAILED":
		c.markFailed(matchID, "horizon reported unsuccessful")
		return false, "", fmt.Errorf("horizon reported unsuccessful")
	default:
		c.markConfirmedLocked(matchID, txHash)
		return true, txHash, nil
	}
}

func (c *Coordinator) markSubmitted(matchID string) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	if ok {
		rec.Status = domain.StatusSubmitted
		rec.UpdatedAt = c.clock.Now().UnixMilli()
	}
	c.mu.Unlock()
}

func (c *Coordinator) markFailed(matchID, reason string) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	if ok {
		rec.Status = domain.StatusFailed
		rec.Error = reason
		rec.UpdatedAt = c.clock.Now().UnixMilli()
	}
	c.mu.Unlock()

	if c.log != nil {
		c.log.Warn("settlement_failed", zap.String("match_id", matchID), zap.String("reason", reason))
	}

	c.bus.Emit(bus.Event{
		Tag:      bus.SettlementFailed,
		MatchID:  matchID,
		Channels: []string{"settlement:" + matchID},
		Payload:  map[string]string{"error": reason},
	})
}

func (c *Coordinator) markConfirmedLocked(matchID, txHash string) {
	c.mu.Lock()
	rec, ok := c.records[matchID]
	if ok {
		rec.Status = domain.StatusConfirmed
		rec.TxHash = txHash
		rec.UpdatedAt = c.clock.Now().UnixMilli()
	}
	c.mu.Unlock()

	c.bus.Emit(bus.Event{
		Tag:      bus.SettlementConfirmed,
		MatchID:  matchID,
		Channels: []string{"settlement:" + matchID},
		Payload:  map[string]string{"txHash": txHash},
	})
}

// MarkConfirmed is an escape hatch that unconditionally marks a settlement
// confirmed, bypassing the normal poll/submit path.
func (c *Coordinator) MarkConfirmed(matchID, txHash string) {
	c.markConfirmedLocked(matchID, txHash)
}

// SettlementWithRole pairs a pending settlement with the caller's role.
type SettlementWithRole struct {
	Settlement domain.PendingSettlement
	Role       Role
}

func (c *Coordinator) SettlementsForTrader(address string) []SettlementWithRole {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []SettlementWithRole
	for _, rec := range c.records {
		if rec.Match.BuyOrder.Trader == address {
			out = append(out, SettlementWithRole{Settlement: *rec, Role: RoleBuyer})
		} else if rec.Match.SellOrder.Trader == address {
			out = append(out, SettlementWithRole{Settlement: *rec, Role: RoleSeller})
		}
	}
	return out
}

func (c *Coordinator) GetSigningStatus(matchID string) (SigningStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[matchID]
	if !ok {
		return SigningStatus{}, false
	}
	return SigningStatus{BuyerSigned: rec.BuyerSigned, SellerSigned: rec.SellerSigned, Status: rec.Status}, true
}

func (c *Coordinator) GetStats() map[domain.SettlementStatus]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := make(map[domain.SettlementStatus]int)
	for _, rec := range c.records {
		stats[rec.Status]++
	}
	return stats
}

func (c *Coordinator) Get(matchID string) (domain.PendingSettlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[matchID]
	if !ok {
		return domain.PendingSettlement{}, false
	}
	return *rec, true
}

// All returns every pending settlement record, for the `/api/settlement/pending`
// listing. No eviction is applied — records accumulate for the life of the
// process.
func (c *Coordinator) All() []domain.PendingSettlement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.PendingSettlement, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	return out
}

func partyRole(rec *domain.PendingSettlement, signer string) (Role, bool) {
	switch signer {
	case rec.Match.BuyOrder.Trader:
		return RoleBuyer, true
	case rec.Match.SellOrder.Trader:
		return RoleSeller, true
	default:
		return "", false
	}
}

func hashOf(s string) string {
	return ethcrypto.Keccak256Hash([]byte(s)).Hex()
}
