package proofs

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/whitelist"
)

// ProofLookup resolves the Merkle proof for a whitelistIndex; it is the
// orchestrator's only dependency on the whitelist package, kept narrow on
// purpose (the root travels inside the returned proof).
type ProofLookup interface {
	ProofByIndex(i uint64) (whitelist.MerkleProof, bool)
}

// QueueSettlementFunc is invoked once a successful proof result is ready for
// a match; failed proofs are recorded in the settlements log and emitted as
// proof:failed but never handed to it. It is injected rather than imported so this package
// never depends on pkg/settlement (per the "no cyclic references" design
// note: the coordinator consumes the matcher/orchestrator by callback, not
// the other way around).
type QueueSettlementFunc func(match domain.Match, result domain.ProofResult)

// Orchestrator takes one match per Process call (the caller drains the
// matcher's pending queue), calls the oracle, and emits the proof:* events
// in order for that match. It holds no queue of its own.
type Orchestrator struct {
	mu            sync.Mutex
	oracle        Oracle
	whitelist     ProofLookup
	bus           *bus.Bus
	queue         QueueSettlementFunc
	log           *zap.Logger
	settlementLog []domain.ProofResult
}

func NewOrchestrator(oracle Oracle, wl ProofLookup, b *bus.Bus, queue QueueSettlementFunc, log *zap.Logger) *Orchestrator {
	return &Orchestrator{oracle: oracle, whitelist: wl, bus: b, queue: queue, log: log}
}

// Process runs the full pipeline for a single match: whitelist lookup,
// asset-hash computation, oracle call, and event emission, then hands the
// result to the settlement coordinator.
func (o *Orchestrator) Process(m domain.Match) {
	buyerProof, ok := o.whitelist.ProofByIndex(m.BuyOrder.WhitelistIndex)
	if !ok {
		o.fail(m, fmt.Sprintf("no whitelist proof for buyer index %d", m.BuyOrder.WhitelistIndex))
		return
	}
	sellerProof, ok := o.whitelist.ProofByIndex(m.SellOrder.WhitelistIndex)
	if !ok {
		o.fail(m, fmt.Sprintf("no whitelist proof for seller index %d", m.SellOrder.WhitelistIndex))
		return
	}

	assetHash, err := o.oracle.AssetHash(m.BuyOrder.AssetAddress)
	if err != nil {
		o.fail(m, fmt.Sprintf("asset hash: %v", err))
		return
	}

	o.bus.Emit(bus.Event{
		Tag:     bus.ProofGenerating,
		MatchID: m.MatchID,
		Asset:   m.BuyOrder.AssetAddress,
		Channels: []string{"orderbook:" + m.BuyOrder.AssetAddress, "settlement:" + m.MatchID},
	})

	req := ProofRequest{
		MatchID:          m.MatchID,
		BuyerProof:       buyerProof,
		SellerProof:      sellerProof,
		BuyerSecret:      m.BuyOrder.Secret,
		BuyerNonce:       m.BuyOrder.Nonce,
		SellerSecret:     m.SellOrder.Secret,
		SellerNonce:      m.SellOrder.Nonce,
		BuyerCommitment:  m.BuyOrder.Commitment,
		SellerCommitment: m.SellOrder.Commitment,
		AssetHash:        assetHash,
		ExecutionQty:     m.ExecutionQuantity,
		ExecutionPrice:   m.ExecutionPrice,
		WhitelistRoot:    buyerProof.Root,
	}

	result, err := o.oracle.GenerateProof(req)
	if err != nil {
		o.fail(m, err.Error())
		return
	}
	if !result.Success {
		o.fail(m, result.Error)
		return
	}

	o.mu.Lock()
	o.settlementLog = append(o.settlementLog, result)
	o.mu.Unlock()

	proofHashPrefix := result.NullifierHash
	if len(proofHashPrefix) > 10 {
		proofHashPrefix = proofHashPrefix[:10]
	}
	o.bus.Emit(bus.Event{
		Tag:     bus.ProofGenerated,
		MatchID: m.MatchID,
		Asset:   m.BuyOrder.AssetAddress,
		Channels: []string{"orderbook:" + m.BuyOrder.AssetAddress, "settlement:" + m.MatchID},
		Payload: map[string]string{"proofHashPrefix": proofHashPrefix},
	})

	o.queue(m, result)
}

func (o *Orchestrator) fail(m domain.Match, reason string) {
	result := domain.ProofResult{MatchID: m.MatchID, Success: false, Error: reason}

	o.mu.Lock()
	o.settlementLog = append(o.settlementLog, result)
	o.mu.Unlock()

	if o.log != nil {
		o.log.Warn("proof_failed", zap.String("match_id", m.MatchID), zap.String("reason", reason))
	}

	o.bus.Emit(bus.Event{
		Tag:     bus.ProofFailed,
		MatchID: m.MatchID,
		Asset:   m.BuyOrder.AssetAddress,
		Channels: []string{"orderbook:" + m.BuyOrder.AssetAddress, "settlement:" + m.MatchID},
		Payload: map[string]string{"error": reason},
	})
}

// SettlementsLog returns the recorded proof outcomes (success and failure)
// for the /api/matches/settlements query.
func (o *Orchestrator) SettlementsLog() []domain.ProofResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ProofResult(nil), o.settlementLog...)
}
