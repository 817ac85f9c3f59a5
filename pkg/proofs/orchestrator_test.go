package proofs

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/whitelist"
)

type fakeLookup struct {
	proofs map[uint64]whitelist.MerkleProof
}

func (f fakeLookup) ProofByIndex(i uint64) (whitelist.MerkleProof, bool) {
	p, ok := f.proofs[i]
	return p, ok
}

type fakeOracle struct {
	succeed bool
	err     error
}

func (f fakeOracle) AssetHash(asset string) (*big.Int, error) {
	return big.NewInt(42), nil
}

func (f fakeOracle) GenerateCommitment(req CommitmentRequest) (CommitmentResult, error) {
	return CommitmentResult{Commitment: "0xc0mmit", Secret: big.NewInt(1), Nonce: big.NewInt(2), AssetHash: big.NewInt(42)}, nil
}

func (f fakeOracle) GenerateProof(req ProofRequest) (domain.ProofResult, error) {
	if f.err != nil {
		return domain.ProofResult{}, f.err
	}
	if !f.succeed {
		return domain.ProofResult{MatchID: req.MatchID, Success: false, Error: "oracle rejected"}, nil
	}
	return domain.ProofResult{
		MatchID:       req.MatchID,
		Proof:         []byte{1, 2, 3},
		PublicSignals: []byte{4, 5, 6},
		NullifierHash: "0xabcdef1234567890",
		Success:       true,
	}, nil
}

func testMatch() domain.Match {
	return domain.Match{
		MatchID: "m1",
		BuyOrder: domain.PrivateOrder{
			Trader: "buyer", AssetAddress: "0xasset", WhitelistIndex: 0,
			Secret: big.NewInt(1), Nonce: big.NewInt(2),
		},
		SellOrder: domain.PrivateOrder{
			Trader: "seller", AssetAddress: "0xasset", WhitelistIndex: 1,
			Secret: big.NewInt(3), Nonce: big.NewInt(4),
		},
		ExecutionQuantity: big.NewInt(10),
		ExecutionPrice:    big.NewInt(100),
	}
}

func TestProcessSuccessQueuesSettlement(t *testing.T) {
	b := bus.New(nil)
	var generatedEvents []bus.Tag
	b.Subscribe(bus.ProofGenerating, func(ev bus.Event) { generatedEvents = append(generatedEvents, ev.Tag) })
	b.Subscribe(bus.ProofGenerated, func(ev bus.Event) { generatedEvents = append(generatedEvents, ev.Tag) })

	var queued domain.Match
	var result domain.ProofResult
	queue := func(m domain.Match, r domain.ProofResult) { queued, result = m, r }

	lookup := fakeLookup{proofs: map[uint64]whitelist.MerkleProof{
		0: {Index: 0, Root: big.NewInt(1)},
		1: {Index: 1, Root: big.NewInt(1)},
	}}

	orch := NewOrchestrator(fakeOracle{succeed: true}, lookup, b, queue, nil)
	orch.Process(testMatch())

	if queued.MatchID != "m1" {
		t.Fatalf("queueSettlement not invoked with expected match")
	}
	if !result.Success {
		t.Fatalf("expected successful proof result")
	}
	if len(generatedEvents) != 2 || generatedEvents[0] != bus.ProofGenerating || generatedEvents[1] != bus.ProofGenerated {
		t.Errorf("expected proof:generating then proof:generated, got %v", generatedEvents)
	}
	if len(orch.SettlementsLog()) != 1 {
		t.Errorf("expected settlements log to record the result")
	}
}

func TestProcessMissingWhitelistProofFails(t *testing.T) {
	b := bus.New(nil)
	var failed bool
	b.Subscribe(bus.ProofFailed, func(ev bus.Event) { failed = true })

	queue := func(m domain.Match, r domain.ProofResult) { t.Error("queueSettlement should not be called on failure") }
	lookup := fakeLookup{proofs: map[uint64]whitelist.MerkleProof{}}

	orch := NewOrchestrator(fakeOracle{succeed: true}, lookup, b, queue, nil)
	orch.Process(testMatch())

	if !failed {
		t.Error("expected proof:failed event when whitelist proof missing")
	}
}

func TestProcessOracleErrorFails(t *testing.T) {
	b := bus.New(nil)
	var failed bool
	b.Subscribe(bus.ProofFailed, func(ev bus.Event) { failed = true })

	queue := func(m domain.Match, r domain.ProofResult) { t.Error("queueSettlement should not be called on error") }
	lookup := fakeLookup{proofs: map[uint64]whitelist.MerkleProof{
		0: {Index: 0, Root: big.NewInt(1)},
		1: {Index: 1, Root: big.NewInt(1)},
	}}

	orch := NewOrchestrator(fakeOracle{err: fmt.Errorf("prover crashed")}, lookup, b, queue, nil)
	orch.Process(testMatch())

	if !failed {
		t.Error("expected proof:failed event on oracle error")
	}
}
