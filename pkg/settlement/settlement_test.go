package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/chain"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/util"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- f.now
	return c
}
func (f fakeClock) Now() time.Time { return f.now }

func testMatch(id string) domain.Match {
	return domain.Match{
		MatchID: id,
		BuyOrder: domain.PrivateOrder{
			Trader: "0x0000000000000000000000000000000000000001", AssetAddress: "0x00000000000000000000000000000000000002",
		},
		SellOrder: domain.PrivateOrder{
			Trader: "0x0000000000000000000000000000000000000003", AssetAddress: "0x00000000000000000000000000000000000002",
		},
		ExecutionQuantity: big.NewInt(10),
		ExecutionPrice:    big.NewInt(100),
	}
}

func newCoordinator(adapter chain.Adapter) *Coordinator {
	b := bus.New(nil)
	return NewCoordinator(adapter, b, ethcommon.HexToAddress("0x9"), time.Millisecond, 3, fakeClock{now: time.Unix(1000, 0)}, nil)
}

func TestQueueSettlementIsIdempotent(t *testing.T) {
	c := newCoordinator(&chain.FakeAdapter{})
	m := testMatch("m1")
	proof := domain.ProofResult{MatchID: "m1", Success: true}

	r1 := c.QueueSettlement(m, proof)
	r2 := c.QueueSettlement(m, proof)

	if r1 != r2 {
		t.Error("queueSettlement should return the existing record on repeat calls")
	}
	if r1.Status != domain.StatusReady {
		t.Errorf("status = %s, want ready", r1.Status)
	}
}

func TestAddSignatureRejectsNonParty(t *testing.T) {
	c := newCoordinator(&chain.FakeAdapter{})
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	_, err := c.AddSignature(context.Background(), "m1", "0xdeadbeef", "xdr")
	if err == nil {
		t.Fatal("expected error for non-party signer")
	}
}

func TestTwoPartySigningHappyPath(t *testing.T) {
	adapter := &chain.FakeAdapter{
		SendStatus:   "PENDING",
		PollStatuses: []chain.TxStatus{{Status: "SUCCESS", Hash: "0xhash"}},
	}
	c := newCoordinator(adapter)
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	var events []bus.Tag
	// re-subscribe on the coordinator's own bus via a second coordinator is awkward;
	// instead verify via GetSigningStatus/Get after each step.

	res1, err := c.AddSignature(context.Background(), "m1", m.BuyOrder.Trader, "xdr-buyer")
	if err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if res1.Complete {
		t.Error("should not be complete after only one party signed")
	}

	status, ok := c.GetSigningStatus("m1")
	if !ok || !status.BuyerSigned || status.SellerSigned {
		t.Fatalf("unexpected signing status after buyer sign: %+v", status)
	}

	res2, err := c.AddSignature(context.Background(), "m1", m.SellOrder.Trader, "xdr-seller")
	if err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	if !res2.Complete {
		t.Fatalf("expected complete after both signed, got error: %s", res2.Error)
	}

	rec, ok := c.Get("m1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Status != domain.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", rec.Status)
	}
	if rec.TxHash == "" {
		t.Error("expected txHash to be populated on confirmation")
	}
	_ = events
}

func TestSubmitSettlementHorizonFallbackOnPollError(t *testing.T) {
	adapter := &chain.FakeAdapter{
		SendStatus:    "PENDING",
		PollStatuses:  nil, // GetTransaction raises immediately
		HorizonStatus: chain.TxStatus{Status: "SUCCESS", Hash: "0xhash"},
	}
	c := newCoordinator(adapter)
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	ok, hash, err := c.SubmitSettlement(context.Background(), "m1", "signed-xdr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || hash == "" {
		t.Error("expected confirmed settlement via horizon fallback")
	}
}

func TestSubmitSettlementChainRejectionMarksFailed(t *testing.T) {
	adapter := &chain.FakeAdapter{SendStatus: "ERROR"}
	c := newCoordinator(adapter)
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	_, _, err := c.SubmitSettlement(context.Background(), "m1", "signed-xdr")
	if err == nil {
		t.Fatal("expected error on chain rejection")
	}

	rec, _ := c.Get("m1")
	if rec.Status != domain.StatusFailed || rec.Error == "" {
		t.Errorf("expected failed status with error recorded, got %+v", rec)
	}
}

func TestMarkConfirmedEscapeHatch(t *testing.T) {
	c := newCoordinator(&chain.FakeAdapter{})
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	c.MarkConfirmed("m1", "0xforced")

	rec, _ := c.Get("m1")
	if rec.Status != domain.StatusConfirmed || rec.TxHash != "0xforced" {
		t.Errorf("markConfirmed did not apply: %+v", rec)
	}
}

func TestSettlementsForTraderTagsRole(t *testing.T) {
	c := newCoordinator(&chain.FakeAdapter{})
	m := testMatch("m1")
	c.QueueSettlement(m, domain.ProofResult{MatchID: "m1", Success: true})

	results := c.SettlementsForTrader(m.BuyOrder.Trader)
	if len(results) != 1 || results[0].Role != RoleBuyer {
		t.Fatalf("expected buyer role, got %+v", results)
	}

	results = c.SettlementsForTrader(m.SellOrder.Trader)
	if len(results) != 1 || results[0].Role != RoleSeller {
		t.Fatalf("expected seller role, got %+v", results)
	}
}

var _ = util.RealClock{}
