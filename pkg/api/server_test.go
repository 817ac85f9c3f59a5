package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/chain"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/matching"
	"github.com/darkpool/engine/pkg/proofs"
	"github.com/darkpool/engine/pkg/settlement"
	"github.com/darkpool/engine/pkg/util"
	"github.com/darkpool/engine/pkg/whitelist"
)

type fakeOracle struct{}

func (fakeOracle) AssetHash(asset string) (*big.Int, error) { return big.NewInt(7), nil }

func (fakeOracle) GenerateCommitment(req proofs.CommitmentRequest) (proofs.CommitmentResult, error) {
	return proofs.CommitmentResult{
		Commitment: "0xcommit",
		Secret:     big.NewInt(11),
		Nonce:      big.NewInt(22),
		AssetHash:  big.NewInt(7),
	}, nil
}

func (fakeOracle) GenerateProof(req proofs.ProofRequest) (domain.ProofResult, error) {
	return domain.ProofResult{
		MatchID:       req.MatchID,
		Proof:         []byte{0xaa},
		PublicSignals: []byte{0xbb},
		NullifierHash: "0xnullifier",
		Success:       true,
	}, nil
}

type fakeClock struct{ now time.Time }

func (f fakeClock) After(d time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- f.now
	return c
}
func (f fakeClock) Now() time.Time { return f.now }

// newTestServer wires a full Server against real matching/whitelist/proofs/
// settlement components and a fake chain adapter, the way cmd/server/main.go
// wires the production graph.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := bus.New(nil)
	tree := whitelist.New(4)
	if _, _, err := tree.Initialize([]*big.Int{big.NewInt(1), big.NewInt(2)}); err != nil {
		t.Fatalf("whitelist init: %v", err)
	}

	adapter := &chain.FakeAdapter{}
	coordinator := settlement.NewCoordinator(adapter, b, ethcommon.HexToAddress("0x9"), time.Millisecond, 3, fakeClock{now: time.Unix(1000, 0)}, nil)
	orchestrator := proofs.NewOrchestrator(fakeOracle{}, tree, b, coordinator.QueueSettlement, nil)
	engine := matching.NewEngine(b)

	return NewServer(Deps{
		Engine:       engine,
		Whitelist:    tree,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		ChainAdapter: adapter,
		Oracle:       fakeOracle{},
		Bus:          b,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, r)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/health", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestSubmitOrderThenMatchFlow(t *testing.T) {
	s := newTestServer(t)

	buy := SubmitOrderRequest{
		Commitment: "0xc1", Trader: "buyer", AssetAddress: "0xasset",
		Side: 0, Quantity: "10", Price: "100", Secret: "1", Nonce: "2",
	}
	rr := doJSON(t, s, http.MethodPost, "/api/orders/submit", buy)
	if rr.Code != http.StatusOK {
		t.Fatalf("buy submit status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var buyResp SubmitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &buyResp); err != nil {
		t.Fatalf("decode buy response: %v", err)
	}
	if buyResp.Matched {
		t.Fatalf("buy order should not match against an empty book")
	}
	if buyResp.OrderBook.Buys != 1 {
		t.Fatalf("order book should show 1 resting buy, got %d", buyResp.OrderBook.Buys)
	}

	sell := SubmitOrderRequest{
		Commitment: "0xc2", Trader: "seller", AssetAddress: "0xasset",
		Side: 1, Quantity: "10", Price: "100", Secret: "3", Nonce: "4",
	}
	rr = doJSON(t, s, http.MethodPost, "/api/orders/submit", sell)
	if rr.Code != http.StatusOK {
		t.Fatalf("sell submit status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var sellResp SubmitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sellResp); err != nil {
		t.Fatalf("decode sell response: %v", err)
	}
	if !sellResp.Matched {
		t.Fatalf("crossing sell order should have matched")
	}

	rr = doJSON(t, s, http.MethodGet, "/api/matches", nil)
	var matches []MatchView
	if err := json.Unmarshal(rr.Body.Bytes(), &matches); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 completed match, got %d", len(matches))
	}
	if matches[0].ExecutionQuantity != "10" || matches[0].ExecutionPrice != "100" {
		t.Errorf("unexpected execution terms: %+v", matches[0])
	}

	rr = doJSON(t, s, http.MethodPost, "/api/matches/process", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("process status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var processed ProcessMatchesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &processed); err != nil {
		t.Fatalf("decode process response: %v", err)
	}
	if processed.Processed != 1 || processed.Successful != 1 {
		t.Fatalf("expected 1 processed/successful, got %+v", processed)
	}

	rr = doJSON(t, s, http.MethodGet, "/api/settlement/pending", nil)
	var pending []PendingSettlementView
	if err := json.Unmarshal(rr.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending settlements: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending settlement, got %d", len(pending))
	}
	if pending[0].Status != string(domain.StatusReady) {
		t.Errorf("status = %q, want %q", pending[0].Status, domain.StatusReady)
	}
}

func TestSubmitOrderRejectsInvalidSide(t *testing.T) {
	s := newTestServer(t)
	req := SubmitOrderRequest{
		Commitment: "0xc1", Trader: "buyer", AssetAddress: "0xasset",
		Side: 9, Quantity: "10", Price: "100", Secret: "1", Nonce: "2",
	}
	rr := doJSON(t, s, http.MethodPost, "/api/orders/submit", req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error != string(errValidation) {
		t.Errorf("error kind = %q, want %q", errResp.Error, errValidation)
	}
}

func TestGetSettlementNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/api/settlement/no-such-match", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestGenerateCommitmentProxiesOracle(t *testing.T) {
	s := newTestServer(t)
	req := GenerateCommitmentRequest{
		AssetAddress: "0xasset", Side: 0, Quantity: "10", Price: "100",
	}
	rr := doJSON(t, s, http.MethodPost, "/api/commitment/generate", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp GenerateCommitmentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Commitment != "0xcommit" || resp.AssetHash != "7" {
		t.Errorf("unexpected commitment response: %+v", resp)
	}
}

func TestWhitelistStatusReportsCount(t *testing.T) {
	s := newTestServer(t)
	rr := doJSON(t, s, http.MethodGet, "/api/whitelist/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp WhitelistStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestSignRejectsUnknownSigner(t *testing.T) {
	s := newTestServer(t)

	buy := SubmitOrderRequest{Commitment: "0xc1", Trader: "buyer", AssetAddress: "0xasset", Side: 0, Quantity: "10", Price: "100", Secret: "1", Nonce: "2"}
	sell := SubmitOrderRequest{Commitment: "0xc2", Trader: "seller", AssetAddress: "0xasset", Side: 1, Quantity: "10", Price: "100", Secret: "3", Nonce: "4"}
	doJSON(t, s, http.MethodPost, "/api/orders/submit", buy)
	doJSON(t, s, http.MethodPost, "/api/orders/submit", sell)
	doJSON(t, s, http.MethodPost, "/api/matches/process", nil)

	rr := doJSON(t, s, http.MethodGet, "/api/matches", nil)
	var matches []MatchView
	json.Unmarshal(rr.Body.Bytes(), &matches)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	matchID := matches[0].MatchID

	signReq := SignRequest{SignerAddress: "not-a-party", SignedTxXdr: "xdr"}
	rr = doJSON(t, s, http.MethodPost, "/api/settlement/"+matchID+"/sign", signReq)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rr.Code, rr.Body.String())
	}
}
