package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/chain"
	"github.com/darkpool/engine/pkg/domain"
	"github.com/darkpool/engine/pkg/matching"
	"github.com/darkpool/engine/pkg/proofs"
	"github.com/darkpool/engine/pkg/push"
	"github.com/darkpool/engine/pkg/settlement"
	"github.com/darkpool/engine/pkg/whitelist"
)

// errKind is one of the seven error tags, each pinned to an HTTP status.
type errKind string

const (
	errValidation      errKind = "validation"
	errNotFound        errKind = "not_found"
	errConflict        errKind = "conflict"
	errChainRejected   errKind = "chain_rejected"
	errChainUnavailable errKind = "chain_unavailable"
	errOracleFailure   errKind = "oracle_failure"
	errInternal        errKind = "internal"
)

var kindStatus = map[errKind]int{
	errValidation:       http.StatusBadRequest,
	errNotFound:         http.StatusNotFound,
	errConflict:         http.StatusBadRequest,
	errChainRejected:    http.StatusBadRequest,
	errChainUnavailable: http.StatusInternalServerError,
	errOracleFailure:    http.StatusInternalServerError,
	errInternal:         http.StatusInternalServerError,
}

type apiError struct {
	kind    errKind
	details string
}

func (e *apiError) Error() string { return string(e.kind) + ": " + e.details }

func newAPIError(kind errKind, details string) *apiError { return &apiError{kind: kind, details: details} }

// Server wires the matching engine, whitelist, proof orchestrator,
// settlement coordinator and push hub behind the REST surface. Structurally
// grounded on a mux-router-plus-cors-plus-transaction-audit-log server
// shape, generalised to this domain's endpoint set.
type Server struct {
	router       *mux.Router
	engine       *matching.Engine
	whitelist    *whitelist.Tree
	orchestrator *proofs.Orchestrator
	coordinator  *settlement.Coordinator
	chainAdapter chain.Adapter
	oracle       proofs.Oracle
	hub          *push.Hub
	bus          *bus.Bus
	txLog        *os.File
	redactKeys   []string
	log          *zap.Logger
}

type Deps struct {
	Engine       *matching.Engine
	Whitelist    *whitelist.Tree
	Orchestrator *proofs.Orchestrator
	Coordinator  *settlement.Coordinator
	ChainAdapter chain.Adapter
	Oracle       proofs.Oracle
	Hub          *push.Hub
	Bus          *bus.Bus
	TxLogPath    string
	RedactKeys   []string
	Log          *zap.Logger
}

func NewServer(d Deps) *Server {
	var txLog *os.File
	if d.TxLogPath != "" {
		if err := os.MkdirAll(dirOf(d.TxLogPath), 0755); err == nil {
			if f, err := os.OpenFile(d.TxLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				txLog = f
			} else if d.Log != nil {
				d.Log.Warn("tx_log_open_failed", zap.String("path", d.TxLogPath), zap.Error(err))
			}
		}
	}

	s := &Server{
		router:       mux.NewRouter(),
		engine:       d.Engine,
		whitelist:    d.Whitelist,
		orchestrator: d.Orchestrator,
		coordinator:  d.Coordinator,
		chainAdapter: d.ChainAdapter,
		oracle:       d.Oracle,
		hub:          d.Hub,
		bus:          d.Bus,
		txLog:        txLog,
		redactKeys:   d.RedactKeys,
		log:          d.Log,
	}
	s.setupRoutes()
	return s
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/api/commitment/generate", s.handleGenerateCommitment).Methods("POST")
	s.router.HandleFunc("/api/commitment/hash-asset", s.handleHashAsset).Methods("POST")

	s.router.HandleFunc("/api/orders/submit", s.handleSubmitOrder).Methods("POST")
	s.router.HandleFunc("/api/orders/{assetAddress}", s.handleOrderBook).Methods("GET")

	s.router.HandleFunc("/api/matches", s.handleMatches).Methods("GET")
	s.router.HandleFunc("/api/matches/pending", s.handlePendingMatches).Methods("GET")
	s.router.HandleFunc("/api/matches/settlements", s.handleSettlementsLog).Methods("GET")
	s.router.HandleFunc("/api/matches/process", s.handleProcessMatches).Methods("POST")

	s.router.HandleFunc("/api/settlement/pending", s.handleAllSettlements).Methods("GET")
	s.router.HandleFunc("/api/settlement/stats/summary", s.handleSettlementStats).Methods("GET")
	s.router.HandleFunc("/api/settlement/for-trader/{address}", s.handleSettlementsForTrader).Methods("GET")
	s.router.HandleFunc("/api/settlement/{matchId}", s.handleGetSettlement).Methods("GET")
	s.router.HandleFunc("/api/settlement/{matchId}/signing-status", s.handleSigningStatus).Methods("GET")
	s.router.HandleFunc("/api/settlement/{matchId}/prepare", s.handlePrepareSettlement).Methods("POST")
	s.router.HandleFunc("/api/settlement/{matchId}/build-tx", s.handleBuildTx).Methods("POST")
	s.router.HandleFunc("/api/settlement/{matchId}/sign", s.handleSign).Methods("POST")
	s.router.HandleFunc("/api/settlement/{matchId}/submit", s.handleSubmit).Methods("POST")
	s.router.HandleFunc("/api/settlement/{matchId}/confirm", s.handleConfirm).Methods("POST")

	s.router.HandleFunc("/api/whitelist/sync", s.handleWhitelistSync).Methods("POST")
	s.router.HandleFunc("/api/whitelist/status", s.handleWhitelistStatus).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWebSocket)
	}
}

// Handler returns the CORS-wrapped router, ready to pass to an http.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a UUID, set as the
// X-Request-Id response header and stored in the request context, and logs
// it at debug level with the method and path. Handlers do not log it further.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		if s.log != nil {
			s.log.Debug("request_received",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ==============================
// Commitment proxy
// ==============================

func (s *Server) handleGenerateCommitment(w http.ResponseWriter, r *http.Request) {
	var req GenerateCommitmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	side, err := domain.SideFromWire(req.Side)
	if err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	quantity, err := domain.DecimalStringToBigInt(req.Quantity)
	if err != nil {
		writeError(w, newAPIError(errValidation, "quantity: "+err.Error()))
		return
	}
	price, err := domain.DecimalStringToBigInt(req.Price)
	if err != nil {
		writeError(w, newAPIError(errValidation, "price: "+err.Error()))
		return
	}

	result, err := s.oracle.GenerateCommitment(proofs.CommitmentRequest{
		AssetAddress: req.AssetAddress,
		Side:         side,
		Quantity:     quantity,
		Price:        price,
	})
	if err != nil {
		writeError(w, newAPIError(errOracleFailure, err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, GenerateCommitmentResponse{
		Commitment: result.Commitment,
		Secret:     domain.BigIntToDecimalString(result.Secret),
		Nonce:      domain.BigIntToDecimalString(result.Nonce),
		AssetHash:  domain.BigIntToDecimalString(result.AssetHash),
	})
}

func (s *Server) handleHashAsset(w http.ResponseWriter, r *http.Request) {
	var req HashAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	if req.AssetAddress == "" {
		writeError(w, newAPIError(errValidation, "assetAddress is required"))
		return
	}

	hash, err := s.oracle.AssetHash(req.AssetAddress)
	if err != nil {
		writeError(w, newAPIError(errOracleFailure, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, HashAssetResponse{AssetHash: domain.BigIntToDecimalString(hash)})
}

// ==============================
// Orders
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}

	if req.Commitment == "" || req.Trader == "" || req.AssetAddress == "" {
		writeError(w, newAPIError(errValidation, "commitment, trader and assetAddress are required"))
		return
	}
	side, err := domain.SideFromWire(req.Side)
	if err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	quantity, err := domain.DecimalStringToBigInt(req.Quantity)
	if err != nil {
		writeError(w, newAPIError(errValidation, "quantity: "+err.Error()))
		return
	}
	price, err := domain.DecimalStringToBigInt(req.Price)
	if err != nil {
		writeError(w, newAPIError(errValidation, "price: "+err.Error()))
		return
	}
	secret, err := domain.DecimalStringToBigInt(req.Secret)
	if err != nil {
		writeError(w, newAPIError(errValidation, "secret: "+err.Error()))
		return
	}
	nonce, err := domain.DecimalStringToBigInt(req.Nonce)
	if err != nil {
		writeError(w, newAPIError(errValidation, "nonce: "+err.Error()))
		return
	}

	now := time.Now().UnixMilli()
	expiry := req.Expiry
	if expiry == 0 {
		expiry = now + int64(24*time.Hour/time.Millisecond)
	}

	order := &domain.PrivateOrder{
		Commitment:     req.Commitment,
		Trader:         req.Trader,
		AssetAddress:   req.AssetAddress,
		Side:           side,
		Quantity:       quantity,
		Price:          price,
		Secret:         secret,
		Nonce:          nonce,
		Timestamp:      now,
		Expiry:         expiry,
		WhitelistIndex: req.WhitelistIndex,
	}

	result, err := s.engine.Submit(order)
	if err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}

	s.logTransaction("order_submit", map[string]interface{}{
		"trader":       req.Trader,
		"assetAddress": req.AssetAddress,
		"side":         side.String(),
		"matched":      result.Matched,
	})

	s.bus.Emit(bus.Event{
		Tag:      bus.OrderSubmitted,
		Timestamp: now,
		Trader:   req.Trader,
		Asset:    req.AssetAddress,
		Channels: []string{"orderbook:" + req.AssetAddress, "trader:" + req.Trader},
	})

	writeJSON(w, http.StatusOK, SubmitOrderResponse{
		Matched:        result.Matched,
		PendingMatches: s.engine.PendingCount(),
		OrderBook:      toBookSnapshot(result.Book),
		NoMatchReason:  result.NoMatchReason,
	})
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["assetAddress"]
	snap := s.engine.BookSnapshot(asset)
	writeJSON(w, http.StatusOK, toBookSnapshot(snap))
}

func toBookSnapshot(snap matching.BookSnapshot) BookSnapshot {
	return BookSnapshot{
		Buys:           len(snap.BuyPrices),
		Sells:          len(snap.SellPrices),
		BuyPrices:      nonNil(snap.BuyPrices),
		BuyQuantities:  nonNil(snap.BuyQuantities),
		SellPrices:     nonNil(snap.SellPrices),
		SellQuantities: nonNil(snap.SellQuantities),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ==============================
// Matches
// ==============================

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches := s.engine.Completed()
	views := make([]MatchView, len(matches))
	for i, m := range matches {
		views[i] = matchToView(m)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePendingMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PendingCountResponse{PendingCount: s.engine.PendingCount()})
}

func (s *Server) handleSettlementsLog(w http.ResponseWriter, r *http.Request) {
	results := s.orchestrator.SettlementsLog()
	views := make([]SettlementResultView, len(results))
	for i, res := range results {
		views[i] = settlementResultToView(res)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleProcessMatches drains the pending-match queue, drives each through
// the proof orchestrator (which auto-queues successful results with the
// settlement coordinator via the injected callback) and reports a summary.
func (s *Server) handleProcessMatches(w http.ResponseWriter, r *http.Request) {
	drained := s.engine.DrainPending()

	results := make([]SettlementResultView, 0, len(drained))
	successful := 0
	before := s.orchestrator.SettlementsLog()

	for _, m := range drained {
		s.orchestrator.Process(m)
	}

	after := s.orchestrator.SettlementsLog()
	newResults := after[len(before):]
	for _, res := range newResults {
		if res.Success {
			successful++
		}
		results = append(results, settlementResultToView(res))
	}

	writeJSON(w, http.StatusOK, ProcessMatchesResponse{
		Processed:  len(drained),
		Successful: successful,
		Failed:     len(drained) - successful,
		Results:    results,
	})
}

// ==============================
// Settlement
// ==============================

func (s *Server) handleAllSettlements(w http.ResponseWriter, r *http.Request) {
	all := s.coordinator.All()
	views := make([]PendingSettlementView, len(all))
	for i, rec := range all {
		views[i] = pendingToView(rec, "")
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSettlementStats(w http.ResponseWriter, r *http.Request) {
	stats := s.coordinator.GetStats()
	writeJSON(w, http.StatusOK, SettlementStatsResponse{
		Pending:            stats[domain.StatusPending],
		Ready:              stats[domain.StatusReady],
		AwaitingSignatures: stats[domain.StatusAwaitingSignatures],
		Submitted:          stats[domain.StatusSubmitted],
		Confirmed:          stats[domain.StatusConfirmed],
		Failed:             stats[domain.StatusFailed],
	})
}

func (s *Server) handleSettlementsForTrader(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	records := s.coordinator.SettlementsForTrader(address)
	views := make([]PendingSettlementView, len(records))
	for i, rec := range records {
		views[i] = pendingToView(rec.Settlement, string(rec.Role))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	rec, ok := s.coordinator.Get(matchID)
	if !ok {
		writeError(w, newAPIError(errNotFound, "settlement not found"))
		return
	}
	writeJSON(w, http.StatusOK, pendingToView(rec, ""))
}

func (s *Server) handleSigningStatus(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	status, ok := s.coordinator.GetSigningStatus(matchID)
	if !ok {
		writeError(w, newAPIError(errNotFound, "settlement not found"))
		return
	}
	writeJSON(w, http.StatusOK, SigningStatusResponse{
		BuyerSigned:  status.BuyerSigned,
		SellerSigned: status.SellerSigned,
		Status:       string(status.Status),
	})
}

func (s *Server) handlePrepareSettlement(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	data, ok := s.coordinator.PrepareSettlementData(matchID)
	if !ok {
		writeError(w, newAPIError(errNotFound, "settlement not found"))
		return
	}
	writeJSON(w, http.StatusOK, PrepareSettlementResponse{
		Buyer:         data.Buyer,
		Seller:        data.Seller,
		Asset:         data.Asset,
		PaymentAsset:  data.PaymentAsset,
		Quantity:      data.Quantity,
		Price:         data.Price,
		Proof:         data.Proof,
		PublicSignals: data.PublicSignals,
		NullifierHash: data.NullifierHash,
		SigningDigest: data.SigningDigest,
	})
}

func (s *Server) handleBuildTx(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	var req BuildTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	if req.SourceAccount == "" {
		writeError(w, newAPIError(errValidation, "sourceAccount is required"))
		return
	}

	txXdr, err := s.coordinator.BuildSettlementTransaction(r.Context(), matchID, req.SourceAccount)
	if err != nil {
		writeError(w, newAPIError(errNotFound, err.Error()))
		return
	}

	s.logTransaction("settlement_tx_built", map[string]interface{}{"matchId": matchID})
	writeJSON(w, http.StatusOK, BuildTxResponse{TxXdr: txXdr})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	var req SignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	if req.SignerAddress == "" || req.SignedTxXdr == "" {
		writeError(w, newAPIError(errValidation, "signerAddress and signedTxXdr are required"))
		return
	}

	result, err := s.coordinator.AddSignature(r.Context(), matchID, req.SignerAddress, req.SignedTxXdr)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrNotFound):
			writeError(w, newAPIError(errNotFound, "settlement not found"))
		case errors.Is(err, settlement.ErrSignerNotParty):
			writeError(w, newAPIError(errConflict, "signer not part of this trade"))
		default:
			writeError(w, newAPIError(errInternal, err.Error()))
		}
		return
	}

	resp := SignResponse{Success: true, Complete: result.Complete}
	if result.Error != "" {
		resp.Error = result.Error
	} else if result.Complete {
		resp.Message = "settlement submitted"
		if rec, ok := s.coordinator.Get(matchID); ok {
			resp.TxHash = rec.TxHash
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	var req SubmitTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	if req.SignedTxXdr == "" {
		writeError(w, newAPIError(errValidation, "signedTxXdr is required"))
		return
	}

	ok, txHash, err := s.coordinator.SubmitSettlement(r.Context(), matchID, req.SignedTxXdr)
	if err != nil {
		writeJSON(w, http.StatusOK, SubmitTxResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SubmitTxResponse{Success: ok, TxHash: txHash})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchId"]
	var req ConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, newAPIError(errValidation, err.Error()))
		return
	}
	if req.TxHash == "" {
		writeError(w, newAPIError(errValidation, "txHash is required"))
		return
	}
	s.coordinator.MarkConfirmed(matchID, req.TxHash)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ==============================
// Whitelist
// ==============================

func (s *Server) handleWhitelistSync(w http.ResponseWriter, r *http.Request) {
	if err := s.whitelist.Sync(chainRegistrySource{s.chainAdapter}); err != nil {
		writeError(w, newAPIError(errChainUnavailable, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, WhitelistStatusResponse{
		RootPrefix: rootPrefix(s.whitelist.RootHex()),
		Count:      s.whitelist.Count(),
	})
}

func (s *Server) handleWhitelistStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WhitelistStatusResponse{
		RootPrefix: rootPrefix(s.whitelist.RootHex()),
		Count:      s.whitelist.Count(),
	})
}

func rootPrefix(root string) string {
	if len(root) > 10 {
		return root[:10]
	}
	return root
}

// chainRegistrySource adapts chain.Adapter's context-taking
// ActiveParticipants to whitelist.RegistrySource's synchronous contract,
// since whitelist.Tree deliberately has no import-time dependency on
// context or pkg/chain.
type chainRegistrySource struct {
	adapter chain.Adapter
}

func (c chainRegistrySource) ActiveParticipants() ([]*big.Int, error) {
	return c.adapter.ActiveParticipants(context.Background())
}

// ==============================
// Health
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns := 0
	if s.hub != nil {
		conns = s.hub.SessionCount()
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		PendingMatches: s.engine.PendingCount(),
		WebSocket:      WebSocketHealth{Connections: conns},
	})
}

// ==============================
// Helpers
// ==============================

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err *apiError) {
	status := kindStatus[err.kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ErrorResponse{Error: string(err.kind), Details: err.details})
}

// logTransaction appends one redacted JSON line per chain-facing event to
// the audit log file. This is an advisory replay log, not the ledger:
// in-memory state stays authoritative.
func (s *Server) logTransaction(event string, data map[string]interface{}) {
	if s.txLog == nil {
		return
	}
	redacted := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isRedacted(k, s.redactKeys) {
			redacted[k] = "[redacted]"
			continue
		}
		redacted[k] = v
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     event,
		"data":      redacted,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = s.txLog.Write(append(line, '\n'))
}

func isRedacted(key string, redactKeys []string) bool {
	for _, k := range redactKeys {
		if k == key {
			return true
		}
	}
	return false
}
