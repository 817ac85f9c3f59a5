package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/darkpool/engine/pkg/api"
	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/chain"
	"github.com/darkpool/engine/pkg/config"
	"github.com/darkpool/engine/pkg/logging"
	"github.com/darkpool/engine/pkg/matching"
	"github.com/darkpool/engine/pkg/proofs"
	"github.com/darkpool/engine/pkg/push"
	"github.com/darkpool/engine/pkg/settlement"
	"github.com/darkpool/engine/pkg/util"
	"github.com/darkpool/engine/pkg/whitelist"
)

func main() {
	cfg := config.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = cfg.Logging.FilePath
	}

	logger, err := logging.NewLoggerWithFile(logFile)
	if err != nil {
		logger, err = logging.NewLogger()
		if err != nil {
			os.Exit(1)
		}
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("engine_starting", "listen_addr", cfg.Server.ListenAddr, "log_file", logFile)

	eventBus := bus.New(logger)

	whitelistTree := whitelist.New(cfg.Whitelist.TreeDepth)

	chainAdapter := chain.NewRESTAdapter(cfg.Chain.RPCURL, cfg.Chain.HorizonURL, cfg.Chain.SubmitTimeout)
	oracle := proofs.NewHTTPOracle(cfg.Proofs.OracleURL, cfg.Proofs.Timeout)

	matcher := matching.NewEngine(eventBus)

	paymentAsset := ethcommon.Address{}
	if cfg.Chain.PaymentAsset != "" {
		paymentAsset = ethcommon.HexToAddress(cfg.Chain.PaymentAsset)
	}

	coordinator := settlement.NewCoordinator(
		chainAdapter,
		eventBus,
		paymentAsset,
		cfg.Chain.PollInterval,
		cfg.Chain.PollMaxAttempts,
		util.RealClock{},
		logger,
	)

	orchestrator := proofs.NewOrchestrator(oracle, whitelistTree, eventBus, coordinator.QueueSettlement, logger)

	hub := push.NewHub(logger)

	// Route every order/match/proof/settlement/signature event onto its
	// routing-key channels, fanning engine-internal events out to whatever
	// client sessions are subscribed. This runs under Bus.Emit's emit lock
	// only (the subscription list is copied out first), and
	// BroadcastToChannel only enqueues onto per-session buffered channels,
	// so this handler never blocks on I/O.
	for _, tag := range []bus.Tag{
		bus.OrderSubmitted, bus.OrderMatched,
		bus.ProofGenerating, bus.ProofGenerated, bus.ProofFailed,
		bus.SettlementQueued, bus.SettlementTxBuilt, bus.SettlementConfirmed, bus.SettlementFailed,
		bus.SignatureAdded, bus.SignatureComplete,
	} {
		eventBus.Subscribe(tag, fanOutHandler(hub))
	}

	server := api.NewServer(api.Deps{
		Engine:       matcher,
		Whitelist:    whitelistTree,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		ChainAdapter: chainAdapter,
		Oracle:       oracle,
		Hub:          hub,
		Bus:          eventBus,
		TxLogPath:    os.Getenv("TX_LOG_FILE"),
		RedactKeys:   cfg.Logging.RedactKeys,
		Log:          logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_server_shutdown_error", "err", err)
	}
}

// fanOutHandler turns an engine event into a push-hub broadcast on every
// channel the event names. It never touches a domain-component lock —
// BroadcastToChannel only appends to per-session send buffers.
func fanOutHandler(hub *push.Hub) bus.Handler {
	return func(ev bus.Event) {
		for _, channel := range ev.Channels {
			hub.BroadcastToChannel(channel, string(ev.Tag), ev.Payload)
		}
	}
}
