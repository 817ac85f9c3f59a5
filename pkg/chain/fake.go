package chain

import (
	"context"
	"math/big"
)

// FakeAdapter is an in-memory Adapter used by settlement-coordinator tests
// so the core state machine is testable without a live RPC or Horizon
// backend, the way the design notes ask for.
type FakeAdapter struct {
	Sequence          int64
	SimulateErr       error
	SendStatus        string
	SendErr           error
	PollStatuses      []TxStatus // consumed in order by GetTransaction
	HorizonStatus     TxStatus
	HorizonErr        error
	Participants      []*big.Int
	ParticipantsErr   error
	pollIdx           int
}

func (f *FakeAdapter) GetAccount(ctx context.Context, address string) (Account, error) {
	return Account{Address: address, Sequence: f.Sequence}, nil
}

func (f *FakeAdapter) SimulateTransaction(ctx context.Context, tx TxEnvelope) (SimulateResult, error) {
	if f.SimulateErr != nil {
		return SimulateResult{}, f.SimulateErr
	}
	return SimulateResult{ResourceFootprint: "fake", MinResourceFee: 100}, nil
}

func (f *FakeAdapter) PrepareTransaction(ctx context.Context, tx TxEnvelope, sim SimulateResult) (TxEnvelope, error) {
	return tx + "|prepared", nil
}

func (f *FakeAdapter) SendTransaction(ctx context.Context, signedTx TxEnvelope) (SendResult, error) {
	if f.SendErr != nil {
		return SendResult{}, f.SendErr
	}
	status := f.SendStatus
	if status == "" {
		status = "PENDING"
	}
	return SendResult{Status: status}, nil
}

func (f *FakeAdapter) GetTransaction(ctx context.Context, hash string) (TxStatus, error) {
	if f.pollIdx >= len(f.PollStatuses) {
		return TxStatus{}, errNoMorePolls
	}
	s := f.PollStatuses[f.pollIdx]
	f.pollIdx++
	return s, nil
}

func (f *FakeAdapter) GetTransactionViaPublicIndex(ctx context.Context, hash string) (TxStatus, error) {
	if f.HorizonErr != nil {
		return TxStatus{}, f.HorizonErr
	}
	return f.HorizonStatus, nil
}

func (f *FakeAdapter) BuildSettleTradeInvocation(args SettleTradeArgs) (TxEnvelope, error) {
	return "unsigned-envelope", nil
}

func (f *FakeAdapter) ActiveParticipants(ctx context.Context) ([]*big.Int, error) {
	return f.Participants, f.ParticipantsErr
}

var errNoMorePolls = &pollExhaustedError{}

type pollExhaustedError struct{}

func (e *pollExhaustedError) Error() string { return "chain: no more poll statuses configured" }
