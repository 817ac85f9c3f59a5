// Package matching holds the per-asset order books and the exact-quantity
// price-time matcher. Structurally grounded on a mutex-guarded orderbook
// package (per-asset map, FIFO price queues, O(1)-by-id cancel index); the
// match algorithm itself is a scan-and-break exact-quantity crossing, since
// the commitment scheme rules out partial fills.
package matching

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/darkpool/engine/pkg/bus"
	"github.com/darkpool/engine/pkg/domain"
)

// BookSnapshot mirrors the wire contract: decimal-string prices/quantities.
type BookSnapshot struct {
	Asset          string
	BuyPrices      []string
	BuyQuantities  []string
	SellPrices     []string
	SellQuantities []string
}

type assetBook struct {
	buys  []*domain.PrivateOrder
	sells []*domain.PrivateOrder
}

// Engine owns every per-asset order book and the completed-match log. A
// mutex per asset would isolate concurrent submits more tightly, but since a
// submit's match pass only ever touches its own asset's book, a single
// map-level mutex plus per-asset slices gives the same effective isolation
// without a lock-per-asset registry to manage.
type Engine struct {
	mu               sync.Mutex
	books            map[string]*assetBook
	completedMatches []domain.Match
	byMatchID        map[string]domain.Match
	pendingQueue     []domain.Match
	bus              *bus.Bus
}

func NewEngine(b *bus.Bus) *Engine {
	return &Engine{
		books:     make(map[string]*assetBook),
		byMatchID: make(map[string]domain.Match),
		bus:       b,
	}
}

func (e *Engine) bookFor(asset string) *assetBook {
	bk, ok := e.books[asset]
	if !ok {
		bk = &assetBook{}
		e.books[asset] = bk
	}
	return bk
}

// SubmitResult mirrors submit()'s return contract.
type SubmitResult struct {
	Matched       bool
	NoMatchReason string
	Book          BookSnapshot
	NewMatches    []domain.Match
}

// Submit inserts order into its asset's book and runs one match pass for
// that asset.
func (e *Engine) Submit(order *domain.PrivateOrder) (SubmitResult, error) {
	if err := order.Validate(); err != nil {
		return SubmitResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bk := e.bookFor(order.AssetAddress)
	switch order.Side {
	case domain.Buy:
		bk.buys = append(bk.buys, order)
	case domain.Sell:
		bk.sells = append(bk.sells, order)
	default:
		return SubmitResult{}, fmt.Errorf("unknown side %v", order.Side)
	}

	matches := e.matchAsset(order.AssetAddress, bk)

	result := SubmitResult{
		Matched:    len(matches) > 0,
		Book:       e.snapshotLocked(order.AssetAddress, bk),
		NewMatches: matches,
	}
	if !result.Matched {
		result.NoMatchReason = e.diagnoseLocked(order, bk)
	}
	return result, nil
}

// matchAsset runs the algorithm from the component design: sort buys
// desc-price/asc-time, sells asc-price/asc-time, then scan for the first
// exact-quantity cross per buy, in order, without reordering the event
// stream for any one match.
func (e *Engine) matchAsset(asset string, bk *assetBook) []domain.Match {
	if len(bk.buys) == 0 || len(bk.sells) == 0 {
		return nil
	}

	buys := append([]*domain.PrivateOrder(nil), bk.buys...)
	sells := append([]*domain.PrivateOrder(nil), bk.sells...)

	sort.SliceStable(buys, func(i, j int) bool {
		if buys[i].Price.Cmp(buys[j].Price) != 0 {
			return buys[i].Price.Cmp(buys[j].Price) > 0
		}
		return buys[i].Timestamp < buys[j].Timestamp
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].Price.Cmp(sells[j].Price) != 0 {
			return sells[i].Price.Cmp(sells[j].Price) < 0
		}
		return sells[i].Timestamp < sells[j].Timestamp
	})

	consumedBuy := make(map[*domain.PrivateOrder]bool)
	consumedSell := make(map[*domain.PrivateOrder]bool)
	var matches []domain.Match

	for _, b := range buys {
		if consumedBuy[b] {
			continue
		}
		for _, s := range sells {
			if consumedSell[s] {
				continue
			}
			if b.Price.Cmp(s.Price) < 0 {
				continue
			}
			if b.Quantity.Cmp(s.Quantity) != 0 {
				continue
			}
			m := newMatch(*b, *s)
			matches = append(matches, m)
			consumedBuy[b] = true
			consumedSell[s] = true
			break
		}
	}

	if len(matches) == 0 {
		return nil
	}

	bk.buys = removeConsumed(bk.buys, consumedBuy)
	bk.sells = removeConsumed(bk.sells, consumedSell)

	for i := range matches {
		e.completedMatches = append(e.completedMatches, matches[i])
		e.byMatchID[matches[i].MatchID] = matches[i]
		e.pendingQueue = append(e.pendingQueue, matches[i])

		e.bus.Emit(bus.Event{
			Tag:       bus.OrderMatched,
			Timestamp: matches[i].Timestamp,
			MatchID:   matches[i].MatchID,
			Asset:     asset,
			Channels: []string{
				"orderbook:" + asset,
				"trader:" + matches[i].BuyOrder.Trader,
				"trader:" + matches[i].SellOrder.Trader,
				"settlement:" + matches[i].MatchID,
			},
			// Redacted view: the orders' secrets and nonces never leave the engine.
			Payload: map[string]string{
				"matchId":           matches[i].MatchID,
				"buyer":             matches[i].BuyOrder.Trader,
				"seller":            matches[i].SellOrder.Trader,
				"assetAddress":      asset,
				"executionPrice":    matches[i].ExecutionPrice.String(),
				"executionQuantity": matches[i].ExecutionQuantity.String(),
			},
		})
	}

	return matches
}

func removeConsumed(orders []*domain.PrivateOrder, consumed map[*domain.PrivateOrder]bool) []*domain.PrivateOrder {
	kept := orders[:0]
	for _, o := range orders {
		if !consumed[o] {
			kept = append(kept, o)
		}
	}
	return kept
}

func newMatch(buy, sell domain.PrivateOrder) domain.Match {
	sum := new(big.Int).Add(buy.Price, sell.Price)
	execPrice := new(big.Int).Div(sum, big.NewInt(2))
	return domain.Match{
		MatchID:           randomMatchID(),
		BuyOrder:          buy,
		SellOrder:         sell,
		ExecutionPrice:    execPrice,
		ExecutionQuantity: new(big.Int).Set(buy.Quantity),
		Timestamp:         time.Now().UnixMilli(),
	}
}

func randomMatchID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return "0x" + hex.EncodeToString(b)
}

// diagnoseLocked enumerates visible counterparty quantities/prices when a
// submit produced no match but the other side of the book is non-empty.
func (e *Engine) diagnoseLocked(order *domain.PrivateOrder, bk *assetBook) string {
	var counter []*domain.PrivateOrder
	if order.Side == domain.Buy {
		counter = bk.sells
	} else {
		counter = bk.buys
	}
	if len(counter) == 0 {
		return ""
	}
	msg := fmt.Sprintf("no cross for %s order at price %s qty %s; visible counterparty levels:",
		order.Side, order.Price.String(), order.Quantity.String())
	for _, c := range counter {
		msg += fmt.Sprintf(" [price=%s qty=%s]", c.Price.String(), c.Quantity.String())
	}
	return msg
}

func (e *Engine) snapshotLocked(asset string, bk *assetBook) BookSnapshot {
	snap := BookSnapshot{Asset: asset}
	for _, b := range bk.buys {
		snap.BuyPrices = append(snap.BuyPrices, b.Price.String())
		snap.BuyQuantities = append(snap.BuyQuantities, b.Quantity.String())
	}
	for _, s := range bk.sells {
		snap.SellPrices = append(snap.SellPrices, s.Price.String())
		snap.SellQuantities = append(snap.SellQuantities, s.Quantity.String())
	}
	return snap
}

// BookSnapshot returns the current state of asset's book.
func (e *Engine) BookSnapshot(asset string) BookSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk := e.bookFor(asset)
	return e.snapshotLocked(asset, bk)
}

func (e *Engine) Completed() []domain.Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Match(nil), e.completedMatches...)
}

func (e *Engine) ByMatchID(id string) (domain.Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.byMatchID[id]
	return m, ok
}

// PendingCount reports how many matches are waiting for a process() pass to
// hand them to the proof orchestrator.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pendingQueue)
}

// DrainPending empties and returns the queue of matches awaiting proof
// generation, in the order they crossed.
func (e *Engine) DrainPending() []domain.Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	drained := e.pendingQueue
	e.pendingQueue = nil
	return drained
}
