// Package bus implements the typed event bus: a closed tag set, synchronous
// in-order dispatch, and a redaction guarantee on event payloads.
package bus

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

type Tag string

const (
	OrderSubmitted       Tag = "order:submitted"
	OrderMatched         Tag = "order:matched"
	ProofGenerating      Tag = "proof:generating"
	ProofGenerated       Tag = "proof:generated"
	ProofFailed          Tag = "proof:failed"
	SettlementQueued     Tag = "settlement:queued"
	SettlementTxBuilt    Tag = "settlement:txBuilt"
	SettlementConfirmed  Tag = "settlement:confirmed"
	SettlementFailed     Tag = "settlement:failed"
	SignatureAdded       Tag = "signature:added"
	SignatureComplete    Tag = "signature:complete"
)

// Event is a value in the closed tagged family. Payload must never carry
// secret or nonce fields — callers are expected to construct Payload from
// the redacted view of a domain type, not the type itself.
type Event struct {
	Tag       Tag
	Timestamp int64
	MatchID   string
	Trader    string
	Asset     string
	Channels  []string
	Payload   interface{}
}

type Handler func(Event)

// Bus serialises emits with its own lock. Handlers run synchronously on the
// caller's goroutine in emit order and must not acquire any domain-component
// lock — long work belongs in a background worker fed by the handler.
type Bus struct {
	mu       sync.Mutex
	emitMu   sync.Mutex // serialises Emit calls across goroutines
	handlers map[Tag][]Handler
	log      *zap.Logger
}

func New(log *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Tag][]Handler),
		log:      log,
	}
}

func (b *Bus) Subscribe(tag Tag, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[tag] = append(b.handlers[tag], h)
}

// Unsubscribe removes a previously subscribed handler. Handlers are compared
// by pointer identity via reflect, matching how the rest of the pack treats
// function values as opaque subscription tokens; callers that need to
// unsubscribe reliably should instead hold on to a closure-free package-level
// function or track subscriptions by index at the call site.
func (b *Bus) Unsubscribe(tag Tag, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[tag]
	target := handlerPointer(h)
	for i, existing := range hs {
		if handlerPointer(existing) == target {
			b.handlers[tag] = append(hs[:i], hs[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler subscribed to ev.Tag, synchronously, in
// subscription order, while holding the bus's emit lock for the duration of
// the dispatch loop — this is what gives same-matchId events their ordering
// guarantee across concurrent emitters, at the cost of handlers never being
// allowed to block or emit on the bus themselves.
func (b *Bus) Emit(ev Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	hs := append([]Handler(nil), b.handlers[ev.Tag]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}

	if b.log != nil {
		b.log.Debug("event_emitted",
			zap.String("tag", string(ev.Tag)),
			zap.String("match_id", ev.MatchID),
			zap.Strings("channels", ev.Channels),
		)
	}
}

func handlerPointer(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}
