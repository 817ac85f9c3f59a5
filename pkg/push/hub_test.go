package push

import "testing"

func TestSubscribeUnsubscribeMaintainsDualIndex(t *testing.T) {
	h := NewHub(nil)
	s := &Session{send: make(chan []byte, 4)}
	h.register(s)

	h.subscribe(s, "orderbook:usdc")
	h.subscribe(s, "system")

	h.mu.RLock()
	if !h.channelSessions["orderbook:usdc"][s] || !h.sessionChannels[s]["orderbook:usdc"] {
		t.Fatal("expected both indices populated after subscribe")
	}
	h.mu.RUnlock()

	h.unsubscribe(s, "system")
	h.mu.RLock()
	if h.sessionChannels[s]["system"] {
		t.Error("unsubscribe did not clear session->channel index")
	}
	if _, ok := h.channelSessions["system"]; ok {
		t.Error("unsubscribe did not clear empty channel->session bucket")
	}
	h.mu.RUnlock()
}

func TestUnregisterClearsAllSubscriptions(t *testing.T) {
	h := NewHub(nil)
	s := &Session{send: make(chan []byte, 4)}
	h.register(s)
	h.subscribe(s, "orderbook:usdc")
	h.subscribe(s, "trader:0xabc")

	h.unregister(s)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sessions) != 0 || len(h.sessionChannels) != 0 {
		t.Error("unregister should remove the session entirely")
	}
	if len(h.channelSessions["orderbook:usdc"]) != 0 || len(h.channelSessions["trader:0xabc"]) != 0 {
		t.Error("unregister should drop session from every channel bucket")
	}
}

func TestBroadcastOnlyReachesSubscribedSessions(t *testing.T) {
	h := NewHub(nil)
	subscribed := &Session{send: make(chan []byte, 4)}
	other := &Session{send: make(chan []byte, 4)}
	h.register(subscribed)
	h.register(other)
	h.subscribe(subscribed, "settlement:m1")

	h.BroadcastToChannel("settlement:m1", "settlement:confirmed", map[string]string{"matchId": "m1"})

	if len(subscribed.send) != 1 {
		t.Error("expected subscribed session to receive the broadcast frame")
	}
	if len(other.send) != 0 {
		t.Error("non-subscribed session should not receive the frame")
	}
}
