package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"marketd/native/market"
)

func TestHubPublishDropsEventsWithoutASubscriber(t *testing.T) {
	h := NewHub()
	// No subscriber registered for "BTC-USD": publish must not panic or block.
	h.publish("BTC-USD", market.PricePointAppendedEvent{Ordinal: 1, Timestamp: 1000, PriceBase: "100"})
}

func TestHubSubscribeReceivesPublishedEvents(t *testing.T) {
	h := NewHub()
	ch, cancel := h.subscribe("BTC-USD")
	defer cancel()

	ev := market.PricePointAppendedEvent{Ordinal: 1, Timestamp: 1000, PriceBase: "100"}
	h.publish("BTC-USD", ev)

	select {
	case got := <-ch:
		if got.EventType() != ev.EventType() {
			t.Fatalf("unexpected event type: %q", got.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

func TestHubSubscribeIsScopedPerSymbol(t *testing.T) {
	h := NewHub()
	ch, cancel := h.subscribe("BTC-USD")
	defer cancel()

	h.publish("ETH-USD", market.PricePointAppendedEvent{Ordinal: 1, Timestamp: 1000, PriceBase: "100"})

	select {
	case <-ch:
		t.Fatal("expected no event: publish was for a different symbol")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelClosesTheChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.subscribe("BTC-USD")
	cancel()

	_, ok := <-ch
	if ok {
		t.Fatal("expected the subscriber channel closed after cancel")
	}
}

func TestHubEmitterForPublishesUnderSymbol(t *testing.T) {
	h := NewHub()
	ch, cancel := h.subscribe("BTC-USD")
	defer cancel()

	emitter := h.EmitterFor("BTC-USD")
	emitter.Emit(market.PricePointAppendedEvent{Ordinal: 7, Timestamp: 2000, PriceBase: "110"})

	select {
	case got := <-ch:
		if got.EventType() != market.TypePricePointAppended {
			t.Fatalf("unexpected event type: %q", got.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the emitted event")
	}
}

func TestHubHandlerStreamsEventsOverWebsocket(t *testing.T) {
	h := NewHub()
	r := chi.NewRouter()
	r.Get("/markets/{symbol}/events", h.Handler)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/markets/BTC-USD/events"
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	// Give the server goroutine a moment to register the subscription before
	// publishing, since subscribe() happens inside the handler's own
	// goroutine after the websocket handshake completes.
	time.Sleep(50 * time.Millisecond)
	h.publish("BTC-USD", market.PricePointAppendedEvent{Ordinal: 3, Timestamp: 1500, PriceBase: "105"})

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	msgType, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type: %v", msgType)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["type"] != market.TypePricePointAppended {
		t.Fatalf("unexpected event type in payload: %v", payload["type"])
	}
}
