package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"marketd/core/events"
	"marketd/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsSubscriberSlack = 32
)

// Hub fans out one market's event stream to any number of connected
// websocket watchers, grounded on the teacher's POS finality websocket
// stream but simplified to live-only (no backlog/cursor replay — the
// sqlite archive already serves historical reads via PositionsByOwner).
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan events.Event]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan events.Event]struct{})}
}

// EmitterFor returns an events.Emitter that publishes into symbol's
// subscriber set, suitable for inclusion in an engine's
// core/events.MultiEmitter alongside metrics and the archive.
func (h *Hub) EmitterFor(symbol string) events.Emitter {
	return hubEmitter{hub: h, symbol: symbol}
}

type hubEmitter struct {
	hub    *Hub
	symbol string
}

func (e hubEmitter) Emit(ev events.Event) { e.hub.publish(e.symbol, ev) }

func (h *Hub) publish(symbol string, ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[symbol] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop the event rather than block the engine's
			// single-writer command path.
		}
	}
}

func (h *Hub) subscribe(symbol string) (chan events.Event, func()) {
	ch := make(chan events.Event, wsSubscriberSlack)
	h.mu.Lock()
	if h.subscribers[symbol] == nil {
		h.subscribers[symbol] = make(map[chan events.Event]struct{})
	}
	h.subscribers[symbol][ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers[symbol], ch)
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Handler serves GET /markets/{symbol}/events: an operator-facing websocket
// stream of newly emitted engine events for the named market.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := h.stream(r.Context(), conn, symbol); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, symbol string) error {
	ch, cancel := h.subscribe(symbol)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

// detailedEvent is implemented by every native/market event type alongside
// core/events.Event, carrying a richer attribute set for consumers that
// want more than the bare type name.
type detailedEvent interface {
	Event() *types.Event
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	var payload interface{} = map[string]interface{}{"type": ev.EventType()}
	if detailed, ok := ev.(detailedEvent); ok {
		payload = detailed.Event()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
