package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Publisher is the minimal publish/subscribe transport spec.md §1 leaves
// as an external collaborator ("Logging backends and publish/subscribe
// transports"): a sink that receives the supervisor's feedback_out
// snapshot once per tick. No pack example implements a websocket feed for
// this kind of cyclic telemetry, so coder/websocket is an out-of-pack
// ecosystem pick for this one concern rather than one grounded on a
// specific retrieved file (see DESIGN.md).
type Publisher interface {
	Publish(snapshot map[string]any)
}

// Hub is a Publisher backed by a websocket fan-out: every tick's
// feedback_out snapshot is marshaled once and written to each currently
// connected subscriber. A slow or dead subscriber is dropped rather than
// blocking the tick.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, subs: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request to a websocket connection and registers
// it as a subscriber until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("telemetry: websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.subs[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// The feed is one-directional (server pushes feedback_out snapshots);
	// block here only to detect the client going away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Publish marshals snapshot once and writes it to every connected
// subscriber with a short per-write deadline, dropping (not blocking on)
// any subscriber that can't keep up with the tick rate.
func (h *Hub) Publish(snapshot map[string]any) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error("telemetry: marshal feedback_out snapshot", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			h.log.Debug("telemetry: dropping slow/closed subscriber", "error", err)
			h.mu.Lock()
			delete(h.subs, c)
			h.mu.Unlock()
		}
		cancel()
	}
}

// NoopPublisher discards every snapshot, the default when
// telemetry.websocket_addr is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(map[string]any) {}
