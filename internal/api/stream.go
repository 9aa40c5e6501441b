package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// StatusEvent is the payload of a "status" event on the status stream.
type StatusEvent struct {
	ServerID string                  `json:"serverId"`
	Status   mcpmgr.ConnectionStatus `json:"status"`
}

const subscriberBuffer = 32

// statusHub fans manager status changes out to stream subscribers. Publishing
// never blocks: a subscriber whose buffer is full is dropped and its channel
// closed, which ends its stream so the client reconnects and starts over from
// a fresh snapshot.
type statusHub struct {
	mu   sync.Mutex
	subs map[chan StatusEvent]struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[chan StatusEvent]struct{})}
}

func (h *statusHub) publish(serverID string, st mcpmgr.ConnectionStatus) {
	ev := StatusEvent{ServerID: serverID, Status: st}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *statusHub) subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// handleStatusStream handles GET /api/mcp/status/stream. The first event is
// a "snapshot" of every status; each later change is a "status" event.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before taking the snapshot so no change falls in between.
	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("upgrade status stream", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.sendEvent(sess, "snapshot", map[string]any{"statuses": s.manager.AllStatuses()}); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Warn("status stream subscriber fell behind; closing stream")
				return
			}
			if err := s.sendEvent(sess, "status", ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendEvent(sess *sse.Session, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode status event", "error", err)
		return err
	}
	msg := &sse.Message{Type: sse.Type(typ)}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}
