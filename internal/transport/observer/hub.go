// Package observer streams decision frames to websocket viewers.
package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"duel_ai/internal/brain"
	"duel_ai/internal/logger"
)

const (
	MessageType = "FRAME"
	outBuffer   = 64
)

type message struct {
	Type string `json:"type"`
	brain.Frame
}

// Hub fans frames out to every connected viewer. A viewer that falls
// behind loses frames; Publish never waits on it.
type Hub struct {
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu   sync.Mutex
	subs map[uint64]chan []byte
}

var _ brain.Telemetry = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]chan []byte{},
	}
}

func (h *Hub) Publish(f brain.Frame) {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	if n == 0 {
		return
	}
	b, err := json.Marshal(message{Type: MessageType, Frame: f})
	if err != nil {
		logger.Log.WithError(err).Warn("Encoding frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.subs {
		select {
		case out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts frames not delivered to slow viewers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) add() (uint64, chan []byte) {
	id := h.nextID.Add(1)
	out := make(chan []byte, outBuffer)
	h.mu.Lock()
	h.subs[id] = out
	h.mu.Unlock()
	return id, out
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, out := h.add()
		defer h.remove(id)
		log := logger.Log.WithFields(logrus.Fields{"viewer": id, "remote": r.RemoteAddr})
		log.Info("Viewer connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// viewers only listen; reading detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("Viewer disconnected")
	}
}
