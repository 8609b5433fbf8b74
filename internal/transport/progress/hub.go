package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hivework.ai/internal/protocol"
)

// clientBuffer is how many progress messages a slow client may lag behind
// before new ones are dropped for it.
const clientBuffer = 16

// Hub fans progress snapshots out to websocket observers. Each observer may
// restrict the stream to one owner with ?owner_id=.
type Hub struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*client
	origins map[string]bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type client struct {
	id      string
	ownerID string
	out     chan []byte
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: map[string]*client{},
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

// AllowOrigins restricts browser upgrades to the listed origins. An empty
// list or a "*" entry accepts any origin.
func (h *Hub) AllowOrigins(origins ...string) {
	allowed := map[string]bool{}
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[strings.ToLower(o)] = true
		}
	}
	h.mu.Lock()
	h.origins = allowed
	h.mu.Unlock()
}

// checkOrigin lets clients without an Origin header through; those are not
// browsers.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.origins) == 0 || h.origins["*"] {
		return true
	}
	return h.origins[strings.ToLower(origin)]
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Sent() uint64    { return h.sent.Load() }
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// PublishProgress implements session.ProgressSink. It never blocks on a
// client.
func (h *Hub) PublishProgress(msg protocol.ProgressMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	encoded := map[string][]byte{}
	for _, c := range h.clients {
		b, ok := encoded[c.ownerID]
		if !ok {
			b = encodeFor(msg, c.ownerID)
			encoded[c.ownerID] = b
		}
		if b == nil {
			continue
		}
		select {
		case c.out <- b:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

func encodeFor(msg protocol.ProgressMsg, ownerID string) []byte {
	if ownerID != "" {
		own := make([]protocol.JobProgress, 0, len(msg.Jobs))
		for _, j := range msg.Jobs {
			if j.OwnerID == ownerID {
				own = append(own, j)
			}
		}
		msg.Jobs = own
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return b
}

func (h *Hub) join(ownerID string) *client {
	c := &client{
		id:      fmt.Sprintf("P%d", h.nextID.Add(1)),
		ownerID: ownerID,
		out:     make(chan []byte, clientBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// WSHandler streams PROGRESS messages until the client goes away.
func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := h.join(r.URL.Query().Get("owner_id"))
		defer h.leave(c)
		h.log.Printf("observer %s connected owner=%q", c.id, c.ownerID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: observers send nothing meaningful, but reading is how
		// we notice they left.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
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
		h.log.Printf("observer %s disconnected", c.id)
	}
}
