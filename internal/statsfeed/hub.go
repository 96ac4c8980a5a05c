package statsfeed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// hub maintains the set of connected viewers and fans messages out to them.
type hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.Mutex
	log        *zap.Logger
	onViewers  func(n int)
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		log:        log,
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("viewer connected", zap.String("remote", c.remote), zap.Int("viewers", n))
			h.viewersChanged(n)
		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			if ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.log.Info("viewer disconnected", zap.String("remote", c.remote), zap.Int("viewers", n))
				h.viewersChanged(n)
			}
		case msg := <-h.broadcast:
			h.mu.Lock()
			dropped := 0
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
					dropped++
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			if dropped > 0 {
				h.log.Warn("dropped slow viewers", zap.Int("dropped", dropped))
				h.viewersChanged(n)
			}
		}
	}
}

func (h *hub) viewersChanged(n int) {
	if h.onViewers != nil {
		h.onViewers(n)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// publish queues msg for every viewer. Never blocks; a full queue drops msg.
func (h *hub) publish(msg []byte) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}
