package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cortex-x/go-cardlink-client/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errHubStopped = errors.New("websocket: hub stopped")

const (
	peerSendBuffer = 256
	peerReadLimit  = 4096
)

// Peer is one UI connected to the agent socket.
type Peer struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	closed bool
	mu     sync.Mutex
}

// Hub fans agent events out to every connected UI and hands the replies
// they send back to the inbound handler.
type Hub struct {
	peers      map[*Peer]bool
	broadcast  chan []byte
	register   chan *Peer
	unregister chan *Peer
	done       chan struct{}
	mu         sync.RWMutex

	inboundMu sync.RWMutex
	inbound   func(domain.InboundMessage)
}

func NewHub() *Hub {
	return &Hub{
		peers:      make(map[*Peer]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends. Peers still
// connected then are closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for peer := range h.peers {
				delete(h.peers, peer)
				close(peer.send)
			}
			h.mu.Unlock()
			return

		case peer := <-h.register:
			h.mu.Lock()
			h.peers[peer] = true
			n := len(h.peers)
			h.mu.Unlock()
			log.Info().Int("peers", n).Msg("UI peer registered")

		case peer := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[peer]; ok {
				delete(h.peers, peer)
				close(peer.send)
				n := len(h.peers)
				h.mu.Unlock()
				log.Info().Int("peers", n).Msg("UI peer unregistered")
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			peers := make([]*Peer, 0, len(h.peers))
			for peer := range h.peers {
				peers = append(peers, peer)
			}
			h.mu.RUnlock()

			for _, peer := range peers {
				select {
				case peer.send <- message:
				default:
					// Peer's send channel is full, drop it
					go h.unregisterPeer(peer)
				}
			}
		}
	}
}

func (h *Hub) BroadcastMessage(messageType string, payload interface{}) error {
	msg := domain.WebSocketMessage{
		Type:    messageType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return errHubStopped
	}
}

// OnInbound sets the function every reply from a UI is passed to.
func (h *Hub) OnInbound(handler func(domain.InboundMessage)) {
	h.inboundMu.Lock()
	h.inbound = handler
	h.inboundMu.Unlock()
}

func (h *Hub) deliver(msg domain.InboundMessage) {
	h.inboundMu.RLock()
	handler := h.inbound
	h.inboundMu.RUnlock()
	if handler == nil {
		log.Warn().Str("type", msg.Type).Msg("no handler for UI message, dropping it")
		return
	}
	handler(msg)
}

func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) RegisterPeer(conn *websocket.Conn) *Peer {
	peer := &Peer{
		conn: conn,
		send: make(chan []byte, peerSendBuffer),
		hub:  h,
	}
	select {
	case h.register <- peer:
	case <-h.done:
		peer.closed = true
		close(peer.send)
	}
	return peer
}

func (h *Hub) unregisterPeer(peer *Peer) {
	peer.mu.Lock()
	if !peer.closed {
		peer.closed = true
		peer.mu.Unlock()
		select {
		case h.unregister <- peer:
		case <-h.done:
		}
	} else {
		peer.mu.Unlock()
	}
}

func (p *Peer) WritePump() {
	defer func() {
		_ = p.conn.Close()
	}()

	for message := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Warn().Err(err).Msg("writing to UI peer")
			return
		}
	}

	// The channel was closed, send close message
	_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump decodes replies from the UI until the connection ends.
func (p *Peer) ReadPump() {
	defer func() {
		p.hub.unregisterPeer(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(peerReadLimit)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("UI peer connection error")
			}
			break
		}
		var msg domain.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			log.Warn().Str("data", string(data)).Msg("ignoring malformed UI message")
			continue
		}
		p.hub.deliver(msg)
	}
}
