// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Hubs with no clients are removed after this long.
	hubIdleTimeout = 5 * time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types for WebSocket communication
const (
	MsgTypeJoin     = "JOIN"
	MsgTypeAck      = "ACK"
	MsgTypeSnapshot = "SNAPSHOT"
	MsgTypeDeleted  = "DELETED"
	MsgTypeError    = "ERROR"
	MsgTypePing     = "PING"
	MsgTypePong     = "PONG"
)

// Message represents a WebSocket message. A client JOINs with the last
// version it has seen; the hub answers with an ACK when it is current or a
// SNAPSHOT otherwise, then pushes a SNAPSHOT on every change.
type Message struct {
	Type        string              `json:"type"`
	MatchID     string              `json:"matchId,omitempty"`
	LastVersion uint64              `json:"lastVersion,omitempty"`
	Scoreboard  *scoring.Scoreboard `json:"scoreboard,omitempty"`
	Error       string              `json:"error,omitempty"`
}

type hubJoin struct {
	client *wsClient
	msg    Message
}

// Hub maintains the set of clients watching one match.
type Hub struct {
	matchID string

	// Registered clients. Only the run goroutine touches it.
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	joins      chan hubJoin

	// latest holds the newest scoreboard; updated is signalled after it
	// changes. Intermediate versions may be skipped, never reordered.
	latest  atomic.Pointer[scoring.Scoreboard]
	updated chan struct{}
	deleted chan struct{}

	svc *Service
	hm  *HubManager
}

func newHub(matchID string, svc *Service, hm *HubManager) *Hub {
	return &Hub{
		matchID:    matchID,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient, 64),
		unregister: make(chan *wsClient, 64),
		joins:      make(chan hubJoin, 64),
		updated:    make(chan struct{}, 1),
		deleted:    make(chan struct{}, 1),
		svc:        svc,
		hm:         hm,
	}
}

func (h *Hub) run() {
	idleTimer := time.NewTicker(hubIdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.hm.clientCount.Add(-1)
			}
		case req := <-h.joins:
			// A client is queued on register before its first JOIN is sent.
			h.drainRegister()
			if h.clients[req.client] {
				h.handleJoin(req.client, req.msg)
			}
		case <-h.updated:
			if sb := h.latest.Load(); sb != nil {
				for c := range h.clients {
					if c.joined && sb.Version > c.version {
						c.version = sb.Version
						c.sendJSON(Message{Type: MsgTypeSnapshot, MatchID: h.matchID, Scoreboard: sb})
					}
				}
			}
		case <-h.deleted:
			for c := range h.clients {
				c.sendJSON(Message{Type: MsgTypeDeleted, MatchID: h.matchID})
			}
		case <-idleTimer.C:
			if h.hm.removeIfIdle(h) {
				return
			}
		}
	}
}

func (h *Hub) drainRegister() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		default:
			return
		}
	}
}

func (h *Hub) handleJoin(c *wsClient, msg Message) {
	if h.svc.Registry.GetAccessLevel(c.userId, h.matchID) < AccessRead {
		log.Printf("[HUB] Forbidden: User %s attempted to join match %s without permissions", maskEmail(c.userId), h.matchID)
		c.sendJSON(Message{Type: MsgTypeError, MatchID: h.matchID, Error: "Forbidden: You do not have access to this match"})
		return
	}
	sb, err := h.svc.Scoreboard(h.matchID)
	if err != nil {
		c.sendJSON(Message{Type: MsgTypeError, MatchID: h.matchID, Error: err.Error()})
		return
	}
	if latest := h.latest.Load(); latest != nil && latest.Version > sb.Version {
		sb = latest
	}
	c.joined = true
	if msg.LastVersion >= sb.Version {
		c.version = msg.LastVersion
		c.sendJSON(Message{Type: MsgTypeAck, MatchID: h.matchID, LastVersion: sb.Version})
		return
	}
	c.version = sb.Version
	c.sendJSON(Message{Type: MsgTypeSnapshot, MatchID: h.matchID, Scoreboard: sb})
}

// HubManager manages the hubs of watched matches.
type HubManager struct {
	svc  *Service
	hubs map[string]*Hub
	mu   sync.Mutex

	clientCount atomic.Int64
}

func NewHubManager(svc *Service) *HubManager {
	return &HubManager{
		svc:  svc,
		hubs: make(map[string]*Hub),
	}
}

// attach registers c with the match's hub, starting the hub if needed. It
// returns false if the hub cannot take more registrations right now.
func (hm *HubManager) attach(matchID string, c *wsClient) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hub, ok := hm.hubs[matchID]
	if !ok {
		hub = newHub(matchID, hm.svc, hm)
		hm.hubs[matchID] = hub
		go hub.run()
	}
	select {
	case hub.register <- c:
		c.hub = hub
		hm.clientCount.Add(1)
		return true
	default:
		return false
	}
}

// removeIfIdle drops h if it has no clients and none are queued.
func (hm *HubManager) removeIfIdle(h *Hub) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if len(h.clients) > 0 || len(h.register) > 0 {
		return false
	}
	if hm.hubs[h.matchID] == h {
		delete(hm.hubs, h.matchID)
	}
	return true
}

// Broadcast hands sb to the hub of its match, if anyone is watching. It
// never blocks.
func (hm *HubManager) Broadcast(sb *scoring.Scoreboard) {
	hm.mu.Lock()
	hub, ok := hm.hubs[sb.MatchID]
	hm.mu.Unlock()
	if !ok {
		return
	}
	for {
		old := hub.latest.Load()
		if old != nil && old.Version >= sb.Version {
			break
		}
		if hub.latest.CompareAndSwap(old, sb) {
			break
		}
	}
	select {
	case hub.updated <- struct{}{}:
	default:
	}
}

// Close tells the watchers of a deleted match.
func (hm *HubManager) Close(matchID string) {
	hm.mu.Lock()
	hub, ok := hm.hubs[matchID]
	hm.mu.Unlock()
	if !ok {
		return
	}
	select {
	case hub.deleted <- struct{}{}:
	default:
	}
}

// ClientCount returns the number of connected websocket clients.
func (hm *HubManager) ClientCount() int {
	return int(hm.clientCount.Load())
}

// HubCount returns the number of running hubs.
func (hm *HubManager) HubCount() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return len(hm.hubs)
}

// wsClient is a middleman between the websocket connection and the hub.
type wsClient struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan Message

	userId string

	// Owned by the hub goroutine.
	joined  bool
	version uint64
}

// readPump pumps messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[HUB] error: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypeJoin:
			c.hub.joins <- hubJoin{client: c, msg: msg}
		case MsgTypePing:
			c.sendJSON(Message{Type: MsgTypePong})
		default:
			c.sendJSON(Message{Type: MsgTypeError, Error: "Unknown message type"})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues msg. A client too slow to drain its queue misses
// messages; the next snapshot brings it up to date.
func (c *wsClient) sendJSON(msg Message) {
	select {
	case c.send <- msg:
	default:
		log.Printf("[HUB] send queue full for user %s, dropping %s", maskEmail(c.userId), msg.Type)
	}
}

// ServeWS upgrades the request and attaches the connection to the hub of
// the match named by the matchId query parameter.
func ServeWS(svc *Service, w http.ResponseWriter, r *http.Request) {
	userId := getUserID(r)

	matchID := r.URL.Query().Get("matchId")
	if matchID == "" || !isValidUUID(matchID) {
		writeError(w, badRequest("invalid matchId"))
		return
	}
	if svc.Registry.GetAccessLevel(userId, matchID) < AccessRead {
		if !svc.Registry.MatchExists(matchID) {
			writeError(w, notFoundError("watch", matchID))
		} else {
			writeError(w, ErrForbidden)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HUB] upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan Message, 64), userId: userId}
	if !svc.Hubs.attach(matchID, client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
