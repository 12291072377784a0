package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"carelink/internal/cache"
)

// Event names pushed to clients.
const (
	EvOnlineUsers        = "online_users"
	EvUserOnline         = "user_online"
	EvUserOffline        = "user_offline"
	EvNewMessage         = "new_message"
	EvUserTyping         = "user_typing"
	EvUserStopTyping     = "user_stop_typing"
	EvIncomingVideoCall  = "incoming_video_call"
	EvVideoCallCancelled = "video_call_cancelled"
	EvVideoCallAccepted  = "video_call_accepted"
	EvVideoCallRejected  = "video_call_rejected"
	EvMeetingCreated     = "meeting_created"
	EvMeetingUpdated     = "meeting_updated"
	EvMeetingEnded       = "meeting_ended"
	EvParticipantJoined  = "participant_joined"
	EvParticipantLeft    = "participant_left"
)

// Envelope is the wire format of every pushed event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Connection is one live socket of one user.
type Connection struct {
	UserID      string
	HospitalIDs []string
	Send        chan []byte

	mu     sync.Mutex
	joined map[string]bool // conversation ids this socket has opened
}

// Join marks a conversation as open on this socket.
func (c *Connection) Join(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined == nil {
		c.joined = make(map[string]bool)
	}
	c.joined[convID] = true
}

// Leave closes a conversation on this socket.
func (c *Connection) Leave(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, convID)
}

type broadcastMessage struct {
	toUser      string   // exactly one user
	toUsers     []string // a fixed set of users
	toHospitals []string // scope filter; nil subject to hasScope below
	scoped      bool     // true when toHospitals targeting applies
	data        []byte
}

// Hub tracks every live socket per user, publishes presence transitions and
// fans events out. All map access happens on the run goroutine.
type Hub struct {
	conns map[string]map[*Connection]bool // userID -> sockets

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *broadcastMessage

	presence cache.PresenceCache
	log      zerolog.Logger
}

// NewHub creates a hub and starts its run loop.
func NewHub(presence cache.PresenceCache, log zerolog.Logger) *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *broadcastMessage, 256),
		presence:   presence,
		log:        log.With().Str("component", "ws-hub").Logger(),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			first := len(h.conns[conn.UserID]) == 0
			if h.conns[conn.UserID] == nil {
				h.conns[conn.UserID] = make(map[*Connection]bool)
			}
			h.conns[conn.UserID][conn] = true
			h.log.Debug().Str("user", conn.UserID).Bool("first", first).Msg("socket registered")

			// The new socket gets the full roster; everyone else learns
			// about the user only on their first socket.
			h.sendTo(conn, EvOnlineUsers, map[string]interface{}{"userIds": h.onlineIDs()})
			if first {
				if err := h.presence.SetOnline(context.Background(), conn.UserID); err != nil {
					h.log.Warn().Err(err).Str("user", conn.UserID).Msg("presence not recorded")
				}
				h.fanOut(&broadcastMessage{data: encode(EvUserOnline, map[string]string{"userId": conn.UserID})})
			}

		case conn := <-h.unregister:
			if set, ok := h.conns[conn.UserID]; ok && set[conn] {
				delete(set, conn)
				close(conn.Send)
				if len(set) == 0 {
					delete(h.conns, conn.UserID)
					if err := h.presence.SetOffline(context.Background(), conn.UserID); err != nil {
						h.log.Warn().Err(err).Str("user", conn.UserID).Msg("presence not cleared")
					}
					h.fanOut(&broadcastMessage{data: encode(EvUserOffline, map[string]string{"userId": conn.UserID})})
				}
			}

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) fanOut(msg *broadcastMessage) {
	switch {
	case msg.toUser != "":
		for conn := range h.conns[msg.toUser] {
			h.push(conn, msg.data)
		}
	case msg.toUsers != nil:
		for _, id := range msg.toUsers {
			for conn := range h.conns[id] {
				h.push(conn, msg.data)
			}
		}
	case msg.scoped:
		for _, set := range h.conns {
			for conn := range set {
				if scopeMatches(msg.toHospitals, conn.HospitalIDs) {
					h.push(conn, msg.data)
				}
			}
		}
	default:
		for _, set := range h.conns {
			for conn := range set {
				h.push(conn, msg.data)
			}
		}
	}
}

// push drops the event when the socket's buffer is full; a stalled client
// must not stall the hub.
func (h *Hub) push(conn *Connection, data []byte) {
	select {
	case conn.Send <- data:
	default:
		h.log.Warn().Str("user", conn.UserID).Msg("send buffer full, event dropped")
	}
}

func (h *Hub) sendTo(conn *Connection, event string, payload interface{}) {
	h.push(conn, encode(event, payload))
}

func (h *Hub) onlineIDs() []string {
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// scopeMatches applies the visibility rule: an unscoped event reaches
// everyone, an unscoped viewer sees everything, otherwise the sets must
// intersect.
func scopeMatches(event, viewer []string) bool {
	if len(event) == 0 || len(viewer) == 0 {
		return true
	}
	for _, e := range event {
		for _, v := range viewer {
			if e == v {
				return true
			}
		}
	}
	return false
}

func encode(event string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	out, _ := json.Marshal(&Envelope{Event: event, Data: data})
	return out
}

// Register adds a socket.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a socket.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// SendToUser implements service.Broadcaster.
func (h *Hub) SendToUser(userID string, event string, payload interface{}) {
	h.broadcast <- &broadcastMessage{toUser: userID, data: encode(event, payload)}
}

// SendToHospitals implements service.Broadcaster.
func (h *Hub) SendToHospitals(hospitalIDs []string, event string, payload interface{}) {
	h.broadcast <- &broadcastMessage{toHospitals: hospitalIDs, scoped: true, data: encode(event, payload)}
}

// SendToConversation implements service.Broadcaster.
func (h *Hub) SendToConversation(userIDs []string, event string, payload interface{}) {
	if len(userIDs) == 0 {
		return
	}
	h.broadcast <- &broadcastMessage{toUsers: userIDs, data: encode(event, payload)}
}
