package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"carelink/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades portal sockets and routes their inbound events.
type Handler struct {
	hub      *Hub
	authSvc  *service.AuthService
	chatSvc  *service.ChatService
	meetings *service.MeetingService
	log      zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, authSvc *service.AuthService, chatSvc *service.ChatService, meetings *service.MeetingService, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		authSvc:  authSvc,
		chatSvc:  chatSvc,
		meetings: meetings,
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// Serve handles GET /v1/ws. The session token arrives as a bearer header or
// a token query parameter; browsers cannot set headers on websocket dials.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Connection{
		UserID:      claims.UserID,
		HospitalIDs: claims.HospitalIDs,
		Send:        make(chan []byte, 256),
	}
	h.hub.Register(conn)
	h.log.Info().Str("user", claims.UserID).Msg("socket connected")

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn)
}

// inbound is the envelope of client-sent events.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type markAsRead struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type callAnswer struct {
	RoomID string `json:"roomId"`
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("user", conn.UserID).Msg("socket read error")
			}
			break
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Warn().Str("user", conn.UserID).Msg("malformed event dropped")
			continue
		}
		h.handleEvent(conn, &msg)
	}
}

// handleEvent routes one client event. A bad event is logged and dropped;
// it never tears down the socket.
func (h *Handler) handleEvent(conn *Connection, msg *inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Event {
	case "join_conversation":
		var ref conversationRef
		if json.Unmarshal(msg.Data, &ref) == nil && ref.ConversationID != "" {
			conn.Join(ref.ConversationID)
		}

	case "leave_conversation":
		var ref conversationRef
		if json.Unmarshal(msg.Data, &ref) == nil {
			conn.Leave(ref.ConversationID)
		}

	case "typing_start":
		h.relayTyping(ctx, conn, msg.Data, EvUserTyping)

	case "typing_stop":
		h.relayTyping(ctx, conn, msg.Data, EvUserStopTyping)

	case "mark_as_read":
		var req markAsRead
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		if err := h.chatSvc.MarkRead(ctx, conn.UserID, req.ConversationID, req.MessageIDs); err != nil {
			h.log.Warn().Err(err).Str("user", conn.UserID).Str("conversation", req.ConversationID).Msg("mark as read failed")
		}

	case "video_call_accepted":
		h.relayCallAnswer(ctx, conn, msg.Data, EvVideoCallAccepted)

	case "video_call_rejected":
		h.relayCallAnswer(ctx, conn, msg.Data, EvVideoCallRejected)

	default:
		h.log.Debug().Str("user", conn.UserID).Str("event", msg.Event).Msg("unknown event ignored")
	}
}

// relayTyping forwards a typing transition to the other participants of the
// conversation.
func (h *Handler) relayTyping(ctx context.Context, conn *Connection, data json.RawMessage, event string) {
	var ref conversationRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ConversationID == "" {
		return
	}
	participants, err := h.chatSvc.Participants(ctx, ref.ConversationID)
	if err != nil {
		h.log.Warn().Err(err).Str("conversation", ref.ConversationID).Msg("typing relay failed")
		return
	}
	targets := participants[:0]
	for _, id := range participants {
		if id != conn.UserID {
			targets = append(targets, id)
		}
	}
	h.hub.SendToConversation(targets, event, map[string]string{
		"conversationId": ref.ConversationID,
		"userId":         conn.UserID,
	})
}

// relayCallAnswer forwards an accept or reject to whoever placed the call.
func (h *Handler) relayCallAnswer(ctx context.Context, conn *Connection, data json.RawMessage, event string) {
	var ans callAnswer
	if err := json.Unmarshal(data, &ans); err != nil || ans.RoomID == "" {
		return
	}
	m, err := h.meetings.Get(ctx, ans.RoomID)
	if err != nil {
		h.log.Warn().Err(err).Str("room", ans.RoomID).Msg("call answer relay failed")
		return
	}
	h.hub.SendToUser(m.Organizer, event, map[string]string{
		"roomId": ans.RoomID,
		"userId": conn.UserID,
	})
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
