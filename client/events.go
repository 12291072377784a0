package client

import (
	"encoding/json"
	"time"
)

// EventName identifies an event on the realtime channel.
type EventName string

// Inbound event names (server -> client).
const (
	EvOnlineUsers        EventName = "online_users"
	EvUserOnline         EventName = "user_online"
	EvUserOffline        EventName = "user_offline"
	EvNewMessage         EventName = "new_message"
	EvUserTyping         EventName = "user_typing"
	EvUserStopTyping     EventName = "user_stop_typing"
	EvIncomingVideoCall  EventName = "incoming_video_call"
	EvVideoCallCancelled EventName = "video_call_cancelled"
	EvMeetingCreated     EventName = "meeting_created"
	EvMeetingUpdated     EventName = "meeting_updated"
	EvMeetingEnded       EventName = "meeting_ended"
	EvParticipantJoined  EventName = "participant_joined"
	EvParticipantLeft    EventName = "participant_left"
)

// Outbound event names (client -> server).
const (
	EvJoinConversation  EventName = "join_conversation"
	EvLeaveConversation EventName = "leave_conversation"
	EvTypingStart       EventName = "typing_start"
	EvTypingStop        EventName = "typing_stop"
	EvMarkAsRead        EventName = "mark_as_read"
	EvVideoCallAccepted EventName = "video_call_accepted"
	EvVideoCallRejected EventName = "video_call_rejected"
)

// Envelope is the wire format for both directions of the event channel.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OnlineUsersPayload is the presence snapshot pushed right after connect.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// PresencePayload carries a single user_online / user_offline delta.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageSystem      MessageType = "system"
	MessageAppointment MessageType = "appointment"
	MessageCallStart   MessageType = "call_start"
	MessageCallEnd     MessageType = "call_end"
)

// Attachment is an uploaded media resource referenced by a message.
type Attachment struct {
	ResourceType string `json:"resourceType"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
}

// Message is a chat message as delivered by the server. Immutable once
// created except ReadAt, which is set exactly once.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Type           MessageType  `json:"messageType"`
	CreatedAt      time.Time    `json:"createdAt"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
}

// TypingPayload carries user_typing / user_stop_typing events.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// IncomingCallPayload announces a ring to the callee.
type IncomingCallPayload struct {
	RoomID     string    `json:"roomId"`
	RoomCode   string    `json:"roomCode"`
	CallerID   string    `json:"callerId"`
	CallerRole string    `json:"callerRole"`
	StartedAt  time.Time `json:"startedAt"`
}

// CallCancelledPayload tells the callee the caller hung up before an answer.
type CallCancelledPayload struct {
	RoomID string `json:"roomId"`
}

// ParticipantPayload carries participant_joined / participant_left events.
type ParticipantPayload struct {
	MeetingID   string             `json:"meetingId"`
	Participant MeetingParticipant `json:"participant"`
}

// Outbound payloads.

// ConversationRef addresses a conversation for join/leave/typing events.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// MarkAsReadPayload is the read-receipt batch for one conversation.
type MarkAsReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// CallAnswerPayload carries video_call_accepted / video_call_rejected.
type CallAnswerPayload struct {
	RoomID string `json:"roomId"`
}
