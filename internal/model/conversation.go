package model

import "time"

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

// Participant is a user reference embedded in a conversation.
type Participant struct {
	UserID string `json:"id" bson:"userId"`
	Name   string `json:"name" bson:"name"`
	Role   Role   `json:"role" bson:"role"`
}

// Conversation groups participants and their messages. Order of
// Participants is significant and preserved as stored.
type Conversation struct {
	ID           string        `json:"id" bson:"_id"`
	Participants []Participant `json:"participants" bson:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty" bson:"lastMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// HasParticipant reports whether the user belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Attachment is an uploaded media resource referenced by a message.
type Attachment struct {
	ResourceType string `json:"resourceType" bson:"resourceType"`
	URL          string `json:"url" bson:"url"`
	OriginalName string `json:"originalName" bson:"originalName"`
}

// Message is immutable once created except ReadAt, which moves from null to
// a timestamp exactly once.
type Message struct {
	ID             string       `json:"id" bson:"_id"`
	ConversationID string       `json:"conversationId" bson:"conversationId"`
	SenderID       string       `json:"senderId" bson:"senderId"`
	Content        string       `json:"content" bson:"content"`
	Attachments    []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Type           MessageType  `json:"messageType" bson:"messageType"`
	CreatedAt      time.Time    `json:"createdAt" bson:"createdAt"`
	ReadAt         *time.Time   `json:"readAt,omitempty" bson:"readAt,omitempty"`
}

// ConversationView is a conversation as served to one user, with that view's
// unread counters attached.
type ConversationView struct {
	Conversation `bson:",inline"`
	UnreadCounts map[string]int `json:"unreadCountByUser"`
}
