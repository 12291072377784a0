package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carelink/internal/cache"
	"carelink/internal/model"
	"carelink/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
)

// ChatService owns conversations and messages: persistence, unread counters
// and realtime fan-out to participants.
type ChatService struct {
	conversations repository.ConversationRepo
	messages      repository.MessageRepo
	unread        cache.UnreadCache
	broadcaster   Broadcaster
	log           zerolog.Logger
}

// NewChatService creates a new chat service.
func NewChatService(
	conversations repository.ConversationRepo,
	messages repository.MessageRepo,
	unread cache.UnreadCache,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		unread:        unread,
		broadcaster:   nopBroadcaster{},
		log:           log.With().Str("service", "chat").Logger(),
	}
}

// SetBroadcaster attaches the websocket hub after construction.
func (s *ChatService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Conversations lists the user's conversations with their unread counters.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	convs, err := s.conversations.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.unread.Counts(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("unread counts unavailable")
		counts = map[string]int{}
	}

	out := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.ConversationView{
			Conversation: c,
			UnreadCounts: map[string]int{userID: counts[c.ID]},
		})
	}
	return out, nil
}

// Messages lists a conversation's transcript in chronological order. The
// caller must be a participant.
func (s *ChatService) Messages(ctx context.Context, userID, convID string) ([]model.Message, error) {
	conv, err := s.getMember(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conv.ID, 0)
}

// SendMessage persists a message and fans it out to every participant,
// the sender included; the sender's own copy is its delivery confirmation.
func (s *ChatService) SendMessage(ctx context.Context, senderID, convID, content string, msgType model.MessageType, attachments []model.Attachment) (*model.Message, error) {
	conv, err := s.getMember(ctx, senderID, convID)
	if err != nil {
		return nil, err
	}
	if msgType == "" {
		msgType = model.MessageText
	}

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		Type:           msgType,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.conversations.SetLastMessage(ctx, conv.ID, msg); err != nil {
		s.log.Warn().Err(err).Str("conversation", conv.ID).Msg("last message not updated")
	}

	for _, p := range conv.Participants {
		if p.UserID != senderID {
			if err := s.unread.Increment(ctx, p.UserID, conv.ID); err != nil {
				s.log.Warn().Err(err).Str("user", p.UserID).Msg("unread increment failed")
			}
		}
	}

	s.broadcaster.SendToConversation(participantIDs(conv), "new_message", msg)
	return msg, nil
}

// MarkRead stamps readAt on the given messages and resets the reader's
// unread counter. Already-read messages keep their original stamp. The
// stamped messages are replayed to participants so every transcript copy
// converges.
func (s *ChatService) MarkRead(ctx context.Context, userID, convID string, messageIDs []string) error {
	conv, err := s.getMember(ctx, userID, convID)
	if err != nil {
		return err
	}
	if len(messageIDs) > 0 {
		if err := s.messages.MarkRead(ctx, conv.ID, messageIDs, time.Now().UTC()); err != nil {
			return err
		}
	}
	if err := s.unread.Reset(ctx, userID, conv.ID); err != nil {
		s.log.Warn().Err(err).Str("user", userID).Msg("unread reset failed")
	}

	msgs, err := s.messages.ListByConversation(ctx, conv.ID, 0)
	if err != nil {
		return err
	}
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}
	targets := participantIDs(conv)
	for i := range msgs {
		if ids[msgs[i].ID] {
			s.broadcaster.SendToConversation(targets, "new_message", &msgs[i])
		}
	}
	return nil
}

// Participants returns the participant user ids of a conversation, for
// typing relays.
func (s *ChatService) Participants(ctx context.Context, convID string) ([]string, error) {
	conv, err := s.conversations.GetByID(ctx, convID)
	if err == repository.ErrNotFound {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return participantIDs(conv), nil
}

func (s *ChatService) getMember(ctx context.Context, userID, convID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, convID)
	if err == repository.ErrNotFound {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func participantIDs(c *model.Conversation) []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
