package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// typingStopAfter is the local inactivity window before typing_stop.
	typingStopAfter = 2 * time.Second
	// remoteTypingTTL clears a remote typing indicator even when the
	// sender's typing_stop is lost.
	remoteTypingTTL = 3 * time.Second
)

// PendingSend tracks a message handed to the store but not yet echoed back.
// The transcript is mutated only by the echo, never by the send call site.
type PendingSend struct {
	MessageID string
	done      chan Message
}

// Done is closed with the delivered message once the echo arrives.
func (p *PendingSend) Done() <-chan Message { return p.done }

// Wait blocks until the echo confirms delivery or ctx expires.
func (p *PendingSend) Wait(ctx context.Context) (Message, error) {
	select {
	case m := <-p.done:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

type convState struct {
	id         string
	transcript []Message
	index      map[string]int   // message id -> transcript position
	typing     map[string]Timer // remote userID -> defensive clear timer
}

// Conversations manages the open conversation sessions of one client:
// room join/leave, echo-confirmed transcripts, typing debounce and
// read-receipt emission.
type Conversations struct {
	c      *Client
	chat   *ChatAPI
	log    zerolog.Logger
	timers TimerFactory

	mu          sync.Mutex
	open        map[string]*convState
	localTyping map[string]Timer        // conversationID -> stop timer
	pending     map[string]*PendingSend // messageID -> pending send
}

// NewConversations wires a conversation session manager onto the client's
// event channel.
func NewConversations(c *Client, chat *ChatAPI) *Conversations {
	s := &Conversations{
		c:           c,
		chat:        chat,
		log:         c.log,
		timers:      c.timers,
		open:        make(map[string]*convState),
		localTyping: make(map[string]Timer),
		pending:     make(map[string]*PendingSend),
	}
	c.Subscribe(EvNewMessage, s.onNewMessage)
	c.Subscribe(EvUserTyping, s.onUserTyping)
	c.Subscribe(EvUserStopTyping, s.onUserStopTyping)
	c.OnDisconnect(s.invalidateTyping)
	return s
}

// Open joins the conversation room. Reopening an already-open conversation
// is a no-op.
func (s *Conversations) Open(conversationID string) {
	s.mu.Lock()
	if _, ok := s.open[conversationID]; ok {
		s.mu.Unlock()
		return
	}
	s.open[conversationID] = &convState{
		id:     conversationID,
		index:  make(map[string]int),
		typing: make(map[string]Timer),
	}
	s.mu.Unlock()

	s.c.Emit(EvJoinConversation, ConversationRef{ConversationID: conversationID})
}

// Close leaves the conversation room and drops its session state.
func (s *Conversations) Close(conversationID string) {
	s.mu.Lock()
	st, ok := s.open[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, t := range st.typing {
		t.Stop()
	}
	delete(s.open, conversationID)
	if t, ok := s.localTyping[conversationID]; ok {
		t.Stop()
		delete(s.localTyping, conversationID)
	}
	s.mu.Unlock()

	s.c.Emit(EvLeaveConversation, ConversationRef{ConversationID: conversationID})
}

// IsOpen reports whether the conversation session is open.
func (s *Conversations) IsOpen(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[conversationID]
	return ok
}

// LoadHistory replaces the local transcript with the store's snapshot.
// Subsequent ordering comes from delivery events alone.
func (s *Conversations) LoadHistory(ctx context.Context, conversationID string) error {
	msgs, err := s.chat.Messages(ctx, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[conversationID]
	if !ok {
		return errors.New("conversation not open")
	}
	st.transcript = st.transcript[:0]
	st.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, dup := st.index[m.ID]; dup {
			continue
		}
		st.index[m.ID] = len(st.transcript)
		st.transcript = append(st.transcript, m)
	}
	return nil
}

// Send hands a message to the conversation store. The returned handle
// resolves when the delivery echo arrives; the local transcript is not
// touched here.
func (s *Conversations) Send(ctx context.Context, conversationID, content string, attachments []Attachment) (*PendingSend, error) {
	msg, err := s.chat.SendMessage(ctx, conversationID, content, attachments)
	if err != nil {
		return nil, err
	}

	p := &PendingSend{MessageID: msg.ID, done: make(chan Message, 1)}
	s.mu.Lock()
	s.pending[msg.ID] = p
	s.mu.Unlock()
	return p, nil
}

// Transcript returns a copy of the conversation's local transcript.
func (s *Conversations) Transcript(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(st.transcript))
	copy(out, st.transcript)
	return out
}

// InputChanged reports a local keystroke: emits typing_start and restarts
// the 2s inactivity timer whose expiry emits exactly one typing_stop. While
// disconnected this is a silent no-op.
func (s *Conversations) InputChanged(conversationID string) {
	if !s.c.IsConnected() {
		return
	}
	s.c.Emit(EvTypingStart, ConversationRef{ConversationID: conversationID})

	s.mu.Lock()
	if t, ok := s.localTyping[conversationID]; ok {
		t.Stop()
	}
	s.localTyping[conversationID] = s.timers(typingStopAfter, func() {
		s.mu.Lock()
		delete(s.localTyping, conversationID)
		s.mu.Unlock()
		s.c.Emit(EvTypingStop, ConversationRef{ConversationID: conversationID})
	})
	s.mu.Unlock()
}

// StopTyping explicitly ends the local typing indicator (input cleared or
// message sent) ahead of the inactivity timer.
func (s *Conversations) StopTyping(conversationID string) {
	s.mu.Lock()
	t, ok := s.localTyping[conversationID]
	if ok {
		t.Stop()
		delete(s.localTyping, conversationID)
	}
	s.mu.Unlock()

	if ok {
		s.c.Emit(EvTypingStop, ConversationRef{ConversationID: conversationID})
	}
}

// TypingUsers returns the users currently showing as typing in the
// conversation, sorted.
func (s *Conversations) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[conversationID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(st.typing))
	for id := range st.typing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Conversations) onNewMessage(data json.RawMessage) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("new_message without id or conversationId")
	}

	s.mu.Lock()
	if p, ok := s.pending[msg.ID]; ok {
		delete(s.pending, msg.ID)
		p.done <- msg
		close(p.done)
	}

	st, open := s.open[msg.ConversationID]
	var markRead bool
	if open {
		if pos, dup := st.index[msg.ID]; dup {
			// Idempotent re-delivery; readAt may still move null -> set.
			if st.transcript[pos].ReadAt == nil && msg.ReadAt != nil {
				st.transcript[pos].ReadAt = msg.ReadAt
			}
		} else {
			st.index[msg.ID] = len(st.transcript)
			st.transcript = append(st.transcript, msg)
			if msg.SenderID != s.c.userID {
				markRead = true
				if msg.ReadAt == nil {
					now := time.Now()
					st.transcript[len(st.transcript)-1].ReadAt = &now
				}
			}
		}
		// A message supersedes the sender's typing indicator.
		if t, ok := st.typing[msg.SenderID]; ok {
			t.Stop()
			delete(st.typing, msg.SenderID)
		}
	}
	s.mu.Unlock()

	if markRead {
		s.c.Emit(EvMarkAsRead, MarkAsReadPayload{
			ConversationID: msg.ConversationID,
			MessageIDs:     []string{msg.ID},
		})
	}
	return nil
}

func (s *Conversations) onUserTyping(data json.RawMessage) error {
	var pl TypingPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return err
	}
	if pl.UserID == s.c.userID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[pl.ConversationID]
	if !ok {
		return nil
	}
	if t, ok := st.typing[pl.UserID]; ok {
		t.Stop()
	}
	convID, userID := pl.ConversationID, pl.UserID
	st.typing[userID] = s.timers(remoteTypingTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.open[convID]; ok {
			delete(cur.typing, userID)
		}
	})
	return nil
}

func (s *Conversations) onUserStopTyping(data json.RawMessage) error {
	var pl TypingPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[pl.ConversationID]
	if !ok {
		return nil
	}
	if t, ok := st.typing[pl.UserID]; ok {
		t.Stop()
		delete(st.typing, pl.UserID)
	}
	return nil
}

// invalidateTyping drops all ephemeral typing state when the connection is
// lost. Transcripts stay; they are re-synced via LoadHistory on reconnect.
func (s *Conversations) invalidateTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.localTyping {
		t.Stop()
		delete(s.localTyping, id)
	}
	for _, st := range s.open {
		for id, t := range st.typing {
			t.Stop()
			delete(st.typing, id)
		}
	}
}
