package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carelink/internal/model"
	"carelink/internal/repository"
)

// recordingBroadcaster captures every fan-out for assertions.
type recordingBroadcaster struct {
	mu    sync.Mutex
	sends []sentEvent
}

type sentEvent struct {
	event     string
	user      string
	users     []string
	hospitals []string
	payload   interface{}
}

func (b *recordingBroadcaster) SendToUser(userID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, sentEvent{event: event, user: userID, payload: payload})
}

func (b *recordingBroadcaster) SendToHospitals(hospitalIDs []string, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, sentEvent{event: event, hospitals: hospitalIDs, payload: payload})
}

func (b *recordingBroadcaster) SendToConversation(userIDs []string, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, sentEvent{event: event, users: userIDs, payload: payload})
}

func (b *recordingBroadcaster) byEvent(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, s := range b.sends {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type fakeConversationRepo struct {
	convs map[string]*model.Conversation
}

func (r *fakeConversationRepo) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	if c, ok := r.convs[id]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeConversationRepo) ListByParticipant(_ context.Context, userID string) ([]model.Conversation, error) {
	var out []model.Conversation
	for _, c := range r.convs {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConversationRepo) Create(_ context.Context, c *model.Conversation) error {
	r.convs[c.ID] = c
	return nil
}

func (r *fakeConversationRepo) SetLastMessage(_ context.Context, id string, msg *model.Message) error {
	if c, ok := r.convs[id]; ok {
		c.LastMessage = msg
		c.UpdatedAt = msg.CreatedAt
	}
	return nil
}

type fakeMessageRepo struct {
	msgs []*model.Message
}

func (r *fakeMessageRepo) Create(_ context.Context, m *model.Message) error {
	cp := *m
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *fakeMessageRepo) ListByConversation(_ context.Context, convID string, limit int64) ([]model.Message, error) {
	var out []model.Message
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkRead(_ context.Context, convID string, ids []string, at time.Time) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, m := range r.msgs {
		if m.ConversationID == convID && want[m.ID] && m.ReadAt == nil {
			stamp := at
			m.ReadAt = &stamp
		}
	}
	return nil
}

type fakeUnreadCache struct {
	counts map[string]map[string]int // userID -> convID -> count
}

func newFakeUnreadCache() *fakeUnreadCache {
	return &fakeUnreadCache{counts: make(map[string]map[string]int)}
}

func (c *fakeUnreadCache) Increment(_ context.Context, userID, convID string) error {
	if c.counts[userID] == nil {
		c.counts[userID] = make(map[string]int)
	}
	c.counts[userID][convID]++
	return nil
}

func (c *fakeUnreadCache) Reset(_ context.Context, userID, convID string) error {
	delete(c.counts[userID], convID)
	return nil
}

func (c *fakeUnreadCache) Count(_ context.Context, userID, convID string) (int, error) {
	return c.counts[userID][convID], nil
}

func (c *fakeUnreadCache) Counts(_ context.Context, userID string) (map[string]int, error) {
	out := make(map[string]int)
	for conv, n := range c.counts[userID] {
		out[conv] = n
	}
	return out, nil
}

type fakeMeetingRepo struct {
	mu       sync.Mutex
	meetings map[string]*model.Meeting
}

func newFakeMeetingRepo() *fakeMeetingRepo {
	return &fakeMeetingRepo{meetings: make(map[string]*model.Meeting)}
}

func (r *fakeMeetingRepo) Create(_ context.Context, m *model.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.meetings[m.ID] = &cp
	return nil
}

func (r *fakeMeetingRepo) GetByID(_ context.Context, id string) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meetings[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeMeetingRepo) GetByCode(_ context.Context, code string) (*model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.meetings {
		if m.RoomCode == code {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeMeetingRepo) Update(_ context.Context, m *model.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[m.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *m
	r.meetings[m.ID] = &cp
	return nil
}

func (r *fakeMeetingRepo) ListVisible(_ context.Context, hospitalIDs []string, status model.MeetingStatus) ([]model.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Meeting
	for _, m := range r.meetings {
		if status != "" && m.Status != status {
			continue
		}
		if m.VisibleTo(hospitalIDs) {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeCodeCache struct {
	mu    sync.Mutex
	codes map[string]string
}

func newFakeCodeCache() *fakeCodeCache {
	return &fakeCodeCache{codes: make(map[string]string)}
}

func (c *fakeCodeCache) Set(_ context.Context, code, meetingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code] = meetingID
	return nil
}

func (c *fakeCodeCache) Get(_ context.Context, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[code], nil
}

func (c *fakeCodeCache) Exists(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.codes[code]
	return ok, nil
}

func (c *fakeCodeCache) Delete(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.codes, code)
	return nil
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
