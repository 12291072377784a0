package client

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// Presence tracks which user identifiers currently have a live connection.
// It is fed exclusively by the connection lifecycle and the
// online_users/user_online/user_offline events, never mutated directly.
type Presence struct {
	mu     sync.Mutex
	online map[string]struct{}
}

func newPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// IsOnline reports whether the given user currently has a live connection.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// OnlineUsers returns a sorted snapshot of the online set.
func (p *Presence) OnlineUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Presence) replace(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
}

func (p *Presence) add(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
}

func (p *Presence) remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
}

func (p *Presence) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{})
}

func (c *Client) registerPresenceHandlers() {
	c.Subscribe(EvOnlineUsers, func(data json.RawMessage) error {
		var pl OnlineUsersPayload
		if err := json.Unmarshal(data, &pl); err != nil {
			return err
		}
		c.presence.replace(pl.UserIDs)
		return nil
	})
	c.Subscribe(EvUserOnline, func(data json.RawMessage) error {
		var pl PresencePayload
		if err := json.Unmarshal(data, &pl); err != nil {
			return err
		}
		if pl.UserID == "" {
			return errors.New("user_online without userId")
		}
		c.presence.add(pl.UserID)
		return nil
	})
	c.Subscribe(EvUserOffline, func(data json.RawMessage) error {
		var pl PresencePayload
		if err := json.Unmarshal(data, &pl); err != nil {
			return err
		}
		c.presence.remove(pl.UserID)
		return nil
	})
}
