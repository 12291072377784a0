package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// MeetingStatus is the lifecycle state of a meeting room.
type MeetingStatus string

const (
	MeetingWaiting MeetingStatus = "waiting"
	MeetingActive  MeetingStatus = "active"
	MeetingEnded   MeetingStatus = "ended"
)

// Ref is an identity reference that the backing services encode either as a
// bare id string or as a nested object. The shape is resolved once, here at
// the ingestion boundary; nothing downstream branches on it again.
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.ID = s
		return nil
	}
	var obj struct {
		ID    string `json:"id"`
		OID   string `json:"_id"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	switch {
	case obj.ID != "":
		r.ID = obj.ID
	case obj.OID != "":
		r.ID = obj.OID
	default:
		r.ID = obj.Value
	}
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// MeetingParticipant is one participant row of a meeting record.
type MeetingParticipant struct {
	User     Ref        `json:"user"`
	Name     string     `json:"name,omitempty"`
	Role     string     `json:"role,omitempty"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// RawMeeting is a meeting record as the services push it, before hospital
// references are normalized.
type RawMeeting struct {
	ID           string               `json:"id"`
	RoomCode     string               `json:"roomCode"`
	Status       MeetingStatus        `json:"status"`
	HospitalIDs  []Ref                `json:"hospitalIds,omitempty"`
	Hospitals    []Ref                `json:"hospitals,omitempty"`
	Participants []MeetingParticipant `json:"participants,omitempty"`
	CreatedBy    Ref                  `json:"createdBy"`
	Organizer    Ref                  `json:"organizer"`
	StartTime    time.Time            `json:"startTime,omitempty"`
	CreatedAt    time.Time            `json:"createdAt,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt,omitempty"`
}

// Meeting is the canonical, normalized meeting record held in the registry.
type Meeting struct {
	ID           string
	RoomCode     string
	Status       MeetingStatus
	HospitalIDs  []string
	Participants []MeetingParticipant
	CreatedBy    string
	Organizer    string
	StartTime    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActiveParticipantCount is derived: participants who have not left.
func (m *Meeting) ActiveParticipantCount() int {
	n := 0
	for _, p := range m.Participants {
		if p.LeftAt == nil {
			n++
		}
	}
	return n
}

// activityTime orders the registry: most recent of updatedAt, startTime and
// createdAt.
func (m *Meeting) activityTime() time.Time {
	t := m.UpdatedAt
	if m.StartTime.After(t) {
		t = m.StartTime
	}
	if m.CreatedAt.After(t) {
		t = m.CreatedAt
	}
	return t
}

// CanBeEndedBy is the client-side permission gate: creator or organizer
// only. The server re-verifies independently.
func (m *Meeting) CanBeEndedBy(userID string) bool {
	return userID != "" && (userID == m.CreatedBy || userID == m.Organizer)
}

// NormalizeMeeting resolves a raw record to canonical form: hospitalIds
// becomes the deduplicated union of the explicit id list and the nested
// hospital-object ids.
func NormalizeMeeting(raw *RawMeeting) Meeting {
	seen := make(map[string]struct{})
	var hospitals []string
	for _, refs := range [][]Ref{raw.HospitalIDs, raw.Hospitals} {
		for _, r := range refs {
			if r.ID == "" {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			hospitals = append(hospitals, r.ID)
		}
	}
	sort.Strings(hospitals)

	return Meeting{
		ID:           raw.ID,
		RoomCode:     raw.RoomCode,
		Status:       raw.Status,
		HospitalIDs:  hospitals,
		Participants: raw.Participants,
		CreatedBy:    raw.CreatedBy.ID,
		Organizer:    raw.Organizer.ID,
		StartTime:    raw.StartTime,
		CreatedAt:    raw.CreatedAt,
		UpdatedAt:    raw.UpdatedAt,
	}
}

// Registry is the deduplicated, hospital-scoped view of meeting rooms. It
// merges REST snapshots with server-pushed deltas; a late contradictory
// event is the new truth (last-write-wins by arrival).
type Registry struct {
	c     *Client
	rooms *RoomAPI

	viewerHospitals []string

	mu       sync.Mutex
	meetings []Meeting // sorted by activityTime descending
}

// NewRegistry wires a meeting registry onto the client's event channel.
// viewerHospitals empty means the unscoped (admin) view.
func NewRegistry(c *Client, rooms *RoomAPI, viewerHospitals []string) *Registry {
	r := &Registry{
		c:               c,
		rooms:           rooms,
		viewerHospitals: viewerHospitals,
	}
	c.Subscribe(EvMeetingCreated, r.onMeetingEvent(""))
	c.Subscribe(EvMeetingUpdated, r.onMeetingEvent(""))
	c.Subscribe(EvMeetingEnded, r.onMeetingEvent(MeetingEnded))
	c.Subscribe(EvParticipantJoined, r.onParticipantJoined)
	c.Subscribe(EvParticipantLeft, r.onParticipantLeft)
	// Cached state is stale after a reconnect; the snapshot is the truth.
	c.OnReconnect(func() {
		go func() {
			if err := r.Refresh(context.Background()); err != nil {
				c.log.Error().Err(err).Msg("meeting refresh after reconnect failed")
			}
		}()
	})
	return r
}

// Visible is the hospital-scope predicate: non-empty intersection with the
// viewer's hospitals, or an unscoped viewer.
func (r *Registry) Visible(m *Meeting) bool {
	if len(r.viewerHospitals) == 0 {
		return true
	}
	for _, h := range m.HospitalIDs {
		for _, v := range r.viewerHospitals {
			if h == v {
				return true
			}
		}
	}
	return false
}

// Refresh replaces the cache with the room service's snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	raws, err := r.rooms.Meetings(ctx, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings = r.meetings[:0]
	seen := make(map[string]struct{}, len(raws))
	for i := range raws {
		m := NormalizeMeeting(&raws[i])
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if r.Visible(&m) {
			r.meetings = append(r.meetings, m)
		}
	}
	r.sortLocked()
	return nil
}

// Upsert merges one server-pushed meeting into the cache. A record failing
// the visibility predicate is removed, which also handles hospital
// reassignment away from the viewer.
func (r *Registry) Upsert(m Meeting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(m)
}

func (r *Registry) upsertLocked(m Meeting) {
	if !r.Visible(&m) {
		r.removeLocked(m.ID)
		return
	}
	for i := range r.meetings {
		if r.meetings[i].ID == m.ID {
			r.meetings[i] = m
			r.sortLocked()
			return
		}
	}
	r.meetings = append(r.meetings, m)
	r.sortLocked()
}

func (r *Registry) removeLocked(id string) {
	for i := range r.meetings {
		if r.meetings[i].ID == id {
			r.meetings = append(r.meetings[:i], r.meetings[i+1:]...)
			return
		}
	}
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.meetings, func(i, j int) bool {
		return r.meetings[i].activityTime().After(r.meetings[j].activityTime())
	})
}

// ListMine returns the visible meetings, most recent activity first. status
// empty means all statuses.
func (r *Registry) ListMine(status MeetingStatus) []Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Get returns a cached meeting by id.
func (r *Registry) Get(id string) (Meeting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.meetings {
		if m.ID == id {
			return m, true
		}
	}
	return Meeting{}, false
}

// End ends a meeting through the room service, gated on creator/organizer
// authority. The cache itself updates when the meeting_ended event arrives.
func (r *Registry) End(ctx context.Context, meetingID string) error {
	m, ok := r.Get(meetingID)
	if !ok {
		return errors.New("meeting not in view")
	}
	if !m.CanBeEndedBy(r.c.userID) {
		return errors.New("only the creator or organizer may end this meeting")
	}
	return r.rooms.End(ctx, meetingID)
}

func (r *Registry) onMeetingEvent(force MeetingStatus) Handler {
	return func(data json.RawMessage) error {
		var raw RawMeeting
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw.ID == "" {
			return errors.New("meeting event without id")
		}
		m := NormalizeMeeting(&raw)
		if force != "" {
			m.Status = force
		}
		r.Upsert(m)
		return nil
	}
}

func (r *Registry) onParticipantJoined(data json.RawMessage) error {
	return r.applyParticipant(data, false)
}

func (r *Registry) onParticipantLeft(data json.RawMessage) error {
	return r.applyParticipant(data, true)
}

func (r *Registry) applyParticipant(data json.RawMessage, left bool) error {
	var pl ParticipantPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return err
	}
	if pl.MeetingID == "" {
		return errors.New("participant event without meetingId")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.meetings {
		if r.meetings[i].ID != pl.MeetingID {
			continue
		}
		m := &r.meetings[i]
		p := pl.Participant
		if left && p.LeftAt == nil {
			// A left event with no timestamp still counts the exit.
			now := time.Now()
			p.LeftAt = &now
		}
		replaced := false
		for j := range m.Participants {
			if m.Participants[j].User.ID == p.User.ID {
				m.Participants[j] = p
				replaced = true
				break
			}
		}
		if !replaced {
			m.Participants = append(m.Participants, p)
		}
		return nil
	}
	return nil
}
