package model

import "time"

// MeetingStatus is the lifecycle state of a meeting room.
type MeetingStatus string

const (
	MeetingWaiting MeetingStatus = "waiting"
	MeetingActive  MeetingStatus = "active"
	MeetingEnded   MeetingStatus = "ended"
)

// MeetingParticipant is one participant row of a meeting.
type MeetingParticipant struct {
	UserID   string     `json:"user" bson:"userId"`
	Name     string     `json:"name,omitempty" bson:"name,omitempty"`
	Role     Role       `json:"role,omitempty" bson:"role,omitempty"`
	JoinedAt time.Time  `json:"joinedAt" bson:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty" bson:"leftAt,omitempty"`
}

// Meeting is a video meeting room. Status transitions waiting -> active on
// the first join and active -> ended on explicit end; ended is terminal.
type Meeting struct {
	ID           string               `json:"id" bson:"_id"`
	RoomCode     string               `json:"roomCode" bson:"roomCode"`
	Status       MeetingStatus        `json:"status" bson:"status"`
	HospitalIDs  []string             `json:"hospitalIds" bson:"hospitalIds"`
	Participants []MeetingParticipant `json:"participants" bson:"participants"`
	CreatedBy    string               `json:"createdBy" bson:"createdBy"`
	Organizer    string               `json:"organizer" bson:"organizer"`
	InviteeID    string               `json:"inviteeId,omitempty" bson:"inviteeId,omitempty"`
	StartTime    time.Time            `json:"startTime,omitempty" bson:"startTime,omitempty"`
	CreatedAt    time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt" bson:"updatedAt"`
	EndedAt      *time.Time           `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
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

// VisibleTo is the hospital-scope predicate: a viewer with no assigned
// hospital sees everything, otherwise the hospital sets must intersect.
func (m *Meeting) VisibleTo(viewerHospitals []string) bool {
	if len(viewerHospitals) == 0 {
		return true
	}
	for _, h := range m.HospitalIDs {
		for _, v := range viewerHospitals {
			if h == v {
				return true
			}
		}
	}
	return false
}

// CanBeEndedBy limits ending to the creator or organizer.
func (m *Meeting) CanBeEndedBy(userID string) bool {
	return userID != "" && (userID == m.CreatedBy || userID == m.Organizer)
}

// JoinResponse is returned by the join endpoints: the media-room credential
// and where to present it.
type JoinResponse struct {
	Token           string           `json:"token"`
	WsURL           string           `json:"wsUrl"`
	AppointmentInfo *AppointmentInfo `json:"appointmentInfo,omitempty"`
}

// AppointmentInfo is the display context attached to a room join.
type AppointmentInfo struct {
	MeetingID string    `json:"meetingId"`
	RoomCode  string    `json:"roomCode"`
	Organizer string    `json:"organizer"`
	StartTime time.Time `json:"startTime,omitempty"`
}
