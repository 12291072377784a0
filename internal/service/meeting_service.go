package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carelink/internal/cache"
	"carelink/internal/model"
	"carelink/internal/repository"
)

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrMeetingEnded    = errors.New("meeting has ended")
	ErrNotAuthorized   = errors.New("user may not end this meeting")
	ErrInvalidCode     = errors.New("invalid room code")
)

// Code charset avoids ambiguous characters (0/O, 1/I/L).
const codeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const codeLength = 6

// abandonedGrace is how long an active meeting with no remaining
// participants survives before it is ended; a rejoin cancels it.
const abandonedGrace = 60 * time.Second

// MeetingService owns the meeting lifecycle: creation with a join code,
// waiting -> active on first join, active -> ended on explicit end or when
// everyone has left and the grace period lapses, and the hospital-scoped
// realtime fan-out of every transition.
type MeetingService struct {
	meetings    repository.MeetingRepo
	users       repository.UserRepo
	codes       cache.RoomCodeCache
	auth        *AuthService
	broadcaster Broadcaster
	mediaWsURL  string
	log         zerolog.Logger

	grace       time.Duration
	graceMu     sync.Mutex
	graceTimers map[string]*time.Timer
}

// NewMeetingService creates a new meeting service.
func NewMeetingService(
	meetings repository.MeetingRepo,
	users repository.UserRepo,
	codes cache.RoomCodeCache,
	auth *AuthService,
	mediaWsURL string,
	log zerolog.Logger,
) *MeetingService {
	return &MeetingService{
		meetings:    meetings,
		users:       users,
		codes:       codes,
		auth:        auth,
		broadcaster: nopBroadcaster{},
		mediaWsURL:  mediaWsURL,
		log:         log.With().Str("service", "meeting").Logger(),
		grace:       abandonedGrace,
		graceTimers: make(map[string]*time.Timer),
	}
}

// SetBroadcaster attaches the websocket hub after construction.
func (s *MeetingService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CreateRoomInput is the creation request.
type CreateRoomInput struct {
	CreatorID   string
	CreatorRole model.Role
	InviteeID   string
	HospitalIDs []string
	StartTime   time.Time
}

// CreateRoom creates a meeting in waiting state, announces it to its
// hospital scope and rings the invitee if one is named.
func (s *MeetingService) CreateRoom(ctx context.Context, in CreateRoomInput) (*model.Meeting, error) {
	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	start := in.StartTime
	if start.IsZero() {
		start = now
	}
	m := &model.Meeting{
		ID:          uuid.New().String(),
		RoomCode:    code,
		Status:      model.MeetingWaiting,
		HospitalIDs: in.HospitalIDs,
		CreatedBy:   in.CreatorID,
		Organizer:   in.CreatorID,
		InviteeID:   in.InviteeID,
		StartTime:   start,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.meetings.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := s.codes.Set(ctx, code, m.ID); err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("room code not cached")
	}

	s.broadcaster.SendToHospitals(m.HospitalIDs, "meeting_created", m)
	if in.InviteeID != "" {
		s.broadcaster.SendToUser(in.InviteeID, "incoming_video_call", map[string]interface{}{
			"roomId":     m.ID,
			"roomCode":   m.RoomCode,
			"callerId":   in.CreatorID,
			"callerRole": in.CreatorRole,
			"startedAt":  now,
		})
	}
	return m, nil
}

// Join adds the user to the meeting, promotes waiting meetings to active on
// the first join, and returns a media-room credential.
func (s *MeetingService) Join(ctx context.Context, userID, meetingID string) (*model.JoinResponse, error) {
	m, err := s.get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status == model.MeetingEnded {
		return nil, ErrMeetingEnded
	}

	now := time.Now().UTC()
	joined := false
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			m.Participants[i].JoinedAt = now
			m.Participants[i].LeftAt = nil
			joined = true
			break
		}
	}
	if !joined {
		p := model.MeetingParticipant{UserID: userID, JoinedAt: now}
		if u, err := s.users.GetByID(ctx, userID); err == nil {
			p.Name = u.Name
			p.Role = u.Role
		}
		m.Participants = append(m.Participants, p)
	}

	if m.Status == model.MeetingWaiting {
		m.Status = model.MeetingActive
	}
	m.UpdatedAt = now
	if err := s.meetings.Update(ctx, m); err != nil {
		return nil, err
	}
	s.cancelGrace(m.ID)

	s.broadcaster.SendToHospitals(m.HospitalIDs, "meeting_updated", m)
	s.broadcaster.SendToHospitals(m.HospitalIDs, "participant_joined", map[string]interface{}{
		"meetingId":   m.ID,
		"participant": participantOf(m, userID),
	})

	token, err := s.auth.GenerateRoomToken(userID, m.ID)
	if err != nil {
		return nil, err
	}
	return &model.JoinResponse{
		Token: token,
		WsURL: s.mediaWsURL,
		AppointmentInfo: &model.AppointmentInfo{
			MeetingID: m.ID,
			RoomCode:  m.RoomCode,
			Organizer: m.Organizer,
			StartTime: m.StartTime,
		},
	}, nil
}

// Leave stamps the participant's departure.
func (s *MeetingService) Leave(ctx context.Context, userID, meetingID string) error {
	m, err := s.get(ctx, meetingID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	changed := false
	for i := range m.Participants {
		if m.Participants[i].UserID == userID && m.Participants[i].LeftAt == nil {
			m.Participants[i].LeftAt = &now
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	m.UpdatedAt = now
	if err := s.meetings.Update(ctx, m); err != nil {
		return err
	}

	s.broadcaster.SendToHospitals(m.HospitalIDs, "participant_left", map[string]interface{}{
		"meetingId":   m.ID,
		"participant": participantOf(m, userID),
	})

	// An active meeting everyone has left ends after a grace period
	// unless someone rejoins.
	if m.Status == model.MeetingActive && m.ActiveParticipantCount() == 0 {
		s.armGrace(m.ID)
	}
	return nil
}

func (s *MeetingService) armGrace(meetingID string) {
	s.graceMu.Lock()
	defer s.graceMu.Unlock()
	if t, ok := s.graceTimers[meetingID]; ok {
		t.Stop()
	}
	s.graceTimers[meetingID] = time.AfterFunc(s.grace, func() {
		s.endAbandoned(meetingID)
	})
}

func (s *MeetingService) cancelGrace(meetingID string) {
	s.graceMu.Lock()
	defer s.graceMu.Unlock()
	if t, ok := s.graceTimers[meetingID]; ok {
		t.Stop()
		delete(s.graceTimers, meetingID)
	}
}

// endAbandoned fires after the grace period. The meeting state is re-read
// first: a rejoin or explicit end in the meantime wins.
func (s *MeetingService) endAbandoned(meetingID string) {
	s.graceMu.Lock()
	delete(s.graceTimers, meetingID)
	s.graceMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := s.get(ctx, meetingID)
	if err != nil {
		s.log.Warn().Err(err).Str("meeting", meetingID).Msg("abandoned-meeting check failed")
		return
	}
	if m.Status != model.MeetingActive || m.ActiveParticipantCount() != 0 {
		return
	}

	now := time.Now().UTC()
	m.Status = model.MeetingEnded
	m.EndedAt = &now
	m.UpdatedAt = now
	if err := s.meetings.Update(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("meeting", meetingID).Msg("abandoned meeting not ended")
		return
	}
	if err := s.codes.Delete(ctx, m.RoomCode); err != nil {
		s.log.Warn().Err(err).Str("code", m.RoomCode).Msg("room code not evicted")
	}

	s.log.Info().Str("meeting", meetingID).Msg("meeting ended after all participants left")
	s.broadcaster.SendToHospitals(m.HospitalIDs, "meeting_ended", m)
}

// End terminates the meeting. Only the creator or organizer may end it; the
// check runs here against the stored document, not against what the caller
// claims. Ending a still-waiting meeting also retracts its ring.
func (s *MeetingService) End(ctx context.Context, userID, meetingID string) (*model.Meeting, error) {
	m, err := s.get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if !m.CanBeEndedBy(userID) {
		return nil, ErrNotAuthorized
	}
	if m.Status == model.MeetingEnded {
		return m, nil
	}

	wasWaiting := m.Status == model.MeetingWaiting
	now := time.Now().UTC()
	m.Status = model.MeetingEnded
	m.EndedAt = &now
	m.UpdatedAt = now
	for i := range m.Participants {
		if m.Participants[i].LeftAt == nil {
			m.Participants[i].LeftAt = &now
		}
	}
	if err := s.meetings.Update(ctx, m); err != nil {
		return nil, err
	}
	s.cancelGrace(m.ID)
	if err := s.codes.Delete(ctx, m.RoomCode); err != nil {
		s.log.Warn().Err(err).Str("code", m.RoomCode).Msg("room code not evicted")
	}

	s.broadcaster.SendToHospitals(m.HospitalIDs, "meeting_ended", m)
	if wasWaiting && m.InviteeID != "" {
		s.broadcaster.SendToUser(m.InviteeID, "video_call_cancelled", map[string]interface{}{
			"roomId": m.ID,
		})
	}
	return m, nil
}

// Meetings lists meetings visible to the viewer's hospital scope.
func (s *MeetingService) Meetings(ctx context.Context, viewerHospitals []string, status model.MeetingStatus) ([]model.Meeting, error) {
	return s.meetings.ListVisible(ctx, viewerHospitals, status)
}

// Get returns one meeting by id.
func (s *MeetingService) Get(ctx context.Context, meetingID string) (*model.Meeting, error) {
	return s.get(ctx, meetingID)
}

// ValidateCode resolves a join code to its meeting, rejecting ended rooms.
func (s *MeetingService) ValidateCode(ctx context.Context, code string) (*model.Meeting, error) {
	id, err := s.codes.Get(ctx, code)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("code cache lookup failed")
	}

	var m *model.Meeting
	if id != "" {
		m, err = s.get(ctx, id)
	} else {
		m, err = s.meetings.GetByCode(ctx, code)
		if err == repository.ErrNotFound {
			return nil, ErrInvalidCode
		}
	}
	if err != nil {
		if err == ErrMeetingNotFound {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	if m.Status == model.MeetingEnded {
		return nil, ErrMeetingEnded
	}
	return m, nil
}

// JoinByCode validates the code then joins its meeting.
func (s *MeetingService) JoinByCode(ctx context.Context, userID, code string) (*model.JoinResponse, error) {
	m, err := s.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.Join(ctx, userID, m.ID)
}

func (s *MeetingService) get(ctx context.Context, meetingID string) (*model.Meeting, error) {
	m, err := s.meetings.GetByID(ctx, meetingID)
	if err == repository.ErrNotFound {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MeetingService) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		taken, err := s.codes.Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			if _, err := s.meetings.GetByCode(ctx, code); err == repository.ErrNotFound {
				return code, nil
			} else if err != nil {
				return "", err
			}
		}
	}
	return "", errors.New("could not allocate a unique room code")
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeCharset[n.Int64()]
	}
	return string(b), nil
}

func participantOf(m *model.Meeting, userID string) *model.MeetingParticipant {
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			return &m.Participants[i]
		}
	}
	return nil
}
