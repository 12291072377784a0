package service

import (
	"context"
	"testing"
	"time"

	"carelink/internal/model"
)

func newTestMeetings() (*MeetingService, *fakeMeetingRepo, *fakeCodeCache, *recordingBroadcaster) {
	repo := newFakeMeetingRepo()
	codes := newFakeCodeCache()
	users := newFakeUserRepo(&model.User{ID: "pat-1", Name: "Pat", Role: model.RolePatient})
	auth := NewAuthService(users, "test-secret")
	b := &recordingBroadcaster{}

	svc := NewMeetingService(repo, users, codes, auth, "wss://media.test/rtc", testLogger())
	svc.SetBroadcaster(b)
	return svc, repo, codes, b
}

func create(t *testing.T, svc *MeetingService, invitee string) *model.Meeting {
	t.Helper()
	m, err := svc.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:   "doc-1",
		CreatorRole: model.RoleDoctor,
		InviteeID:   invitee,
		HospitalIDs: []string{"hosp-a"},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return m
}

func TestCreateRoomRingsInvitee(t *testing.T) {
	svc, _, codes, b := newTestMeetings()

	m := create(t, svc, "pat-1")
	if m.Status != model.MeetingWaiting {
		t.Errorf("status = %q, want waiting", m.Status)
	}
	if len(m.RoomCode) != codeLength {
		t.Errorf("room code %q, want %d chars", m.RoomCode, codeLength)
	}
	if id, _ := codes.Get(context.Background(), m.RoomCode); id != m.ID {
		t.Error("room code not cached")
	}

	rings := b.byEvent("incoming_video_call")
	if len(rings) != 1 || rings[0].user != "pat-1" {
		t.Fatalf("ring events = %+v, want one to pat-1", rings)
	}
	if created := b.byEvent("meeting_created"); len(created) != 1 {
		t.Errorf("meeting_created events = %d, want 1", len(created))
	}
}

func TestCreateRoomWithoutInviteeDoesNotRing(t *testing.T) {
	svc, _, _, b := newTestMeetings()
	create(t, svc, "")
	if rings := b.byEvent("incoming_video_call"); len(rings) != 0 {
		t.Errorf("ring events = %d, want 0", len(rings))
	}
}

func TestJoinPromotesWaitingToActive(t *testing.T) {
	svc, repo, _, b := newTestMeetings()
	m := create(t, svc, "pat-1")

	resp, err := svc.Join(context.Background(), "pat-1", m.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if resp.Token == "" {
		t.Error("join should hand out a media credential")
	}
	if resp.WsURL != "wss://media.test/rtc" {
		t.Errorf("wsUrl = %q", resp.WsURL)
	}
	if resp.AppointmentInfo == nil || resp.AppointmentInfo.MeetingID != m.ID {
		t.Error("appointment info missing")
	}

	stored, _ := repo.GetByID(context.Background(), m.ID)
	if stored.Status != model.MeetingActive {
		t.Errorf("status after first join = %q, want active", stored.Status)
	}
	if stored.ActiveParticipantCount() != 1 {
		t.Errorf("active participants = %d, want 1", stored.ActiveParticipantCount())
	}
	// The joiner's profile is resolved for the participant row.
	if stored.Participants[0].Name != "Pat" || stored.Participants[0].Role != model.RolePatient {
		t.Errorf("participant = %+v", stored.Participants[0])
	}

	if joined := b.byEvent("participant_joined"); len(joined) != 1 {
		t.Errorf("participant_joined events = %d, want 1", len(joined))
	}
}

func TestJoinEndedMeetingFails(t *testing.T) {
	svc, _, _, _ := newTestMeetings()
	m := create(t, svc, "")
	if _, err := svc.End(context.Background(), "doc-1", m.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := svc.Join(context.Background(), "pat-1", m.ID); err != ErrMeetingEnded {
		t.Errorf("err = %v, want ErrMeetingEnded", err)
	}
}

func TestEndRequiresAuthority(t *testing.T) {
	svc, repo, _, _ := newTestMeetings()
	m := create(t, svc, "")

	if _, err := svc.End(context.Background(), "pat-1", m.ID); err != ErrNotAuthorized {
		t.Errorf("err = %v, want ErrNotAuthorized", err)
	}
	stored, _ := repo.GetByID(context.Background(), m.ID)
	if stored.Status == model.MeetingEnded {
		t.Error("unauthorized end must not change state")
	}
}

func TestEndWhileWaitingRetractsRing(t *testing.T) {
	svc, repo, codes, b := newTestMeetings()
	m := create(t, svc, "pat-1")

	ended, err := svc.End(context.Background(), "doc-1", m.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != model.MeetingEnded || ended.EndedAt == nil {
		t.Errorf("ended meeting = %+v", ended)
	}
	if ok, _ := codes.Exists(context.Background(), m.RoomCode); ok {
		t.Error("room code should be evicted on end")
	}

	cancels := b.byEvent("video_call_cancelled")
	if len(cancels) != 1 || cancels[0].user != "pat-1" {
		t.Fatalf("cancel events = %+v, want one to pat-1", cancels)
	}
	if endedEvents := b.byEvent("meeting_ended"); len(endedEvents) != 1 {
		t.Errorf("meeting_ended events = %d, want 1", len(endedEvents))
	}

	stored, _ := repo.GetByID(context.Background(), m.ID)
	if stored.ActiveParticipantCount() != 0 {
		t.Error("end must stamp every remaining participant out")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	svc, _, _, b := newTestMeetings()
	m := create(t, svc, "")

	if _, err := svc.End(context.Background(), "doc-1", m.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := svc.End(context.Background(), "doc-1", m.ID); err != nil {
		t.Fatalf("second End: %v", err)
	}
	if endedEvents := b.byEvent("meeting_ended"); len(endedEvents) != 1 {
		t.Errorf("meeting_ended events = %d, want 1", len(endedEvents))
	}
}

func TestValidateCode(t *testing.T) {
	svc, _, _, _ := newTestMeetings()
	m := create(t, svc, "")
	ctx := context.Background()

	got, err := svc.ValidateCode(ctx, m.RoomCode)
	if err != nil {
		t.Fatalf("ValidateCode: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("resolved meeting %q, want %q", got.ID, m.ID)
	}

	if _, err := svc.ValidateCode(ctx, "NOPE42"); err != ErrInvalidCode {
		t.Errorf("unknown code: err = %v, want ErrInvalidCode", err)
	}

	if _, err := svc.End(ctx, "doc-1", m.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := svc.ValidateCode(ctx, m.RoomCode); err != ErrInvalidCode && err != ErrMeetingEnded {
		t.Errorf("ended code: err = %v, want rejection", err)
	}
}

func TestJoinByCode(t *testing.T) {
	svc, repo, _, _ := newTestMeetings()
	m := create(t, svc, "")

	resp, err := svc.JoinByCode(context.Background(), "pat-1", m.RoomCode)
	if err != nil {
		t.Fatalf("JoinByCode: %v", err)
	}
	if resp.AppointmentInfo.MeetingID != m.ID {
		t.Errorf("joined %q, want %q", resp.AppointmentInfo.MeetingID, m.ID)
	}
	stored, _ := repo.GetByID(context.Background(), m.ID)
	if stored.Status != model.MeetingActive {
		t.Errorf("status = %q, want active", stored.Status)
	}
}

func TestMeetingsHonorsHospitalScope(t *testing.T) {
	svc, _, _, _ := newTestMeetings()
	create(t, svc, "")
	ctx := context.Background()

	scoped, err := svc.Meetings(ctx, []string{"hosp-a"}, "")
	if err != nil {
		t.Fatalf("Meetings: %v", err)
	}
	if len(scoped) != 1 {
		t.Errorf("hosp-a meetings = %d, want 1", len(scoped))
	}

	foreign, err := svc.Meetings(ctx, []string{"hosp-z"}, "")
	if err != nil {
		t.Fatalf("Meetings: %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("hosp-z meetings = %d, want 0", len(foreign))
	}
}

func TestLeaveStampsDeparture(t *testing.T) {
	svc, repo, _, b := newTestMeetings()
	m := create(t, svc, "pat-1")
	ctx := context.Background()

	if _, err := svc.Join(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := svc.Leave(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	stored, _ := repo.GetByID(ctx, m.ID)
	if stored.ActiveParticipantCount() != 0 {
		t.Errorf("active participants = %d, want 0", stored.ActiveParticipantCount())
	}
	if left := b.byEvent("participant_left"); len(left) != 1 {
		t.Errorf("participant_left events = %d, want 1", len(left))
	}

	// Leaving twice is a no-op.
	if err := svc.Leave(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if left := b.byEvent("participant_left"); len(left) != 1 {
		t.Errorf("participant_left events after repeat = %d, want 1", len(left))
	}
}

func TestAllLeaveEndsMeetingAfterGrace(t *testing.T) {
	svc, repo, codes, b := newTestMeetings()
	svc.grace = time.Millisecond
	m := create(t, svc, "pat-1")
	ctx := context.Background()

	if _, err := svc.Join(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := svc.Leave(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := repo.GetByID(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status == model.MeetingEnded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("meeting status = %q, want %q after grace expired", stored.Status, model.MeetingEnded)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ended := b.byEvent("meeting_ended"); len(ended) != 1 {
		t.Errorf("meeting_ended events = %d, want 1", len(ended))
	}
	if ok, _ := codes.Exists(ctx, m.RoomCode); ok {
		t.Errorf("room code %q still resolvable after abandoned end", m.RoomCode)
	}
}

func TestRejoinCancelsAbandonedGrace(t *testing.T) {
	svc, repo, _, b := newTestMeetings()
	svc.grace = 50 * time.Millisecond
	m := create(t, svc, "pat-1")
	ctx := context.Background()

	if _, err := svc.Join(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := svc.Leave(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := svc.Join(ctx, "pat-1", m.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	stored, _ := repo.GetByID(ctx, m.ID)
	if stored.Status != model.MeetingActive {
		t.Errorf("meeting status = %q, want %q after rejoin within grace", stored.Status, model.MeetingActive)
	}
	if ended := b.byEvent("meeting_ended"); len(ended) != 0 {
		t.Errorf("meeting_ended events = %d, want 0", len(ended))
	}
}
