package model

import (
	"testing"
	"time"
)

func TestVisibleTo(t *testing.T) {
	m := &Meeting{HospitalIDs: []string{"hosp-a", "hosp-b"}}

	cases := []struct {
		name   string
		viewer []string
		want   bool
	}{
		{"unscoped viewer sees everything", nil, true},
		{"matching hospital", []string{"hosp-b"}, true},
		{"disjoint hospital", []string{"hosp-z"}, false},
		{"one of several matches", []string{"hosp-z", "hosp-a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.VisibleTo(tc.viewer); got != tc.want {
				t.Errorf("VisibleTo(%v) = %v, want %v", tc.viewer, got, tc.want)
			}
		})
	}

	unscoped := &Meeting{}
	if !unscoped.VisibleTo([]string{"hosp-a"}) {
		t.Error("meeting without hospital scope should be visible to everyone")
	}
}

func TestActiveParticipantCount(t *testing.T) {
	left := time.Now()
	m := &Meeting{Participants: []MeetingParticipant{
		{UserID: "a"},
		{UserID: "b", LeftAt: &left},
		{UserID: "c"},
	}}
	if got := m.ActiveParticipantCount(); got != 2 {
		t.Errorf("ActiveParticipantCount() = %d, want 2", got)
	}
}

func TestCanBeEndedBy(t *testing.T) {
	m := &Meeting{CreatedBy: "creator", Organizer: "organizer"}

	if !m.CanBeEndedBy("creator") {
		t.Error("creator should be allowed to end")
	}
	if !m.CanBeEndedBy("organizer") {
		t.Error("organizer should be allowed to end")
	}
	if m.CanBeEndedBy("bystander") {
		t.Error("bystander should not be allowed to end")
	}
	if m.CanBeEndedBy("") {
		t.Error("empty user should never be allowed to end")
	}
}

func TestHasParticipant(t *testing.T) {
	c := &Conversation{Participants: []Participant{
		{UserID: "u1"}, {UserID: "u2"},
	}}
	if !c.HasParticipant("u2") {
		t.Error("u2 should be a participant")
	}
	if c.HasParticipant("u3") {
		t.Error("u3 should not be a participant")
	}
}
