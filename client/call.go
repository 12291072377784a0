package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ringTimeout is how long an unanswered ring lives before auto-reject.
const ringTimeout = 60 * time.Second

// ErrNoPendingCall is returned by Accept/Reject when nothing is ringing.
var ErrNoPendingCall = errors.New("no ringing call")

// ErrCallCancelled is returned when the caller cancelled while the accept
// round trip was in flight.
var ErrCallCancelled = errors.New("call cancelled")

// CallState is the signaling state of the single call slot per client.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallConnected
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	default:
		return "idle"
	}
}

// IncomingCall is the pending ring. At most one instance exists per client.
type IncomingCall struct {
	RoomID     string
	RoomCode   string
	CallerID   string
	CallerRole string
	StartedAt  time.Time
}

// Alerter is the singleton audio-alert resource. Only the call state machine
// acquires and releases it, and it is never left running across a transition
// into CallIdle. Stop must be safe to call when the alert is not running.
type Alerter interface {
	Start()
	Stop()
}

type nopAlerter struct{}

func (nopAlerter) Start() {}
func (nopAlerter) Stop()  {}

// Calls is the incoming-call signaling state machine:
// Idle -> Ringing -> {Connected | Idle}.
type Calls struct {
	c      *Client
	rooms  *RoomAPI
	alert  Alerter
	timers TimerFactory
	log    zerolog.Logger

	mu        sync.Mutex
	state     CallState
	current   *IncomingCall
	ringTimer Timer
	accepting bool // join request in flight; current must not be replaced
}

// NewCalls wires the call state machine onto the client's event channel.
// alert may be nil.
func NewCalls(c *Client, rooms *RoomAPI, alert Alerter) *Calls {
	if alert == nil {
		alert = nopAlerter{}
	}
	s := &Calls{
		c:      c,
		rooms:  rooms,
		alert:  alert,
		timers: c.timers,
		log:    c.log,
	}
	c.Subscribe(EvIncomingVideoCall, s.onIncoming)
	c.Subscribe(EvVideoCallCancelled, s.onCancelled)
	c.OnDisconnect(s.invalidate)
	return s
}

// State returns the current signaling state.
func (s *Calls) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a copy of the pending or active call, or nil.
func (s *Calls) Current() *IncomingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

func (s *Calls) onIncoming(data json.RawMessage) error {
	var pl IncomingCallPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return err
	}
	if pl.RoomID == "" {
		return errors.New("incoming_video_call without roomId")
	}

	var rejectRoomID string
	s.mu.Lock()
	if s.current != nil && s.current.RoomID == pl.RoomID && s.state != CallIdle {
		// Network re-delivery of the ring already in hand: nothing may
		// change, and the still-pending caller must not be rejected.
		s.mu.Unlock()
		return nil
	}
	if s.state == CallConnected || s.accepting {
		// Busy on an active call or mid-accept: the new caller is
		// rejected, the current call stays.
		s.mu.Unlock()
		s.c.Emit(EvVideoCallRejected, CallAnswerPayload{RoomID: pl.RoomID})
		return nil
	}
	if s.state == CallRinging {
		// Reject-and-replace: the superseded caller gets an explicit
		// rejection before the new ring is installed.
		rejectRoomID = s.current.RoomID
		s.stopRingingLocked()
	}

	s.current = &IncomingCall{
		RoomID:     pl.RoomID,
		RoomCode:   pl.RoomCode,
		CallerID:   pl.CallerID,
		CallerRole: pl.CallerRole,
		StartedAt:  pl.StartedAt,
	}
	s.state = CallRinging
	s.alert.Start()
	roomID := pl.RoomID
	s.ringTimer = s.timers(ringTimeout, func() { s.timeout(roomID) })
	s.mu.Unlock()

	if rejectRoomID != "" {
		s.c.Emit(EvVideoCallRejected, CallAnswerPayload{RoomID: rejectRoomID})
	}
	return nil
}

// Accept answers the pending ring: the alert and timer are released first,
// then a join credential is requested from the room service. A service
// failure returns the machine to Idle and surfaces a recoverable error.
func (s *Calls) Accept(ctx context.Context) (*RoomJoin, error) {
	if !s.c.IsConnected() {
		return nil, ErrNotConnected
	}
	s.mu.Lock()
	if s.state != CallRinging || s.current == nil {
		s.mu.Unlock()
		return nil, ErrNoPendingCall
	}
	roomID := s.current.RoomID
	s.accepting = true
	s.stopRingingLocked()
	s.mu.Unlock()

	join, err := s.rooms.Join(ctx, roomID)

	s.mu.Lock()
	s.accepting = false
	if s.state != CallRinging || s.current == nil || s.current.RoomID != roomID {
		// Cancelled by the caller while the request was in flight.
		s.mu.Unlock()
		return nil, ErrCallCancelled
	}
	if err != nil {
		s.current = nil
		s.state = CallIdle
		s.mu.Unlock()
		return nil, err
	}
	s.state = CallConnected
	s.mu.Unlock()

	s.c.Emit(EvVideoCallAccepted, CallAnswerPayload{RoomID: roomID})
	return join, nil
}

// Reject declines the pending ring and notifies the caller.
func (s *Calls) Reject() error {
	if !s.c.IsConnected() {
		return ErrNotConnected
	}
	s.mu.Lock()
	if s.state != CallRinging || s.current == nil {
		s.mu.Unlock()
		return ErrNoPendingCall
	}
	roomID := s.current.RoomID
	s.stopRingingLocked()
	s.current = nil
	s.state = CallIdle
	s.mu.Unlock()

	s.c.Emit(EvVideoCallRejected, CallAnswerPayload{RoomID: roomID})
	return nil
}

// HangUp leaves an accepted call, returning the machine to Idle. Ending the
// room itself goes through the room service.
func (s *Calls) HangUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CallConnected {
		return
	}
	s.current = nil
	s.state = CallIdle
}

func (s *Calls) onCancelled(data json.RawMessage) error {
	var pl CallCancelledPayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CallRinging || s.current == nil || s.current.RoomID != pl.RoomID {
		return nil
	}
	// The caller already knows; no outbound notification.
	s.stopRingingLocked()
	s.current = nil
	s.state = CallIdle
	return nil
}

// timeout fires after 60s of no local action and behaves as a local reject.
func (s *Calls) timeout(roomID string) {
	s.mu.Lock()
	if s.state != CallRinging || s.current == nil || s.current.RoomID != roomID {
		s.mu.Unlock()
		return
	}
	s.stopRingingLocked()
	s.current = nil
	s.state = CallIdle
	s.mu.Unlock()

	s.log.Info().Str("roomId", roomID).Msg("incoming call timed out")
	s.c.Emit(EvVideoCallRejected, CallAnswerPayload{RoomID: roomID})
}

// invalidate drops any Ringing/Connected state when the connection is lost.
// Call state must be re-queried from the room service after reconnect.
func (s *Calls) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == CallIdle {
		return
	}
	s.stopRingingLocked()
	s.current = nil
	s.state = CallIdle
}

// stopRingingLocked releases the alert and cancels the ring timer. Callers
// hold s.mu.
func (s *Calls) stopRingingLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.state == CallRinging {
		s.alert.Stop()
	}
}
