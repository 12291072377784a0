package service

// Broadcaster pushes realtime events to connected sockets (avoids import
// cycle with the ws package, which is wired in after construction).
type Broadcaster interface {
	// SendToUser delivers an event to every live connection of one user.
	SendToUser(userID string, event string, payload interface{})
	// SendToHospitals delivers an event to every online user whose hospital
	// assignment intersects the given set; an empty set means everyone.
	SendToHospitals(hospitalIDs []string, event string, payload interface{})
	// SendToConversation delivers an event to every online participant.
	SendToConversation(userIDs []string, event string, payload interface{})
}

// nopBroadcaster is used until the hub is attached.
type nopBroadcaster struct{}

func (nopBroadcaster) SendToUser(string, string, interface{})         {}
func (nopBroadcaster) SendToHospitals([]string, string, interface{})  {}
func (nopBroadcaster) SendToConversation([]string, string, interface{}) {}
