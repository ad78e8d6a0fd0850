package ddpchat

// MessageEvent is emitted for every live message delivered by a room
// subscription, after it was prepended to the store.
type MessageEvent struct {
	RoomID  string
	Message Message
}

// RoomError reports a failed step of opening a room. The room's
// subscription stays at the step before Op until OpenRoom is called again.
type RoomError struct {
	RoomID string
	Op     OperationKind
	Err    error
}

func (e RoomError) Error() string {
	return "room " + e.RoomID + ": " + e.Op.String() + ": " + e.Err.Error()
}

func (e RoomError) Unwrap() error { return e.Err }

// RoomStatus describes how far a room got through opening.
type RoomStatus struct {
	RoomID string
	State  SubscriptionState
	// Live is set once the server confirmed the message stream.
	Live bool
	// Stalled is set after a failed step; Err holds the failure.
	Stalled bool
	Err     *RoomError
}
