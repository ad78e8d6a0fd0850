package ddpchat

// ConnectionState represents where the session is in its lifecycle.
type ConnectionState int

const (
	// StateDisconnected means Start has not been called yet.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the transport is dialing.
	StateConnecting

	// StateAwaitingHandshakeAck means the bootstrap requests were sent and
	// the server has not acknowledged the protocol handshake yet.
	StateAwaitingHandshakeAck

	// StateAwaitingLoginResult means the handshake was acknowledged and the
	// room directory has not arrived yet.
	StateAwaitingLoginResult

	// StateReady means the room directory arrived; room commands are allowed.
	StateReady

	// StateClosed means the transport closed. Start runs a fresh bootstrap.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHandshakeAck:
		return "awaiting_handshake_ack"
	case StateAwaitingLoginResult:
		return "awaiting_login_result"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transportOpen reports whether frames may be sent in this state.
func (s ConnectionState) transportOpen() bool {
	return s == StateAwaitingHandshakeAck || s == StateAwaitingLoginResult || s == StateReady
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
}

// SubscriptionState is the progress of one opened room.
type SubscriptionState int

const (
	SubNotOpened SubscriptionState = iota
	SubOpening
	SubOpened
	SubHistoryLoading
	SubHistoryLoaded
	SubSubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubNotOpened:
		return "not_opened"
	case SubOpening:
		return "opening"
	case SubOpened:
		return "opened"
	case SubHistoryLoading:
		return "history_loading"
	case SubHistoryLoaded:
		return "history_loaded"
	case SubSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}
