package ddpchat

// MessageStore keeps the newest-first message list per room.
//
// Stored slices are copy-on-write: every mutation builds a new slice, so a
// slice handed to a snapshot never changes underneath its reader.
type MessageStore struct {
	rooms map[string][]Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{rooms: make(map[string][]Message)}
}

// ReplaceHistory sets the room's sequence, discarding whatever was there.
func (s *MessageStore) ReplaceHistory(roomID string, msgs []Message) {
	next := make([]Message, len(msgs))
	copy(next, msgs)
	s.rooms[roomID] = next
}

// Prepend inserts msg at the front of the room's sequence. The room must
// have been established by ReplaceHistory first.
func (s *MessageStore) Prepend(roomID string, msg Message) error {
	current, ok := s.rooms[roomID]
	if !ok {
		return NewError(ErrorUnknownRoom, "no history loaded for room "+roomID)
	}
	next := make([]Message, 0, len(current)+1)
	next = append(next, msg)
	next = append(next, current...)
	s.rooms[roomID] = next
	return nil
}

// Messages returns the room's sequence and whether the room is known.
func (s *MessageStore) Messages(roomID string) ([]Message, bool) {
	msgs, ok := s.rooms[roomID]
	return msgs, ok
}

// Snapshot returns a new map sharing the immutable per-room slices.
func (s *MessageStore) Snapshot() map[string][]Message {
	out := make(map[string][]Message, len(s.rooms))
	for id, msgs := range s.rooms {
		out[id] = msgs
	}
	return out
}
