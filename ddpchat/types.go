package ddpchat

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	methodLogin       = "login"
	methodRoomsGet    = "rooms/get"
	methodOpenRoom    = "openRoom"
	methodLoadHistory = "loadHistory"

	streamRoomMessages = "stream-room-messages"
)

// Room is one entry of the room directory. Raw keeps every attribute the
// server sent.
type Room struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Message is one chat message.
type Message struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	AuthorName string          `json:"author_name"`
	Timestamp  time.Time       `json:"timestamp"`
	Body       string          `json:"body"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Snapshot is the externally visible engine state. A published Snapshot is
// never mutated; treat it as read-only.
type Snapshot struct {
	Version  uint64               `json:"version"`
	Rooms    []Room               `json:"rooms"`
	Messages map[string][]Message `json:"messages"`

	// FromCache marks a snapshot loaded from a SnapshotStore before the
	// session produced its own state.
	FromCache bool `json:"-"`
}

// Room returns the room with the given id.
func (s *Snapshot) Room(id string) (Room, bool) {
	if s == nil {
		return Room{}, false
	}
	for _, r := range s.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return Room{}, false
}

// parseRooms accepts either {"update": [...]} or a bare array.
func parseRooms(result json.RawMessage) []Room {
	root := gjson.ParseBytes(result)
	list := root
	if root.IsObject() {
		list = root.Get("update")
	}
	var rooms []Room
	list.ForEach(func(_, item gjson.Result) bool {
		rooms = append(rooms, Room{
			ID:   item.Get("_id").String(),
			Name: roomName(item),
			Raw:  json.RawMessage(item.Raw),
		})
		return true
	})
	if rooms == nil {
		rooms = []Room{}
	}
	return rooms
}

func roomName(item gjson.Result) string {
	if name := item.Get("name"); name.Exists() {
		return name.String()
	}
	// Direct rooms carry no name; fall back to the display name.
	return item.Get("fname").String()
}

// parseHistory extracts result.messages from a loadHistory reply.
func parseHistory(roomID string, result json.RawMessage) []Message {
	root := gjson.ParseBytes(result)
	list := root
	if root.IsObject() {
		list = root.Get("messages")
	}
	msgs := []Message{}
	index := 0
	list.ForEach(func(_, item gjson.Result) bool {
		msgs = append(msgs, parseMessage(roomID, item, index))
		index++
		return true
	})
	return msgs
}

func parseMessage(roomID string, item gjson.Result, index int) Message {
	id := item.Get("_id").String()
	if id == "" {
		id = strconv.Itoa(index)
	}
	return Message{
		ID:         id,
		RoomID:     roomID,
		AuthorName: item.Get("u.name").String(),
		Timestamp:  parseTimestamp(item.Get("ts")),
		Body:       item.Get("msg").String(),
		Raw:        json.RawMessage(item.Raw),
	}
}

// parseTimestamp understands {"$date": millis}, {"$date": "<rfc3339>"} and
// a bare RFC 3339 string.
func parseTimestamp(ts gjson.Result) time.Time {
	if d := ts.Get("$date"); d.Exists() {
		ts = d
	}
	switch ts.Type {
	case gjson.Number:
		return time.UnixMilli(ts.Int()).UTC()
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
