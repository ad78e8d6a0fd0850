package ddpchat

import (
	"errors"
	"testing"
)

func TestMessageStoreReplaceAndPrepend(t *testing.T) {
	s := NewMessageStore()
	if err := s.Prepend("r1", Message{ID: "x"}); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom before history, got %v", err)
	}

	input := []Message{{ID: "b"}, {ID: "a"}}
	s.ReplaceHistory("r1", input)
	input[0].ID = "mutated"

	if err := s.Prepend("r1", Message{ID: "c"}); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	msgs, ok := s.Messages("r1")
	if !ok || len(msgs) != 3 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	for i, want := range []string{"c", "b", "a"} {
		if msgs[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, msgs[i].ID, want)
		}
	}
}

func TestMessageStoreReplaceDiscards(t *testing.T) {
	s := NewMessageStore()
	s.ReplaceHistory("r1", []Message{{ID: "old"}})
	s.ReplaceHistory("r1", []Message{})
	msgs, ok := s.Messages("r1")
	if !ok || len(msgs) != 0 {
		t.Fatalf("expected empty known room, got %v %v", msgs, ok)
	}
}

func TestMessageStoreSnapshotIsStable(t *testing.T) {
	s := NewMessageStore()
	s.ReplaceHistory("r1", []Message{{ID: "a"}})
	snap := s.Snapshot()

	_ = s.Prepend("r1", Message{ID: "b"})
	s.ReplaceHistory("r2", []Message{{ID: "z"}})

	if len(snap["r1"]) != 1 || snap["r1"][0].ID != "a" {
		t.Fatalf("snapshot changed: %+v", snap["r1"])
	}
	if _, ok := snap["r2"]; ok {
		t.Fatalf("snapshot gained a room")
	}
}

func TestRoomDirectory(t *testing.T) {
	d := NewRoomDirectory()
	if d.Len() != 0 || d.List() == nil {
		t.Fatalf("new directory should be empty and non-nil")
	}
	d.ReplaceAll([]Room{{ID: "r1"}, {ID: "r2"}})
	before := d.List()
	d.ReplaceAll([]Room{{ID: "r3"}})

	if d.Contains("r1") || !d.Contains("r3") || d.Len() != 1 {
		t.Fatalf("unexpected directory: %+v", d.List())
	}
	if len(before) != 2 {
		t.Fatalf("earlier list changed: %+v", before)
	}
}

func TestParseRoomsShapes(t *testing.T) {
	wrapped := parseRooms([]byte(`{"update":[{"_id":"r1","name":"general","t":"c"}],"remove":[]}`))
	if len(wrapped) != 1 || wrapped[0].ID != "r1" || wrapped[0].Name != "general" {
		t.Fatalf("unexpected rooms: %+v", wrapped)
	}
	if string(wrapped[0].Raw) != `{"_id":"r1","name":"general","t":"c"}` {
		t.Fatalf("raw attributes lost: %s", wrapped[0].Raw)
	}
	bare := parseRooms([]byte(`[{"_id":"r2","name":"random"}]`))
	if len(bare) != 1 || bare[0].ID != "r2" {
		t.Fatalf("unexpected rooms: %+v", bare)
	}
	if empty := parseRooms([]byte(`null`)); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestParseHistoryFields(t *testing.T) {
	msgs := parseHistory("r1", []byte(`{"messages":[`+
		`{"_id":"m1","msg":"hello","u":{"_id":"u1","name":"alice"},"ts":{"$date":1700000000000}},`+
		`{"msg":"no id","u":{"name":"bob"},"ts":"2024-01-02T03:04:05Z"}]}`))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].AuthorName != "alice" || msgs[0].Body != "hello" || msgs[0].RoomID != "r1" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].Timestamp.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected timestamp: %v", msgs[0].Timestamp)
	}
	if msgs[1].ID != "1" {
		t.Fatalf("expected index fallback id, got %q", msgs[1].ID)
	}
	if msgs[1].Timestamp.Year() != 2024 {
		t.Fatalf("unexpected timestamp: %v", msgs[1].Timestamp)
	}
}
