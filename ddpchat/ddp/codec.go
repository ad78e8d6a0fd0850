package ddp

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeError reports a frame that could not be turned into a Message.
type DecodeError struct {
	Frame  []byte
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes m into a text frame.
func Encode(m Message) ([]byte, error) {
	if m.Msg == "" {
		return nil, fmt.Errorf("encode frame: empty msg")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses a text frame. Every failure is returned as *DecodeError.
func Decode(frame []byte) (Message, error) {
	if !gjson.ValidBytes(frame) {
		return Message{}, &DecodeError{Frame: frame, Reason: "malformed json"}
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Message{}, &DecodeError{Frame: frame, Reason: "frame is not an object"}
	}

	kind := Kind(root.Get("msg").String())
	if kind == "" {
		if root.Get("server_id").Exists() {
			return Message{Msg: KindServerID, ServerID: root.Get("server_id").String()}, nil
		}
		return Message{}, &DecodeError{Frame: frame, Reason: "missing msg"}
	}
	if !knownKind(kind) {
		return Message{}, &DecodeError{Frame: frame, Reason: fmt.Sprintf("unknown msg %q", kind)}
	}

	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, &DecodeError{Frame: frame, Reason: "invalid " + string(kind) + " fields", Err: err}
	}
	if field := missingField(m); field != "" {
		return Message{}, &DecodeError{Frame: frame, Reason: fmt.Sprintf("%s without %s", kind, field)}
	}
	return m, nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindConnect, KindConnected, KindFailed, KindMethod, KindResult,
		KindUpdated, KindPing, KindPong, KindSub, KindReady, KindNoSub,
		KindChanged, KindAdded, KindRemoved, KindError:
		return true
	}
	return false
}

func missingField(m Message) string {
	switch m.Msg {
	case KindResult, KindNoSub:
		if m.ID == "" {
			return "id"
		}
	case KindMethod:
		if m.Method == "" {
			return "method"
		}
		if m.ID == "" {
			return "id"
		}
	case KindSub:
		if m.ID == "" {
			return "id"
		}
		if m.Name == "" {
			return "name"
		}
	case KindUpdated:
		if m.Methods == nil {
			return "methods"
		}
	case KindReady:
		if m.Subs == nil {
			return "subs"
		}
	case KindChanged:
		if m.Collection == "" {
			return "collection"
		}
	}
	return ""
}
