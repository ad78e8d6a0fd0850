// Package ddp defines the DDP wire envelope and its JSON codec.
package ddp

import "encoding/json"

// Kind is the value of the "msg" field.
type Kind string

const (
	KindConnect   Kind = "connect"
	KindConnected Kind = "connected"
	KindFailed    Kind = "failed"
	KindMethod    Kind = "method"
	KindResult    Kind = "result"
	KindUpdated   Kind = "updated"
	KindPing      Kind = "ping"
	KindPong      Kind = "pong"
	KindSub       Kind = "sub"
	KindReady     Kind = "ready"
	KindNoSub     Kind = "nosub"
	KindChanged   Kind = "changed"
	KindAdded     Kind = "added"
	KindRemoved   Kind = "removed"
	KindError     Kind = "error"

	// KindServerID is assigned to the {"server_id": "..."} greeting,
	// which carries no msg field.
	KindServerID Kind = "server_id"
)

// Message is the envelope for every frame in both directions.
// Only the fields relevant to Msg are populated.
type Message struct {
	Msg Kind `json:"msg"`

	// connect / connected / failed
	Version string   `json:"version,omitempty"`
	Support []string `json:"support,omitempty"`
	Session string   `json:"session,omitempty"`

	// method / result / sub / nosub / ping / pong
	ID     string `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Name   string `json:"name,omitempty"`
	Params []any  `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	// updated / ready
	Methods []string `json:"methods,omitempty"`
	Subs    []string `json:"subs,omitempty"`

	// changed / added / removed
	Collection string  `json:"collection,omitempty"`
	Fields     *Fields `json:"fields,omitempty"`

	// error
	Reason           string          `json:"reason,omitempty"`
	OffendingMessage json.RawMessage `json:"offendingMessage,omitempty"`

	ServerID string `json:"server_id,omitempty"`
}

// Fields is the payload of a stream delta.
type Fields struct {
	EventName string            `json:"eventName"`
	Args      []json.RawMessage `json:"args"`
}

// Error is the error object attached to result and nosub frames.
// Code is kept raw because servers send it as a number or a string.
type Error struct {
	Code      json.RawMessage `json:"error,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	code := string(e.Code)
	var s string
	if err := json.Unmarshal(e.Code, &s); err == nil {
		code = s
	}
	switch {
	case e.Message != "":
		return e.Message
	case e.Reason != "" && code != "":
		return code + ": " + e.Reason
	case e.Reason != "":
		return e.Reason
	default:
		return code
	}
}

// Date is the EJSON date literal {"$date": millis}.
type Date struct {
	Millis int64 `json:"$date"`
}

// NewConnect builds the protocol handshake. versions are ordered most
// preferred first; the first one is proposed.
func NewConnect(versions []string) Message {
	m := Message{Msg: KindConnect, Support: versions}
	if len(versions) > 0 {
		m.Version = versions[0]
	}
	return m
}

// NewMethod builds an RPC call.
func NewMethod(id, method string, params ...any) Message {
	if params == nil {
		params = []any{}
	}
	return Message{Msg: KindMethod, ID: id, Method: method, Params: params}
}

// NewSub builds a subscription request.
func NewSub(id, name string, params ...any) Message {
	if params == nil {
		params = []any{}
	}
	return Message{Msg: KindSub, ID: id, Name: name, Params: params}
}

// NewPong answers a ping, echoing its id when one was sent.
func NewPong(id string) Message {
	return Message{Msg: KindPong, ID: id}
}
