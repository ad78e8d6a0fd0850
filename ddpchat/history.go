package ddpchat

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/ddp"
)

// roomHost is what the history manager needs from the session.
type roomHost interface {
	request(kind OperationKind, id, roomID, method string, params ...any) (*PendingOperation, error)
	subscribe(id, roomID, name string, params ...any) (*PendingOperation, error)
	uniqueID(base string) string
	publishSnapshot()
	roomFailed(RoomError)
	liveMessage(MessageEvent)
}

// subscription tracks one opened room.
type subscription struct {
	roomID         string
	openID         string
	opened         bool
	historyPending int
	historyLoaded  bool
	subID          string
	ready          bool
	failed         *RoomError
}

func (s *subscription) state() SubscriptionState {
	switch {
	case s.subID != "" && s.historyLoaded:
		return SubSubscribed
	case s.historyLoaded:
		return SubHistoryLoaded
	case s.historyPending > 0 && s.failed == nil:
		return SubHistoryLoading
	case s.opened:
		return SubOpened
	case s.openID != "":
		return SubOpening
	}
	return SubNotOpened
}

// historyManager runs the open → load history → subscribe flow per room.
type historyManager struct {
	host  roomHost
	store *MessageStore
	limit int

	rooms  map[string]*subscription
	opens  map[string]string // openRoom correlation id -> room
	active map[string]string // subscription id -> room
}

func newHistoryManager(host roomHost, store *MessageStore, limit int) *historyManager {
	h := &historyManager{host: host, store: store, limit: limit}
	h.reset()
	return h
}

func (h *historyManager) reset() {
	h.rooms = make(map[string]*subscription)
	h.opens = make(map[string]string)
	h.active = make(map[string]string)
}

func (h *historyManager) status(roomID string) RoomStatus {
	sub, ok := h.rooms[roomID]
	if !ok {
		return RoomStatus{RoomID: roomID, State: SubNotOpened}
	}
	st := RoomStatus{RoomID: roomID, State: sub.state(), Live: sub.ready}
	if sub.failed != nil {
		st.Stalled = true
		st.Err = sub.failed
	}
	return st
}

// open starts the flow for roomID. A room already in flight is left alone
// unless a previous step failed, in which case the flow restarts.
func (h *historyManager) open(roomID string) error {
	sub := &subscription{roomID: roomID}
	if prev, ok := h.rooms[roomID]; ok {
		if prev.failed == nil {
			return nil
		}
		// A live stream survives a failed reload.
		sub.subID, sub.ready = prev.subID, prev.ready
	}
	h.rooms[roomID] = sub

	id := h.host.uniqueID("room_" + roomID)
	if _, err := h.host.request(OpOpenRoom, id, roomID, methodOpenRoom, roomID); err != nil {
		sub.failed = &RoomError{RoomID: roomID, Op: OpOpenRoom, Err: err}
		return err
	}
	sub.openID = id
	h.opens[id] = roomID
	if err := h.loadHistory(sub); err != nil {
		sub.failed = &RoomError{RoomID: roomID, Op: OpHistoryFetch, Err: err}
		return err
	}
	return nil
}

func (h *historyManager) loadHistory(sub *subscription) error {
	id := h.host.uniqueID("messages_" + sub.roomID)
	_, err := h.host.request(OpHistoryFetch, id, sub.roomID, methodLoadHistory,
		sub.roomID, nil, h.limit, ddp.Date{})
	if err != nil {
		return err
	}
	sub.historyPending++
	return nil
}

// handleUpdated reacts to the server confirming an openRoom call by asking
// for the room's history once more.
func (h *historyManager) handleUpdated(methodID string) {
	roomID, ok := h.opens[methodID]
	if !ok {
		return
	}
	delete(h.opens, methodID)
	sub, ok := h.rooms[roomID]
	if !ok || sub.failed != nil {
		return
	}
	sub.opened = true
	if err := h.loadHistory(sub); err != nil {
		h.fail(sub, OpHistoryFetch, err)
	}
}

func (h *historyManager) handleResult(op *PendingOperation, result json.RawMessage, err error) {
	sub, ok := h.rooms[op.RoomID]
	if !ok {
		return
	}
	switch op.Kind {
	case OpOpenRoom:
		if err != nil {
			delete(h.opens, op.ID)
			h.fail(sub, OpOpenRoom, err)
			return
		}
		if sub.failed == nil {
			sub.opened = true
		}
	case OpHistoryFetch:
		if sub.historyPending > 0 {
			sub.historyPending--
		}
		if sub.failed != nil {
			return
		}
		if err != nil {
			h.fail(sub, OpHistoryFetch, err)
			return
		}
		h.store.ReplaceHistory(sub.roomID, parseHistory(sub.roomID, result))
		sub.historyLoaded = true
		h.host.publishSnapshot()
		if sub.subID == "" {
			h.subscribe(sub)
		}
	}
}

func (h *historyManager) subscribe(sub *subscription) {
	id := uuid.NewString()
	_, err := h.host.subscribe(id, sub.roomID, streamRoomMessages,
		sub.roomID, map[string]any{"useCollection": false, "args": []any{}})
	if err != nil {
		h.fail(sub, OpSubscribe, err)
		return
	}
	sub.subID = id
	h.active[id] = sub.roomID
}

func (h *historyManager) handleSubReady(op *PendingOperation, err error) {
	sub, ok := h.rooms[op.RoomID]
	if !ok || sub.subID != op.ID {
		return
	}
	if err != nil {
		delete(h.active, op.ID)
		sub.subID = ""
		h.fail(sub, OpSubscribe, err)
		return
	}
	sub.ready = true
}

// handleSubEnded handles a nosub for an established subscription. It
// reports whether id belonged to one.
func (h *historyManager) handleSubEnded(id string, err error) bool {
	roomID, ok := h.active[id]
	if !ok {
		return false
	}
	delete(h.active, id)
	sub, ok := h.rooms[roomID]
	if !ok {
		return true
	}
	sub.subID = ""
	sub.ready = false
	if err == nil {
		err = NewError(ErrorProtocol, "subscription stopped by server")
	}
	h.fail(sub, OpSubscribe, err)
	return true
}

// handleChanged prepends a live message to its room.
func (h *historyManager) handleChanged(msg ddp.Message) {
	if msg.Fields == nil || len(msg.Fields.Args) == 0 {
		h.host.roomFailed(RoomError{
			Op:  OpSubscribe,
			Err: NewError(ErrorProtocol, "change without message payload"),
		})
		return
	}
	roomID := msg.Fields.EventName
	m := parseMessage(roomID, gjson.ParseBytes(msg.Fields.Args[0]), 0)
	if err := h.store.Prepend(roomID, m); err != nil {
		h.host.roomFailed(RoomError{RoomID: roomID, Op: OpSubscribe, Err: err})
		return
	}
	h.host.publishSnapshot()
	h.host.liveMessage(MessageEvent{RoomID: roomID, Message: m})
}

func (h *historyManager) fail(sub *subscription, op OperationKind, err error) {
	e := RoomError{RoomID: sub.roomID, Op: op, Err: err}
	sub.failed = &e
	h.host.roomFailed(e)
}
