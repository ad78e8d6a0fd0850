package ddpchat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/ddp"
)

// Sender delivers encoded frames to the server.
type Sender interface {
	Send(frame []byte) error
}

// session is the protocol state machine. It is driven by exactly one
// goroutine and holds no locks.
type session struct {
	credential   string
	versions     []string
	historyLimit int

	sender Sender
	closer func()

	state    ConnectionState
	registry *Registry
	rooms    *RoomDirectory
	messages *MessageStore
	history  *historyManager
	version  uint64

	dispatch *Dispatcher
	logger   Logger
	metrics  *Metrics
	tracer   trace.Tracer
	publish  func(*Snapshot)
	observe  func(ConnectionState)
	now      func() time.Time
}

func newSession(cfg Config, dispatch *Dispatcher) *session {
	s := &session{
		credential:   cfg.Token,
		versions:     cfg.ProtocolVersions,
		historyLimit: cfg.HistoryLimit,
		state:        StateDisconnected,
		registry:     NewRegistry(),
		rooms:        NewRoomDirectory(),
		messages:     NewMessageStore(),
		dispatch:     dispatch,
		logger:       noopLogger{},
		now:          time.Now,
	}
	s.history = newHistoryManager(s, s.messages, cfg.HistoryLimit)
	return s
}

func (s *session) begin() {
	s.setState(StateConnecting, nil)
}

// handleOpen sends the bootstrap requests in their required order.
func (s *session) handleOpen() error {
	if err := s.send(ddp.NewConnect(s.versions)); err != nil {
		return err
	}
	if _, err := s.request(OpLogin, s.uniqueID("login"), "", methodLogin,
		map[string]any{"resume": s.credential}); err != nil {
		return err
	}
	if _, err := s.requestRooms(); err != nil {
		return err
	}
	s.setState(StateAwaitingHandshakeAck, nil)
	return nil
}

func (s *session) handleFrame(frame []byte) {
	msg, err := ddp.Decode(frame)
	if err != nil {
		s.metrics.decodeError()
		s.logger.Warn("skipping undecodable frame", map[string]any{"error": err.Error()})
		s.dispatch.fireError(WrapError(ErrorDecode, "skipping frame", err))
		return
	}
	s.metrics.frameReceived(string(msg.Msg))

	switch msg.Msg {
	case ddp.KindPing:
		if err := s.send(ddp.NewPong(msg.ID)); err != nil {
			s.logger.Warn("pong failed", map[string]any{"error": err.Error()})
			return
		}
		s.metrics.pongSent()
	case ddp.KindConnected:
		s.logger.Debug("handshake acknowledged", map[string]any{"session": msg.Session})
		if s.state == StateAwaitingHandshakeAck {
			s.setState(StateAwaitingLoginResult, nil)
		}
	case ddp.KindFailed:
		err := NewError(ErrorProtocol, "server refused protocol version, suggested "+msg.Version)
		s.logger.Error("handshake failed", map[string]any{"version": msg.Version})
		s.dispatch.fireError(err)
		if s.closer != nil {
			s.closer()
		}
	case ddp.KindResult:
		s.handleResult(msg)
	case ddp.KindUpdated:
		for _, id := range msg.Methods {
			s.history.handleUpdated(id)
		}
	case ddp.KindReady:
		for _, id := range msg.Subs {
			s.handleSubscription(id, true, nil)
		}
	case ddp.KindNoSub:
		var err error
		if msg.Error != nil {
			err = FromServerError(msg.Error)
		}
		s.handleSubscription(msg.ID, false, err)
	case ddp.KindChanged:
		if msg.Collection != streamRoomMessages {
			s.logger.Debug("ignoring change", map[string]any{"collection": msg.Collection})
			return
		}
		s.history.handleChanged(msg)
	case ddp.KindError:
		err := NewError(ErrorProtocol, "server rejected a frame: "+msg.Reason)
		s.logger.Warn("server reported protocol error", map[string]any{"reason": msg.Reason})
		s.dispatch.fireError(err)
	default:
		s.logger.Debug("ignoring frame", map[string]any{"kind": string(msg.Msg)})
	}
}

func (s *session) handleResult(msg ddp.Message) {
	op, err := s.registry.Resolve(msg.ID)
	if err != nil {
		s.logger.Warn("result for unknown request", map[string]any{"id": msg.ID})
		s.dispatch.fireError(err)
		return
	}
	s.metrics.setPending(s.registry.Len())

	var opErr error
	if msg.Error != nil {
		opErr = FromServerError(msg.Error)
	}
	s.metrics.operationDone(op, outcome(opErr), s.now())

	switch op.Kind {
	case OpLogin:
		if opErr != nil {
			s.logger.Warn("login rejected", map[string]any{"error": opErr.Error()})
			s.dispatch.fireError(opErr)
		}
	case OpRoomsFetch:
		if opErr != nil {
			s.logger.Warn("room directory fetch failed", map[string]any{"error": opErr.Error()})
			s.dispatch.fireError(opErr)
			break
		}
		s.rooms.ReplaceAll(parseRooms(msg.Result))
		if s.state != StateReady {
			s.setState(StateReady, nil)
		}
		s.publishSnapshot()
	case OpOpenRoom, OpHistoryFetch:
		s.history.handleResult(op, msg.Result, opErr)
	}
	op.complete(msg.Result, opErr)
}

// handleSubscription resolves a pending subscription from ready or nosub.
func (s *session) handleSubscription(id string, ready bool, subErr error) {
	op, err := s.registry.Resolve(id)
	if err != nil {
		// A nosub for an established subscription is no longer in the registry.
		if ready || !s.history.handleSubEnded(id, subErr) {
			s.logger.Debug("subscription event for unknown id", map[string]any{"id": id})
		}
		return
	}
	s.metrics.setPending(s.registry.Len())
	if !ready && subErr == nil {
		subErr = NewError(ErrorProtocol, "subscription stopped by server")
	}
	s.metrics.operationDone(op, outcome(subErr), s.now())
	s.history.handleSubReady(op, subErr)
	op.complete(nil, subErr)
}

// handleTransportError reports a connection failure; handleClose follows.
func (s *session) handleTransportError(err error) {
	s.logger.Error("transport failure", map[string]any{"error": err.Error()})
	s.dispatch.fireError(WrapError(ErrorTransport, "connection failed", err))
}

func (s *session) handleClose(err error) {
	if s.state == StateClosed {
		return
	}
	abandoned := s.registry.AbandonAll()
	now := s.now()
	for _, op := range abandoned {
		s.metrics.operationDone(op, "abandoned", now)
	}
	s.metrics.setPending(0)
	s.history.reset()

	var reason error
	if err != nil {
		reason = WrapError(ErrorTransport, "connection closed", err)
	}
	s.logger.Info("session closed", map[string]any{"abandoned": len(abandoned)})
	s.setState(StateClosed, reason)
}

func (s *session) openRoom(roomID string) error {
	if s.state != StateReady {
		return ErrNotReady
	}
	if roomID == "" {
		return NewError(ErrorUnknownRoom, "empty room id")
	}
	return s.history.open(roomID)
}

// fetchRooms is allowed before Ready because it is the request that makes
// the session ready.
func (s *session) fetchRooms() (*PendingOperation, error) {
	if !s.state.transportOpen() {
		return nil, ErrNotReady
	}
	return s.requestRooms()
}

func (s *session) call(method string, params ...any) (*PendingOperation, error) {
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	return s.request(OpMethod, uuid.NewString(), "", method, params...)
}

func (s *session) requestRooms() (*PendingOperation, error) {
	return s.request(OpRoomsFetch, s.uniqueID("rooms"), "", methodRoomsGet, ddp.Date{})
}

// request registers a method call and sends it.
func (s *session) request(kind OperationKind, id, roomID, method string, params ...any) (*PendingOperation, error) {
	op, err := s.registry.Register(id, kind, roomID)
	if err != nil {
		return nil, err
	}
	op.Method = method
	startOperationSpan(s.tracer, op)
	if err := s.send(ddp.NewMethod(id, method, params...)); err != nil {
		_, _ = s.registry.Resolve(id)
		op.complete(nil, err)
		return nil, err
	}
	s.metrics.setPending(s.registry.Len())
	s.logger.Debug("request sent", map[string]any{"id": id, "method": method, "room": roomID})
	return op, nil
}

// subscribe registers a subscription; it resolves on ready or nosub.
func (s *session) subscribe(id, roomID, name string, params ...any) (*PendingOperation, error) {
	op, err := s.registry.Register(id, OpSubscribe, roomID)
	if err != nil {
		return nil, err
	}
	op.Method = name
	startOperationSpan(s.tracer, op)
	if err := s.send(ddp.NewSub(id, name, params...)); err != nil {
		_, _ = s.registry.Resolve(id)
		op.complete(nil, err)
		return nil, err
	}
	s.metrics.setPending(s.registry.Len())
	return op, nil
}

// uniqueID returns base, or base with a numeric suffix while base is still
// outstanding.
func (s *session) uniqueID(base string) string {
	if !s.registry.Outstanding(base) {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s-%d", base, n)
		if !s.registry.Outstanding(id) {
			return id
		}
	}
}

func (s *session) send(m ddp.Message) error {
	frame, err := ddp.Encode(m)
	if err != nil {
		return WrapError(ErrorSerialization, "encode "+string(m.Msg), err)
	}
	if s.sender == nil {
		return ErrNotConnected
	}
	if err := s.sender.Send(frame); err != nil {
		return WrapError(ErrorNotConnected, "send "+string(m.Msg), err)
	}
	s.metrics.frameSent(string(m.Msg))
	return nil
}

func (s *session) setState(next ConnectionState, err error) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	s.metrics.transition(next)
	fields := map[string]any{"from": prev.String(), "to": next.String()}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Info("session state changed", fields)
	if s.observe != nil {
		s.observe(next)
	}
	s.dispatch.fireStateChanged(StateEvent{OldState: prev, NewState: next, Error: err})
}

func (s *session) publishSnapshot() {
	s.version++
	snap := &Snapshot{
		Version:  s.version,
		Rooms:    s.rooms.List(),
		Messages: s.messages.Snapshot(),
	}
	if s.publish != nil {
		s.publish(snap)
	}
}

func (s *session) roomFailed(e RoomError) {
	s.metrics.roomError(e.Op)
	s.logger.Warn("room step failed", map[string]any{"room": e.RoomID, "op": e.Op.String(), "error": e.Err.Error()})
	s.dispatch.fireRoomError(e)
}

func (s *session) liveMessage(ev MessageEvent) {
	s.metrics.liveMessage()
	s.dispatch.fireMessage(ev)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
