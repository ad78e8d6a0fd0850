package ddpchat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/internal"
)

// Client is a DDP chat session: it keeps the room directory and per-room
// message history in sync with the server and publishes immutable snapshots.
//
// All protocol state is owned by one goroutine per connection. Public
// methods either read the latest published snapshot or hand a command to
// that goroutine.
type Client struct {
	cfg        Config
	logger     Logger
	metrics    *Metrics
	tracer     trace.Tracer
	store      SnapshotStore
	dispatcher Dispatcher

	snapshot atomic.Pointer[Snapshot]
	state    atomic.Int32

	mu        sync.Mutex
	session   *session
	transport *internal.Transport
	cmds      chan command
	done      chan struct{}
	running   bool
}

type command func(*session)

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		logger:     noopLogger{},
		tracer:     defaultTracer(),
		dispatcher: Dispatcher{queue: &eventQueue{}},
	}
}

// SetLogger overrides logger (optional). Call before Start.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetMetrics enables Prometheus collectors (optional). Call before Start.
func (c *Client) SetMetrics(m *Metrics) { c.metrics = m }

// SetTracerProvider overrides the global OpenTelemetry provider. Call before
// Start.
func (c *Client) SetTracerProvider(tp trace.TracerProvider) {
	if tp == nil {
		return
	}
	c.tracer = tp.Tracer(tracerName)
}

// SetSnapshotStore enables snapshot persistence (optional). The stored
// snapshot is loaded on the first Start. Call before Start.
func (c *Client) SetSnapshotStore(s SnapshotStore) { c.store = s }

// Callbacks run on a dedicated goroutine, in order, and may call Client
// methods. Register them before Start.

// OnSnapshot registers callback for every published snapshot.
func (c *Client) OnSnapshot(fn func(*Snapshot)) { c.dispatcher.SetOnSnapshot(fn) }

// OnMessage registers callback for live messages.
func (c *Client) OnMessage(fn func(MessageEvent)) { c.dispatcher.SetOnMessage(fn) }

// OnRoomError registers callback for failed room steps.
func (c *Client) OnRoomError(fn func(RoomError)) { c.dispatcher.SetOnRoomError(fn) }

// OnStateChanged registers callback for connection state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) { c.dispatcher.SetOnStateChanged(fn) }

// OnError registers callback for errors.
func (c *Client) OnError(fn func(error)) { c.dispatcher.SetOnError(fn) }

// Start dials the server and runs the session until the connection closes.
// It returns once the dial has been started; progress is reported through
// OnStateChanged. A closed client may be started again.
func (c *Client) Start(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	first := c.session == nil
	if first {
		c.session = c.newSession()
	}
	s := c.session
	tr := internal.NewTransport(internal.Options{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		ReadTimeout:      c.cfg.ReadTimeout,
		WriteTimeout:     c.cfg.WriteTimeout,
		MaxFrameBytes:    c.cfg.MaxFrameBytes,
		SendBuffer:       c.cfg.SendBuffer,
	})
	cmds := make(chan command)
	done := make(chan struct{})
	c.transport, c.cmds, c.done, c.running = tr, cmds, done, true
	c.mu.Unlock()

	if first {
		c.restore(ctx)
	}

	var saver *snapshotSaver
	if c.store != nil {
		saver = newSnapshotSaver(c.store, c.logger)
	}
	s.publish = func(snap *Snapshot) {
		c.snapshot.Store(snap)
		c.dispatcher.fireSnapshot(snap)
		if saver != nil {
			saver.offer(snap)
		}
	}
	s.sender = tr
	s.closer = func() { _ = tr.Close() }
	s.begin()

	if err := tr.Connect(ctx, c.cfg.URL); err != nil {
		s.handleClose(err)
		c.finish(done, saver)
		return WrapError(ErrorTransport, "connect", err)
	}
	go c.run(s, tr, cmds, done, saver)
	return nil
}

func (c *Client) newSession() *session {
	s := newSession(c.cfg, &c.dispatcher)
	s.logger = c.logger
	s.metrics = c.metrics
	s.tracer = c.tracer
	s.observe = func(st ConnectionState) { c.state.Store(int32(st)) }
	return s
}

func (c *Client) restore(ctx context.Context) {
	if c.store == nil {
		return
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("snapshot load failed", map[string]any{"error": err.Error()})
		c.dispatcher.fireError(WrapError(ErrorPersistence, "load snapshot", err))
		return
	}
	if snap == nil {
		return
	}
	snap.FromCache = true
	if snap.Rooms == nil {
		snap.Rooms = []Room{}
	}
	if snap.Messages == nil {
		snap.Messages = map[string][]Message{}
	}
	if c.snapshot.CompareAndSwap(nil, snap) {
		c.logger.Info("restored cached snapshot", map[string]any{"version": snap.Version, "rooms": len(snap.Rooms)})
		c.dispatcher.fireSnapshot(snap)
	}
}

func (c *Client) run(s *session, tr *internal.Transport, cmds <-chan command, done chan struct{}, saver *snapshotSaver) {
	defer c.finish(done, saver)

	events := tr.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case internal.EventOpen:
				if err := s.handleOpen(); err != nil {
					c.logger.Error("bootstrap failed", map[string]any{"error": err.Error()})
					_ = tr.Close()
				}
			case internal.EventMessage:
				s.handleFrame(ev.Frame)
			case internal.EventError:
				s.handleTransportError(ev.Err)
			case internal.EventClose:
				s.handleClose(ev.Err)
			}
		case cmd := <-cmds:
			cmd(s)
		}
	}
}

func (c *Client) finish(done chan struct{}, saver *snapshotSaver) {
	if saver != nil {
		saver.stop()
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	close(done)
}

// do runs fn on the session goroutine and waits for it.
func (c *Client) do(ctx context.Context, fn func(*session)) error {
	c.mu.Lock()
	cmds, done, running := c.cmds, c.done, c.running
	c.mu.Unlock()
	if !running {
		return ErrNotConnected
	}

	finished := make(chan struct{})
	select {
	case cmds <- func(s *session) {
		defer close(finished)
		fn(s)
	}:
	case <-done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// OpenRoom opens roomID, loads its recent history and subscribes to its
// live messages. It returns once the requests are sent; watch OnSnapshot,
// OnRoomError or RoomStatus for progress. Opening an open room is a no-op;
// a stalled room is retried.
func (c *Client) OpenRoom(ctx context.Context, roomID string) error {
	var err error
	if derr := c.do(ctx, func(s *session) { err = s.openRoom(roomID) }); derr != nil {
		return derr
	}
	return err
}

// FetchRooms refreshes the room directory and waits for the reply.
func (c *Client) FetchRooms(ctx context.Context) ([]Room, error) {
	var (
		op  *PendingOperation
		err error
	)
	if derr := c.do(ctx, func(s *session) { op, err = s.fetchRooms() }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	if _, err := op.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Rooms(), nil
}

// Call invokes an arbitrary server method and waits for its result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var (
		op  *PendingOperation
		err error
	)
	if derr := c.do(ctx, func(s *session) { op, err = s.call(method, params...) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// RoomStatus reports how far roomID got through opening on the current
// connection.
func (c *Client) RoomStatus(ctx context.Context, roomID string) (RoomStatus, error) {
	var st RoomStatus
	err := c.do(ctx, func(s *session) { st = s.history.status(roomID) })
	if err == ErrNotConnected {
		return RoomStatus{RoomID: roomID, State: SubNotOpened}, nil
	}
	return st, err
}

// Snapshot returns the latest published snapshot. It never returns nil.
func (c *Client) Snapshot() *Snapshot {
	if snap := c.snapshot.Load(); snap != nil {
		return snap
	}
	return &Snapshot{Rooms: []Room{}, Messages: map[string][]Message{}}
}

// Rooms returns the room directory from the latest snapshot.
func (c *Client) Rooms() []Room { return c.Snapshot().Rooms }

// Messages returns roomID's messages, newest first, from the latest snapshot.
func (c *Client) Messages(roomID string) []Message { return c.Snapshot().Messages[roomID] }

// State returns the current connection state.
func (c *Client) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Done is closed when the current connection's session has stopped.
// Callbacks for its final events may still be running.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.done
}

// Close shuts down the connection and waits for the session to stop.
// Outstanding requests fail with ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	tr, done, running := c.transport, c.done, c.running
	c.mu.Unlock()
	if !running {
		return nil
	}
	if err := tr.Close(); err != nil {
		return err
	}
	<-done
	return nil
}
