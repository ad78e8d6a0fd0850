package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrAlreadyConnected = errors.New("transport already connected")
)

// EventKind classifies transport events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is emitted on the transport's event channel. EventClose is always
// the last event; its Err is nil only when the close was requested locally.
type Event struct {
	Kind  EventKind
	Frame []byte
	Err   error
}

// Options tune a Transport.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int64
	SendBuffer       int
}

type linkState int

const (
	linkIdle linkState = iota
	linkConnecting
	linkOpen
	linkClosed
)

// Transport owns exactly one websocket connection for its lifetime.
type Transport struct {
	opts   Options
	events chan Event
	sendCh chan []byte
	done   chan struct{}

	mu      sync.Mutex
	state   linkState
	closing bool
	conn    *Conn
	cancel  context.CancelFunc
}

func NewTransport(opts Options) *Transport {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Transport{
		opts:   opts,
		events: make(chan Event, 64),
		sendCh: make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the event stream. It is closed after EventClose.
func (t *Transport) Events() <-chan Event { return t.events }

// Done is closed once the connection is fully torn down.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Connect starts dialing url in the background and returns immediately.
// The outcome is reported as EventOpen or EventError followed by EventClose.
func (t *Transport) Connect(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.state != linkIdle {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.state = linkConnecting
	t.cancel = cancel
	t.mu.Unlock()

	go t.run(runCtx, url)
	return nil
}

// Send enqueues a frame for the write pump.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != linkConnecting && state != linkOpen {
		return ErrNotConnected
	}
	select {
	case t.sendCh <- frame:
		return nil
	case <-t.done:
		return ErrNotConnected
	}
}

// Close shuts the connection down. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == linkIdle {
		t.state = linkClosed
		t.mu.Unlock()
		close(t.done)
		close(t.events)
		return nil
	}
	t.closing = true
	conn, cancel := t.conn, t.cancel
	t.mu.Unlock()

	if conn != nil {
		// The peer may already be gone; the close event carries the outcome.
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *Transport) run(ctx context.Context, url string) {
	dialCtx, cancelDial := ctx, context.CancelFunc(func() {})
	if t.opts.HandshakeTimeout > 0 {
		dialCtx, cancelDial = context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	}
	ws, _, err := websocket.Dial(dialCtx, url, nil)
	cancelDial()
	if err != nil {
		t.finish(t.closedLocally(), fmt.Errorf("dial %s: %w", url, err))
		return
	}
	if t.opts.MaxFrameBytes > 0 {
		ws.SetReadLimit(t.opts.MaxFrameBytes)
	}
	conn := NewConn(ws, t.opts.ReadTimeout, t.opts.WriteTimeout)

	t.mu.Lock()
	t.conn = conn
	t.state = linkOpen
	t.mu.Unlock()

	t.events <- Event{Kind: EventOpen}

	errCh := make(chan error, 2)
	go func() { errCh <- t.readPump(ctx, conn) }()
	go func() { errCh <- t.writePump(ctx, conn) }()

	err = <-errCh
	local := t.closedLocally()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	t.cancel()
	<-errCh
	t.finish(local, err)
}

func (t *Transport) closedLocally() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

func (t *Transport) readPump(ctx context.Context, conn *Conn) error {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		select {
		case t.events <- Event{Kind: EventMessage, Frame: frame}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) writePump(ctx context.Context, conn *Conn) error {
	for {
		select {
		case frame := <-t.sendCh:
			if err := conn.Write(ctx, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Transport) finish(local bool, err error) {
	if local {
		err = nil
	} else if err == nil {
		err = io.ErrUnexpectedEOF
	}

	t.mu.Lock()
	t.state = linkClosed
	t.conn = nil
	t.mu.Unlock()
	close(t.done)

	if err != nil && !isExpectedDisconnect(err) {
		t.events <- Event{Kind: EventError, Err: err}
	}
	t.events <- Event{Kind: EventClose, Err: err}
	close(t.events)
}

func isExpectedDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
