package ddpchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat/ddp"
)

// chatServer is a scripted in-process DDP server.
type chatServer struct {
	// dropOnCall closes the connection when the nth method call arrives.
	dropOnCall int

	mu    sync.Mutex
	pongs []string
	calls []string
}

func (s *chatServer) pongIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pongs...)
}

func (s *chatServer) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()

		send := func(frame string) bool {
			return ws.Write(ctx, websocket.MessageText, []byte(frame)) == nil
		}
		if !send(`{"server_id":"0"}`) || !send(`{"msg":"ping","id":"srv-1"}`) {
			return
		}
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			m, err := ddp.Decode(data)
			if err != nil {
				t.Errorf("server got undecodable frame %s: %v", data, err)
				return
			}
			if !s.respond(m, send) {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *chatServer) respond(m ddp.Message, send func(string) bool) bool {
	switch m.Msg {
	case ddp.KindConnect:
		return send(`{"msg":"connected","session":"s1"}`)
	case ddp.KindPong:
		s.mu.Lock()
		s.pongs = append(s.pongs, m.ID)
		s.mu.Unlock()
		return true
	case ddp.KindSub:
		return send(`{"msg":"ready","subs":["`+m.ID+`"]}`) &&
			send(`{"msg":"changed","collection":"stream-room-messages","id":"id","fields":{"eventName":"r1","args":[`+
				`{"_id":"live-1","rid":"r1","msg":"hello live","u":{"name":"dave"},"ts":{"$date":1700000005000}}]}}`)
	case ddp.KindMethod:
	default:
		return true
	}

	s.mu.Lock()
	s.calls = append(s.calls, m.Method)
	n := len(s.calls)
	s.mu.Unlock()
	if n == s.dropOnCall {
		return false
	}
	switch m.Method {
	case "login":
		return send(`{"msg":"result","id":"` + m.ID + `","result":{"id":"u1","token":"tok"}}`)
	case "rooms/get":
		return send(`{"msg":"result","id":"` + m.ID + `","result":{"update":[{"_id":"r1","name":"general"},{"_id":"r2","name":"random"}],"remove":[]}}`)
	case "openRoom":
		return send(`{"msg":"result","id":"`+m.ID+`","result":{"_id":"r1"}}`) &&
			send(`{"msg":"updated","methods":["`+m.ID+`"]}`)
	case "loadHistory":
		return send(`{"msg":"result","id":"` + m.ID + `","result":{"messages":[` +
			`{"_id":"h2","msg":"second","u":{"name":"bob"},"ts":{"$date":1700000002000}},` +
			`{"_id":"h1","msg":"first","u":{"name":"alice"},"ts":{"$date":1700000001000}}]}}`)
	case "echo":
		params, _ := json.Marshal(m.Params[0])
		return send(`{"msg":"result","id":"` + m.ID + `","result":` + string(params) + `}`)
	default:
		return send(`{"msg":"result","id":"` + m.ID + `","error":{"error":404,"reason":"Method '` + m.Method + `' not found","errorType":"Meteor.Error"}}`)
	}
}

func testConfig(srv *httptest.Server) Config {
	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Token = "tok"
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

// watchStates forwards state transitions; register before Start.
func watchStates(c *Client) <-chan ConnectionState {
	ch := make(chan ConnectionState, 32)
	c.OnStateChanged(func(ev StateEvent) {
		select {
		case ch <- ev.NewState:
		default:
		}
	})
	return ch
}

func waitState(t *testing.T, ch <-chan ConnectionState, want ConnectionState) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st := <-ch:
			if st == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientEndToEnd(t *testing.T) {
	server := &chatServer{}
	srv := server.serve(t)

	c := NewClient(testConfig(srv))
	states := watchStates(c)
	live := make(chan MessageEvent, 4)
	c.OnMessage(func(ev MessageEvent) { live <- ev })
	c.OnRoomError(func(e RoomError) { t.Errorf("unexpected room error: %v", e) })

	if err := c.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	waitState(t, states, StateReady)

	rooms := c.Rooms()
	if len(rooms) != 2 || rooms[0].ID != "r1" || rooms[1].Name != "random" {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	if err := c.OpenRoom(testCtx(t), "r1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	select {
	case ev := <-live:
		if ev.RoomID != "r1" || ev.Message.ID != "live-1" || ev.Message.AuthorName != "dave" {
			t.Fatalf("unexpected live message: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for live message")
	}

	msgs := c.Messages("r1")
	if len(msgs) != 3 || msgs[0].ID != "live-1" || msgs[1].ID != "h2" || msgs[2].ID != "h1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	st, err := c.RoomStatus(testCtx(t), "r1")
	if err != nil {
		t.Fatalf("room status: %v", err)
	}
	if st.State != SubSubscribed || !st.Live || st.Stalled {
		t.Fatalf("unexpected status: %+v", st)
	}

	res, err := c.Call(testCtx(t), "echo", "hi there")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(res) != `"hi there"` {
		t.Fatalf("unexpected result: %s", res)
	}
	_, err = c.Call(testCtx(t), "missing")
	if !IsServerError(err) {
		t.Fatalf("expected server error, got %v", err)
	}

	if got := server.pongIDs(); len(got) != 1 || got[0] != "srv-1" {
		t.Fatalf("expected one pong echoing srv-1, got %v", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed after Close")
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}
	if len(c.Messages("r1")) != 3 {
		t.Fatalf("last snapshot should survive close")
	}
}

func TestClientNotStarted(t *testing.T) {
	c := NewClient(DefaultConfig())
	ctx := testCtx(t)

	if err := c.OpenRoom(ctx, "r1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := c.Call(ctx, "echo"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	st, err := c.RoomStatus(ctx, "r1")
	if err != nil || st.State != SubNotOpened {
		t.Fatalf("unexpected status: %+v %v", st, err)
	}
	if snap := c.Snapshot(); snap == nil || snap.Rooms == nil || snap.Messages == nil {
		t.Fatalf("empty snapshot should be usable: %+v", snap)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close before start: %v", err)
	}
}

func TestClientStartRejectsInvalidConfig(t *testing.T) {
	c := NewClient(DefaultConfig())
	if err := c.Start(testCtx(t)); !hasCode(err, ErrorInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestClientStartTwice(t *testing.T) {
	srv := (&chatServer{}).serve(t)
	c := NewClient(testConfig(srv))
	if err := c.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Start(testCtx(t)); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestClientConnectionLostAbandonsRequests(t *testing.T) {
	// login and rooms/get are calls 1 and 2; the refresh is dropped.
	server := &chatServer{dropOnCall: 3}
	srv := server.serve(t)

	c := NewClient(testConfig(srv))
	var (
		mu     sync.Mutex
		closed StateEvent
	)
	states := make(chan ConnectionState, 32)
	c.OnStateChanged(func(ev StateEvent) {
		if ev.NewState == StateClosed {
			mu.Lock()
			closed = ev
			mu.Unlock()
		}
		states <- ev.NewState
	})
	if err := c.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	waitState(t, states, StateReady)

	_, err := c.FetchRooms(testCtx(t))
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop")
	}
	waitState(t, states, StateClosed)
	mu.Lock()
	defer mu.Unlock()
	if closed.NewState != StateClosed || !IsTransportError(closed.Error) {
		t.Fatalf("expected closed with a transport error, got %+v", closed)
	}
}

func TestClientRestart(t *testing.T) {
	srv := (&chatServer{}).serve(t)
	c := NewClient(testConfig(srv))
	states := watchStates(c)

	for i := 0; i < 2; i++ {
		if err := c.Start(testCtx(t)); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		waitState(t, states, StateReady)
		if err := c.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		waitState(t, states, StateClosed)
	}
	if len(c.Rooms()) != 2 {
		t.Fatalf("unexpected rooms after restart: %+v", c.Rooms())
	}
}

type memSnapshotStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

func (m *memSnapshotStore) Load(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memSnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func TestClientSnapshotPersistence(t *testing.T) {
	srv := (&chatServer{}).serve(t)
	store := &memSnapshotStore{snap: &Snapshot{
		Version: 42,
		Rooms:   []Room{{ID: "cached", Name: "from disk"}},
	}}

	c := NewClient(testConfig(srv))
	c.SetSnapshotStore(store)
	states := watchStates(c)
	snaps := make(chan *Snapshot, 32)
	c.OnSnapshot(func(s *Snapshot) {
		select {
		case snaps <- s:
		default:
		}
	})

	if err := c.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	var cached *Snapshot
	select {
	case cached = <-snaps:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the first snapshot")
	}
	if !cached.FromCache || cached.Version != 42 || cached.Messages == nil {
		t.Fatalf("expected the cached snapshot first, got %+v", cached)
	}

	waitState(t, states, StateReady)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saves == 0 || store.snap.FromCache || len(store.snap.Rooms) != 2 {
		t.Fatalf("expected the live snapshot to be saved, got %d saves, %+v", store.saves, store.snap)
	}
}

func TestClientCallbacksMayCallBack(t *testing.T) {
	server := &chatServer{}
	srv := server.serve(t)

	c := NewClient(testConfig(srv))
	opened := make(chan error, 1)
	c.OnStateChanged(func(ev StateEvent) {
		if ev.NewState == StateReady {
			opened <- c.OpenRoom(testCtx(t), "r1")
		}
	})
	live := make(chan MessageEvent, 4)
	c.OnMessage(func(ev MessageEvent) {
		if _, err := c.RoomStatus(testCtx(t), ev.RoomID); err != nil {
			t.Errorf("room status from callback: %v", err)
		}
		live <- ev
	})

	if err := c.Start(testCtx(t)); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open room from callback: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("open room from callback did not return")
	}
	select {
	case ev := <-live:
		if ev.RoomID != "r1" {
			t.Fatalf("unexpected live message: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session made no progress after a re-entrant call")
	}
	if got := server.pongIDs(); len(got) != 1 {
		t.Fatalf("expected the ping to be answered, got %v", got)
	}
}
