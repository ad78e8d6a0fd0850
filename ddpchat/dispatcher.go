package ddpchat

// Dispatcher routes session events to registered callbacks. Register
// callbacks before Start.
//
// A Client delivers events on its own goroutine, one at a time and in the
// order they happened, so callbacks may call back into the Client. A slow
// callback delays later callbacks but never the session.
type Dispatcher struct {
	onSnapshot     func(*Snapshot)
	onMessage      func(MessageEvent)
	onRoomError    func(RoomError)
	onStateChanged func(StateEvent)
	onError        func(error)

	// queue is nil for a zero Dispatcher, which calls back inline.
	queue *eventQueue
}

func (d *Dispatcher) SetOnSnapshot(fn func(*Snapshot))      { d.onSnapshot = fn }
func (d *Dispatcher) SetOnMessage(fn func(MessageEvent))    { d.onMessage = fn }
func (d *Dispatcher) SetOnRoomError(fn func(RoomError))     { d.onRoomError = fn }
func (d *Dispatcher) SetOnStateChanged(fn func(StateEvent)) { d.onStateChanged = fn }
func (d *Dispatcher) SetOnError(fn func(error))             { d.onError = fn }

func (d *Dispatcher) emit(fn func()) {
	if d.queue == nil {
		fn()
		return
	}
	d.queue.push(fn)
}

func (d *Dispatcher) fireSnapshot(s *Snapshot) {
	if d.onSnapshot != nil {
		d.emit(func() { d.onSnapshot(s) })
	}
}

func (d *Dispatcher) fireMessage(ev MessageEvent) {
	if d.onMessage != nil {
		d.emit(func() { d.onMessage(ev) })
	}
}

func (d *Dispatcher) fireRoomError(e RoomError) {
	if d.onRoomError != nil {
		d.emit(func() { d.onRoomError(e) })
	}
}

func (d *Dispatcher) fireStateChanged(ev StateEvent) {
	if d.onStateChanged != nil {
		d.emit(func() { d.onStateChanged(ev) })
	}
}

func (d *Dispatcher) fireError(err error) {
	if d.onError != nil && err != nil {
		d.emit(func() { d.onError(err) })
	}
}
