package ddpchat

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OperationKind is what an outstanding request was issued for.
type OperationKind int

const (
	OpLogin OperationKind = iota
	OpRoomsFetch
	OpOpenRoom
	OpHistoryFetch
	OpSubscribe
	OpMethod
)

func (k OperationKind) String() string {
	switch k {
	case OpLogin:
		return "login"
	case OpRoomsFetch:
		return "rooms_fetch"
	case OpOpenRoom:
		return "open_room"
	case OpHistoryFetch:
		return "history_fetch"
	case OpSubscribe:
		return "subscribe"
	case OpMethod:
		return "method"
	default:
		return "unknown"
	}
}

// PendingOperation is a request waiting for its reply. It completes exactly
// once: with the reply, with a server error, or with ErrConnectionLost.
type PendingOperation struct {
	ID        string
	Kind      OperationKind
	RoomID    string
	Method    string
	CreatedAt time.Time

	done   chan struct{}
	result json.RawMessage
	err    error
	span   trace.Span
}

// Done is closed when the operation completes.
func (p *PendingOperation) Done() <-chan struct{} { return p.done }

// Err returns the completion error. Only meaningful after Done is closed.
func (p *PendingOperation) Err() error { return p.err }

// Wait blocks until the operation completes or ctx ends. Returning on ctx
// does not cancel the operation; it stays pending until its reply arrives or
// the connection closes.
func (p *PendingOperation) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingOperation) complete(result json.RawMessage, err error) {
	select {
	case <-p.done:
		return
	default:
	}
	p.result = result
	p.err = err
	if p.span != nil {
		if err != nil {
			p.span.RecordError(err)
			p.span.SetStatus(codes.Error, err.Error())
		} else {
			p.span.SetStatus(codes.Ok, "")
		}
		p.span.End()
	}
	close(p.done)
}

// Registry maps outstanding correlation ids to their operations. It is not
// safe for concurrent use; the session goroutine owns it.
type Registry struct {
	pending map[string]*PendingOperation
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*PendingOperation),
		now:     time.Now,
	}
}

// Register records a new outstanding operation.
func (r *Registry) Register(id string, kind OperationKind, roomID string) (*PendingOperation, error) {
	if _, exists := r.pending[id]; exists {
		return nil, NewError(ErrorDuplicateCorrelationID, "correlation id already outstanding: "+id)
	}
	op := &PendingOperation{
		ID:        id,
		Kind:      kind,
		RoomID:    roomID,
		CreatedAt: r.now(),
		done:      make(chan struct{}),
	}
	r.pending[id] = op
	return op, nil
}

// Resolve removes and returns the operation for id. A second resolve of the
// same id fails with ErrUnknownCorrelationID.
func (r *Registry) Resolve(id string) (*PendingOperation, error) {
	op, ok := r.pending[id]
	if !ok {
		return nil, NewError(ErrorUnknownCorrelationID, "unknown correlation id: "+id)
	}
	delete(r.pending, id)
	return op, nil
}

// Outstanding reports whether id is currently registered.
func (r *Registry) Outstanding(id string) bool {
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of outstanding operations.
func (r *Registry) Len() int { return len(r.pending) }

// AbandonAll completes every outstanding operation with ErrConnectionLost
// and empties the registry. It returns the abandoned operations.
func (r *Registry) AbandonAll() []*PendingOperation {
	abandoned := make([]*PendingOperation, 0, len(r.pending))
	for id, op := range r.pending {
		delete(r.pending, id)
		op.complete(nil, ErrConnectionLost)
		abandoned = append(abandoned, op)
	}
	return abandoned
}
