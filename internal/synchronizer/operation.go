package synchronizer

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/google/uuid"
)

// Result is the terminal outcome of an operation. Noop is set when the local cart made the
// request meaningless (duplicate add, product no longer present).
type Result struct {
	State    domain.OpState
	RecordID string
	Noop     bool
	Err      error
}

// Operation tracks one user action from its local application to its remote outcome.
// Callers may ignore it; the local change is already visible when it is returned.
type Operation struct {
	ID        string
	Kind      domain.OpKind
	ProductID string

	mu     sync.Mutex
	state  domain.OpState
	result Result
	done   chan struct{}
}

func newOperation(kind domain.OpKind, productID string) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		ProductID: productID,
		state:     domain.OpStateIdle,
		done:      make(chan struct{}),
	}
}

func (o *Operation) State() domain.OpState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Result returns the outcome once the operation is terminal.
func (o *Operation) Result() (Result, bool) {
	select {
	case <-o.done:
		return o.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (o *Operation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (o *Operation) set(state domain.OpState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
	default:
		o.state = state
	}
}

func (o *Operation) finish(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return
	default:
	}
	o.state = r.State
	o.result = r
	close(o.done)
}
