package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// Action names as delivered to hooks.
const (
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionAdd    = "add"
)

// Action is the mutation observed by hooks. Only writes dispatch hooks, so
// the variants cover metadata updates, metadata deletes, and feedback adds.
type Action interface {
	// Name returns the action label used in hook payloads and logs.
	Name() string
}

// UpdateMetadataAction carries the key/value delta of a metadata update.
type UpdateMetadataAction struct {
	Metadata map[string]interface{}
}

// Name implements Action.
func (UpdateMetadataAction) Name() string { return ActionUpdate }

// DeleteMetadataAction carries the keys removed from the metadata bag.
type DeleteMetadataAction struct {
	Keys []string
}

// Name implements Action.
func (DeleteMetadataAction) Name() string { return ActionDelete }

// AddFeedbackAction carries the feedback entry that was appended.
type AddFeedbackAction struct {
	Entry FeedbackEntry
}

// Name implements Action.
func (AddFeedbackAction) Name() string { return ActionAdd }

// Invocation is the unit of work delivered to hooks: which session mutated,
// what changed, and when the write happened.
type Invocation struct {
	SessionID string
	Action    Action
	Time      time.Time
}

// HookFunc observes a successful write. It runs on a dispatcher worker after
// the storage operation committed; returning an error only produces a log
// entry and never affects the write.
type HookFunc func(ctx context.Context, inv Invocation) error

// ValidatorFunc vets a write before it reaches storage. Returning an error
// aborts the operation with a validation error.
type ValidatorFunc func(ctx context.Context, inv Invocation) error

type dispatchItem struct {
	inv   Invocation
	hooks []HookFunc
}

// Dispatcher runs hooks asynchronously on a small worker pool fed by an
// unbounded in-memory queue, so the storage path never blocks on hook
// execution. Hook errors and panics are logged and isolated per hook.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []dispatchItem
	closed bool
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewDispatcher starts a dispatcher with the given number of workers.
// Values below one fall back to a single worker, which also preserves hook
// ordering per dispatcher.
func NewDispatcher(workers int, log *logger.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Default()
	}
	d := &Dispatcher{log: log}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Dispatch enqueues the invocation for every hook in order. It never blocks;
// dispatching with no hooks or on a closed dispatcher is a no-op.
func (d *Dispatcher) Dispatch(inv Invocation, hooks []HookFunc) {
	if len(hooks) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, dispatchItem{inv: inv, hooks: hooks})
	d.mu.Unlock()
	d.cond.Signal()
}

// Pending returns the number of queued invocations not yet picked up by a
// worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close drains the queue, waits for in-flight hooks to finish, and stops the
// workers. It is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			// Closed and drained.
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		for _, hook := range item.hooks {
			d.invoke(hook, item.inv)
		}
	}
}

// invoke runs one hook, converting errors and panics into log entries so a
// misbehaving hook cannot affect its siblings or the caller.
func (d *Dispatcher) invoke(hook HookFunc, inv Invocation) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("session hook panicked",
				zap.String("action", inv.Action.Name()),
				zap.String("session_id", inv.SessionID),
				zap.Any("panic", r))
		}
	}()
	if err := hook(context.Background(), inv); err != nil {
		d.log.Error("session hook failed",
			zap.String("action", inv.Action.Name()),
			zap.String("session_id", inv.SessionID),
			zap.Error(err))
	}
}

// runValidators executes validators in order and wraps the first failure as
// a validation error.
func runValidators(ctx context.Context, validators []ValidatorFunc, inv Invocation) error {
	for _, validate := range validators {
		if err := validate(ctx, inv); err != nil {
			return wrapValidationError(inv.Action.Name(), err)
		}
	}
	return nil
}

func wrapValidationError(action string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeValidationError {
		return appErr
	}
	return apperrors.ValidationError(action, err.Error())
}
