package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

const defaultLockTTL = 30 * time.Second

type slotKey struct {
	session string
	kind    Kind
}

type entry struct {
	flow   Flow
	unlock func()
	cancel context.CancelFunc
}

// Registry enforces at most one live flow per session and kind. The
// in-memory map covers one process; the distributed lock covers replicas.
// Flows run in the background on the registry's context.
type Registry struct {
	deps    *Deps
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	slots map[slotKey]*entry
}

// NewRegistry creates a Registry. locks may be nil for a single replica.
func NewRegistry(deps *Deps, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Registry {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:    deps,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "flow_registry")),
		base:    base,
		cancel:  cancel,
		slots:   make(map[slotKey]*entry),
	}
}

// Deps returns the shared flow dependencies.
func (r *Registry) Deps() *Deps { return r.deps }

// Preview looks betID up for viewer without starting anything.
func (r *Registry) Preview(ctx context.Context, betID uint64, viewer common.Address) (JoinPreview, error) {
	return Preview(ctx, r.deps, betID, viewer)
}

// StartCreate validates the draft and starts a creation flow.
func (r *Registry) StartCreate(ctx context.Context, session string, draft domain.WagerDraft) (State, error) {
	if err := CheckCreate(ctx, r.deps, draft); err != nil {
		return State{}, err
	}
	return r.start(ctx, session, KindCreate, func() (Flow, error) {
		return NewCreateFlow(r.deps, session, draft), nil
	})
}

// StartJoin previews betID and starts a join flow. Previews that cannot be
// joined are refused with a *domain.ValidationError carrying the reason.
func (r *Registry) StartJoin(ctx context.Context, session string, betID uint64) (State, error) {
	if !r.deps.Wallet.Connected() {
		return State{}, domain.Invalid("wallet", "Please connect your wallet")
	}
	p, err := Preview(ctx, r.deps, betID, r.deps.Wallet.Account())
	if err != nil {
		return State{}, err
	}
	return r.start(ctx, session, KindJoin, func() (Flow, error) {
		return NewJoinFlow(r.deps, session, p)
	})
}

// StartVote starts a vote on betID.
func (r *Registry) StartVote(ctx context.Context, session string, betID uint64, outcome string) (State, error) {
	return r.start(ctx, session, KindBallot, func() (Flow, error) {
		return NewVoteFlow(ctx, r.deps, session, betID, outcome)
	})
}

// StartResolve starts a resolve call on betID.
func (r *Registry) StartResolve(ctx context.Context, session string, betID uint64) (State, error) {
	return r.start(ctx, session, KindBallot, func() (Flow, error) {
		return NewResolveFlow(ctx, r.deps, session, betID)
	})
}

// start claims the slot, builds the flow and runs it in the background.
// A completed or dismissed flow frees its slot; a failed one keeps it until
// it is retried to completion or dismissed.
func (r *Registry) start(ctx context.Context, session string, kind Kind, build func() (Flow, error)) (State, error) {
	key := slotKey{session: session, kind: kind}

	r.mu.Lock()
	if e, ok := r.slots[key]; ok {
		if !e.flow.State().Terminal() {
			r.mu.Unlock()
			return State{}, domain.ErrFlowActive
		}
		r.release(key, e)
	}
	// Hold the slot while the lock is taken and the flow is built.
	placeholder := &entry{flow: idleFlow{}}
	r.slots[key] = placeholder
	r.mu.Unlock()

	unlock, err := r.acquire(ctx, key)
	if err == nil {
		var f Flow
		f, err = build()
		if err == nil {
			r.mu.Lock()
			e := &entry{flow: f, unlock: unlock}
			r.slots[key] = e
			r.mu.Unlock()
			r.launch(key, e)
			return f.State(), nil
		}
		unlock()
	}

	r.mu.Lock()
	if r.slots[key] == placeholder {
		delete(r.slots, key)
	}
	r.mu.Unlock()
	return State{}, err
}

func (r *Registry) acquire(ctx context.Context, key slotKey) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	unlock, err := r.locks.Acquire(ctx, lockKey(key), r.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, domain.ErrFlowActive
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator/registry: lock: %w", err)
	}
	return unlock, nil
}

func lockKey(key slotKey) string {
	return "flow:" + key.session + ":" + string(key.kind)
}

// launch runs the flow on a context owned by the registry, so a client
// disconnect never abandons a submitted transaction.
func (r *Registry) launch(key slotKey, e *entry) {
	ctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	e.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		err := e.flow.Run(ctx)
		st := e.flow.State()
		switch {
		case err == nil && st.Complete():
			r.mu.Lock()
			if r.slots[key] == e && e.unlock != nil {
				e.unlock()
				e.unlock = nil
			}
			r.mu.Unlock()
		case errors.Is(err, domain.ErrFlowActive), errors.Is(err, domain.ErrFlowDismissed):
			r.logger.Debug("flow run skipped", slog.String("flow_id", st.ID), slog.String("reason", err.Error()))
		case err != nil:
			r.logger.Warn("flow stopped",
				slog.String("flow_id", st.ID),
				slog.String("stage", string(st.FailedStage)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// State returns the session's flow of the given kind.
func (r *Registry) State(session string, kind Kind) (State, error) {
	r.mu.Lock()
	e, ok := r.slots[slotKey{session: session, kind: kind}]
	r.mu.Unlock()
	if !ok {
		return State{Kind: kind, Stage: StageIdle}, nil
	}
	return e.flow.State(), nil
}

// Retry resumes a failed flow at its failed stage.
func (r *Registry) Retry(session string, kind Kind) (State, error) {
	key := slotKey{session: session, kind: kind}
	r.mu.Lock()
	e, ok := r.slots[key]
	r.mu.Unlock()
	if !ok {
		return State{}, fmt.Errorf("orchestrator/registry: no %s flow: %w", kind, domain.ErrNotFound)
	}
	st := e.flow.State()
	switch {
	case st.Dismissed:
		return st, domain.ErrFlowDismissed
	case st.Complete():
		return st, nil
	case st.Running || !st.Failed:
		return st, domain.ErrFlowActive
	}
	r.launch(key, e)
	return e.flow.State(), nil
}

// Dismiss closes the session's flow and frees the slot. Stages not yet
// submitted are abandoned; a transaction already broadcast still lands.
func (r *Registry) Dismiss(session string, kind Kind) error {
	key := slotKey{session: session, kind: kind}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.slots[key]
	if !ok {
		return fmt.Errorf("orchestrator/registry: no %s flow: %w", kind, domain.ErrNotFound)
	}
	e.flow.Dismiss()
	r.release(key, e)
	return nil
}

// release must be called with r.mu held.
func (r *Registry) release(key slotKey, e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	if e.unlock != nil {
		e.unlock()
		e.unlock = nil
	}
	delete(r.slots, key)
}

// Close cancels every running flow and waits for them to stop.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.slots {
		r.release(key, e)
	}
}

// idleFlow occupies a slot while a new flow is being built.
type idleFlow struct{}

func (idleFlow) State() State              { return State{Stage: StageIdle, Running: true} }
func (idleFlow) Run(context.Context) error { return nil }
func (idleFlow) Dismiss()                  {}
