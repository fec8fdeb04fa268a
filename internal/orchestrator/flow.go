package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Flow is a resumable orchestration.
type Flow interface {
	// State returns a copy of the current state.
	State() State
	// Run executes the remaining stages. After a failure, calling Run again
	// resumes at the failed stage.
	Run(ctx context.Context) error
	// Dismiss closes the flow. A dismissed flow never runs again.
	Dismiss()
}

// step is one stage of a flow. done reports whether a previous run already
// completed it. check, when set, runs before the stage is entered and may
// skip it by returning false.
type step struct {
	stage Stage
	done  func() bool
	check func(ctx context.Context) (bool, error)
	run   func(ctx context.Context) error
}

// flow holds the state machine shared by every flow kind.
type flow struct {
	deps   *Deps
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	running bool
}

func (f *flow) init(deps *Deps, kind Kind, session string) {
	now := deps.now()
	id := uuid.NewString()
	f.deps = deps
	f.logger = deps.logger().With(
		slog.String("component", "orchestrator"),
		slog.String("flow_id", id),
		slog.String("kind", string(kind)),
	)
	f.state = State{
		ID:        id,
		Kind:      kind,
		Session:   session,
		Stage:     StageIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (f *flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state
	st.Running = f.running
	st.Ordinal = st.Stage.Ordinal()
	st.Detail = st.Stage.Detail()
	if st.BetID != nil {
		id := *st.BetID
		st.BetID = &id
	}
	return st
}

func (f *flow) Dismiss() {
	f.mu.Lock()
	f.state.Dismissed = true
	f.state.UpdatedAt = f.deps.now()
	f.mu.Unlock()
	f.logger.Info("flow dismissed")
}

func (f *flow) update(fn func(st *State)) {
	f.mu.Lock()
	fn(&f.state)
	f.state.UpdatedAt = f.deps.now()
	f.mu.Unlock()
}

func (f *flow) dismissed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Dismissed
}

// execute runs steps in order, skipping those already done. onComplete runs
// once every step has succeeded.
func (f *flow) execute(ctx context.Context, steps []step, onComplete func(ctx context.Context)) error {
	f.mu.Lock()
	switch {
	case f.state.Dismissed:
		f.mu.Unlock()
		return domain.ErrFlowDismissed
	case f.running:
		f.mu.Unlock()
		return domain.ErrFlowActive
	case f.state.Stage == StageComplete:
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.state.Failed = false
	f.state.FailedStage = ""
	f.state.Error = ""
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	for _, s := range steps {
		if s.done() {
			continue
		}
		if s.check != nil {
			needed, err := s.check(ctx)
			if err != nil {
				return f.fail(ctx, s.stage, err)
			}
			if !needed {
				f.logger.InfoContext(ctx, "stage skipped", slog.String("stage", string(s.stage)))
				continue
			}
		}
		f.enter(ctx, s.stage)
		if err := s.run(ctx); err != nil {
			return f.fail(ctx, s.stage, err)
		}
		if f.dismissed() {
			return domain.ErrFlowDismissed
		}
	}

	f.update(func(st *State) { st.Stage = StageComplete })
	onComplete(ctx)
	return nil
}

func (f *flow) enter(ctx context.Context, stage Stage) {
	f.update(func(st *State) { st.Stage = stage })
	f.deps.Reporter.Stage(ctx, f.State())
}

// fail moves the flow into Failed(stage). A dismissed flow fails silently.
func (f *flow) fail(ctx context.Context, stage Stage, err error) error {
	f.update(func(st *State) {
		st.Stage = stage
		st.Failed = true
		st.FailedStage = stage
		st.Error = err.Error()
	})
	if !f.dismissed() {
		f.deps.Reporter.Failed(ctx, f.State())
	}
	return err
}

// transact submits a transaction, or re-awaits one submitted by an earlier
// attempt, and waits for it to be mined. A reverted transaction is final, so
// the pending slot is cleared and a retry submits afresh.
func (f *flow) transact(
	ctx context.Context,
	stage Stage,
	pending **types.Transaction,
	submit func(ctx context.Context) (*types.Transaction, error),
) (*types.Receipt, error) {
	tx := *pending
	if tx == nil {
		var err error
		tx, err = submit(ctx)
		if err != nil {
			return nil, &domain.TransactionError{Stage: string(stage), Err: err}
		}
		*pending = tx
		f.recordTx(stage, tx.Hash())
	} else {
		f.logger.InfoContext(ctx, "awaiting earlier submission",
			slog.String("stage", string(stage)),
			slog.String("tx_hash", tx.Hash().Hex()),
		)
	}

	receipt, err := f.deps.Wallet.WaitMined(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrReverted) {
			*pending = nil
		}
		return nil, &domain.TransactionError{Stage: string(stage), TxHash: tx.Hash().Hex(), Err: err}
	}
	return receipt, nil
}

func (f *flow) recordTx(stage Stage, hash common.Hash) {
	h := hash.Hex()
	f.update(func(st *State) {
		st.TxHash = h
		switch stage {
		case StageCreatingBet:
			st.CreateTx = h
		case StageApprovingToken:
			st.ApproveTx = h
		case StageJoiningBet:
			st.JoinTx = h
		}
	})
}

// refresh invalidates the cached snapshot and stores a fresh read on the
// state. A read failure after a confirmed write is logged, not fatal.
func (f *flow) refresh(ctx context.Context, betID uint64) {
	f.deps.Snapshots.Invalidate(ctx, betID)
	snap, err := f.deps.Snapshots.Refresh(ctx, betID)
	if err != nil {
		f.logger.WarnContext(ctx, "snapshot refresh failed",
			slog.Uint64("bet_id", betID),
			slog.String("error", err.Error()),
		)
		return
	}
	f.update(func(st *State) { st.Snapshot = &snap })
}
