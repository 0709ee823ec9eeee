// Package safetynet wraps mutating installation operations in a
// snapshot/verify/revert transaction over the environment's package set.
// After any transaction exactly one of two outcomes is observable: the
// consistency check passed and the new package set is active, or the
// package set equals the pre-transaction snapshot.
package safetynet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Package is one installed package at a pinned version.
type Package struct {
	Name    string
	Version string
}

// Snapshot is the package set captured immediately before a mutation.
// Immutable once taken; referenced by at most one in-flight transaction.
type Snapshot struct {
	TakenAt  time.Time
	Packages []Package
}

// PackageManager is the opaque external capability the safety net drives.
// It is authoritative for conflict detection; the net never re-derives
// dependency-version semantics itself.
type PackageManager interface {
	// List returns the installed package set.
	List(ctx context.Context) ([]Package, error)
	// Install installs the dependencies declared in a manifest file.
	Install(ctx context.Context, manifestPath string) error
	// InstallExact restores the environment to exactly the given set.
	InstallExact(ctx context.Context, pkgs []Package) error
	// Check verifies the consistency of the full package set.
	Check(ctx context.Context) error
}

// State names the phases of one transaction.
type State int

const (
	StateIdle State = iota
	StateSnapshotting
	StateMutating
	StateVerifying
	StateCommitted
	StateReverting
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotting:
		return "snapshotting"
	case StateMutating:
		return "mutating"
	case StateVerifying:
		return "verifying"
	case StateCommitted:
		return "committed"
	case StateReverting:
		return "reverting"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var legalTransitions = map[State][]State{
	StateIdle:         {StateSnapshotting},
	StateSnapshotting: {StateMutating},
	StateMutating:     {StateVerifying},
	StateVerifying:    {StateCommitted, StateReverting},
	StateReverting:    {StateRolledBack},
}

var (
	// ErrConflict is a consistency failure detected after the mutation.
	// The transaction reverts; callers surface it as a warning, not a
	// batch abort.
	ErrConflict = errors.New("safetynet: package conflict detected")
	// ErrAborted is the cancellation outcome. The consistency check still
	// ran; the revert path is the same as for a conflict.
	ErrAborted = errors.New("safetynet: transaction aborted")
	// ErrRevertFailed means the snapshot restore itself failed, leaving
	// the environment indeterminate. Fatal: no further mutation may run.
	ErrRevertFailed = errors.New("safetynet: snapshot restore failed")
)

// Operation is one mutating unit of work.
type Operation struct {
	// Name identifies the unit in results and messages.
	Name string
	// Mutate performs the installation step.
	Mutate func(ctx context.Context) error
	// Cleanup undoes filesystem side effects of Mutate. Called on the
	// revert path; may be nil.
	Cleanup func()
}

// Result reports one finished transaction.
type Result struct {
	Name     string
	Final    State   // StateCommitted, StateRolledBack, or StateReverting when the revert itself failed
	Trace    []State // full phase sequence, for diagnostics
	Snapshot *Snapshot
	// Err is the non-fatal cause of a rollback: ErrConflict, ErrAborted,
	// or the mutation's own error. Nil when committed.
	Err error
}

// Committed reports whether the operation is durable.
func (r *Result) Committed() bool { return r.Final == StateCommitted }

// Net serializes transactions over one environment. A transaction queued
// while another is in flight waits; phases never interleave.
type Net struct {
	mu sync.Mutex
	pm PackageManager
}

// New returns a safety net over the given package manager.
func New(pm PackageManager) *Net {
	return &Net{pm: pm}
}

// Manager exposes the wrapped package manager so a transaction's Mutate can
// install a dependency manifest through it.
func (n *Net) Manager() PackageManager { return n.pm }

// Run executes one transaction. The returned error is non-nil only for the
// fatal cases: the snapshot could not be captured, or the revert itself
// failed. Every other failure is recorded on the Result and the
// environment is back at the snapshot.
func (n *Net) Run(ctx context.Context, op Operation) (*Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	res := &Result{Name: op.Name}
	state := StateIdle
	advance := func(to State) {
		for _, legal := range legalTransitions[state] {
			if legal == to {
				state = to
				res.Trace = append(res.Trace, to)
				res.Final = to
				return
			}
		}
		// Unreachable by construction; the transition table is the
		// structural guard against reordering phases.
		panic(fmt.Sprintf("safetynet: illegal transition %v -> %v", state, to))
	}

	advance(StateSnapshotting)
	pkgs, err := n.pm.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}
	res.Snapshot = &Snapshot{TakenAt: time.Now().UTC(), Packages: pkgs}

	advance(StateMutating)
	mutateErr := op.Mutate(ctx)

	// The consistency check runs even when the context was cancelled
	// mid-mutation: honoring cancellation before verifying would leave
	// the environment in an unknown state.
	advance(StateVerifying)
	checkCtx := context.WithoutCancel(ctx)
	checkErr := n.pm.Check(checkCtx)

	cancelled := ctx.Err() != nil

	if mutateErr == nil && checkErr == nil && !cancelled {
		advance(StateCommitted)
		return res, nil
	}

	advance(StateReverting)
	if op.Cleanup != nil {
		op.Cleanup()
	}
	if err := n.pm.InstallExact(checkCtx, res.Snapshot.Packages); err != nil {
		return res, fmt.Errorf("%w: %v", ErrRevertFailed, err)
	}
	advance(StateRolledBack)

	switch {
	case cancelled:
		res.Err = fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))
	case checkErr != nil:
		res.Err = fmt.Errorf("%w: %v", ErrConflict, checkErr)
	default:
		res.Err = mutateErr
	}
	return res, nil
}
