package state

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/viddriver/vidutils"
	"golang.org/x/exp/slog"
)

// Requirement pairs a resource with the state the next operation needs it in
type Requirement struct {
	Resource Resource
	State    State
}

// Tracker holds the current state tag of every registered resource, and records the barriers
// needed to move resources into the state an operation requires.
//
// The tracker is not synchronized: it must only be used from the thread that records commands.
// There is no implicit revert. Whoever moves a resource into a state is responsible for moving it
// out again when another consumer needs something else.
type Tracker struct {
	logger *slog.Logger
	states *swiss.Map[uint64, State]
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		states: swiss.NewMap[uint64, State](64),
	}
}

// Register begins tracking res, which is currently in the initial state. Registering a resource
// that is already tracked overwrites its tag.
func (t *Tracker) Register(res Resource, initial State) {
	t.states.Put(res.ResourceID(), initial)
}

// Forget stops tracking res. It should be called when the resource is destroyed.
func (t *Tracker) Forget(res Resource) {
	t.states.Delete(res.ResourceID())
}

// Current retrieves the state tag of res. The second return value is false if res is not
// tracked.
func (t *Tracker) Current(res Resource) (State, bool) {
	return t.states.Get(res.ResourceID())
}

// Count returns the number of tracked resources
func (t *Tracker) Count() int {
	return t.states.Count()
}

// Require ensures res is in the required state for the next operation recorded to rec. If it is
// not, a single barrier from the current tag to required is recorded and the tag is updated.
// Require returns true if a barrier was recorded. Requiring a state on an untracked resource
// panics: it is always a bug in the caller.
func (t *Tracker) Require(rec Recorder, res Resource, required State) bool {
	return t.RequireAll(rec, Requirement{Resource: res, State: required}) > 0
}

// RequireAll works like Require for several resources, recording every necessary barrier in a
// single call to rec. It returns the number of barriers recorded.
func (t *Tracker) RequireAll(rec Recorder, requirements ...Requirement) int {
	barriers := make([]Barrier, 0, len(requirements))

	for _, req := range requirements {
		current, ok := t.states.Get(req.Resource.ResourceID())
		if !ok {
			panic(errors.Newf("state required for untracked resource %d", req.Resource.ResourceID()))
		}
		vidutils.DebugCheck(!req.State.IsWrite() || req.State == RenderTarget || req.State == CopyDest,
			"write state %s cannot be combined with other states", req.State)

		if current == req.State {
			continue
		}

		barriers = append(barriers, Barrier{
			Resource: req.Resource,
			Before:   current,
			After:    req.State,
		})
	}

	if len(barriers) == 0 {
		return 0
	}

	rec.ResourceBarrier(barriers...)
	for _, barrier := range barriers {
		t.logger.Debug("Tracker::RequireAll", "resource", barrier.Resource.ResourceID(),
			"before", barrier.Before.String(), "after", barrier.After.String())
		t.states.Put(barrier.Resource.ResourceID(), barrier.After)
	}

	return len(barriers)
}
