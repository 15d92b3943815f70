package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dropmates/internal/logging"
	"dropmates/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrActionDispatch  = errors.New("action dispatch failed")
	ErrCoordinatorUsed = errors.New("coordinator already used")
	ErrNoConfirmer     = errors.New("interactive mode requires a confirmer")
)

type Answer int

const (
	Invalid Answer = iota
	Yes
	No
)

// Confirmer asks whether one user should be unfollowed. Invalid means the
// input was neither yes nor no and the question must be asked again.
type Confirmer interface {
	Ask(ctx context.Context, user model.UserRecord) (Answer, error)
}

// Unfollower dispatches one batch of unfollow requests and reports an outcome
// per target.
type Unfollower interface {
	UnfollowBatch(ctx context.Context, ids []string) (model.ActionReport, error)
}

type State string

const (
	StateCollecting  State = "collecting"
	StateConfirming  State = "confirming"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

type Event struct {
	RunID      string              `json:"run_id"`
	State      State               `json:"state"`
	Candidates int                 `json:"candidates"`
	Confirmed  int                 `json:"confirmed"`
	Report     *model.ActionReport `json:"report,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans each event out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range obs {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

// DispatchError carries whatever the remote session reported for a batch
// that did not complete.
type DispatchError struct {
	Report model.ActionReport
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%v: %v", ErrActionDispatch, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrActionDispatch }

// Coordinator runs one batch: collect candidates, optionally confirm each,
// dispatch the confirmed ones. It is single use.
type Coordinator struct {
	unfollower Unfollower
	confirmer  Confirmer
	observer   Observer
	logger     *zap.Logger
	runID      string

	mu    sync.Mutex
	used  bool
	state State
}

type Option func(*Coordinator)

func WithConfirmer(c Confirmer) Option { return func(co *Coordinator) { co.confirmer = c } }

func WithObserver(o Observer) Option { return func(co *Coordinator) { co.observer = o } }

func WithLogger(l *zap.Logger) Option {
	return func(co *Coordinator) { co.logger = logging.OrNop(l) }
}

func New(unfollower Unfollower, opts ...Option) *Coordinator {
	c := &Coordinator{
		unfollower: unfollower,
		logger:     zap.NewNop(),
		runID:      uuid.NewString(),
		state:      StateCollecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) RunID() string { return c.runID }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Run(ctx context.Context, candidates []model.UserRecord, interactive bool) (model.ActionReport, error) {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return model.ActionReport{}, ErrCoordinatorUsed
	}
	c.used = true
	c.mu.Unlock()

	if interactive && c.confirmer == nil {
		return c.fail(len(candidates), 0, nil, ErrNoConfirmer)
	}

	c.emit(Event{State: StateCollecting, Candidates: len(candidates)})

	intents := make([]model.ActionIntent, 0, len(candidates))
	if interactive {
		c.transition(StateConfirming)
		c.emit(Event{State: StateConfirming, Candidates: len(candidates)})
		for _, u := range candidates {
			ok, err := c.confirm(ctx, u)
			if err != nil {
				return c.fail(len(candidates), len(intents), nil, fmt.Errorf("confirm %s: %w", u.ID, err))
			}
			if ok {
				intents = append(intents, model.ActionIntent{Target: u, Confirmed: true})
			}
		}
	} else {
		for _, u := range candidates {
			intents = append(intents, model.ActionIntent{Target: u, Confirmed: true})
		}
	}

	ids := make([]string, 0, len(intents))
	for _, in := range intents {
		if in.Confirmed {
			ids = append(ids, in.Target.ID)
		}
	}

	c.transition(StateDispatching)
	c.emit(Event{State: StateDispatching, Candidates: len(candidates), Confirmed: len(ids)})

	report := model.ActionReport{RunID: c.runID, Outcomes: []model.TargetOutcome{}}
	if len(ids) > 0 {
		c.logger.Info("dispatching unfollow batch", zap.String("run_id", c.runID), zap.Int("targets", len(ids)))
		got, err := c.unfollower.UnfollowBatch(ctx, ids)
		if got.Outcomes != nil {
			report.Outcomes = got.Outcomes
		}
		if err != nil {
			derr := &DispatchError{Report: report, Err: err}
			return c.fail(len(candidates), len(ids), &report, derr)
		}
	} else {
		c.logger.Info("nothing to dispatch", zap.String("run_id", c.runID))
	}

	c.transition(StateDone)
	c.emit(Event{State: StateDone, Candidates: len(candidates), Confirmed: len(ids), Report: &report})
	c.logger.Info("unfollow batch done",
		zap.String("run_id", c.runID),
		zap.Int("unfollowed", len(report.Succeeded())),
		zap.Int("failed", len(report.Failed())),
		zap.Int("skipped", len(report.Skipped())),
		zap.Int("unknown", len(report.Unknown())))
	return report, nil
}

// confirm re-asks until the answer is yes or no. It never defaults.
func (c *Coordinator) confirm(ctx context.Context, u model.UserRecord) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		answer, err := c.confirmer.Ask(ctx, u)
		if err != nil {
			return false, err
		}
		switch answer {
		case Yes:
			return true, nil
		case No:
			c.logger.Debug("declined", zap.String("user_id", u.ID))
			return false, nil
		}
	}
}

func (c *Coordinator) fail(candidates, confirmed int, report *model.ActionReport, err error) (model.ActionReport, error) {
	c.transition(StateFailed)
	c.emit(Event{State: StateFailed, Candidates: candidates, Confirmed: confirmed, Report: report, Error: err.Error()})
	c.logger.Error("unfollow batch failed", zap.String("run_id", c.runID), zap.Error(err))
	if report == nil {
		return model.ActionReport{RunID: c.runID}, err
	}
	return *report, err
}

func (c *Coordinator) transition(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) emit(e Event) {
	if c.observer == nil {
		return
	}
	e.RunID = c.runID
	c.observer.Observe(e)
}
