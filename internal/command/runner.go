// Package command runs page actions off the UI loop and feeds their results
// back into output fields.
package command

import (
	"context"
	"fmt"
	"time"

	"lab-counter/internal/form"

	"go.uber.org/zap"
)

// Dispatcher marshals work onto the UI-owning execution context.
type Dispatcher interface {
	Post(fn func())
}

// Control is the widget that triggered a command.
type Control interface {
	Disable()
	Enable()
}

// Command is a unit of work executed on a worker goroutine. It must not touch
// fields or widgets.
type Command func(ctx context.Context) (any, error)

// Trigger ties a control to the outputs that receive its command's result.
type Trigger struct {
	Name    string
	Control Control      // may be nil
	Output  *form.Output // receives the result; may be nil
	Errors  *form.Output // receives a message on failure; may be nil
}

// Options tune a single Run.
type Options struct {
	// DisableWhileRunning disables the control before Run returns and
	// re-enables it once the command completes.
	DisableWhileRunning bool

	// Settle runs on the UI loop with the command result and returns the
	// value assigned to the output. An error from Settle is reported like a
	// command failure.
	Settle func(result any) (any, error)
}

// Job tracks one Run.
type Job struct {
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the completion has been applied on the UI loop and
// returns the command result.
func (j *Job) Wait(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the completion has been applied.
func (j *Job) Done() <-chan struct{} { return j.done }

// Runner executes commands without blocking the UI loop.
type Runner struct {
	dispatch Dispatcher
	log      *zap.Logger
}

// NewRunner creates a runner posting completions to dispatch.
func NewRunner(dispatch Dispatcher, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{dispatch: dispatch, log: log.Named("command")}
}

// Run starts cmd on a new goroutine. It must be called from the UI loop.
// Nothing prevents a second Run for the same trigger while one is in flight.
func (r *Runner) Run(ctx context.Context, t Trigger, cmd Command, opts Options) *Job {
	job := &Job{done: make(chan struct{})}

	disabled := false
	if opts.DisableWhileRunning && t.Control != nil {
		t.Control.Disable()
		disabled = true
	}

	r.log.Debug("command started", zap.String("command", t.Name))
	go func() {
		start := time.Now()
		result, err := r.execute(ctx, cmd)
		r.dispatch.Post(func() {
			defer close(job.done)
			job.result = result
			job.err = r.complete(t, opts, disabled, result, err, time.Since(start))
		})
	}()
	return job
}

func (r *Runner) execute(ctx context.Context, cmd Command) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command panicked: %v", p)
		}
	}()
	return cmd(ctx)
}

func (r *Runner) complete(t Trigger, opts Options, disabled bool, result any, err error, elapsed time.Duration) error {
	if disabled {
		t.Control.Enable()
	}

	if err == nil {
		err = r.apply(t, opts, result)
	}

	if err != nil {
		r.log.Warn("command failed",
			zap.String("command", t.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if t.Errors != nil {
			t.Errors.Set(fmt.Sprintf("%s failed: %v", t.Name, err))
		}
		return err
	}

	r.log.Info("command finished", zap.String("command", t.Name), zap.Duration("elapsed", elapsed))
	return nil
}

// apply settles result and assigns it to the trigger's output. A panic in
// Settle, the output or a bound transform is returned as an error.
func (r *Runner) apply(t Trigger, opts Options, result any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("applying result panicked: %v", p)
		}
	}()

	if opts.Settle != nil {
		if result, err = opts.Settle(result); err != nil {
			return err
		}
	}
	if t.Errors != nil {
		t.Errors.Set(nil)
	}
	if t.Output != nil {
		t.Output.Set(result)
	}
	return nil
}
