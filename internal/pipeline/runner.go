package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"squarecrop/internal/imageproc"
)

var (
	ErrProcessingFailed = errors.New("processing failed")
	ErrSuperseded       = errors.New("superseded by a newer submission")
	ErrNotFinished      = errors.New("crop is not finished")
	ErrClosed           = errors.New("pipeline closed")
)

// Stages are the three steps of a crop.
type Stages interface {
	Load(ctx context.Context, src imageproc.Source) (*imageproc.Bitmap, error)
	Plan(b *imageproc.Bitmap) imageproc.Region
	Render(ctx context.Context, b *imageproc.Bitmap, region imageproc.Region) (*imageproc.Output, error)
}

// Processor runs the stages with imageproc.
type Processor struct {
	LoadOptions imageproc.LoadOptions
	Encoding    imageproc.Encoding
}

func (p Processor) Load(ctx context.Context, src imageproc.Source) (*imageproc.Bitmap, error) {
	return imageproc.Load(ctx, src, p.LoadOptions)
}

func (p Processor) Plan(b *imageproc.Bitmap) imageproc.Region {
	return imageproc.Plan(b)
}

func (p Processor) Render(ctx context.Context, b *imageproc.Bitmap, region imageproc.Region) (*imageproc.Output, error) {
	return imageproc.Render(ctx, b, region, p.Encoding)
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithSettleHook registers fn to be called once for every token that reaches
// Done or Failed. fn runs on the pipeline goroutine.
func WithSettleHook(fn func(Snapshot)) Option {
	return func(r *Runner) { r.onSettle = fn }
}

// Runner drives one pipeline. The most recent Submit or Reset always wins.
type Runner struct {
	stages   Stages
	logger   *slog.Logger
	onSettle func(Snapshot)

	mu      sync.Mutex
	snap    Snapshot
	last    Token
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool
}

func NewRunner(stages Stages, opts ...Option) *Runner {
	r := &Runner{
		stages:  stages,
		logger:  slog.Default(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit starts a crop of src, abandoning any crop in flight.
func (r *Runner) Submit(src imageproc.Source) (Token, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	r.last++
	token := r.last
	effects := r.applyLocked(Event{Kind: EventSubmit, Token: token})
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Debug("crop submitted", "token", token)
	go r.drive(ctx, src, effects)
	return token, nil
}

// Reset returns the pipeline to Idle and drops any crop in flight.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last++
	r.applyLocked(Event{Kind: EventReset, Token: r.last})
}

// Close cancels outstanding work. Later submissions fail with ErrClosed.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.last++
	r.applyLocked(Event{Kind: EventReset, Token: r.last})
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Wait blocks until token settles. It returns ErrSuperseded if another
// submission or a reset replaced token first.
func (r *Runner) Wait(ctx context.Context, token Token) (Snapshot, error) {
	for {
		r.mu.Lock()
		snap, changed := r.snap, r.changed
		r.mu.Unlock()

		if snap.Token != token {
			return snap, ErrSuperseded
		}
		if snap.State.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// applyLocked steps the machine and runs the effects that need the lock.
// Effects that do work are returned to the caller.
func (r *Runner) applyLocked(e Event) []Effect {
	next, effects := Step(r.snap, e)
	if len(effects) == 0 && e.Kind != EventSubmit && e.Kind != EventReset {
		r.logger.Debug("stale crop event dropped", "token", e.Token, "current", r.snap.Token)
		return nil
	}

	r.snap = next
	close(r.changed)
	r.changed = make(chan struct{})

	var work []Effect
	for _, eff := range effects {
		switch eff.Kind {
		case EffectCancel:
			r.stop()
		case EffectSettle:
			r.stop()
			work = append(work, eff)
		default:
			work = append(work, eff)
		}
	}
	return work
}

func (r *Runner) stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) drive(ctx context.Context, src imageproc.Source, effects []Effect) {
	for {
		ev, ok := r.perform(ctx, src, effects)
		if !ok {
			return
		}
		if ev.Kind == EventFailed {
			r.logFailure(ctx, ev)
		}

		r.mu.Lock()
		effects = r.applyLocked(ev)
		snap := r.snap
		r.mu.Unlock()

		for _, eff := range effects {
			if eff.Kind == EffectSettle {
				r.logger.Debug("crop settled", "token", snap.Token, "state", snap.State.String())
				if r.onSettle != nil {
					r.onSettle(snap)
				}
			}
		}
	}
}

// perform runs the first work effect and returns the completion event.
func (r *Runner) perform(ctx context.Context, src imageproc.Source, effects []Effect) (Event, bool) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectLoad:
			bmp, err := r.stages.Load(ctx, src)
			if err != nil {
				return Event{Kind: EventFailed, Token: eff.Token, Err: err}, true
			}
			r.logger.Debug("image decoded", "token", eff.Token, "width", bmp.Width(), "height", bmp.Height(), "format", bmp.Format())
			return Event{Kind: EventLoaded, Token: eff.Token, Bitmap: bmp}, true
		case EffectPlan:
			region := r.stages.Plan(eff.Bitmap)
			r.logger.Debug("crop planned", "token", eff.Token, "region", region.String())
			return Event{Kind: EventPlanned, Token: eff.Token, Region: region}, true
		case EffectRender:
			out, err := r.stages.Render(ctx, eff.Bitmap, eff.Region)
			if err != nil {
				return Event{Kind: EventFailed, Token: eff.Token, Err: err}, true
			}
			return Event{Kind: EventRendered, Token: eff.Token, Output: out}, true
		}
	}
	return Event{}, false
}

func (r *Runner) logFailure(ctx context.Context, ev Event) {
	var violation *imageproc.InvariantViolation
	switch {
	case errors.As(ev.Err, &violation):
		r.logger.Error("crop aborted", "token", ev.Token, "err", ev.Err)
	case ctx.Err() != nil:
		r.logger.Debug("crop canceled", "token", ev.Token)
	default:
		r.logger.Warn("crop failed", "token", ev.Token, "err", ev.Err)
	}
}

// Result extracts the outcome of a settled snapshot. Decode and render
// failures wrap ErrProcessingFailed; invariant violations are returned as-is.
func Result(snap Snapshot) (*imageproc.Output, error) {
	switch snap.State {
	case Done:
		return snap.Output, nil
	case Failed:
		var violation *imageproc.InvariantViolation
		if errors.As(snap.Err, &violation) {
			return nil, snap.Err
		}
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, snap.Err)
	default:
		return nil, ErrNotFinished
	}
}

// Run crops src synchronously.
func Run(ctx context.Context, stages Stages, src imageproc.Source, opts ...Option) (*imageproc.Output, error) {
	r := NewRunner(stages, opts...)
	defer r.Close()

	token, err := r.Submit(src)
	if err != nil {
		return nil, err
	}
	snap, err := r.Wait(ctx, token)
	if err != nil {
		return nil, err
	}
	return Result(snap)
}
