// Package pipeline sequences load, plan and render for one image source at a
// time. Step is the pure transition function; Runner performs its effects.
package pipeline

import (
	"squarecrop/internal/imageproc"
)

type State int

const (
	Idle State = iota
	Loading
	Planning
	Rendering
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Planning:
		return "planning"
	case Rendering:
		return "rendering"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether work for the current token is outstanding.
func (s State) Busy() bool {
	return s == Loading || s == Planning || s == Rendering
}

func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Token identifies one submission. Completions carrying an older token are
// dropped.
type Token uint64

type EventKind int

const (
	EventSubmit EventKind = iota
	EventLoaded
	EventPlanned
	EventRendered
	EventFailed
	EventReset
)

type Event struct {
	Kind   EventKind
	Token  Token
	Bitmap *imageproc.Bitmap
	Region imageproc.Region
	Output *imageproc.Output
	Err    error
}

type EffectKind int

const (
	// EffectCancel abandons the work of Effect.Token.
	EffectCancel EffectKind = iota
	EffectLoad
	EffectPlan
	EffectRender
	// EffectSettle reports that Effect.Token reached Done or Failed.
	EffectSettle
)

type Effect struct {
	Kind   EffectKind
	Token  Token
	Bitmap *imageproc.Bitmap
	Region imageproc.Region
}

// Snapshot is the observable pipeline state. Bitmap is only held while a
// render is pending; the source dimensions outlive it.
type Snapshot struct {
	State        State
	Token        Token
	Bitmap       *imageproc.Bitmap
	SourceWidth  int
	SourceHeight int
	Region       imageproc.Region
	Output       *imageproc.Output
	Err          error
}

// Step applies e to s. Events for a token other than s.Token, or that do not
// apply in s.State, leave s unchanged and produce no effects.
//
// Submit and Reset apply in every state. A Submit from Done or Failed passes
// through Idle implicitly: the previous output and error are dropped and the
// new generation starts Loading. A Submit while busy also cancels the running
// generation.
func Step(s Snapshot, e Event) (Snapshot, []Effect) {
	switch e.Kind {
	case EventSubmit:
		effects := cancelBusy(s)
		next := Snapshot{State: Loading, Token: e.Token}
		return next, append(effects, Effect{Kind: EffectLoad, Token: e.Token})
	case EventReset:
		return Snapshot{State: Idle, Token: e.Token}, cancelBusy(s)
	}

	if e.Token != s.Token {
		return s, nil
	}

	switch {
	case e.Kind == EventLoaded && s.State == Loading:
		next := Snapshot{State: Planning, Token: s.Token, Bitmap: e.Bitmap}
		if e.Bitmap != nil {
			next.SourceWidth, next.SourceHeight = e.Bitmap.Width(), e.Bitmap.Height()
		}
		return next, []Effect{{Kind: EffectPlan, Token: s.Token, Bitmap: e.Bitmap}}
	case e.Kind == EventPlanned && s.State == Planning:
		next := s
		next.State, next.Region = Rendering, e.Region
		return next, []Effect{{Kind: EffectRender, Token: s.Token, Bitmap: s.Bitmap, Region: e.Region}}
	case e.Kind == EventRendered && s.State == Rendering:
		next := s
		next.State, next.Bitmap, next.Output = Done, nil, e.Output
		return next, []Effect{{Kind: EffectSettle, Token: s.Token}}
	case e.Kind == EventFailed && (s.State == Loading || s.State == Rendering):
		next := s
		next.State, next.Bitmap, next.Err = Failed, nil, e.Err
		return next, []Effect{{Kind: EffectSettle, Token: s.Token}}
	}
	return s, nil
}

func cancelBusy(s Snapshot) []Effect {
	if !s.State.Busy() {
		return nil
	}
	return []Effect{{Kind: EffectCancel, Token: s.Token}}
}
