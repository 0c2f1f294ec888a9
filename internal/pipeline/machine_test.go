package pipeline

import (
	"errors"
	"testing"

	"squarecrop/internal/imageproc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepHappyPath(t *testing.T) {
	bmp := testBitmap(t, 4, 8)
	region := imageproc.Region{X: 0, Y: 2, Width: 4, Height: 4}
	out := &imageproc.Output{Data: []byte{1}, Width: 4, Height: 4}

	s, effects := Step(Snapshot{}, Event{Kind: EventSubmit, Token: 1})
	assert.Equal(t, Loading, s.State)
	assert.Equal(t, []Effect{{Kind: EffectLoad, Token: 1}}, effects)

	s, effects = Step(s, Event{Kind: EventLoaded, Token: 1, Bitmap: bmp})
	assert.Equal(t, Planning, s.State)
	assert.Equal(t, []Effect{{Kind: EffectPlan, Token: 1, Bitmap: bmp}}, effects)

	s, effects = Step(s, Event{Kind: EventPlanned, Token: 1, Region: region})
	assert.Equal(t, Rendering, s.State)
	assert.Equal(t, []Effect{{Kind: EffectRender, Token: 1, Bitmap: bmp, Region: region}}, effects)

	s, effects = Step(s, Event{Kind: EventRendered, Token: 1, Output: out})
	assert.Equal(t, Snapshot{State: Done, Token: 1, SourceWidth: 4, SourceHeight: 8, Region: region, Output: out}, s)
	assert.Equal(t, []Effect{{Kind: EffectSettle, Token: 1}}, effects)
}

func TestStepFailures(t *testing.T) {
	boom := errors.New("boom")

	s, _ := Step(Snapshot{}, Event{Kind: EventSubmit, Token: 1})
	s, effects := Step(s, Event{Kind: EventFailed, Token: 1, Err: boom})
	assert.Equal(t, Failed, s.State)
	assert.Equal(t, boom, s.Err)
	assert.Equal(t, []Effect{{Kind: EffectSettle, Token: 1}}, effects)

	// Failed is terminal: completions are ignored until a new submission.
	next, effects := Step(s, Event{Kind: EventLoaded, Token: 1})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	// Planning is pure and cannot fail.
	planning := Snapshot{State: Planning, Token: 3}
	next, effects = Step(planning, Event{Kind: EventFailed, Token: 3, Err: boom})
	assert.Equal(t, planning, next)
	assert.Empty(t, effects)

	rendering := Snapshot{State: Rendering, Token: 4}
	next, _ = Step(rendering, Event{Kind: EventFailed, Token: 4, Err: boom})
	assert.Equal(t, Failed, next.State)
}

func TestStepDropsStaleTokens(t *testing.T) {
	s, _ := Step(Snapshot{}, Event{Kind: EventSubmit, Token: 1})
	s, effects := Step(s, Event{Kind: EventSubmit, Token: 2})
	require.Equal(t, Loading, s.State)
	assert.Equal(t, []Effect{{Kind: EffectCancel, Token: 1}, {Kind: EffectLoad, Token: 2}}, effects)

	next, effects := Step(s, Event{Kind: EventLoaded, Token: 1, Bitmap: testBitmap(t, 2, 2)})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)

	next, effects = Step(s, Event{Kind: EventFailed, Token: 1, Err: errors.New("late")})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestStepReset(t *testing.T) {
	s, _ := Step(Snapshot{}, Event{Kind: EventSubmit, Token: 1})
	s, effects := Step(s, Event{Kind: EventReset, Token: 2})
	assert.Equal(t, Snapshot{State: Idle, Token: 2}, s)
	assert.Equal(t, []Effect{{Kind: EffectCancel, Token: 1}}, effects)

	done := Snapshot{State: Done, Token: 5, Output: &imageproc.Output{}}
	s, effects = Step(done, Event{Kind: EventReset, Token: 6})
	assert.Equal(t, Snapshot{State: Idle, Token: 6}, s)
	assert.Empty(t, effects)
}

func TestStepSubmitRestartsSettledSnapshots(t *testing.T) {
	settled := []Snapshot{
		{State: Done, Token: 3, SourceWidth: 4, SourceHeight: 8, Region: imageproc.Region{Width: 4, Height: 4}, Output: &imageproc.Output{Data: []byte{1}}},
		{State: Failed, Token: 3, SourceWidth: 4, SourceHeight: 8, Err: errors.New("boom")},
		{State: Idle, Token: 3},
	}
	for _, s := range settled {
		next, effects := Step(s, Event{Kind: EventSubmit, Token: 4})
		assert.Equal(t, Snapshot{State: Loading, Token: 4}, next, s.State.String())
		assert.Equal(t, []Effect{{Kind: EffectLoad, Token: 4}}, effects, s.State.String())
	}
}

func TestStepOutOfOrderEvents(t *testing.T) {
	loading := Snapshot{State: Loading, Token: 1}
	for _, kind := range []EventKind{EventPlanned, EventRendered} {
		next, effects := Step(loading, Event{Kind: kind, Token: 1})
		assert.Equal(t, loading, next)
		assert.Empty(t, effects)
	}
}

func TestStateStrings(t *testing.T) {
	names := map[State]string{
		Idle: "idle", Loading: "loading", Planning: "planning",
		Rendering: "rendering", Done: "done", Failed: "failed",
	}
	for state, name := range names {
		assert.Equal(t, name, state.String())
	}
	assert.True(t, Planning.Busy())
	assert.False(t, Done.Busy())
	assert.True(t, Failed.Terminal())
	assert.False(t, Idle.Terminal())
}
