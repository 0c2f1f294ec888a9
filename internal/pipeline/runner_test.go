package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"squarecrop/internal/imageproc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBitmap(t *testing.T, w, h int) *imageproc.Bitmap {
	t.Helper()
	bmp, err := imageproc.NewBitmap(image.NewNRGBA(image.Rect(0, 0, w, h)), "png")
	require.NoError(t, err)
	return bmp
}

type testSource struct {
	data []byte
	gate chan struct{}
}

func (s *testSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func pngSource(t *testing.T, w, h int) *testSource {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return &testSource{data: buf.Bytes()}
}

// gatedStages blocks Load on the source's gate and ignores cancellation, so
// superseded loads still complete.
type gatedStages struct {
	Processor
	plan func(*imageproc.Bitmap) imageproc.Region
}

func (g gatedStages) Load(ctx context.Context, src imageproc.Source) (*imageproc.Bitmap, error) {
	if ts, ok := src.(*testSource); ok && ts.gate != nil {
		<-ts.gate
	}
	return g.Processor.Load(context.Background(), src)
}

func (g gatedStages) Plan(b *imageproc.Bitmap) imageproc.Region {
	if g.plan != nil {
		return g.plan(b)
	}
	return g.Processor.Plan(b)
}

// messageHandler forwards log messages to a channel.
type messageHandler struct {
	messages chan string
}

func (h messageHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h messageHandler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.messages <- rec.Message:
	default:
	}
	return nil
}

func (h messageHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h messageHandler) WithGroup(string) slog.Handler { return h }

func waitFor(t *testing.T, messages <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-messages:
			if msg == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for log message %q", want)
		}
	}
}

func newStages() gatedStages {
	return gatedStages{Processor: Processor{Encoding: imageproc.DefaultEncoding}}
}

func TestRunCropsToSquare(t *testing.T) {
	out, err := Run(context.Background(), newStages(), pngSource(t, 400, 800))
	require.NoError(t, err)
	assert.Equal(t, 400, out.Width)
	assert.Equal(t, 400, out.Height)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 400, cfg.Height)
}

func TestRunDecodeFailure(t *testing.T) {
	out, err := Run(context.Background(), newStages(), &testSource{data: []byte("garbage")})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrProcessingFailed)
	var decodeErr *imageproc.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRunInvariantViolation(t *testing.T) {
	stages := newStages()
	stages.plan = func(b *imageproc.Bitmap) imageproc.Region {
		return imageproc.Region{X: 1, Y: 1, Width: b.Width(), Height: b.Width()}
	}
	out, err := Run(context.Background(), stages, pngSource(t, 10, 10))
	assert.Nil(t, out)
	var violation *imageproc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.NotErrorIs(t, err, ErrProcessingFailed)
}

func TestStaleCompletionCannotOverwrite(t *testing.T) {
	messages := make(chan string, 64)
	var mu sync.Mutex
	var settled []Token
	r := NewRunner(newStages(),
		WithLogger(slog.New(messageHandler{messages: messages})),
		WithSettleHook(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			settled = append(settled, s.Token)
		}),
	)
	defer r.Close()

	slow := pngSource(t, 40, 80)
	slow.gate = make(chan struct{})
	first, err := r.Submit(slow)
	require.NoError(t, err)

	second, err := r.Submit(pngSource(t, 30, 10))
	require.NoError(t, err)

	snap, err := r.Wait(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, Done, snap.State)
	assert.Equal(t, 10, snap.Output.Width)

	_, err = r.Wait(context.Background(), first)
	assert.ErrorIs(t, err, ErrSuperseded)

	close(slow.gate)
	waitFor(t, messages, "stale crop event dropped")

	final := r.Snapshot()
	assert.Equal(t, second, final.Token)
	assert.Equal(t, Done, final.State)
	assert.Equal(t, 10, final.Output.Width)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Token{second}, settled)
}

func TestResetDiscardsInFlight(t *testing.T) {
	messages := make(chan string, 64)
	r := NewRunner(newStages(), WithLogger(slog.New(messageHandler{messages: messages})))
	defer r.Close()

	slow := pngSource(t, 8, 8)
	slow.gate = make(chan struct{})
	token, err := r.Submit(slow)
	require.NoError(t, err)

	r.Reset()
	snap, err := r.Wait(context.Background(), token)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, Idle, snap.State)

	close(slow.gate)
	waitFor(t, messages, "stale crop event dropped")
	assert.Equal(t, Idle, r.Snapshot().State)
	assert.Nil(t, r.Snapshot().Output)
}

func TestResubmitAfterFailure(t *testing.T) {
	r := NewRunner(newStages())
	defer r.Close()

	token, err := r.Submit(&testSource{})
	require.NoError(t, err)
	snap, err := r.Wait(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, Failed, snap.State)
	_, err = Result(snap)
	require.ErrorIs(t, err, imageproc.ErrEmptySource)

	token, err = r.Submit(pngSource(t, 500, 500))
	require.NoError(t, err)
	snap, err = r.Wait(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Done, snap.State)
	assert.Equal(t, imageproc.Region{Width: 500, Height: 500}, snap.Region)
	assert.Nil(t, snap.Err)
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRunner(newStages())
	defer r.Close()

	slow := pngSource(t, 2, 2)
	slow.gate = make(chan struct{})
	defer close(slow.gate)
	token, err := r.Submit(slow)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx, token)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubmitAfterClose(t *testing.T) {
	r := NewRunner(newStages())
	r.Close()
	_, err := r.Submit(pngSource(t, 1, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResultBeforeSettle(t *testing.T) {
	_, err := Result(Snapshot{State: Rendering})
	assert.ErrorIs(t, err, ErrNotFinished)
}
