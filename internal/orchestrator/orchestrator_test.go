package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framewell/framewell/internal/config"
	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/source"
)

// scoringEngine returns one barcode per frame plus a scripted clarity
// curve, so stabilization and best-frame confirmation are exercised
// end to end.
type scoringEngine struct {
	scores []float64
	calls  atomic.Int64
}

func (e *scoringEngine) Process(ctx context.Context, fr *frame.Frame, template string) (*result.Result, error) {
	n := e.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	res := &result.Result{
		FrameID:   fr.ID,
		Timestamp: time.Now(),
		Items: []result.Item{
			{Kind: result.KindBarcode, Format: "qr", Payload: []byte("code-" + template)},
		},
	}
	if int(n) <= len(e.scores) {
		res.Clarity = e.scores[n-1]
		res.HasClarity = true
	}
	return res, nil
}

func testCfg() *config.Config {
	return &config.Config{
		HTTPAddr:      ":0",
		EngineAddr:    "localhost:0",
		EngineTimeout: time.Second,
		Template:      "default",

		MaxFrameCount:   8,
		OverflowMode:    "update",
		FetchIntervalMs: -1,

		DedupForgetTime:   time.Minute,
		MinVerifiedFrames: 1,
		MaxOverlapFrames:  5,

		ClarityResetTimeout:     time.Minute,
		ClarityMinStabilization: time.Millisecond,
		ClarityMinNonImproving:  1,
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testCfg()
	cfg.OverflowMode = "bounce"
	_, err := New(cfg, &scoringEngine{}, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigInvalid))
}

func TestPublishFrameAssignsIDs(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	f1 := &frame.Frame{Data: []byte{1}}
	require.NoError(t, o.PublishFrame(f1))
	assert.Equal(t, uint64(1), f1.ID)
	assert.False(t, f1.Timestamp.IsZero())

	// Caller-provided IDs advance the sequence past themselves.
	f2 := &frame.Frame{ID: 10, Data: []byte{2}}
	require.NoError(t, o.PublishFrame(f2))
	f3 := &frame.Frame{Data: []byte{3}}
	require.NoError(t, o.PublishFrame(f3))
	assert.Equal(t, uint64(11), f3.ID)
}

func TestPublishFrameRejectsEmptyPayload(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	assert.Error(t, o.PublishFrame(nil))
	assert.Error(t, o.PublishFrame(&frame.Frame{}))
}

func TestPipelineEndToEnd(t *testing.T) {
	eng := &scoringEngine{scores: []float64{10, 15, 12, 11}}
	o, err := New(testCfg(), eng, nil)
	require.NoError(t, err)
	defer o.Close()

	stabilized := o.Hub().Stabilized.Subscribe()
	bestFrames := o.Hub().BestFrames.Subscribe()

	for i := 0; i < 4; i++ {
		require.NoError(t, o.PublishFrame(&frame.Frame{Data: []byte{byte(i)}, Format: "jpeg"}))
	}
	require.NoError(t, o.StartCapturing())

	// Dedup is on by default: the same barcode is emitted once across
	// the four frames.
	first := <-stabilized
	assert.Len(t, first.Items, 1)
	for i := 0; i < 3; i++ {
		select {
		case res := <-stabilized:
			assert.Empty(t, res.Items, "duplicate barcode must be suppressed")
		case <-time.After(2 * time.Second):
			t.Fatal("missing stabilized event")
		}
	}

	// Clarity peaked at frame 2 (score 15) and then declined.
	select {
	case bf := <-bestFrames:
		assert.Equal(t, 15.0, bf.Score)
	case <-time.After(2 * time.Second):
		t.Fatal("no best frame confirmed")
	}

	bf, ok := o.BestFrame()
	require.True(t, ok)
	assert.Equal(t, 15.0, bf.Score)
}

func TestCaptureRestart(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, o.StartCapturing())
	err = o.StartCapturing()
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))

	o.StopCapturing()
	assert.Equal(t, "stopped", o.Status().LoopState)

	require.NoError(t, o.StartCapturing())
	assert.NotEqual(t, "stopped", o.Status().LoopState)
}

func TestPauseResumeRequireRunningLoop(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	assert.Error(t, o.PauseCapturing())
	require.NoError(t, o.StartCapturing())
	require.NoError(t, o.PauseCapturing())
	require.NoError(t, o.ResumeCapturing())
}

func TestSourcePumpExhaustsLoop(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, source.NewSynthetic(200, 3))
	require.NoError(t, err)
	defer o.Close()

	states := o.Hub().States.Subscribe()
	require.NoError(t, o.StartCapturing())
	require.NoError(t, o.StartFetching())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-states:
			if st == result.StateExhausted {
				return
			}
		case <-deadline:
			t.Fatal("loop never saw source exhaustion")
		}
	}
}

func TestControlValidation(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	assert.Error(t, o.SetOverflowMode("bounce"))
	assert.NoError(t, o.SetOverflowMode("block"))
	assert.Equal(t, "block", o.Status().OverflowMode)

	assert.Error(t, o.SetMaxFrameCount(0))
	assert.NoError(t, o.SetMaxFrameCount(3))
	assert.Equal(t, 3, o.Status().BufferMax)

	assert.Error(t, o.SetFetchInterval(-2))
	assert.NoError(t, o.SetFetchInterval(100))

	assert.Error(t, o.SetTemplate(""))
	assert.NoError(t, o.SetTemplate("receipt"))
	assert.Equal(t, "receipt", o.Status().Template)

	assert.Error(t, o.EnableDeduplication("hologram", true))
	assert.NoError(t, o.EnableDeduplication("barcode", false))
	st, err := o.KindSettings("barcode")
	require.NoError(t, err)
	assert.False(t, st.DedupEnabled)
}

func TestStatusSnapshot(t *testing.T) {
	o, err := New(testCfg(), &scoringEngine{}, nil)
	require.NoError(t, err)
	defer o.Close()

	st := o.Status()
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "stopped", st.LoopState)
	assert.Equal(t, 0, st.BufferLen)
	assert.Equal(t, 8, st.BufferMax)
	assert.False(t, st.BestConfirmed)
}
