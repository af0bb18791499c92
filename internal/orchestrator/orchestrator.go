// Package orchestrator wires the pipeline together: frame buffer,
// capture loop, stabilizer and clarity tracker behind one facade the
// transport layer talks to. It owns component lifecycles; the loop is
// one-shot, so restarting capture builds a fresh loop over the shared
// buffer.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/framewell/framewell/internal/capture"
	"github.com/framewell/framewell/internal/clarity"
	"github.com/framewell/framewell/internal/config"
	"github.com/framewell/framewell/internal/engine"
	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/event"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/source"
	"github.com/framewell/framewell/internal/stabilize"
	"github.com/framewell/framewell/internal/syncx"
)

// Status is a point-in-time snapshot of the pipeline, served verbatim
// over the control API.
type Status struct {
	SessionID       string                 `json:"session_id"`
	LoopState       string                 `json:"loop_state"`
	BufferLen       int                    `json:"buffer_len"`
	BufferMax       int                    `json:"buffer_max"`
	OverflowMode    string                 `json:"overflow_mode"`
	FetchIntervalMs int64                  `json:"fetch_interval_ms"`
	Template        string                 `json:"template"`
	SkippedFrames   uint64                 `json:"skipped_frames"`
	Timing          capture.TimingSnapshot `json:"timing"`
	BestConfirmed   bool                   `json:"best_confirmed"`
}

type bestSlot struct {
	bf result.BestFrame
	ok bool
}

// Orchestrator is the pipeline facade. All methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg       *config.Config
	sessionID string

	buf *frame.Buffer
	eng engine.Engine
	src source.Source
	hub *event.Hub

	stab *stabilize.Stabilizer
	clar *clarity.Tracker
	best *syncx.RWGuard[bestSlot]

	template *syncx.RWGuard[string]
	frameSeq atomic.Uint64

	loopMu sync.Mutex
	loop   *capture.Loop

	fetchMu     sync.Mutex
	fetchCancel context.CancelFunc
	fetchWg     sync.WaitGroup
	srcDone     atomic.Bool

	closeOnce sync.Once
}

// New builds the pipeline from validated configuration. The source may
// be nil when frames arrive only through PublishFrame.
func New(cfg *config.Config, eng engine.Engine, src source.Source) (*Orchestrator, error) {
	mode, err := frame.ParseOverflowMode(cfg.OverflowMode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "overflow mode")
	}
	buf, err := frame.NewBuffer(cfg.MaxFrameCount, mode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "frame buffer")
	}

	stab := stabilize.New(stabilize.Settings{
		DedupEnabled:     true,
		ForgetTime:       cfg.DedupForgetTime,
		VerifyEnabled:    cfg.MinVerifiedFrames > 1,
		MinConsecutive:   cfg.MinVerifiedFrames,
		OverlapEnabled:   false,
		MaxOverlapFrames: cfg.MaxOverlapFrames,
	})

	return &Orchestrator{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		buf:       buf,
		eng:       eng,
		src:       src,
		hub:       event.NewHub(),
		stab:      stab,
		clar: clarity.New(clarity.Config{
			ResetTimeout:     cfg.ClarityResetTimeout,
			MinStabilization: cfg.ClarityMinStabilization,
			MinNonImproving:  cfg.ClarityMinNonImproving,
		}),
		best:     syncx.NewGuard(bestSlot{}),
		template: syncx.NewGuard(cfg.Template),
	}, nil
}

// Hub exposes the event streams for subscription.
func (o *Orchestrator) Hub() *event.Hub { return o.hub }

// SessionID identifies this pipeline instance in logs and the API.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// HandleResult runs on the capture loop goroutine for every processed
// frame, in cycle order: stabilize, publish, feed the clarity tracker.
func (o *Orchestrator) HandleResult(fr *frame.Frame, res *result.Result) {
	items := o.stab.Ingest(res)
	o.hub.Stabilized.Publish(result.Result{
		FrameID:    res.FrameID,
		Timestamp:  res.Timestamp,
		Items:      items,
		Clarity:    res.Clarity,
		HasClarity: res.HasClarity,
	})

	if bf, ok := o.clar.Observe(fr, res); ok {
		o.best.Set(bestSlot{bf: bf, ok: true})
		o.hub.BestFrames.Publish(bf)
		slog.Info("best frame confirmed",
			"session_id", o.sessionID, "frame_id", bf.FrameID, "score", bf.Score)
	}
}

// StartCapturing launches the capture loop. After a stop, a new loop is
// built over the same buffer and settings.
func (o *Orchestrator) StartCapturing() error {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	if o.loop != nil && o.loop.State() != capture.StateStopped {
		return apperrors.New(apperrors.CodeInvalidArgument, "capture already running")
	}

	interval := o.cfg.FetchIntervalMs
	if o.loop != nil {
		interval = o.loop.FetchInterval() // carry runtime changes across restarts
	}
	l := capture.NewLoop(o.buf, o.eng, o.hub, o, capture.Config{
		IntervalMs:        interval,
		ProcessTimeout:    o.cfg.EngineTimeout,
		Template:          o.template.Get(),
		SkipSimilarFrames: o.cfg.SkipSimilarFrames,
		MaxHashDistance:   o.cfg.MaxHashDistance,
	})
	if o.srcDone.Load() {
		l.MarkSourceDone()
	}
	if err := l.Start(); err != nil {
		return err
	}
	o.loop = l
	slog.Info("capture started", "session_id", o.sessionID, "interval_ms", interval)
	return nil
}

// StopCapturing stops the loop and waits for it to unwind. Buffered
// frames survive for the next start.
func (o *Orchestrator) StopCapturing() {
	o.loopMu.Lock()
	l := o.loop
	o.loopMu.Unlock()
	if l != nil {
		l.Dispose()
	}
}

// PauseCapturing halts new cycles without discarding state.
func (o *Orchestrator) PauseCapturing() error {
	l, err := o.activeLoop()
	if err != nil {
		return err
	}
	l.Pause()
	return nil
}

// ResumeCapturing continues a paused loop.
func (o *Orchestrator) ResumeCapturing() error {
	l, err := o.activeLoop()
	if err != nil {
		return err
	}
	l.Resume()
	return nil
}

func (o *Orchestrator) activeLoop() (*capture.Loop, error) {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loop == nil || o.loop.State() == capture.StateStopped {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "capture not running")
	}
	return o.loop, nil
}

// StartFetching begins pumping the configured source into the buffer.
func (o *Orchestrator) StartFetching() error {
	if o.src == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "no frame source configured")
	}
	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()
	if o.fetchCancel != nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "already fetching")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.fetchCancel = cancel
	o.fetchWg.Add(1)
	go o.pump(ctx)
	return nil
}

// StopFetching halts the source pump and waits for it to exit.
func (o *Orchestrator) StopFetching() {
	o.fetchMu.Lock()
	cancel := o.fetchCancel
	o.fetchCancel = nil
	o.fetchMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.fetchWg.Wait()
}

func (o *Orchestrator) pump(ctx context.Context) {
	defer o.fetchWg.Done()
	for {
		fr, err := o.src.Next(ctx)
		switch {
		case errors.Is(err, source.ErrExhausted):
			o.markSourceDone()
			return
		case ctx.Err() != nil:
			return
		case err != nil:
			o.hub.Errors.Publish(apperrors.Wrap(err, apperrors.CodeFetchFailed, "source fetch failed"))
			continue
		}

		if err := o.PublishFrame(fr); err != nil {
			// Full buffer under block mode is backpressure: report once
			// and retry the same frame until room opens up.
			o.hub.Errors.Publish(asPublishError(err, fr.ID))
			for errors.Is(err, frame.ErrFull) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(bufferFullRetryDelay):
				}
				err = o.buf.Add(fr)
			}
		}
	}
}

func (o *Orchestrator) markSourceDone() {
	o.srcDone.Store(true)
	o.loopMu.Lock()
	if o.loop != nil {
		o.loop.MarkSourceDone()
	}
	o.loopMu.Unlock()
	slog.Info("frame source exhausted", "session_id", o.sessionID)
}

// PublishFrame places a frame into the buffer. A zero ID is assigned
// from the session sequence; caller-provided IDs advance it so the two
// schemes never collide.
func (o *Orchestrator) PublishFrame(fr *frame.Frame) error {
	if fr == nil || len(fr.Data) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "frame payload must not be empty")
	}
	if fr.ID == 0 {
		fr.ID = o.frameSeq.Add(1)
	} else {
		for {
			cur := o.frameSeq.Load()
			if fr.ID <= cur || o.frameSeq.CompareAndSwap(cur, fr.ID) {
				break
			}
		}
	}
	if fr.Timestamp.IsZero() {
		fr.Timestamp = time.Now()
	}
	if err := o.buf.Add(fr); err != nil {
		return asPublishError(err, fr.ID)
	}
	return nil
}

// SetNextFrame pins a buffered frame as the next one processed.
func (o *Orchestrator) SetNextFrame(id uint64, keepInBuffer bool) {
	o.buf.SetNext(frame.NextSelection{ID: id, KeepInBuffer: keepInBuffer})
}

// SetMaxFrameCount resizes the buffer at runtime.
func (o *Orchestrator) SetMaxFrameCount(n int) error {
	if err := o.buf.SetMaxCount(n); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "max frame count")
	}
	return nil
}

// SetOverflowMode switches the buffer overflow policy.
func (o *Orchestrator) SetOverflowMode(mode string) error {
	m, err := frame.ParseOverflowMode(mode)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "overflow mode")
	}
	o.buf.SetMode(m)
	return nil
}

// SetFetchInterval updates loop pacing: -1 serial, 0 pipelined, n>0
// minimum milliseconds between fetches.
func (o *Orchestrator) SetFetchInterval(ms int64) error {
	if ms < capture.IntervalSerial {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "fetch interval must be -1, 0 or positive, got %d", ms)
	}
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	o.cfg.FetchIntervalMs = ms
	if o.loop != nil {
		return o.loop.SetFetchInterval(ms)
	}
	return nil
}

// SetTemplate stages an engine template switch; a running loop applies
// it at the next cycle boundary.
func (o *Orchestrator) SetTemplate(name string) error {
	if name == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "template name must not be empty")
	}
	o.template.Set(name)
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loop != nil && o.loop.State() != capture.StateStopped {
		return o.loop.SetTemplate(name)
	}
	return nil
}

// Stabilizer controls, keyed by the API's string kind aliases.

func (o *Orchestrator) EnableDeduplication(kind string, on bool) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.EnableDeduplication(k, on)
}

func (o *Orchestrator) SetForgetTime(kind string, d time.Duration) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.SetForgetTime(k, d)
}

func (o *Orchestrator) EnableVerification(kind string, on bool) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.EnableVerification(k, on)
}

func (o *Orchestrator) SetMinConsecutive(kind string, n int) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.SetMinConsecutive(k, n)
}

func (o *Orchestrator) EnableLatestOverlapping(kind string, on bool) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.EnableLatestOverlapping(k, on)
}

func (o *Orchestrator) SetMaxOverlapFrames(kind string, n int) error {
	k, err := parseKind(kind)
	if err != nil {
		return err
	}
	return o.stab.SetMaxOverlapFrames(k, n)
}

func (o *Orchestrator) KindSettings(kind string) (stabilize.Settings, error) {
	k, err := parseKind(kind)
	if err != nil {
		return stabilize.Settings{}, err
	}
	return o.stab.KindSettings(k)
}

func parseKind(s string) (result.Kind, error) {
	k, err := result.ParseKind(s)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "result kind")
	}
	return k, nil
}

// BestFrame returns the confirmed best frame, if one exists.
func (o *Orchestrator) BestFrame() (result.BestFrame, bool) {
	s := o.best.Get()
	return s.bf, s.ok
}

// Status snapshots the pipeline for the control API.
func (o *Orchestrator) Status() Status {
	st := Status{
		SessionID:     o.sessionID,
		LoopState:     capture.StateStopped.String(),
		BufferLen:     o.buf.Len(),
		BufferMax:     o.buf.MaxCount(),
		OverflowMode:  o.buf.Mode().String(),
		Template:      o.template.Get(),
		BestConfirmed: o.best.Get().ok,
	}
	o.loopMu.Lock()
	st.FetchIntervalMs = o.cfg.FetchIntervalMs
	if o.loop != nil {
		st.LoopState = o.loop.State().String()
		st.FetchIntervalMs = o.loop.FetchInterval()
		st.SkippedFrames = o.loop.SkippedFrames()
		st.Timing = o.loop.Timing()
	}
	o.loopMu.Unlock()
	return st
}

// Close tears the pipeline down: pump first, then loop, then streams.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.StopFetching()
		o.StopCapturing()
		o.hub.Close()
		slog.Info("pipeline closed", "session_id", o.sessionID)
	})
}

func asPublishError(err error, frameID uint64) *apperrors.AppError {
	if errors.Is(err, frame.ErrFull) {
		return apperrors.Wrap(err, apperrors.CodeBufferFull, "frame buffer full").
			WithMetadata("frame_id", formatID(frameID))
	}
	if ae, ok := err.(*apperrors.AppError); ok {
		return ae
	}
	return apperrors.Wrap(err, apperrors.CodeFetchFailed, "frame publish failed")
}
