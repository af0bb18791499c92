// Package capture runs the frame acquisition and processing loop: it
// drains the frame buffer, invokes the engine under a per-call timeout,
// times both phases, and paces itself from the measurements.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framewell/framewell/internal/engine"
	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/event"
	"github.com/framewell/framewell/internal/frame"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/syncx"
	"github.com/framewell/framewell/internal/trace"
)

// State is the loop's lifecycle phase.
type State uint32

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StatePaused
	StateStopped
)

func (s State) String() string {
	return [...]string{"idle", "fetching", "processing", "paused", "stopped"}[s]
}

// Fetch interval sentinels for SetFetchInterval.
const (
	// IntervalSerial never starts fetching frame N+1 before the engine
	// call for frame N has returned.
	IntervalSerial int64 = -1
	// IntervalPipelined overlaps the fetch of frame N+1 with the
	// processing of frame N.
	IntervalPipelined int64 = 0
)

// emptyRecheckInterval bounds the wait for frames when the buffer
// notify pulse was consumed by an earlier cycle.
const emptyRecheckInterval = 250 * time.Millisecond

// Sink receives each successfully processed frame on the loop
// goroutine, in cycle order. Implementations run the stabilizer and
// clarity tracker and therefore need no locking of their own.
type Sink interface {
	HandleResult(fr *frame.Frame, res *result.Result)
}

// Config holds the loop's initial settings.
type Config struct {
	IntervalMs        int64
	ProcessTimeout    time.Duration
	Template          string
	SkipSimilarFrames bool
	MaxHashDistance   int
}

// Loop is the capture state machine. One goroutine owns the cycle;
// controls are safe to call from any goroutine.
type Loop struct {
	buf  *frame.Buffer
	eng  engine.Engine
	hub  *event.Hub
	sink Sink

	gate   *similarityGate
	timing *syncx.RWGuard[timingWindow]

	intervalMs  atomic.Int64
	procTimeout time.Duration

	template string // loop goroutine only
	pending  *syncx.RWGuard[string]

	state   atomic.Uint32
	srcDone atomic.Bool

	// Pipelined-mode prefetch; loop goroutine only.
	prefetchCh      chan *frame.Frame
	prefetchPending bool
	emptySignaled   bool

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	disposed atomic.Bool

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	wg sync.WaitGroup
}

var errLoopStopped = errors.New("capture loop stopped")

// NewLoop creates a loop over the given buffer and engine. Events go to
// hub; processed results additionally go to sink, synchronously.
func NewLoop(buf *frame.Buffer, eng engine.Engine, hub *event.Hub, sink Sink, cfg Config) *Loop {
	l := &Loop{
		buf:         buf,
		eng:         eng,
		hub:         hub,
		sink:        sink,
		timing:      syncx.NewGuard(timingWindow{}),
		procTimeout: cfg.ProcessTimeout,
		template:    cfg.Template,
		pending:     syncx.NewGuard(""),
		prefetchCh:  make(chan *frame.Frame, 1),
		stopCh:      make(chan struct{}),
	}
	l.intervalMs.Store(cfg.IntervalMs)
	if cfg.SkipSimilarFrames {
		l.gate = newSimilarityGate(cfg.MaxHashDistance)
	}
	return l
}

// Start launches the loop goroutine. A loop runs once; after Stop a new
// loop must be constructed.
func (l *Loop) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return apperrors.New(apperrors.CodeInvalidArgument, "capture loop already started")
	}
	l.wg.Add(1)
	go l.run()
	return nil
}

func (l *Loop) run() {
	defer l.wg.Done()
	defer l.state.Store(uint32(StateStopped))

	for {
		if !l.awaitRunnable() {
			return
		}

		// Staged template switches apply at cycle start, never
		// mid-flight.
		if t := l.pending.Swap(""); t != "" {
			l.template = t
			slog.Info("engine template switched", "template", t)
		}

		l.state.Store(uint32(StateFetching))
		fetchStart := time.Now()
		fr, ok := l.nextFrame()
		if !ok {
			return
		}
		fetchElapsed := time.Since(fetchStart)

		if l.gate != nil && l.gate.shouldSkip(fr.Data) {
			l.state.Store(uint32(StateIdle))
			continue
		}

		if l.intervalMs.Load() == IntervalPipelined {
			l.startPrefetch()
		}

		l.state.Store(uint32(StateProcessing))
		procStart := time.Now()
		res, err := l.invoke(fr)
		procElapsed := time.Since(procStart)

		l.timing.Write(func(w *timingWindow) { w.record(fetchElapsed, procElapsed) })

		switch {
		case errors.Is(err, errLoopStopped):
			return
		case err != nil:
			l.hub.Errors.Publish(asAppError(err, fr.ID))
		default:
			if l.stopped() {
				// Stop arrived while the engine was finishing;
				// the in-flight result is discarded.
				return
			}
			l.hub.Results.Publish(*res)
			if l.sink != nil {
				l.sink.HandleResult(fr, res)
			}
		}

		l.state.Store(uint32(StateIdle))
		if !l.pace(procElapsed) {
			return
		}
	}
}

// awaitRunnable blocks while paused. Returns false on stop.
func (l *Loop) awaitRunnable() bool {
	for {
		if l.stopped() {
			return false
		}
		l.pauseMu.Lock()
		if !l.paused {
			l.pauseMu.Unlock()
			return true
		}
		ch := l.resumeCh
		l.pauseMu.Unlock()

		l.state.Store(uint32(StatePaused))
		select {
		case <-ch:
			l.state.Store(uint32(StateIdle))
		case <-l.stopCh:
			return false
		}
	}
}

// nextFrame returns the next frame to process: a pending prefetch
// result first, otherwise the buffer head, waiting when the buffer is
// empty. Returns false on stop or source exhaustion.
func (l *Loop) nextFrame() (*frame.Frame, bool) {
	if l.prefetchPending {
		l.prefetchPending = false
		select {
		case fr := <-l.prefetchCh:
			if fr != nil {
				return fr, true
			}
		case <-l.stopCh:
			return nil, false
		}
	}

	for {
		if fr, ok := l.buf.Get(); ok {
			l.emptySignaled = false
			return fr, true
		}
		if l.srcDone.Load() {
			l.hub.States.Publish(result.StateExhausted)
			l.Stop()
			return nil, false
		}
		if !l.emptySignaled {
			l.hub.States.Publish(result.StateEmpty)
			l.emptySignaled = true
		}
		select {
		case <-l.buf.Notify():
		case <-time.After(emptyRecheckInterval):
		case <-l.stopCh:
			return nil, false
		}
	}
}

// startPrefetch begins fetching the next frame while the current one is
// being processed. Exactly one value is delivered per prefetch, nil when
// the buffer was empty, so FIFO order is preserved.
func (l *Loop) startPrefetch() {
	l.prefetchPending = true
	go func() {
		fr, _ := l.buf.Get()
		l.prefetchCh <- fr
	}()
}

// invoke runs the engine call under the per-call timeout. A timeout or
// stop abandons the call; the engine goroutine is allowed to finish but
// its result is discarded.
func (l *Loop) invoke(fr *frame.Frame) (*result.Result, error) {
	ctx, span := trace.StartSpan(context.Background(), "engine_process")
	defer span.End()
	span.SetAttr("frame_id", fr.ID)
	span.SetAttr("template", l.template)

	ctx, cancel := context.WithTimeout(ctx, l.procTimeout)
	defer cancel()

	type outcome struct {
		res *result.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := l.eng.Process(ctx, fr, l.template)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		span.SetAttr("timeout", true)
		return nil, apperrors.Newf(apperrors.CodeProcessTimeout,
			"engine call for frame %d exceeded %s", fr.ID, l.procTimeout)
	case <-l.stopCh:
		return nil, errLoopStopped
	}
}

// pace waits out the configured minimum interval before the next fetch,
// smoothing against jitter with the rolling process-time average.
// Returns false on stop.
func (l *Loop) pace(procElapsed time.Duration) bool {
	iv := l.intervalMs.Load()
	if iv <= 0 {
		return !l.stopped()
	}

	avg := l.timing.Get().averageProcess()
	if avg <= 0 {
		avg = procElapsed
	}
	wait := time.Duration(iv)*time.Millisecond - avg
	if wait <= 0 {
		return !l.stopped()
	}

	select {
	case <-time.After(wait):
		return true
	case <-l.stopCh:
		return false
	}
}

// Pause halts new cycle starts without tearing down state.
func (l *Loop) Pause() {
	l.pauseMu.Lock()
	defer l.pauseMu.Unlock()
	if !l.paused {
		l.paused = true
		l.resumeCh = make(chan struct{})
	}
}

// Resume continues a paused loop.
func (l *Loop) Resume() {
	l.pauseMu.Lock()
	defer l.pauseMu.Unlock()
	if l.paused {
		l.paused = false
		close(l.resumeCh)
	}
}

// Stop cancels any pending wait and transitions to stopped. The frame
// buffer is left untouched for inspection.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Dispose stops the loop and waits for the goroutine to unwind.
// Idempotent; errors during teardown are logged, never propagated.
func (l *Loop) Dispose() {
	l.Stop()
	l.wg.Wait()
	if l.disposed.CompareAndSwap(false, true) {
		slog.Debug("capture loop disposed", "skipped_frames", l.SkippedFrames())
	}
}

// MarkSourceDone tells the loop the producer is finished; once the
// buffer drains, the loop emits EXHAUSTED and stops. A loop waiting on
// an empty buffer notices within emptyRecheckInterval.
func (l *Loop) MarkSourceDone() {
	l.srcDone.Store(true)
}

// SetFetchInterval updates pacing: -1 serial, 0 pipelined, n>0 minimum
// milliseconds between fetches.
func (l *Loop) SetFetchInterval(ms int64) error {
	if ms < IntervalSerial {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "fetch interval must be -1, 0 or positive, got %d", ms)
	}
	l.intervalMs.Store(ms)
	return nil
}

// FetchInterval returns the current pacing setting in milliseconds.
func (l *Loop) FetchInterval() int64 { return l.intervalMs.Load() }

// SetTemplate stages an engine template switch, applied at the start of
// the next cycle.
func (l *Loop) SetTemplate(name string) error {
	if name == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "template name must not be empty")
	}
	l.pending.Set(name)
	return nil
}

// State returns the current lifecycle phase.
func (l *Loop) State() State { return State(l.state.Load()) }

// Timing returns the rolling fetch/process averages.
func (l *Loop) Timing() TimingSnapshot {
	w := l.timing.Get()
	return TimingSnapshot{
		FetchAvg:   w.averageFetch(),
		ProcessAvg: w.averageProcess(),
		Samples:    w.count,
	}
}

// SkippedFrames returns how many frames the similarity gate dropped.
func (l *Loop) SkippedFrames() uint64 {
	if l.gate == nil {
		return 0
	}
	return l.gate.skipped.Load()
}

func (l *Loop) stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func asAppError(err error, frameID uint64) *apperrors.AppError {
	id := strconv.FormatUint(frameID, 10)
	if ae, ok := err.(*apperrors.AppError); ok {
		return ae.WithMetadata("frame_id", id)
	}
	return apperrors.Wrap(err, apperrors.CodeProcessFailed, "engine processing failed").WithMetadata("frame_id", id)
}
