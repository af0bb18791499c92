// Package stabilize turns the engine's noisy per-frame output into a
// stable result stream. Three independently configurable gates run per
// result kind: deduplication with a forget time, cross-frame
// verification, and latest-overlapping smoothing. The stabilizer is a
// pure per-frame reducer over private maps, called only from the loop
// goroutine; the settings alone sit behind a guard so control calls
// from application goroutines stay safe.
package stabilize

import (
	"sort"
	"time"

	apperrors "github.com/framewell/framewell/internal/errors"
	"github.com/framewell/framewell/internal/result"
	"github.com/framewell/framewell/internal/syncx"
)

// Settings configure the gates for one result kind. A kind with no gate
// enabled passes items through unchanged; the stabilizer only filters
// and merges, it never invents items.
type Settings struct {
	DedupEnabled bool
	ForgetTime   time.Duration

	VerifyEnabled  bool
	MinConsecutive int // frames a fingerprint must appear in consecutively

	OverlapEnabled   bool
	MaxOverlapFrames int // how long a missing fingerprint keeps its last value
}

type verifyEntry struct {
	consecutive int
	lastFrame   uint64
}

type overlapEntry struct {
	item      result.Item
	lastFrame uint64
}

// Stabilizer holds per-kind gate state across frames.
type Stabilizer struct {
	settings *syncx.RWGuard[[result.KindCount]Settings]
	printers [result.KindCount]Fingerprinter

	// Dedup entries are never deleted; the forget time is checked on
	// lookup, so stale entries are harmless.
	dedup   [result.KindCount]map[string]time.Time
	verify  [result.KindCount]map[string]*verifyEntry
	overlap [result.KindCount]map[string]*overlapEntry

	frameIndex uint64

	now func() time.Time // swapped in tests
}

// New creates a stabilizer with the given defaults applied to every
// kind and the built-in fingerprint policies.
func New(defaults Settings) *Stabilizer {
	var all [result.KindCount]Settings
	for k := range all {
		all[k] = defaults
	}
	s := &Stabilizer{
		settings: syncx.NewGuard(all),
		printers: DefaultFingerprinters(),
		now:      time.Now,
	}
	for k := range s.dedup {
		s.dedup[k] = make(map[string]time.Time)
		s.verify[k] = make(map[string]*verifyEntry)
		s.overlap[k] = make(map[string]*overlapEntry)
	}
	return s
}

// SetFingerprinter replaces the fingerprint policy for one kind.
// Call before the pipeline starts; existing per-fingerprint state keyed
// by the old policy is not migrated.
func (s *Stabilizer) SetFingerprinter(kind result.Kind, fp Fingerprinter) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if fp == nil {
		return apperrors.New(apperrors.CodeConfigInvalid, "fingerprinter must not be nil")
	}
	s.printers[kind] = fp
	return nil
}

// EnableDeduplication toggles the duplicate filter for one kind.
func (s *Stabilizer) EnableDeduplication(kind result.Kind, on bool) error {
	return s.update(kind, func(st *Settings) { st.DedupEnabled = on })
}

// SetForgetTime sets how long a seen fingerprint counts as a duplicate.
func (s *Stabilizer) SetForgetTime(kind result.Kind, d time.Duration) error {
	if d < 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "forget time must not be negative, got %s", d)
	}
	return s.update(kind, func(st *Settings) { st.ForgetTime = d })
}

// EnableVerification toggles cross-frame verification for one kind.
func (s *Stabilizer) EnableVerification(kind result.Kind, on bool) error {
	return s.update(kind, func(st *Settings) { st.VerifyEnabled = on })
}

// SetMinConsecutive sets how many consecutive frames a fingerprint must
// appear in before its items are forwarded.
func (s *Stabilizer) SetMinConsecutive(kind result.Kind, n int) error {
	if n < 1 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "min consecutive frames must be at least 1, got %d", n)
	}
	return s.update(kind, func(st *Settings) { st.MinConsecutive = n })
}

// EnableLatestOverlapping toggles latest-overlapping smoothing.
func (s *Stabilizer) EnableLatestOverlapping(kind result.Kind, on bool) error {
	return s.update(kind, func(st *Settings) { st.OverlapEnabled = on })
}

// SetMaxOverlapFrames sets the smoothing window length in frames.
func (s *Stabilizer) SetMaxOverlapFrames(kind result.Kind, n int) error {
	if n < 1 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "max overlapping frames must be at least 1, got %d", n)
	}
	return s.update(kind, func(st *Settings) { st.MaxOverlapFrames = n })
}

// KindSettings returns a copy of the settings for one kind.
func (s *Stabilizer) KindSettings(kind result.Kind) (Settings, error) {
	if err := validKind(kind); err != nil {
		return Settings{}, err
	}
	return s.settings.Get()[kind], nil
}

func (s *Stabilizer) update(kind result.Kind, fn func(*Settings)) error {
	if err := validKind(kind); err != nil {
		return err
	}
	s.settings.Write(func(all *[result.KindCount]Settings) { fn(&all[kind]) })
	return nil
}

func validKind(kind result.Kind) error {
	if kind >= result.KindCount {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "invalid result kind %d", kind)
	}
	return nil
}

// Ingest reduces one raw per-frame batch into the stabilized item set
// for that frame. Items suppressed by a gate stay tracked and keep
// influencing future frames through the per-fingerprint state.
func (s *Stabilizer) Ingest(res *result.Result) []result.Item {
	s.frameIndex++
	now := s.now()
	cfg := s.settings.Get()

	type keyed struct {
		item result.Item
		fp   string
	}
	batch := make([]keyed, 0, len(res.Items))
	present := [result.KindCount]map[string]bool{}
	for _, it := range res.Items {
		if it.Kind >= result.KindCount {
			continue
		}
		fp := s.printers[it.Kind].Fingerprint(it)
		batch = append(batch, keyed{item: it, fp: fp})
		if present[it.Kind] == nil {
			present[it.Kind] = make(map[string]bool)
		}
		present[it.Kind][fp] = true
	}

	// Verification counters track raw presence, before any gate drops
	// items: a fingerprint suppressed as a duplicate still extends its
	// consecutive run.
	for kind := result.Kind(0); kind < result.KindCount; kind++ {
		for fp := range present[kind] {
			e := s.verify[kind][fp]
			if e != nil && e.lastFrame == s.frameIndex-1 {
				e.consecutive++
				e.lastFrame = s.frameIndex
			} else {
				s.verify[kind][fp] = &verifyEntry{consecutive: 1, lastFrame: s.frameIndex}
			}
		}
		// A fingerprint missing from this batch loses its run;
		// partial, non-consecutive detections never accumulate.
		for _, e := range s.verify[kind] {
			if e.lastFrame != s.frameIndex {
				e.consecutive = 0
			}
		}
	}

	var out []result.Item

	for _, k := range batch {
		st := cfg[k.item.Kind]

		if st.DedupEnabled {
			last, seen := s.dedup[k.item.Kind][k.fp]
			if seen && now.Sub(last) < st.ForgetTime {
				continue // suppressed as duplicate
			}
			s.dedup[k.item.Kind][k.fp] = now
		}

		if st.VerifyEnabled {
			if e := s.verify[k.item.Kind][k.fp]; e == nil || e.consecutive < st.MinConsecutive {
				continue // held back until verified
			}
		}

		if st.OverlapEnabled {
			// Latest value replaces prior occurrences; emission
			// happens once per kind below.
			s.overlap[k.item.Kind][k.fp] = &overlapEntry{item: k.item, lastFrame: s.frameIndex}
			continue
		}

		out = append(out, k.item)
	}

	// Latest-overlapping emission: forward the most recent value for
	// every fingerprint still inside the window, so a briefly missing
	// detection does not flicker out of the stream.
	for kind := result.Kind(0); kind < result.KindCount; kind++ {
		st := cfg[kind]
		if !st.OverlapEnabled {
			if len(s.overlap[kind]) > 0 {
				// Feature switched off; drop the stale window.
				s.overlap[kind] = make(map[string]*overlapEntry)
			}
			continue
		}
		if len(s.overlap[kind]) == 0 {
			continue
		}
		fps := make([]string, 0, len(s.overlap[kind]))
		for fp, e := range s.overlap[kind] {
			if s.frameIndex-e.lastFrame >= uint64(st.MaxOverlapFrames) {
				delete(s.overlap[kind], fp)
				continue
			}
			fps = append(fps, fp)
		}
		sort.Strings(fps)
		for _, fp := range fps {
			out = append(out, s.overlap[kind][fp].item)
		}
	}

	return out
}

// Reset clears all cross-frame state, keeping settings. Used when the
// scene changes completely, e.g. on a template switch.
func (s *Stabilizer) Reset() {
	for k := range s.dedup {
		s.dedup[k] = make(map[string]time.Time)
		s.verify[k] = make(map[string]*verifyEntry)
		s.overlap[k] = make(map[string]*overlapEntry)
	}
	s.frameIndex = 0
}
