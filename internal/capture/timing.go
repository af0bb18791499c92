package capture

import "time"

// timingWindowSize is the number of recent cycles kept for pacing.
const timingWindowSize = 3

// timingWindow is a fixed ring of recent fetch and process durations.
// Only rolling averages leave this struct; no long-term retention.
type timingWindow struct {
	fetch   [timingWindowSize]time.Duration
	process [timingWindowSize]time.Duration
	count   int
	next    int
}

func (w *timingWindow) record(fetch, process time.Duration) {
	w.fetch[w.next] = fetch
	w.process[w.next] = process
	w.next = (w.next + 1) % timingWindowSize
	if w.count < timingWindowSize {
		w.count++
	}
}

func (w timingWindow) averageFetch() time.Duration {
	return average(w.fetch, w.count)
}

func (w timingWindow) averageProcess() time.Duration {
	return average(w.process, w.count)
}

func average(samples [timingWindowSize]time.Duration, count int) time.Duration {
	if count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		total += samples[i]
	}
	return total / time.Duration(count)
}

// TimingSnapshot is the rolling-average view exposed for introspection.
type TimingSnapshot struct {
	FetchAvg   time.Duration `json:"fetch_avg_ns"`
	ProcessAvg time.Duration `json:"process_avg_ns"`
	Samples    int           `json:"samples"`
}
