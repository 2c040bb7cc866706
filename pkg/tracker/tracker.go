package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sluiceio/sluice/pkg/types"
)

// Stage identifiers used by the request lifecycle. Stable strings shared by
// the tracker and the logs.
const (
	StageValidation    = "1"
	StageCacheLookup   = "2"
	StageCacheL1       = "2.1"
	StageCacheL2       = "2.2"
	StageRateLimit     = "3"
	StageProviderPick  = "4"
	StageStreaming     = "5"
	StageCacheWrite    = "6"
	StageCleanup       = "7"
	StageQueueFailover = "q"
)

// DefaultRingCapacity bounds per-stage sample storage.
const DefaultRingCapacity = 10000

// Sample is one recorded stage execution.
type Sample struct {
	Stage    string
	ThreadID string
	Start    time.Time
	End      time.Time
	Outcome  types.StageOutcome
	Metadata map[string]string
}

// Duration returns the sample's elapsed time.
func (s Sample) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Tracker collects per-stage timing for a hash-sampled subset of requests.
// The sampling decision is a pure function of the thread identifier, so all
// stages of one request are either fully tracked or fully untracked, and
// every instance in the fleet makes the same decision.
type Tracker struct {
	sampleRate func() float64
	capacity   int

	mu     sync.RWMutex
	stages map[string]*ring
}

// New creates a tracker. sampleRate is read on every decision so the admin
// endpoint can adjust it at runtime.
func New(sampleRate func() float64, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Tracker{
		sampleRate: sampleRate,
		capacity:   capacity,
		stages:     make(map[string]*ring),
	}
}

// ShouldTrack reports whether the thread identifier falls in the sampled
// bucket. The hash is xxhash64 of the identifier modulo 100; the same
// identifier always maps to the same bucket, on every instance. xxhash was
// chosen over the historical MD5 for speed; distribution is uniform for
// this purpose.
func (t *Tracker) ShouldTrack(threadID string) bool {
	rate := t.sampleRate()
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	bucket := xxhash.Sum64String(threadID) % 100
	return float64(bucket) < rate*100
}

// Span is a scoped stage timing. End records the sample on every exit path;
// a Span from an untracked request is a no-op.
type Span struct {
	tracker  *Tracker
	sample   Sample
	tracked  bool
	finished bool
}

// Begin opens a span for a stage. force bypasses sampling.
func (t *Tracker) Begin(stage, threadID string, force bool) *Span {
	tracked := force || t.ShouldTrack(threadID)
	return &Span{
		tracker: t,
		tracked: tracked,
		sample: Sample{
			Stage:    stage,
			ThreadID: threadID,
			Start:    time.Now(),
		},
	}
}

// End closes the span with an outcome. Calling End twice keeps the first
// recording.
func (s *Span) End(outcome types.StageOutcome) {
	if s == nil || !s.tracked || s.finished {
		return
	}
	s.finished = true
	s.sample.End = time.Now()
	s.sample.Outcome = outcome
	s.tracker.record(s.sample)
}

// EndWith closes the span with an outcome and metadata.
func (s *Span) EndWith(outcome types.StageOutcome, metadata map[string]string) {
	if s == nil || !s.tracked || s.finished {
		return
	}
	s.sample.Metadata = metadata
	s.End(outcome)
}

func (t *Tracker) record(sample Sample) {
	t.mu.Lock()
	r, ok := t.stages[sample.Stage]
	if !ok {
		r = newRing(t.capacity)
		t.stages[sample.Stage] = r
	}
	t.mu.Unlock()

	r.add(sample)
}

// Statistics are aggregate latency figures over the most recent samples of
// one stage.
type Statistics struct {
	Stage string        `json:"stage"`
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean_ns"`
	P50   time.Duration `json:"p50_ns"`
	P95   time.Duration `json:"p95_ns"`
	P99   time.Duration `json:"p99_ns"`
}

// Statistics computes count, mean, p50, p95, p99 over the most recent limit
// samples of a stage. Returns false for an unknown stage.
func (t *Tracker) Statistics(stage string, limit int) (Statistics, bool) {
	t.mu.RLock()
	r, ok := t.stages[stage]
	t.mu.RUnlock()
	if !ok {
		return Statistics{}, false
	}

	samples := r.recent(limit)
	if len(samples) == 0 {
		return Statistics{Stage: stage}, true
	}

	durations := make([]time.Duration, len(samples))
	var total time.Duration
	for i, s := range samples {
		durations[i] = s.Duration()
		total += durations[i]
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	return Statistics{
		Stage: stage,
		Count: len(samples),
		Mean:  total / time.Duration(len(samples)),
		P50:   percentile(durations, 0.50),
		P95:   percentile(durations, 0.95),
		P99:   percentile(durations, 0.99),
	}, true
}

// Stages lists the stage identifiers with recorded samples.
func (t *Tracker) Stages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.stages))
	for stage := range t.stages {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}

// SampleCount returns the number of retained samples for a stage.
func (t *Tracker) SampleCount(stage string) int {
	t.mu.RLock()
	r, ok := t.stages[stage]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.size()
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
