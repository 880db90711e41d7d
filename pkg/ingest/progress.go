package ingest

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type StreamProgress struct {
	Completed bool `json:"completed"`
	Count     int  `json:"count"`
}

// SyncStatus is a point-in-time copy of the tracker.
type SyncStatus struct {
	InProgress      bool                      `json:"inProgress"`
	StartTime       *time.Time                `json:"startTime"`
	DurationSeconds int                       `json:"durationSeconds"`
	Progress        map[Stream]StreamProgress `json:"progress"`
}

// Tracker records initial sync progress. Each stream entry is replaced as a whole value, so a
// reader never sees completed=true next to a count from an earlier pass.
type Tracker struct {
	mu         sync.RWMutex
	inProgress bool
	startTime  time.Time

	streams *xsync.Map[Stream, StreamProgress]
	now     func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{streams: xsync.NewMap[Stream, StreamProgress](), now: time.Now}
	for _, s := range Streams {
		t.streams.Store(s, StreamProgress{})
	}
	return t
}

// Begin resets every stream and marks a sync as running.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range Streams {
		t.streams.Store(s, StreamProgress{})
	}
	t.inProgress = true
	t.startTime = t.now()
}

// Complete marks a stream done with the number of records it wrote in this pass.
func (t *Tracker) Complete(s Stream, count int) {
	t.streams.Store(s, StreamProgress{Completed: true, Count: count})
}

// Finish clears the running flag and returns how long the sync took.
func (t *Tracker) Finish() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var took time.Duration
	if !t.startTime.IsZero() {
		took = t.now().Sub(t.startTime)
	}
	t.inProgress = false
	t.startTime = time.Time{}
	return took
}

func (t *Tracker) InProgress() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inProgress
}

func (t *Tracker) Snapshot() SyncStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := SyncStatus{
		InProgress: t.inProgress,
		Progress:   make(map[Stream]StreamProgress, len(Streams)),
	}
	if !t.startTime.IsZero() {
		start := t.startTime
		out.StartTime = &start
		out.DurationSeconds = int(t.now().Sub(start) / time.Second)
	}
	for _, s := range Streams {
		p, _ := t.streams.Load(s)
		out.Progress[s] = p
	}
	return out
}
