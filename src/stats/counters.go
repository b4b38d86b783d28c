package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counters tracks egress accounting for one call. Each field has a single
// writer; readers may snapshot at any time.
type Counters struct {
	FramesSent    atomic.Uint64
	AudioFrames   atomic.Uint64
	SilenceFrames atomic.Uint64
	LateFrames    atomic.Uint64
	DroppedFrames atomic.Uint64
	TurnsDispatch atomic.Uint64
	TurnsSkipped  atomic.Uint64
	Utterances    atomic.Uint64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	CallID        string    `json:"call_id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	FramesSent    uint64    `json:"frames_sent"`
	AudioFrames   uint64    `json:"audio_frames"`
	SilenceFrames uint64    `json:"silence_frames"`
	LateFrames    uint64    `json:"inter_frame_late_events"`
	DroppedFrames uint64    `json:"dropped_frames"`
	TurnsDispatch uint64    `json:"turns_dispatched"`
	TurnsSkipped  uint64    `json:"turns_skipped"`
	Utterances    uint64    `json:"utterances"`
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:    c.FramesSent.Load(),
		AudioFrames:   c.AudioFrames.Load(),
		SilenceFrames: c.SilenceFrames.Load(),
		LateFrames:    c.LateFrames.Load(),
		DroppedFrames: c.DroppedFrames.Load(),
		TurnsDispatch: c.TurnsDispatch.Load(),
		TurnsSkipped:  c.TurnsSkipped.Load(),
		Utterances:    c.Utterances.Load(),
	}
}

// Source is anything the registry can report on.
type Source interface {
	Stats() Snapshot
}

// Totals aggregates counters of finished and live calls.
type Totals struct {
	ActiveSessions int    `json:"active_sessions"`
	Sessions       uint64 `json:"sessions_total"`
	FramesSent     uint64 `json:"frames_sent_total"`
	AudioFrames    uint64 `json:"audio_frames_total"`
	SilenceFrames  uint64 `json:"silence_frames_total"`
	LateFrames     uint64 `json:"late_events_total"`
}

// Report is what the registry exposes over HTTP.
type Report struct {
	Totals   Totals     `json:"totals"`
	Sessions []Snapshot `json:"sessions"`
}

// Registry is the process-wide counters registry.
type Registry struct {
	mu       sync.Mutex
	live     map[string]Source
	finished Totals
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]Source)}
}

// Register adds a live source under id.
func (r *Registry) Register(id string, s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[id] = s
	r.finished.Sessions++
}

// Unregister removes id and folds its final counters into the totals.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live[id]
	if !ok {
		return
	}
	delete(r.live, id)
	snap := s.Stats()
	r.finished.FramesSent += snap.FramesSent
	r.finished.AudioFrames += snap.AudioFrames
	r.finished.SilenceFrames += snap.SilenceFrames
	r.finished.LateFrames += snap.LateFrames
}

// Len returns the number of live sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Report snapshots every live source and the running totals.
func (r *Registry) Report() Report {
	r.mu.Lock()
	sources := make([]Source, 0, len(r.live))
	for _, s := range r.live {
		sources = append(sources, s)
	}
	totals := r.finished
	r.mu.Unlock()

	rep := Report{Sessions: make([]Snapshot, 0, len(sources))}
	for _, s := range sources {
		snap := s.Stats()
		totals.FramesSent += snap.FramesSent
		totals.AudioFrames += snap.AudioFrames
		totals.SilenceFrames += snap.SilenceFrames
		totals.LateFrames += snap.LateFrames
		rep.Sessions = append(rep.Sessions, snap)
	}
	totals.ActiveSessions = len(sources)
	sort.Slice(rep.Sessions, func(i, j int) bool {
		return rep.Sessions[i].StartedAt.Before(rep.Sessions[j].StartedAt)
	})
	rep.Totals = totals
	return rep
}
