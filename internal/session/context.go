package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/track"
)

// ErrUnknownContext is returned for operations that name a context the
// registry has never seen.
var ErrUnknownContext = errors.New("unknown context")

// ErrContextExists is returned when creating a context that already exists.
var ErrContextExists = errors.New("context already exists")

// ContextID identifies one (camera, conveyor) pair.
type ContextID struct {
	CameraID   string `json:"camera_id"`
	ConveyorID string `json:"conveyor_id"`
}

func (id ContextID) String() string {
	return id.CameraID + "/" + id.ConveyorID
}

// Validate checks that both components are present.
func (id ContextID) Validate() error {
	if id.CameraID == "" || id.ConveyorID == "" {
		return fmt.Errorf("context id needs both camera and conveyor, got %q/%q",
			id.CameraID, id.ConveyorID)
	}
	return nil
}

// ContextConfig is the immutable configuration a context is created with.
type ContextConfig struct {
	Lines   []count.Line `json:"lines"`
	Tracker track.Config `json:"tracker"`
}

// ContextInfo is a read-only snapshot of one context's state.
type ContextInfo struct {
	ID              ContextID    `json:"id"`
	Lines           []count.Line `json:"lines"`
	FramesProcessed int64        `json:"frames_processed"`
	ActiveTracks    int          `json:"active_tracks"`
	ConfirmedTracks int          `json:"confirmed_tracks"`
	LastFrameAt     time.Time    `json:"last_frame_at,omitempty"`
}

// beltContext bundles one context's tracker and counter behind a mutex.
// The mutex is the single-writer rule: at most one frame is in flight per
// context, while distinct contexts proceed in parallel.
type beltContext struct {
	mu      sync.Mutex
	id      ContextID
	tracker *track.Tracker
	counter *count.Counter

	frames      int64
	lastFrameAt time.Time
}

// Registry owns all live contexts. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	contexts map[ContextID]*beltContext
}

// NewRegistry creates an empty context registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[ContextID]*beltContext)}
}

// Create registers a new context. Fails with ErrContextExists if the id is
// already registered.
func (r *Registry) Create(id ContextID, cfg ContextConfig) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}
	for _, l := range cfg.Lines {
		if l.ID == "" {
			return fmt.Errorf("counting line needs an id")
		}
		if !l.Filter.Valid() {
			return fmt.Errorf("counting line %q has invalid direction filter %q", l.ID, l.Filter)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[id]; ok {
		return fmt.Errorf("%w: %s", ErrContextExists, id)
	}
	r.contexts[id] = &beltContext{
		id:      id,
		tracker: track.NewTracker(id.CameraID, id.ConveyorID, cfg.Tracker),
		counter: count.NewCounter(id.CameraID, id.ConveyorID, cfg.Lines),
	}
	return nil
}

// Remove drops a context and all its state.
func (r *Registry) Remove(id ContextID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	delete(r.contexts, id)
	return nil
}

func (r *Registry) get(id ContextID) (*beltContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bc, ok := r.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	return bc, nil
}

// ProcessFrame pushes one frame of detections through a context's pipeline
// and returns the count events the frame produced.
//
// Frames for the same context are serialised; the call blocks while an
// earlier frame for that context is in flight. A tracker error (such as an
// out-of-order timestamp) leaves the context's state untouched.
func (r *Registry) ProcessFrame(id ContextID, detections []track.Detection, timestamp time.Time) ([]count.CountEvent, error) {
	bc, err := r.get(id)
	if err != nil {
		return nil, err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	updates, err := bc.tracker.Update(detections, timestamp)
	if err != nil {
		return nil, err
	}

	var events []count.CountEvent
	for _, u := range updates {
		events = append(events, bc.counter.OnTrackUpdate(u)...)
	}

	bc.frames++
	bc.lastFrameAt = timestamp
	return events, nil
}

// Info returns a snapshot of one context.
func (r *Registry) Info(id ContextID) (ContextInfo, error) {
	bc, err := r.get(id)
	if err != nil {
		return ContextInfo{}, err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	total, _, confirmed := bc.tracker.TrackCount()
	return ContextInfo{
		ID:              bc.id,
		Lines:           bc.counter.Lines(),
		FramesProcessed: bc.frames,
		ActiveTracks:    total,
		ConfirmedTracks: confirmed,
		LastFrameAt:     bc.lastFrameAt,
	}, nil
}

// Tracks returns snapshots of a context's live tracks in ascending id order.
func (r *Registry) Tracks(id ContextID) ([]track.Track, error) {
	bc, err := r.get(id)
	if err != nil {
		return nil, err
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.tracker.ActiveTracks(), nil
}

// List returns snapshots of all contexts, ordered by id.
func (r *Registry) List() []ContextInfo {
	r.mu.RLock()
	ids := make([]ContextID, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].CameraID != ids[j].CameraID {
			return ids[i].CameraID < ids[j].CameraID
		}
		return ids[i].ConveyorID < ids[j].ConveyorID
	})

	out := make([]ContextInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.Info(id)
		if err != nil {
			continue // removed concurrently
		}
		out = append(out, info)
	}
	return out
}
