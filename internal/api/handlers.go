package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/geom"
	"github.com/beltline-data/conveyor.report/internal/httputil"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/session"
	"github.com/beltline-data/conveyor.report/internal/stats"
	"github.com/beltline-data/conveyor.report/internal/track"
)

func contextIDFromQuery(r *http.Request) session.ContextID {
	return session.ContextID{
		CameraID:   r.URL.Query().Get("camera_id"),
		ConveyorID: r.URL.Query().Get("conveyor_id"),
	}
}

type createContextRequest struct {
	CameraID   string        `json:"camera_id"`
	ConveyorID string        `json:"conveyor_id"`
	Lines      []count.Line  `json:"lines"`
	Tracker    *track.Config `json:"tracker,omitempty"`
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]any{"contexts": s.registry.List()})

	case http.MethodPost:
		var req createContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		id := session.ContextID{CameraID: req.CameraID, ConveyorID: req.ConveyorID}
		cfg := session.ContextConfig{Lines: req.Lines}
		if req.Tracker != nil {
			cfg.Tracker = *req.Tracker
		} else {
			cfg.Tracker = s.tuning.TrackerConfig()
		}

		if err := s.registry.Create(id, cfg); err != nil {
			if errors.Is(err, session.ErrContextExists) {
				httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			} else {
				httputil.BadRequest(w, err.Error())
			}
			return
		}
		if s.store != nil {
			if err := s.store.SaveContext(id, cfg); err != nil {
				monitoring.Logf("persist context %s: %v", id, err)
			}
		}

		info, err := s.registry.Info(id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, info)

	case http.MethodDelete:
		id := contextIDFromQuery(r)
		if err := s.registry.Remove(id); err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		if s.store != nil {
			if err := s.store.DeleteContext(id); err != nil {
				monitoring.Logf("delete context %s: %v", id, err)
			}
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "deleted"})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	tracks, err := s.registry.Tracks(contextIDFromQuery(r))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"tracks": tracks})
}

type detectionsRequest struct {
	CameraID   string            `json:"camera_id"`
	ConveyorID string            `json:"conveyor_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []track.Detection `json:"detections"`
}

// handleDetections is the synchronous ingest path: one frame in, its count
// events out.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req detectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Timestamp.IsZero() {
		httputil.BadRequest(w, "timestamp is required")
		return
	}

	// Sub-threshold detections never reach the tracker.
	detections := session.FilterDetections(req.Detections, float32(s.tuning.GetMinConfidence()))

	id := session.ContextID{CameraID: req.CameraID, ConveyorID: req.ConveyorID}
	events, err := s.registry.ProcessFrame(id, detections, req.Timestamp)
	switch {
	case errors.Is(err, session.ErrUnknownContext):
		httputil.NotFound(w, err.Error())
		return
	case errors.Is(err, track.ErrOutOfOrderFrame):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}

	s.RecordEvents(events...)
	if events == nil {
		events = []count.CountEvent{}
	}
	httputil.WriteJSONOK(w, map[string]any{"events": events})
}

type jobFrame struct {
	Index      int               `json:"index"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []track.Detection `json:"detections"`
}

type submitJobRequest struct {
	CameraID         string     `json:"camera_id"`
	ConveyorID       string     `json:"conveyor_id"`
	Frames           []jobFrame `json:"frames"`
	BatchSize        *int       `json:"batch_size,omitempty"`
	SkipFailedFrames *bool      `json:"skip_failed_frames,omitempty"`
	MinConfidence    *float64   `json:"min_confidence,omitempty"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, map[string]any{"jobs": s.jobs.List()})

	case http.MethodPost:
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if len(req.Frames) == 0 {
			httputil.BadRequest(w, "frames are required")
			return
		}

		frames := make([]session.Frame, len(req.Frames))
		script := make(map[int][]track.Detection, len(req.Frames))
		for i, f := range req.Frames {
			frames[i] = session.Frame{Index: f.Index, Timestamp: f.Timestamp}
			script[f.Index] = f.Detections
		}

		cfg := session.JobConfig{
			BatchSize:        s.tuning.GetBatchSize(),
			SkipFailedFrames: s.tuning.GetSkipFailedFrames(),
			MinConfidence:    float32(s.tuning.GetMinConfidence()),
		}
		if req.BatchSize != nil {
			cfg.BatchSize = *req.BatchSize
		}
		if req.SkipFailedFrames != nil {
			cfg.SkipFailedFrames = *req.SkipFailedFrames
		}
		if req.MinConfidence != nil {
			cfg.MinConfidence = float32(*req.MinConfidence)
		}

		id := session.ContextID{CameraID: req.CameraID, ConveyorID: req.ConveyorID}
		jobID, err := s.jobs.Submit(id, frames, session.NewScriptedDetector(script), cfg)
		if err != nil {
			if errors.Is(err, session.ErrUnknownContext) {
				httputil.NotFound(w, err.Error())
			} else {
				httputil.BadRequest(w, err.Error())
			}
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": jobID})

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		httputil.NotFound(w, "job not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.jobs.Get(jobID)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, job)

	case http.MethodDelete:
		err := s.jobs.Cancel(jobID)
		switch {
		case errors.Is(err, session.ErrUnknownJob):
			httputil.NotFound(w, err.Error())
		case errors.Is(err, session.ErrJobFinished):
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		case err != nil:
			httputil.InternalServerError(w, err.Error())
		default:
			httputil.WriteJSONOK(w, map[string]string{"status": "cancelling"})
		}

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()

	g := stats.Granularity(q.Get("granularity"))
	if g == "" {
		g = stats.GranularityHour
	}
	if !g.Valid() {
		httputil.BadRequest(w, fmt.Sprintf("invalid granularity %q", g))
		return
	}

	end := time.Now().UTC()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'end' parameter: %v", err))
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'start' parameter: %v", err))
			return
		}
		start = t
	}
	if !start.Before(end) {
		httputil.BadRequest(w, "'start' must precede 'end'")
		return
	}

	filter := stats.Filter{
		CameraID:   q.Get("camera_id"),
		ConveyorID: q.Get("conveyor_id"),
		Direction:  geom.Direction(q.Get("direction")),
		Class:      q.Get("class"),
	}

	buckets := s.agg.Query(start, end, g, filter)
	if buckets == nil {
		buckets = []stats.BucketCount{}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"buckets": buckets,
		"summary": s.agg.Summarize(start, end, g, filter),
	})
}
