package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/beltline-data/conveyor.report/internal/geom"
	"github.com/beltline-data/conveyor.report/internal/httputil"
	"github.com/beltline-data/conveyor.report/internal/stats"
)

// handleReport renders an HTML bar chart of hourly counts for the last 24
// hours (or an explicit start/end range), one series per crossing
// direction. Debugging and shift-review aid; the JSON API is /api/stats.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	end := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
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

	filter := stats.Filter{
		CameraID:   q.Get("camera_id"),
		ConveyorID: q.Get("conveyor_id"),
		Class:      q.Get("class"),
	}

	// One value per hour bucket per direction, zero-filled across the range
	// so quiet hours are visible.
	hours := make([]string, 0, 24)
	positive := make([]opts.BarData, 0, 24)
	negative := make([]opts.BarData, 0, 24)

	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		hourEnd := t.Add(time.Hour)
		fPos := filter
		fPos.Direction = geom.DirectionPositive
		fNeg := filter
		fNeg.Direction = geom.DirectionNegative

		hours = append(hours, t.Format("01-02 15:04"))
		positive = append(positive, opts.BarData{
			Value: s.agg.Total(t, hourEnd, stats.GranularityHour, fPos),
		})
		negative = append(negative, opts.BarData{
			Value: s.agg.Total(t, hourEnd, stats.GranularityHour, fNeg),
		})
	}

	title := "Conveyor counts per hour"
	if filter.CameraID != "" || filter.ConveyorID != "" {
		title = fmt.Sprintf("%s (%s/%s)", title, filter.CameraID, filter.ConveyorID)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%s to %s UTC", start.Format(time.RFC3339), end.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hours).
		AddSeries("positive", positive).
		AddSeries("negative", negative)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render report: %v", err))
	}
}
