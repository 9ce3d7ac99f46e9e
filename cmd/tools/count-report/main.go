// Command count-report fetches hourly count statistics from a running
// beltcountd instance and renders them as a PNG chart.
//
// Usage:
//
//	count-report -server http://localhost:8080 -out counts.png -hours 24
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"net/url"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/beltline-data/conveyor.report/internal/httputil"
	"github.com/beltline-data/conveyor.report/internal/stats"
)

var (
	server   = flag.String("server", "http://localhost:8080", "Base URL of the counting service")
	out      = flag.String("out", "counts.png", "Output PNG path")
	hours    = flag.Int("hours", 24, "Hours of history to plot, ending now")
	camera   = flag.String("camera", "", "Filter by camera id")
	conveyor = flag.String("conveyor", "", "Filter by conveyor id")
	class    = flag.String("class", "", "Filter by object class")
)

type statsResponse struct {
	Buckets []stats.BucketCount `json:"buckets"`
	Summary stats.Summary       `json:"summary"`
}

// fetchStats queries /api/stats for the requested window.
func fetchStats(client httputil.HTTPClient, baseURL string, start, end time.Time, camera, conveyor, class string) (*statsResponse, error) {
	params := url.Values{}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))
	params.Set("granularity", string(stats.GranularityHour))
	if camera != "" {
		params.Set("camera_id", camera)
	}
	if conveyor != "" {
		params.Set("conveyor_id", conveyor)
	}
	if class != "" {
		params.Set("class", class)
	}

	resp, err := client.Get(baseURL + "/api/stats?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request returned %d", resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode stats response: %w", err)
	}
	return &body, nil
}

// hourlyTotals merges bucket rows into one total per hour across the range,
// zero-filled so quiet hours still appear.
func hourlyTotals(buckets []stats.BucketCount, start, end time.Time) (labels []string, values plotter.Values) {
	perHour := make(map[int64]int64)
	for _, b := range buckets {
		perHour[b.Key.Bucket] += b.Count
	}

	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		labels = append(labels, t.Format("15:04"))
		values = append(values, float64(perHour[t.Unix()]))
	}
	return labels, values
}

// renderPlot writes a bar chart of hourly totals to outPath.
func renderPlot(labels []string, values plotter.Values, title, outPath string) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "objects counted"
	p.X.Label.Text = "hour (UTC)"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = color.RGBA{R: 64, G: 128, B: 255, A: 255}
	p.Add(bars)
	p.NominalX(labels...)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, outPath); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

func main() {
	flag.Parse()

	end := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	start := end.Add(-time.Duration(*hours) * time.Hour)

	client := httputil.NewStandardClient(nil)
	body, err := fetchStats(client, *server, start, end, *camera, *conveyor, *class)
	if err != nil {
		log.Fatalf("Failed to fetch stats: %v", err)
	}

	labels, values := hourlyTotals(body.Buckets, start, end)
	title := fmt.Sprintf("Conveyor counts per hour (total %d)", body.Summary.Total)
	if err := renderPlot(labels, values, title, *out); err != nil {
		log.Fatalf("Failed to render plot: %v", err)
	}

	fmt.Printf("wrote %s: %d buckets, %d objects\n", *out, body.Summary.Buckets, body.Summary.Total)
}
