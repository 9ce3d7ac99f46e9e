// Package stats aggregates count events into hourly and daily buckets.
//
// The Aggregator is the only concurrently-written structure in the
// pipeline: every context's event stream lands here. It is sharded by
// bucket key hash so contexts rarely contend on the same lock.
package stats

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/geom"
)

// Granularity selects the bucket width.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Valid reports whether g is a recognised granularity.
func (g Granularity) Valid() bool {
	return g == GranularityHour || g == GranularityDay
}

// truncate floors t to the start of g's bucket, in UTC.
func (g Granularity) truncate(t time.Time) time.Time {
	t = t.UTC()
	if g == GranularityDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// BucketKey identifies one aggregation cell. Bucket is the bucket start as
// unix seconds, so keys are comparable and hashable.
type BucketKey struct {
	Bucket      int64          `json:"bucket"`
	Granularity Granularity    `json:"granularity"`
	CameraID    string         `json:"camera_id"`
	ConveyorID  string         `json:"conveyor_id"`
	Direction   geom.Direction `json:"direction"`
	Class       string         `json:"class"`
}

// Start returns the bucket start time.
func (k BucketKey) Start() time.Time {
	return time.Unix(k.Bucket, 0).UTC()
}

// BucketCount is one query result row.
type BucketCount struct {
	Key   BucketKey `json:"key"`
	Count int64     `json:"count"`
}

// Filter narrows a query; empty fields match anything.
type Filter struct {
	CameraID   string
	ConveyorID string
	Direction  geom.Direction
	Class      string
}

func (f Filter) matches(k BucketKey) bool {
	if f.CameraID != "" && f.CameraID != k.CameraID {
		return false
	}
	if f.ConveyorID != "" && f.ConveyorID != k.ConveyorID {
		return false
	}
	if f.Direction != "" && f.Direction != k.Direction {
		return false
	}
	if f.Class != "" && f.Class != k.Class {
		return false
	}
	return true
}

// Summary describes the per-bucket totals of one query range.
type Summary struct {
	Total   int64   `json:"total"`
	Buckets int     `json:"buckets"`
	Mean    float64 `json:"mean"`
	Max     int64   `json:"max"`
	StdDev  float64 `json:"std_dev"`
}

const shardCount = 16

type shard struct {
	mu     sync.RWMutex
	counts map[BucketKey]int64
}

// Aggregator holds running counts per bucket. Safe for concurrent use.
type Aggregator struct {
	shards [shardCount]shard
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	for i := range a.shards {
		a.shards[i].counts = make(map[BucketKey]int64)
	}
	return a
}

func (a *Aggregator) shardFor(k BucketKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.CameraID))
	h.Write([]byte{0})
	h.Write([]byte(k.ConveyorID))
	h.Write([]byte{0})
	h.Write([]byte(k.Class))
	return &a.shards[h.Sum32()%shardCount]
}

// Record folds one count event into its hourly and daily buckets.
func (a *Aggregator) Record(ev count.CountEvent) {
	for _, g := range []Granularity{GranularityHour, GranularityDay} {
		k := BucketKey{
			Bucket:      g.truncate(ev.Timestamp).Unix(),
			Granularity: g,
			CameraID:    ev.CameraID,
			ConveyorID:  ev.ConveyorID,
			Direction:   ev.Direction,
			Class:       ev.Class,
		}
		s := a.shardFor(k)
		s.mu.Lock()
		s.counts[k]++
		s.mu.Unlock()
	}
}

// Query returns the buckets whose start falls in [start, end), filtered,
// sorted by bucket start then camera, conveyor, direction and class.
// An event is attributed to the bucket containing its timestamp; events
// after end's bucket never leak into the range.
func (a *Aggregator) Query(start, end time.Time, g Granularity, f Filter) []BucketCount {
	lo := start.UTC().Unix()
	hi := end.UTC().Unix()

	var out []BucketCount
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.RLock()
		for k, n := range s.counts {
			if k.Granularity != g || k.Bucket < lo || k.Bucket >= hi {
				continue
			}
			if !f.matches(k) {
				continue
			}
			out = append(out, BucketCount{Key: k, Count: n})
		}
		s.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if a.CameraID != b.CameraID {
			return a.CameraID < b.CameraID
		}
		if a.ConveyorID != b.ConveyorID {
			return a.ConveyorID < b.ConveyorID
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Class < b.Class
	})
	return out
}

// Summarize computes per-bucket totals over a query range: rows sharing a
// bucket start are merged first, then the total, mean, max and standard
// deviation are taken over those per-bucket totals.
func (a *Aggregator) Summarize(start, end time.Time, g Granularity, f Filter) Summary {
	rows := a.Query(start, end, g, f)

	perBucket := make(map[int64]int64)
	for _, r := range rows {
		perBucket[r.Key.Bucket] += r.Count
	}
	if len(perBucket) == 0 {
		return Summary{}
	}

	var sum Summary
	totals := make([]float64, 0, len(perBucket))
	for _, n := range perBucket {
		sum.Total += n
		if n > sum.Max {
			sum.Max = n
		}
		totals = append(totals, float64(n))
	}
	sum.Buckets = len(perBucket)
	sum.Mean = stat.Mean(totals, nil)
	if len(totals) > 1 {
		sum.StdDev = stat.StdDev(totals, nil)
	}
	return sum
}

// Total returns the summed count over [start, end) for the filter.
func (a *Aggregator) Total(start, end time.Time, g Granularity, f Filter) int64 {
	var total int64
	for _, r := range a.Query(start, end, g, f) {
		total += r.Count
	}
	return total
}

// Reset discards all buckets.
func (a *Aggregator) Reset() {
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		s.counts = make(map[BucketKey]int64)
		s.mu.Unlock()
	}
}
