package analytics

import (
	"math"
	"sort"
	"time"

	"mindlink/pkg/types"
)

// Attention bands used by the distribution.
const (
	LowAttentionBelow = 40.0
	HighAttentionFrom = 70.0
)

const DefaultBucketSize = 5 * time.Minute

type running struct {
	count                      int
	attention, relaxation, sig float64
	minAtt, maxAtt             float64
	first, last                time.Time
}

func (r *running) add(s types.EEGSample) {
	if r.count == 0 {
		r.minAtt, r.maxAtt = s.Attention, s.Attention
		r.first, r.last = s.Timestamp, s.Timestamp
	}
	r.count++
	r.attention += s.Attention
	r.relaxation += s.Relaxation
	r.sig += s.SignalQuality
	r.minAtt = math.Min(r.minAtt, s.Attention)
	r.maxAtt = math.Max(r.maxAtt, s.Attention)
	if s.Timestamp.Before(r.first) {
		r.first = s.Timestamp
	}
	if s.Timestamp.After(r.last) {
		r.last = s.Timestamp
	}
}

func (r *running) mean(sum float64) float64 {
	if r.count == 0 {
		return 0
	}
	return round2(sum / float64(r.count))
}

// Compute aggregates samples of one session. names maps student ids to
// display names; unknown ids fall back to the id itself. It never fails:
// a session without samples yields zeroed metrics and empty series.
func Compute(session *types.Session, samples []types.EEGSample, names map[string]string,
	bucketSize time.Duration, calculatedAt time.Time) *types.SessionMetrics {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}

	metrics := &types.SessionMetrics{
		SessionID:    session.ID,
		TimeSeries:   []types.TimeBucket{},
		Students:     []types.StudentMetrics{},
		CalculatedAt: calculatedAt.UTC(),
	}
	if len(samples) == 0 {
		return metrics
	}

	var overall running
	var low, medium, high int
	perStudent := make(map[string]*running)
	buckets := make(map[int64]*running)

	anchor := samples[0].Timestamp
	for _, s := range samples {
		if s.Timestamp.Before(anchor) {
			anchor = s.Timestamp
		}
	}
	if session.StartTime != nil {
		anchor = *session.StartTime
	}

	for _, s := range samples {
		overall.add(s)

		switch {
		case s.Attention < LowAttentionBelow:
			low++
		case s.Attention < HighAttentionFrom:
			medium++
		default:
			high++
		}

		st, ok := perStudent[s.StudentID]
		if !ok {
			st = &running{}
			perStudent[s.StudentID] = st
		}
		st.add(s)

		idx := bucketIndex(s.Timestamp, anchor, bucketSize)
		b, ok := buckets[idx]
		if !ok {
			b = &running{}
			buckets[idx] = b
		}
		b.add(s)
	}

	metrics.Overall = types.OverallMetrics{
		TotalSamples:     overall.count,
		TotalStudents:    len(perStudent),
		AvgAttention:     overall.mean(overall.attention),
		AvgRelaxation:    overall.mean(overall.relaxation),
		MinAttention:     round2(overall.minAtt),
		MaxAttention:     round2(overall.maxAtt),
		AvgSignalQuality: overall.mean(overall.sig),
	}
	metrics.Distribution = types.AttentionDistribution{
		Low:    distribution(low, overall.count),
		Medium: distribution(medium, overall.count),
		High:   distribution(high, overall.count),
	}

	indexes := make([]int64, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		b := buckets[idx]
		metrics.TimeSeries = append(metrics.TimeSeries, types.TimeBucket{
			Start:         anchor.Add(time.Duration(idx) * bucketSize).UTC(),
			AvgAttention:  b.mean(b.attention),
			MinAttention:  round2(b.minAtt),
			MaxAttention:  round2(b.maxAtt),
			AvgRelaxation: b.mean(b.relaxation),
			SampleCount:   b.count,
		})
	}

	for id, st := range perStudent {
		name := names[id]
		if name == "" {
			name = id
		}
		metrics.Students = append(metrics.Students, types.StudentMetrics{
			SessionID:        session.ID,
			StudentID:        id,
			StudentName:      name,
			AvgAttention:     st.mean(st.attention),
			MinAttention:     round2(st.minAtt),
			MaxAttention:     round2(st.maxAtt),
			AvgRelaxation:    st.mean(st.relaxation),
			AvgSignalQuality: st.mean(st.sig),
			SampleCount:      st.count,
			DurationSeconds:  round2(st.last.Sub(st.first).Seconds()),
			FirstSampleAt:    st.first.UTC(),
			LastSampleAt:     st.last.UTC(),
		})
	}
	sort.Slice(metrics.Students, func(i, j int) bool {
		a, b := metrics.Students[i], metrics.Students[j]
		if a.AvgAttention != b.AvgAttention {
			return a.AvgAttention > b.AvgAttention
		}
		return a.StudentID < b.StudentID
	})
	return metrics
}

// bucketIndex floors so samples before the anchor land in negative buckets.
func bucketIndex(ts, anchor time.Time, size time.Duration) int64 {
	offset := ts.Sub(anchor)
	idx := int64(offset / size)
	if offset < 0 && offset%size != 0 {
		idx--
	}
	return idx
}

func distribution(count, total int) types.DistributionBucket {
	if total == 0 {
		return types.DistributionBucket{}
	}
	return types.DistributionBucket{
		Count:      count,
		Percentage: round2(float64(count) / float64(total) * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
