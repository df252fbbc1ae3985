package analytics

import (
	"math"
	"testing"
	"time"

	"mindlink/pkg/types"
)

var sessionStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sample(student string, offset time.Duration, attention, relaxation float64) types.EEGSample {
	return types.EEGSample{
		ID:            student + offset.String(),
		SessionID:     "s1",
		StudentID:     student,
		Timestamp:     sessionStart.Add(offset),
		Attention:     attention,
		Relaxation:    relaxation,
		SignalQuality: 80,
	}
}

func startedSession() *types.Session {
	start := sessionStart
	return &types.Session{ID: "s1", ClassID: "c1", TeacherID: "t1", Status: types.SessionActive, StartTime: &start}
}

func TestCompute_Empty(t *testing.T) {
	m := Compute(startedSession(), nil, nil, 0, sessionStart)
	if m.Overall.TotalSamples != 0 || m.Overall.TotalStudents != 0 {
		t.Errorf("unexpected overall %+v", m.Overall)
	}
	if m.TimeSeries == nil || m.Students == nil || len(m.TimeSeries) != 0 || len(m.Students) != 0 {
		t.Errorf("expected empty non-nil slices, got %v %v", m.TimeSeries, m.Students)
	}
}

func TestCompute_Overall(t *testing.T) {
	samples := []types.EEGSample{
		sample("st1", 0, 10, 20),
		sample("st1", time.Second, 10, 20),
		sample("st2", 2*time.Second, 11, 30),
	}
	m := Compute(startedSession(), samples, nil, 0, sessionStart)

	o := m.Overall
	if o.TotalSamples != 3 || o.TotalStudents != 2 {
		t.Errorf("unexpected counts %+v", o)
	}
	if o.AvgAttention != 10.33 {
		t.Errorf("expected avg attention 10.33, got %v", o.AvgAttention)
	}
	if o.AvgRelaxation != 23.33 {
		t.Errorf("expected avg relaxation 23.33, got %v", o.AvgRelaxation)
	}
	if o.MinAttention != 10 || o.MaxAttention != 11 || o.AvgSignalQuality != 80 {
		t.Errorf("unexpected overall %+v", o)
	}
}

func TestCompute_Distribution(t *testing.T) {
	var samples []types.EEGSample
	for i, att := range []float64{10, 39.99, 40, 69.99, 70, 100} {
		samples = append(samples, sample("st1", time.Duration(i)*time.Second, att, 50))
	}
	m := Compute(startedSession(), samples, nil, 0, sessionStart)
	d := m.Distribution

	if d.Low.Count != 2 || d.Medium.Count != 2 || d.High.Count != 2 {
		t.Errorf("unexpected counts %+v", d)
	}
	if d.Low.Count+d.Medium.Count+d.High.Count != m.Overall.TotalSamples {
		t.Error("distribution counts must sum to total")
	}
	sum := d.Low.Percentage + d.Medium.Percentage + d.High.Percentage
	if math.Abs(sum-100) > 0.1 {
		t.Errorf("percentages sum to %v", sum)
	}
	if d.Low.Percentage != 33.33 {
		t.Errorf("expected 33.33, got %v", d.Low.Percentage)
	}
}

func TestCompute_TimeSeries(t *testing.T) {
	samples := []types.EEGSample{
		sample("st1", -2*time.Minute, 50, 50),
		sample("st1", 0, 40, 50),
		sample("st1", 4*time.Minute+59*time.Second, 60, 70),
		sample("st1", 5*time.Minute, 80, 50),
		sample("st1", 12*time.Minute, 90, 50),
	}
	m := Compute(startedSession(), samples, nil, 0, sessionStart)

	want := []struct {
		start time.Time
		count int
		avg   float64
	}{
		{sessionStart.Add(-5 * time.Minute), 1, 50},
		{sessionStart, 2, 50},
		{sessionStart.Add(5 * time.Minute), 1, 80},
		{sessionStart.Add(10 * time.Minute), 1, 90},
	}
	if len(m.TimeSeries) != len(want) {
		t.Fatalf("expected %d buckets, got %+v", len(want), m.TimeSeries)
	}
	for i, w := range want {
		b := m.TimeSeries[i]
		if !b.Start.Equal(w.start) || b.SampleCount != w.count || b.AvgAttention != w.avg {
			t.Errorf("bucket %d: got %+v", i, b)
		}
	}
	if b := m.TimeSeries[1]; b.MinAttention != 40 || b.MaxAttention != 60 || b.AvgRelaxation != 60 {
		t.Errorf("unexpected bucket stats %+v", b)
	}
}

func TestCompute_AnchorsOnFirstSampleWithoutStartTime(t *testing.T) {
	session := &types.Session{ID: "s1"}
	samples := []types.EEGSample{
		sample("st1", 3*time.Minute, 50, 50),
		sample("st1", 7*time.Minute, 50, 50),
		sample("st1", 9*time.Minute, 50, 50),
	}
	m := Compute(session, samples, nil, 0, sessionStart)
	if len(m.TimeSeries) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", m.TimeSeries)
	}
	if !m.TimeSeries[0].Start.Equal(sessionStart.Add(3*time.Minute)) || m.TimeSeries[0].SampleCount != 2 {
		t.Errorf("unexpected first bucket %+v", m.TimeSeries[0])
	}
}

func TestCompute_StudentsSortedByAttention(t *testing.T) {
	samples := []types.EEGSample{
		sample("st2", 0, 60, 50),
		sample("st3", 0, 80, 50),
		sample("st1", 0, 70, 50),
		sample("st1", 90*time.Second, 90, 50),
	}
	names := map[string]string{"st1": "Ada", "st2": "Bo"}
	m := Compute(startedSession(), samples, names, 0, sessionStart)

	order := []string{"st1", "st3", "st2"}
	for i, id := range order {
		if m.Students[i].StudentID != id {
			t.Fatalf("position %d: expected %s, got %+v", i, id, m.Students)
		}
	}
	ada := m.Students[0]
	if ada.StudentName != "Ada" || ada.SampleCount != 2 || ada.DurationSeconds != 90 {
		t.Errorf("unexpected student metrics %+v", ada)
	}
	if m.Students[1].StudentName != "st3" {
		t.Errorf("unknown students should fall back to their id, got %q", m.Students[1].StudentName)
	}
}

func TestBucketIndex(t *testing.T) {
	size := 5 * time.Minute
	tests := []struct {
		offset time.Duration
		want   int64
	}{
		{0, 0},
		{size - time.Nanosecond, 0},
		{size, 1},
		{-time.Nanosecond, -1},
		{-size, -1},
		{-size - time.Second, -2},
	}
	for _, tt := range tests {
		if got := bucketIndex(sessionStart.Add(tt.offset), sessionStart, size); got != tt.want {
			t.Errorf("offset %v: expected %d, got %d", tt.offset, tt.want, got)
		}
	}
}
