package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mindlink/pkg/types"
)

var csvHeader = []string{
	"student_id", "student_name", "sample_count",
	"avg_attention", "min_attention", "max_attention",
	"avg_relaxation", "avg_signal_quality", "duration_seconds",
	"first_sample_at", "last_sample_at",
}

// ExportFilename is the attachment name offered for a session export.
func ExportFilename(sessionID string) string {
	return fmt.Sprintf("session-%s-metrics.csv", sessionID)
}

// WriteCSV writes one row per student in the order of metrics.Students.
func WriteCSV(w io.Writer, metrics *types.SessionMetrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range metrics.Students {
		row := []string{
			safeCell(s.StudentID),
			safeCell(s.StudentName),
			strconv.Itoa(s.SampleCount),
			formatFloat(s.AvgAttention),
			formatFloat(s.MinAttention),
			formatFloat(s.MaxAttention),
			formatFloat(s.AvgRelaxation),
			formatFloat(s.AvgSignalQuality),
			formatFloat(s.DurationSeconds),
			s.FirstSampleAt.UTC().Format(time.RFC3339),
			s.LastSampleAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// safeCell keeps spreadsheet applications from evaluating a cell as a formula.
func safeCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
