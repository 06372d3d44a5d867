package util

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GetSourcePath is the storage object key for a job's submitted source.
func GetSourcePath(jobID string) string {
	return fmt.Sprintf("jobs/source/%s", jobID)
}

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Clamp bounds v to [min, max]. Out-of-bounds submission limits are
// clamped, not rejected.
func Clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
