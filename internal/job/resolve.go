package job

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DefaultFilename is returned when a record carries no usable filename.
const DefaultFilename = "document"

// Record is a loosely typed job object as decoded from the server.
type Record map[string]any

var (
	idFields       = []string{"jobId", "job_id", "id"}
	typeFields     = []string{"jobType", "job_type", "type"}
	statusFields   = []string{"status", "state", "jobStatus"}
	progressFields = []string{"progress", "percent", "progressPercent"}
	stageFields    = []string{"stage", "step", "phase"}
	outputFields   = []string{"outputLocation", "output_location", "resultUrl", "downloadUrl", "outputUrl"}
	durationFields = []string{"durationSeconds", "duration_seconds", "mediaDuration", "audioDuration", "duration"}
	filenameFields = []string{"originalFilename", "original_filename", "filename", "fileName"}
	messageFields  = []string{"errorMessage", "error_message", "error", "detail", "message"}
	codeFields     = []string{"errorCode", "error_code", "reasonCode"}
	queueFields    = []string{"queuePosition", "queue_position", "position"}
	createdFields  = []string{"createdAt", "created_at"}
	updatedFields  = []string{"updatedAt", "updated_at"}
)

// Resolve maps a raw record into the canonical Job. It never fails: missing
// or unusable fields resolve to their documented fallback.
func Resolve(r Record) Job {
	j := Job{
		ID:              ResolveID(r),
		Type:            ResolveType(r),
		Status:          ResolveStatus(r),
		Progress:        Number(r, progressFields...),
		Stage:           String(r, stageFields...),
		OutputLocation:  String(r, outputFields...),
		Filename:        ResolveFilename(r),
		DurationSeconds: ResolveDuration(r),
		ErrorCode:       String(r, codeFields...),
		CreatedAt:       Timestamp(r, createdFields...),
		UpdatedAt:       Timestamp(r, updatedFields...),
	}
	if j.Status == StatusFailed || j.Status == StatusCancelled {
		j.ErrorMessage = String(r, messageFields...)
	}
	if pos := Number(r, queueFields...); !math.IsNaN(pos) {
		p := int(pos)
		j.QueuePosition = &p
	}
	return j
}

func ResolveID(r Record) string {
	return String(r, idFields...)
}

// ResolveStatus returns the trimmed, upper-cased status or StatusUnknown.
func ResolveStatus(r Record) Status {
	s := Status(Enum(r, statusFields...))
	if !s.Valid() {
		return StatusUnknown
	}
	return s
}

func ResolveType(r Record) Type {
	t := Type(Enum(r, typeFields...))
	if !t.Valid() {
		return TypeUnknown
	}
	return t
}

func ResolveFilename(r Record) string {
	if name := String(r, filenameFields...); name != "" {
		return name
	}
	return DefaultFilename
}

// ResolveDuration returns the media duration in seconds or NaN.
func ResolveDuration(r Record) float64 {
	return Number(r, durationFields...)
}

// ResolveMessage returns the human readable error of an error payload
// ({detail|error|message}) or of a failed job record.
func ResolveMessage(r Record) string {
	return String(r, messageFields...)
}

// String returns the first candidate field holding a non-blank scalar, trimmed.
func String(r Record, fields ...string) string {
	for _, f := range fields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Enum is String normalized for enum comparison.
func Enum(r Record, fields ...string) string {
	return strings.ToUpper(String(r, fields...))
}

// Number returns the first candidate field holding a finite, non-negative
// number. Numeric strings are accepted. It returns NaN when none qualifies.
func Number(r Record, fields ...string) float64 {
	for _, f := range fields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if s, isString := v.(string); isString {
			if v = strings.TrimSpace(s); v == "" {
				continue
			}
		}
		n, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			continue
		}
		return n
	}
	return math.NaN()
}

// Timestamp accepts RFC3339 strings and unix seconds or milliseconds.
func Timestamp(r Record, fields ...string) time.Time {
	for _, f := range fields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString {
			if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
				return t.UTC()
			}
		}
		n := Number(Record{f: v}, f)
		if math.IsNaN(n) {
			continue
		}
		// anything past year 2286 in seconds is a millisecond value
		if n > 1e10 {
			return time.UnixMilli(int64(n)).UTC()
		}
		return time.Unix(int64(n), 0).UTC()
	}
	return time.Time{}
}
