package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"etl-personal/internal/model"
)

// Func maps one raw record into the canonical schema. Implementations are
// pure: no I/O, no clock reads, same input always yields the same output.
// That determinism is what makes re-extraction and re-loading a no-op.
type Func func(model.RawRecord) (model.CanonicalRecord, error)

// ForEntity returns the transformer for a canonical entity type.
func ForEntity(e model.EntityType) (Func, error) {
	switch e {
	case model.EntityEmail:
		return Email, nil
	case model.EntityActivity:
		return Activity, nil
	default:
		return nil, fmt.Errorf("no transformer for entity type %q", e)
	}
}

// Email normalizes a raw email message: headers become flat attributes,
// list columns (labels, cc, bcc) are comma-joined, the internal date
// becomes a UTC timestamp.
func Email(raw model.RawRecord) (model.CanonicalRecord, error) {
	if raw.ID == "" {
		return model.CanonicalRecord{}, &model.ValidationError{RecordID: raw.ID, Reason: "empty record id"}
	}

	ms := intValue(raw.Payload["internal_date"])
	if ms <= 0 {
		return model.CanonicalRecord{}, &model.ValidationError{RecordID: raw.ID, Reason: "missing or non-positive internal_date"}
	}

	headers := stringMap(raw.Payload["headers"])

	attrs := map[string]string{
		"thread_id": strValue(raw.Payload["thread_id"]),
		"sender":    headers["From"],
		"recipient": headers["To"],
		"subject":   headers["Subject"],
		"snippet":   strValue(raw.Payload["snippet"]),
		"labels":    joinList(raw.Payload["label_ids"]),
		"cc":        headers["Cc"],
		"bcc":       headers["Bcc"],
	}

	return model.CanonicalRecord{
		EntityType: model.EntityEmail,
		RecordID:   raw.ID,
		SourceID:   raw.SourceID,
		OccurredAt: time.UnixMilli(ms).UTC(),
		Attributes: attrs,
	}, nil
}

// Activity normalizes a raw workout record: durations to whole seconds,
// distance and elevation to meters with one decimal, start time to UTC.
func Activity(raw model.RawRecord) (model.CanonicalRecord, error) {
	if raw.ID == "" {
		return model.CanonicalRecord{}, &model.ValidationError{RecordID: raw.ID, Reason: "empty record id"}
	}

	startStr := strValue(raw.Payload["start_date"])
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return model.CanonicalRecord{}, &model.ValidationError{RecordID: raw.ID, Reason: "unparseable start_date"}
	}

	attrs := map[string]string{
		"name":             strValue(raw.Payload["name"]),
		"sport":            strValue(raw.Payload["sport_type"]),
		"elapsed_s":        strconv.FormatInt(intValue(raw.Payload["elapsed_time"]), 10),
		"moving_s":         strconv.FormatInt(intValue(raw.Payload["moving_time"]), 10),
		"distance_m":       formatMetric(raw.Payload["distance"]),
		"elevation_gain_m": formatMetric(raw.Payload["total_elevation_gain"]),
		"avg_heartrate":    formatMetric(raw.Payload["average_heartrate"]),
	}

	return model.CanonicalRecord{
		EntityType: model.EntityActivity,
		RecordID:   raw.ID,
		SourceID:   raw.SourceID,
		OccurredAt: start.UTC(),
		Attributes: attrs,
	}, nil
}

// strValue coerces a payload value to string, empty when absent.
func strValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue coerces numeric payload values; JSON decoding produces float64.
func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// formatMetric renders a numeric metric with one decimal place, empty when
// absent, so repeated transforms always serialize identically.
func formatMetric(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', 1, 64)
	case int64:
		return strconv.FormatFloat(float64(n), 'f', 1, 64)
	case int:
		return strconv.FormatFloat(float64(n), 'f', 1, 64)
	default:
		return ""
	}
}

// stringMap coerces a payload header map that may arrive as
// map[string]string or map[string]any.
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = strValue(val)
		}
		return out
	default:
		return map[string]string{}
	}
}

// joinList flattens a list column into a sorted comma-joined string.
func joinList(v any) string {
	var items []string
	switch l := v.(type) {
	case []string:
		items = append(items, l...)
	case []any:
		for _, e := range l {
			if s := strValue(e); s != "" {
				items = append(items, s)
			}
		}
	}
	sort.Strings(items)
	return strings.Join(items, ", ")
}
