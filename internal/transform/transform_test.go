package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-personal/internal/model"
)

func rawEmail() model.RawRecord {
	return model.RawRecord{
		ID:       "msg-1",
		SourceID: "gmail",
		Cursor:   1714550400000,
		Payload: map[string]any{
			"id":            "msg-1",
			"thread_id":     "thr-9",
			"internal_date": int64(1714550400000),
			"snippet":       "lunch?",
			"label_ids":     []string{"INBOX", "IMPORTANT"},
			"headers": map[string]string{
				"From":    "alice@example.com",
				"To":      "bob@example.com",
				"Subject": "lunch",
				"Cc":      "carol@example.com",
			},
		},
		FetchedAt: time.Now(),
	}
}

func TestEmailTransform(t *testing.T) {
	rec, err := Email(rawEmail())
	require.NoError(t, err)

	assert.Equal(t, model.EntityEmail, rec.EntityType)
	assert.Equal(t, "msg-1", rec.RecordID)
	assert.Equal(t, "gmail", rec.SourceID)
	assert.Equal(t, time.UnixMilli(1714550400000).UTC(), rec.OccurredAt)
	assert.Equal(t, "alice@example.com", rec.Attributes["sender"])
	assert.Equal(t, "bob@example.com", rec.Attributes["recipient"])
	assert.Equal(t, "lunch", rec.Attributes["subject"])
	assert.Equal(t, "IMPORTANT, INBOX", rec.Attributes["labels"])
	assert.Equal(t, "carol@example.com", rec.Attributes["cc"])
	assert.Equal(t, "", rec.Attributes["bcc"])
}

func TestEmailTransformDeterministic(t *testing.T) {
	raw := rawEmail()
	first, err := Email(raw)
	require.NoError(t, err)

	// FetchedAt varies between extractions of the same upstream record and
	// must not leak into the canonical output.
	raw.FetchedAt = raw.FetchedAt.Add(48 * time.Hour)
	second, err := Email(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEmailTransformRejectsMissingDate(t *testing.T) {
	raw := rawEmail()
	delete(raw.Payload, "internal_date")

	_, err := Email(raw)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, model.IsRecordSkippable(err))
}

func rawActivity() model.RawRecord {
	return model.RawRecord{
		ID:       "777",
		SourceID: "strava",
		Cursor:   1714557600,
		Payload: map[string]any{
			"id":                   float64(777),
			"name":                 "Morning Run",
			"sport_type":           "Run",
			"start_date":           "2024-05-01T10:00:00Z",
			"elapsed_time":         float64(3605.4),
			"moving_time":          float64(3400),
			"distance":             float64(10012.35),
			"total_elevation_gain": float64(120),
			"average_heartrate":    float64(141.2),
		},
	}
}

func TestActivityTransform(t *testing.T) {
	rec, err := Activity(rawActivity())
	require.NoError(t, err)

	assert.Equal(t, model.EntityActivity, rec.EntityType)
	assert.Equal(t, "777", rec.RecordID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.OccurredAt)
	// Durations land as whole seconds, metrics with one decimal.
	assert.Equal(t, "3605", rec.Attributes["elapsed_s"])
	assert.Equal(t, "3400", rec.Attributes["moving_s"])
	assert.Equal(t, "10012.3", rec.Attributes["distance_m"])
	assert.Equal(t, "120.0", rec.Attributes["elevation_gain_m"])
	assert.Equal(t, "141.2", rec.Attributes["avg_heartrate"])
}

func TestActivityTransformDeterministic(t *testing.T) {
	first, err := Activity(rawActivity())
	require.NoError(t, err)
	second, err := Activity(rawActivity())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestActivityTransformRejectsBadStartDate(t *testing.T) {
	raw := rawActivity()
	raw.Payload["start_date"] = "yesterday-ish"

	_, err := Activity(raw)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestForEntity(t *testing.T) {
	_, err := ForEntity(model.EntityEmail)
	require.NoError(t, err)
	_, err = ForEntity(model.EntityActivity)
	require.NoError(t, err)
	_, err = ForEntity(model.EntityType("heartbeats"))
	assert.Error(t, err)
}
