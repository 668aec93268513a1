package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-personal/internal/config"
	"etl-personal/internal/model"
)

func activityPayload(id int64, start time.Time, name string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         name,
		"sport_type":   "Run",
		"start_date":   start.UTC().Format(time.RFC3339),
		"elapsed_time": 3600,
		"moving_time":  3400,
		"distance":     10000.0,
	}
}

type fakeAthleteAPI struct {
	activities []map[string]any
	lastAfter  string
	pages      int
}

func (a *fakeAthleteAPI) handler(perPage int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.pages++
		a.lastAfter = r.URL.Query().Get("after")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		start := (page - 1) * perPage
		end := start + perPage
		if start > len(a.activities) {
			start = len(a.activities)
		}
		if end > len(a.activities) {
			end = len(a.activities)
		}
		json.NewEncoder(w).Encode(a.activities[start:end])
	})
}

func activitySourceFor(t *testing.T, srv *httptest.Server, pageSize int) *Activity {
	t.Helper()
	return NewActivity(config.SourceConfig{
		ID:           "strava",
		Type:         "activity",
		BaseURL:      srv.URL,
		ClientSecret: "client-secret",
		TokenSecret:  "strava-token",
		LookbackDays: 5,
		PageSize:     pageSize,
	}, config.RetryConfig{Attempts: 1, DelayMS: 1})
}

func TestActivityExtractPaginatesUntilExhausted(t *testing.T) {
	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	api := &fakeAthleteAPI{activities: []map[string]any{
		activityPayload(1, base, "one"),
		activityPayload(2, base.Add(time.Hour), "two"),
		activityPayload(3, base.Add(2*time.Hour), "three"),
	}}
	srv := httptest.NewServer(api.handler(2))
	defer srv.Close()

	src := activitySourceFor(t, srv, 2)
	it, err := src.Extract(context.Background(), model.Credential{AccessToken: "tok"}, model.Watermark{})
	require.NoError(t, err)

	recs, skipped := drain(t, it)
	assert.Len(t, recs, 3)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 2, api.pages, "second page is short, so no third request")
	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, base.Unix(), recs[0].Cursor)
}

func TestActivityExtractHonorsWatermarkStrictly(t *testing.T) {
	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	api := &fakeAthleteAPI{activities: []map[string]any{
		activityPayload(1, base, "old"),
		activityPayload(2, base.Add(time.Hour), "new"),
	}}
	srv := httptest.NewServer(api.handler(10))
	defer srv.Close()

	src := activitySourceFor(t, srv, 10)
	it, err := src.Extract(context.Background(), model.Credential{AccessToken: "tok"}, model.WatermarkAt("strava", base.Unix()))
	require.NoError(t, err)

	recs, _ := drain(t, it)
	require.Len(t, recs, 1)
	assert.Equal(t, "2", recs[0].ID)
	// The upstream was asked to bound the window at the watermark too.
	assert.Equal(t, strconv.FormatInt(base.Unix(), 10), api.lastAfter)
}

func TestActivityExtractSkipsRecordsWithoutID(t *testing.T) {
	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	broken := activityPayload(0, base, "broken")
	delete(broken, "id")
	api := &fakeAthleteAPI{activities: []map[string]any{
		broken,
		activityPayload(2, base.Add(time.Hour), "fine"),
	}}
	srv := httptest.NewServer(api.handler(10))
	defer srv.Close()

	src := activitySourceFor(t, srv, 10)
	it, err := src.Extract(context.Background(), model.Credential{AccessToken: "tok"}, model.Watermark{})
	require.NoError(t, err)

	recs, skipped := drain(t, it)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "2", recs[0].ID)
}

func TestActivityExtractSkipsUnparseableStartDate(t *testing.T) {
	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	broken := activityPayload(9, base, "broken")
	broken["start_date"] = "last tuesday"
	api := &fakeAthleteAPI{activities: []map[string]any{broken}}
	srv := httptest.NewServer(api.handler(10))
	defer srv.Close()

	src := activitySourceFor(t, srv, 10)
	it, err := src.Extract(context.Background(), model.Credential{AccessToken: "tok"}, model.Watermark{})
	require.NoError(t, err)

	recs, skipped := drain(t, it)
	assert.Empty(t, recs)
	assert.Equal(t, 1, skipped)
}

func TestActivityExtractRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := activitySourceFor(t, srv, 10)
	it, err := src.Extract(context.Background(), model.Credential{AccessToken: "tok"}, model.Watermark{})
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	var su *model.SourceUnavailableError
	require.ErrorAs(t, err, &su)
	assert.True(t, model.IsRetryable(err))
}
