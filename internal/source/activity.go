package source

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"time"

	"etl-personal/internal/config"
	"etl-personal/internal/model"
)

// Activity pulls workout records from a Strava-style athlete activities
// endpoint. Pagination is page/per_page; the extraction window is bounded
// with after=<epoch seconds> and re-filtered client-side so only records
// strictly past the watermark are yielded.
type Activity struct {
	id       string
	baseURL  string
	pageSize int
	lookback time.Duration
	client   *httpClient
	now      func() time.Time
}

func NewActivity(cfg config.SourceConfig, retryCfg config.RetryConfig) *Activity {
	return &Activity{
		id:       cfg.ID,
		baseURL:  cfg.BaseURL,
		pageSize: cfg.PageSize,
		lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		client:   newHTTPClient(cfg.ID, retryCfg),
		now:      time.Now,
	}
}

func (a *Activity) ID() string               { return a.id }
func (a *Activity) Entity() model.EntityType { return model.EntityActivity }

func (a *Activity) Extract(ctx context.Context, cred model.Credential, since model.Watermark) (Iterator, error) {
	// Watermark cursor is the activity start time in epoch seconds.
	sinceSec := since.Epoch()
	after := sinceSec
	if since.IsZero() {
		after = a.now().Add(-a.lookback).Unix()
	}
	return &activityIterator{
		src:   a,
		token: cred.AccessToken,
		since: sinceSec,
		after: after,
		page:  1,
	}, nil
}

type activityIterator struct {
	src   *Activity
	token string
	since int64
	after int64

	page int
	done bool
	buf  []recordItem // record-or-error queue
}

func (it *activityIterator) Next(ctx context.Context) (model.RawRecord, error) {
	for len(it.buf) == 0 {
		if it.done {
			return model.RawRecord{}, io.EOF
		}
		if err := it.fetchPage(ctx); err != nil {
			return model.RawRecord{}, err
		}
	}
	item := it.buf[0]
	it.buf = it.buf[1:]
	return item.rec, item.err
}

func (it *activityIterator) fetchPage(ctx context.Context) error {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(it.after, 10))
	q.Set("page", strconv.Itoa(it.page))
	q.Set("per_page", strconv.Itoa(it.src.pageSize))
	pageURL := it.src.baseURL + "/api/v3/athlete/activities?" + q.Encode()

	var page []map[string]any
	if err := it.src.client.getJSON(ctx, pageURL, it.token, &page); err != nil {
		return err
	}

	it.page++
	if len(page) < it.src.pageSize {
		// Short (or empty) page means the upstream is exhausted.
		it.done = true
	}

	for _, raw := range page {
		if item := it.toItem(raw); item != nil {
			it.buf = append(it.buf, *item)
		}
	}
	return nil
}

// toItem converts one upstream activity into a raw record, or nil when the
// record is at or below the watermark.
func (it *activityIterator) toItem(raw map[string]any) *recordItem {
	id := activityID(raw["id"])
	if id == "" {
		return &recordItem{err: &model.SchemaDriftError{SourceID: it.src.id, RecordID: "?", Field: "id"}}
	}

	startStr, _ := raw["start_date"].(string)
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return &recordItem{err: &model.SchemaDriftError{SourceID: it.src.id, RecordID: id, Field: "start_date"}}
	}

	sec := start.Unix()
	if sec <= it.since {
		// Upstream "after" is advisory; enforce strictly-greater here.
		return nil
	}

	return &recordItem{rec: model.RawRecord{
		ID:        id,
		SourceID:  it.src.id,
		Cursor:    sec,
		Payload:   raw,
		FetchedAt: it.src.now(),
	}}
}

// activityID normalizes the upstream numeric id (encoding/json decodes
// JSON numbers into float64).
func activityID(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case string:
		return n
	default:
		return ""
	}
}
