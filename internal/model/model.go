package model

import (
	"strconv"
	"time"
)

// EntityType identifies the canonical table a record is routed to.
type EntityType string

const (
	EntityEmail    EntityType = "email"
	EntityActivity EntityType = "activity"
)

// Credential holds a live OAuth2 token set for one source. It is owned by
// the credential store and never persisted outside the secret backend.
type Credential struct {
	SourceID     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the access token can still be presented upstream.
// A one minute margin avoids handing out tokens that expire mid-request.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return now.Before(c.Expiry.Add(-time.Minute))
}

// Watermark is the highest cursor successfully loaded for a source. The
// cursor is a decimal epoch string whose resolution is source-specific
// (milliseconds for email, seconds for activities). An empty cursor is the
// "never run" sentinel.
type Watermark struct {
	SourceID string
	Cursor   string
}

func (w Watermark) IsZero() bool { return w.Cursor == "" }

// Epoch returns the cursor as an integer, 0 for the sentinel.
func (w Watermark) Epoch() int64 {
	if w.Cursor == "" {
		return 0
	}
	n, err := strconv.ParseInt(w.Cursor, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// WatermarkAt builds a watermark from an integer cursor position.
func WatermarkAt(sourceID string, cursor int64) Watermark {
	return Watermark{SourceID: sourceID, Cursor: strconv.FormatInt(cursor, 10)}
}

// RawRecord is a source record as extracted, before normalization. It only
// lives within a single pipeline run.
type RawRecord struct {
	ID        string
	SourceID  string
	Cursor    int64 // logical position on the source's watermark axis
	Payload   map[string]any
	FetchedAt time.Time
}

// CanonicalRecord is the normalized shape all connectors converge on.
// Transformation is deterministic: re-extracting the same source record
// must yield an identical CanonicalRecord, which is what makes reloading
// safe.
type CanonicalRecord struct {
	EntityType EntityType
	RecordID   string
	SourceID   string
	OccurredAt time.Time
	Attributes map[string]string
}

// LoadResult reports how many records a loader call persisted.
type LoadResult struct {
	Loaded int
}

type RunStatus string

const (
	StatusCommitted RunStatus = "committed"
	StatusFailed    RunStatus = "failed"
)

// RunSummary is produced once per source per run.
type RunSummary struct {
	RunID          string
	SourceID       string
	Status         RunStatus
	RecordsFetched int
	RecordsLoaded  int
	RecordsSkipped int
	Err            error
}
