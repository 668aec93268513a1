package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"etl-personal/internal/model"
)

// ErrLeaseHeld means another process currently holds the run lease for the
// source.
var ErrLeaseHeld = errors.New("run lease held by another process")

type watermarkRow struct {
	SourceID  string `gorm:"primaryKey;column:source_id"`
	Cursor    string `gorm:"column:cursor"`
	UpdatedAt time.Time
}

func (watermarkRow) TableName() string { return "watermarks" }

type runLease struct {
	SourceID  string `gorm:"primaryKey;column:source_id"`
	Holder    string
	ExpiresAt time.Time
}

func (runLease) TableName() string { return "run_leases" }

// Tracker persists per-source pipeline state: the watermark row read before
// extraction and advanced after a batch is durably loaded, and a run lease
// that keeps two runs for the same source from overlapping.
//
// The watermark is a re-fetch optimization, not a correctness mechanism:
// the loader's idempotent upsert is what makes reprocessing safe.
type Tracker struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Tracker, error) {
	if err := db.AutoMigrate(&watermarkRow{}, &runLease{}); err != nil {
		return nil, fmt.Errorf("failed to migrate state tables: %w", err)
	}
	return &Tracker{db: db}, nil
}

// ReadWatermark returns the source's watermark, or the "never run" sentinel
// when no row exists.
func (t *Tracker) ReadWatermark(ctx context.Context, sourceID string) (model.Watermark, error) {
	var row watermarkRow
	err := t.db.WithContext(ctx).First(&row, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Watermark{SourceID: sourceID}, nil
	}
	if err != nil {
		return model.Watermark{}, err
	}
	return model.Watermark{SourceID: sourceID, Cursor: row.Cursor}, nil
}

// Commit advances the watermark. Watermarks only move forward: a commit at
// or behind the stored cursor is a no-op, so a retried overlapping run can
// never roll the window back.
func (t *Tracker) Commit(ctx context.Context, sourceID string, wm model.Watermark) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing watermarkRow
		err := tx.First(&existing, "source_id = ?", sourceID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			current := model.Watermark{SourceID: sourceID, Cursor: existing.Cursor}
			if current.Epoch() >= wm.Epoch() {
				return nil
			}
		}
		row := watermarkRow{SourceID: sourceID, Cursor: wm.Cursor, UpdatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
		}).Create(&row).Error
	})
}

// Reset drops the watermark so the next run starts from the initial
// lookback window. This is the only sanctioned way to move a watermark
// backwards.
func (t *Tracker) Reset(ctx context.Context, sourceID string) error {
	return t.db.WithContext(ctx).Delete(&watermarkRow{}, "source_id = ?", sourceID).Error
}

// AcquireLease claims the single-run lease for a source. A live lease held
// by someone else returns ErrLeaseHeld; an expired one is stolen.
func (t *Tracker) AcquireLease(ctx context.Context, sourceID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing runLease
		err := tx.First(&existing, "source_id = ?", sourceID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && existing.Holder != holder && existing.ExpiresAt.After(now) {
			return fmt.Errorf("%w: source %q held by %s until %s", ErrLeaseHeld, sourceID, existing.Holder, existing.ExpiresAt.Format(time.RFC3339))
		}
		lease := runLease{SourceID: sourceID, Holder: holder, ExpiresAt: now.Add(ttl)}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"holder", "expires_at"}),
		}).Create(&lease).Error
	})
}

// ReleaseLease frees the lease if this holder still owns it.
func (t *Tracker) ReleaseLease(ctx context.Context, sourceID, holder string) error {
	return t.db.WithContext(ctx).Delete(&runLease{}, "source_id = ? AND holder = ?", sourceID, holder).Error
}
