package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"etl-personal/internal/model"
)

// Loader defines the behaviour expected from any warehouse back-end.
// Writes are upserts keyed on record_id: loading the same batch twice must
// leave the store in the same state as loading it once.
type Loader interface {
	Load(ctx context.Context, entity model.EntityType, batch []model.CanonicalRecord) (model.LoadResult, error)
}

// row is the physical shape of every canonical table. Attributes are
// serialized as JSON with sorted keys, so a row's bytes are a pure function
// of its CanonicalRecord.
type row struct {
	RecordID   string    `gorm:"primaryKey;column:record_id"`
	SourceID   string    `gorm:"column:source_id;index"`
	OccurredAt time.Time `gorm:"column:occurred_at;index"`
	Attributes string    `gorm:"column:attributes"`
}

// SQLLoader writes canonical records into one table per entity type using
// insert-or-update-by-key. Oversized batches are chunked to respect
// destination write limits; each chunk is a single transactional statement
// so no partial chunk is ever visible.
type SQLLoader struct {
	db        *gorm.DB
	batchSize int
	migrated  map[model.EntityType]bool
}

func NewSQLLoader(db *gorm.DB, batchSize int) *SQLLoader {
	if batchSize < 1 {
		batchSize = 500
	}
	return &SQLLoader{
		db:        db,
		batchSize: batchSize,
		migrated:  make(map[model.EntityType]bool),
	}
}

func tableFor(entity model.EntityType) string {
	return "records_" + string(entity)
}

func (l *SQLLoader) Load(ctx context.Context, entity model.EntityType, batch []model.CanonicalRecord) (model.LoadResult, error) {
	if len(batch) == 0 {
		return model.LoadResult{}, nil
	}

	if err := l.ensureTable(entity); err != nil {
		return model.LoadResult{}, err
	}

	table := tableFor(entity)
	loaded := 0
	for start := 0; start < len(batch); start += l.batchSize {
		end := start + l.batchSize
		if end > len(batch) {
			end = len(batch)
		}

		rows, err := toRows(batch[start:end])
		if err != nil {
			return model.LoadResult{Loaded: loaded}, &model.LoadError{Retryable: false, Err: err}
		}

		err = l.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_id", "occurred_at", "attributes"}),
		}).Create(&rows).Error
		if err != nil {
			// Connectivity failures are worth another attempt; a schema
			// mismatch needs a migration, not a retry.
			return model.LoadResult{Loaded: loaded}, &model.LoadError{Retryable: true, Err: err}
		}
		loaded += len(rows)
	}

	return model.LoadResult{Loaded: loaded}, nil
}

func (l *SQLLoader) ensureTable(entity model.EntityType) error {
	if l.migrated[entity] {
		return nil
	}
	if err := l.db.Table(tableFor(entity)).AutoMigrate(&row{}); err != nil {
		return &model.LoadError{Retryable: false, Err: fmt.Errorf("failed to migrate table %s: %w", tableFor(entity), err)}
	}
	l.migrated[entity] = true
	return nil
}

func toRows(batch []model.CanonicalRecord) ([]row, error) {
	rows := make([]row, 0, len(batch))
	for _, rec := range batch {
		if rec.RecordID == "" {
			return nil, fmt.Errorf("record without record_id cannot be upserted")
		}
		attrs, err := json.Marshal(rec.Attributes) // map keys marshal sorted
		if err != nil {
			return nil, fmt.Errorf("failed to serialize attributes for record %q: %w", rec.RecordID, err)
		}
		rows = append(rows, row{
			RecordID:   rec.RecordID,
			SourceID:   rec.SourceID,
			OccurredAt: rec.OccurredAt.UTC(),
			Attributes: string(attrs),
		})
	}
	return rows, nil
}
