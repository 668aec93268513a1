package source

import (
	"context"

	"etl-personal/internal/model"
)

// Iterator yields raw records one at a time. Next returns io.EOF once the
// source is exhausted for this extraction window.
//
// A record-level error (SchemaDriftError) leaves the iterator usable: the
// caller logs and skips that record and keeps calling Next. Any other error
// aborts the pass; extraction is restartable from the same watermark.
type Iterator interface {
	Next(ctx context.Context) (model.RawRecord, error)
}

// Source is the per-upstream connector contract. Extract must only yield
// records whose cursor is strictly greater than the given watermark,
// flattening upstream pagination into one sequence.
type Source interface {
	ID() string
	Entity() model.EntityType
	Extract(ctx context.Context, cred model.Credential, since model.Watermark) (Iterator, error)
}
