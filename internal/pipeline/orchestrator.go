package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"etl-personal/internal/model"
	"etl-personal/internal/source"
	"etl-personal/internal/warehouse"
)

// Per-source run states. Failed is terminal and reachable from any
// non-terminal state.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateExtracting     State = "extracting"
	StateTransforming   State = "transforming"
	StateLoading        State = "loading"
	StateCommitted      State = "committed"
	StateFailed         State = "failed"
)

// CredentialStore is the narrow credential surface the orchestrator needs.
type CredentialStore interface {
	Get(ctx context.Context, sourceID string) (model.Credential, error)
	Refresh(ctx context.Context, sourceID string) (model.Credential, error)
}

// StateTracker persists watermarks and run leases.
type StateTracker interface {
	ReadWatermark(ctx context.Context, sourceID string) (model.Watermark, error)
	Commit(ctx context.Context, sourceID string, wm model.Watermark) error
	AcquireLease(ctx context.Context, sourceID, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, sourceID, holder string) error
}

type Options struct {
	// Attempts bounds extract/load retries for transient errors.
	Attempts int
	// DelayMS is the base backoff delay, doubled per attempt.
	DelayMS int
	// BatchSize is how many canonical records are handed to the loader at
	// once.
	BatchSize int
	LeaseTTL  time.Duration
}

// Orchestrator sequences connector → transformer → loader per source.
// Sources are processed sequentially and isolated: one source ending in
// Failed never blocks or rolls back another's progress.
type Orchestrator struct {
	creds      CredentialStore
	tracker    StateTracker
	loader     warehouse.Loader
	sources    []source.Source
	transforms map[model.EntityType]func(model.RawRecord) (model.CanonicalRecord, error)
	opts       Options
}

func New(
	creds CredentialStore,
	tracker StateTracker,
	loader warehouse.Loader,
	sources []source.Source,
	transforms map[model.EntityType]func(model.RawRecord) (model.CanonicalRecord, error),
	opts Options,
) *Orchestrator {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.DelayMS == 0 {
		opts.DelayMS = 1500
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	return &Orchestrator{
		creds:      creds,
		tracker:    tracker,
		loader:     loader,
		sources:    sources,
		transforms: transforms,
		opts:       opts,
	}
}

// Run processes every source once and reports a summary per source. It
// never returns early on a per-source failure.
func (o *Orchestrator) Run(ctx context.Context) []model.RunSummary {
	runID := uuid.NewString()
	logrus.Infof("Starting run %s | sources=%d batchSize=%d", runID, len(o.sources), o.opts.BatchSize)

	summaries := make([]model.RunSummary, 0, len(o.sources))
	for _, src := range o.sources {
		startTs := time.Now()
		sum := o.runSource(ctx, runID, src)
		elapsed := time.Since(startTs).Seconds()
		if sum.Status == model.StatusCommitted {
			logrus.Infof("[OK] Source %s | Fetched: %d Loaded: %d Skipped: %d | Time: %.2fs",
				sum.SourceID, sum.RecordsFetched, sum.RecordsLoaded, sum.RecordsSkipped, elapsed)
		} else {
			logrus.Errorf("[FAILED] Source %s | %v | Time: %.2fs", sum.SourceID, sum.Err, elapsed)
		}
		summaries = append(summaries, sum)
	}
	return summaries
}

// AnyFailed reports whether a run summary set contains a failed source, so
// the caller can exit non-zero for the external scheduler.
func AnyFailed(summaries []model.RunSummary) bool {
	for _, s := range summaries {
		if s.Status == model.StatusFailed {
			return true
		}
	}
	return false
}

// runSource drives one source through the run state machine.
func (o *Orchestrator) runSource(ctx context.Context, runID string, src source.Source) model.RunSummary {
	sum := model.RunSummary{RunID: runID, SourceID: src.ID(), Status: model.StatusFailed}
	state := StateIdle

	fail := func(err error) model.RunSummary {
		logrus.Warnf("source %s failed in state %s: %v", src.ID(), state, err)
		sum.Err = err
		return sum
	}

	tf, ok := o.transforms[src.Entity()]
	if !ok {
		return fail(errors.New("no transformer registered for entity " + string(src.Entity())))
	}

	// Guard against an overlapping run for the same source racing on the
	// watermark commit.
	if err := o.tracker.AcquireLease(ctx, src.ID(), runID, o.opts.LeaseTTL); err != nil {
		return fail(err)
	}
	defer func() {
		if err := o.tracker.ReleaseLease(context.WithoutCancel(ctx), src.ID(), runID); err != nil {
			logrus.Warnf("failed to release lease for source %s: %v", src.ID(), err)
		}
	}()

	state = StateAuthenticating
	cred, err := o.creds.Get(ctx, src.ID())
	if err != nil {
		// One refresh retry, then give up: auth failures need a human.
		cred, err = o.creds.Refresh(ctx, src.ID())
		if err != nil {
			return fail(err)
		}
	}

	wm, err := o.tracker.ReadWatermark(ctx, src.ID())
	if err != nil {
		return fail(err)
	}

	// Extraction is restartable from the watermark, so transient failures
	// retry the whole extract-transform-load pass.
	var pass passResult
	for attempt := 1; attempt <= o.opts.Attempts; attempt++ {
		pass, err = o.runPass(ctx, &state, src, tf, cred, wm)
		if err == nil {
			break
		}
		if !model.IsRetryable(err) {
			return fail(err)
		}
		logrus.Warnf("source %s pass failed (attempt %d/%d): %v", src.ID(), attempt, o.opts.Attempts, err)
		if attempt < o.opts.Attempts {
			delay := time.Duration(o.opts.DelayMS) * time.Millisecond << (attempt - 1)
			select {
			case <-ctx.Done():
				return fail(ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	if err != nil {
		return fail(err)
	}

	sum.RecordsFetched = pass.fetched
	sum.RecordsLoaded = pass.loaded
	sum.RecordsSkipped = pass.skipped

	// The watermark only advances after everything is durably loaded. The
	// stream is not ordered by cursor, so committing mid-extraction could
	// skip older records on a crash.
	if pass.maxCursor > wm.Epoch() {
		if err := o.tracker.Commit(ctx, src.ID(), model.WatermarkAt(src.ID(), pass.maxCursor)); err != nil {
			return fail(err)
		}
	}

	state = StateCommitted
	sum.Status = model.StatusCommitted
	return sum
}

type passResult struct {
	fetched   int
	loaded    int
	skipped   int
	maxCursor int64
}

// runPass performs one full extract → transform → load sweep from the
// given watermark. Per-record errors are skipped and counted; anything
// else aborts the pass.
func (o *Orchestrator) runPass(
	ctx context.Context,
	state *State,
	src source.Source,
	tf func(model.RawRecord) (model.CanonicalRecord, error),
	cred model.Credential,
	wm model.Watermark,
) (passResult, error) {
	res := passResult{maxCursor: wm.Epoch()}

	*state = StateExtracting
	it, err := src.Extract(ctx, cred, wm)
	if err != nil {
		return res, err
	}

	batch := make([]model.CanonicalRecord, 0, o.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		*state = StateLoading
		out, err := o.loader.Load(ctx, src.Entity(), batch)
		if err != nil {
			return err
		}
		res.loaded += out.Loaded
		batch = batch[:0]
		*state = StateExtracting
		return nil
	}

	for {
		raw, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if model.IsRecordSkippable(err) {
				logrus.Warnf("skipping record: %v", err)
				res.skipped++
				continue
			}
			return res, err
		}
		res.fetched++

		*state = StateTransforming
		rec, err := tf(raw)
		if err != nil {
			if model.IsRecordSkippable(err) {
				logrus.Warnf("skipping record: %v", err)
				res.skipped++
				*state = StateExtracting
				continue
			}
			return res, err
		}
		if raw.Cursor > res.maxCursor {
			res.maxCursor = raw.Cursor
		}

		batch = append(batch, rec)
		if len(batch) >= o.opts.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
		*state = StateExtracting
	}

	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}
