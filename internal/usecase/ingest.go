package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// RunState tracks one router invocation.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// SourcePair binds one connector to its normalizer. The two sources are not
// substitutable for the same time range, so there is no fallback between
// pairs.
type SourcePair struct {
	Connector  ports.Connector
	Normalizer ports.Normalizer
}

// RouterDeps wires the ingestion router.
type RouterDeps struct {
	Minutes     SourcePair
	Transcript  SourcePair
	Canonical   ports.CanonicalStore
	Checkpoints ports.CheckpointStore
	Cutover     time.Time
	Logger      *slog.Logger
}

// Router partitions a target range at the cutover boundary and drives each
// sub-range through its source pair. Completed sub-ranges are checkpointed
// so reruns skip them; a circuit-open sub-range is recorded deferred and
// retried on a later invocation.
type Router struct {
	minutes     SourcePair
	transcript  SourcePair
	canonical   ports.CanonicalStore
	checkpoints ports.CheckpointStore
	cutover     time.Time
	logger      *slog.Logger

	mu    sync.Mutex
	state RunState
}

// NewRouter constructs the ingestion router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		minutes:     deps.Minutes,
		transcript:  deps.Transcript,
		canonical:   deps.Canonical,
		checkpoints: deps.Checkpoints,
		cutover:     deps.Cutover,
		logger:      deps.Logger,
		state:       RunIdle,
	}
}

// subRange is one slice of the target range bound to exactly one source.
type subRange struct {
	From   time.Time
	To     time.Time
	Source string
}

func (s subRange) key() string {
	return fmt.Sprintf("%s:%s:%s", s.Source,
		s.From.UTC().Format(time.RFC3339), s.To.UTC().Format(time.RFC3339))
}

// splitRange partitions [from, to] at the cutover boundary: everything at or
// before the boundary routes to the minutes pair, everything after to the
// transcript pair. A straddling range yields exactly two sub-ranges.
func splitRange(from, to, cutover time.Time) []subRange {
	switch {
	case !to.After(cutover):
		return []subRange{{From: from, To: to, Source: "minutes"}}
	case from.After(cutover):
		return []subRange{{From: from, To: to, Source: "transcript"}}
	default:
		return []subRange{
			{From: from, To: cutover, Source: "minutes"},
			{From: cutover, To: to, Source: "transcript"},
		}
	}
}

// RunReport summarizes one ingestion invocation.
type RunReport struct {
	State       RunState
	Meetings    int
	Speeches    int
	Items       int
	Quarantined int
	Completed   []string
	Skipped     []string
	Deferred    []string
}

// State returns the current invocation state.
func (r *Router) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Router) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RunRunning {
		return fmt.Errorf("ingestion already running")
	}
	r.state = RunRunning
	return nil
}

func (r *Router) finish(failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if failed {
		r.state = RunFailed
		return
	}
	r.state = RunCompleted
}

// Run ingests the target range. Sub-ranges for different connectors execute
// concurrently; cancellation is honored at sub-range boundaries and progress
// resumes from the last completed checkpoint.
func (r *Router) Run(ctx context.Context, from, to time.Time) (RunReport, error) {
	if to.Before(from) {
		return RunReport{State: RunFailed}, fmt.Errorf("range end %s before start %s", to, from)
	}
	if err := r.begin(); err != nil {
		return RunReport{State: RunRunning}, err
	}

	report := RunReport{}
	var reportMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, sr := range splitRange(from, to, r.cutover) {
		sr := sr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			key := sr.key()
			status, ok, err := r.checkpoints.Status(gctx, key)
			if err != nil {
				return fmt.Errorf("checkpoint %s: %w", key, err)
			}
			if ok && status == domain.CheckpointCompleted {
				r.logger.Info("sub-range already completed", "range", key)
				reportMu.Lock()
				report.Skipped = append(report.Skipped, key)
				reportMu.Unlock()
				return nil
			}

			err = r.ingestSubRange(gctx, sr, &report, &reportMu)
			if errors.Is(err, domain.ErrCircuitOpen) {
				r.logger.Warn("sub-range deferred, connector circuit open", "range", key)
				if err := r.checkpoints.MarkDeferred(gctx, key); err != nil {
					return fmt.Errorf("defer %s: %w", key, err)
				}
				reportMu.Lock()
				report.Deferred = append(report.Deferred, key)
				reportMu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("sub-range %s: %w", key, err)
			}

			if err := r.checkpoints.MarkCompleted(gctx, key); err != nil {
				return fmt.Errorf("checkpoint %s: %w", key, err)
			}
			reportMu.Lock()
			report.Completed = append(report.Completed, key)
			reportMu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	r.finish(err != nil)
	report.State = r.State()
	return report, err
}

func (r *Router) pair(source string) SourcePair {
	if source == "minutes" {
		return r.minutes
	}
	return r.transcript
}

func (r *Router) ingestSubRange(ctx context.Context, sr subRange, report *RunReport, mu *sync.Mutex) error {
	pair := r.pair(sr.Source)
	start := 0

	for {
		page, err := pair.Connector.Fetch(ctx, domain.FetchQuery{From: sr.From, To: sr.To, StartRecord: start})
		if err != nil {
			return err
		}

		for _, rec := range page.Records {
			norm, err := pair.Normalizer.Normalize(ctx, rec)
			if domain.IsValidation(err) {
				r.logger.Warn("record quarantined",
					"source", rec.Source, "kind", rec.Kind, "error", err)
				mu.Lock()
				report.Quarantined++
				mu.Unlock()
				continue
			}
			if err != nil {
				return fmt.Errorf("normalize %s record: %w", rec.Source, err)
			}

			mu.Lock()
			if norm.Meeting != nil {
				report.Meetings++
			}
			if norm.Speech != nil {
				report.Speeches++
			}
			if norm.Item != nil {
				report.Items++
			}
			mu.Unlock()

			if norm.Meeting != nil {
				if err := r.canonical.UpsertMeeting(ctx, *norm.Meeting); err != nil {
					return err
				}
			}
			if norm.Speech != nil {
				if err := r.canonical.InsertSpeech(ctx, *norm.Speech); err != nil {
					return err
				}
			}
			if norm.Item != nil {
				if err := r.canonical.RecordStage(ctx, *norm.Item); err != nil {
					return err
				}
			}
		}

		if !page.HasMore {
			return nil
		}
		start = page.NextStart
	}
}
