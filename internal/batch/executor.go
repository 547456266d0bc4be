// Package batch implements the Batch Executor (spec.md §4.I): a
// concurrency-bounded driver over a list of requests with checkpoint/resume,
// inter-batch pacing, and progress callbacks.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ostin-pil/lesca/internal/types"
)

// ScraperFunc performs one item of work. The index is the request's
// original position, preserved across batching, checkpointing, and resume.
type ScraperFunc func(ctx context.Context, index int, request any) (value any, err error)

// ProgressFunc receives a snapshot after every item settles.
type ProgressFunc func(types.BatchProgress)

// Config holds the Batch Executor's spec.md §4.I parameters.
type Config struct {
	Concurrency         int
	ContinueOnError     bool
	DelayBetweenBatches time.Duration
	Resume              bool
	ProgressFile        string
}

// Executor drives a list of requests through a ScraperFunc in
// fixed-size, concurrency-bounded batches.
type Executor struct {
	cfg        Config
	onProgress ProgressFunc

	checkpointMu sync.Mutex
}

// New constructs an Executor. onProgress may be nil.
func New(cfg Config, onProgress ProgressFunc) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{cfg: cfg, onProgress: onProgress}
}

// Run drives requests through scrape and returns the final summary.
// Results are always ordered by original index regardless of completion
// order or resume state.
func (e *Executor) Run(ctx context.Context, requests []any, scrape ScraperFunc) (types.BatchSummary, error) {
	runID := uuid.New().String()
	total := len(requests)
	results := make([]types.BatchResult, total)
	completed := make([]bool, total)
	skippedCount := 0

	startTimeMs := time.Now().UnixMilli()

	if e.cfg.Resume {
		cp, found, err := loadCheckpoint(e.cfg.ProgressFile)
		if err != nil {
			return types.BatchSummary{}, err
		}
		if found {
			startTimeMs = cp.StartTimeMs
			for _, r := range cp.Results {
				if r.Index < 0 || r.Index >= total {
					continue
				}
				results[r.Index] = r
				results[r.Index].Skipped = true
				completed[r.Index] = true
				skippedCount++
			}
			log.Info().Str("runId", runID).Int("resumed", skippedCount).Msg("batch: resumed from checkpoint")
		}
	}

	totalBatches := (total + e.cfg.Concurrency - 1) / e.cfg.Concurrency
	var aborted bool
	var completedCount, successCount, failCount int
	for i := range completed {
		if completed[i] {
			if results[i].Success {
				successCount++
			} else {
				failCount++
			}
			completedCount++
		}
	}

	for batchStart := 0; batchStart < total && !aborted; batchStart += e.cfg.Concurrency {
		batchEnd := batchStart + e.cfg.Concurrency
		if batchEnd > total {
			batchEnd = total
		}
		currentBatch := batchStart/e.cfg.Concurrency + 1

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)

		var settleMu sync.Mutex
		fatalHit := false

		for idx := batchStart; idx < batchEnd; idx++ {
			idx := idx
			if completed[idx] {
				continue
			}
			req := requests[idx]
			g.Go(func() error {
				itemID := uuid.New().String()
				value, err := scrape(gctx, idx, req)

				result := types.BatchResult{Index: idx}
				if err != nil {
					result.Error = err.Error()
					log.Warn().Str("runId", runID).Str("itemId", itemID).Int("index", idx).Err(err).Msg("batch: item failed")
				} else {
					result.Success = true
					result.Value = value
				}

				settleMu.Lock()
				results[idx] = result
				completed[idx] = true
				completedCount++
				if result.Success {
					successCount++
				} else {
					failCount++
					if types.KindOf(err) == types.KindFatal && !e.cfg.ContinueOnError {
						fatalHit = true
					}
				}
				elapsed := time.Now().UnixMilli() - startTimeMs
				progress := e.progressSnapshot(total, completedCount, successCount, failCount, skippedCount, currentBatch, totalBatches, startTimeMs, elapsed)
				cp := snapshotCheckpoint(results, completed, startTimeMs)
				settleMu.Unlock()

				if err := e.writeCheckpoint(cp); err != nil {
					log.Warn().Err(err).Msg("batch: checkpoint write failed")
				}
				if e.onProgress != nil {
					e.onProgress(progress)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return types.BatchSummary{}, err
		}

		if fatalHit {
			aborted = true
			break
		}

		if batchEnd < total && e.cfg.DelayBetweenBatches > 0 {
			select {
			case <-time.After(e.cfg.DelayBetweenBatches):
			case <-ctx.Done():
				return types.BatchSummary{}, ctx.Err()
			}
		}
	}

	elapsed := time.Now().UnixMilli() - startTimeMs
	summary := types.BatchSummary{
		Total:      total,
		Successful: successCount,
		Failed:     failCount,
		Skipped:    skippedCount,
		Success:    failCount == 0 || e.cfg.ContinueOnError,
		Results:    results,
		ElapsedMs:  elapsed,
	}

	if aborted {
		summary.Success = false
		if err := e.writeCheckpoint(snapshotCheckpoint(results, completed, startTimeMs)); err != nil {
			log.Warn().Err(err).Msg("batch: checkpoint write failed on abort")
		}
		return summary, types.ErrBatchAborted
	}

	if completedCount == total {
		if err := removeCheckpoint(e.cfg.ProgressFile); err != nil {
			log.Warn().Err(err).Msg("batch: failed to remove checkpoint on completion")
		}
	}

	return summary, nil
}

func (e *Executor) progressSnapshot(total, completedCount, successCount, failCount, skippedCount, currentBatch, totalBatches int, startTimeMs, elapsedMs int64) types.BatchProgress {
	p := types.BatchProgress{
		Total:        total,
		Completed:    completedCount,
		Successful:   successCount,
		Failed:       failCount,
		Skipped:      skippedCount,
		CurrentBatch: currentBatch,
		TotalBatches: totalBatches,
		StartTimeMs:  startTimeMs,
		ElapsedMs:    elapsedMs,
	}
	if total > 0 {
		p.Percentage = float64(completedCount) / float64(total) * 100
	}
	if completedCount > 0 {
		eta := int64(float64(elapsedMs) / float64(completedCount) * float64(total-completedCount))
		p.ETAMs = &eta
	}
	return p
}

// snapshotCheckpoint builds a BatchCheckpoint value from results/completed.
// Callers racing with other goroutines over those slices (the per-item
// settlement path in Run) must build this snapshot while still holding
// whatever mutex guards them (settleMu), before handing it to
// writeCheckpoint — this function itself takes no lock and must never see
// results/completed mutated concurrently with its read.
func snapshotCheckpoint(results []types.BatchResult, completed []bool, startTimeMs int64) types.BatchCheckpoint {
	cp := types.BatchCheckpoint{StartTimeMs: startTimeMs}
	for i, done := range completed {
		if !done {
			continue
		}
		cp.CompletedIndices = append(cp.CompletedIndices, i)
		cp.Results = append(cp.Results, results[i])
	}
	return cp
}

// writeCheckpoint serializes cp and writes it atomically. Single-writer
// discipline (spec.md §5) is enforced by checkpointMu: every item's
// goroutine calls this, but only one write is in flight at a time.
func (e *Executor) writeCheckpoint(cp types.BatchCheckpoint) error {
	if e.cfg.ProgressFile == "" {
		return nil
	}
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()
	return saveCheckpoint(e.cfg.ProgressFile, cp)
}
