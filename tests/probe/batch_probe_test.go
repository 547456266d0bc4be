package probe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ostin-pil/lesca/internal/batch"
	"github.com/ostin-pil/lesca/internal/types"
)

// TestBatchResume is spec.md §8 scenario 5: a batch of [A, B, C] whose
// scraper fails on B and, with ContinueOnError disabled, aborts before C
// ever runs. Re-running against the same progress file with resume=true
// must invoke the scraper only for C, and the final results must carry
// A and B's outcomes from the checkpoint in original order.
func TestBatchResume(t *testing.T) {
	progressFile := filepath.Join(t.TempDir(), "progress.json")
	requests := []any{"A", "B", "C"}

	var firstRunInvocations []int
	first := batch.New(batch.Config{Concurrency: 1, ProgressFile: progressFile}, nil)
	_, err := first.Run(context.Background(), requests, func(ctx context.Context, idx int, req any) (any, error) {
		firstRunInvocations = append(firstRunInvocations, idx)
		if req == "B" {
			return nil, errors.New("boom")
		}
		return req, nil
	})
	if !errors.Is(err, types.ErrBatchAborted) {
		t.Fatalf("first run error = %v, want ErrBatchAborted", err)
	}
	if len(firstRunInvocations) != 2 || firstRunInvocations[0] != 0 || firstRunInvocations[1] != 1 {
		t.Fatalf("expected the first run to invoke only indices [0,1], got %v", firstRunInvocations)
	}

	var secondRunInvocations []int
	second := batch.New(batch.Config{Concurrency: 1, ContinueOnError: true, ProgressFile: progressFile, Resume: true}, nil)
	summary, err := second.Run(context.Background(), requests, func(ctx context.Context, idx int, req any) (any, error) {
		secondRunInvocations = append(secondRunInvocations, idx)
		return req, nil
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(secondRunInvocations) != 1 || secondRunInvocations[0] != 2 {
		t.Fatalf("expected resume to invoke only index 2, got %v", secondRunInvocations)
	}

	if summary.Total != 3 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Results[0].Value != "A" || summary.Results[0].Success != true {
		t.Errorf("result[0] = %+v, want the checkpointed success for A", summary.Results[0])
	}
	if summary.Results[1].Error != "boom" || summary.Results[1].Success {
		t.Errorf("result[1] = %+v, want the checkpointed failure for B", summary.Results[1])
	}
	if summary.Results[2].Value != "C" || !summary.Results[2].Success {
		t.Errorf("result[2] = %+v, want a fresh success for C", summary.Results[2])
	}
}
