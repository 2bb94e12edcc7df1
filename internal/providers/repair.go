package providers

import (
	"context"
	"fmt"
)

// repairAttempts bounds how many times a malformed extraction response is
// re-prompted before the chunk is marked extraction-failed.
const repairAttempts = 2

type generateFunc func(ctx context.Context, system string, user string) (string, error)

// parseWithRepair validates raw model output, re-prompting the model with the
// malformed text up to repairAttempts times.
func parseWithRepair(ctx context.Context, chunkID string, raw string, generate generateFunc) (*Extraction, error) {
	ex, err := ParseExtraction(raw, chunkID)
	if err == nil {
		return ex, nil
	}

	lastErr := err
	bad := raw
	for attempt := 0; attempt < repairAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		system, user := RepairPrompt(bad)
		fixed, gErr := generate(ctx, system, user)
		if gErr != nil {
			return nil, fmt.Errorf("repair call failed: %w", gErr)
		}
		ex, err = ParseExtraction(fixed, chunkID)
		if err == nil {
			return ex, nil
		}
		lastErr = err
		bad = fixed
	}
	return nil, fmt.Errorf("extraction failed schema validation after %d repair attempts: %w", repairAttempts, lastErr)
}
