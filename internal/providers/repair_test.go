package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWithRepairPassesThroughValidOutput(t *testing.T) {
	calls := 0
	generate := func(ctx context.Context, system, user string) (string, error) {
		calls++
		return "", nil
	}

	ex, err := parseWithRepair(context.Background(),
		"c", `{"entities": [{"name": "A", "type": "T", "description": ""}], "relationships": []}`, generate)
	require.NoError(t, err)
	assert.Len(t, ex.Entities, 1)
	assert.Zero(t, calls, "valid output must not trigger a repair call")
}

func TestParseWithRepairRecoversOnSecondAttempt(t *testing.T) {
	responses := []string{
		"still not json",
		`{"entities": [{"name": "Fixed", "type": "T", "description": ""}], "relationships": []}`,
	}
	calls := 0
	generate := func(ctx context.Context, system, user string) (string, error) {
		out := responses[calls]
		calls++
		return out, nil
	}

	ex, err := parseWithRepair(context.Background(), "c", "totally malformed", generate)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, ex.Entities, 1)
	assert.Equal(t, "Fixed", ex.Entities[0].Name)
}

func TestParseWithRepairGivesUpAfterBoundedAttempts(t *testing.T) {
	calls := 0
	generate := func(ctx context.Context, system, user string) (string, error) {
		calls++
		return "never json", nil
	}

	_, err := parseWithRepair(context.Background(), "c", "malformed", generate)
	require.Error(t, err)
	assert.Equal(t, repairAttempts, calls)
	assert.Contains(t, err.Error(), "repair attempts")
}
