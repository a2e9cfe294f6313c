package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/errors"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name         string
		accounts     []string
		totalBatches int
		opts         Options
		wantErr      bool
	}{
		{
			name:         "valid",
			accounts:     []string{"alpha", "beta"},
			totalBatches: 1,
			opts:         Options{PerAccountMax: 5},
		},
		{
			name:         "empty accounts",
			accounts:     nil,
			totalBatches: 1,
			opts:         Options{PerAccountMax: 5},
			wantErr:      true,
		},
		{
			name:         "zero batches",
			accounts:     []string{"alpha"},
			totalBatches: 0,
			opts:         Options{PerAccountMax: 5},
			wantErr:      true,
		},
		{
			name:         "non-positive per-account max",
			accounts:     []string{"alpha"},
			totalBatches: 1,
			opts:         Options{PerAccountMax: 0},
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := New(tt.accounts, tt.totalBatches, tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, j.ID)
			assert.Equal(t, StatusQueued, j.Status)
			assert.Equal(t, tt.totalBatches, j.TotalBatches)
			assert.Zero(t, j.CompletedBatches)
			assert.Zero(t, j.Progress)
			assert.False(t, j.CreatedAt.IsZero())
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "processing", "completed", "failed"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("running"))
	assert.False(t, IsValidStatus(""))
}
