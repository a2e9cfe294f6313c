// Package job defines the scrape job model and its persistent store.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rosterhq/roster/errors"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BatchOutcome is the reported result of one batch attempt sequence.
type BatchOutcome string

const (
	BatchSucceeded BatchOutcome = "succeeded"
	BatchFailed    BatchOutcome = "failed"
)

// Options carries the per-job scrape parameters.
type Options struct {
	TargetLabel   string `json:"target_label,omitempty"`
	PerAccountMax int    `json:"per_account_max,omitempty"`
}

// Job represents one user-submitted batch-scrape request, tracked end to end.
//
// Progress accounting: total_batches is fixed at submission; workers report
// batch outcomes and the store increments completed_batches/failed_batches
// exactly once per batch index. Progress counts successful batches only, so
// a job that completes with failed batches ends below 100 with a non-zero
// failed-batch count.
type Job struct {
	ID               string     `json:"job_id"`
	Status           Status     `json:"status"`
	Accounts         []string   `json:"accounts,omitempty"`
	Options          Options    `json:"options"`
	TotalBatches     int        `json:"total_batches"`
	CompletedBatches int        `json:"completed_batches"`
	FailedBatches    int        `json:"failed_batches"`
	ProfilesScraped  int        `json:"profiles_scraped"`
	Progress         float64    `json:"progress"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// New creates a queued job for the given accounts.
func New(accounts []string, totalBatches int, opts Options) (*Job, error) {
	if len(accounts) == 0 {
		return nil, errors.NewValidationError("accounts must be a non-empty list")
	}
	if totalBatches < 1 {
		return nil, errors.NewValidationError("total batches must be at least 1, got %d", totalBatches)
	}
	if opts.PerAccountMax <= 0 {
		return nil, errors.NewValidationError("per-account max must be positive, got %d", opts.PerAccountMax)
	}

	now := time.Now().UTC()
	return &Job{
		ID:           uuid.NewString(),
		Status:       StatusQueued,
		Accounts:     accounts,
		Options:      opts,
		TotalBatches: totalBatches,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// marshalAccounts serializes the accounts snapshot for storage.
func marshalAccounts(accounts []string) (string, error) {
	data, err := json.Marshal(accounts)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal accounts")
	}
	return string(data), nil
}

// unmarshalAccounts deserializes a stored accounts snapshot.
func unmarshalAccounts(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var accounts []string
	if err := json.Unmarshal([]byte(data), &accounts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal accounts")
	}
	return accounts, nil
}
