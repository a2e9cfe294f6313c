// Package scrape defines the profile scraper contract and result model.
package scrape

import (
	"context"

	"github.com/rosterhq/roster/errors"
)

// Record is one scraped follower profile.
type Record struct {
	ProfileID string `json:"profile_id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
}

// Request describes one batch scrape against the upstream provider.
type Request struct {
	Accounts      []string
	PerAccountMax int
}

// Scraper fetches follower profiles for a batch of source accounts.
//
// Implementations should wrap recoverable failures with TransientError and
// unrecoverable ones with PermanentError so callers can decide whether to
// retry.
type Scraper interface {
	Scrape(ctx context.Context, req Request) ([]Record, error)
}

// TransientError marks err as recoverable (retry with backoff).
func TransientError(err error, msg string) error {
	return errors.Wrap(errors.Join(errors.ErrTransient, err), msg)
}

// PermanentError marks err as unrecoverable (fail the batch).
func PermanentError(err error, msg string) error {
	return errors.Wrap(errors.Join(errors.ErrPermanent, err), msg)
}
