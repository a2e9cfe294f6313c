// Package sheet pushes distributed campaign buckets to the external review
// sheet, respecting its rate limit.
package sheet

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rosterhq/roster/campaign"
	"github.com/rosterhq/roster/errors"
)

// Sink is the external review-sheet surface. One push per bucket.
type Sink interface {
	PushRecords(ctx context.Context, bucketID int, assignments []campaign.Assignment) error
}

// ThrottledPusher wraps a Sink with a minimum inter-call delay, imposed by
// the sheet provider.
type ThrottledPusher struct {
	sink    Sink
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewThrottledPusher creates a pusher that waits at least minInterval
// between sink calls.
func NewThrottledPusher(sink Sink, minInterval time.Duration, log *zap.SugaredLogger) *ThrottledPusher {
	if minInterval <= 0 {
		minInterval = time.Nanosecond
	}
	return &ThrottledPusher{
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		log:     log.Named("sheet"),
	}
}

// Push sends one bucket, blocking on the rate limiter first.
func (p *ThrottledPusher) Push(ctx context.Context, bucketID int, assignments []campaign.Assignment) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "throttle wait interrupted")
	}
	if err := p.sink.PushRecords(ctx, bucketID, assignments); err != nil {
		return errors.Wrapf(err, "failed to push bucket %d", bucketID)
	}
	return nil
}

// SyncCampaign pushes every non-empty bucket of a distributed campaign in
// order and marks the campaign's final status: success when all buckets
// pushed, failed otherwise.
func (p *ThrottledPusher) SyncCampaign(ctx context.Context, store *campaign.Store, campaignID string, buckets int) error {
	sync := func() error {
		for b := 1; b <= buckets; b++ {
			assignments, err := store.BucketAssignments(campaignID, b)
			if err != nil {
				return err
			}
			if len(assignments) == 0 {
				continue
			}
			if err := p.Push(ctx, b, assignments); err != nil {
				return err
			}
		}
		return nil
	}

	if err := sync(); err != nil {
		if statusErr := store.SetStatus(campaignID, campaign.StatusFailed); statusErr != nil {
			p.log.Errorw("failed to mark campaign failed", "campaign_id", campaignID, "error", statusErr)
		}
		return err
	}

	if err := store.SetStatus(campaignID, campaign.StatusSuccess); err != nil {
		return err
	}
	p.log.Infow("campaign synced to review sheet", "campaign_id", campaignID, "buckets", buckets)
	return nil
}
