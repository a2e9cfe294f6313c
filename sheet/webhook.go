package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rosterhq/roster/campaign"
	"github.com/rosterhq/roster/errors"
)

// WebhookSink posts bucket contents to a spreadsheet-backed webhook, one
// request per bucket.
type WebhookSink struct {
	url  string
	http *http.Client
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, http: &http.Client{Timeout: timeout}}
}

type webhookRow struct {
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Position int    `json:"position"`
}

func (s *WebhookSink) PushRecords(ctx context.Context, bucketID int, assignments []campaign.Assignment) error {
	rows := make([]webhookRow, len(assignments))
	for i, a := range assignments {
		rows[i] = webhookRow{Username: a.Username, FullName: a.FullName, Position: a.Position}
	}

	body, err := json.Marshal(map[string]interface{}{
		"table": fmt.Sprintf("table_%d", bucketID),
		"rows":  rows,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal bucket payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build sheet request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "sheet push failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf("sheet returned %d for bucket %d", resp.StatusCode, bucketID)
	}
	return nil
}
