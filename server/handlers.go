package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rosterhq/roster/batch"
	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/queue"
	"github.com/rosterhq/roster/scrape"
)

type submitJobRequest struct {
	Accounts         []string `json:"accounts"`
	TargetLabel      string   `json:"target_label"`
	TotalScrapeCount int      `json:"total_scrape_count"`
}

// handleSubmitJob accepts a scrape request, fans it out into batches and
// returns 202 with the job handle.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errors.NewValidationError("invalid request body: %v", err))
		return
	}
	if len(req.Accounts) == 0 {
		s.respondError(w, errors.NewValidationError("accounts must be a non-empty list"))
		return
	}

	// A total budget is divided evenly across the accounts; without one,
	// every account gets the default.
	perAccount := s.cfg.Pipeline.DefaultPerAccount
	if req.TotalScrapeCount > 0 {
		perAccount = req.TotalScrapeCount / len(req.Accounts)
		if perAccount == 0 {
			s.respondError(w, errors.NewValidationError(
				"total_scrape_count %d is below one profile per account for %d accounts",
				req.TotalScrapeCount, len(req.Accounts)))
			return
		}
	}

	batches, err := batch.Split(req.Accounts, s.cfg.Pipeline.BatchSize)
	if err != nil {
		s.respondError(w, err)
		return
	}

	j, err := job.New(req.Accounts, len(batches), job.Options{
		TargetLabel:   req.TargetLabel,
		PerAccountMax: perAccount,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.jobs.Create(j); err != nil {
		s.respondError(w, err)
		return
	}

	payloads := make([]queue.Payload, len(batches))
	for i, accounts := range batches {
		payloads[i] = queue.Payload{
			Accounts:      accounts,
			TargetLabel:   req.TargetLabel,
			PerAccountMax: perAccount,
		}
	}
	if err := s.queue.Enqueue(j.ID, payloads); err != nil {
		// The job row exists but has no work; fail it so it cannot hang in
		// queued forever.
		if _, failErr := s.jobs.Fail(j.ID, "failed to enqueue batches"); failErr != nil {
			s.log.Errorw("failed to fail unenqueued job", "job_id", j.ID, "error", failErr)
		}
		s.respondError(w, err)
		return
	}

	s.log.Infow("job submitted", "job_id", j.ID, "accounts", len(req.Accounts), "total_batches", len(batches))
	s.respond(w, http.StatusAccepted, map[string]interface{}{
		"job_id":        j.ID,
		"total_batches": len(batches),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	body := map[string]interface{}{
		"job_id":            j.ID,
		"status":            j.Status,
		"progress":          j.Progress,
		"total_batches":     j.TotalBatches,
		"completed_batches": j.CompletedBatches,
		"failed_batches":    j.FailedBatches,
		"profiles_scraped":  j.ProfilesScraped,
		"created_at":        j.CreatedAt,
	}
	if j.ErrorMessage != "" {
		body["error_message"] = j.ErrorMessage
	}
	if j.CompletedAt != nil {
		body["completed_at"] = j.CompletedAt
	}
	s.respond(w, http.StatusOK, body)
}

// handleJobResults pages through a completed job's merged records. Results
// of a job that has not completed are not ready.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if j.Status != job.StatusCompleted {
		s.respondError(w, errors.Wrapf(errors.ErrNotReady, "job %s is %s", j.ID, j.Status))
		return
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(r, "limit", s.cfg.Pipeline.ResultsDefaultLimit)
	if limit < 1 {
		limit = s.cfg.Pipeline.ResultsDefaultLimit
	}
	if limit > s.cfg.Pipeline.ResultsMaxLimit {
		limit = s.cfg.Pipeline.ResultsMaxLimit
	}

	records, total, err := s.agg.Results(j.ID, (page-1)*limit, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"job_id":  j.ID,
		"records": records,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

type ingestRequest struct {
	Profiles []scrape.Record `json:"profiles"`
}

// handleIngest adds profiles straight into the dedup pool, reporting how
// many were actually new.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errors.NewValidationError("invalid request body: %v", err))
		return
	}
	if len(req.Profiles) == 0 {
		s.respondError(w, errors.NewValidationError("profiles must be a non-empty list"))
		return
	}
	for _, p := range req.Profiles {
		if p.ProfileID == "" || p.Username == "" {
			s.respondError(w, errors.NewValidationError("every profile needs a profile_id and username"))
			return
		}
	}

	added, err := s.pool.MarkKnown(req.Profiles)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"received":      len(req.Profiles),
		"added":         added,
		"already_known": len(req.Profiles) - added,
	})
}

type runCampaignRequest struct {
	Date    string `json:"campaign_date"`
	Buckets int    `json:"buckets"`
	Slots   int    `json:"bucket_size"`
}

func (s *Server) handleRunCampaign(w http.ResponseWriter, r *http.Request) {
	var req runCampaignRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, errors.NewValidationError("invalid request body: %v", err))
			return
		}
	}

	if req.Date == "" {
		req.Date = time.Now().UTC().Format("2006-01-02")
	}
	if req.Buckets == 0 {
		req.Buckets = s.cfg.Distribution.Buckets
	}
	if req.Slots == 0 {
		req.Slots = s.cfg.Distribution.BucketSize
	}

	c, err := s.campaigns.Run(req.Date, req.Buckets*req.Slots)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.campaigns.Distribute(c.ID, req.Buckets, req.Slots); err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]interface{}{
		"campaign_id":    c.ID,
		"campaign_date":  c.Date,
		"total_assigned": c.TotalAssigned,
		"buckets":        req.Buckets,
	})
}

type distributeRequest struct {
	Buckets int `json:"buckets"`
	Slots   int `json:"bucket_size"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, errors.NewValidationError("invalid request body: %v", err))
			return
		}
	}
	if req.Buckets == 0 {
		req.Buckets = s.cfg.Distribution.Buckets
	}
	if req.Slots == 0 {
		req.Slots = s.cfg.Distribution.BucketSize
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := s.campaigns.Distribute(campaignID, req.Buckets, req.Slots); err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"campaign_id": campaignID,
		"buckets":     req.Buckets,
		"slots":       req.Slots,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sweeper.Sweep()
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]interface{}{
		"unfollow_marked":    summary.UnfollowMarked,
		"assignments_purged": summary.AssignmentsPurged,
		"results_purged":     summary.ResultsPurged,
		"campaigns_archived": summary.CampaignsArchived,
		"campaigns_purged":   summary.CampaignsPurged,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
