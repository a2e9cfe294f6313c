package job

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns scanned from a job row.
type jobScanArgs struct {
	Accounts    sql.NullString
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// jobSelectColumns is the standard column list for job SELECT queries.
const jobSelectColumns = `job_id, status, accounts, target_label, per_account_max,
	total_batches, completed_batches, failed_batches, profiles_scraped,
	progress, error_message, created_at, started_at, completed_at, updated_at`

// scanTargets returns scan destinations matching jobSelectColumns order.
func scanTargets(j *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.Status,
		&args.Accounts,
		&j.Options.TargetLabel,
		&j.Options.PerAccountMax,
		&j.TotalBatches,
		&j.CompletedBatches,
		&j.FailedBatches,
		&j.ProfilesScraped,
		&j.Progress,
		&args.ErrorMsg,
		&j.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&j.UpdatedAt,
	}
}

// applyScanArgs populates the job's optional fields from scanned values.
func applyScanArgs(j *Job, args *jobScanArgs) error {
	if args.Accounts.Valid {
		accounts, err := unmarshalAccounts(args.Accounts.String)
		if err != nil {
			return err
		}
		j.Accounts = accounts
	}
	if args.ErrorMsg.Valid {
		j.ErrorMessage = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		j.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		j.CompletedAt = &t
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row or rows cursor.
func scanJob(row rowScanner, j *Job) error {
	args := &jobScanArgs{}
	if err := row.Scan(scanTargets(j, args)...); err != nil {
		return err
	}
	return applyScanArgs(j, args)
}
