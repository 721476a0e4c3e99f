/*
Package jobqueue provides a River-based job queue for license email notices.

Email delivery never happens on the request path: activation notices are
enqueued by the API handlers, and a daily periodic job scans for licenses
expiring soon and enqueues one notice per license. Neither job mutates
license state; expiry remains a lazily derived view.

For retry policies and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/keygate/internal/license"
	"github.com/keygate/internal/mailer"
)

// ActivationNoticeArgs asks for one activation email.
type ActivationNoticeArgs struct {
	LicenseID int64  `json:"license_id"`
	Domain    string `json:"domain"`
}

// Kind returns the job kind for River.
func (ActivationNoticeArgs) Kind() string { return "license_activation_notice" }

// ExpiryNoticeArgs asks for one expiring-soon email.
type ExpiryNoticeArgs struct {
	LicenseID int64 `json:"license_id"`
}

func (ExpiryNoticeArgs) Kind() string { return "license_expiry_notice" }

// ExpiryScanArgs is the periodic scan that fans out ExpiryNoticeArgs.
type ExpiryScanArgs struct{}

func (ExpiryScanArgs) Kind() string { return "license_expiry_scan" }

// ActivationNoticeWorker delivers activation emails.
type ActivationNoticeWorker struct {
	river.WorkerDefaults[ActivationNoticeArgs]
	store  *license.Store
	mailer *mailer.Mailer
}

func (w *ActivationNoticeWorker) Work(ctx context.Context, job *river.Job[ActivationNoticeArgs]) error {
	l, err := w.store.GetByID(ctx, job.Args.LicenseID)
	if err != nil {
		// The license may have been deleted since enqueue; nothing to send.
		log.Warn().Int64("license_id", job.Args.LicenseID).Err(err).Msg("Skipping activation notice")
		return nil
	}
	if err := w.mailer.SendLicenseActivationNotice(l, job.Args.Domain); err != nil {
		if err == mailer.ErrNotConfigured {
			log.Debug().Msg("SMTP not configured, dropping activation notice")
			return nil
		}
		return fmt.Errorf("send activation notice: %w", err)
	}
	log.Info().Str("license_key", l.LicenseKey).Str("domain", job.Args.Domain).Msg("Sent activation notice")
	return nil
}

// ExpiryNoticeWorker delivers expiring-soon emails.
type ExpiryNoticeWorker struct {
	river.WorkerDefaults[ExpiryNoticeArgs]
	store  *license.Store
	mailer *mailer.Mailer
}

func (w *ExpiryNoticeWorker) Work(ctx context.Context, job *river.Job[ExpiryNoticeArgs]) error {
	l, err := w.store.GetByID(ctx, job.Args.LicenseID)
	if err != nil {
		log.Warn().Int64("license_id", job.Args.LicenseID).Err(err).Msg("Skipping expiry notice")
		return nil
	}
	// The license may have been extended or revoked since the scan.
	if l.Status != license.StatusActive || l.ExpiresAt == nil {
		return nil
	}
	if err := w.mailer.SendLicenseExpirationNotice(l); err != nil {
		if err == mailer.ErrNotConfigured {
			return nil
		}
		return fmt.Errorf("send expiry notice: %w", err)
	}
	log.Info().Str("license_key", l.LicenseKey).Time("expires_at", *l.ExpiresAt).Msg("Sent expiry notice")
	return nil
}

// ExpiryScanWorker finds licenses expiring within the notice window and
// enqueues one notice each. Uniqueness by args over the scan period keeps a
// license from being mailed on every scan.
type ExpiryScanWorker struct {
	river.WorkerDefaults[ExpiryScanArgs]
	store      *license.Store
	client     *river.Client[pgx.Tx]
	noticeDays int
}

func (w *ExpiryScanWorker) Work(ctx context.Context, job *river.Job[ExpiryScanArgs]) error {
	expiring, err := w.store.ExpiringWithin(ctx, w.noticeDays)
	if err != nil {
		return fmt.Errorf("scan expiring licenses: %w", err)
	}
	for _, l := range expiring {
		_, err := w.client.Insert(ctx, ExpiryNoticeArgs{LicenseID: l.ID}, &river.InsertOpts{
			UniqueOpts: river.UniqueOpts{
				ByArgs:   true,
				ByPeriod: time.Duration(w.noticeDays) * 24 * time.Hour,
			},
		})
		if err != nil {
			return fmt.Errorf("enqueue expiry notice for license %d: %w", l.ID, err)
		}
	}
	log.Info().Int("count", len(expiring)).Msg("Expiry scan complete")
	return nil
}

// JobQueue wraps the River client and its connection pool.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a job queue over its own pgx pool. The stores reuse
// the application's database/sql handle.
func NewJobQueue(databaseURL string, db *sql.DB, m *mailer.Mailer, noticeDays int) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	store := license.NewStore(db)

	workers := river.NewWorkers()
	river.AddWorker(workers, &ActivationNoticeWorker{store: store, mailer: m})
	river.AddWorker(workers, &ExpiryNoticeWorker{store: store, mailer: m})

	scanWorker := &ExpiryScanWorker{store: store, noticeDays: noticeDays}
	river.AddWorker(workers, scanWorker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(config.ExpiryScanInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return ExpiryScanArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	scanWorker.client = client

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueActivationNotice queues an activation email.
func (jq *JobQueue) EnqueueActivationNotice(ctx context.Context, licenseID int64, domain string) error {
	_, err := jq.client.Insert(ctx, ActivationNoticeArgs{LicenseID: licenseID, Domain: domain}, nil)
	if err != nil {
		return fmt.Errorf("enqueue activation notice: %w", err)
	}
	return nil
}
