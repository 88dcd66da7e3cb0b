package blesim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// pruneTimeout bounds one scheduled prune.
const pruneTimeout = time.Minute

// scheduleParser accepts standard five-field expressions and descriptors
// such as @daily or @every 6h.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// PruneSessions deletes sessions whose last activity is before cutoff,
// together with their traffic. Last activity is the end time, else the
// newest recorded message, else the start time, so a session that is still
// recording survives however long ago it started. keep names a session
// that is never deleted; empty keeps none.
func PruneSessions(ctx context.Context, db *sql.DB, cutoff time.Time, keep string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const stale = `
		SELECT s.id FROM recorder_sessions s
		WHERE s.id <> ?
		AND COALESCE(s.ended_at,
			(SELECT MAX(t.recorded_at) FROM traffic_log t WHERE t.session_id = s.id),
			s.started_at) < ?`

	cut := cutoff.UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM traffic_log WHERE session_id IN (`+stale+`)`, keep, cut); err != nil {
		return 0, fmt.Errorf("pruning traffic: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM recorder_sessions WHERE id IN (`+stale+`)`, keep, cut)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return pruned, nil
}

// RetentionConfig holds configuration for scheduled pruning.
type RetentionConfig struct {
	// Schedule is a cron expression or descriptor (@daily, @every 6h).
	Schedule string

	// MaxAge is how long a session is kept after its last activity.
	MaxAge time.Duration

	// KeepSessionID is never pruned, normally the live recorder's session.
	KeepSessionID string
}

// Retention prunes old recorder sessions on a cron schedule.
type Retention struct {
	db     *sql.DB
	maxAge time.Duration
	keep   string
	cron   *cron.Cron
	logger Logger
	now    func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetention validates cfg and prepares the schedule. Nothing runs until
// Start.
func NewRetention(db *sql.DB, cfg RetentionConfig) (*Retention, error) {
	if db == nil {
		return nil, errors.New("blesim: retention needs a database")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: retention max age must be positive", ErrInvalidArgument)
	}
	schedule, err := scheduleParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: retention schedule %q: %v", ErrInvalidArgument, cfg.Schedule, err)
	}

	r := &Retention{
		db:     db,
		maxAge: cfg.MaxAge,
		keep:   cfg.KeepSessionID,
		cron:   cron.New(),
		now:    time.Now,
	}
	r.cron.Schedule(schedule, cron.FuncJob(r.runScheduled))
	return r, nil
}

// SetLogger sets the logger for the retention job.
func (r *Retention) SetLogger(logger Logger) {
	r.logger = logger
}

// Start begins the schedule. Scheduled prunes stop when ctx ends.
func (r *Retention) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()
	r.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	<-r.cron.Stop().Done()
}

// RunOnce prunes immediately.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	return PruneSessions(ctx, r.db, r.now().Add(-r.maxAge), r.keep)
}

func (r *Retention) runScheduled() {
	r.mu.Lock()
	base := r.ctx
	r.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, pruneTimeout)
	defer cancel()

	pruned, err := r.RunOnce(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("pruning recorder sessions", "error", err)
		}
		return
	}
	if pruned > 0 && r.logger != nil {
		r.logger.Info("pruned recorder sessions", "count", pruned, "max_age", r.maxAge)
	}
}
