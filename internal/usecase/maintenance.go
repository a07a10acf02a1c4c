package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"askuni/internal/domain"
)

// MaintenanceTask names a recurring housekeeping job.
type MaintenanceTask string

const (
	TaskPurgeResetCodes MaintenanceTask = "purge_reset_codes"
	TaskPruneUploads    MaintenanceTask = "prune_uploads"
	TaskTrimAuditLog    MaintenanceTask = "trim_audit_log"
)

const taskTimeout = 5 * time.Minute

// UploadPruner deletes stored uploads older than a cutoff.
type UploadPruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// AuditTrimmer drops audit entries outside its retention policy.
type AuditTrimmer interface {
	Trim(ctx context.Context) (int, error)
}

// Maintenance runs housekeeping tasks on cron schedules.
type Maintenance struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	now     func() time.Time
}

// NewMaintenance creates an idle scheduler.
func NewMaintenance(logger *slog.Logger) *Maintenance {
	return &Maintenance{cron: cron.New(), logger: logger, now: time.Now}
}

// RegisterDefaults schedules the standard tasks: expired reset codes are
// purged hourly and uploads older than retention daily. Nil collaborators
// skip their task.
func (m *Maintenance) RegisterDefaults(users domain.UserStore, uploads UploadPruner, retention time.Duration) error {
	if users != nil {
		if err := m.Add(TaskPurgeResetCodes, "@hourly", func(ctx context.Context) error {
			n, err := users.PurgeResetCodes(ctx, m.now())
			if err == nil && n > 0 {
				m.logger.Info("purged reset codes", "count", n)
			}
			return err
		}); err != nil {
			return err
		}
	}
	if uploads != nil && retention > 0 {
		if err := m.Add(TaskPruneUploads, "@daily", func(ctx context.Context) error {
			n, err := uploads.Prune(ctx, m.now().Add(-retention))
			if err == nil && n > 0 {
				m.logger.Info("pruned uploads", "count", n)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAuditRetention trims the audit log daily.
func (m *Maintenance) RegisterAuditRetention(audit AuditTrimmer) error {
	return m.Add(TaskTrimAuditLog, "@daily", func(ctx context.Context) error {
		n, err := audit.Trim(ctx)
		if err == nil && n > 0 {
			m.logger.Info("trimmed audit log", "removed", n)
		}
		return err
	})
}

// Add schedules fn. The schedule is a cron expression, a descriptor such as
// "@hourly", or a Go duration.
func (m *Maintenance) Add(task MaintenanceTask, schedule string, fn func(ctx context.Context) error) error {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("maintenance: task %s: %w", task, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cron.Schedule(sched, cron.FuncJob(func() { m.run(task, fn) }))
	m.logger.Debug("maintenance task scheduled", "task", string(task), "schedule", schedule)
	return nil
}

// RunNow executes fn synchronously with the same logging as a scheduled run.
func (m *Maintenance) RunNow(task MaintenanceTask, fn func(ctx context.Context) error) {
	m.run(task, fn)
}

func (m *Maintenance) run(task MaintenanceTask, fn func(ctx context.Context) error) {
	m.mu.Lock()
	parent := m.ctx
	m.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		m.logger.Warn("maintenance task failed", "task", string(task), "error", err, "duration", time.Since(start))
		return
	}
	m.logger.Debug("maintenance task completed", "task", string(task), "duration", time.Since(start))
}

// Start begins running scheduled tasks until Stop or ctx cancellation.
func (m *Maintenance) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cron.Start()
	m.started = true
}

// Stop cancels running tasks and waits for them to return.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.started = false
	m.mu.Unlock()

	<-m.cron.Stop().Done()
}

// Entries returns the number of scheduled tasks.
func (m *Maintenance) Entries() int {
	return len(m.cron.Entries())
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(d), nil
}

// constantDelay fires at a fixed interval, including sub-second ones.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
