package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parley-chat/parley/pkg/utils"
)

const maintenanceJobTimeout = 5 * time.Minute

// Maintenance runs periodic housekeeping jobs.
type Maintenance struct {
	cron          *cron.Cron
	notifications *NotificationService
	retention     time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewMaintenance(notifications *NotificationService, retention time.Duration) *Maintenance {
	return &Maintenance{
		cron:          cron.New(),
		notifications: notifications,
		retention:     retention,
		logger:        utils.GetLogger(),
	}
}

// SchedulePurge registers the read-notification purge on a cron expression
// or descriptor such as "@daily".
func (m *Maintenance) SchedulePurge(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	m.cron.Schedule(sched, cron.FuncJob(m.runPurge))
	m.logger.Info("Notification purge scheduled", "schedule", schedule, "retention", m.retention)
	return nil
}

func (m *Maintenance) runPurge() {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, maintenanceJobTimeout)
	defer cancel()
	if _, err := m.PurgeNow(jobCtx); err != nil {
		m.logger.Warn("Notification purge failed", "error", err)
	}
}

// PurgeNow deletes read notifications older than the retention period.
func (m *Maintenance) PurgeNow(ctx context.Context) (int64, error) {
	return m.notifications.PurgeRead(ctx, time.Now().Add(-m.retention))
}

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

// Stop halts the scheduler and waits for a running job to finish.
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
