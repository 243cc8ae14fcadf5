package gitbackup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleEntry describes one periodic backup.
type ScheduleEntry struct {
	WorkbookID string    `json:"workbook_id"`
	Spec       string    `json:"spec"`
	Next       time.Time `json:"next"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Scheduler runs workbook backups on cron schedules.
type Scheduler struct {
	backuper *Backuper
	actor    string
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]*scheduled
	running bool
}

type scheduled struct {
	id      cron.EntryID
	spec    string
	lastRun time.Time
	lastErr string
}

// NewScheduler creates a stopped scheduler. Backups it triggers are
// attributed to actor.
func NewScheduler(b *Backuper, actor string) *Scheduler {
	return &Scheduler{
		backuper: b,
		actor:    actor,
		cron:     cron.New(),
		entries:  map[string]*scheduled{},
	}
}

// Add schedules periodic backups of a workbook. spec is a standard
// five-field cron expression or a descriptor such as "@hourly". Adding a
// workbook again replaces its schedule.
func (s *Scheduler) Add(spec, workbookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[workbookID]; ok {
		s.cron.Remove(prev.id)
		delete(s.entries, workbookID)
	}

	entry := &scheduled{spec: spec}
	id, err := s.cron.AddFunc(spec, func() { s.run(workbookID, entry) })
	if err != nil {
		return fmt.Errorf("schedule backup of %s: %w", workbookID, err)
	}
	entry.id = id
	s.entries[workbookID] = entry
	slog.Info("backup scheduled", "workbook", workbookID, "spec", spec)
	return nil
}

// Remove cancels the schedule of a workbook.
func (s *Scheduler) Remove(workbookID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[workbookID]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.entries, workbookID)
	return true
}

func (s *Scheduler) run(workbookID string, e *scheduled) {
	res, err := s.backuper.BackupWorkbook(context.Background(), workbookID, s.actor)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.lastRun = time.Now()
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
		return
	}
	slog.Debug("scheduled backup finished", "workbook", workbookID, "changed", res.Changed)
}

// Start begins running scheduled backups.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and waits for running backups until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the current schedules ordered by workbook ID.
func (s *Scheduler) Entries() []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleEntry, 0, len(s.entries))
	for wb, e := range s.entries {
		out = append(out, ScheduleEntry{
			WorkbookID: wb,
			Spec:       e.spec,
			Next:       s.cron.Entry(e.id).Next,
			LastRun:    e.lastRun,
			LastError:  e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkbookID < out[j].WorkbookID })
	return out
}

// RunNow triggers the backup of a scheduled workbook immediately.
func (s *Scheduler) RunNow(workbookID string) error {
	s.mu.Lock()
	e, ok := s.entries[workbookID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("workbook %s has no backup schedule", workbookID)
	}
	s.run(workbookID, e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.lastErr != "" {
		return fmt.Errorf("backup of %s: %s", workbookID, e.lastErr)
	}
	return nil
}
