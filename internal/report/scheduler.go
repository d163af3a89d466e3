package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs every Sunday at 09:00, matching the default user preferences.
const DefaultSchedule = "0 9 * * 0"

// UserFunc resolves the user a scheduled report is generated for.
type UserFunc func(ctx context.Context) (string, error)

// Scheduler generates last week's report on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	gen     *Generator
	user    UserFunc
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
}

func NewScheduler(gen *Generator, spec string, user UserFunc, logger *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	s := &Scheduler{
		cron:    cron.New(),
		gen:     gen,
		user:    user,
		timeout: 2 * time.Minute,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.job); err != nil {
		return nil, fmt.Errorf("add cron job %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
		s.logger.Info("Report scheduler started")
	}
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
}

func (s *Scheduler) job() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Scheduled report failed", zap.Error(err))
	}
}

// RunOnce generates the report for the week before now.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	userID, err := s.user(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve report user: %w", err)
	}

	from, to := LastWeek(s.gen.now())
	rep, err := s.gen.Generate(ctx, userID, from, to)
	if err != nil {
		return "", err
	}
	return rep.ID, nil
}
