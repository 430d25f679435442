package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper is a job that processes everything due and reports how many items
// it changed
type Sweeper interface {
	Run(ctx context.Context) (int, error)
}

// Scheduler triggers the card expiration sweep on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	log     *logrus.Logger
	timeout time.Duration
}

// New registers the sweeper under schedule, a standard five-field cron expression
func New(schedule string, sweeper Sweeper, log *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cron.VerbosePrintfLogger(log)),
			cron.WithChain(cron.SkipIfStillRunning(cron.VerbosePrintfLogger(log))),
		),
		sweeper: sweeper,
		log:     log,
		timeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid expiration schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Expiration scheduler started")
}

// Stop stops the schedule and waits for a running sweep to finish or ctx to
// be done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Expiration scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Expiration scheduler stop timed out")
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.sweeper.Run(ctx)
	if err != nil {
		s.log.WithError(err).WithField("expired", n).Error("Expiration sweep failed")
		return
	}
	s.log.WithField("expired", n).Debug("Expiration sweep done")
}
