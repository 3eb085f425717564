// Package scheduler runs the periodic email-queue flush when FLUSH_CRON is
// configured. It is the "single periodic trigger" the flusher's concurrency
// model assumes, so exactly one job is ever registered.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/campuskit/broadcast/internal/service"
)

const jobTimeout = 5 * time.Minute

type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger
}

// New registers the flush job on the given cron spec. An empty spec disables
// scheduling and returns a nil Scheduler, which Start and Stop tolerate.
func New(spec string, limit int, force bool, svc service.BroadcastService, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		return nil, nil
	}
	l := logger.With("layer", "scheduler", "component", "flushCron")

	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		report, err := svc.Flush(ctx, limit, force, "cron")
		if err != nil {
			l.Error("Scheduled flush failed", slog.Any("error", err))
			return
		}
		l.Info("Scheduled flush finished",
			slog.Int("processed", len(report.Processed)),
			slog.Int("skipped", len(report.Skipped)),
			slog.Bool("force", force))
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{c: c, logger: l}, nil
}

func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.logger.Info("Flush scheduler started")
	s.c.Start()
}

// Stop halts scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.c.Stop().Done()
	s.logger.Info("Flush scheduler stopped")
}
