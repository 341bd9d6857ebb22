package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// TokenPurger removes refresh tokens issued before the cutoff.
type TokenPurger interface {
	PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTokenPurge schedules removal of refresh tokens older than maxAge.
// spec is a cron expression ("@hourly", "0 3 * * *", ...).
func (s *Scheduler) AddTokenPurge(spec string, purger TokenPurger, maxAge time.Duration) error {
	_, err := s.cron.AddFunc(spec, func() {
		n, err := purger.PurgeRefreshTokens(s.ctx, time.Now().UTC().Add(-maxAge))
		if err != nil {
			log.Printf("token purge: %v", err)
			return
		}
		if n > 0 {
			log.Printf("token purge: removed %d expired refresh tokens", n)
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
