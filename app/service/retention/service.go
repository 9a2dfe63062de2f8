package retention

import (
	"context"
	"log/slog"
	"time"

	"meetwise/app/config"
	"meetwise/app/service/store"

	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"github.com/samber/oops"
)

// Service periodically purges conversations idle for longer than the
// configured retention.
type Service struct {
	store     store.Store
	schedule  string
	retention time.Duration
	now       func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(do.MustInvoke[store.Store](di), cfg.Store.PurgeSchedule, cfg.Store.Retention), nil
}

func NewService(store store.Store, schedule string, retention time.Duration) *Service {
	return &Service{
		store:     store,
		schedule:  schedule,
		retention: retention,
		now:       time.Now,
	}
}

// Run blocks until ctx is done, purging on every tick of the schedule.
func (s *Service) Run(ctx context.Context) error {
	c := cron.New()

	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Purge(ctx); err != nil {
			slog.Error("Error purging conversations", "error", err)
		}
	}); err != nil {
		return oops.In("retention").With("schedule", s.schedule).Wrapf(err, "invalid purge schedule")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return nil
}

// Purge removes everything last touched before now minus the retention.
func (s *Service) Purge(ctx context.Context) (int, error) {
	before := s.now().Add(-s.retention)

	purged, err := s.store.Purge(ctx, before)
	if err != nil {
		return 0, oops.In("retention").With("before", before).Wrapf(err, "purge store")
	}

	slog.Info("Purged conversations",
		"before", before,
		"count", purged,
	)

	return purged, nil
}
