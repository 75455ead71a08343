package command

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"myriad/api/internal/scheduler"
	"myriad/api/internal/store"
)

const (
	jobPurge         = "purge-removed-content"
	jobExchangeRates = "exchange-rates"
)

// newScheduler registers the periodic jobs. A platform whose schedule is empty
// is only crawled on demand. Reconcile and purge runs carry no deadline: the
// per-fetch timeout bounds them, and only shutdown cancels them.
func newScheduler(rt *runtime) (*scheduler.Scheduler, error) {
	cfg := rt.cfg
	s := scheduler.New()

	reconcileSpecs := map[store.Platform]string{
		store.PlatformTwitter:  cfg.ScheduleTwitter,
		store.PlatformReddit:   cfg.ScheduleReddit,
		store.PlatformFacebook: cfg.ScheduleFacebook,
	}
	for _, p := range rt.engine.Platforms() {
		p := p
		if err := s.Add("reconcile-"+string(p), reconcileSpecs[p], 0, func(ctx context.Context) error {
			summary, err := rt.engine.Reconcile(ctx, p)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"platform": p, "created": summary.Created, "people": summary.People}).Debug("reconcile summary")
			return nil
		}); err != nil {
			return nil, err
		}
	}

	for _, p := range []store.Platform{store.PlatformReddit, store.PlatformTwitter} {
		p := p
		if err := s.Add("refresh-profiles-"+string(p), cfg.ScheduleProfiles, time.Hour, func(ctx context.Context) error {
			_, err := rt.engine.RefreshProfiles(ctx, p)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := s.Add(jobPurge, cfg.SchedulePurge, 0, func(ctx context.Context) error {
		_, err := rt.engine.PurgeRemovedContent(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if rt.rates != nil {
		if err := s.Add(jobExchangeRates, cfg.ScheduleExchangeRates, time.Minute, func(ctx context.Context) error {
			_, err := rt.rates.Refresh(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}
