package main

import (
	"fmt"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/robfig/cron/v3"
)

type reloader interface {
	Name() string
	Reload() (bool, error)
}

type scheduler struct {
	cron      *cron.Cron
	cache     *geolib.LookupCache
	reloaders []reloader
	log       *logger
}

// Reload asks offline providers to reopen their databases. If any of
// them has new data, the whole cache is purged.
func (s *scheduler) Reload() {
	updated := false

	for _, v := range s.reloaders {
		ok, err := v.Reload()
		if err != nil {
			s.log.UpdateError(v.Name(), err)
		}

		if ok {
			s.log.UpdateInfo(v.Name(), "database was reloaded")

			updated = true
		}
	}

	if updated {
		s.cache.DatasetUpdated()
	}
}

func (s *scheduler) LogStats() {
	s.log.Stats(s.cache.Stats())
}

func (s *scheduler) Start() {
	s.cron.Start()
}

func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func newScheduler(conf *config, cache *geolib.LookupCache, reloaders []reloader, log *logger) (*scheduler, error) {
	rv := &scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		cache:     cache,
		reloaders: reloaders,
		log:       log,
	}

	if len(reloaders) > 0 {
		if _, err := rv.cron.AddFunc(conf.GetReloadSchedule(), rv.Reload); err != nil {
			return nil, fmt.Errorf("incorrect reload schedule: %w", err)
		}
	}

	if _, err := rv.cron.AddFunc(conf.GetStatsSchedule(), rv.LogStats); err != nil {
		return nil, fmt.Errorf("incorrect stats schedule: %w", err)
	}

	return rv, nil
}
