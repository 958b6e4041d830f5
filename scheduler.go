/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package churnguard

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/churnguard/config"
	redlock "github.com/blnkfinance/churnguard/internal/lock"
	"github.com/blnkfinance/churnguard/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const monitorPageSize = 500

// Scheduler runs the background jobs: continuous re-assessment, the
// risk-queue consumer, analytics refresh and the retention sweep.
type Scheduler struct {
	guard             *ChurnGuard
	redis             redis.UniversalClient
	monitorInterval   time.Duration
	analyticsInterval time.Duration
	cleanupInterval   time.Duration
	maxWorkers        int
	holder            string
	stopCh            chan struct{}
	wg                sync.WaitGroup
	running           bool
	mu                sync.Mutex
}

// NewScheduler builds a scheduler for the guard. When client is set the
// periodic jobs take a Redis lock per run so only one instance does the work.
func NewScheduler(guard *ChurnGuard, schedule config.ScheduleConfig, client redis.UniversalClient) *Scheduler {
	workers := guard.config.MaxWorkers
	if workers <= 0 {
		workers = 10
	}
	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = model.GenerateUUIDWithSuffix("scheduler")
	}
	return &Scheduler{
		guard:             guard,
		redis:             client,
		monitorInterval:   secondsOr(schedule.MonitorIntervalSec, 300),
		analyticsInterval: secondsOr(schedule.AnalyticsIntervalSec, 900),
		cleanupInterval:   secondsOr(schedule.CleanupIntervalSec, 3600),
		maxWorkers:        workers,
		holder:            holder,
		stopCh:            make(chan struct{}),
	}
}

func secondsOr(sec, fallback int) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec) * time.Second
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	stopCh := s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-stopCh:
		case <-runCtx.Done():
		}
		cancel()
	}()

	for i := 0; i < s.maxWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consumeQueue(runCtx)
		}()
	}
	s.every(runCtx, "monitor", s.monitorInterval, s.monitorLeads)
	s.every(runCtx, "analytics", s.analyticsInterval, func(ctx context.Context) {
		s.guard.analytics.Refresh(ctx)
	})
	s.every(runCtx, "retention", s.cleanupInterval, func(ctx context.Context) {
		s.guard.RunRetention(ctx)
	})

	logrus.Info("Churn monitoring scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Churn monitoring scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logrus.Infof("%s job stopped", name)
				return
			case <-ticker.C:
				s.runLocked(ctx, name, interval, job)
			}
		}
	}()
}

// runLocked runs job under a per-job Redis lock when Redis is configured.
func (s *Scheduler) runLocked(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if s.redis == nil {
		job(ctx)
		return
	}
	locker := redlock.NewLocker(s.redis, "churnguard:scheduler:"+name, s.holder)
	if err := locker.Lock(ctx, interval); err != nil {
		logrus.Debugf("%s job skipped: %v", name, err)
		return
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Debugf("%s job unlock: %v", name, err)
		}
	}()

	// Keep the lock while a slow run overlaps the next tick.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := locker.ExtendLock(ctx, interval); err != nil {
					logrus.Warnf("%s job lock extension: %v", name, err)
					return
				}
			}
		}
	}()
	job(ctx)
}

func (s *Scheduler) consumeQueue(ctx context.Context) {
	for {
		assessment, ok := s.guard.queue.Next(ctx)
		if !ok {
			return
		}
		s.guard.TriggerIntervention(ctx, model.TriggerRequest{
			LeadID:     assessment.LeadID,
			TenantID:   assessment.TenantID,
			Assessment: assessment,
		})
	}
}

// monitorLeads re-assesses every monitored lead with a bounded worker pool.
// Assessments that warrant action reach the queue consumer on their own.
func (s *Scheduler) monitorLeads(ctx context.Context) {
	started := time.Now()
	leads := make(chan model.LeadRef)
	var wg sync.WaitGroup
	for i := 0; i < s.maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lead := range leads {
				s.guard.AssessRisk(ctx, lead.LeadID, lead.TenantID, true)
			}
		}()
	}

	total := 0
	for offset := 0; ; offset += monitorPageSize {
		page, err := s.guard.MonitoredLeads(ctx, monitorPageSize, offset)
		if err != nil {
			logrus.Errorf("monitor: failed to list monitored leads: %v", err)
			break
		}
		stop := false
		for _, lead := range page {
			select {
			case leads <- lead:
				total++
			case <-ctx.Done():
				stop = true
			}
			if stop {
				break
			}
		}
		if stop || len(page) < monitorPageSize {
			break
		}
	}
	close(leads)
	wg.Wait()

	if total > 0 {
		logrus.Infof("monitor: re-assessed %d leads in %s", total, time.Since(started))
	}
}

func sortLeads(leads []model.LeadRef) {
	sort.Slice(leads, func(i, j int) bool {
		if leads[i].TenantID != leads[j].TenantID {
			return leads[i].TenantID < leads[j].TenantID
		}
		return leads[i].LeadID < leads[j].LeadID
	})
}
