package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const sweepTimeout = 30 * time.Second

type Sweeper interface {
	ResetSweep(ctx context.Context) (int, error)
}

type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// SweepJob resets elapsed quota windows and clears stale running flags on
// a fixed interval. Debits sweep lazily as well, so the job only keeps
// idle accounts and the admin view current.
type SweepJob struct {
	sweeper    Sweeper
	reconciler Reconciler
	interval   time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSweepJob(sweeper Sweeper, reconciler Reconciler, interval time.Duration) *SweepJob {
	return &SweepJob{
		sweeper:    sweeper,
		reconciler: reconciler,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	defer j.wg.Done()

	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if j.sweeper != nil {
		reset, err := j.sweeper.ResetSweep(ctx)
		if err != nil {
			log.Error().Err(err).Msg("sweep: failed to reset quota windows")
		} else if reset > 0 {
			log.Info().Int("accounts", reset).Msg("sweep: quota windows reset")
		}
	}

	if j.reconciler != nil {
		corrected, err := j.reconciler.ReconcileAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("sweep: failed to reconcile bot state")
		} else if corrected > 0 {
			log.Info().Int("bots", corrected).Msg("sweep: stale running flags cleared")
		}
	}
}
