package reaper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simcorehq/admission/internal/core/ports"
)

// Reaper periodically deletes usage records older than the retention
// window. It is not correctness-critical: a missed cycle degrades query
// cost, not admission decisions, so every failure is logged and swallowed.
type Reaper struct {
	ledger    ports.UsageLedger
	interval  time.Duration
	retention time.Duration
	logger    *logrus.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewReaper creates a reaper. Retention should be at least twice the
// enforced window so boundary records are never deleted early.
func NewReaper(ledger ports.UsageLedger, interval, retention time.Duration, logger *logrus.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = 2 * time.Minute
	}
	return &Reaper{
		ledger:    ledger,
		interval:  interval,
		retention: retention,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background loop. Call Stop to halt it.
func (r *Reaper) Start() {
	go r.loop()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-r.retention)
	deleted, err := r.ledger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("reaper: sweep failed")
		}
		return
	}
	if r.logger != nil && deleted > 0 {
		r.logger.WithFields(logrus.Fields{"deleted": deleted}).Debug("reaper: expired usage records removed")
	}
}
