package service

import (
	"context"
	"sync"
	"time"

	"github.com/insurgrowth/insurgrowth/internal/domain"
	"github.com/insurgrowth/insurgrowth/pkg/logger"
)

// PipelineScheduler drives the reactor on two cadences: a frequent
// verify+send pass and a once-a-day full refresh.
type PipelineScheduler struct {
	reactor         *Reactor
	logger          logger.Logger
	processInterval time.Duration
	refreshInterval time.Duration
	stopChan        chan struct{}
	stoppedChan     chan struct{}
	mu              sync.Mutex
	running         bool
}

// NewPipelineScheduler creates a new pipeline scheduler
func NewPipelineScheduler(
	reactor *Reactor,
	log logger.Logger,
	processInterval time.Duration,
	refreshInterval time.Duration,
) *PipelineScheduler {
	if processInterval <= 0 {
		processInterval = 5 * time.Minute
	}
	if refreshInterval <= 0 {
		refreshInterval = 24 * time.Hour
	}
	return &PipelineScheduler{
		reactor:         reactor,
		logger:          log,
		processInterval: processInterval,
		refreshInterval: refreshInterval,
		stopChan:        make(chan struct{}),
		stoppedChan:     make(chan struct{}),
	}
}

// Start begins the background loops
func (s *PipelineScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Pipeline scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithField("process_interval", s.processInterval.String()).
		WithField("refresh_interval", s.refreshInterval.String()).
		Info("Starting pipeline scheduler")

	go s.run(ctx)
}

// Stop gracefully stops the scheduler
func (s *PipelineScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping pipeline scheduler...")
	close(s.stopChan)

	select {
	case <-s.stoppedChan:
		s.logger.Info("Pipeline scheduler stopped successfully")
	case <-time.After(5 * time.Second):
		s.logger.Warn("Pipeline scheduler stop timeout exceeded")
	}
}

func (s *PipelineScheduler) run(ctx context.Context) {
	defer close(s.stoppedChan)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	processTicker := time.NewTicker(s.processInterval)
	defer processTicker.Stop()
	refreshTicker := time.NewTicker(s.refreshInterval)
	defer refreshTicker.Stop()

	// full pass immediately on start, chunked through the offset cursor
	s.runDaily(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			s.logger.Info("Pipeline scheduler context cancelled")
			return
		case <-processTicker.C:
			s.execute(ctx, &domain.TriggerRequest{Action: domain.ActionProcess})
		case <-refreshTicker.C:
			s.runDaily(ctx)
		}
	}
}

// runDaily drives the daily action through its hasMore/nextOffset cursor so
// fleets larger than one account chunk complete within a single cycle.
func (s *PipelineScheduler) runDaily(ctx context.Context) {
	offset := 0
	for {
		summary := s.execute(ctx, &domain.TriggerRequest{Action: domain.ActionDaily, AccountOffset: offset})
		if summary == nil || !summary.HasMore {
			return
		}
		offset = summary.NextOffset

		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *PipelineScheduler) execute(ctx context.Context, req *domain.TriggerRequest) *domain.TriggerSummary {
	if err := req.Validate(); err != nil {
		s.logger.WithField("error", err.Error()).Error("invalid scheduler request")
		return nil
	}

	summary := s.reactor.Execute(ctx, req)
	s.logger.WithFields(map[string]interface{}{
		"action":        summary.Action,
		"verified":      summary.Verified,
		"cancelled":     summary.Cancelled,
		"sent":          summary.Sent,
		"failed":        summary.Failed,
		"new_scheduled": summary.NewScheduled,
		"errors":        len(summary.Errors),
	}).Info("pipeline pass complete")
	return summary
}
