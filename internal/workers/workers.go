package workers

import (
	"context"
	"log"
	"time"

	"github.com/p2psettle/backend/internal/config"
	"github.com/p2psettle/backend/internal/services"
)

// ReconWorkers runs the matching engine and the sweeper as independent
// polling loops. Each pass is a short, retryable unit; a failed pass is
// logged and the loop keeps its schedule.
type ReconWorkers struct {
	engine  *services.MatchingEngine
	sweeper *services.Sweeper
	cfg     *config.ReconConfig
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewReconWorkers(engine *services.MatchingEngine, sweeper *services.Sweeper, cfg *config.ReconConfig) *ReconWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconWorkers{
		engine:  engine,
		sweeper: sweeper,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}, 2),
	}
}

// Start launches both loops.
func (w *ReconWorkers) Start() {
	log.Printf("[WORKERS] matcher every %s, sweeper every %s", w.cfg.MatcherInterval, w.cfg.SweeperInterval)
	go w.runMatcher(w.cfg.MatcherInterval)
	go w.runSweeper(w.cfg.SweeperInterval)
}

// Stop cancels both loops and waits for the current passes to finish.
func (w *ReconWorkers) Stop() {
	w.cancel()
	<-w.done
	<-w.done
	log.Println("[WORKERS] stopped")
}

func (w *ReconWorkers) runMatcher(interval time.Duration) {
	defer func() { w.done <- struct{}{} }()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.RunOnce(w.ctx); err != nil && w.ctx.Err() == nil {
				log.Printf("[MATCHER] pass failed: %v", err)
			}
		}
	}
}

func (w *ReconWorkers) runSweeper(interval time.Duration) {
	defer func() { w.done <- struct{}{} }()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.sweeper.RunOnce(w.ctx); err != nil && w.ctx.Err() == nil {
				log.Printf("[SWEEPER] pass failed: %v", err)
			}
		}
	}
}
