package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/service"
)

// Prober runs one liveness pass
type Prober interface {
	Probe(ctx context.Context, opts service.ProbeOptions) (*service.ProbeSummary, error)
}

// LivenessWorker re-probes endpoints on a fixed interval
type LivenessWorker struct {
	prober     Prober
	options    service.ProbeOptions
	interval   time.Duration
	jobTimeout time.Duration

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastRun     time.Time
	lastSummary *service.ProbeSummary
	lastErr     error
	runs        int
}

// LivenessWorkerConfig holds configuration for a liveness worker
type LivenessWorkerConfig struct {
	Prober     Prober
	Options    service.ProbeOptions
	Interval   time.Duration // default 10 minutes
	JobTimeout time.Duration // bound on a single pass; defaults to Interval
}

// LivenessWorkerStatus is a snapshot of the worker's progress
type LivenessWorkerStatus struct {
	Running     bool                  `json:"running"`
	Runs        int                   `json:"runs"`
	LastRun     time.Time             `json:"lastRun"`
	LastSummary *service.ProbeSummary `json:"lastSummary,omitempty"`
	LastError   string                `json:"lastError,omitempty"`
}

// NewLivenessWorker creates a new liveness worker
func NewLivenessWorker(cfg *LivenessWorkerConfig) (*LivenessWorker, error) {
	if cfg.Prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s, got %v", interval)
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 || jobTimeout > interval {
		jobTimeout = interval
	}

	return &LivenessWorker{
		prober:     cfg.Prober,
		options:    cfg.Options,
		interval:   interval,
		jobTimeout: jobTimeout,
	}, nil
}

// Start runs a pass immediately and then one per interval until Stop or ctx ends
func (w *LivenessWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("liveness worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"interval":   w.interval.String(),
		"jobTimeout": w.jobTimeout.String(),
	}).Info("Starting liveness worker")

	go w.loop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop signals the loop and waits for the current pass to wind down.
// If ctx ends first the loop keeps winding down in the background, and a
// later Stop waits for it again.
func (w *LivenessWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("liveness worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.FromContext(ctx).Info("Liveness worker stopped")
	return nil
}

func (w *LivenessWorker) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.doneCh == doneCh {
			w.running = false
		}
		w.mu.Unlock()
		close(doneCh)
	}()

	// stopping cancels an in-flight pass
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(runCtx)
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			w.RunOnce(runCtx)
		}
	}
}

// RunOnce performs a single bounded pass and records its outcome
func (w *LivenessWorker) RunOnce(ctx context.Context) (*service.ProbeSummary, error) {
	passCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	summary, err := w.prober.Probe(passCtx, w.options)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Liveness pass failed")
	}

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastErr = err
	if summary != nil {
		w.lastSummary = summary
	}
	w.mu.Unlock()

	return summary, err
}

// GetStatus returns the worker's current status
func (w *LivenessWorker) GetStatus() *LivenessWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &LivenessWorkerStatus{
		Running:     w.running,
		Runs:        w.runs,
		LastRun:     w.lastRun,
		LastSummary: w.lastSummary,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}
