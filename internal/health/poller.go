package health

import (
	"context"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval between two status polls
const DefaultInterval = 5 * time.Second

// Checker is the fleet API call being polled
type Checker interface {
	Status(ctx context.Context) error
}

// Report is the latest poll outcome
type Report struct {
	Healthy             bool      `json:"healthy"`
	Checked             bool      `json:"checked"`
	LastChecked         time.Time `json:"lastChecked"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Poller checks backend health on a fixed interval
type Poller struct {
	checker  Checker
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	onChange func(Report)

	mu     sync.RWMutex
	report Report
}

// NewPoller creates a Poller. onChange fires when health flips, may be nil.
func NewPoller(checker Checker, c clock.Clock, interval time.Duration, onChange func(Report), logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if c == nil {
		c = clock.Real()
	}
	return &Poller{
		checker:  checker,
		clock:    c,
		interval: interval,
		timeout:  interval,
		logger:   logger.With().Str("component", "health").Logger(),
		onChange: onChange,
	}
}

// Start polls immediately and then every interval until ctx is cancelled
func (p *Poller) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("health poller started")
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("health poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs a single check and records the result
func (p *Poller) Poll(ctx context.Context) Report {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.checker.Status(pollCtx)
	cancel()

	if ctx.Err() != nil {
		return p.Report()
	}

	metrics.Get().RecordHealthPoll(err == nil)

	p.mu.Lock()
	prev := p.report
	next := Report{
		Healthy:     err == nil,
		Checked:     true,
		LastChecked: p.clock.Now(),
	}
	if err != nil {
		next.LastError = err.Error()
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	}
	p.report = next
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn().Err(err).Int("failures", next.ConsecutiveFailures).Msg("fleet backend unhealthy")
	} else {
		p.logger.Debug().Msg("fleet backend healthy")
	}

	if (!prev.Checked || prev.Healthy != next.Healthy) && p.onChange != nil {
		p.onChange(next)
	}
	return next
}

// Report returns the latest poll outcome
func (p *Poller) Report() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.report
}
