package penalty

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/dij0s/eXPOSE/internal/metrics"
	"github.com/dij0s/eXPOSE/internal/notify"
	"github.com/rs/zerolog"
)

// ErrSuppressed is returned while an agent is inside its ban_timeout window
var ErrSuppressed = errors.New("ban suppressed until timeout elapses")

// BanClient is the fleet API call behind a ban
type BanClient interface {
	Ban(ctx context.Context, agent string) (time.Duration, error)
}

// Banner issues ban commands. Failures become transient notifications and are
// never retried; successes suppress repeat bans for the returned timeout.
type Banner struct {
	client  BanClient
	notices *notify.Center
	clock   clock.Clock
	logger  zerolog.Logger

	mu         sync.Mutex
	suppressed map[string]time.Time
}

// NewBanner creates a Banner
func NewBanner(client BanClient, notices *notify.Center, c clock.Clock, logger zerolog.Logger) *Banner {
	if c == nil {
		c = clock.Real()
	}
	return &Banner{
		client:     client,
		notices:    notices,
		clock:      c,
		logger:     logger.With().Str("component", "ban").Logger(),
		suppressed: make(map[string]time.Time),
	}
}

// Ban sends the command for agent
func (b *Banner) Ban(ctx context.Context, agent string) (time.Duration, error) {
	if until, ok := b.SuppressedUntil(agent); ok {
		return until.Sub(b.clock.Now()), ErrSuppressed
	}

	timeout, err := b.client.Ban(ctx, agent)
	metrics.Get().RecordBan(err)

	if err != nil {
		b.logger.Error().Err(err).Str("agent", agent).Msg("ban failed")
		b.notices.Add(notify.SeverityCritical, "Failed to ban agent: %s", err.Error())
		return 0, err
	}

	if timeout > 0 {
		b.mu.Lock()
		b.suppressed[agent] = b.clock.Now().Add(timeout)
		b.mu.Unlock()
	}

	b.logger.Info().Str("agent", agent).Dur("ban_timeout", timeout).Msg("agent banned")
	b.notices.Add(notify.SeverityInfo, "%s banned for %s", agent, notify.FormatDuration(timeout))
	return timeout, nil
}

// SuppressedUntil reports whether agent is still inside its ban window
func (b *Banner) SuppressedUntil(agent string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.suppressed[agent]
	if !ok {
		return time.Time{}, false
	}
	if !b.clock.Now().Before(until) {
		delete(b.suppressed, agent)
		return time.Time{}, false
	}
	return until, true
}
