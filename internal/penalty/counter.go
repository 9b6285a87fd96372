package penalty

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dij0s/eXPOSE/internal/storage"
	"github.com/rs/zerolog"
)

// Entry is one agent's penalty score
type Entry struct {
	Agent string `json:"agent"`
	Score int    `json:"score"`
}

// Counter tracks operator-assigned penalties per agent. Every change is
// written through to the backing store.
type Counter struct {
	store  storage.Store
	logger zerolog.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewCounter loads the persisted counts. agents are listed with a zero score
// even before their first penalty.
func NewCounter(store storage.Store, agents []string, logger zerolog.Logger) (*Counter, error) {
	counts, err := store.LoadPenalties()
	if err != nil {
		return nil, fmt.Errorf("load penalties: %w", err)
	}
	for _, a := range agents {
		if _, ok := counts[a]; !ok {
			counts[a] = 0
		}
	}
	return &Counter{
		store:  store,
		logger: logger.With().Str("component", "penalties").Logger(),
		counts: counts,
	}, nil
}

// Increment adds one penalty and persists the new counts
func (c *Counter) Increment(agent string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[agent]++
	score := c.counts[agent]

	snapshot := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		snapshot[k] = v
	}
	if err := c.store.SavePenalties(snapshot); err != nil {
		c.counts[agent]--
		return score - 1, fmt.Errorf("persist penalty for %s: %w", agent, err)
	}

	c.logger.Info().Str("agent", agent).Int("score", score).Msg("penalty added")
	return score, nil
}

// Get returns one agent's score
func (c *Counter) Get(agent string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[agent]
}

// All returns every score sorted by agent
func (c *Counter) All() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.counts))
	for agent, score := range c.counts {
		out = append(out, Entry{Agent: agent, Score: score})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}
