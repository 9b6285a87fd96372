package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/dij0s/eXPOSE/internal/clock"
	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays visible
const DefaultTTL = 5 * time.Second

// Severity of a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is a transient, auto-dismissing message for the operator
type Notification struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Center keeps the live notifications. Expired entries are pruned lazily.
type Center struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	items []Notification
}

// NewCenter creates a Center with the given ttl (DefaultTTL when zero)
func NewCenter(c clock.Clock, ttl time.Duration) *Center {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{clock: c, ttl: ttl}
}

// Add records a notification and returns it
func (c *Center) Add(severity Severity, format string, args ...any) Notification {
	now := c.clock.Now()
	n := Notification{
		ID:        uuid.New().String(),
		Severity:  severity,
		Message:   fmt.Sprintf(format, args...),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.prune(now)
	c.items = append(c.items, n)
	c.mu.Unlock()
	return n
}

// Dismiss removes a notification before it expires
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the live notifications, oldest first
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(c.clock.Now())
	return append([]Notification{}, c.items...)
}

func (c *Center) prune(now time.Time) {
	live := c.items[:0]
	for _, n := range c.items {
		if now.Before(n.ExpiresAt) {
			live = append(live, n)
		}
	}
	c.items = live
}

// FormatDuration renders a suppression window as 1h2m, 3m4s or 5s
func FormatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	if mins == 0 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
