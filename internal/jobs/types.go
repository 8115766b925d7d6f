package jobs

import (
	"context"
	"errors"
	"time"

	"alertbot/internal/alerts"
	"alertbot/internal/broadcast"
)

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID        string            `json:"id"`
	DueAt     time.Time         `json:"due_at"`
	Kind      alerts.Kind       `json:"kind"`
	Body      map[string]string `json:"body"`
	TTL       time.Duration     `json:"ttl"` // active_for of the resulting alert, 0 = configured default
	Mode      broadcast.Mode    `json:"mode,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	CreatedBy int64             `json:"created_by,omitempty"`

	// FiringAt and Owner are the claim written before the broadcast starts.
	FiringAt *time.Time `json:"firing_at,omitempty"`
	Owner    string     `json:"owner,omitempty"`
}

func (j Job) Claimed() bool { return j.FiringAt != nil }

// Spec is an enqueue request.
type Spec struct {
	DueAt     time.Time
	Kind      alerts.Kind
	Body      map[string]string
	TTL       time.Duration
	Mode      broadcast.Mode
	CreatedBy int64
}

type Broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
}

type Config struct {
	Enabled  bool
	Tick     time.Duration
	Sweep    time.Duration
	Location *time.Location
}

const (
	DefaultTick  = 5 * time.Second
	DefaultSweep = time.Hour
)

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Sweep <= 0 {
		c.Sweep = DefaultSweep
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// TickReport summarizes one tick.
type TickReport struct {
	Due      int `json:"due"`
	Fired    int `json:"fired"`
	Deferred int `json:"deferred"` // quiet hours; retried later
	Dropped  int `json:"dropped"`  // removed after a failed broadcast
}
