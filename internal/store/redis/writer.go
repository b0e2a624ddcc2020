package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"chart-rsi/internal/model"
)

const defaultLatestTTL = 24 * time.Hour

// Config configures the Redis publisher.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	Channel   string // Pub/Sub channel for finished analyses
	LatestKey string // key holding the most recent analysis
	LatestTTL time.Duration

	// Breaker trips after this many consecutive failures (default 5) and
	// retries after BreakerTimeout (default 10s).
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// OnBreakerState receives 0=closed, 1=open, 2=half-open on transitions.
	OnBreakerState func(state int)
}

// Publisher fans finished analyses out through Redis: SET latest with a TTL,
// then PUBLISH on the channel. Both calls run behind a circuit breaker so an
// unreachable Redis fails fast instead of stalling uploads.
type Publisher struct {
	client *goredis.Client
	cb     *gobreaker.CircuitBreaker
	cfg    Config
}

var _ model.AnalysisPublisher = (*Publisher)(nil)

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr, "channel", cfg.Channel)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 10 * time.Second
	}

	failures := cfg.BreakerFailures
	onState := cfg.OnBreakerState
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-publisher",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			if onState != nil {
				onState(gaugeState(to))
			}
		},
	})

	return &Publisher{client: client, cb: cb, cfg: cfg}
}

// gaugeState maps gobreaker states onto the 0/1/2 closed/open/half-open scale.
func gaugeState(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// BreakerState returns the current breaker state name.
func (p *Publisher) BreakerState() string { return p.cb.State().String() }

// Publish stores a as the latest analysis and announces it on the channel.
func (p *Publisher) Publish(ctx context.Context, a *model.Analysis) error {
	payload := string(a.JSON())
	_, err := p.cb.Execute(func() (interface{}, error) {
		if err := p.client.Set(ctx, p.cfg.LatestKey, payload, p.cfg.LatestTTL).Err(); err != nil {
			return nil, fmt.Errorf("set %s: %w", p.cfg.LatestKey, err)
		}
		if err := p.client.Publish(ctx, p.cfg.Channel, payload).Err(); err != nil {
			return nil, fmt.Errorf("publish %s: %w", p.cfg.Channel, err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("redis publish analysis %s: %w", a.ID, err)
	}
	return nil
}

// Latest returns the raw JSON of the most recent analysis, or nil when the
// key has expired or was never written.
func (p *Publisher) Latest(ctx context.Context) ([]byte, error) {
	b, err := p.client.Get(ctx, p.cfg.LatestKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", p.cfg.LatestKey, err)
	}
	return b, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
