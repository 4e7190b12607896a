// Package directory resolves a receiving channel to the business, assistant
// and prompt that serve it, and an assistant to its configured intents.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"whatsapp-agent/internal/cache"
	"whatsapp-agent/internal/domain"
)

const (
	recordCacheName = "directory"
	intentCacheName = "intents"

	DefaultPositiveTTL = 30 * time.Minute
	DefaultNegativeTTL = 5 * time.Minute
	DefaultIntentTTL   = time.Hour
)

// Directory is the backing store. ResolveChannel returns (nil, nil) when the
// channel is not serviceable: unknown or inactive channel, inactive business,
// no active assistant, or an assistant without a prompt. ListIntents returns
// only active intents.
type Directory interface {
	ResolveChannel(ctx context.Context, phone string) (*domain.DirectoryRecord, error)
	ListIntents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error)
}

type Config struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	IntentTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PositiveTTL <= 0 {
		c.PositiveTTL = DefaultPositiveTTL
	}
	if c.NegativeTTL <= 0 {
		c.NegativeTTL = DefaultNegativeTTL
	}
	if c.IntentTTL <= 0 {
		c.IntentTTL = DefaultIntentTTL
	}
	return c
}

// Resolver fronts a Directory with two TTL caches. Lookup errors are never
// cached; a "not serviceable" answer is cached for the shorter negative TTL.
// Concurrent misses for the same key share one backend call.
type Resolver struct {
	dir     Directory
	cfg     Config
	records *cache.Cache[string, domain.DirectoryRecord]
	intents *cache.Cache[string, []domain.IntentConfig]
	flight  singleflight.Group
	logger  *slog.Logger
}

// NewResolver builds the resolver. opts apply to both caches.
func NewResolver(dir Directory, cfg Config, logger *slog.Logger, opts ...cache.Option) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("directory: backend must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if cfg.NegativeTTL >= cfg.PositiveTTL {
		return nil, errors.New("directory: negative ttl must be shorter than positive ttl")
	}
	opts = append(opts, cache.WithLogger(logger))
	records, err := cache.New[string, domain.DirectoryRecord](recordCacheName, opts...)
	if err != nil {
		return nil, err
	}
	intents, err := cache.New[string, []domain.IntentConfig](intentCacheName, opts...)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		dir:     dir,
		cfg:     cfg,
		records: records,
		intents: intents,
		logger:  logger.With("component", "directory.resolver"),
	}, nil
}

// Resolve returns the directory record serving phone, or nil when the channel
// is not serviceable.
func (r *Resolver) Resolve(ctx context.Context, phone string) (*domain.DirectoryRecord, error) {
	if rec, ok := r.cachedRecord(phone); ok {
		return rec, nil
	}

	v, err, _ := r.flight.Do("channel:"+phone, func() (any, error) {
		if e, ok := r.records.Peek(phone); ok {
			if e.Negative {
				return (*domain.DirectoryRecord)(nil), nil
			}
			rec := e.Value
			return &rec, nil
		}
		rec, err := r.dir.ResolveChannel(ctx, phone)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			r.logger.Info("channel not serviceable", "channel_phone", phone)
			r.records.PutNegative(phone, r.cfg.NegativeTTL)
			return (*domain.DirectoryRecord)(nil), nil
		}
		r.records.Put(phone, *rec, r.cfg.PositiveTTL)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: resolve channel %s: %w", phone, err)
	}
	rec, _ := v.(*domain.DirectoryRecord)
	if rec == nil {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// cachedRecord reports a cache hit. A hit on a negative entry yields nil.
func (r *Resolver) cachedRecord(phone string) (*domain.DirectoryRecord, bool) {
	e, ok := r.records.Get(phone)
	if !ok {
		return nil, false
	}
	if e.Negative {
		return nil, true
	}
	rec := e.Value
	return &rec, true
}

// Intents returns the active intents of an assistant. An empty list is a
// valid, cacheable answer.
func (r *Resolver) Intents(ctx context.Context, assistantID string) ([]domain.IntentConfig, error) {
	if e, ok := r.intents.Get(assistantID); ok {
		return cloneIntents(e.Value), nil
	}
	v, err, _ := r.flight.Do("intents:"+assistantID, func() (any, error) {
		if e, ok := r.intents.Peek(assistantID); ok {
			return e.Value, nil
		}
		list, err := r.dir.ListIntents(ctx, assistantID)
		if err != nil {
			return nil, err
		}
		list = cloneIntents(list)
		r.intents.Put(assistantID, list, r.cfg.IntentTTL)
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: list intents for %s: %w", assistantID, err)
	}
	list, _ := v.([]domain.IntentConfig)
	return cloneIntents(list), nil
}

// Invalidate forgets the cached record of a channel.
func (r *Resolver) Invalidate(phone string) bool { return r.records.Invalidate(phone) }

// InvalidateIntents forgets the cached intents of an assistant.
func (r *Resolver) InvalidateIntents(assistantID string) bool {
	return r.intents.Invalidate(assistantID)
}

// Start launches the background reapers of both caches.
func (r *Resolver) Start(ctx context.Context) {
	r.records.Start(ctx)
	r.intents.Start(ctx)
}

func (r *Resolver) Stop() {
	r.records.Stop()
	r.intents.Stop()
}

func cloneIntents(in []domain.IntentConfig) []domain.IntentConfig {
	out := make([]domain.IntentConfig, len(in))
	copy(out, in)
	return out
}
