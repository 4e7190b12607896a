// Package conversation tracks the lifecycle of each correspondent's
// conversation: activity, inactivity reminders, closing and the final purge.
//
// Every conversation carries at most one inactivity timer and at most one
// cleanup timer. Each armed timer gets a fresh sequence number; its callback
// re-validates that number under the conversation lock, so a callback that
// was already dispatched when its timer got cancelled finds the state moved
// on and does nothing.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"whatsapp-agent/internal/clock"
	"whatsapp-agent/internal/metrics"
)

const (
	DefaultInactivityLimit = time.Minute
	DefaultMaxReminders    = 1
	DefaultCleanupTimeout  = time.Minute
	DefaultNotifyTimeout   = 20 * time.Second
)

// Notifier delivers the inactivity messages. Implementations talk to the
// completion service and the messaging gateway; a returned error leaves the
// conversation untouched so the next inactivity fire retries the same step.
type Notifier interface {
	SendReminder(ctx context.Context, id string) error
	SendFinalMessage(ctx context.Context, id string) error
}

// HistoryClearer purges a correspondent's chat history.
type HistoryClearer interface {
	Clear(id string)
}

type Config struct {
	InactivityLimit time.Duration
	MaxReminders    int
	CleanupTimeout  time.Duration
	// IdleCleanupTimeout, when positive, also purges conversations that were
	// never closed once they stay idle that long. Zero keeps cleanup strictly
	// tied to closing.
	IdleCleanupTimeout time.Duration
	// ResetRemindersOnActivity resets the reminder count on every user
	// message, including the one that reopens a closed conversation. When
	// false the count accumulates for the conversation's whole lifetime.
	ResetRemindersOnActivity bool
	NotifyTimeout            time.Duration
}

func DefaultConfig() Config {
	return Config{
		InactivityLimit:          DefaultInactivityLimit,
		MaxReminders:             DefaultMaxReminders,
		CleanupTimeout:           DefaultCleanupTimeout,
		ResetRemindersOnActivity: true,
		NotifyTimeout:            DefaultNotifyTimeout,
	}
}

func (c Config) validate() error {
	if c.InactivityLimit <= 0 {
		return errors.New("conversation: inactivity limit must be positive")
	}
	if c.CleanupTimeout <= 0 {
		return errors.New("conversation: cleanup timeout must be positive")
	}
	if c.MaxReminders < 0 {
		return errors.New("conversation: max reminders must not be negative")
	}
	if c.IdleCleanupTimeout < 0 {
		return errors.New("conversation: idle cleanup timeout must not be negative")
	}
	return nil
}

// State is a point-in-time copy of a conversation. Zero deadlines mean the
// corresponding timer is not armed.
type State struct {
	Closed             bool
	Active             bool
	RemindersSent      int
	LastActivity       time.Time
	InactivityDeadline time.Time
	CleanupDeadline    time.Time
}

type conversation struct {
	mu            sync.Mutex
	closed        bool
	active        bool
	remindersSent int
	lastActivity  time.Time
	removed       bool

	inactivity    clock.Timer
	inactivitySeq uint64
	inactivityDue time.Time

	cleanup    clock.Timer
	cleanupSeq uint64
	cleanupDue time.Time
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = clock.OrReal(c) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry owns the conversations of one process. Operations on different
// correspondents never contend on the same conversation lock.
type Registry struct {
	cfg      Config
	notifier Notifier
	history  HistoryClearer
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewRegistry(cfg Config, notifier Notifier, history HistoryClearer, opts ...Option) (*Registry, error) {
	if notifier == nil {
		return nil, errors.New("conversation: notifier must not be nil")
	}
	if history == nil {
		return nil, errors.New("conversation: history must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:           cfg,
		notifier:      notifier,
		history:       history,
		clock:         clock.Real(),
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "conversation.registry")
	return r, nil
}

// RecordActivity registers a user message. A closed conversation is reopened
// in the same step and its pending cleanup is cancelled.
func (r *Registry) RecordActivity(id string) {
	c := r.acquire(id)
	defer c.mu.Unlock()

	if c.closed {
		c.closed = false
		r.logger.Info("conversation reopened", "correspondent", id)
	}
	r.stopCleanup(c)
	if r.cfg.ResetRemindersOnActivity {
		c.remindersSent = 0
	}
	c.lastActivity = r.clock.Now()
	c.active = true
	r.armInactivity(id, c)
	if r.cfg.IdleCleanupTimeout > 0 {
		r.armCleanup(id, c, r.cfg.IdleCleanupTimeout)
	}
}

// Close ends the conversation and schedules its purge. Closing an already
// closed conversation only re-arms the cleanup timer.
func (r *Registry) Close(id string) {
	c := r.acquire(id)
	defer c.mu.Unlock()

	wasClosed := c.closed
	c.closed = true
	c.active = false
	r.stopInactivity(c)
	r.armCleanup(id, c, r.cfg.CleanupTimeout)
	if !wasClosed {
		r.logger.Info("conversation closed", "correspondent", id)
	}
}

// IsClosed reports whether the conversation is closed. Unknown correspondents
// read as not closed.
func (r *Registry) IsClosed(id string) bool {
	c := r.lookup(id)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && !c.removed
}

// Snapshot returns the current state of a conversation, if present.
func (r *Registry) Snapshot(id string) (State, bool) {
	c := r.lookup(id)
	if c == nil {
		return State{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return State{}, false
	}
	return State{
		Closed:             c.closed,
		Active:             c.active,
		RemindersSent:      c.remindersSent,
		LastActivity:       c.lastActivity,
		InactivityDeadline: c.inactivityDue,
		CleanupDeadline:    c.cleanupDue,
	}, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}

// Stop cancels every pending timer and in-flight notification. The registry
// must not be used afterwards.
func (r *Registry) Stop() {
	r.cancel()

	r.mu.Lock()
	all := make([]*conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		all = append(all, c)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.mu.Lock()
		r.stopInactivity(c)
		r.stopCleanup(c)
		c.mu.Unlock()
	}
	r.logger.Info("conversation registry stopped", "conversations", len(all))
}

// acquire returns the live conversation for id, creating it when absent,
// with its lock held.
func (r *Registry) acquire(id string) *conversation {
	for {
		r.mu.Lock()
		c, ok := r.conversations[id]
		if !ok {
			c = &conversation{}
			r.conversations[id] = c
			r.metrics.SetConversationsTracked(len(r.conversations))
		}
		r.mu.Unlock()

		c.mu.Lock()
		if !c.removed {
			return c
		}
		// Purged between the map read and the lock; the map no longer
		// holds it, so the next pass creates a fresh one.
		c.mu.Unlock()
	}
}

func (r *Registry) lookup(id string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversations[id]
}

func (r *Registry) stopped() bool { return r.ctx.Err() != nil }

// The arm/stop helpers require c.mu to be held.

func (r *Registry) armInactivity(id string, c *conversation) {
	r.stopInactivity(c)
	if r.stopped() {
		return
	}
	seq := r.seq.Add(1)
	c.inactivitySeq = seq
	c.inactivityDue = r.clock.Now().Add(r.cfg.InactivityLimit)
	c.inactivity = r.clock.AfterFunc(r.cfg.InactivityLimit, func() { r.onInactivityFire(id, seq) })
}

func (r *Registry) stopInactivity(c *conversation) {
	if c.inactivity != nil {
		c.inactivity.Stop()
		c.inactivity = nil
	}
	c.inactivitySeq = 0
	c.inactivityDue = time.Time{}
}

func (r *Registry) armCleanup(id string, c *conversation, after time.Duration) {
	r.stopCleanup(c)
	if r.stopped() {
		return
	}
	seq := r.seq.Add(1)
	c.cleanupSeq = seq
	c.cleanupDue = r.clock.Now().Add(after)
	c.cleanup = r.clock.AfterFunc(after, func() { r.onCleanupFire(id, seq) })
}

func (r *Registry) stopCleanup(c *conversation) {
	if c.cleanup != nil {
		c.cleanup.Stop()
		c.cleanup = nil
	}
	c.cleanupSeq = 0
	c.cleanupDue = time.Time{}
}

func inactivityCurrent(c *conversation, seq uint64) bool {
	return !c.removed && c.inactivitySeq == seq && c.active && !c.closed
}

// onInactivityFire sends a reminder, or the final message once reminders are
// exhausted. The conversation lock is released while the notifier runs; any
// activity or close that happens meanwhile supersedes the outcome.
func (r *Registry) onInactivityFire(id string, seq uint64) {
	c := r.lookup(id)
	if c == nil {
		return
	}

	c.mu.Lock()
	if !inactivityCurrent(c, seq) {
		c.mu.Unlock()
		return
	}
	c.inactivity = nil
	c.inactivityDue = time.Time{}
	final := c.remindersSent >= r.cfg.MaxReminders
	sent := c.remindersSent
	c.mu.Unlock()

	kind := "reminder"
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.NotifyTimeout)
	var err error
	if final {
		kind = "final"
		err = r.notifier.SendFinalMessage(ctx, id)
	} else {
		err = r.notifier.SendReminder(ctx, id)
	}
	cancel()
	r.metrics.Reminder(kind, err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !inactivityCurrent(c, seq) {
		r.logger.Debug("inactivity outcome superseded", "correspondent", id, "kind", kind)
		return
	}
	if err != nil {
		r.logger.Error("failed to send inactivity message", "correspondent", id, "kind", kind, "err", err)
		r.armInactivity(id, c)
		return
	}
	if final {
		r.stopInactivity(c)
		c.active = false
		c.closed = true
		r.armCleanup(id, c, r.cfg.CleanupTimeout)
		r.logger.Info("conversation closed after inactivity", "correspondent", id, "reminders", sent)
		return
	}
	c.remindersSent++
	r.armInactivity(id, c)
	r.logger.Info("inactivity reminder sent", "correspondent", id, "reminders", c.remindersSent)
}

// onCleanupFire is the only path that removes a conversation. History is
// cleared while the conversation lock is held and before the entry leaves
// the map, so a message arriving concurrently starts from a clean slate.
func (r *Registry) onCleanupFire(id string, seq uint64) {
	c := r.lookup(id)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed || c.cleanupSeq != seq {
		return
	}
	c.removed = true
	r.stopInactivity(c)
	c.cleanup = nil
	c.cleanupSeq = 0
	c.cleanupDue = time.Time{}
	r.history.Clear(id)

	r.mu.Lock()
	if r.conversations[id] == c {
		delete(r.conversations, id)
	}
	remaining := len(r.conversations)
	r.mu.Unlock()

	r.metrics.SetConversationsTracked(remaining)
	r.logger.Info("conversation and history purged", "correspondent", id)
}
