package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/interp"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector redials the interpretation provider when the session drops
// mid-conversation. Callers obtain the initial session via
// [Reconnector.Connect], then call [Reconnector.Monitor] to start a
// background goroutine. When a drop is signalled via
// [Reconnector.NotifyDisconnect], the monitor redials with exponential
// backoff and hands the fresh session to the configured OnSession callback.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider   interp.Provider
	sessCfg    interp.SessionConfig
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onSession  func(interp.Session)
	log        *slog.Logger

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a drop is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider establishes interpretation sessions.
	Provider interp.Provider

	// Session is passed to the provider on every dial.
	Session interp.SessionConfig

	// MaxRetries bounds reconnection attempts per drop. Defaults to 10.
	MaxRetries int

	// Backoff is the initial delay between retries, doubling each attempt
	// up to MaxBackoff. Defaults to 1s.
	Backoff time.Duration

	// MaxBackoff caps the backoff. Defaults to 30s.
	MaxBackoff time.Duration

	// OnSession receives each successfully redialled session. May be nil.
	OnSession func(interp.Session)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnector{
		provider:     cfg.Provider,
		sessCfg:      cfg.Session,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onSession:    cfg.OnSession,
		log:          logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect performs the initial dial. No retries: a backend that rejects the
// very first attempt is a configuration problem, not a transient drop.
func (r *Reconnector) Connect(ctx context.Context) (interp.Session, error) {
	sess, err := r.provider.Connect(ctx, r.sessCfg)
	if err != nil {
		return nil, fmt.Errorf("initial connect: %w", err)
	}
	return sess, nil
}

// Monitor starts watching for disconnect notifications in a background
// goroutine, bounded by ctx.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals that the session has been lost. Safe to call
// multiple times; only the first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts monitoring. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect redials with exponential backoff until a dial succeeds,
// the retry budget is spent, or the reconnector is stopped.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.log.Info("attempting session reconnect",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := r.provider.Connect(ctx, r.sessCfg)
		if err == nil {
			r.log.Info("session reconnected", "attempt", attempt)
			if r.onSession != nil {
				r.onSession(sess)
			}
			return
		}

		r.log.Warn("session reconnect failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	r.log.Error("session reconnect gave up", "max_retries", r.maxRetries)
}
