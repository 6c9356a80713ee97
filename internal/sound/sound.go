package sound

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRepeat      = 3 * time.Second
	defaultMaxDuration = 5 * time.Minute
)

// Player starts and stops looping alerts keyed by card key string.
type Player interface {
	Start(key string)
	Stop(key string)
	StopAll()
	Active(key string) bool
	Enable()
}

// Beeper emits one alert sound.
type Beeper interface {
	Beep(ctx context.Context) error
}

// BeeperFunc adapts a function to Beeper.
type BeeperFunc func(ctx context.Context) error

func (f BeeperFunc) Beep(ctx context.Context) error { return f(ctx) }

// Loop plays a repeating alert per active key until it is stopped or expires.
type Loop struct {
	beeper      Beeper
	repeat      time.Duration
	maxDuration time.Duration
	logger      *log.Logger

	// closed once Enable is called
	unlocked   chan struct{}
	unlockOnce sync.Once

	mu     sync.Mutex
	active map[string]*alert
	wg     sync.WaitGroup
}

type alert struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithRepeat sets the gap between beeps.
func WithRepeat(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.repeat = d
		}
	}
}

// WithMaxDuration sets how long an alert may loop before it expires.
func WithMaxDuration(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.maxDuration = d
		}
	}
}

// WithLogger sets the logger used for swallowed beep failures.
func WithLogger(logger *log.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a Loop. Playback stays muted until Enable is called.
func NewLoop(beeper Beeper, opts ...LoopOption) *Loop {
	l := &Loop{
		beeper:      beeper,
		repeat:      defaultRepeat,
		maxDuration: defaultMaxDuration,
		logger:      log.StandardLogger(),
		unlocked:    make(chan struct{}),
		active:      make(map[string]*alert),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enable unlocks playback. Only the first call has any effect.
func (l *Loop) Enable() {
	l.unlockOnce.Do(func() {
		close(l.unlocked)
		l.logger.Debug("alert audio enabled")
	})
}

// Enabled reports whether playback has been unlocked.
func (l *Loop) Enabled() bool {
	select {
	case <-l.unlocked:
		return true
	default:
		return false
	}
}

// Start begins looping the alert for key. A key that is already active is left alone.
func (l *Loop) Start(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[key]; ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.maxDuration)
	a := &alert{cancel: cancel, done: make(chan struct{})}
	l.active[key] = a

	l.wg.Add(1)
	go l.run(ctx, key, a)
}

// Stop silences key. Stopping an inactive key is a no-op.
func (l *Loop) Stop(key string) {
	l.mu.Lock()
	a, ok := l.active[key]
	if ok {
		delete(l.active, key)
	}
	l.mu.Unlock()

	if ok {
		a.cancel()
		<-a.done
	}
}

// StopAll silences every active key.
func (l *Loop) StopAll() {
	l.mu.Lock()
	alerts := l.active
	l.active = make(map[string]*alert)
	l.mu.Unlock()

	for _, a := range alerts {
		a.cancel()
	}
	for _, a := range alerts {
		<-a.done
	}
}

// Active reports whether key is currently alerting.
func (l *Loop) Active(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[key]
	return ok
}

// Wait blocks until every loop goroutine has exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context, key string, a *alert) {
	defer l.wg.Done()
	defer close(a.done)
	defer a.cancel()

	// muted until unlocked
	select {
	case <-l.unlocked:
	case <-ctx.Done():
		l.expire(ctx, key, a)
		return
	}

	ticker := time.NewTicker(l.repeat)
	defer ticker.Stop()

	for {
		if err := l.beeper.Beep(ctx); err != nil && ctx.Err() == nil {
			l.logger.WithError(err).WithField("key", key).Warn("alert beep failed")
		}
		select {
		case <-ctx.Done():
			l.expire(ctx, key, a)
			return
		case <-ticker.C:
		}
	}
}

// expire drops key from the active set if it ran out of time rather than being stopped.
func (l *Loop) expire(ctx context.Context, key string, a *alert) {
	if ctx.Err() != context.DeadlineExceeded {
		return
	}
	l.mu.Lock()
	if l.active[key] == a {
		delete(l.active, key)
	}
	l.mu.Unlock()
	l.logger.WithField("key", key).Debug("alert expired")
}
