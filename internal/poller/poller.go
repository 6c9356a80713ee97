package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiwari-pos/alert-console/internal/adminapi"
	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/kiwari-pos/alert-console/internal/sound"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval   = 2500 * time.Millisecond
	defaultAckTimeout = 10 * time.Second
)

// Errors returned by a poll session.
var (
	ErrTickInFlight = errors.New("previous tick still in flight")
	ErrStopped      = errors.New("poller stopped")
	ErrUnknownCard  = errors.New("card not in current list")
)

// API is the slice of the admin REST API the poller needs.
// Satisfied by *adminapi.Client; narrow interface for testability.
type API interface {
	FetchNewCards(ctx context.Context) ([]card.Card, error)
	MarkSeen(ctx context.Context, key card.Key) error
	Confirm(ctx context.Context, key card.Key, req adminapi.ConfirmRequest) error
	Cancel(ctx context.Context, key card.Key, req adminapi.CancelRequest) error
	MarkAlertsSeen(ctx context.Context, buckets []string) error
}

// Poller holds configuration shared by the sessions it starts.
type Poller struct {
	api        API
	newPlayer  func() sound.Player
	interval   time.Duration
	ackTimeout time.Duration
	clock      Clock
	logger     *log.Logger
	onError    func(error)
	onArrival  func([]card.Card)
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the fixed poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithErrorHandler is called with every failed fetch.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Poller) { p.onError = fn }
}

// WithArrivalHandler is called with the cards seen for the first time this session.
func WithArrivalHandler(fn func([]card.Card)) Option {
	return func(p *Poller) { p.onArrival = fn }
}

// WithAckTimeout bounds each best-effort acknowledgement call.
func WithAckTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.ackTimeout = d
		}
	}
}

// New creates a Poller. newPlayer is called once per session, so every
// session owns its active sounds.
func New(api API, newPlayer func() sound.Player, opts ...Option) *Poller {
	p := &Poller{
		api:        api,
		newPlayer:  newPlayer,
		interval:   DefaultInterval,
		ackTimeout: defaultAckTimeout,
		clock:      realClock{},
		logger:     log.StandardLogger(),
		onError:    func(error) {},
		onArrival:  func([]card.Card) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot is the renderable state of a session.
type Snapshot struct {
	Status    string
	Cards     []card.Card
	Err       error
	UpdatedAt time.Time
}

type snapshotJSON struct {
	Status    string      `json:"status"`
	Cards     []card.Card `json:"cards"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// MarshalJSON renders the snapshot for operator tabs. Cards is never null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{Status: s.Status, Cards: s.Cards}
	if out.Cards == nil {
		out.Cards = []card.Card{}
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		out.UpdatedAt = &t
	}
	return json.Marshal(out)
}

// Session is one running poll loop. Its tracking sets live and die with it.
type Session struct {
	p        *Poller
	player   sound.Player
	onUpdate func([]card.Card)

	ctx    context.Context
	cancel context.CancelFunc
	ticker Ticker

	busy     atomic.Bool
	loopDone chan struct{}
	ticks    sync.WaitGroup
	detached sync.WaitGroup
	stopOnce sync.Once

	// deliver orders state changes with their sound and onUpdate side effects.
	// Taken before mu.
	deliver sync.Mutex

	mu        sync.Mutex
	stopped   bool
	prev      card.KeySet
	seen      card.KeySet
	cards     []card.Card
	status    string
	lastErr   error
	updatedAt time.Time
}

// Start begins polling immediately and then on every interval tick.
// onUpdate receives the card list after each successful fetch and after each dismissal.
func (p *Poller) Start(ctx context.Context, onUpdate func([]card.Card)) *Session {
	if onUpdate == nil {
		onUpdate = func([]card.Card) {}
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		p:        p,
		player:   p.newPlayer(),
		onUpdate: onUpdate,
		ctx:      sctx,
		cancel:   cancel,
		ticker:   p.clock.NewTicker(p.interval),
		loopDone: make(chan struct{}),
		prev:     card.KeySet{},
		seen:     card.KeySet{},
		status:   enum.StatusConnecting,
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.loopDone)

	s.spawnTick()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ticker.C():
			s.spawnTick()
		}
	}
}

// spawnTick runs a tick in the background unless one is already in flight.
func (s *Session) spawnTick() {
	if err := s.acquire(); err != nil {
		s.p.logger.WithError(err).Debug("poll skipped")
		return
	}
	go func() {
		defer s.release()
		s.tick(s.ctx) //nolint:errcheck
	}()
}

// Tick runs one poll cycle synchronously. It returns ErrTickInFlight without
// fetching if another cycle is running, and ErrStopped once the session is stopped.
func (s *Session) Tick(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.tick(ctx)
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrTickInFlight
	}
	s.ticks.Add(1)
	return nil
}

func (s *Session) release() {
	s.busy.Store(false)
	s.ticks.Done()
}

func (s *Session) tick(ctx context.Context) error {
	cards, err := s.p.api.FetchNewCards(ctx)

	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if err != nil {
		s.lastErr = err
		if errors.Is(err, adminapi.ErrUnauthorized) {
			s.status = enum.StatusUnauthorized
		} else {
			s.status = enum.StatusError
		}
		s.mu.Unlock()

		s.p.logger.WithError(err).Warn("poll new cards failed")
		s.p.onError(err)
		return err
	}

	fetched := card.Keys(cards)
	added, removed := card.Diff(s.prev, fetched)

	var unseen []card.Key
	for _, k := range added {
		if s.seen.Add(k) {
			unseen = append(unseen, k)
		}
	}

	s.prev = fetched
	s.cards = cards
	s.status = enum.StatusReady
	s.lastErr = nil
	s.updatedAt = s.p.clock.Now()
	snapshot := cloneCards(cards)
	arrivals := filterCards(cards, unseen)
	s.mu.Unlock()

	for _, k := range added {
		s.player.Start(k.String())
	}
	for _, k := range removed {
		s.player.Stop(k.String())
	}
	for _, k := range unseen {
		key := k
		s.detach("mark seen", key.String(), func(ctx context.Context) error {
			return s.p.api.MarkSeen(ctx, key)
		})
	}
	if len(added) > 0 || len(removed) > 0 {
		s.p.logger.WithFields(log.Fields{
			"added":   len(added),
			"removed": len(removed),
			"total":   len(cards),
		}).Info("new cards changed")
	}
	if len(arrivals) > 0 {
		s.p.onArrival(arrivals)
	}
	s.onUpdate(snapshot)
	return nil
}

// Confirm accepts the card remotely and, on success, dismisses it locally.
func (s *Session) Confirm(ctx context.Context, key card.Key, req adminapi.ConfirmRequest) error {
	if _, ok := s.Card(key); !ok {
		return ErrUnknownCard
	}
	if err := s.p.api.Confirm(ctx, key, req); err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	s.dismiss(key)
	return nil
}

// Cancel rejects the card remotely and, on success, dismisses it locally.
func (s *Session) Cancel(ctx context.Context, key card.Key, req adminapi.CancelRequest) error {
	if _, ok := s.Card(key); !ok {
		return ErrUnknownCard
	}
	if err := s.p.api.Cancel(ctx, key, req); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	s.dismiss(key)
	return nil
}

// dismiss drops key from the rendered list and the diff state. The seen-set keeps it.
func (s *Session) dismiss(key card.Key) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.prev, key)
	s.cards = removeCard(s.cards, key)
	snapshot := cloneCards(s.cards)
	s.mu.Unlock()

	s.player.Stop(key.String())
	bucket := card.Bucket(key.Kind)
	s.detach("mark alerts seen", key.String(), func(ctx context.Context) error {
		return s.p.api.MarkAlertsSeen(ctx, []string{bucket})
	})
	s.onUpdate(snapshot)
}

// EnableAudio unlocks alert playback. Safe to call on every user gesture.
func (s *Session) EnableAudio() {
	s.player.Enable()
}

// Card returns the card with key from the latest list.
func (s *Session) Card(key card.Key) (card.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.Key() == key {
			return c, true
		}
	}
	return card.Card{}, false
}

// Snapshot returns the current renderable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:    s.status,
		Cards:     cloneCards(s.cards),
		Err:       s.lastErr,
		UpdatedAt: s.updatedAt,
	}
}

// Stop halts polling, aborts any in-flight fetch, silences this session's
// sounds and clears its tracking. It is safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.ticker.Stop()
		<-s.loopDone
		s.ticks.Wait()

		s.deliver.Lock()
		s.player.StopAll()
		s.mu.Lock()
		s.prev = card.KeySet{}
		s.seen = card.KeySet{}
		s.mu.Unlock()
		s.deliver.Unlock()

		if w, ok := s.player.(interface{ Wait() }); ok {
			w.Wait()
		}

		s.p.logger.Info("poller stopped")
	})
}

// Done is closed once the poll loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// detach runs fn in the background. Failures are logged and otherwise ignored.
func (s *Session) detach(op, key string, fn func(ctx context.Context) error) {
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.p.ackTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.p.logger.WithError(err).WithFields(log.Fields{"op": op, "key": key}).Warn("best-effort call failed")
		}
	}()
}

func cloneCards(cards []card.Card) []card.Card {
	out := make([]card.Card, len(cards))
	copy(out, cards)
	return out
}

func filterCards(cards []card.Card, keys []card.Key) []card.Card {
	if len(keys) == 0 {
		return nil
	}
	want := make(card.KeySet, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []card.Card
	for _, c := range cards {
		if want.Has(c.Key()) {
			out = append(out, c)
		}
	}
	return out
}

func removeCard(cards []card.Card, key card.Key) []card.Card {
	out := make([]card.Card, 0, len(cards))
	for _, c := range cards {
		if c.Key() != key {
			out = append(out, c)
		}
	}
	return out
}
