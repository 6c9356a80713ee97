package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiwari-pos/alert-console/internal/adminapi"
	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/kiwari-pos/alert-console/internal/sound"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// --- Mock API ---

type fetchResult struct {
	cards []card.Card
	err   error
}

// mockAPI blocks FetchNewCards until the test supplies a result.
type mockAPI struct {
	results chan fetchResult
	started chan struct{}

	mu          sync.Mutex
	fetches     int
	markSeen    []card.Key
	markSeenErr error
	alertsSeen  [][]string
	confirms    []card.Key
	confirmReqs []adminapi.ConfirmRequest
	cancels     []card.Key
	cancelReqs  []adminapi.CancelRequest
	actionErr   error
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		results: make(chan fetchResult),
		started: make(chan struct{}, 16),
	}
}

func (m *mockAPI) FetchNewCards(ctx context.Context) ([]card.Card, error) {
	m.mu.Lock()
	m.fetches++
	m.mu.Unlock()
	m.started <- struct{}{}

	select {
	case r := <-m.results:
		return r.cards, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockAPI) MarkSeen(ctx context.Context, key card.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markSeen = append(m.markSeen, key)
	return m.markSeenErr
}

func (m *mockAPI) Confirm(ctx context.Context, key card.Key, req adminapi.ConfirmRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return m.actionErr
	}
	m.confirms = append(m.confirms, key)
	m.confirmReqs = append(m.confirmReqs, req)
	return nil
}

func (m *mockAPI) Cancel(ctx context.Context, key card.Key, req adminapi.CancelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actionErr != nil {
		return m.actionErr
	}
	m.cancels = append(m.cancels, key)
	m.cancelReqs = append(m.cancelReqs, req)
	return nil
}

func (m *mockAPI) MarkAlertsSeen(ctx context.Context, buckets []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertsSeen = append(m.alertsSeen, buckets)
	return nil
}

func (m *mockAPI) markSeenCount(key card.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.markSeen {
		if k == key {
			n++
		}
	}
	return n
}

func (m *mockAPI) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// --- Mock sound player ---

type mockPlayer struct {
	mu       sync.Mutex
	active   map[string]bool
	starts   map[string]int
	stops    map[string]int
	stopAlls int
	enables  int
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{active: map[string]bool{}, starts: map[string]int{}, stops: map[string]int{}}
}

func (p *mockPlayer) Start(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[key] = true
	p.starts[key]++
}

func (p *mockPlayer) Stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, key)
	p.stops[key]++
}

func (p *mockPlayer) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = map[string]bool{}
	p.stopAlls++
}

func (p *mockPlayer) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[key]
}

func (p *mockPlayer) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enables++
}

func (p *mockPlayer) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// --- Manual clock ---

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *manualTicker
}

type manualTicker struct {
	clock   *manualClock
	c       chan time.Time
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &manualTicker{clock: c, c: make(chan time.Time, 1)}
	return c.ticker
}

// Fire delivers a tick, dropping it if the previous one is unread, like time.Ticker.
func (c *manualClock) Fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(DefaultInterval)
	if c.ticker == nil || c.ticker.stopped {
		return
	}
	select {
	case c.ticker.c <- c.now:
	default:
	}
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// --- Harness ---

type harness struct {
	t       *testing.T
	api     *mockAPI
	player  *mockPlayer
	clock   *manualClock
	session *Session
	updates chan []card.Card
	errs    chan error
	arrived chan []card.Card
	hook    *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	h := &harness{
		t:       t,
		api:     newMockAPI(),
		player:  newMockPlayer(),
		clock:   newManualClock(),
		updates: make(chan []card.Card, 16),
		errs:    make(chan error, 16),
		arrived: make(chan []card.Card, 16),
		hook:    hook,
	}
	p := New(h.api, func() sound.Player { return h.player },
		WithClock(h.clock),
		WithLogger(logger),
		WithErrorHandler(func(err error) { h.errs <- err }),
		WithArrivalHandler(func(cards []card.Card) { h.arrived <- cards }),
	)
	h.session = p.Start(context.Background(), func(cards []card.Card) { h.updates <- cards })
	t.Cleanup(h.session.Stop)
	return h
}

// awaitFetch waits until the session is blocked inside FetchNewCards.
func (h *harness) awaitFetch() {
	h.t.Helper()
	select {
	case <-h.api.started:
	case <-time.After(time.Second):
		h.t.Fatal("fetch not started")
	}
}

// poll completes one cycle returning cards and waits for the update.
func (h *harness) poll(cards ...card.Card) []card.Card {
	h.t.Helper()
	h.awaitFetch()
	h.api.results <- fetchResult{cards: cards}
	select {
	case got := <-h.updates:
		h.session.detached.Wait()
		return got
	case <-time.After(time.Second):
		h.t.Fatal("no update delivered")
		return nil
	}
}

// fail completes one cycle with err and waits for the error callback.
func (h *harness) fail(err error) error {
	h.t.Helper()
	h.awaitFetch()
	h.api.results <- fetchResult{err: err}
	select {
	case got := <-h.errs:
		return got
	case <-time.After(time.Second):
		h.t.Fatal("no error delivered")
		return nil
	}
}

// idle waits for the running tick to release the busy flag.
func (h *harness) idle() {
	h.t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.session.busy.Load() {
		if time.Now().After(deadline) {
			h.t.Fatal("tick never released")
		}
		time.Sleep(time.Millisecond)
	}
}

// next fires the interval ticker once the previous tick has finished.
func (h *harness) next() {
	h.t.Helper()
	h.idle()
	h.clock.Fire()
}

func menu(id string) card.Card {
	return card.Card{Kind: enum.KindMenu, ID: id, Timing: card.Timing{Mode: enum.TimingASAP}}
}

func reservation(id string) card.Card {
	return card.Card{Kind: enum.KindReservation, ID: id, Timing: card.Timing{Mode: enum.TimingASAP}}
}

var keyA = card.Key{Kind: enum.KindMenu, ID: "A"}

// --- Tests ---

func TestStatusConnectingBeforeFirstFetch(t *testing.T) {
	h := newHarness(t)
	h.awaitFetch()

	if got := h.session.Snapshot().Status; got != enum.StatusConnecting {
		t.Fatalf("status: got %s, want %s", got, enum.StatusConnecting)
	}

	h.api.results <- fetchResult{cards: []card.Card{}}
	<-h.updates

	snap := h.session.Snapshot()
	if snap.Status != enum.StatusReady {
		t.Fatalf("status: got %s, want %s", snap.Status, enum.StatusReady)
	}
	if len(snap.Cards) != 0 {
		t.Fatalf("cards: got %d, want 0", len(snap.Cards))
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}
}

func TestScenarioSeenOncePerSession(t *testing.T) {
	h := newHarness(t)

	// poll 1: A arrives
	got := h.poll(menu("A"))
	if len(got) != 1 {
		t.Fatalf("poll 1 cards: got %d", len(got))
	}
	if !h.player.Active("menu:A") {
		t.Fatal("poll 1: sound A should be active")
	}
	if n := h.api.markSeenCount(keyA); n != 1 {
		t.Fatalf("poll 1: mark seen calls: got %d, want 1", n)
	}

	// poll 2: A still there
	h.next()
	h.poll(menu("A"))
	if n := h.api.markSeenCount(keyA); n != 1 {
		t.Fatalf("poll 2: mark seen calls: got %d, want 1", n)
	}
	if !h.player.Active("menu:A") {
		t.Fatal("poll 2: sound A should still be active")
	}
	if h.player.starts["menu:A"] != 1 {
		t.Fatalf("poll 2: sound restarted, starts=%d", h.player.starts["menu:A"])
	}

	// poll 3: A gone
	h.next()
	got = h.poll()
	if len(got) != 0 {
		t.Fatalf("poll 3 cards: got %d, want 0", len(got))
	}
	if h.player.Active("menu:A") {
		t.Fatal("poll 3: sound A should be stopped")
	}
	h.session.mu.Lock()
	inSeen := h.session.seen.Has(keyA)
	h.session.mu.Unlock()
	if !inSeen {
		t.Fatal("poll 3: seen-set must still contain menu:A")
	}

	// poll 4: A reappears, re-alerts but is not re-acknowledged
	h.next()
	h.poll(menu("A"))
	if !h.player.Active("menu:A") {
		t.Fatal("poll 4: sound A should alert again")
	}
	if h.player.starts["menu:A"] != 2 {
		t.Fatalf("poll 4: starts=%d, want 2", h.player.starts["menu:A"])
	}
	if n := h.api.markSeenCount(keyA); n != 1 {
		t.Fatalf("poll 4: mark seen calls: got %d, want 1", n)
	}
}

func TestDiffDrivesSounds(t *testing.T) {
	h := newHarness(t)

	sequences := [][]card.Card{
		{menu("A"), menu("B")},
		{menu("B"), reservation("C")},
		{reservation("C"), menu("D"), menu("A")},
		{},
		{menu("B")},
	}

	for i, cards := range sequences {
		if i > 0 {
			h.next()
		}
		h.poll(cards...)

		fetched := card.Keys(cards)
		for k := range fetched {
			if !h.player.Active(k.String()) {
				t.Fatalf("cycle %d: fetched key %s has no active sound", i, k)
			}
		}
		if got := h.player.activeCount(); got != len(fetched) {
			t.Fatalf("cycle %d: active sounds %d, want %d", i, got, len(fetched))
		}
	}

	for _, k := range []string{"menu:A", "menu:B", "reservation:C", "menu:D"} {
		key, _ := card.ParseKey(k)
		if n := h.api.markSeenCount(key); n != 1 {
			t.Errorf("%s mark seen calls: got %d, want 1", k, n)
		}
	}
}

func TestArrivalHandlerGetsOnlyNewCards(t *testing.T) {
	h := newHarness(t)

	h.poll(menu("A"))
	first := <-h.arrived
	if len(first) != 1 || first[0].ID != "A" {
		t.Fatalf("first arrivals: got %v", first)
	}

	h.next()
	h.poll(menu("A"), menu("B"))
	second := <-h.arrived
	if len(second) != 1 || second[0].ID != "B" {
		t.Fatalf("second arrivals: got %v", second)
	}

	h.next()
	h.poll(menu("A"), menu("B"))
	select {
	case extra := <-h.arrived:
		t.Fatalf("no arrivals expected, got %v", extra)
	default:
	}

	// B flaps out and back in: it rings again but is not announced again.
	h.next()
	h.poll(menu("A"))
	h.next()
	h.poll(menu("A"), menu("B"))
	select {
	case extra := <-h.arrived:
		t.Fatalf("reappearing card announced again: %v", extra)
	default:
	}
	if !h.player.Active("menu:B") {
		t.Error("reappearing card should ring again")
	}
}

func TestAuthErrorKeepsState(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"))

	h.next()
	err := h.fail(adminapi.ErrUnauthorized)
	if !errors.Is(err, adminapi.ErrUnauthorized) {
		t.Fatalf("error: got %v, want ErrUnauthorized", err)
	}

	snap := h.session.Snapshot()
	if snap.Status != enum.StatusUnauthorized {
		t.Fatalf("status: got %s, want %s", snap.Status, enum.StatusUnauthorized)
	}
	if len(snap.Cards) != 1 || snap.Cards[0].ID != "A" {
		t.Fatalf("cards must be kept on auth failure, got %v", snap.Cards)
	}
	if !h.player.Active("menu:A") {
		t.Fatal("sound must be kept on auth failure")
	}
	select {
	case u := <-h.updates:
		t.Fatalf("no update expected on failure, got %v", u)
	default:
	}
}

func TestFetchErrorIsNotFatal(t *testing.T) {
	h := newHarness(t)

	err := h.fail(adminapi.ErrFetch)
	if !errors.Is(err, adminapi.ErrFetch) {
		t.Fatalf("error: got %v", err)
	}
	if got := h.session.Snapshot().Status; got != enum.StatusError {
		t.Fatalf("status: got %s, want %s", got, enum.StatusError)
	}

	// loop keeps going on the next tick
	h.next()
	h.poll(menu("A"))

	snap := h.session.Snapshot()
	if snap.Status != enum.StatusReady || snap.Err != nil {
		t.Fatalf("expected recovery, got %s / %v", snap.Status, snap.Err)
	}
	if len(h.hook.AllEntries()) == 0 {
		t.Fatal("fetch failure should be logged")
	}
}

func TestTickSkippedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.awaitFetch()

	// the initial tick is blocked in fetch
	if err := h.session.Tick(context.Background()); !errors.Is(err, ErrTickInFlight) {
		t.Fatalf("Tick: got %v, want ErrTickInFlight", err)
	}
	h.clock.Fire()
	time.Sleep(20 * time.Millisecond)
	if n := h.api.fetchCount(); n != 1 {
		t.Fatalf("fetches while busy: got %d, want 1", n)
	}

	h.api.results <- fetchResult{cards: []card.Card{menu("A")}}
	<-h.updates
}

func TestTickSynchronous(t *testing.T) {
	h := newHarness(t)
	h.poll()
	h.idle()

	done := make(chan error, 1)
	go func() { done <- h.session.Tick(context.Background()) }()
	h.awaitFetch()
	h.api.results <- fetchResult{cards: []card.Card{menu("A")}}
	<-h.updates

	if err := <-done; err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestMarkSeenFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.api.markSeenErr = errors.New("network down")

	got := h.poll(menu("A"))
	if len(got) != 1 {
		t.Fatalf("cards must render despite mark seen failure, got %d", len(got))
	}

	found := false
	for _, e := range h.hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["op"] == "mark seen" {
			found = true
		}
	}
	if !found {
		t.Fatal("mark seen failure should be logged")
	}
	if h.session.Snapshot().Status != enum.StatusReady {
		t.Fatal("mark seen failure must not change status")
	}
}

func TestConfirmDismissesCard(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"), reservation("R"))

	extra := 10
	if err := h.session.Confirm(context.Background(), keyA, adminapi.ConfirmRequest{Print: true, ExtraMinutes: &extra}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	updated := <-h.updates
	if len(updated) != 1 || updated[0].ID != "R" {
		t.Fatalf("rendered list after confirm: got %v", updated)
	}
	if h.player.Active("menu:A") {
		t.Fatal("sound A should stop on confirm")
	}
	if !h.player.Active("reservation:R") {
		t.Fatal("other sounds must keep playing")
	}

	h.session.detached.Wait()
	h.api.mu.Lock()
	alerts := h.api.alertsSeen
	req := h.api.confirmReqs[0]
	h.api.mu.Unlock()
	if len(alerts) != 1 || len(alerts[0]) != 1 || alerts[0][0] != enum.BucketOrders {
		t.Fatalf("alerts seen calls: got %v, want [[orders]]", alerts)
	}
	if !req.Print || req.ExtraMinutes == nil || *req.ExtraMinutes != 10 {
		t.Fatalf("confirm request not forwarded: %+v", req)
	}

	h.session.mu.Lock()
	inPrev := h.session.prev.Has(keyA)
	inSeen := h.session.seen.Has(keyA)
	h.session.mu.Unlock()
	if inPrev {
		t.Fatal("confirmed key must leave the diff state")
	}
	if !inSeen {
		t.Fatal("seen-set is monotonic")
	}
}

func TestCancelDismissesCard(t *testing.T) {
	h := newHarness(t)
	h.poll(reservation("R"))

	req := adminapi.CancelRequest{Reason: "fully booked", RefundIfPaid: true}
	key := card.Key{Kind: enum.KindReservation, ID: "R"}
	if err := h.session.Cancel(context.Background(), key, req); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if updated := <-h.updates; len(updated) != 0 {
		t.Fatalf("rendered list after cancel: got %v", updated)
	}
	h.session.detached.Wait()

	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.alertsSeen) != 1 || h.api.alertsSeen[0][0] != enum.BucketReservations {
		t.Fatalf("alerts seen calls: got %v", h.api.alertsSeen)
	}
	if h.api.cancelReqs[0] != req {
		t.Fatalf("cancel request: got %+v", h.api.cancelReqs[0])
	}
}

func TestActionFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"))
	h.api.actionErr = adminapi.ErrAction

	if err := h.session.Confirm(context.Background(), keyA, adminapi.ConfirmRequest{}); !errors.Is(err, adminapi.ErrAction) {
		t.Fatalf("confirm: got %v, want ErrAction", err)
	}
	if err := h.session.Cancel(context.Background(), keyA, adminapi.CancelRequest{Reason: "x"}); !errors.Is(err, adminapi.ErrAction) {
		t.Fatalf("cancel: got %v, want ErrAction", err)
	}

	if _, ok := h.session.Card(keyA); !ok {
		t.Fatal("card must stay in rendered list")
	}
	if !h.player.Active("menu:A") {
		t.Fatal("sound must stay active")
	}
	h.session.detached.Wait()
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.alertsSeen) != 0 {
		t.Fatalf("no alerts seen call expected, got %v", h.api.alertsSeen)
	}
}

func TestConfirmUnknownCard(t *testing.T) {
	h := newHarness(t)
	h.poll()

	err := h.session.Confirm(context.Background(), keyA, adminapi.ConfirmRequest{})
	if !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("confirm: got %v, want ErrUnknownCard", err)
	}
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if len(h.api.confirms) != 0 {
		t.Fatal("remote confirm must not be called for unknown card")
	}
}

func TestConfirmedCardReappearingReAlertsWithoutMarkSeen(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"))

	if err := h.session.Confirm(context.Background(), keyA, adminapi.ConfirmRequest{}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	<-h.updates

	// another admin's stale view: the server still returns A once
	h.next()
	h.poll(menu("A"))
	if !h.player.Active("menu:A") {
		t.Fatal("A should alert again")
	}
	if n := h.api.markSeenCount(keyA); n != 1 {
		t.Fatalf("mark seen calls: got %d, want 1", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"), menu("B"))

	h.session.Stop()
	h.session.Stop()

	if h.player.stopAlls != 1 {
		t.Fatalf("StopAll calls: got %d, want 1", h.player.stopAlls)
	}
	if h.player.activeCount() != 0 {
		t.Fatal("sounds must be silenced")
	}
	h.session.mu.Lock()
	empty := len(h.session.prev) == 0 && len(h.session.seen) == 0
	h.session.mu.Unlock()
	if !empty {
		t.Fatal("tracking sets must be cleared")
	}
	select {
	case <-h.session.Done():
	default:
		t.Fatal("loop must have exited")
	}
	if err := h.session.Tick(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Tick after stop: got %v, want ErrStopped", err)
	}
}

func TestStopAbortsInFlightFetch(t *testing.T) {
	h := newHarness(t)
	h.awaitFetch()

	stopped := make(chan struct{})
	go func() {
		h.session.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not abort fetch")
	}

	// no late update or error resurrects state
	select {
	case u := <-h.updates:
		t.Fatalf("update after stop: %v", u)
	case err := <-h.errs:
		t.Fatalf("error after stop: %v", err)
	default:
	}
	if h.player.activeCount() != 0 {
		t.Fatal("no sound may start after stop")
	}
}

func TestNoTickAfterStop(t *testing.T) {
	h := newHarness(t)
	h.poll()
	h.session.Stop()

	before := h.api.fetchCount()
	h.next()
	time.Sleep(20 * time.Millisecond)
	if got := h.api.fetchCount(); got != before {
		t.Fatalf("fetches after stop: got %d, want %d", got, before)
	}
}

func TestDismissAfterStopIsNoop(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"))
	h.session.Stop()

	h.session.dismiss(keyA)
	select {
	case u := <-h.updates:
		t.Fatalf("update after stop: %v", u)
	default:
	}
}

func TestEnableAudioDelegates(t *testing.T) {
	h := newHarness(t)
	h.session.EnableAudio()
	h.session.EnableAudio()
	if h.player.enables != 2 {
		t.Fatalf("enable calls: got %d", h.player.enables)
	}
}

func TestSessionsDoNotShareState(t *testing.T) {
	api := newMockAPI()
	player := newMockPlayer()
	logger, _ := test.NewNullLogger()
	p := New(api, func() sound.Player { return player }, WithClock(newManualClock()), WithLogger(logger))

	updates := make(chan []card.Card, 4)
	s1 := p.Start(context.Background(), func(c []card.Card) { updates <- c })
	<-api.started
	api.results <- fetchResult{cards: []card.Card{menu("A")}}
	<-updates
	s1.Stop()
	s1.detached.Wait()

	s2 := p.Start(context.Background(), func(c []card.Card) { updates <- c })
	defer s2.Stop()
	<-api.started
	api.results <- fetchResult{cards: []card.Card{menu("A")}}
	<-updates
	s2.detached.Wait()

	if n := api.markSeenCount(keyA); n != 2 {
		t.Fatalf("fresh session must acknowledge again: got %d calls, want 2", n)
	}
}

func TestConcurrentSessionsOwnTheirSounds(t *testing.T) {
	api := newMockAPI()
	logger, _ := test.NewNullLogger()

	var mu sync.Mutex
	var players []*mockPlayer
	p := New(api, func() sound.Player {
		mu.Lock()
		defer mu.Unlock()
		pl := newMockPlayer()
		players = append(players, pl)
		return pl
	}, WithClock(newManualClock()), WithLogger(logger))

	up1 := make(chan []card.Card, 4)
	up2 := make(chan []card.Card, 4)
	s1 := p.Start(context.Background(), func(c []card.Card) { up1 <- c })
	s2 := p.Start(context.Background(), func(c []card.Card) { up2 <- c })
	defer s2.Stop()

	for range 2 {
		<-api.started
		api.results <- fetchResult{cards: []card.Card{menu("A")}}
	}
	<-up1
	<-up2

	mu.Lock()
	p1, p2 := players[0], players[1]
	mu.Unlock()
	if !p1.Active("menu:A") || !p2.Active("menu:A") {
		t.Fatal("both sessions should alert for A")
	}

	s1.Stop()
	if p1.activeCount() != 0 {
		t.Fatal("stopped session must be silent")
	}
	if !p2.Active("menu:A") {
		t.Fatal("stopping one session silenced the other")
	}
	if p2.stopAlls != 0 || p2.stops["menu:A"] != 0 {
		t.Fatalf("second player touched: stopAlls=%d stops=%d", p2.stopAlls, p2.stops["menu:A"])
	}
	if len(s2.Snapshot().Cards) != 1 {
		t.Fatal("second session must keep its list")
	}
}

func TestDismissOrdersUpdatesWithTick(t *testing.T) {
	h := newHarness(t)
	h.poll(menu("A"), menu("B"))

	h.session.deliver.Lock()
	done := make(chan error, 1)
	go func() { done <- h.session.Confirm(context.Background(), keyA, adminapi.ConfirmRequest{}) }()

	select {
	case u := <-h.updates:
		t.Fatalf("update delivered while another delivery holds the session: %v", u)
	case <-time.After(20 * time.Millisecond):
	}
	// state readers are not blocked by a pending delivery
	if got := len(h.session.Snapshot().Cards); got != 2 {
		t.Fatalf("snapshot cards: got %d, want 2", got)
	}
	h.session.deliver.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if u := <-h.updates; len(u) != 1 || u[0].ID != "B" {
		t.Fatalf("update after confirm: got %v", u)
	}
}

func TestSnapshotJSON(t *testing.T) {
	b, err := json.Marshal(Snapshot{Status: enum.StatusConnecting})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"status":"connecting","cards":[]}` {
		t.Errorf("empty snapshot: got %s", b)
	}

	at := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	b, _ = json.Marshal(Snapshot{
		Status:    enum.StatusError,
		Cards:     []card.Card{{Kind: "menu", ID: "1"}},
		Err:       errors.New("boom"),
		UpdatedAt: at,
	})
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["error"] != "boom" || got["updated_at"] != "2026-10-14T08:00:00Z" {
		t.Errorf("snapshot: got %s", b)
	}
	if cards := got["cards"].([]any); len(cards) != 1 {
		t.Errorf("cards: got %v", cards)
	}
}
