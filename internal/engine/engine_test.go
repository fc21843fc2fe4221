package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
	"github.com/solwatch/solwatch/internal/risk"
)

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	failAll   bool
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) ListByStatus(_ context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == status {
			out = append(out, pos)
		}
	}
	return out, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
	failed []domain.FailedTrade
}

func (s *fakeTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *fakeTradeStore) InsertFailed(_ context.Context, f domain.FailedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, f)
	return nil
}

func (s *fakeTradeStore) ListRange(context.Context, time.Time, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *fakeTradeStore) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}
func (s *fakeTradeStore) ListFailedBefore(context.Context, time.Time) ([]domain.FailedTrade, error) {
	return nil, nil
}
func (s *fakeTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *fakeTradeStore) SumRealizedPnL(context.Context, time.Time) (float64, error) {
	return 0, nil
}

func (s *fakeTradeStore) failedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failed)
}

type fakeBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[topic])
}

type fakeVenue struct {
	mu      sync.Mutex
	balance float64
	// failMints rejects executions for these mints with success=false.
	failMints map[string]string
	execErr   error
	executed  []domain.TradeSignal
}

func (v *fakeVenue) Execute(_ context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.executed = append(v.executed, sig)
	if v.execErr != nil {
		return domain.ExecutionResult{}, v.execErr
	}
	if msg, ok := v.failMints[sig.Mint]; ok {
		return domain.ExecutionResult{Success: false, Message: msg}, nil
	}
	return domain.ExecutionResult{
		Success:   true,
		Signature: "sig-" + sig.ID,
		Price:     sig.Price,
		FeeUSD:    0.25,
	}, nil
}

func (v *fakeVenue) Balance(context.Context) (float64, error) {
	return v.balance, nil
}

type fakeFeed struct {
	mu      sync.Mutex
	prices  map[string]float64
	history map[string][]domain.PricePoint
	errs    map[string]error
	// block holds GetPrice until released, for round overlap tests.
	block chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:  make(map[string]float64),
		history: make(map[string][]domain.PricePoint),
		errs:    make(map[string]error),
	}
}

func (f *fakeFeed) GetPrice(_ context.Context, mint string) (float64, error) {
	f.mu.Lock()
	block := f.block
	err := f.errs[mint]
	price := f.prices[mint]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (f *fakeFeed) GetHistoricalPrices(_ context.Context, mint string) ([]domain.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[mint], nil
}

func (f *fakeFeed) setPrice(mint string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[mint] = price
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	book    *Book
	coord   *Coordinator
	monitor *Monitor
	engine  *Engine
	store   *fakePositionStore
	trades  *fakeTradeStore
	bus     *fakeBus
	venue   *fakeVenue
	feed    *fakeFeed
}

func newHarness() *harness {
	logger := testLogger()
	store := newFakePositionStore()
	trades := &fakeTradeStore{}
	bus := newFakeBus()
	venue := &fakeVenue{balance: 10000}
	feed := newFakeFeed()

	book := NewBook(store, logger)
	coord := NewCoordinator(book, venue, trades, bus, CoordinatorParams{
		MinConfidence:   0.5,
		MinPositionSize: 10,
		MaxPositionSize: 100000,
	}, logger)
	eval := risk.NewEvaluator(risk.Params{
		TrailingActivationPercent: 5,
		TrailingDistance:          0.02,
		VolatilityThreshold:       0.10,
		VolatilityTPMultiplier:    0.5,
	})
	monitor := NewMonitor(book, feed, eval, coord, MonitorParams{Interval: time.Second, MaxParallel: 4}, logger)
	eng := New(book, monitor, coord, venue, feed, Params{
		MaxPositions:      3,
		MinConfidence:     0.5,
		StopLossPercent:   10,
		TakeProfitPercent: 20,
		Sizing: risk.SizingParams{
			MinPositionSize:     10,
			MaxPositionSize:     5000,
			SizeFraction:        0.1,
			MaxPositionFraction: 0.5,
		},
		LiquidateOnShutdown: true,
		ShutdownTimeout:     5 * time.Second,
	}, logger)

	return &harness{book: book, coord: coord, monitor: monitor, engine: eng,
		store: store, trades: trades, bus: bus, venue: venue, feed: feed}
}

func (h *harness) openPosition(t *testing.T, mint string, entry, stop, target, qty float64) domain.Position {
	t.Helper()
	pos, err := h.coord.Open(context.Background(), domain.TradeSignal{
		ID:         "sig-" + mint,
		Kind:       domain.SignalKindEntry,
		Mint:       mint,
		Price:      entry,
		Quantity:   qty,
		Confidence: 0.9,
		StopLoss:   stop,
		TakeProfit: target,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Open(%s): %v", mint, err)
	}
	h.feed.setPrice(mint, entry)
	return pos
}

func TestRoundStopLossExit(t *testing.T) {
	h := newHarness()
	pos := h.openPosition(t, "mint-a", 100, 90, 120, 10)

	h.feed.setPrice("mint-a", 89)
	h.monitor.RunRound(context.Background())

	if h.book.Len() != 0 {
		t.Fatalf("active count = %d, want 0", h.book.Len())
	}
	stored, err := h.store.GetByID(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %v, want closed", stored.Status)
	}
	if stored.Exit == nil || stored.Exit.Reason != domain.CloseReasonStopLoss {
		t.Fatalf("Exit = %+v, want stopLoss reason", stored.Exit)
	}
	if math.Abs(stored.Exit.RealizedPnL-(-110)) > 1e-9 {
		t.Fatalf("RealizedPnL = %v, want -110", stored.Exit.RealizedPnL)
	}
	if h.bus.count(domain.TopicPositionClosed) != 1 {
		t.Fatal("positions:closed not published")
	}
}

func TestRoundTakeProfitExit(t *testing.T) {
	h := newHarness()
	pos := h.openPosition(t, "mint-b", 100, 90, 120, 10)

	h.feed.setPrice("mint-b", 125)
	h.monitor.RunRound(context.Background())

	stored, err := h.store.GetByID(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %v, want closed", stored.Status)
	}
	if math.Abs(stored.Exit.RealizedPnL-250) > 1e-9 {
		t.Fatalf("RealizedPnL = %v, want 250", stored.Exit.RealizedPnL)
	}
	if stored.Exit.Reason != domain.CloseReasonTakeProfit {
		t.Fatalf("Reason = %v, want takeProfit", stored.Exit.Reason)
	}
}

func TestRoundTrailingStopPersists(t *testing.T) {
	h := newHarness()
	h.openPosition(t, "mint-c", 100, 90, 120, 10)

	h.feed.setPrice("mint-c", 106)
	h.monitor.RunRound(context.Background())

	pos, ok := h.book.GetByMint("mint-c")
	if !ok {
		t.Fatal("position missing from book")
	}
	if math.Abs(pos.StopLoss-103.88) > 1e-9 {
		t.Fatalf("StopLoss = %v, want 103.88", pos.StopLoss)
	}
	if h.bus.count(domain.TopicPositionUpdated) != 1 {
		t.Fatal("positions:updated not published for level change")
	}

	// A later drop to 95 is below the raised stop: exit, never a relax.
	h.feed.setPrice("mint-c", 95)
	h.monitor.RunRound(context.Background())

	stored, _ := h.store.ListByStatus(context.Background(), domain.PositionStatusClosed)
	if len(stored) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(stored))
	}
	if stored[0].StopLoss != 103.88 {
		t.Fatalf("stop relaxed to %v", stored[0].StopLoss)
	}
}

func TestRoundPnLInvariant(t *testing.T) {
	h := newHarness()
	h.openPosition(t, "mint-d", 2, 1.5, 3, 500)

	for _, price := range []float64{2.1, 2.05, 1.9, 2.0} {
		h.feed.setPrice("mint-d", price)
		h.monitor.RunRound(context.Background())

		pos, ok := h.book.GetByMint("mint-d")
		if !ok {
			t.Fatalf("position gone at price %v", price)
		}
		want := (price - 2) * 500
		if math.Abs(pos.UnrealizedPnL-want) > 1e-9 {
			t.Fatalf("UnrealizedPnL at %v = %v, want %v", price, pos.UnrealizedPnL, want)
		}
	}
}

func TestRoundFeedErrorIsolated(t *testing.T) {
	h := newHarness()
	h.openPosition(t, "mint-ok", 100, 90, 120, 10)
	h.openPosition(t, "mint-bad", 50, 45, 60, 20)
	h.feed.errs["mint-bad"] = errors.New("feed unavailable")

	h.feed.setPrice("mint-ok", 125)
	h.monitor.RunRound(context.Background())

	// The healthy position exits; the faulted one is held, untouched.
	if _, ok := h.book.GetByMint("mint-ok"); ok {
		t.Fatal("healthy position did not exit")
	}
	bad, ok := h.book.GetByMint("mint-bad")
	if !ok {
		t.Fatal("faulted position left the book")
	}
	if bad.CurrentPrice != 50 {
		t.Fatalf("faulted position was marked: %v", bad.CurrentPrice)
	}
}

func TestFailedExitKeepsPositionActive(t *testing.T) {
	h := newHarness()
	pos := h.openPosition(t, "mint-e", 100, 90, 120, 10)
	h.venue.failMints = map[string]string{"mint-e": "insufficient liquidity"}

	h.feed.setPrice("mint-e", 89)
	h.monitor.RunRound(context.Background())

	if _, ok := h.book.GetByMint("mint-e"); !ok {
		t.Fatal("position left the book after failed exit")
	}
	stored, _ := h.store.GetByID(context.Background(), pos.ID)
	if stored.Status != domain.PositionStatusActive {
		t.Fatalf("Status = %v, want active", stored.Status)
	}
	if h.trades.failedCount() != 1 {
		t.Fatalf("failed trades = %d, want 1", h.trades.failedCount())
	}
	if h.bus.count(domain.TopicTradeFailed) != 1 {
		t.Fatal("trades:failed not published")
	}

	// Venue recovers; the next round completes the exit.
	h.venue.mu.Lock()
	h.venue.failMints = nil
	h.venue.mu.Unlock()
	h.monitor.RunRound(context.Background())
	if h.book.Len() != 0 {
		t.Fatal("position not re-evaluated and closed after venue recovery")
	}
}

func TestShutdownLiquidation(t *testing.T) {
	h := newHarness()
	good := h.openPosition(t, "mint-f", 100, 90, 120, 10)
	bad := h.openPosition(t, "mint-g", 50, 45, 60, 20)
	h.venue.failMints = map[string]string{"mint-g": "route not found"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	// Let the engine rehydrate and start ticking, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	goodStored, _ := h.store.GetByID(context.Background(), good.ID)
	if goodStored.Status != domain.PositionStatusClosed {
		t.Fatalf("good position status = %v, want closed", goodStored.Status)
	}
	if goodStored.Exit.Reason != domain.CloseReasonShutdown {
		t.Fatalf("good position reason = %v, want shutdown", goodStored.Exit.Reason)
	}

	badStored, _ := h.store.GetByID(context.Background(), bad.ID)
	if badStored.Status != domain.PositionStatusForceClosed {
		t.Fatalf("bad position status = %v, want force_closed", badStored.Status)
	}

	if h.book.Len() != 0 {
		t.Fatalf("active index not empty after shutdown: %d", h.book.Len())
	}
	if h.bus.count(domain.TopicPositionForceClosed) != 1 {
		t.Fatal("positions:force_closed not published")
	}
}

func TestRoundReentrancyGuard(t *testing.T) {
	h := newHarness()
	h.openPosition(t, "mint-h", 100, 90, 120, 10)

	release := make(chan struct{})
	h.feed.mu.Lock()
	h.feed.block = release
	h.feed.mu.Unlock()

	firstDone := make(chan struct{})
	go func() {
		h.monitor.RunRound(context.Background())
		close(firstDone)
	}()

	// Wait until the first round is inside the feed call, then try to
	// overlap a second round. It must return without touching anything.
	deadline := time.Now().Add(2 * time.Second)
	for !h.monitor.inRound.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first round never started")
		}
		time.Sleep(time.Millisecond)
	}
	h.monitor.RunRound(context.Background())
	if got := h.monitor.rounds.Load(); got != 0 {
		t.Fatalf("overlapping round completed: rounds = %d", got)
	}

	close(release)
	<-firstDone
	if got := h.monitor.rounds.Load(); got != 1 {
		t.Fatalf("rounds = %d, want 1", got)
	}
}

func TestSubmitEntryAdmission(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	entry := domain.TradeSignal{
		ID:         "sig-1",
		Kind:       domain.SignalKindEntry,
		Mint:       "mint-i",
		Price:      2.0,
		Confidence: 0.9,
		CreatedAt:  time.Now().UTC(),
	}

	pos, err := h.engine.SubmitEntry(ctx, entry)
	if err != nil {
		t.Fatalf("SubmitEntry: %v", err)
	}
	// balance 10000 x fraction 0.1 x confidence 0.9 = 900 notional at 2.0.
	if math.Abs(pos.Quantity-450) > 1e-9 {
		t.Fatalf("Quantity = %v, want 450", pos.Quantity)
	}
	if pos.StopLoss != 1.8 || pos.TakeProfit != 2.4 {
		t.Fatalf("levels = %v/%v, want 1.8/2.4", pos.StopLoss, pos.TakeProfit)
	}

	// Second entry on the same mint while one is active is rejected.
	if _, err := h.engine.SubmitEntry(ctx, entry); !errors.Is(err, domain.ErrDuplicatePosition) {
		t.Fatalf("duplicate entry error = %v, want ErrDuplicatePosition", err)
	}

	// Confidence gate.
	low := entry
	low.Mint = "mint-j"
	low.Confidence = 0.2
	var verr *domain.ValidationError
	if _, err := h.engine.SubmitEntry(ctx, low); !errors.As(err, &verr) {
		t.Fatalf("low confidence error = %v, want ValidationError", err)
	}

	// Position ceiling.
	for _, mint := range []string{"mint-k", "mint-l"} {
		sig := entry
		sig.Mint = mint
		if _, err := h.engine.SubmitEntry(ctx, sig); err != nil {
			t.Fatalf("SubmitEntry(%s): %v", mint, err)
		}
	}
	over := entry
	over.Mint = "mint-m"
	if _, err := h.engine.SubmitEntry(ctx, over); !errors.As(err, &verr) {
		t.Fatalf("ceiling error = %v, want ValidationError", err)
	}
}

func TestOpenFailureRecordsFailedTrade(t *testing.T) {
	h := newHarness()
	h.venue.failMints = map[string]string{"mint-n": "slippage exceeded"}

	_, err := h.coord.Open(context.Background(), domain.TradeSignal{
		ID:         "sig-n",
		Kind:       domain.SignalKindEntry,
		Mint:       "mint-n",
		Price:      1.0,
		Quantity:   100,
		Confidence: 0.9,
		StopLoss:   0.9,
		TakeProfit: 1.3,
	})
	var eerr *domain.ExecutionError
	if !errors.As(err, &eerr) {
		t.Fatalf("Open error = %v, want ExecutionError", err)
	}
	if h.book.Len() != 0 {
		t.Fatal("position created despite venue rejection")
	}
	if h.trades.failedCount() != 1 {
		t.Fatalf("failed trades = %d, want 1", h.trades.failedCount())
	}
	if h.bus.count(domain.TopicTradeFailed) != 1 {
		t.Fatal("trades:failed not published")
	}
}

func TestSettledEntryRecordedWhenRegisterFails(t *testing.T) {
	h := newHarness()
	h.store.failAll = true

	_, err := h.coord.Open(context.Background(), domain.TradeSignal{
		ID:         "sig-q",
		Kind:       domain.SignalKindEntry,
		Mint:       "mint-q",
		Price:      1.0,
		Quantity:   100,
		Confidence: 0.9,
		StopLoss:   0.9,
		TakeProfit: 1.3,
	})
	if err == nil {
		t.Fatal("Open succeeded despite store failure")
	}
	if h.book.Len() != 0 {
		t.Fatalf("active count = %d, want 0", h.book.Len())
	}

	// The venue fill settled; it must survive in the trade log even though
	// the position could not be registered.
	h.trades.mu.Lock()
	trades := append([]domain.Trade(nil), h.trades.trades...)
	h.trades.mu.Unlock()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].Side != domain.TradeSideEntry {
		t.Fatalf("Side = %v, want entry", trades[0].Side)
	}
	if trades[0].Signature != "sig-sig-q" {
		t.Fatalf("Signature = %q, want %q", trades[0].Signature, "sig-sig-q")
	}

	if h.trades.failedCount() != 1 {
		t.Fatalf("failed trades = %d, want 1", h.trades.failedCount())
	}
	if h.bus.count(domain.TopicTradeFailed) != 1 {
		t.Fatal("trades:failed not published")
	}
}

func TestManualCloseByID(t *testing.T) {
	h := newHarness()
	pos := h.openPosition(t, "mint-r", 100, 90, 120, 10)

	closed, err := h.engine.ClosePosition(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if closed.Exit == nil || closed.Exit.Reason != domain.CloseReasonManual {
		t.Fatalf("Exit = %+v, want manual reason", closed.Exit)
	}
	if h.book.Len() != 0 {
		t.Fatalf("active count = %d, want 0", h.book.Len())
	}
	stored, err := h.store.GetByID(context.Background(), pos.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.PositionStatusClosed {
		t.Fatalf("Status = %v, want closed", stored.Status)
	}
	if h.bus.count(domain.TopicPositionClosed) != 1 {
		t.Fatal("positions:closed not published")
	}

	if _, err := h.engine.ClosePosition(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestRehydrateCorrectsInvertedLevels(t *testing.T) {
	logger := testLogger()
	store := newFakePositionStore()
	feed := newFakeFeed()
	feed.setPrice("mint-o", 1.0)

	stale := domain.Position{
		ID:           "pos-o",
		Mint:         "mint-o",
		EntryPrice:   1.0,
		Quantity:     100,
		StopLoss:     1.5, // above price: inverted
		TakeProfit:   0.8, // below price: inverted
		CurrentPrice: 1.0,
		UpdatedAt:    time.Now().UTC().Add(-time.Hour),
		Status:       domain.PositionStatusActive,
	}
	if err := store.Create(context.Background(), stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	book := NewBook(store, logger)
	err := book.Rehydrate(context.Background(), feed, RehydrateParams{
		Staleness:         time.Minute,
		StopLossPercent:   10,
		TakeProfitPercent: 20,
	})
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	pos, ok := book.GetByMint("mint-o")
	if !ok {
		t.Fatal("position not rehydrated")
	}
	if !(pos.StopLoss < pos.CurrentPrice && pos.CurrentPrice < pos.TakeProfit) {
		t.Fatalf("levels not corrected: stop=%v price=%v target=%v",
			pos.StopLoss, pos.CurrentPrice, pos.TakeProfit)
	}
}

func TestTerminalPositionsIgnoredByRounds(t *testing.T) {
	h := newHarness()
	pos := h.openPosition(t, "mint-p", 100, 90, 120, 10)

	h.feed.setPrice("mint-p", 125)
	h.monitor.RunRound(context.Background())

	closedAt, _ := h.store.GetByID(context.Background(), pos.ID)
	if !closedAt.Status.Terminal() {
		t.Fatalf("Status = %v, want terminal", closedAt.Status)
	}

	// Further rounds see an empty book and never touch the record.
	h.feed.setPrice("mint-p", 10)
	h.monitor.RunRound(context.Background())
	after, _ := h.store.GetByID(context.Background(), pos.ID)
	if after.Exit.Price != closedAt.Exit.Price || after.Status != closedAt.Status {
		t.Fatal("terminal position mutated by a later round")
	}
}
