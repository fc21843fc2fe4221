package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

type topicBus struct {
	mu     sync.Mutex
	topics map[string]chan []byte
}

func newTopicBus() *topicBus {
	return &topicBus{topics: make(map[string]chan []byte)}
}

func (b *topicBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	ch, ok := b.topics[topic]
	b.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (b *topicBus) Subscribe(_ context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.topics[topic] = ch
	return ch, nil
}

func (b *topicBus) StreamAppend(context.Context, string, []byte) error { return nil }

type recordingEngine struct {
	mu       sync.Mutex
	entries  []domain.TradeSignal
	closes   []string
	closeErr error
}

func (e *recordingEngine) SubmitEntry(_ context.Context, sig domain.TradeSignal) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, sig)
	return domain.Position{ID: "pos-1", Mint: sig.Mint, Quantity: sig.Quantity}, nil
}

func (e *recordingEngine) ClosePosition(_ context.Context, id string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes = append(e.closes, id)
	if e.closeErr != nil {
		return domain.Position{}, e.closeErr
	}
	return domain.Position{ID: id, Mint: "mint-a"}, nil
}

func (e *recordingEngine) closedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.closes...)
}

func (e *recordingEngine) entryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startFeeder(t *testing.T, bus *topicBus, eng *recordingEngine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	feeder := NewSignalFeeder(bus, eng, slog.Default())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feeder.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Both subscriptions are live before Run's started log, so wait for them.
	waitFor(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.topics) == 2
	})
	return cancel
}

func TestSignalFeederSubmitsEntrySignals(t *testing.T) {
	bus := newTopicBus()
	eng := &recordingEngine{}
	startFeeder(t, bus, eng)

	payload, _ := json.Marshal(map[string]any{
		"mint":        "mint-a",
		"price":       1.5,
		"quantity":    100.0,
		"confidence":  0.9,
		"stop_loss":   1.2,
		"take_profit": 2.0,
	})
	if err := bus.Publish(context.Background(), domain.TopicEntrySignals, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return eng.entryCount() == 1 })

	eng.mu.Lock()
	sig := eng.entries[0]
	eng.mu.Unlock()
	if sig.Kind != domain.SignalKindEntry {
		t.Errorf("kind = %q, want %q", sig.Kind, domain.SignalKindEntry)
	}
	if sig.Mint != "mint-a" || sig.Price != 1.5 || sig.Quantity != 100 {
		t.Errorf("signal fields = %+v", sig)
	}
	if sig.StopLoss != 1.2 || sig.TakeProfit != 2.0 || sig.Confidence != 0.9 {
		t.Errorf("signal levels = %+v", sig)
	}
}

func TestSignalFeederRoutesExitSignals(t *testing.T) {
	bus := newTopicBus()
	eng := &recordingEngine{}
	startFeeder(t, bus, eng)

	ctx := context.Background()
	// Garbage and blank ids are dropped without stalling the channel.
	if err := bus.Publish(ctx, domain.TopicExitSignals, []byte("{not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.TopicExitSignals, []byte(`{"position_id":""}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.TopicExitSignals, []byte(`{"position_id":"pos-9"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(eng.closedIDs()) == 1 })
	if ids := eng.closedIDs(); ids[0] != "pos-9" {
		t.Fatalf("closed id = %q, want %q", ids[0], "pos-9")
	}
}

func TestSignalFeederSurvivesRejectedClose(t *testing.T) {
	bus := newTopicBus()
	eng := &recordingEngine{closeErr: fmt.Errorf("engine: close position: %w", domain.ErrNotFound)}
	startFeeder(t, bus, eng)

	ctx := context.Background()
	if err := bus.Publish(ctx, domain.TopicExitSignals, []byte(`{"position_id":"gone"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.TopicExitSignals, []byte(`{"position_id":"also-gone"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return len(eng.closedIDs()) == 2 })
}
