package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

type chanBus struct {
	mu     sync.Mutex
	topics map[string]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{topics: make(map[string]chan []byte)}
}

func (b *chanBus) channel(topic string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan []byte, 16)
		b.topics[topic] = ch
	}
	return ch
}

func (b *chanBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.channel(topic) <- payload
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return b.channel(topic), nil
}

func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+"|"+message)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestRelayForwardsFilteredEvents(t *testing.T) {
	bus := newChanBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, []string{"position_closed", "trade_failed"}, slog.Default())
	relay := NewRelay(bus, notifier, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	// Give the subscriptions a moment to attach.
	time.Sleep(20 * time.Millisecond)

	closed, _ := json.Marshal(domain.PositionEvent{
		Event:       "position_closed",
		Mint:        "MintA",
		ExitPrice:   1.3,
		RealizedPnL: 30,
		Reason:      "takeProfit",
	})
	bus.Publish(ctx, domain.TopicPositionClosed, closed)

	// Filtered out by the allowed set.
	opened, _ := json.Marshal(domain.PositionEvent{Event: "position_opened", Mint: "MintB"})
	bus.Publish(ctx, domain.TopicPositionOpened, opened)

	failed, _ := json.Marshal(domain.TradeFailedEvent{
		Event:  "trade_failed",
		Mint:   "MintC",
		Side:   "exit",
		Reason: "insufficient liquidity",
	})
	bus.Publish(ctx, domain.TopicTradeFailed, failed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sender.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := sender.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", len(sent), sent)
	}
	if !strings.Contains(sent[0]+sent[1], "MintA") {
		t.Errorf("close notification missing mint: %v", sent)
	}
	if !strings.Contains(sent[0]+sent[1], "insufficient liquidity") {
		t.Errorf("failure notification missing reason: %v", sent)
	}
	for _, s := range sent {
		if strings.Contains(s, "MintB") {
			t.Errorf("filtered event was delivered: %s", s)
		}
	}
}

func TestRelayDropsMalformedPayloads(t *testing.T) {
	bus := newChanBus()
	sender := &recordingSender{}
	notifier := NewNotifier([]Sender{sender}, nil, slog.Default())
	relay := NewRelay(bus, notifier, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(ctx, domain.TopicPositionClosed, []byte("{not json"))
	time.Sleep(50 * time.Millisecond)

	if got := sender.snapshot(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %v", got)
	}
}
