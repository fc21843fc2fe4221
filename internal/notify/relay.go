package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/solwatch/internal/domain"
)

// topicEventNames maps bus topics to the event names used in the notify
// filter configuration.
var topicEventNames = map[string]string{
	domain.TopicPositionOpened:      "position_opened",
	domain.TopicPositionUpdated:     "position_updated",
	domain.TopicPositionClosed:      "position_closed",
	domain.TopicPositionForceClosed: "position_force_closed",
	domain.TopicTradeFailed:         "trade_failed",
}

// Relay subscribes to the lifecycle topics and forwards each event to the
// Notifier as a formatted message.
type Relay struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes every lifecycle topic until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for topic, event := range topicEventNames {
		topic, event := topic, event
		g.Go(func() error {
			return r.consume(ctx, topic, event)
		})
	}
	r.logger.Info("notify relay started")
	defer r.logger.Info("notify relay stopped")
	return g.Wait()
}

func (r *Relay) consume(ctx context.Context, topic, event string) error {
	ch, err := r.bus.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			title, message := r.format(event, data)
			if title == "" {
				continue
			}
			if err := r.notifier.Notify(ctx, event, title, message); err != nil {
				r.logger.Warn("notify failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// format renders an event payload into a title and body. Unknown or
// malformed payloads yield an empty title and are dropped.
func (r *Relay) format(event string, data []byte) (string, string) {
	if event == "trade_failed" {
		var ev domain.TradeFailedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", ""
		}
		return "Trade failed",
			fmt.Sprintf("%s %s %.4f @ %.6f\n%s", ev.Side, ev.Mint, ev.Quantity, ev.Price, ev.Reason)
	}

	var ev domain.PositionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", ""
	}

	switch event {
	case "position_opened":
		return "Position opened",
			fmt.Sprintf("%s %.4f @ %.6f\nstop %.6f / target %.6f",
				ev.Mint, ev.Quantity, ev.EntryPrice, ev.StopLoss, ev.TakeProfit)
	case "position_updated":
		return "Position levels updated",
			fmt.Sprintf("%s @ %.6f\nstop %.6f / target %.6f\nunrealized %+.2f",
				ev.Mint, ev.CurrentPrice, ev.StopLoss, ev.TakeProfit, ev.UnrealizedPnL)
	case "position_closed":
		return "Position closed",
			fmt.Sprintf("%s exit @ %.6f (%s)\nrealized %+.2f",
				ev.Mint, ev.ExitPrice, ev.Reason, ev.RealizedPnL)
	case "position_force_closed":
		return "Position force-closed",
			fmt.Sprintf("%s marked closed @ %.6f without execution\nrealized %+.2f",
				ev.Mint, ev.ExitPrice, ev.RealizedPnL)
	}
	return "", ""
}
