package risk

import (
	"math"

	"github.com/solwatch/solwatch/internal/domain"
)

// ActionType enumerates what the evaluator wants done with a position.
type ActionType string

const (
	ActionHold             ActionType = "hold"
	ActionRaiseStopLoss    ActionType = "raise_stop_loss"
	ActionAdjustTakeProfit ActionType = "adjust_take_profit"
	ActionExit             ActionType = "exit"
)

// Action is the evaluator's decision. Level carries the new stop or target
// for the adjustment variants; Reason is set on exits only.
type Action struct {
	Type   ActionType
	Level  float64
	Reason domain.CloseReason
}

// Params are the evaluator tunables. Percent fields are expressed as
// percentages (5 means 5%), distances and multipliers as fractions.
type Params struct {
	TrailingActivationPercent float64 // min pnl% before the trailing stop arms
	TrailingDistance          float64 // stop trails price by this fraction
	VolatilityThreshold       float64 // below this, no target adjustment
	VolatilityTPMultiplier    float64 // target stretch per unit of volatility
}

// Evaluator decides, per position and per fresh price, whether to hold,
// ratchet the stop, stretch the target, or exit. It is a pure function of its
// inputs and keeps no state.
type Evaluator struct {
	params Params
}

func NewEvaluator(params Params) *Evaluator {
	return &Evaluator{params: params}
}

const levelEpsilon = 1e-9

// Evaluate returns exactly one action for the position at the given price.
// Loss protection wins over profit taking: the checks run in priority order
// and the first match decides.
func (e *Evaluator) Evaluate(pos domain.Position, price float64, metrics domain.MarketMetrics) Action {
	if price <= pos.StopLoss {
		return Action{Type: ActionExit, Reason: domain.CloseReasonStopLoss}
	}
	if price >= pos.TakeProfit {
		return Action{Type: ActionExit, Reason: domain.CloseReasonTakeProfit}
	}

	if pos.EntryPrice > 0 {
		pnlPercent := (price - pos.EntryPrice) / pos.EntryPrice * 100
		if pnlPercent >= e.params.TrailingActivationPercent {
			candidate := price * (1 - e.params.TrailingDistance)
			if candidate > pos.StopLoss {
				return Action{Type: ActionRaiseStopLoss, Level: candidate}
			}
		}
	}

	if metrics.Volatility > e.params.VolatilityThreshold && pos.InitialTakeProfit > 0 {
		target := pos.InitialTakeProfit * (1 + metrics.Volatility*e.params.VolatilityTPMultiplier)
		if math.Abs(target-pos.TakeProfit) > levelEpsilon {
			return Action{Type: ActionAdjustTakeProfit, Level: target}
		}
	}

	return Action{Type: ActionHold}
}
