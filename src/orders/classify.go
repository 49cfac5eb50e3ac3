package orders

import (
	"tradeterm/src/model"
)

// Classification methods, reported for logging and tests.
const (
	methodExplicit  = "explicit"
	methodTrigger   = "trigger-direction"
	methodEntry     = "entry-compare"
	methodEmptySlot = "empty-slot"
)

// Classify labels one stop-style order as stop-loss or take-profit.
//
// Priority:
//  1. an explicit exchange-reported type flag;
//  2. the trigger direction combined with the close direction (a sell stop
//     closes a long, a buy stop closes a short);
//  3. trigger price vs. the position's average entry;
//  4. whichever of the SL/TP slots is still empty. This last resort is a
//     known imprecision kept for ambiguous snapshots (no direction flag, no
//     trigger condition, no position yet), not a guaranteed classification.
//
// Pure function: the per-id cache that makes labels sticky lives in the
// Reconciler, not here.
func Classify(stop model.StopOrder, pos model.Position, hasSL, hasTP bool) (kind model.StopKind, explicit bool, method string) {
	if stop.TypeHint != model.StopKindUnknown {
		return stop.TypeHint, true, methodExplicit
	}

	if stop.TriggerDirection != 0 {
		// Sell stop closes a long: triggering on a fall is a loss being
		// cut, triggering on a rise is profit being taken. Mirrored for a
		// buy stop closing a short.
		fallingTrigger := stop.TriggerDirection < 0
		if stop.Side == model.SideSell {
			if fallingTrigger {
				return model.StopKindStopLoss, false, methodTrigger
			}
			return model.StopKindTakeProfit, false, methodTrigger
		}
		if fallingTrigger {
			return model.StopKindTakeProfit, false, methodTrigger
		}
		return model.StopKindStopLoss, false, methodTrigger
	}

	if pos.HasPosition && stop.TriggerPrice > 0 && stop.TriggerPrice != pos.EntryPrice {
		below := stop.TriggerPrice < pos.EntryPrice
		if pos.Side == model.SideBuy {
			if below {
				return model.StopKindStopLoss, false, methodEntry
			}
			return model.StopKindTakeProfit, false, methodEntry
		}
		if below {
			return model.StopKindTakeProfit, false, methodEntry
		}
		return model.StopKindStopLoss, false, methodEntry
	}

	if !hasSL {
		return model.StopKindStopLoss, false, methodEmptySlot
	}
	if !hasTP {
		return model.StopKindTakeProfit, false, methodEmptySlot
	}
	return model.StopKindStopLoss, false, methodEmptySlot
}
