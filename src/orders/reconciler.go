// Package orders keeps the local view of resting and stop-style orders in
// sync with polled or streamed exchange snapshots, and labels reduce-only
// trigger orders as stop-loss or take-profit with a sticky per-id cache.
package orders

import (
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeterm/src/events"
	"tradeterm/src/model"
)

// Kind-cache eviction thresholds: sweep only once the cache is large, and
// only entries that are old and were never explicitly typed.
const (
	kindCacheSweepSize = 512
	kindCacheMaxAge    = 30 * time.Minute
)

// LiveOrder is one order from a fresh exchange snapshot. Reduce-only orders
// carrying a trigger price are stop-style and never appear in the resting
// marker set.
type LiveOrder struct {
	OrderID          string
	Symbol           string
	Side             model.Side
	Price            float64
	Remaining        float64
	ReduceOnly       bool
	TriggerPrice     float64
	TriggerDirection int
	TypeHint         model.StopKind
	CreatedAt        time.Time
}

func (o LiveOrder) stopStyle() bool { return o.ReduceOnly && o.TriggerPrice > 0 }

// StopCanceler issues a best-effort cancel of a duplicate stop order. The
// session wires this to the profile's REST client.
type StopCanceler interface {
	CancelStop(symbol, orderID string)
}

// Reconciler owns the cached order state for one profile.
type Reconciler struct {
	profile  model.ExchangeProfile
	bus      *events.Bus
	canceler StopCanceler

	mu            sync.Mutex
	resting       map[string]map[string]model.OrderRecord // symbol -> id
	stops         map[string]map[string]model.StopOrder   // symbol -> id
	kinds         map[string]model.StopKindInfo           // order id
	pendingCancel map[string]struct{}
}

func NewReconciler(profile model.ExchangeProfile, bus *events.Bus, canceler StopCanceler) *Reconciler {
	return &Reconciler{
		profile:       profile,
		bus:           bus,
		canceler:      canceler,
		resting:       make(map[string]map[string]model.OrderRecord),
		stops:         make(map[string]map[string]model.StopOrder),
		kinds:         make(map[string]model.StopKindInfo),
		pendingCancel: make(map[string]struct{}),
	}
}

// Sync diffs a fresh snapshot of live orders for symbol against the cached
// set. Cached orders absent from the snapshot are reported canceled with
// their last known side and price; present orders are upserted. Stop-style
// orders are classified and reported separately from resting markers.
func (r *Reconciler) Sync(symbol string, live []LiveOrder, pos model.Position) {
	r.mu.Lock()

	freshResting := make(map[string]model.OrderRecord)
	freshStops := make(map[string]model.StopOrder)
	for _, o := range live {
		if o.stopStyle() {
			freshStops[o.OrderID] = model.StopOrder{
				OrderID:          o.OrderID,
				Symbol:           symbol,
				Side:             o.Side,
				TriggerPrice:     o.TriggerPrice,
				TriggerDirection: o.TriggerDirection,
				TypeHint:         o.TypeHint,
				CreatedAt:        o.CreatedAt,
			}
			continue
		}
		freshResting[o.OrderID] = model.OrderRecord{
			OrderID:   o.OrderID,
			Symbol:    symbol,
			Side:      o.Side,
			Price:     o.Price,
			Remaining: o.Remaining,
			CreatedAt: o.CreatedAt,
		}
	}

	var canceled []model.OrderRecord
	for id, cached := range r.resting[symbol] {
		if _, ok := freshResting[id]; !ok {
			canceled = append(canceled, cached)
		}
	}
	for id := range r.stops[symbol] {
		if _, ok := freshStops[id]; !ok {
			delete(r.pendingCancel, id)
		}
	}
	r.resting[symbol] = freshResting
	r.stops[symbol] = freshStops

	slStop, tpStop, cancelDupes := r.classifyLocked(symbol, freshStops, pos)
	r.evictKindsLocked()

	markers := markersOf(freshResting)
	r.mu.Unlock()

	for _, dupe := range cancelDupes {
		logger.WithFields(logger.Fields{
			"profile":  r.profile,
			"symbol":   symbol,
			"order_id": dupe,
		}).Warn("canceling duplicate stop order")
		if r.canceler != nil {
			r.canceler.CancelStop(symbol, dupe)
		}
	}

	if r.bus != nil {
		for _, c := range canceled {
			r.bus.OrderCanceled(r.profile, symbol, c.Side, c.Price, c.OrderID)
		}
		r.bus.LocalOrdersUpdated(r.profile, symbol, markers)
		hasSL := slStop != nil
		hasTP := tpStop != nil
		var slPrice, tpPrice float64
		if hasSL {
			slPrice = slStop.TriggerPrice
		}
		if hasTP {
			tpPrice = tpStop.TriggerPrice
		}
		r.bus.StopOrdersUpdated(r.profile, symbol, hasSL, slPrice, hasTP, tpPrice)
	}
}

// classifyLocked labels every live stop, resolves duplicates per kind by
// keeping the most recently created, and returns the surviving SL/TP plus
// the ids to cancel. Caller must hold r.mu.
func (r *Reconciler) classifyLocked(symbol string, stops map[string]model.StopOrder, pos model.Position) (sl, tp *model.StopOrder, cancel []string) {
	now := time.Now()

	// Stable iteration: classify older orders first so the empty-slot
	// fallback behaves the same on every snapshot.
	ordered := make([]model.StopOrder, 0, len(stops))
	for _, s := range stops {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].OrderID < ordered[j].OrderID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	byKind := map[model.StopKind][]model.StopOrder{}
	hasSL, hasTP := false, false
	for _, s := range ordered {
		kind, explicit, method := Classify(s, pos, hasSL, hasTP)

		if cached, ok := r.kinds[s.OrderID]; ok {
			// The cache is authoritative for this id; only a fresh
			// explicit flag may overrule an inferred label.
			if !explicit || cached.Explicit {
				kind = cached.Kind
				explicit = cached.Explicit
			}
		} else if method == methodEmptySlot {
			logger.WithFields(logger.Fields{
				"profile":  r.profile,
				"symbol":   symbol,
				"order_id": s.OrderID,
				"kind":     kind,
			}).Warn("stop order classified by empty-slot fallback")
		}

		r.kinds[s.OrderID] = model.StopKindInfo{Kind: kind, Explicit: explicit, LastSeen: now}
		byKind[kind] = append(byKind[kind], s)
		switch kind {
		case model.StopKindStopLoss:
			hasSL = true
		case model.StopKindTakeProfit:
			hasTP = true
		}
	}

	pick := func(kind model.StopKind) *model.StopOrder {
		group := byKind[kind]
		if len(group) == 0 {
			return nil
		}
		newest := group[0]
		for _, s := range group[1:] {
			if s.CreatedAt.After(newest.CreatedAt) {
				newest = s
			}
		}
		for _, s := range group {
			if s.OrderID == newest.OrderID {
				continue
			}
			if _, pending := r.pendingCancel[s.OrderID]; pending {
				continue
			}
			r.pendingCancel[s.OrderID] = struct{}{}
			cancel = append(cancel, s.OrderID)
		}
		return &newest
	}

	sl = pick(model.StopKindStopLoss)
	tp = pick(model.StopKindTakeProfit)
	return sl, tp, cancel
}

// evictKindsLocked drops old, never-explicit cache entries once the cache is
// large. Caller must hold r.mu.
func (r *Reconciler) evictKindsLocked() {
	if len(r.kinds) <= kindCacheSweepSize {
		return
	}
	cutoff := time.Now().Add(-kindCacheMaxAge)
	evicted := 0
	for id, info := range r.kinds {
		if !info.Explicit && info.LastSeen.Before(cutoff) {
			delete(r.kinds, id)
			evicted++
		}
	}
	if evicted > 0 {
		logger.WithFields(logger.Fields{
			"profile": r.profile,
			"evicted": evicted,
			"size":    len(r.kinds),
		}).Debug("swept stop-kind cache")
	}
}

func markersOf(resting map[string]model.OrderRecord) []model.OrderMarker {
	markers := make([]model.OrderMarker, 0, len(resting))
	for _, o := range resting {
		markers = append(markers, model.OrderMarker{
			OrderID: o.OrderID,
			Side:    o.Side,
			Price:   o.Price,
			Qty:     o.Remaining,
		})
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].Price < markers[j].Price })
	return markers
}

// Resting returns the cached resting orders for symbol.
func (r *Reconciler) Resting(symbol string) []model.OrderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.OrderRecord, 0, len(r.resting[symbol]))
	for _, o := range r.resting[symbol] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// StopOfKind returns the live stop order for symbol currently labeled kind.
// With duplicates present it returns the newest, matching the survivor of the
// duplicate sweep.
func (r *Reconciler) StopOfKind(symbol string, kind model.StopKind) (model.StopOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newest model.StopOrder
	found := false
	for id, s := range r.stops[symbol] {
		info, ok := r.kinds[id]
		if !ok || info.Kind != kind {
			continue
		}
		if !found || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
			found = true
		}
	}
	return newest, found
}

// KindOf reports the cached classification for an order id.
func (r *Reconciler) KindOf(orderID string) (model.StopKindInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.kinds[orderID]
	return info, ok
}

// Forget drops all cached state for symbol, used on disconnect so the next
// session starts from a clean snapshot. The kind cache survives: labels stay
// stable across reconnects.
func (r *Reconciler) Forget(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resting, symbol)
	for id := range r.stops[symbol] {
		delete(r.pendingCancel, id)
	}
	delete(r.stops, symbol)
}
