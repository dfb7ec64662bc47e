package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/pkg/advisory"
	"perpcore/pkg/exchange"
	"perpcore/pkg/store"
)

// Exit reasons recorded in lessons.
const (
	ExitManual     = "manual"
	ExitMaxHold    = "max_hold"
	ExitExchange   = "closed_on_exchange"
	ExitAdvisory   = "advisory"
	ExitGlobalStop = "global_stop"
)

// Lesson is the post-trade record appended on every full close.
type Lesson struct {
	Strategy   string        `json:"strategy"`
	PositionID string        `json:"position_id"`
	Symbol     string        `json:"symbol"`
	Side       advisory.Side `json:"side"`
	Entry      float64       `json:"entry"`
	Exit       float64       `json:"exit"`
	PnL        float64       `json:"pnl"`
	PnLPct     float64       `json:"pnl_pct"`
	Held       string        `json:"held"`
	Rationale  string        `json:"rationale,omitempty"`
	ExitReason string        `json:"exit_reason"`
	Summary    string        `json:"summary"`
	At         time.Time     `json:"at"`
}

// Close fully closes a position.
func (s *Strategy) Close(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if reason == "" {
		reason = ExitManual
	}
	return s.reduceLocked(ctx, pos, 1, reason)
}

// PartialClose closes fraction (0,1] of a position.
func (s *Strategy) PartialClose(ctx context.Context, id string, fraction float64) error {
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("lifecycle: close fraction %.4f outside (0,1]", fraction)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	return s.reduceLocked(ctx, pos, fraction, ExitManual)
}

// MoveStop relocates the protective stop.
func (s *Strategy) MoveStop(ctx context.Context, id string, stop float64) error {
	if stop <= 0 {
		return fmt.Errorf("%w: %.4f is not positive", ErrInvalidStop, stop)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if (pos.Long() && stop >= pos.TakeProfit) || (!pos.Long() && stop <= pos.TakeProfit) {
		return fmt.Errorf("%w: %.4f is beyond target %.4f", ErrInvalidStop, stop, pos.TakeProfit)
	}
	qty, err := s.reconcileLocked(ctx, pos)
	if err != nil {
		return err
	}
	s.cancelTrigger(ctx, pos.Symbol, pos.StopOrderID)
	pos.StopLoss = stop
	pos.Size = qty
	pos.StopOrderID = s.placeTrigger(ctx, pos, stop, exchange.TriggerStopLoss)
	s.persistLocked(ctx)
	s.publishLocked()
	logx.WithContext(ctx).Infof("lifecycle: %s moved %s stop to %.4f", s.policy.Name, pos.Symbol, stop)
	return nil
}

// Manage applies an advisory position-management response to this
// strategy's position on the named symbol.
func (s *Strategy) Manage(ctx context.Context, m advisory.ManagePosition) error {
	id, ok := s.positionFor(exchange.Canonical(m.Symbol))
	if !ok {
		return ErrPositionNotFound
	}
	switch m.Action {
	case advisory.ActionHold:
		return nil
	case advisory.ActionClose:
		return s.Close(ctx, id, ExitAdvisory)
	case advisory.ActionPartialClose:
		return s.PartialClose(ctx, id, m.ClosePct)
	case advisory.ActionMoveStop:
		return s.MoveStop(ctx, id, m.NewStop)
	}
	return fmt.Errorf("lifecycle: unknown action %q", m.Action)
}

func (s *Strategy) positionFor(symbol string) (string, bool) {
	for _, p := range s.View().Positions {
		if p.Symbol == symbol {
			return p.ID, true
		}
	}
	return "", false
}

// reconcileLocked re-reads the venue size before a mutating action. A flat
// venue means the local record is stale: it is removed, the outcome is
// booked and ErrStalePosition is returned. Otherwise the operative
// quantity is min(local, actual).
func (s *Strategy) reconcileLocked(ctx context.Context, pos *Position) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	venue, err := s.ex.GetPositions(callCtx)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: reconcile %s: %w", pos.Symbol, err)
	}
	actual := venueSize(venue, pos)
	if actual <= 0 {
		logx.WithContext(ctx).Infof("lifecycle: %s %s position %s is flat on the exchange, removing", s.policy.Name, pos.Symbol, pos.ID)
		s.finishLocked(ctx, pos, s.exitPrice(ctx, pos), pos.Size, ExitExchange)
		return 0, ErrStalePosition
	}
	if actual < pos.Size {
		logx.WithContext(ctx).Infof("lifecycle: %s %s local size %.6f exceeds venue %.6f, using venue",
			s.policy.Name, pos.Symbol, pos.Size, actual)
		pos.Size = actual
		s.persistLocked(ctx)
		s.publishLocked()
	}
	return math.Min(pos.Size, actual), nil
}

// venueSize is the venue quantity on the position's side.
func venueSize(venue []exchange.Position, pos *Position) float64 {
	return sideSize(venue, pos.Symbol, pos.Long())
}

// sideSize is the unsigned venue quantity of symbol held on one side.
func sideSize(venue []exchange.Position, symbol string, long bool) float64 {
	want := exchange.Canonical(symbol)
	for _, v := range venue {
		if exchange.Canonical(v.Symbol) != want {
			continue
		}
		if (long && v.Size > 0) || (!long && v.Size < 0) {
			return v.AbsSize()
		}
	}
	return 0
}

func venueEntry(venue []exchange.Position, symbol string) float64 {
	want := exchange.Canonical(symbol)
	for _, v := range venue {
		if exchange.Canonical(v.Symbol) == want {
			return v.EntryPrice
		}
	}
	return 0
}

// reduceLocked closes fraction of pos after reconciliation. A stale
// position is reported as closed, not as a failure.
func (s *Strategy) reduceLocked(ctx context.Context, pos *Position, fraction float64, reason string) error {
	qty, err := s.reconcileLocked(ctx, pos)
	if errors.Is(err, ErrStalePosition) {
		return nil
	}
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	closeQty := qty
	if fraction < 1 {
		decimals, err := s.ex.GetSzDecimals(callCtx, pos.Symbol)
		if err != nil {
			return fmt.Errorf("lifecycle: size decimals for %s: %w", pos.Symbol, err)
		}
		closeQty = exchange.RoundSize(qty*fraction, decimals)
		if closeQty <= 0 {
			return fmt.Errorf("lifecycle: partial close of %.6f %s rounds to zero", qty, pos.Symbol)
		}
	}
	res, err := s.ex.PlaceOrder(callCtx, exchange.OrderSpec{
		Symbol:     pos.Symbol,
		IsBuy:      !pos.Long(),
		Size:       closeQty,
		ReduceOnly: true,
		ClientID:   pos.ID,
	})
	if err != nil {
		return fmt.Errorf("lifecycle: close %s: %w", pos.Symbol, err)
	}
	if !res.Filled {
		return fmt.Errorf("lifecycle: close %s not filled: %s", pos.Symbol, res.Error)
	}
	filled := closeQty
	if res.FilledSize > 0 {
		filled = res.FilledSize
	}
	exit := res.AvgPrice
	if exit <= 0 {
		exit = s.exitPrice(ctx, pos)
	}

	if filled >= qty-1e-12 {
		s.cancelTrigger(ctx, pos.Symbol, pos.StopOrderID)
		s.cancelTrigger(ctx, pos.Symbol, pos.TargetOrderID)
		s.finishLocked(ctx, pos, exit, filled, reason)
		return nil
	}

	pnl := pos.PnL(exit, filled)
	s.stats.realize(pnl)
	pos.Size = qty - filled
	s.cancelTrigger(ctx, pos.Symbol, pos.StopOrderID)
	s.cancelTrigger(ctx, pos.Symbol, pos.TargetOrderID)
	s.attachTriggers(ctx, pos)
	s.persistLocked(ctx)
	s.publishLocked()
	logx.WithContext(ctx).Infof("lifecycle: %s reduced %s by %.6f @ %.4f, %.6f left", s.policy.Name, pos.Symbol, filled, exit, pos.Size)
	return nil
}

// finishLocked books a full close: stats, loss ladder, cooldown outcome and
// the lesson log.
func (s *Strategy) finishLocked(ctx context.Context, pos *Position, exit, qty float64, reason string) {
	now := s.clock()
	pnl := pos.PnL(exit, qty)

	delete(s.positions, pos.ID)
	s.stats.rollDay(dayKey(now))
	s.stats.realize(pnl)
	s.stats.Trades++
	s.stats.LastTradeAt = now
	// A flat result, including a stale close priced at entry, moves neither
	// streak.
	if pnl != 0 {
		won := pnl > 0
		if won {
			s.stats.Wins++
			s.stats.ConsecutiveLosses = 0
		} else {
			s.stats.Losses++
			s.stats.ConsecutiveLosses++
		}
		if s.limiter != nil {
			s.limiter.RecordOutcome(ctx, won)
		}
		s.escalate(ctx, won, now)
	}

	held := now.Sub(pos.OpenedAt).Round(time.Minute)
	pct := pos.PnLPct(exit)
	s.appendLog(ctx, store.KindLesson, pos.Symbol, Lesson{
		Strategy:   s.policy.Name,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Entry:      pos.Entry,
		Exit:       exit,
		PnL:        pnl,
		PnLPct:     pct,
		Held:       held.String(),
		Rationale:  pos.Rationale,
		ExitReason: reason,
		Summary: fmt.Sprintf("%s %s %s %+.2f%% after %s (%s)",
			s.policy.Name, pos.Side, pos.Symbol, pct, held, reason),
		At: now,
	})
	s.persistLocked(ctx)
	s.publishLocked()
	s.observeOpen()
	if s.observer != nil {
		s.observer.TradeClosed(s.policy.Name, pnl)
	}
	logx.WithContext(ctx).Infof("lifecycle: %s closed %s %s @ %.4f pnl %.2f (%s)", s.policy.Name, pos.Side, pos.Symbol, exit, pnl, reason)
}

// escalate applies the loss ladder: reduced size at Losses, a timed pause
// at Losses+1, full size again after a win.
func (s *Strategy) escalate(ctx context.Context, won bool, now time.Time) {
	ladder := s.policy.Ladder
	s.ctlMu.Lock()
	var pause bool
	switch n := s.stats.ConsecutiveLosses; {
	case won:
		s.control.SizeMultiplier = 1
	case n >= ladder.Losses+1:
		s.control.SizeMultiplier = ladder.SizeMultiplier
		s.control.State = StatePaused
		s.control.Reason = fmt.Sprintf("%d consecutive losses", n)
		s.control.PausedUntil = time.Time{}
		if ladder.PauseFor > 0 {
			s.control.PausedUntil = now.Add(ladder.PauseFor)
		}
		pause = true
	case n >= ladder.Losses:
		s.control.SizeMultiplier = ladder.SizeMultiplier
	}
	ctl := s.control
	s.ctlMu.Unlock()
	s.saveControl(ctx, ctl)
	if pause {
		s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] paused after %s, resuming %s at size x%.2f",
			s.policy.Name, ctl.Reason, resumeText(ctl.PausedUntil), ctl.SizeMultiplier))
	}
}

func resumeText(until time.Time) string {
	if until.IsZero() {
		return "manually"
	}
	return until.UTC().Format(time.RFC3339)
}

// exitPrice estimates the fill of a close the strategy did not place.
func (s *Strategy) exitPrice(ctx context.Context, pos *Position) float64 {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	mids, err := s.ex.GetAllMidPrices(callCtx)
	if err == nil {
		if px := mids[exchange.Canonical(pos.Symbol)]; px > 0 {
			return px
		}
	}
	if err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: mids for %s exit: %v", pos.Symbol, err)
	}
	return pos.Entry
}

// Tick runs the periodic housekeeping: daily roll, timed resume, proposal
// expiry, detection of positions closed by triggers and the max-hold
// forced close.
func (s *Strategy) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()

	changed := s.stats.rollDay(dayKey(now))
	s.resumeIfDue(ctx, now)

	for _, p := range s.proposals {
		if p.expired(now) {
			_ = p.transition(StatusExpired, "expired", now)
			delete(s.proposals, p.ID)
			s.appendLog(ctx, store.KindProposal, p.Symbol, p)
			changed = true
			logx.WithContext(ctx).Infof("lifecycle: %s proposal %s expired", s.policy.Name, p.ID)
		}
	}
	if changed {
		s.persistLocked(ctx)
		s.publishLocked()
	}
	if len(s.positions) == 0 {
		return
	}
	s.sweepClosedLocked(ctx)
	if s.policy.MaxHold > 0 {
		s.forceCloseLocked(ctx, now)
	}
}

func (s *Strategy) resumeIfDue(ctx context.Context, now time.Time) {
	s.ctlMu.Lock()
	due := s.control.State == StatePaused && !s.control.PausedUntil.IsZero() && !now.Before(s.control.PausedUntil)
	s.ctlMu.Unlock()
	if due {
		s.Resume(ctx)
	}
}

// sweepClosedLocked books positions a trigger order already closed.
func (s *Strategy) sweepClosedLocked(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	venue, err := s.ex.GetPositions(callCtx)
	cancel()
	if err != nil {
		logx.WithContext(ctx).Errorf("lifecycle: %s position sweep: %v", s.policy.Name, err)
		return
	}
	for _, pos := range s.sortedPositions() {
		if venueSize(venue, pos) <= 0 {
			logx.WithContext(ctx).Infof("lifecycle: %s %s closed on the exchange", s.policy.Name, pos.Symbol)
			s.finishLocked(ctx, pos, s.triggerExit(ctx, pos), pos.Size, ExitExchange)
		}
	}
}

// triggerExit guesses which trigger filled from the current mid.
func (s *Strategy) triggerExit(ctx context.Context, pos *Position) float64 {
	mid := s.exitPrice(ctx, pos)
	switch {
	case pos.Long() && pos.StopLoss > 0 && mid <= pos.StopLoss,
		!pos.Long() && pos.StopLoss > 0 && mid >= pos.StopLoss:
		return pos.StopLoss
	case pos.Long() && pos.TakeProfit > 0 && mid >= pos.TakeProfit,
		!pos.Long() && pos.TakeProfit > 0 && mid <= pos.TakeProfit:
		return pos.TakeProfit
	}
	return mid
}

// forceCloseLocked closes positions held past MaxHold. Each failed attempt
// is counted on the position; after MaxCloseAttempts the position is
// flagged, the operator is alerted once and no further attempts are made.
func (s *Strategy) forceCloseLocked(ctx context.Context, now time.Time) {
	for _, pos := range s.sortedPositions() {
		if pos.Flagged || now.Sub(pos.OpenedAt) < s.policy.MaxHold {
			continue
		}
		err := s.reduceLocked(ctx, pos, 1, ExitMaxHold)
		if err == nil {
			continue
		}
		pos.CloseAttempts++
		pos.LastCloseError = err.Error()
		logx.WithContext(ctx).Errorf("lifecycle: %s force close %s attempt %d/%d: %v",
			s.policy.Name, pos.Symbol, pos.CloseAttempts, MaxCloseAttempts, err)
		if pos.CloseAttempts >= MaxCloseAttempts {
			pos.Flagged = true
			if s.observer != nil {
				s.observer.ForceCloseFailed(s.policy.Name)
			}
			s.alerts.SendAlert(ctx, fmt.Sprintf("[%s] ACTION REQUIRED: force close of %s %s position %s failed %d times, left open: %v",
				s.policy.Name, pos.Side, pos.Symbol, pos.ID, pos.CloseAttempts, err))
		}
		s.persistLocked(ctx)
		s.publishLocked()
	}
}

// CloseAll closes every position, used by the global stop.
func (s *Strategy) CloseAll(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, pos := range s.sortedPositions() {
		if err := s.reduceLocked(ctx, pos, 1, reason); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.Symbol, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Strategy) sortedPositions() []*Position {
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}
