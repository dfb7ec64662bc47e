package regime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"perpcore/pkg/advisory"
	"perpcore/pkg/cooldown"
	"perpcore/pkg/exchange"
	"perpcore/pkg/market"
	"perpcore/pkg/scorer"
	"perpcore/pkg/store"
)

// Cycle names.
const (
	CycleComprehensive = "comprehensive"
	CycleUrgent        = "urgent"
	CycleReview        = "review"
)

// Advisory call outcomes reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
	OutcomeSkipped   = "skipped"
)

// Config controls both cadences.
type Config struct {
	Symbols                []string
	Strategies             []string
	ComprehensiveInterval  time.Duration
	MaxComprehensivePerDay int
	DualAssessment         bool
	UrgentInterval         time.Duration
	MaxUrgentPerDay        int
	UrgentThreshold        float64
	HistoryLimit           int
	// ReviewInterval schedules the lesson review; zero disables it. Reviews
	// draw on the comprehensive budget.
	ReviewInterval time.Duration
}

// SnapshotSource produces the current snapshot per symbol.
type SnapshotSource interface {
	Build(ctx context.Context, symbols []string) (map[string]market.Snapshot, error)
}

// Proposal is an urgent-cycle trade idea handed to the strategies.
type Proposal struct {
	DecisionID string                `json:"decision_id"`
	Trade      advisory.ProposeTrade `json:"trade"`
	Score      scorer.TriggerScore   `json:"score"`
	Regime     Regime                `json:"regime"`
	CreatedAt  time.Time             `json:"created_at"`
}

// ProposalSink receives urgent proposals. The brain never places orders.
type ProposalSink func(ctx context.Context, p Proposal)

// ManageSink applies an urgent position-management response. It returns
// an error when no strategy holds the symbol or the action failed.
type ManageSink func(ctx context.Context, m advisory.ManagePosition) error

// PositionSource lists open positions for prompt context.
type PositionSource func() []advisory.PositionView

// DecisionRecord is the audit entry for one cycle.
type DecisionRecord struct {
	ID            string             `json:"id"`
	Cycle         string             `json:"cycle"`
	Symbol        string             `json:"symbol,omitempty"`
	At            time.Time          `json:"at"`
	PromptDigest  string             `json:"prompt_digest,omitempty"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	Assessments   []Assessment       `json:"assessments,omitempty"`
	Result        *Assessment        `json:"result,omitempty"`
	Response      advisory.Kind      `json:"response,omitempty"`
	TradeResulted bool               `json:"trade_resulted"`
	Error         string             `json:"error,omitempty"`
}

// DecisionPublisher forwards decision records to an external consumer.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, rec DecisionRecord) error
}

// Observer receives call outcomes and the published confidence.
type Observer interface {
	AdvisoryCall(cycle, outcome string)
	RegimeConfidence(v float64)
}

// Brain runs the assessment cycles.
type Brain struct {
	cfg       Config
	transport advisory.Transport
	prompts   *advisory.Prompts
	limiter   *cooldown.Limiter
	source    SnapshotSource
	logs      store.LogStore
	sink      ProposalSink
	manage    ManageSink
	positions PositionSource
	publisher DecisionPublisher
	observer  Observer
	clock     func() time.Time

	holder *Holder

	mu            sync.Mutex
	comprehensive CycleCounters
	urgent        CycleCounters
}

// Option customises a Brain.
type Option func(*Brain)

// WithLogStore appends decisions and narratives to logs.
func WithLogStore(logs store.LogStore) Option { return func(b *Brain) { b.logs = logs } }

// WithProposalSink installs the urgent proposal callback.
func WithProposalSink(sink ProposalSink) Option { return func(b *Brain) { b.sink = sink } }

// WithManageSink installs the position-management callback.
func WithManageSink(sink ManageSink) Option { return func(b *Brain) { b.manage = sink } }

// WithPositionSource feeds open positions into prompts.
func WithPositionSource(src PositionSource) Option { return func(b *Brain) { b.positions = src } }

// WithPublisher forwards decision records.
func WithPublisher(p DecisionPublisher) Option { return func(b *Brain) { b.publisher = p } }

// WithObserver reports call outcomes.
func WithObserver(o Observer) Option { return func(b *Brain) { b.observer = o } }

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(b *Brain) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBrain wires a Brain. transport may be advisory.Noop.
func NewBrain(cfg Config, transport advisory.Transport, prompts *advisory.Prompts, limiter *cooldown.Limiter, source SnapshotSource, opts ...Option) (*Brain, error) {
	if transport == nil {
		transport = advisory.Noop{}
	}
	if prompts == nil {
		return nil, errors.New("regime: prompts are required")
	}
	if limiter == nil {
		return nil, errors.New("regime: cooldown limiter is required")
	}
	if source == nil {
		return nil, errors.New("regime: snapshot source is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	b := &Brain{
		cfg:       cfg,
		transport: transport,
		prompts:   prompts,
		limiter:   limiter,
		source:    source,
		clock:     time.Now,
		holder:    NewHolder(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// State returns the current MarketState. It is never nil.
func (b *Brain) State() *MarketState { return b.holder.Load() }

// Counters returns the comprehensive and urgent counters.
func (b *Brain) Counters() (CycleCounters, CycleCounters) {
	b.mu.Lock()
	defer b.mu.Unlock()
	day := dayKey(b.clock())
	b.comprehensive.roll(day)
	b.urgent.roll(day)
	return b.comprehensive, b.urgent
}

// SetProposalSink installs the sink after construction.
func (b *Brain) SetProposalSink(sink ProposalSink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// SetManageSink installs the position-management callback after construction.
func (b *Brain) SetManageSink(sink ManageSink) {
	b.mu.Lock()
	b.manage = sink
	b.mu.Unlock()
}

// Run drives every cadence until ctx is done.
func (b *Brain) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loop := func(interval time.Duration, run func(context.Context) error, name string) {
		defer wg.Done()
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := run(ctx); err != nil {
				logx.WithContext(ctx).Errorf("regime: %s cycle: %v", name, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
	wg.Add(3)
	threading.GoSafe(func() { loop(b.cfg.ComprehensiveInterval, b.RunComprehensive, CycleComprehensive) })
	threading.GoSafe(func() { loop(b.cfg.UrgentInterval, b.RunUrgent, CycleUrgent) })
	threading.GoSafe(func() { loop(b.cfg.ReviewInterval, b.RunReview, CycleReview) })
	wg.Wait()
}

// RunComprehensive performs one full assessment. Advisory failures leave
// the published state untouched and are not returned.
func (b *Brain) RunComprehensive(ctx context.Context) error {
	now := b.clock()
	snaps, err := b.source.Build(ctx, b.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("regime: build snapshots: %w", err)
	}
	if !b.reserve(CycleComprehensive, now) {
		b.observe(CycleComprehensive, OutcomeSkipped)
		logx.WithContext(ctx).Infof("regime: comprehensive budget of %d reached", b.cfg.MaxComprehensivePerDay)
		return nil
	}
	prev := b.State()
	scores := scoreAll(snaps, prev.Snapshots)

	rec := DecisionRecord{ID: uuid.NewString(), Cycle: CycleComprehensive, At: now, Scores: scoreValues(scores)}
	var views []Assessment

	technicalPrompt, err := b.prompts.Technical.Render(advisory.TechnicalInput{
		Now:        now,
		Strategies: b.cfg.Strategies,
		Symbols:    symbolViews(snaps, scores),
		Positions:  b.openPositions(),
		Previous:   previousSummary(prev),
	})
	if err != nil {
		return fmt.Errorf("regime: render technical prompt: %w", err)
	}
	rec.PromptDigest = b.prompts.Technical.Digest()
	if a, err := b.assess(ctx, technicalPrompt, SourceTechnical, now); err != nil {
		rec.Error = err.Error()
	} else {
		views = append(views, a)
	}

	if b.cfg.DualAssessment {
		macroPrompt, err := b.prompts.Macro.Render(advisory.MacroInput{
			Now:        now,
			Strategies: b.cfg.Strategies,
			Narratives: b.recentTexts(ctx, store.KindNarrative, "text"),
			Lessons:    b.recentTexts(ctx, store.KindLesson, "summary"),
			Previous:   previousSummary(prev),
		})
		if err != nil {
			return fmt.Errorf("regime: render macro prompt: %w", err)
		}
		if a, err := b.assess(ctx, macroPrompt, SourceMacro, now); err != nil {
			rec.Error = joinErr(rec.Error, err.Error())
		} else {
			views = append(views, a)
		}
	}
	rec.Assessments = views

	var result *Assessment
	switch len(views) {
	case 0:
	case 1:
		result = &views[0]
	default:
		merged := Merge(views[0], views[1])
		result = &merged
	}
	rec.Result = result

	if result != nil {
		b.publish(func(s *MarketState) {
			s.apply(*result)
			s.Snapshots = snaps
			s.Scores = scores
		})
		if b.observer != nil {
			b.observer.RegimeConfidence(result.Confidence)
		}
		for _, v := range views {
			if v.Source == SourceMacro {
				b.appendLog(ctx, store.KindNarrative, "", map[string]any{
					"text": v.Reasoning, "regime": v.Regime, "direction": v.Direction, "at": v.At,
				})
			}
		}
		logx.WithContext(ctx).Infof("regime: %s %s risk=%d confidence=%.0f from %d view(s)",
			result.Regime, result.Direction, result.RiskLevel, result.Confidence, len(views))
	}
	b.record(ctx, rec)
	return nil
}

// RunUrgent scores the watch list and asks the advisor about the symbols
// whose score crosses the threshold and whose cooldown allows it.
func (b *Brain) RunUrgent(ctx context.Context) error {
	now := b.clock()
	snaps, err := b.source.Build(ctx, b.cfg.Symbols)
	if err != nil {
		return fmt.Errorf("regime: build snapshots: %w", err)
	}
	prev := b.State()
	scores := scoreAll(snaps, prev.Snapshots)
	defer b.publish(func(s *MarketState) {
		for sym, snap := range snaps {
			s.Snapshots[sym] = snap
		}
		for sym, sc := range scores {
			s.Scores[sym] = sc
		}
	})

	for _, sym := range candidates(scores, b.cfg.UrgentThreshold) {
		if d := b.limiter.CanCallAdvisor(ctx, sym); !d.Allowed {
			logx.WithContext(ctx).Debugf("regime: urgent %s skipped: %s", sym, d.Reason)
			continue
		}
		if !b.reserve(CycleUrgent, now) {
			b.observe(CycleUrgent, OutcomeSkipped)
			logx.WithContext(ctx).Infof("regime: urgent budget of %d reached", b.cfg.MaxUrgentPerDay)
			return nil
		}
		b.limiter.RecordCall(ctx, sym)
		b.urgentCall(ctx, now, sym, snaps[sym], scores[sym], prev)
	}
	return nil
}

// Scan builds and scores one symbol against the cached previous snapshot
// without calling the advisor or touching any budget.
func (b *Brain) Scan(ctx context.Context, symbol string) (market.Snapshot, scorer.TriggerScore, error) {
	sym := exchange.Canonical(symbol)
	snaps, err := b.source.Build(ctx, []string{sym})
	if err != nil {
		return market.Snapshot{}, scorer.TriggerScore{}, fmt.Errorf("regime: scan %s: %w", sym, err)
	}
	snap, ok := snaps[sym]
	if !ok {
		return market.Snapshot{}, scorer.TriggerScore{}, fmt.Errorf("regime: scan %s: no market data", sym)
	}
	var prev *market.Snapshot
	if p, ok := b.State().Snapshot(sym); ok {
		prev = &p
	}
	return snap, scorer.Score(snap, prev), nil
}

func (b *Brain) urgentCall(ctx context.Context, now time.Time, sym string, snap market.Snapshot, score scorer.TriggerScore, st *MarketState) {
	rec := DecisionRecord{
		ID:     uuid.NewString(),
		Cycle:  CycleUrgent,
		Symbol: sym,
		At:     now,
		Scores: map[string]float64{sym: score.Score},
	}
	defer func() { b.record(ctx, rec) }()

	prompt, err := b.prompts.Urgent.Render(advisory.UrgentInput{
		Now:       now,
		Symbol:    advisory.SymbolView{Snapshot: snap, Score: score},
		Regime:    string(st.Regime),
		Direction: string(st.Direction),
		Positions: b.openPositions(),
	})
	if err != nil {
		rec.Error = err.Error()
		logx.WithContext(ctx).Errorf("regime: render urgent prompt for %s: %v", sym, err)
		return
	}
	rec.PromptDigest = b.prompts.Urgent.Digest()

	resp, err := b.call(ctx, CycleUrgent, prompt)
	if err != nil {
		rec.Error = err.Error()
		return
	}
	rec.Response = resp.Kind()
	switch v := resp.(type) {
	case advisory.ProposeTrade:
		if exchange.Canonical(v.Symbol) != exchange.Canonical(sym) {
			rec.Error = fmt.Sprintf("proposal for %s on %s trigger", v.Symbol, sym)
			logx.WithContext(ctx).Errorf("regime: %s", rec.Error)
			return
		}
		v.Symbol = exchange.Canonical(v.Symbol)
		b.mu.Lock()
		sink := b.sink
		b.mu.Unlock()
		if sink == nil {
			logx.WithContext(ctx).Infof("regime: proposal for %s dropped, no sink", sym)
			return
		}
		sink(ctx, Proposal{DecisionID: rec.ID, Trade: v, Score: score, Regime: st.Regime, CreatedAt: now})
		rec.TradeResulted = true
	case advisory.ManagePosition:
		if exchange.Canonical(v.Symbol) != exchange.Canonical(sym) {
			rec.Error = fmt.Sprintf("position action for %s on %s trigger", v.Symbol, sym)
			logx.WithContext(ctx).Errorf("regime: %s", rec.Error)
			return
		}
		v.Symbol = exchange.Canonical(v.Symbol)
		b.mu.Lock()
		manage := b.manage
		b.mu.Unlock()
		if manage == nil {
			logx.WithContext(ctx).Infof("regime: %s action for %s dropped, no sink", v.Action, sym)
			return
		}
		if err := manage(ctx, v); err != nil {
			rec.Error = err.Error()
			logx.WithContext(ctx).Errorf("regime: %s %s: %v", v.Action, sym, err)
			return
		}
		rec.TradeResulted = v.Action != advisory.ActionHold
	case advisory.NoTrade:
		logx.WithContext(ctx).Infof("regime: urgent %s no trade: %s", sym, v.Reason)
	default:
		logx.WithContext(ctx).Infof("regime: urgent %s ignored %s response", sym, resp.Kind())
	}
}

// RunReview asks the advisor to reflect on recent closed-trade lessons and
// keeps the summary as a narrative for the next macro assessment. Nothing
// happens without lessons.
func (b *Brain) RunReview(ctx context.Context) error {
	lessons := b.recentTexts(ctx, store.KindLesson, "summary")
	if len(lessons) == 0 {
		return nil
	}
	now := b.clock()
	if !b.reserve(CycleComprehensive, now) {
		b.observe(CycleReview, OutcomeSkipped)
		return nil
	}
	prompt, err := b.prompts.Review.Render(advisory.ReviewInput{Now: now, Lessons: lessons})
	if err != nil {
		return fmt.Errorf("regime: render review prompt: %w", err)
	}
	rec := DecisionRecord{ID: uuid.NewString(), Cycle: CycleReview, At: now, PromptDigest: b.prompts.Review.Digest()}
	defer func() { b.record(ctx, rec) }()

	resp, err := b.call(ctx, CycleReview, prompt)
	if err != nil {
		rec.Error = err.Error()
		return nil
	}
	rec.Response = resp.Kind()
	review, ok := resp.(advisory.Review)
	if !ok {
		rec.Error = fmt.Sprintf("expected review, got %s", resp.Kind())
		return nil
	}
	text := review.Summary
	if len(review.Lessons) > 0 {
		text += " Lessons: " + strings.Join(review.Lessons, "; ")
	}
	b.appendLog(ctx, store.KindNarrative, "", map[string]any{
		"text": text, "source": CycleReview, "score": review.Score, "at": now,
	})
	logx.WithContext(ctx).Infof("regime: review of %d lesson(s) scored %.1f", len(lessons), review.Score)
	return nil
}

func (b *Brain) assess(ctx context.Context, prompt, source string, now time.Time) (Assessment, error) {
	resp, err := b.call(ctx, CycleComprehensive, prompt)
	if err != nil {
		return Assessment{}, err
	}
	analysis, ok := resp.(advisory.Analysis)
	if !ok {
		b.observe(CycleComprehensive, OutcomeMalformed)
		return Assessment{}, fmt.Errorf("%w: expected analysis, got %s", advisory.ErrMalformedResponse, resp.Kind())
	}
	return FromAnalysis(analysis, source, now), nil
}

// call performs one advisory exchange. Failures are logged and returned but
// never panic the cycle.
func (b *Brain) call(ctx context.Context, cycle, user string) (advisory.Response, error) {
	if !b.transport.IsAvailable() {
		b.observe(cycle, OutcomeFailed)
		return nil, advisory.ErrUnavailable
	}
	system, err := b.prompts.System.Render(nil)
	if err != nil {
		return nil, fmt.Errorf("regime: render system prompt: %w", err)
	}
	raw, err := b.transport.Call(ctx, system, user)
	if err != nil {
		b.observe(cycle, OutcomeFailed)
		logx.WithContext(ctx).Errorf("regime: %s advisory call: %v", cycle, err)
		return nil, err
	}
	resp, err := advisory.Parse(raw)
	if err != nil {
		b.observe(cycle, OutcomeMalformed)
		logx.WithContext(ctx).Errorf("regime: %s advisory response: %v", cycle, err)
		return nil, err
	}
	b.observe(cycle, OutcomeOK)
	return resp, nil
}

// reserve counts a call against the cadence's daily budget, whether or not
// the call later succeeds.
func (b *Brain) reserve(cycle string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	day := dayKey(now)
	c, limit := &b.comprehensive, b.cfg.MaxComprehensivePerDay
	if cycle == CycleUrgent {
		c, limit = &b.urgent, b.cfg.MaxUrgentPerDay
	}
	if !c.remaining(day, limit) {
		return false
	}
	c.roll(day)
	c.Today++
	c.Total++
	c.LastRun = now
	return true
}

// publish swaps in a modified copy of the current state.
func (b *Brain) publish(mutate func(*MarketState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.holder.Load().clone()
	mutate(next)
	next.Comprehensive = b.comprehensive
	next.Urgent = b.urgent
	next.UpdatedAt = b.clock()
	b.holder.Publish(next)
}

func (b *Brain) record(ctx context.Context, rec DecisionRecord) {
	b.appendLog(ctx, store.KindDecision, rec.Symbol, rec)
	if b.publisher != nil {
		if err := b.publisher.PublishDecision(ctx, rec); err != nil {
			logx.WithContext(ctx).Errorf("regime: publish decision %s: %v", rec.ID, err)
		}
	}
}

func (b *Brain) appendLog(ctx context.Context, kind store.Kind, symbol string, payload any) {
	if b.logs == nil {
		return
	}
	if err := b.logs.Append(ctx, kind, symbol, payload); err != nil {
		logx.WithContext(ctx).Errorf("regime: append %s: %v", kind, err)
	}
}

func (b *Brain) recentTexts(ctx context.Context, kind store.Kind, field string) []string {
	if b.logs == nil {
		return nil
	}
	entries, err := b.logs.Recent(ctx, kind, "", b.cfg.HistoryLimit)
	if err != nil {
		logx.WithContext(ctx).Errorf("regime: recent %s: %v", kind, err)
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var m map[string]any
		if err := e.Decode(&m); err != nil {
			continue
		}
		if s, ok := m[field].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (b *Brain) openPositions() []advisory.PositionView {
	if b.positions == nil {
		return nil
	}
	return b.positions()
}

func (b *Brain) observe(cycle, outcome string) {
	if b.observer != nil {
		b.observer.AdvisoryCall(cycle, outcome)
	}
}

func scoreAll(snaps, previous map[string]market.Snapshot) map[string]scorer.TriggerScore {
	out := make(map[string]scorer.TriggerScore, len(snaps))
	for sym, snap := range snaps {
		var prev *market.Snapshot
		if p, ok := previous[sym]; ok {
			prev = &p
		}
		out[sym] = scorer.Score(snap, prev)
	}
	return out
}

func scoreValues(scores map[string]scorer.TriggerScore) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for sym, s := range scores {
		out[sym] = s.Score
	}
	return out
}

// candidates returns symbols at or above threshold, highest score first.
func candidates(scores map[string]scorer.TriggerScore, threshold float64) []string {
	var out []string
	for sym, s := range scores {
		if s.Exceeds(threshold) {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := scores[out[i]].Score, scores[out[j]].Score
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}

func symbolViews(snaps map[string]market.Snapshot, scores map[string]scorer.TriggerScore) []advisory.SymbolView {
	syms := make([]string, 0, len(snaps))
	for sym := range snaps {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	out := make([]advisory.SymbolView, 0, len(syms))
	for _, sym := range syms {
		out = append(out, advisory.SymbolView{Snapshot: snaps[sym], Score: scores[sym]})
	}
	return out
}

func previousSummary(s *MarketState) string {
	if !s.Assessed() {
		return ""
	}
	return fmt.Sprintf("%s/%s risk %d confidence %.0f", s.Regime, s.Direction, s.RiskLevel, s.Confidence)
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func joinErr(a, b string) string {
	if a == "" {
		return b
	}
	return strings.Join([]string{a, b}, "; ")
}
