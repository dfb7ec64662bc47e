package advisory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind tags a response variant.
type Kind string

const (
	KindProposeTrade   Kind = "propose_trade"
	KindNoTrade        Kind = "no_trade"
	KindAnalysis       Kind = "analysis"
	KindCritique       Kind = "critique"
	KindManagePosition Kind = "manage_position"
	KindReview         Kind = "review"
	KindScenario       Kind = "scenario"
)

// Response is implemented by every variant.
type Response interface {
	Kind() Kind
}

// Side of a proposed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ProposeTrade is a concrete entry idea.
type ProposeTrade struct {
	Symbol     string  `json:"symbol" validate:"required"`
	Side       Side    `json:"side" validate:"required,oneof=long short"`
	Entry      float64 `json:"entry" validate:"gt=0"`
	StopLoss   float64 `json:"stop_loss" validate:"gt=0"`
	TakeProfit float64 `json:"take_profit" validate:"gt=0"`
	SizePct    float64 `json:"size_pct" validate:"gt=0,lte=1"`
	Leverage   int     `json:"leverage" validate:"gte=1,lte=50"`
	Confidence string  `json:"confidence" validate:"required,oneof=low medium high"`
	Rationale  string  `json:"rationale" validate:"required"`
}

func (ProposeTrade) Kind() Kind { return KindProposeTrade }

// RiskReward is reward distance over risk distance.
func (p ProposeTrade) RiskReward() float64 {
	risk := math.Abs(p.Entry - p.StopLoss)
	if risk == 0 {
		return 0
	}
	return math.Abs(p.TakeProfit-p.Entry) / risk
}

// NoTrade declines to act.
type NoTrade struct {
	Symbol string `json:"symbol,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

func (NoTrade) Kind() Kind { return KindNoTrade }

// Directive is a per-strategy instruction inside an Analysis.
type Directive struct {
	Active       bool     `json:"active"`
	Bias         string   `json:"bias" validate:"omitempty,oneof=long short neutral"`
	MaxLeverage  int      `json:"max_leverage" validate:"gte=0,lte=50"`
	FocusSymbols []string `json:"focus_symbols" validate:"omitempty,dive,required"`
}

// Analysis is a full regime assessment.
type Analysis struct {
	Regime     string               `json:"regime" validate:"required,oneof=trending_up trending_down range volatile unknown"`
	Direction  string               `json:"direction" validate:"required,oneof=bullish bearish neutral"`
	RiskLevel  int                  `json:"risk_level" validate:"gte=1,lte=5"`
	Confidence float64              `json:"confidence" validate:"gte=0,lte=100"`
	Reasoning  string               `json:"reasoning" validate:"required"`
	Directives map[string]Directive `json:"directives" validate:"omitempty,dive"`
}

func (Analysis) Kind() Kind { return KindAnalysis }

// Critique challenges an earlier assessment or proposal.
type Critique struct {
	Verdict            string   `json:"verdict" validate:"required,oneof=agree disagree partial"`
	Concerns           []string `json:"concerns"`
	AdjustedConfidence float64  `json:"adjusted_confidence" validate:"gte=0,lte=100"`
}

func (Critique) Kind() Kind { return KindCritique }

// Position management actions.
const (
	ActionHold         = "hold"
	ActionClose        = "close"
	ActionPartialClose = "partial_close"
	ActionMoveStop     = "move_stop"
)

// ManagePosition adjusts an open position.
type ManagePosition struct {
	Symbol   string  `json:"symbol" validate:"required"`
	Action   string  `json:"action" validate:"required,oneof=hold close partial_close move_stop"`
	ClosePct float64 `json:"close_pct" validate:"required_if=Action partial_close,gte=0,lte=1"`
	NewStop  float64 `json:"new_stop" validate:"required_if=Action move_stop,gte=0"`
	Reason   string  `json:"reason" validate:"required"`
}

func (ManagePosition) Kind() Kind { return KindManagePosition }

// Review reflects on closed trades.
type Review struct {
	Summary string   `json:"summary" validate:"required"`
	Lessons []string `json:"lessons"`
	Score   float64  `json:"score" validate:"gte=0,lte=10"`
}

func (Review) Kind() Kind { return KindReview }

// ScenarioCase is one branch of a Scenario.
type ScenarioCase struct {
	Name        string  `json:"name" validate:"required"`
	Probability float64 `json:"probability" validate:"gte=0,lte=1"`
	Description string  `json:"description"`
}

// Scenario lays out weighted outcomes.
type Scenario struct {
	Symbol string         `json:"symbol,omitempty"`
	Cases  []ScenarioCase `json:"scenarios" validate:"required,min=1,dive"`
}

func (Scenario) Kind() Kind { return KindScenario }

const minRiskReward = 1.0

var validate = validator.New()

// Parse extracts the JSON object from raw model output, dispatches on its
// "type" tag and validates the variant. Every failure wraps
// ErrMalformedResponse.
func Parse(raw string) (Response, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed("decode envelope: %v", err)
	}

	var resp Response
	switch envelope.Type {
	case KindProposeTrade:
		resp, err = decode[ProposeTrade](body)
	case KindNoTrade:
		resp, err = decode[NoTrade](body)
	case KindAnalysis:
		resp, err = decode[Analysis](body)
	case KindCritique:
		resp, err = decode[Critique](body)
	case KindManagePosition:
		resp, err = decode[ManagePosition](body)
	case KindReview:
		resp, err = decode[Review](body)
	case KindScenario:
		resp, err = decode[Scenario](body)
	case "":
		return nil, malformed("missing type tag")
	default:
		return nil, malformed("unknown type %q", envelope.Type)
	}
	if err != nil {
		return nil, err
	}
	if p, ok := resp.(ProposeTrade); ok {
		if err := checkProposal(p); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func decode[T Response](body []byte) (Response, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, malformed("decode %s: %v", v.Kind(), err)
	}
	if err := validate.Struct(v); err != nil {
		return nil, malformed("validate %s: %s", v.Kind(), describe(err))
	}
	return v, nil
}

func checkProposal(p ProposeTrade) error {
	switch p.Side {
	case SideLong:
		if !(p.StopLoss < p.Entry && p.Entry < p.TakeProfit) {
			return malformed("long proposal needs stop < entry < target")
		}
	case SideShort:
		if !(p.TakeProfit < p.Entry && p.Entry < p.StopLoss) {
			return malformed("short proposal needs target < entry < stop")
		}
	}
	if rr := p.RiskReward(); rr < minRiskReward {
		return malformed("risk:reward %.2f below %.1f", rr, minRiskReward)
	}
	return nil
}

// extractJSON returns the outermost JSON object in s, tolerating markdown
// code fences and surrounding prose.
func extractJSON(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, malformed("no JSON object found")
	}
	return []byte(s[start : end+1]), nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
