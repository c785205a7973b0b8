package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

type AnalysisResult struct {
	Status       string       `json:"status"`
	Ticker       string       `json:"ticker"`
	AnalysisDate string       `json:"analysis_date"`
	Decision     *Decision    `json:"decision,omitempty"`
	Reports      *Reports     `json:"reports,omitempty"`
	Error        string       `json:"error,omitempty"`
	PriceData    []PricePoint `json:"price_data,omitempty"`
	PriceStats   *PriceStats  `json:"price_stats,omitempty"`
}

type Decision struct {
	Action     string          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence *float64        `json:"confidence,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// UnmarshalJSON accepts both the object form and the bare string the
// backend emits when the decision could not be parsed into fields.
func (d *Decision) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var action string
		if err := json.Unmarshal(trimmed, &action); err != nil {
			return err
		}
		*d = Decision{Action: strings.TrimSpace(action)}
		return nil
	}

	type plain Decision
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	if p.Confidence != nil {
		c := *p.Confidence
		if c < 0 {
			c = 0
		} else if c > 1 {
			c = 1
		}
		p.Confidence = &c
	}
	*d = Decision(p)
	return nil
}

// NormalizedAction upper-cases the action so BUY/buy/Buy compare equal.
func (d *Decision) NormalizedAction() string {
	if d == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(d.Action))
}

type Reports struct {
	MarketReport         string       `json:"market_report,omitempty"`
	SentimentReport      string       `json:"sentiment_report,omitempty"`
	NewsReport           string       `json:"news_report,omitempty"`
	FundamentalsReport   string       `json:"fundamentals_report,omitempty"`
	InvestmentPlan       string       `json:"investment_plan,omitempty"`
	TraderInvestmentPlan string       `json:"trader_investment_plan,omitempty"`
	FinalTradeDecision   string       `json:"final_trade_decision,omitempty"`
	InvestmentDebate     *DebateState `json:"investment_debate_state,omitempty"`
	RiskDebate           *DebateState `json:"risk_debate_state,omitempty"`
}

// AnalystReport returns the free-text report produced by one analyst role.
func (r *Reports) AnalystReport(a AnalystType) string {
	if r == nil {
		return ""
	}
	switch a {
	case MarketAnalyst:
		return r.MarketReport
	case SentimentAnalyst:
		return r.SentimentReport
	case NewsAnalyst:
		return r.NewsReport
	case FundamentalsAnalyst:
		return r.FundamentalsReport
	}
	return ""
}

type DebateState struct {
	BullHistory    string `json:"bull_history,omitempty"`
	BearHistory    string `json:"bear_history,omitempty"`
	RiskyHistory   string `json:"risky_history,omitempty"`
	SafeHistory    string `json:"safe_history,omitempty"`
	NeutralHistory string `json:"neutral_history,omitempty"`
	History        string `json:"history,omitempty"`
	JudgeDecision  string `json:"judge_decision,omitempty"`
}
