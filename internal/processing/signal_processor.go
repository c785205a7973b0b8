// Package processing derives a trading signal from report text when the
// backend did not return a structured decision.
package processing

import (
	"regexp"
	"strings"

	"github.com/dyike/cortexctl/internal/models"
)

// SignalProcessor extracts actionable decisions from analysis text
type SignalProcessor struct {
	buyPatterns  []*regexp.Regexp
	sellPatterns []*regexp.Regexp
	holdPatterns []*regexp.Regexp
}

// TradingSignal represents a processed trading signal
type TradingSignal struct {
	Action     string  // BUY, SELL, HOLD
	Confidence float64 // 0.1 to 1.0
	Reasoning  string
}

// explicitDecision matches the closing line the backend's agents write, e.g.
// "FINAL TRANSACTION PROPOSAL: **BUY**".
var explicitDecision = regexp.MustCompile(`(?i)final\s+transaction\s+proposal\s*:\s*\**\s*(buy|sell|hold)\b`)

func NewSignalProcessor() *SignalProcessor {
	return &SignalProcessor{
		buyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|purchase|long|bullish|upward|invest)\b`),
			regexp.MustCompile(`(?i)\b(strong buy|recommended buy|buy recommendation)\b`),
			regexp.MustCompile(`(?i)\b(undervalued|oversold|growth potential|opportunity)\b`),
		},
		sellPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(sell|short|bearish|downward|divest)\b`),
			regexp.MustCompile(`(?i)\b(strong sell|sell recommendation|avoid)\b`),
			regexp.MustCompile(`(?i)\b(overvalued|overbought|decline)\b`),
		},
		holdPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hold|maintain|neutral|wait|sideways)\b`),
			regexp.MustCompile(`(?i)\b(no action|stay put|keep position)\b`),
		},
	}
}

// Process scores the decision-bearing reports of res. It returns nil when
// there is no text to work from.
func (sp *SignalProcessor) Process(res *models.AnalysisResult) *TradingSignal {
	if res == nil || res.Reports == nil {
		return nil
	}
	r := res.Reports
	parts := []string{r.FinalTradeDecision, r.TraderInvestmentPlan, r.InvestmentPlan}
	if r.InvestmentDebate != nil {
		parts = append(parts, r.InvestmentDebate.JudgeDecision)
	}
	if r.RiskDebate != nil {
		parts = append(parts, r.RiskDebate.JudgeDecision)
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return nil
	}

	// An explicit proposal in the final decision wins over word counts.
	if m := explicitDecision.FindStringSubmatch(r.FinalTradeDecision); m != nil {
		action := strings.ToUpper(m[1])
		return &TradingSignal{Action: action, Confidence: 1, Reasoning: sp.extractReasoning(text, action)}
	}

	action := sp.extractAction(text)
	return &TradingSignal{
		Action:     action,
		Confidence: sp.calculateConfidence(text, action),
		Reasoning:  sp.extractReasoning(text, action),
	}
}

// extractAction determines the primary trading action from text
func (sp *SignalProcessor) extractAction(text string) string {
	buyScore := countMatches(sp.buyPatterns, text)
	sellScore := countMatches(sp.sellPatterns, text)
	holdScore := countMatches(sp.holdPatterns, text)

	if buyScore > sellScore && buyScore > holdScore {
		return "BUY"
	} else if sellScore > buyScore && sellScore > holdScore {
		return "SELL"
	}
	return "HOLD"
}

// calculateConfidence is the share of words backing action, scaled and
// clamped to [0.1, 1].
func (sp *SignalProcessor) calculateConfidence(text string, action string) float64 {
	totalWords := len(strings.Fields(text))
	if totalWords == 0 {
		return 0.5
	}

	var relevant []*regexp.Regexp
	switch action {
	case "BUY":
		relevant = sp.buyPatterns
	case "SELL":
		relevant = sp.sellPatterns
	default:
		relevant = sp.holdPatterns
	}

	confidence := float64(countMatches(relevant, text)) / float64(totalWords) * 10
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

var actionWords = map[string][]string{
	"BUY":  {"buy", "bullish", "growth", "opportunity", "undervalued"},
	"SELL": {"sell", "bearish", "risk", "decline", "overvalued"},
	"HOLD": {"hold", "neutral", "wait", "maintain", "uncertain"},
}

// extractReasoning keeps up to three sentences that mention the action.
func (sp *SignalProcessor) extractReasoning(text string, action string) string {
	var relevant []string
	for _, sentence := range strings.Split(text, ".") {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		lower := strings.ToLower(sentence)
		for _, word := range actionWords[action] {
			if strings.Contains(lower, word) {
				relevant = append(relevant, sentence)
				break
			}
		}
		if len(relevant) >= 3 {
			break
		}
	}
	if len(relevant) == 0 {
		return ""
	}
	return strings.Join(relevant, ". ") + "."
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllString(text, -1))
	}
	return n
}

// Decision returns the backend's decision when it carries an action, and
// otherwise one derived from the reports. The second value reports whether
// the decision was derived.
func Decision(res *models.AnalysisResult) (*models.Decision, bool) {
	if res == nil {
		return nil, false
	}
	if res.Decision != nil && strings.TrimSpace(res.Decision.Action) != "" {
		return res.Decision, false
	}
	sig := NewSignalProcessor().Process(res)
	if sig == nil {
		return res.Decision, false
	}
	conf := sig.Confidence
	return &models.Decision{Action: sig.Action, Confidence: &conf, Reasoning: sig.Reasoning}, true
}
