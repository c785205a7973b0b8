package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

const (
	MinResearchDepth = 1
	MaxResearchDepth = 5
	MaxTickerLength  = 10

	DefaultThinkModel     = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// AnalystType names one analyst role the backend can run.
type AnalystType string

const (
	MarketAnalyst       AnalystType = "market"
	SentimentAnalyst    AnalystType = "sentiment"
	NewsAnalyst         AnalystType = "news"
	FundamentalsAnalyst AnalystType = "fundamentals"
)

// AllAnalysts is the fixed enumeration accepted by the backend, in display order.
var AllAnalysts = []AnalystType{MarketAnalyst, SentimentAnalyst, NewsAnalyst, FundamentalsAnalyst}

func (a AnalystType) Valid() bool {
	for _, known := range AllAnalysts {
		if a == known {
			return true
		}
	}
	return false
}

func (a AnalystType) DisplayName() string {
	switch a {
	case MarketAnalyst:
		return "Market Analyst"
	case SentimentAnalyst:
		return "Social Sentiment Analyst"
	case NewsAnalyst:
		return "News Analyst"
	case FundamentalsAnalyst:
		return "Fundamentals Analyst"
	default:
		return string(a)
	}
}

func AnalystNames(analysts []AnalystType) []string {
	names := make([]string, len(analysts))
	for i, a := range analysts {
		names[i] = string(a)
	}
	return names
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.\-]+$`)

// ValidTicker reports whether s, once upper-cased, is an acceptable symbol.
func ValidTicker(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s != "" && len(s) <= MaxTickerLength && tickerPattern.MatchString(s)
}

// AnalysisRequest is the body of POST /api/analyze.
type AnalysisRequest struct {
	Ticker         string   `json:"ticker"`
	AnalysisDate   string   `json:"analysis_date"`
	Analysts       []string `json:"analysts,omitempty"`
	ResearchDepth  int      `json:"research_depth,omitempty"`
	DeepThinkLLM   string   `json:"deep_think_llm,omitempty"`
	QuickThinkLLM  string   `json:"quick_think_llm,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`

	// Per-role overrides. An empty value lets the resolver decide.
	QuickThinkBaseURL string `json:"quick_think_base_url,omitempty"`
	QuickThinkAPIKey  string `json:"quick_think_api_key,omitempty"`
	DeepThinkBaseURL  string `json:"deep_think_base_url,omitempty"`
	DeepThinkAPIKey   string `json:"deep_think_api_key,omitempty"`
	EmbeddingBaseURL  string `json:"embedding_base_url,omitempty"`
	EmbeddingAPIKey   string `json:"embedding_api_key,omitempty"`

	OpenAIAPIKey       string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL      string `json:"openai_base_url,omitempty"`
	AlphaVantageAPIKey string `json:"alpha_vantage_api_key,omitempty"`
}

// Normalize returns a copy with the ticker canonicalised and empty optional
// fields filled with the backend defaults.
func (r AnalysisRequest) Normalize() AnalysisRequest {
	out := r
	out.Ticker = strings.ToUpper(strings.TrimSpace(r.Ticker))
	out.AnalysisDate = strings.TrimSpace(r.AnalysisDate)
	if len(r.Analysts) == 0 {
		out.Analysts = AnalystNames(AllAnalysts)
	} else {
		out.Analysts = append([]string(nil), r.Analysts...)
	}
	if out.ResearchDepth == 0 {
		out.ResearchDepth = MinResearchDepth
	}
	if strings.TrimSpace(out.DeepThinkLLM) == "" {
		out.DeepThinkLLM = DefaultThinkModel
	}
	if strings.TrimSpace(out.QuickThinkLLM) == "" {
		out.QuickThinkLLM = DefaultThinkModel
	}
	if strings.TrimSpace(out.EmbeddingModel) == "" {
		out.EmbeddingModel = DefaultEmbeddingModel
	}
	return out
}

// Validate reports every constraint the request violates.
func (r AnalysisRequest) Validate() error {
	var errs []error

	ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
	switch {
	case ticker == "":
		errs = append(errs, errors.New("ticker symbol cannot be empty"))
	case len(ticker) > MaxTickerLength:
		errs = append(errs, fmt.Errorf("ticker symbol too long (max %d characters)", MaxTickerLength))
	case !tickerPattern.MatchString(ticker):
		errs = append(errs, errors.New("invalid ticker format (use letters, numbers, dots, and hyphens only)"))
	}

	if _, err := time.Parse(DateLayout, strings.TrimSpace(r.AnalysisDate)); err != nil {
		errs = append(errs, fmt.Errorf("invalid analysis date %q, use YYYY-MM-DD", r.AnalysisDate))
	}

	if len(r.Analysts) == 0 {
		errs = append(errs, errors.New("at least one analyst must be selected"))
	}
	seen := make(map[string]bool, len(r.Analysts))
	for _, a := range r.Analysts {
		if !AnalystType(a).Valid() {
			errs = append(errs, fmt.Errorf("unknown analyst %q", a))
			continue
		}
		if seen[a] {
			errs = append(errs, fmt.Errorf("analyst %q selected twice", a))
		}
		seen[a] = true
	}

	if r.ResearchDepth < MinResearchDepth || r.ResearchDepth > MaxResearchDepth {
		errs = append(errs, fmt.Errorf("research depth must be between %d and %d", MinResearchDepth, MaxResearchDepth))
	}

	if strings.TrimSpace(r.QuickThinkLLM) == "" {
		errs = append(errs, errors.New("quick-think model is required"))
	}
	if strings.TrimSpace(r.DeepThinkLLM) == "" {
		errs = append(errs, errors.New("deep-think model is required"))
	}

	return errors.Join(errs...)
}
