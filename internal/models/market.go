package models

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

type PricePoint struct {
	Date   string          `json:"Date"`
	Open   decimal.Decimal `json:"Open"`
	High   decimal.Decimal `json:"High"`
	Low    decimal.Decimal `json:"Low"`
	Close  decimal.Decimal `json:"Close"`
	Volume int64           `json:"Volume"`
}

type PriceStats struct {
	GrowthRate   decimal.Decimal `json:"growth_rate"`
	DurationDays int             `json:"duration_days"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	StartPrice   decimal.Decimal `json:"start_price"`
	EndPrice     decimal.Decimal `json:"end_price"`
}

// Change returns the absolute price move over the stats window.
func (s *PriceStats) Change() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return s.EndPrice.Sub(s.StartPrice)
}

// Range returns the lowest low and highest high across the series.
func Range(points []PricePoint) (low, high decimal.Decimal, ok bool) {
	if len(points) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	low, high = points[0].Low, points[0].High
	for _, p := range points[1:] {
		if p.Low.LessThan(low) {
			low = p.Low
		}
		if p.High.GreaterThan(high) {
			high = p.High
		}
	}
	return low, high, true
}

type Ticker struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type TickerList struct {
	Tickers []Ticker `json:"tickers"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ConfigResponse describes GET /api/config. AvailableLLMs is keyed by
// provider name.
type ConfigResponse struct {
	AvailableAnalysts []string            `json:"available_analysts"`
	AvailableLLMs     map[string][]string `json:"available_llms"`
	DefaultConfig     map[string]any      `json:"default_config"`
}

// UnmarshalJSON also accepts a flat available_llms list, filed under
// UngroupedProvider.
func (c *ConfigResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		AvailableAnalysts []string        `json:"available_analysts"`
		AvailableLLMs     json.RawMessage `json:"available_llms"`
		DefaultConfig     map[string]any  `json:"default_config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.AvailableAnalysts = raw.AvailableAnalysts
	c.DefaultConfig = raw.DefaultConfig
	c.AvailableLLMs = nil

	llms := bytes.TrimSpace(raw.AvailableLLMs)
	switch {
	case len(llms) == 0 || bytes.Equal(llms, []byte("null")):
	case llms[0] == '[':
		var flat []string
		if err := json.Unmarshal(llms, &flat); err != nil {
			return err
		}
		c.AvailableLLMs = map[string][]string{UngroupedProvider: flat}
	default:
		if err := json.Unmarshal(llms, &c.AvailableLLMs); err != nil {
			return err
		}
	}
	return nil
}

const UngroupedProvider = "all"

// Providers lists the provider keys of AvailableLLMs in sorted order.
func (c *ConfigResponse) Providers() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.AvailableLLMs))
	for p := range c.AvailableLLMs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Models flattens AvailableLLMs into a de-duplicated list. With no
// providers given every provider is included in sorted order.
func (c *ConfigResponse) Models(providers ...string) []string {
	if c == nil {
		return nil
	}
	if len(providers) == 0 {
		providers = c.Providers()
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range providers {
		for _, m := range c.AvailableLLMs[p] {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// DefaultString reads a string entry from DefaultConfig.
func (c *ConfigResponse) DefaultString(key string) string {
	if c == nil {
		return ""
	}
	if v, ok := c.DefaultConfig[key].(string); ok {
		return v
	}
	return ""
}

type DownloadRequest struct {
	Ticker       string   `json:"ticker"`
	AnalysisDate string   `json:"analysis_date"`
	TaskID       string   `json:"task_id"`
	Analysts     []string `json:"analysts"`
}
