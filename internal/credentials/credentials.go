// Package credentials keeps the provider API keys and the optional custom
// endpoint a user has configured for analysis requests.
package credentials

import (
	"os"
	"strings"
)

// Slot names one credential field of a CredentialSet.
type Slot string

const (
	SlotOpenAI       Slot = "openai_api_key"
	SlotAlphaVantage Slot = "alpha_vantage_api_key"
	SlotAnthropic    Slot = "anthropic_api_key"
	SlotGoogle       Slot = "google_api_key"
	SlotGrok         Slot = "grok_api_key"
	SlotDeepSeek     Slot = "deepseek_api_key"
	SlotQwen         Slot = "qwen_api_key"
	SlotCustom       Slot = "custom_api_key"
)

// Slots lists every secret slot in display order. The custom endpoint URL is
// not a secret and is not listed.
var Slots = []Slot{SlotOpenAI, SlotAlphaVantage, SlotAnthropic, SlotGoogle, SlotGrok, SlotDeepSeek, SlotQwen, SlotCustom}

// CredentialSet is the persisted shape. Absent fields are always "".
type CredentialSet struct {
	OpenAIAPIKey       string `json:"openai_api_key"`
	AlphaVantageAPIKey string `json:"alpha_vantage_api_key"`

	AnthropicAPIKey string `json:"anthropic_api_key"`
	GoogleAPIKey    string `json:"google_api_key"`
	GrokAPIKey      string `json:"grok_api_key"`
	DeepSeekAPIKey  string `json:"deepseek_api_key"`
	QwenAPIKey      string `json:"qwen_api_key"`

	CustomBaseURL string `json:"custom_base_url"`
	CustomAPIKey  string `json:"custom_api_key"`
}

// Default returns the all-empty template.
func Default() CredentialSet {
	return CredentialSet{}
}

func (c CredentialSet) Get(slot Slot) string {
	switch slot {
	case SlotOpenAI:
		return c.OpenAIAPIKey
	case SlotAlphaVantage:
		return c.AlphaVantageAPIKey
	case SlotAnthropic:
		return c.AnthropicAPIKey
	case SlotGoogle:
		return c.GoogleAPIKey
	case SlotGrok:
		return c.GrokAPIKey
	case SlotDeepSeek:
		return c.DeepSeekAPIKey
	case SlotQwen:
		return c.QwenAPIKey
	case SlotCustom:
		return c.CustomAPIKey
	}
	return ""
}

// Set returns a copy with slot replaced. Unknown slots leave the set unchanged.
func (c CredentialSet) Set(slot Slot, value string) CredentialSet {
	switch slot {
	case SlotOpenAI:
		c.OpenAIAPIKey = value
	case SlotAlphaVantage:
		c.AlphaVantageAPIKey = value
	case SlotAnthropic:
		c.AnthropicAPIKey = value
	case SlotGoogle:
		c.GoogleAPIKey = value
	case SlotGrok:
		c.GrokAPIKey = value
	case SlotDeepSeek:
		c.DeepSeekAPIKey = value
	case SlotQwen:
		c.QwenAPIKey = value
	case SlotCustom:
		c.CustomAPIKey = value
	}
	return c
}

// HasCustomEndpoint reports whether a custom endpoint with its own key is
// configured, which shadows provider inference.
func (c CredentialSet) HasCustomEndpoint() bool {
	return strings.TrimSpace(c.CustomBaseURL) != "" && strings.TrimSpace(c.CustomAPIKey) != ""
}

// Merge overlays the non-empty fields of overlay onto base.
func Merge(base, overlay CredentialSet) CredentialSet {
	for _, slot := range Slots {
		if v := overlay.Get(slot); strings.TrimSpace(v) != "" {
			base = base.Set(slot, v)
		}
	}
	if strings.TrimSpace(overlay.CustomBaseURL) != "" {
		base.CustomBaseURL = overlay.CustomBaseURL
	}
	return base
}

// FromEnv reads provider keys from the conventional environment variables.
func FromEnv() CredentialSet {
	return CredentialSet{
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AlphaVantageAPIKey: os.Getenv("ALPHA_VANTAGE_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		GrokAPIKey:         firstEnv("GROK_API_KEY", "XAI_API_KEY"),
		DeepSeekAPIKey:     os.Getenv("DEEPSEEK_API_KEY"),
		QwenAPIKey:         firstEnv("QWEN_API_KEY", "DASHSCOPE_API_KEY"),
		CustomBaseURL:      os.Getenv("CUSTOM_BASE_URL"),
		CustomAPIKey:       os.Getenv("CUSTOM_API_KEY"),
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	secret = strings.TrimSpace(secret)
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return strings.Repeat("*", len(secret))
	}
	prefix := ""
	if i := strings.IndexByte(secret, '-'); i > 0 && i <= 4 {
		prefix = secret[:i+1]
	}
	return prefix + "…" + secret[len(secret)-4:]
}
