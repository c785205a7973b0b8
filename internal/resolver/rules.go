// Package resolver maps a model identifier to the endpoint and credential
// that must be used to call it.
//
// The rule table is an external contract: new providers are appended as new
// rows, existing prefixes never change meaning.
package resolver

import (
	"strings"

	"github.com/dyike/cortexctl/internal/credentials"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderGrok      Provider = "grok"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderQwen      Provider = "qwen"
	ProviderCustom    Provider = "custom"
)

const (
	OpenAIEndpoint    = "https://api.openai.com/v1"
	AnthropicEndpoint = "https://api.anthropic.com"
	GoogleEndpoint    = "https://generativelanguage.googleapis.com/v1beta/openai"
	GrokEndpoint      = "https://api.x.ai/v1"
	DeepSeekEndpoint  = "https://api.deepseek.com/v1"
	QwenEndpoint      = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
)

// Rule classifies model identifiers of one provider family.
type Rule struct {
	Provider Provider
	Match    func(model string) bool
	Endpoint string
	Slot     credentials.Slot

	// OpenAICompatible marks endpoints that speak the chat-completions API.
	OpenAICompatible bool
}

// Table is an ordered rule list evaluated top to bottom, with Fallback used
// when no rule matches.
type Table struct {
	Rules    []Rule
	Fallback Rule
}

func HasPrefix(prefixes ...string) func(string) bool {
	return func(model string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(model, p) {
				return true
			}
		}
		return false
	}
}

var openAIRule = Rule{
	Provider:         ProviderOpenAI,
	Match:            HasPrefix("gpt-", "o4-", "o1-"),
	Endpoint:         OpenAIEndpoint,
	Slot:             credentials.SlotOpenAI,
	OpenAICompatible: true,
}

// DefaultTable is the provider contract shared with the backend.
var DefaultTable = Table{
	Rules: []Rule{
		openAIRule,
		{Provider: ProviderAnthropic, Match: HasPrefix("claude-"), Endpoint: AnthropicEndpoint, Slot: credentials.SlotAnthropic},
		{Provider: ProviderGoogle, Match: HasPrefix("gemini-"), Endpoint: GoogleEndpoint, Slot: credentials.SlotGoogle, OpenAICompatible: true},
		{Provider: ProviderGrok, Match: HasPrefix("grok-"), Endpoint: GrokEndpoint, Slot: credentials.SlotGrok, OpenAICompatible: true},
		{Provider: ProviderDeepSeek, Match: HasPrefix("deepseek-"), Endpoint: DeepSeekEndpoint, Slot: credentials.SlotDeepSeek, OpenAICompatible: true},
		{Provider: ProviderQwen, Match: HasPrefix("qwen"), Endpoint: QwenEndpoint, Slot: credentials.SlotQwen, OpenAICompatible: true},
	},
	Fallback: openAIRule,
}

// Classify returns the first matching rule, or the fallback.
func (t Table) Classify(model string) Rule {
	for _, r := range t.Rules {
		if r.Match != nil && r.Match(model) {
			return r
		}
	}
	return t.Fallback
}

// Providers lists the providers of the table in rule order, without duplicates.
func (t Table) Providers() []Provider {
	seen := map[Provider]bool{}
	var out []Provider
	for _, r := range append(append([]Rule(nil), t.Rules...), t.Fallback) {
		if !seen[r.Provider] {
			seen[r.Provider] = true
			out = append(out, r.Provider)
		}
	}
	return out
}
