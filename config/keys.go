package config

import (
	"fmt"
	"strconv"
	"strings"
)

// SettableKeys are the config.json fields `cortexctl config set` accepts.
var SettableKeys = []string{
	"server", "api_prefix", "poll_interval", "timeout",
	"quick_think_llm", "deep_think_llm", "embedding_model", "research_depth", "no_color",
}

// Set assigns one field from its textual form. It does not validate the
// resulting config as a whole.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "server":
		c.Server = value
	case "api_prefix":
		c.APIPrefix = value
	case "poll_interval":
		d, err := ParseDuration(value)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		c.PollInterval = d
	case "timeout":
		d, err := ParseDuration(value)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		c.Timeout = d
	case "quick_think_llm":
		c.QuickThinkLLM = value
	case "deep_think_llm":
		c.DeepThinkLLM = value
	case "embedding_model":
		c.EmbeddingModel = value
	case "research_depth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("research_depth: %w", err)
		}
		c.ResearchDepth = n
	case "no_color":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("no_color: %w", err)
		}
		c.NoColor = b
	default:
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(SettableKeys, ", "))
	}
	return nil
}
