// Package probe sends a one-message chat request to each resolved model
// endpoint so bad credentials surface before a long analysis is submitted.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/cortexctl/internal/resolver"
)

const (
	DefaultTimeout = 20 * time.Second
	probeMessage   = "Reply with the single word: ok"
	probeMaxTokens = 8
)

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type Result struct {
	Role     resolver.Role
	Model    string
	Provider resolver.Provider
	BaseURL  string
	Outcome  Outcome
	Reason   string
	Latency  time.Duration
}

// Generator is the part of an eino chat model a probe needs.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Factory builds a chat model for one resolution.
type Factory func(ctx context.Context, res resolver.Resolution) (Generator, error)

type Option func(*Prober)

func WithFactory(f Factory) Option {
	return func(p *Prober) {
		if f != nil {
			p.factory = f
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Prober) {
		if log != nil {
			p.log = log
		}
	}
}

type Prober struct {
	factory Factory
	timeout time.Duration
	log     *slog.Logger
}

func New(opts ...Option) *Prober {
	p := &Prober{
		factory: NewChatModel,
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check probes every resolution concurrently and returns results in input
// order.
func (p *Prober) Check(ctx context.Context, resolutions []resolver.Resolution) []Result {
	results := make([]Result, len(resolutions))
	var wg sync.WaitGroup
	for i, res := range resolutions {
		results[i] = Result{Role: res.Role, Model: res.Model, Provider: res.Provider, BaseURL: res.BaseURL}
		if reason := skipReason(res); reason != "" {
			results[i].Outcome = OutcomeSkipped
			results[i].Reason = reason
			continue
		}
		wg.Add(1)
		go func(i int, res resolver.Resolution) {
			defer wg.Done()
			p.checkOne(ctx, res, &results[i])
		}(i, res)
	}
	wg.Wait()
	return results
}

func (p *Prober) checkOne(ctx context.Context, res resolver.Resolution, out *Result) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	cm, err := p.factory(ctx, res)
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Reason = fmt.Sprintf("build client: %v", err)
		return
	}
	_, err = cm.Generate(ctx, []*schema.Message{schema.UserMessage(probeMessage)})
	out.Latency = time.Since(start)
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Reason = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			out.Reason = fmt.Sprintf("no answer within %s", p.timeout)
		}
		p.log.Debug("probe failed", "role", res.Role, "model", res.Model, "err", err)
		return
	}
	out.Outcome = OutcomeOK
	p.log.Debug("probe ok", "role", res.Role, "model", res.Model, "latency", out.Latency)
}

func skipReason(res resolver.Resolution) string {
	switch {
	case res.Role == resolver.RoleEmbedding:
		return "embedding models are not probed"
	case strings.TrimSpace(res.Model) == "":
		return "no model configured"
	case !res.OpenAICompatible:
		return fmt.Sprintf("%s endpoint does not speak the chat-completions API", res.Provider)
	case strings.TrimSpace(res.APIKey) == "":
		return "no credential configured"
	}
	return ""
}

// NewChatModel builds the eino chat model for res: the dedicated deepseek
// client for the stock deepseek endpoint, the openai-compatible client for
// everything else.
func NewChatModel(ctx context.Context, res resolver.Resolution) (Generator, error) {
	if res.Provider == resolver.ProviderDeepSeek && !res.Overridden {
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    res.APIKey,
			Model:     res.Model,
			MaxTokens: probeMaxTokens,
		})
	}

	maxTokens := probeMaxTokens
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:   res.BaseURL,
		APIKey:    res.APIKey,
		Model:     res.Model,
		MaxTokens: &maxTokens,
	})
}
