package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/resolver"
)

type fakeModel struct {
	err   error
	delay time.Duration
}

func (f fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if len(input) != 1 || input[0].Role != schema.User {
		return nil, errors.New("unexpected probe input")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func TestCheckSkipsAndProbes(t *testing.T) {
	creds := credentials.CredentialSet{OpenAIAPIKey: "k-openai", AnthropicAPIKey: "k-anthropic"}
	resolutions := []resolver.Resolution{
		resolver.Resolve(resolver.RoleQuickThink, "gpt-4o-mini", "", creds),
		resolver.Resolve(resolver.RoleDeepThink, "claude-3-opus", "", creds),
		resolver.Resolve(resolver.RoleDeepThink, "grok-2", "", creds),
		resolver.Resolve(resolver.RoleEmbedding, "text-embedding-3-small", "", creds),
	}

	var mu sync.Mutex
	var built []string
	p := New(WithFactory(func(ctx context.Context, res resolver.Resolution) (Generator, error) {
		mu.Lock()
		built = append(built, res.Model)
		mu.Unlock()
		return fakeModel{}, nil
	}))

	results := p.Check(context.Background(), resolutions)
	want := []Outcome{OutcomeOK, OutcomeSkipped, OutcomeSkipped, OutcomeSkipped}
	for i, r := range results {
		if r.Outcome != want[i] {
			t.Errorf("result %d (%s) outcome = %s, want %s (%s)", i, r.Model, r.Outcome, want[i], r.Reason)
		}
	}
	if len(built) != 1 || built[0] != "gpt-4o-mini" {
		t.Fatalf("only the openai model should be built, got %v", built)
	}
	if results[1].Reason == "" || results[2].Reason == "" {
		t.Fatalf("skipped results need a reason: %+v", results)
	}
}

func TestCheckReportsFailures(t *testing.T) {
	creds := credentials.CredentialSet{OpenAIAPIKey: "bad", DeepSeekAPIKey: "k"}
	resolutions := []resolver.Resolution{
		resolver.Resolve(resolver.RoleQuickThink, "gpt-4o", "", creds),
		resolver.Resolve(resolver.RoleDeepThink, "deepseek-chat", "", creds),
	}
	p := New(WithFactory(func(ctx context.Context, res resolver.Resolution) (Generator, error) {
		if res.Provider == resolver.ProviderDeepSeek {
			return nil, errors.New("boom")
		}
		return fakeModel{err: errors.New("401 invalid api key")}, nil
	}))

	results := p.Check(context.Background(), resolutions)
	if results[0].Outcome != OutcomeFailed || results[0].Reason != "401 invalid api key" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Outcome != OutcomeFailed || results[1].Reason != "build client: boom" {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
}

func TestCheckTimeout(t *testing.T) {
	res := resolver.Resolve(resolver.RoleQuickThink, "gpt-4o", "", credentials.CredentialSet{OpenAIAPIKey: "k"})
	p := New(WithTimeout(10*time.Millisecond), WithFactory(func(ctx context.Context, res resolver.Resolution) (Generator, error) {
		return fakeModel{delay: time.Second}, nil
	}))

	results := p.Check(context.Background(), []resolver.Resolution{res})
	if results[0].Outcome != OutcomeFailed || results[0].Reason != "no answer within 10ms" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestOverriddenEndpointIsProbed(t *testing.T) {
	creds := credentials.CredentialSet{CustomBaseURL: "http://gateway/v1", CustomAPIKey: "k"}
	res := resolver.Resolve(resolver.RoleDeepThink, "claude-3-opus", creds.CustomBaseURL, creds)
	if reason := skipReason(res); reason != "" {
		t.Fatalf("custom gateway should be probed, skipped with %q", reason)
	}
}

func TestNewChatModelBuildsClients(t *testing.T) {
	ctx := context.Background()
	for _, res := range []resolver.Resolution{
		{Model: "gpt-4o-mini", Provider: resolver.ProviderOpenAI, BaseURL: resolver.OpenAIEndpoint, APIKey: "k"},
		{Model: "deepseek-chat", Provider: resolver.ProviderDeepSeek, BaseURL: resolver.DeepSeekEndpoint, APIKey: "k"},
	} {
		cm, err := NewChatModel(ctx, res)
		if err != nil {
			t.Fatalf("NewChatModel(%s): %v", res.Model, err)
		}
		if cm == nil {
			t.Fatalf("NewChatModel(%s) returned nil", res.Model)
		}
	}
}
