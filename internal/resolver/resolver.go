package resolver

import (
	"strings"

	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/models"
)

// Role is the job a model performs inside one analysis.
type Role string

const (
	RoleQuickThink Role = "quick_think"
	RoleDeepThink  Role = "deep_think"
	RoleEmbedding  Role = "embedding"
)

// Resolution is the outcome of resolving one model for one role.
type Resolution struct {
	Role     Role
	Model    string
	Provider Provider
	BaseURL  string
	APIKey   string

	// Overridden is set when BaseURL came from an explicit override rather
	// than the rule table.
	Overridden       bool
	OpenAICompatible bool
}

// BaseURLForModel resolves the endpoint with the default table.
func BaseURLForModel(model, override string) string {
	return DefaultTable.BaseURLForModel(model, override)
}

// APIKeyForModel resolves the credential with the default table.
func APIKeyForModel(model string, creds credentials.CredentialSet) string {
	return DefaultTable.APIKeyForModel(model, creds)
}

// Resolve resolves one model with the default table.
func Resolve(role Role, model, override string, creds credentials.CredentialSet) Resolution {
	return DefaultTable.Resolve(role, model, override, creds)
}

// Annotate fills request endpoints and keys with the default table.
func Annotate(req models.AnalysisRequest, creds credentials.CredentialSet) (models.AnalysisRequest, []Resolution) {
	return DefaultTable.Annotate(req, creds)
}

// BaseURLForModel returns override verbatim when it is not blank, else the
// endpoint of the provider the model belongs to.
func (t Table) BaseURLForModel(model, override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return t.Classify(model).Endpoint
}

// APIKeyForModel returns the custom key when a custom endpoint with its own
// key is configured, regardless of the model. Otherwise it reads the slot of
// the model's provider. An empty result is valid.
func (t Table) APIKeyForModel(model string, creds credentials.CredentialSet) string {
	if creds.HasCustomEndpoint() {
		return creds.CustomAPIKey
	}
	return creds.Get(t.Classify(model).Slot)
}

func (t Table) Resolve(role Role, model, override string, creds credentials.CredentialSet) Resolution {
	rule := t.Classify(model)
	res := Resolution{
		Role:             role,
		Model:            model,
		Provider:         rule.Provider,
		BaseURL:          t.BaseURLForModel(model, override),
		APIKey:           t.APIKeyForModel(model, creds),
		OpenAICompatible: rule.OpenAICompatible,
	}
	if strings.TrimSpace(override) != "" {
		res.Overridden = true
		res.OpenAICompatible = true
		if override == creds.CustomBaseURL {
			res.Provider = ProviderCustom
		}
	}
	return res
}

// Annotate returns a copy of req with every role's endpoint and key filled
// in, plus the resolution for each role. Values already present on the
// request win; the custom endpoint from creds comes next; the rule table
// decides the rest.
func (t Table) Annotate(req models.AnalysisRequest, creds credentials.CredentialSet) (models.AnalysisRequest, []Resolution) {
	out := req
	out.Analysts = append([]string(nil), req.Analysts...)

	roles := []struct {
		role    Role
		model   string
		baseURL *string
		apiKey  *string
	}{
		{RoleQuickThink, out.QuickThinkLLM, &out.QuickThinkBaseURL, &out.QuickThinkAPIKey},
		{RoleDeepThink, out.DeepThinkLLM, &out.DeepThinkBaseURL, &out.DeepThinkAPIKey},
		{RoleEmbedding, out.EmbeddingModel, &out.EmbeddingBaseURL, &out.EmbeddingAPIKey},
	}

	resolutions := make([]Resolution, 0, len(roles))
	for _, r := range roles {
		if strings.TrimSpace(r.model) == "" {
			continue
		}
		override := firstNonBlank(*r.baseURL, creds.CustomBaseURL)
		res := t.Resolve(r.role, r.model, override, creds)
		if strings.TrimSpace(*r.apiKey) != "" {
			res.APIKey = *r.apiKey
		}
		*r.baseURL = res.BaseURL
		*r.apiKey = res.APIKey
		resolutions = append(resolutions, res)
	}

	if strings.TrimSpace(out.OpenAIAPIKey) == "" {
		out.OpenAIAPIKey = creds.OpenAIAPIKey
	}
	if strings.TrimSpace(out.OpenAIBaseURL) == "" && strings.TrimSpace(creds.CustomBaseURL) != "" {
		out.OpenAIBaseURL = creds.CustomBaseURL
	}
	if strings.TrimSpace(out.AlphaVantageAPIKey) == "" {
		out.AlphaVantageAPIKey = creds.AlphaVantageAPIKey
	}
	return out, resolutions
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
