package ai

// ModelConfig is one entry of the static model catalog: a logical name
// plus the vendor endpoint and display metadata behind it.
type ModelConfig struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	UpstreamModel string `json:"model"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description"`
}

// Catalog returns the models this deployment can serve.
func Catalog() []ModelConfig {
	return []ModelConfig{
		{
			Name:          "gpt-5",
			Provider:      "openai",
			UpstreamModel: "gpt-5-nano",
			DisplayName:   "GPT-5-mini",
			Description:   "OpenAI's most advanced multimodal model",
		},
		{
			Name:          "claude-sonnet",
			Provider:      "anthropic",
			UpstreamModel: "claude-sonnet-4-20250514",
			DisplayName:   "Claude Sonnet 4",
			Description:   "Anthropic's smart, efficient model for everyday use",
		},
		{
			Name:          "deepseek-chat",
			Provider:      "groq",
			UpstreamModel: "deepseek-r1-distill-llama-70b",
			DisplayName:   "DeepSeek Chat",
			Description:   "DeepSeek's conversational AI model",
		},
		{
			Name:          "llama-4",
			Provider:      "groq",
			UpstreamModel: "meta-llama/llama-4-maverick-17b-128e-instruct",
			DisplayName:   "Llama 4 17B",
			Description:   "Meta's open-source large language model",
		},
	}
}

// ClientConfig carries the credentials needed to build providers.
type ClientConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GroqAPIKey      string
	GroqBaseURL     string
}

// BuildRegistry registers a provider for every catalog entry whose
// vendor credentials are configured. Entries without credentials are
// skipped; dispatching to them fails with ErrModelNotFound.
func BuildRegistry(cc ClientConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, mc := range Catalog() {
		var (
			p   Provider
			err error
		)
		switch mc.Provider {
		case "openai":
			if cc.OpenAIAPIKey == "" {
				continue
			}
			p, err = NewOpenAIProvider(mc.Provider, cc.OpenAIAPIKey, cc.OpenAIBaseURL, mc.UpstreamModel, 1.0, 4096)
		case "anthropic":
			if cc.AnthropicAPIKey == "" {
				continue
			}
			p, err = NewAnthropicProvider(cc.AnthropicAPIKey, mc.UpstreamModel, 0.7, 4096)
		case "groq":
			if cc.GroqAPIKey == "" {
				continue
			}
			p, err = NewOpenAIProvider(mc.Provider, cc.GroqAPIKey, cc.GroqBaseURL, mc.UpstreamModel, 0.7, 4096)
		}
		if err != nil {
			return nil, err
		}
		if p != nil {
			reg.Register(mc.Name, p)
		}
	}
	return reg, nil
}
