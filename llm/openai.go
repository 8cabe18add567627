package llm

// NewOpenAI creates a provider for the OpenAI API. Without a model it
// defaults to text-embedding-3-small (1536 dimensions), the model the
// default deployment stores node vectors with.
func NewOpenAI(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &openAICompatProvider{base: newOpenAICompatClient(cfg)}
}
