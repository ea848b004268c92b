package model

const (
	ChatTypeLLM = "llm"
	ChatTypeVLM = "vlm"
)

// LLMConfig is the per-call model configuration a caller may supply.
// Any non-empty field takes priority over the process settings.
type LLMConfig struct {
	ChatModel      string `json:"chat_model,omitempty"`
	ChatType       string `json:"chat_type,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
}
