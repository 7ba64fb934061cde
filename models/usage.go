package models

// TokenUsage records the token counts of a single LLM call. Usages are
// append-only facts: created once per call and never mutated afterwards.
type TokenUsage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// LlmInfo identifies the model behind an LLM call, for audit trails and
// evaluation runs.
type LlmInfo struct {
	Model         string `json:"model"`
	Provider      string `json:"provider,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
}
