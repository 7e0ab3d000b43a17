package llamaserver

// Health is the GET /health payload. The server answers 503 with
// status "loading model" until the weights are mapped.
type Health struct {
	Status string `json:"status"`
}

// Props is a trimmed GET /props payload.
type Props struct {
	ModelPath    string `json:"model_path"`
	TotalSlots   int    `json:"total_slots"`
	ChatTemplate string `json:"chat_template"`
	BuildInfo    string `json:"build_info"`
}

// Message is one turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /v1/chat/completions payload.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// ChatChoice is one generated answer.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the POST /v1/chat/completions reply.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// CompletionRequest is the native POST /completion payload.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

// Timings carry the server-side speed measurements of one request.
type Timings struct {
	PromptPerSecond    float64 `json:"prompt_per_second"`
	PredictedPerSecond float64 `json:"predicted_per_second"`
	PromptMS           float64 `json:"prompt_ms"`
	PredictedMS        float64 `json:"predicted_ms"`
}

// CompletionResponse is the native POST /completion reply.
type CompletionResponse struct {
	Content         string  `json:"content"`
	Stop            bool    `json:"stop"`
	Model           string  `json:"model"`
	TokensPredicted int     `json:"tokens_predicted"`
	TokensEvaluated int     `json:"tokens_evaluated"`
	Timings         Timings `json:"timings"`
}
