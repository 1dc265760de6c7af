package domain

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OracleRequest is one non-streaming chat exchange asking for a single JSON object back.
type OracleRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type OracleReply struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}
