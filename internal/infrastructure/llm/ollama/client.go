package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/resilience"
)

// Client is a classification oracle backed by the Ollama /api/chat endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

// New builds the client. A nil executor runs each call once; a nil limiter means no rate limit.
func New(baseURL, model string, timeout time.Duration, executor *resilience.Executor, limiter *rate.Limiter) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		limiter:    limiter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
}

func (c *Client) Complete(ctx context.Context, req domain.OracleRequest) (domain.OracleReply, error) {
	if c.model == "" {
		return domain.OracleReply{}, domain.WrapError(domain.ErrOracleUnavailable, "ollama chat", errors.New("model not configured"))
	}

	payload := chatRequest{
		Model:    c.model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   false,
		Format:   "json",
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		payload.Options["num_predict"] = req.MaxTokens
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.OracleReply{}, err
		}
	}

	var response chatResponse
	call := func(callCtx context.Context) error {
		return resilience.PostJSON(callCtx, c.httpClient, "ollama", "chat", c.baseURL+"/api/chat", nil, payload, &response)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.chat", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.OracleReply{}, resilience.WrapTemporary("ollama chat", err)
	}

	model := response.Model
	if model == "" {
		model = c.model
	}
	return domain.OracleReply{Content: strings.TrimSpace(response.Message.Content), Model: model}, nil
}
