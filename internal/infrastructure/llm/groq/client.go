package groq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint (Groq by default) in JSON mode.
type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

func New(cfg Config, executor *resilience.Executor, limiter *rate.Limiter) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
		limiter:    limiter,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req domain.OracleRequest) (domain.OracleReply, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.OracleReply{}, domain.WrapError(domain.ErrOracleUnavailable, "groq chat", errors.New("GROQ_API_KEY not set"))
	}

	payload := completionRequest{
		Model:          c.cfg.Model,
		Messages:       make([]message, 0, len(req.Messages)),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, message{Role: msg.Role, Content: msg.Content})
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.OracleReply{}, err
		}
	}

	var response completionResponse
	call := func(callCtx context.Context) error {
		response = completionResponse{}
		header := http.Header{"Authorization": []string{"Bearer " + c.cfg.APIKey}}
		return resilience.PostJSON(callCtx, c.httpClient, "groq", "chat", c.cfg.BaseURL+"/chat/completions", header, payload, &response)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "groq.chat", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.OracleReply{}, resilience.WrapTemporary("groq chat", err)
	}
	if len(response.Choices) == 0 {
		return domain.OracleReply{}, fmt.Errorf("groq chat: empty choices")
	}

	model := response.Model
	if model == "" {
		model = c.cfg.Model
	}
	return domain.OracleReply{Content: strings.TrimSpace(response.Choices[0].Message.Content), Model: model}, nil
}
