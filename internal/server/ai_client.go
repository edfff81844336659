package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"bichat/backend/internal/config"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model       string
	Messages    []ChatTurn
	Temperature float32
	MaxTokens   int
}

type AIClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// errEmptyCompletion marks a provider call that succeeded but produced no
// text. The Telegram bridge substitutes a fallback line for this case; every
// other caller treats it like any other failure.
var errEmptyCompletion = errors.New("completion reply is empty")

type OpenAIChatClient struct {
	apiKey       string
	defaultModel string
	client       *openai.Client
}

func NewOpenAIChatClient(cfg config.Config) *OpenAIChatClient {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	clientCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}
	return &OpenAIChatClient{
		apiKey:       apiKey,
		defaultModel: strings.TrimSpace(cfg.OpenAIChatModel),
		client:       openai.NewClientWithConfig(clientCfg),
	}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("OPENAI_API_KEY is not configured")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", errors.New("OPENAI_CHAT_MODEL is not configured")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, turn := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != roleUser && role != roleAssistant && role != roleSystem {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: content,
		})
	}
	if len(messages) == 0 {
		return "", errors.New("completion request has no messages")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errEmptyCompletion
	}
	return reply, nil
}

// MockAIClient records every request it sees. With no canned Reply it echoes
// the last message, which keeps local runs usable without an API key.
type MockAIClient struct {
	Reply    string
	Err      error
	Requests []CompletionRequest
}

func (m *MockAIClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return "", m.Err
	}
	if strings.TrimSpace(m.Reply) != "" {
		return m.Reply, nil
	}
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return "Mock reply: " + last, nil
}
