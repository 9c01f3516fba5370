package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatConfig describes an OpenAI-compatible chat completions endpoint.
type ChatConfig struct {
	Name       string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// ChatRequest is one system+user prompt exchange.
type ChatRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature *float64
}

// Completer returns the raw text of a chat completion.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Available() error
}

// ChatClient speaks the chat completions protocol, rotating keys from a
// CredentialPool on every request.
type ChatClient struct {
	cfg   ChatConfig
	creds *CredentialPool

	mu      sync.Mutex
	clients map[string]openai.Client
}

// NewChatClient wires a chat client to its credential pool.
func NewChatClient(cfg ChatConfig, creds *CredentialPool) *ChatClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Name == "" {
		cfg.Name = creds.Name()
	}
	return &ChatClient{cfg: cfg, creds: creds, clients: make(map[string]openai.Client)}
}

// Available reports ErrNoCredentials when the pool is empty.
func (c *ChatClient) Available() error {
	if c.creds.Size() == 0 {
		return fmt.Errorf("%s: %w", c.cfg.Name, ErrNoCredentials)
	}
	return nil
}

// Complete sends one chat completion with the next key in rotation.
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	key, err := c.creds.Next()
	if err != nil {
		return "", err
	}
	client := c.clientFor(key)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.cfg.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: no choices in response", c.cfg.Name, ErrParse)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *ChatClient) clientFor(key string) openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(c.cfg.HTTPClient),
		// retries belong to the Executor
		option.WithMaxRetries(0),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	c.clients[key] = client
	return client
}

// Temp returns a pointer for ChatRequest.Temperature.
func Temp(t float64) *float64 {
	return &t
}

var _ Completer = (*ChatClient)(nil)
