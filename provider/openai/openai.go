package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
)

const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// client talks to any OpenAI-compatible /chat/completions endpoint with tool
// calling.
type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// chatMessage is the wire shape of a conversation entry.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type toolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolCallFunction `json:"function"`
}

// request represents a request to the chat completions API
type request struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []tool        `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// response represents a response from the chat completions API
type response struct {
	Choices []struct {
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient creates a planner client. An empty baseURL means OpenAI.
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration, logger *log.Logger) *client {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Plan sends the conversation and returns the assistant's reply. Every
// failure is a *failure.ModelError; HTTP 429 is flagged as quota exhaustion.
func (c *client) Plan(ctx context.Context, conversation []models.Message, tools []models.ToolSpec) (models.Message, error) {
	body := request{
		Model:       c.model,
		Messages:    toWire(conversation),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, t := range tools {
		body.Tools = append(body.Tools, tool{
			Type:     "function",
			Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return models.Message{}, &failure.ModelError{Cause: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return models.Message{}, &failure.ModelError{Cause: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Printf("model=%s messages=%d tools=%d", c.model, len(conversation), len(tools))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Message{}, &failure.ModelError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.Message{}, &failure.ModelError{Status: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return models.Message{}, &failure.ModelError{Status: resp.StatusCode, Quota: true, Cause: errors.New(snippet(raw))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Message{}, &failure.ModelError{Status: resp.StatusCode, Cause: errors.New(snippet(raw))}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.Message{}, &failure.ModelError{Status: resp.StatusCode, Cause: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return models.Message{}, &failure.ModelError{Status: resp.StatusCode, Cause: errors.New("no choices in response")}
	}
	return fromWire(parsed.Choices[0].Message), nil
}

func toWire(conversation []models.Message) []chatMessage {
	out := make([]chatMessage, 0, len(conversation))
	for _, m := range conversation {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args := string(tc.Arguments)
			if args == "" {
				args = "{}"
			}
			cm.ToolCalls = append(cm.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: toolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromWire(cm chatMessage) models.Message {
	msg := models.Message{Role: models.RoleAssistant, Content: cm.Content}
	for _, tc := range cm.ToolCalls {
		var args json.RawMessage
		if s := strings.TrimSpace(tc.Function.Arguments); s != "" {
			args = json.RawMessage(s)
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return msg
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		return "empty body"
	}
	return s
}
