package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string
	maxTokens    int

	client *http.Client
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, system prompt
// and maximum token limit. An empty endpoint uses the public Anthropic API.
func NewAnthropic(apiKey, endpoint, model, systemPrompt string, maxTokens int) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       &http.Client{},
	}
}

// Chat streams responses from the Anthropic API for a given sequence of messages. It returns an
// iterator that yields response chunks and potential errors. The context can be used to cancel ongoing
// requests.
func (a Anthropic) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ms := chatMessages(messages)
		msgs := make([]anthropicMessage, len(ms))
		for i, msg := range ms {
			msgs[i] = anthropicMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			}
		}

		reqBody := anthropicChatRequest{
			Model:     a.model,
			Messages:  msgs,
			Stream:    true,
			System:    a.systemPrompt,
			MaxTokens: a.maxTokens,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("%w: %w", ErrConnection, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				continue
			}
		}
	}
}
