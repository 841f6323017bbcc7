package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for OpenAI's language models, or any server
// speaking the same API when a base URL is given.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL, model name, and system
// prompt. An empty baseURL uses the OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Chat is a wrapper around the OpenAI streaming chat completion API.
func (o OpenAI) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
		if o.systemPrompt != "" {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: o.systemPrompt,
			})
		}
		for _, msg := range chatMessages(messages) {
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}

		req := goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   true,
		}

		o.logger.Debug("Request", slog.String("model", o.model), slog.Int("messages", len(msgs)))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if !yield(response.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
