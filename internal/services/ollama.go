package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. The response is
// streamed incrementally, allowing for real-time processing of model outputs.
func (o Ollama) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, 0, len(messages)+1)
		for _, msg := range chatMessages(messages) {
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    "system",
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("%w: %w", ErrConnection, err))
		}
	}
}

// chatMessages keeps the user and assistant turns of a conversation; the other roles are transcript
// notices, not part of what the model should see.
func chatMessages(messages []models.Message) []models.Message {
	return slices.DeleteFunc(slices.Clone(messages), func(m models.Message) bool {
		return m.Role != models.RoleUser && m.Role != models.RoleAssistant
	})
}
