package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model that provides chat functionality. It accepts a context and the
// conversation so far, returning an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// ThreadStore keeps the conversation of each thread of a Graph.
type ThreadStore interface {
	AddThread(ctx context.Context, threadID string) error
	Messages(ctx context.Context, threadID string) ([]models.Message, error)
	AddMessage(ctx context.Context, threadID string, message models.Message) error
}

// Graph is a single-node graph run in-process: the generation node answers with an LLM, and its output
// is streamed as the same events a LangGraph server emits for that node. Each thread remembers its
// conversation in a ThreadStore, so follow-up questions see the earlier turns.
type Graph struct {
	llm        LLM
	store      ThreadStore
	classifier events.Classifier

	logger *slog.Logger
}

// NewGraph creates a Graph answering with llm. Emitted units follow classifier's naming convention.
func NewGraph(llm LLM, store ThreadStore, classifier events.Classifier, logger *slog.Logger) Graph {
	return Graph{
		llm:        llm,
		store:      store,
		classifier: classifier,
		logger:     logger.With(slog.String("module", "graph")),
	}
}

// CreateThread registers a new, empty thread.
func (g Graph) CreateThread(ctx context.Context) (string, error) {
	threadID := uuid.New().String()
	if err := g.store.AddThread(ctx, threadID); err != nil {
		return "", fmt.Errorf("failed to add thread: %w", err)
	}
	return threadID, nil
}

// Stream runs the graph on threadID. Every LLM chunk is yielded as a token of the generation node, and
// the complete answer as the node's final output. The exchange is recorded in the thread only when the
// run finishes.
func (g Graph) Stream(ctx context.Context, threadID, input string) iter.Seq2[events.Unit, error] {
	return func(yield func(events.Unit, error) bool) {
		history, err := g.store.Messages(ctx, threadID)
		if err != nil {
			yield(events.Unit{}, fmt.Errorf("failed to get messages: %w", err))
			return
		}

		um := models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleUser,
			Content:   input,
			Timestamp: time.Now(),
		}
		history = append(history, um)

		var answer strings.Builder
		for chunk, err := range g.llm.Chat(ctx, history) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(events.Unit{}, err)
				return
			}
			if chunk == "" {
				continue
			}
			answer.WriteString(chunk)
			if !yield(g.classifier.DeltaUnit(chunk), nil) {
				return
			}
		}

		am := models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   answer.String(),
			Timestamp: time.Now(),
		}
		for _, msg := range []models.Message{um, am} {
			if err := g.store.AddMessage(ctx, threadID, msg); err != nil {
				g.logger.Error("Failed to add message",
					slog.String("threadID", threadID),
					slog.String("err", err.Error()))
				yield(events.Unit{}, fmt.Errorf("failed to add message: %w", err))
				return
			}
		}

		yield(g.classifier.FinalUnit(am.Content), nil)
	}
}
