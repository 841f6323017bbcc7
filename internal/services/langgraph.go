package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/tmaxmax/go-sse"
)

// LangGraph is a client of a LangGraph server. It creates threads and streams runs of one assistant
// (graph) in "events" stream mode, yielding every server-sent event of the run as a Unit.
type LangGraph struct {
	baseURL     string
	assistantID string
	inputKey    string
	apiKey      string

	readCfg *sse.ReadConfig
	client  *http.Client

	logger *slog.Logger
}

type langGraphThread struct {
	ThreadID string `json:"thread_id"`
}

type langGraphRunRequest struct {
	AssistantID string         `json:"assistant_id"`
	Input       map[string]any `json:"input"`
	StreamMode  []string       `json:"stream_mode"`
}

// DefaultMaxEventSize bounds a single server-sent event of a run. In "events" stream mode every node's
// chain end carries that node's whole state, retrieved documents included.
const DefaultMaxEventSize = 8 << 20

type langGraphError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewLangGraph creates a client of the LangGraph server at baseURL. Runs are started on assistantID
// with the user's text placed under inputKey of the graph input. apiKey is sent as X-Api-Key when set.
// maxEventSize caps the size of one event in bytes; zero uses DefaultMaxEventSize.
func NewLangGraph(baseURL, assistantID, inputKey, apiKey string, maxEventSize int, logger *slog.Logger) LangGraph {
	if maxEventSize <= 0 {
		maxEventSize = DefaultMaxEventSize
	}
	return LangGraph{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		assistantID: assistantID,
		inputKey:    inputKey,
		apiKey:      apiKey,
		readCfg:     &sse.ReadConfig{MaxEventSize: maxEventSize},
		client:      &http.Client{},
		logger:      logger.With(slog.String("module", "langgraph")),
	}
}

// CreateThread creates a new thread on the server and returns its ID.
func (l LangGraph) CreateThread(ctx context.Context) (string, error) {
	resp, err := l.doRequest(ctx, "/threads", map[string]any{})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var thread langGraphThread
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		return "", fmt.Errorf("error decoding thread: %w", err)
	}
	if thread.ThreadID == "" {
		return "", errors.New("server returned a thread without id")
	}

	return thread.ThreadID, nil
}

// Stream starts a run on threadID with input and yields its events until the server ends the stream.
// An "error" event from the server ends the stream with an error. Cancelling ctx closes the connection.
func (l LangGraph) Stream(ctx context.Context, threadID, input string) iter.Seq2[events.Unit, error] {
	return func(yield func(events.Unit, error) bool) {
		reqBody := langGraphRunRequest{
			AssistantID: l.assistantID,
			Input:       map[string]any{l.inputKey: input},
			StreamMode:  []string{"events"},
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := l.doRequest(ctx, "/threads/"+url.PathEscape(threadID)+"/runs/stream", reqBody)
		if err != nil {
			yield(events.Unit{}, err)
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, l.readCfg) {
			if err != nil {
				yield(events.Unit{}, fmt.Errorf("error reading stream: %w", err))
				return
			}

			switch ev.Type {
			case "error":
				var e langGraphError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil || (e.Error == "" && e.Message == "") {
					yield(events.Unit{}, fmt.Errorf("langgraph error: %s", ev.Data))
					return
				}
				yield(events.Unit{}, fmt.Errorf("langgraph error %s: %s", e.Error, e.Message))
				return
			case "end":
				return
			}

			if !yield(events.Unit{Event: ev.Type, Data: []byte(ev.Data)}, nil) {
				return
			}
		}
	}
}

func (l LangGraph) doRequest(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	l.logger.Debug("Request", slog.String("path", path), slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("X-Api-Key", l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	return resp, nil
}
