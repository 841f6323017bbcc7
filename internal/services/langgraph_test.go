package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/events"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/services"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func sseFrame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func TestLangGraphCreateThread(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{
			name:   "Created",
			status: http.StatusOK,
			body:   `{"thread_id": "abc", "metadata": {}}`,
			want:   "abc",
		},
		{
			name:    "Server error",
			status:  http.StatusInternalServerError,
			body:    `boom`,
			wantErr: true,
		},
		{
			name:    "Missing id",
			status:  http.StatusOK,
			body:    `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/threads" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("X-Api-Key"); got != "key" {
					t.Errorf("X-Api-Key = %q, want %q", got, "key")
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			lg := services.NewLangGraph(srv.URL, "graph", "question", "key", 0, discardLogger)
			got, err := lg.CreateThread(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateThread() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CreateThread() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLangGraphCreateThreadStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	lg := services.NewLangGraph(srv.URL, "graph", "question", "", 0, discardLogger)
	_, err := lg.CreateThread(context.Background())

	var se *services.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("CreateThread() error = %v, want StatusError", err)
	}
	if se.Code != http.StatusUnauthorized || se.Body != "nope" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestLangGraphConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	lg := services.NewLangGraph(url, "graph", "question", "", 0, discardLogger)
	_, err := lg.CreateThread(context.Background())
	if !errors.Is(err, services.ErrConnection) {
		t.Errorf("CreateThread() error = %v, want ErrConnection", err)
	}
}

func TestLangGraphStream(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/t1/runs/stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseFrame("metadata", `{"run_id": "r1"}`))
		_, _ = io.WriteString(w, ": heartbeat\n\n")
		_, _ = io.WriteString(w, sseFrame("events", `{"event": "on_chat_model_stream", "data": {"chunk": {"content": "Hi"}}, "metadata": {"langgraph_node": "generate_node"}}`))
		_, _ = io.WriteString(w, sseFrame("events", `{"event": "on_chat_model_stream", "data": {"chunk": {"content": "!"}}, "metadata": {"langgraph_node": "generate_node"}}`))
		_, _ = io.WriteString(w, sseFrame("end", `null`))
		_, _ = io.WriteString(w, sseFrame("events", `{"event": "on_chat_model_stream", "data": {"chunk": {"content": "late"}}}`))
	}))
	defer srv.Close()

	lg := services.NewLangGraph(srv.URL+"/", "graph", "question", "", 0, discardLogger)

	var c events.Classifier
	var text strings.Builder
	var units []string
	for u, err := range lg.Stream(context.Background(), "t1", "Hello") {
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		units = append(units, u.Event)
		if ev := c.Classify(u); ev.Kind == events.KindDelta {
			text.WriteString(ev.Text)
		}
	}

	if want := []string{"metadata", "events", "events"}; strings.Join(units, ",") != strings.Join(want, ",") {
		t.Errorf("units = %v, want %v", units, want)
	}
	if text.String() != "Hi!" {
		t.Errorf("text = %q, want %q", text.String(), "Hi!")
	}

	if gotBody["assistant_id"] != "graph" {
		t.Errorf("assistant_id = %v", gotBody["assistant_id"])
	}
	input, _ := gotBody["input"].(map[string]any)
	if input["question"] != "Hello" {
		t.Errorf("input = %v", gotBody["input"])
	}
	modes, _ := gotBody["stream_mode"].([]any)
	if len(modes) != 1 || modes[0] != "events" {
		t.Errorf("stream_mode = %v", gotBody["stream_mode"])
	}
}

func TestLangGraphStreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
		before  int
	}{
		{
			name: "Error event",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, sseFrame("events", `{"event": "on_chain_start"}`))
				_, _ = io.WriteString(w, sseFrame("error", `{"error": "ValueError", "message": "bad input"}`))
			},
			wantErr: "langgraph error ValueError: bad input",
			before:  1,
		},
		{
			name: "Unstructured error event",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, sseFrame("error", `oops`))
			},
			wantErr: "langgraph error: oops",
		},
		{
			name: "Not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "thread not found", http.StatusNotFound)
			},
			wantErr: "unexpected status 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			lg := services.NewLangGraph(srv.URL, "graph", "question", "", 0, discardLogger)

			units := 0
			var gotErr error
			for _, err := range lg.Stream(context.Background(), "t1", "Hello") {
				if err != nil {
					gotErr = err
					continue
				}
				units++
			}
			if gotErr == nil || !strings.Contains(gotErr.Error(), tt.wantErr) {
				t.Errorf("Stream() error = %v, want %q", gotErr, tt.wantErr)
			}
			if units != tt.before {
				t.Errorf("units before error = %d, want %d", units, tt.before)
			}
		})
	}
}
