package services_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/services"
)

func TestAnthropicChat(t *testing.T) {
	var gotReq struct {
		System   string `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, sseFrame("message_start", `{"type": "message_start"}`))
		_, _ = io.WriteString(w, sseFrame("content_block_delta", `{"type": "content_block_delta", "delta": {"text": "Hel"}}`))
		_, _ = io.WriteString(w, sseFrame("ping", `{"type": "ping"}`))
		_, _ = io.WriteString(w, sseFrame("content_block_delta", `{"type": "content_block_delta", "delta": {"text": "lo"}}`))
		_, _ = io.WriteString(w, sseFrame("message_stop", `{"type": "message_stop"}`))
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude", "be brief", 256)

	var sb strings.Builder
	for chunk, err := range a.Chat(context.Background(), []models.Message{
		{Role: models.RoleInfo, Content: "ready"},
		{Role: models.RoleUser, Content: "Hi"},
	}) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		sb.WriteString(chunk)
	}

	if sb.String() != "Hello" {
		t.Errorf("Chat() = %q, want %q", sb.String(), "Hello")
	}
	if gotReq.System != "be brief" {
		t.Errorf("system = %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestAnthropicChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, sseFrame("error", `{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	}))
	defer srv.Close()

	a := services.NewAnthropic("key", srv.URL, "claude", "", 256)

	var gotErr error
	for _, err := range a.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "Hi"}}) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || gotErr.Error() != "anthropic error overloaded_error: Overloaded" {
		t.Errorf("Chat() error = %v", gotErr)
	}
}
