package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/models"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/services"
)

func TestOllamaChat(t *testing.T) {
	var gotRoles []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, m := range req.Messages {
			gotRoles = append(gotRoles, m.Role)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, chunk := range []string{"Hi", " there"} {
			fmt.Fprintf(w, "{\"model\":\"m\",\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":false}\n", chunk)
		}
		fmt.Fprint(w, "{\"model\":\"m\",\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
	}))
	defer srv.Close()

	llm, err := services.NewOllama(srv.URL, "m", "Be brief.")
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleError, Content: "boom"},
	}

	var sb strings.Builder
	for chunk, err := range llm.Chat(context.Background(), msgs) {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		sb.WriteString(chunk)
	}

	if sb.String() != "Hi there" {
		t.Errorf("Chat() = %q, want %q", sb.String(), "Hi there")
	}
	if strings.Join(gotRoles, ",") != "system,user" {
		t.Errorf("request roles = %v, want [system user]", gotRoles)
	}
}

func TestOllamaChatConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	llm, err := services.NewOllama(srv.URL, "m", "")
	if err != nil {
		t.Fatalf("NewOllama() error = %v", err)
	}

	var gotErr error
	for _, err := range llm.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "Hello"}}) {
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, services.ErrConnection) {
		t.Errorf("Chat() error = %v, want ErrConnection", gotErr)
	}
}
