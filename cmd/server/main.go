// langgraph-chat - Web chat UI streaming answers from a LangGraph agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	langgraphchat "github.com/RutamBhagat/langgraph-sdk-streaming-example"
	"github.com/RutamBhagat/langgraph-sdk-streaming-example/internal/handlers"
)

const appDirName = "langgraph-chat"

var (
	configFlag string
	portFlag   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "langgraph-chat",
	Short: "Web chat UI for a LangGraph agent",
	Long: `langgraph-chat - Web chat UI streaming answers from a LangGraph agent.

Serves a chat page whose assistant answers arrive token by token from a
LangGraph server, or from an in-process graph backed by Ollama, OpenAI or
Anthropic.

Environment:
  LANGGRAPH_API_KEY   API key sent to the LangGraph server
  OLLAMA_HOST         Ollama host when source.host is empty
  OPENAI_API_KEY      OpenAI key when source.apiKey is empty
  ANTHROPIC_API_KEY   Anthropic key when source.apiKey is empty`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "",
		"Path to the config file (default: $UserConfigDir/langgraph-chat/config.yaml)")
	rootCmd.Flags().StringVarP(&portFlag, "port", "p", "", "Port to listen on (overrides config)")
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	appDir := filepath.Join(cfgDir, appDirName)
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = filepath.Join(appDir, "config.yaml")
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Port = portFlag
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	classifier := cfg.Graph.classifier()
	finalPolicy, err := cfg.Graph.finalPolicy()
	if err != nil {
		return err
	}

	source, closeSource, err := cfg.Source.source(filepath.Join(appDir, "store.db"), classifier, logger)
	if err != nil {
		return fmt.Errorf("error creating source: %w", err)
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Error("Failed to close source", slog.String("err", err.Error()))
		}
	}()

	m, err := handlers.NewMain(source, classifier, handlers.Options{
		FinalPolicy: finalPolicy,
		SessionTTL:  cfg.SessionTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	staticFS, err := fs.Sub(langgraphchat.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/threads", m.HandleThreads)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown", slog.String("reason", ctx.Err().Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
		if err := srv.Close(); err != nil {
			return fmt.Errorf("forcing server close: %w", err)
		}
	}
	return nil
}
